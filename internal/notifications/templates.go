package notifications

import (
	"bytes"
	"fmt"
	"html/template"
	"net/url"
	"strings"
	"time"
)

const productName = "Dairy Farm Management"

var (
	welcomeHTML = template.Must(template.New("welcome").Parse(`<div style="font-family: Arial, sans-serif; max-width: 600px; margin: 0 auto;">
  <h2>Welcome to {{.Product}}!</h2>
  <p>Hello {{.Name}},</p>
  <p>Your account has been created successfully.</p>
  <p>You can now log in to the {{.Product}} system and start managing your dairy operations.</p>
  <p>Best regards,<br>{{.Product}} Team</p>
</div>`))

	resetHTML = template.Must(template.New("reset").Parse(`<div style="font-family: Arial, sans-serif; max-width: 600px; margin: 0 auto;">
  <h2>Password Reset Request</h2>
  <p>You requested a password reset for your {{.Product}} account.</p>
  <p>Click the button below to reset your password:</p>
  <a href="{{.ResetURL}}" style="background-color: #007bff; color: white; padding: 10px 20px; text-decoration: none; border-radius: 5px; display: inline-block;">Reset Password</a>
  <p>This link will expire in {{.ExpiresIn}}.</p>
  <p>If you didn't request this, please ignore this email.</p>
</div>`))
)

// Templates renders the account emails. FrontendURL is the base of the
// web client that hosts the /reset-password page.
type Templates struct {
	FrontendURL string
	ResetTTL    time.Duration
}

func (t Templates) Welcome(to, name string) (Message, error) {
	var html bytes.Buffer
	err := welcomeHTML.Execute(&html, struct{ Product, Name string }{productName, name})
	if err != nil {
		return Message{}, fmt.Errorf("render welcome: %w", err)
	}

	text := fmt.Sprintf(`Welcome %s!

Your account has been created successfully.
You can now log in to the %s system.

Best regards,
%s Team
`, name, productName, productName)

	return Message{
		Kind:    KindWelcome,
		To:      to,
		Subject: "Welcome to " + productName,
		Text:    text,
		HTML:    html.String(),
	}, nil
}

func (t Templates) PasswordReset(to, token string) (Message, error) {
	resetURL := t.ResetURL(token)
	expiresIn := humanizeTTL(t.ResetTTL)

	var html bytes.Buffer
	err := resetHTML.Execute(&html, struct{ Product, ResetURL, ExpiresIn string }{productName, resetURL, expiresIn})
	if err != nil {
		return Message{}, fmt.Errorf("render password reset: %w", err)
	}

	text := fmt.Sprintf(`You requested a password reset for your %s account.

Click the following link to reset your password:
%s

This link will expire in %s.

If you didn't request this, please ignore this email.
`, productName, resetURL, expiresIn)

	return Message{
		Kind:    KindPasswordReset,
		To:      to,
		Subject: "Password Reset Request",
		Text:    text,
		HTML:    html.String(),
	}, nil
}

func (t Templates) ResetURL(token string) string {
	base := strings.TrimRight(t.FrontendURL, "/")
	if base == "" {
		base = "http://localhost:5173"
	}
	return base + "/reset-password?" + url.Values{"token": {token}}.Encode()
}

func humanizeTTL(d time.Duration) string {
	if d <= 0 {
		d = time.Hour
	}

	plural := func(n int, unit string) string {
		if n == 1 {
			return "1 " + unit
		}
		return fmt.Sprintf("%d %ss", n, unit)
	}

	switch {
	case d%(24*time.Hour) == 0:
		return plural(int(d/(24*time.Hour)), "day")
	case d%time.Hour == 0:
		return plural(int(d/time.Hour), "hour")
	default:
		return plural(int(d.Round(time.Minute)/time.Minute), "minute")
	}
}

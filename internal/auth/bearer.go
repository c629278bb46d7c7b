package auth

import (
	"errors"
	"strings"
)

var ErrMissingToken = errors.New("no token provided")

const bearerPrefix = "Bearer "

// ExtractBearer returns the token from an Authorization header of the exact
// form "Bearer <token>".
func ExtractBearer(header string) (string, error) {
	if !strings.HasPrefix(header, bearerPrefix) {
		return "", ErrMissingToken
	}

	raw := header[len(bearerPrefix):]
	if raw == "" || strings.ContainsAny(raw, " \t\r\n") {
		return "", ErrMissingToken
	}

	return raw, nil
}

package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestKindStatusTable(t *testing.T) {
	tests := []struct {
		kind Kind
		want int
	}{
		{KindValidation, http.StatusBadRequest},
		{KindDuplicateEmail, http.StatusBadRequest},
		{KindInvalidCredentials, http.StatusUnauthorized},
		{KindInvalidToken, http.StatusBadRequest},
		{KindUnauthenticated, http.StatusUnauthorized},
		{KindForbidden, http.StatusForbidden},
		{KindNotFound, http.StatusNotFound},
		{KindNotificationFailure, http.StatusInternalServerError},
		{KindRateLimited, http.StatusTooManyRequests},
		{KindInternal, http.StatusInternalServerError},
		{Kind(99), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		if got := tt.kind.Status(); got != tt.want {
			t.Fatalf("kind %d status = %d, want %d", tt.kind, got, tt.want)
		}
	}
}

func TestFrom_UnwrapsWrappedErrors(t *testing.T) {
	base := New(KindDuplicateEmail, "")
	wrapped := fmt.Errorf("register: %w", base)

	if got := KindOf(wrapped); got != KindDuplicateEmail {
		t.Fatalf("KindOf(wrapped) = %v, want KindDuplicateEmail", got)
	}
	if got := KindOf(errors.New("boom")); got != KindInternal {
		t.Fatalf("KindOf(plain) = %v, want KindInternal", got)
	}
}

func TestPublicMessage_HidesInternalDetails(t *testing.T) {
	e := Wrap(KindInternal, "pq: connection refused at 10.0.0.3", errors.New("dial"))

	if e.PublicMessage() != "Something went wrong" {
		t.Fatalf("internal message leaked: %q", e.PublicMessage())
	}

	v := New(KindInvalidCredentials, "")
	if v.PublicMessage() != "Invalid email or password" {
		t.Fatalf("unexpected default message: %q", v.PublicMessage())
	}
}

package passwordreset

import "errors"

// ErrTokenUnknown is returned when a reset token id was never recorded,
// has expired, was issued for another user or has already been consumed.
var ErrTokenUnknown = errors.New("reset token unknown or already used")

const KeyPrefix = "password_reset:"

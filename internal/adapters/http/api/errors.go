package api

import (
	"errors"
	"fmt"
)

// Sentinel kinds for API errors.
var (
	ErrBadRequest = errors.New("bad request")
)

// WrapKind tags err with a sentinel kind so statusFor can classify it.
func WrapKind(kind, err error) error {
	return fmt.Errorf("%w: %w", kind, err)
}

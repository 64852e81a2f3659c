package media

import "errors"

// Sentinel kinds for media errors.
var (
	ErrUnsupportedFormat = errors.New("unsupported audio format")
	ErrMalformed         = errors.New("malformed audio payload")
	ErrDurationUnknown   = errors.New("audio duration unknown")
)

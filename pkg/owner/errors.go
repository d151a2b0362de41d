package owner

import "errors"

var (
	ErrNotFound    = errors.New("owner not found")
	ErrInvalidKind = errors.New("invalid owner kind")
)

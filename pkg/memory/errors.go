package memory

import "errors"

var (
	// ErrNoSnapshot is returned by Store.Load before the first save.
	ErrNoSnapshot = errors.New("no memory snapshot saved")

	ErrUnknownBackend = errors.New("unknown memory backend")
)

package campaign

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when no campaign with the requested name exists.
var ErrNotFound = errors.New("campaign not found")

// ErrStorageUnavailable wraps backing-store failures. Unlike the job store,
// registry and email-log writes surface these to the caller: silently losing
// campaign data is user-visible.
var ErrStorageUnavailable = errors.New("campaign storage unavailable")

func storageErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrStorageUnavailable, op, err)
}

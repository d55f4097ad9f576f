//go:build !cgo

package audioio

import (
	"errors"
	"fmt"
	"log/slog"
)

const malgoAvailable = false

var errNoCgo = errors.New("malgo backend requires cgo")

func newMalgoSource(cfg Config, logger *slog.Logger) (Source, error) {
	return nil, fmt.Errorf("%w: %w", ErrPermissionDenied, errNoCgo)
}

// ListDevices is unavailable without cgo.
func ListDevices() ([]string, error) {
	return nil, errNoCgo
}

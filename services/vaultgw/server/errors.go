package server

import (
	"errors"
	"fmt"
)

var (
	errInvalidSince   = errors.New("since must be RFC3339 or unix milliseconds")
	errBadPage        = errors.New("offset and limit must be positive integers")
	errOperatorAbsent = errors.New("operator key not configured")
)

func errField(field string, err error) error {
	return fmt.Errorf("%s: %w", field, err)
}

package store

import (
	"errors"
	"fmt"
)

// ErrInvalidZip is returned for a zip argument that is not exactly five ASCII digits.
var ErrInvalidZip = errors.New("invalid zip code")

// ValidateZip checks the zip code format before it reaches a query.
func ValidateZip(zip string) error {
	if len(zip) != 5 {
		return fmt.Errorf("%w: %q", ErrInvalidZip, zip)
	}
	for i := 0; i < len(zip); i++ {
		if zip[i] < '0' || zip[i] > '9' {
			return fmt.Errorf("%w: %q", ErrInvalidZip, zip)
		}
	}
	return nil
}

func validateZips(zips []string) error {
	for _, z := range zips {
		if err := ValidateZip(z); err != nil {
			return err
		}
	}
	return nil
}

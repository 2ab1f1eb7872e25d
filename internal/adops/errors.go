package adops

import (
	"errors"
	"fmt"

	"adops.io/internal/store"
)

var (
	ErrInvalidInput = errors.New("adops: invalid input")

	// ErrCardNameTaken is a duplicate within the caller's ownership scope.
	ErrCardNameTaken = fmt.Errorf("card name already exists: %w", store.ErrDuplicate)
)

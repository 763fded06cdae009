package merge

import (
	"errors"
	"fmt"

	"github.com/shineum/mailmerge-lite/internal/placeholder"
)

var (
	// ErrEmptyPlaceholderValue aborts a merge when any recipient is missing a
	// value. Match with errors.Is; use errors.As with *EmptyValueError for
	// the offending address and placeholder.
	ErrEmptyPlaceholderValue = errors.New("empty placeholder value")

	// ErrUnknownTagReference is returned when template markup references a
	// placeholder that is not in the template's catalog.
	ErrUnknownTagReference = errors.New("unknown placeholder reference")

	// ErrDuplicateRecipient is returned when two distinct recipients share an
	// address but not their values.
	ErrDuplicateRecipient = errors.New("conflicting recipients share an address")

	// ErrNotList is returned when a bullet style is chosen for a flat
	// placeholder.
	ErrNotList = errors.New("bullet style set on a flat placeholder")
)

// EmptyValueError identifies the first recipient and placeholder found
// without a value.
type EmptyValueError struct {
	Address     string
	Placeholder placeholder.Placeholder
	// Index is the position of the empty entry within a list placeholder.
	Index int
}

func (e *EmptyValueError) Error() string {
	if e.Placeholder.IsList() {
		return fmt.Sprintf("%s for %s: %s entry %d", ErrEmptyPlaceholderValue, e.Address, e.Placeholder, e.Index+1)
	}
	return fmt.Sprintf("%s for %s: %s", ErrEmptyPlaceholderValue, e.Address, e.Placeholder)
}

func (e *EmptyValueError) Is(target error) bool {
	return target == ErrEmptyPlaceholderValue
}

// UnknownTagError names the occurrence that could not be resolved.
type UnknownTagError struct {
	Tag string
}

func (e *UnknownTagError) Error() string {
	return fmt.Sprintf("%s: %s", ErrUnknownTagReference, e.Tag)
}

func (e *UnknownTagError) Is(target error) bool {
	return target == ErrUnknownTagReference
}

package models

import (
	"errors"
	"fmt"
)

// InvalidArgumentError indicates a caller-supplied parameter was malformed
// or unrecognized (unknown world name, missing required field, refreshing
// an unsaved item). Never retried, always surfaced.
type InvalidArgumentError struct {
	Msg string
}

func (e *InvalidArgumentError) Error() string {
	return e.Msg
}

// NewInvalidArgument builds an InvalidArgumentError with a formatted message
func NewInvalidArgument(format string, args ...any) *InvalidArgumentError {
	return &InvalidArgumentError{Msg: fmt.Sprintf(format, args...)}
}

// ItemNotFoundError indicates Universalis explicitly has no data for an id.
// Soft at the per-cell level during refreshes, hard at seed time.
type ItemNotFoundError struct {
	UniversalisID int
}

func (e *ItemNotFoundError) Error() string {
	return fmt.Sprintf("%d is not a valid item id for universalis", e.UniversalisID)
}

// MalformedResponseError indicates Universalis returned a body that could
// not be parsed as market data. Hard failure everywhere.
type MalformedResponseError struct {
	UniversalisID int
	Err           error
}

func (e *MalformedResponseError) Error() string {
	return fmt.Sprintf("parsing universalis response for item %d: %v", e.UniversalisID, e.Err)
}

func (e *MalformedResponseError) Unwrap() error {
	return e.Err
}

// DataIntegrityError indicates the database violated a uniqueness invariant
// (more than one item for a name). Fatal; signals corruption, not flow.
type DataIntegrityError struct {
	Msg string
}

func (e *DataIntegrityError) Error() string {
	return e.Msg
}

func IsInvalidArgument(err error) bool {
	var e *InvalidArgumentError
	return errors.As(err, &e)
}

func IsItemNotFound(err error) bool {
	var e *ItemNotFoundError
	return errors.As(err, &e)
}

func IsMalformedResponse(err error) bool {
	var e *MalformedResponseError
	return errors.As(err, &e)
}

func IsDataIntegrity(err error) bool {
	var e *DataIntegrityError
	return errors.As(err, &e)
}

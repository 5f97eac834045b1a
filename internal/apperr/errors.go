// Package apperr defines the error taxonomy shared by the pipeline engines
// and the HTTP layer.
package apperr

import (
	"errors"
	"net/http"

	"github.com/rotisserie/eris"
)

var (
	ErrInvalidMedia       = eris.New("invalid media")
	ErrInvalidState       = eris.New("invalid state")
	ErrInvalidInput       = eris.New("invalid input")
	ErrNotFound           = eris.New("not found")
	ErrForbidden          = eris.New("forbidden")
	ErrConflict           = eris.New("conflict")
	ErrMissingLabel       = eris.New("missing label")
	ErrMissingPersonType  = eris.New("missing person type")
	ErrProviderFailure    = eris.New("provider failure")
	ErrTransactionAborted = eris.New("transaction aborted")
)

// validation errors are raised before any write and never need a retry.
var validation = []error{
	ErrInvalidMedia,
	ErrInvalidState,
	ErrInvalidInput,
	ErrNotFound,
	ErrForbidden,
	ErrConflict,
	ErrMissingLabel,
	ErrMissingPersonType,
}

// IsDomain reports whether err belongs to the taxonomy (as opposed to an
// infrastructure failure such as a dropped connection).
func IsDomain(err error) bool {
	if err == nil {
		return false
	}
	for _, target := range validation {
		if errors.Is(err, target) {
			return true
		}
	}
	return errors.Is(err, ErrProviderFailure) || errors.Is(err, ErrTransactionAborted)
}

// Aborted wraps an infrastructure failure that rolled back a transaction.
// Domain errors pass through untouched.
func Aborted(err error, op string) error {
	if err == nil || IsDomain(err) {
		return err
	}
	return eris.Wrapf(ErrTransactionAborted, "%s: %v", op, err)
}

// HTTPStatus maps an error to the response code the API returns.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrConflict), errors.Is(err, ErrInvalidState):
		return http.StatusConflict
	case errors.Is(err, ErrInvalidMedia), errors.Is(err, ErrMissingLabel),
		errors.Is(err, ErrMissingPersonType), errors.Is(err, ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, ErrProviderFailure):
		return http.StatusBadGateway
	case errors.Is(err, ErrTransactionAborted):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Code returns a stable machine-readable name for the error kind.
func Code(err error) string {
	switch {
	case errors.Is(err, ErrInvalidMedia):
		return "InvalidMedia"
	case errors.Is(err, ErrInvalidState):
		return "InvalidState"
	case errors.Is(err, ErrInvalidInput):
		return "InvalidInput"
	case errors.Is(err, ErrNotFound):
		return "NotFound"
	case errors.Is(err, ErrForbidden):
		return "Forbidden"
	case errors.Is(err, ErrConflict):
		return "Conflict"
	case errors.Is(err, ErrMissingLabel):
		return "MissingLabel"
	case errors.Is(err, ErrMissingPersonType):
		return "MissingPersonType"
	case errors.Is(err, ErrProviderFailure):
		return "ProviderFailure"
	case errors.Is(err, ErrTransactionAborted):
		return "TransactionAborted"
	default:
		return "Internal"
	}
}

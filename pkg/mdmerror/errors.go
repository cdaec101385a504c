// Package mdmerror defines the error kinds raised by the linker.
// Each kind is an httperror with a fixed status code so handlers and the
// ingestion pipeline can classify failures without string matching.
package mdmerror

import (
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
)

const (
	StatusConfiguration     = http.StatusUnprocessableEntity
	StatusInvalidTransition = http.StatusConflict
	StatusNotFound          = http.StatusNotFound
	StatusTransient         = http.StatusServiceUnavailable
	StatusBadRequest        = http.StatusBadRequest
)

// Configuration reports a malformed rule set. Nothing from it is applied.
func Configuration(format string, args ...any) error {
	return httperror.NewHTTPErrorf(StatusConfiguration, "configuration error: "+format, args...)
}

// InvalidTransition reports a disallowed match result for a record pair
func InvalidTransition(format string, args ...any) error {
	return httperror.NewHTTPErrorf(StatusInvalidTransition, "invalid transition: "+format, args...)
}

// NotFound reports a missing incoming or golden record
func NotFound(format string, args ...any) error {
	return httperror.NewHTTPErrorf(StatusNotFound, format, args...)
}

// Transient reports store contention or I/O failure that may succeed on retry
func Transient(format string, args ...any) error {
	return httperror.NewHTTPErrorf(StatusTransient, format, args...)
}

// BadRequest reports malformed caller input
func BadRequest(format string, args ...any) error {
	return httperror.NewHTTPErrorf(StatusBadRequest, format, args...)
}

func IsConfiguration(err error) bool {
	return hasStatus(err, StatusConfiguration)
}

func IsInvalidTransition(err error) bool {
	return hasStatus(err, StatusInvalidTransition)
}

func IsNotFound(err error) bool {
	return hasStatus(err, StatusNotFound)
}

func IsTransient(err error) bool {
	return hasStatus(err, StatusTransient)
}

func IsBadRequest(err error) bool {
	return hasStatus(err, StatusBadRequest)
}

func hasStatus(err error, status int) bool {
	return err != nil && httperror.IsHTTPError(err) && httperror.GetStatusCode(err) == status
}

// Kind names the error kind for API responses and log fields. Errors that
// are not one of the linker's kinds return "".
func Kind(err error) string {
	switch {
	case IsConfiguration(err):
		return "configuration"
	case IsInvalidTransition(err):
		return "invalid_transition"
	case IsNotFound(err):
		return "not_found"
	case IsTransient(err):
		return "transient"
	case IsBadRequest(err):
		return "bad_request"
	}
	return ""
}

package domain

import "errors"

var (
	ErrTransport        = errors.New("transport failure")
	ErrFormat           = errors.New("format failure")
	ErrNotFound         = errors.New("not found")
	ErrValidation       = errors.New("validation failure")
	ErrConflict         = errors.New("conflict")
	ErrCacheUnavailable = errors.New("cache unavailable")
)

// Kind maps an error onto the failure taxonomy used in run reports.
func Kind(err error) string {
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrTransport):
		return "transport"
	case errors.Is(err, ErrFormat):
		return "format"
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrConflict):
		return "conflict"
	case errors.Is(err, ErrCacheUnavailable):
		return "cache"
	}
	return "internal"
}

package pixbuf

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a failure of the tile pipeline.  Every failure that crosses the
// dispatcher boundary carries exactly one Kind.
type Kind uint8

const (
	KindInternal Kind = iota
	KindBadRequest
	KindUnauthorized
	KindNotFound
	KindInvalidRegion
	KindUnsupportedFormat
	KindOverloaded
	KindTimeout
	KindStoreError
)

var kindNames = map[Kind]string{
	KindInternal:          "Internal",
	KindBadRequest:        "BadRequest",
	KindUnauthorized:      "Unauthorized",
	KindNotFound:          "NotFound",
	KindInvalidRegion:     "InvalidRegion",
	KindUnsupportedFormat: "UnsupportedFormat",
	KindOverloaded:        "Overloaded",
	KindTimeout:           "Timeout",
	KindStoreError:        "StoreError",
}

// Kinds returns every defined failure kind.
func Kinds() []Kind {
	return []Kind{
		KindInternal, KindBadRequest, KindUnauthorized, KindNotFound, KindInvalidRegion,
		KindUnsupportedFormat, KindOverloaded, KindTimeout, KindStoreError,
	}
}

func (k Kind) String() string {
	if s, found := kindNames[k]; found {
		return s
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

// HTTPStatus returns the HTTP status code a failure of this kind is answered with.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindBadRequest, KindInvalidRegion:
		return http.StatusBadRequest
	case KindUnauthorized:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindUnsupportedFormat:
		return http.StatusUnsupportedMediaType
	case KindOverloaded:
		return http.StatusServiceUnavailable
	case KindTimeout:
		return http.StatusGatewayTimeout
	case KindStoreError:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Error is a classified failure.  Op names the pipeline step that failed and Err holds
// the underlying cause, which is only ever logged.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	case e.Op != "":
		return fmt.Sprintf("%s: %s", e.Kind, e.Op)
	default:
		return e.Kind.String()
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError returns a classified error with a formatted cause.
func NewError(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// WrapError classifies err under the given kind and operation.  An err that is already
// classified keeps its kind.
func WrapError(kind Kind, op string, err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		if e.Op == "" {
			return &Error{Kind: e.Kind, Op: op, Err: e.Err}
		}
		return e
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf returns the kind of a classified error, KindInternal for anything else.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if errors.Is(err, ErrInvalidPixelType) {
		return KindUnsupportedFormat
	}
	return KindInternal
}

// Classify converts any error into a classified one.
func Classify(op string, err error) *Error {
	if err == nil {
		return nil
	}
	return WrapError(KindOf(err), op, err)
}

package archive

import (
	"errors"
	"fmt"
)

// Kind classifies pipeline failures.
type Kind string

const (
	// KindInvalidArchive means the container cannot be opened or lacks required parts.
	KindInvalidArchive Kind = "invalid_archive"
	// KindXMLParse means a required XML part is malformed.
	KindXMLParse Kind = "xml_parse"
	// KindUnsupportedFormat means the document is not a spreadsheet package.
	KindUnsupportedFormat Kind = "unsupported_format"
	// KindImageDecode means one image could not be decoded. Never fatal.
	KindImageDecode Kind = "image_decode"
	// KindReferenceIntegrity means relationships or content types could not be kept consistent.
	KindReferenceIntegrity Kind = "reference_integrity"
	// KindIO means an underlying read or write failed.
	KindIO Kind = "io"
)

// Sentinels matched by errors.Is against any *Error of the same kind.
var (
	ErrInvalidArchive     = errors.New("invalid archive")
	ErrXMLParse           = errors.New("xml parse error")
	ErrUnsupportedFormat  = errors.New("unsupported format")
	ErrImageDecode        = errors.New("image decode error")
	ErrReferenceIntegrity = errors.New("reference integrity error")
	ErrIO                 = errors.New("io error")
)

// ErrPartNotFound is wrapped when an operation names a part the archive does not hold.
var ErrPartNotFound = errors.New("part not found")

func (k Kind) sentinel() error {
	switch k {
	case KindInvalidArchive:
		return ErrInvalidArchive
	case KindXMLParse:
		return ErrXMLParse
	case KindUnsupportedFormat:
		return ErrUnsupportedFormat
	case KindImageDecode:
		return ErrImageDecode
	case KindReferenceIntegrity:
		return ErrReferenceIntegrity
	case KindIO:
		return ErrIO
	}
	return nil
}

// Fatal reports whether an error of this kind aborts a run.
func (k Kind) Fatal() bool {
	return k != KindImageDecode
}

// Error is a classified failure tied to an optional part.
type Error struct {
	Kind Kind
	Part string
	Err  error
}

func (e *Error) Error() string {
	if e.Part != "" {
		return fmt.Sprintf("%s in %s: %v", e.Kind, e.Part, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the sentinel for e.Kind.
func (e *Error) Is(target error) bool {
	s := e.Kind.sentinel()
	return s != nil && target == s
}

// NewError creates a new Error.
func NewError(kind Kind, part string, err error) *Error {
	return &Error{
		Kind: kind,
		Part: part,
		Err:  err,
	}
}

// Errorf creates a new Error with a formatted cause.
func Errorf(kind Kind, part, format string, args ...any) *Error {
	return NewError(kind, part, fmt.Errorf(format, args...))
}

// KindOf returns the kind of the first *Error in err's chain, or "" if there is none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

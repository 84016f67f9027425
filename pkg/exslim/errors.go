package exslim

import (
	"errors"

	"github.com/ukaji3/exslim-go/pkg/exslim/archive"
)

// Error is the typed error of every stage.
type Error = archive.Error

// ErrorKind classifies an Error.
type ErrorKind = archive.Kind

// Error kinds.
const (
	KindInvalidArchive     = archive.KindInvalidArchive
	KindXMLParse           = archive.KindXMLParse
	KindUnsupportedFormat  = archive.KindUnsupportedFormat
	KindImageDecode        = archive.KindImageDecode
	KindReferenceIntegrity = archive.KindReferenceIntegrity
	KindIO                 = archive.KindIO
)

// Sentinels for errors.Is.
var (
	ErrInvalidArchive     = archive.ErrInvalidArchive
	ErrXMLParse           = archive.ErrXMLParse
	ErrUnsupportedFormat  = archive.ErrUnsupportedFormat
	ErrImageDecode        = archive.ErrImageDecode
	ErrReferenceIntegrity = archive.ErrReferenceIntegrity
	ErrIO                 = archive.ErrIO
)

// ErrVerification indicates the output reads differently from the input.
var ErrVerification = errors.New("output differs from input")

// KindOf returns the kind of err, or "" for errors outside the pipeline.
func KindOf(err error) ErrorKind {
	return archive.KindOf(err)
}

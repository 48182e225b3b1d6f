// Package apperr defines the structured error type shared by the conversion
// pipeline, the batch coordinator and the transport layers.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies a failure for callers and HTTP status mapping.
type Kind string

const (
	KindUnsupportedFormat Kind = "unsupported_format"
	KindDecode            Kind = "decode_error"
	KindEncode            Kind = "encode_error"
	KindTooManyFiles      Kind = "too_many_files"
	KindBatch             Kind = "batch_conversion_error"
	KindCancelled         Kind = "cancelled"
	KindFileTooLarge      Kind = "file_too_large"
	KindInvalidRequest    Kind = "invalid_request"
)

// Stage names the pipeline step that failed.
type Stage string

const (
	StageValidation Stage = "validation"
	StageDecode     Stage = "decode"
	StageResize     Stage = "resize"
	StageEncode     Stage = "encode"
	StageArchive    Stage = "archive"
	StageBatch      Stage = "batch"
)

// Error is the structured error returned by every conversion component.
type Error struct {
	Kind  Kind
	Stage Stage
	File  string // empty when the error is not tied to one file
	Err   error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Stage, e.Kind)
	if e.File != "" {
		msg += " (" + e.File + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind, so the exported sentinels work
// with errors.Is through wrapping layers.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Stage == "" && t.File == "" && t.Err == nil
}

// Sentinels for errors.Is.
var (
	ErrUnsupportedFormat = &Error{Kind: KindUnsupportedFormat}
	ErrDecode            = &Error{Kind: KindDecode}
	ErrEncode            = &Error{Kind: KindEncode}
	ErrTooManyFiles      = &Error{Kind: KindTooManyFiles}
	ErrBatch             = &Error{Kind: KindBatch}
	ErrCancelled         = &Error{Kind: KindCancelled}
	ErrFileTooLarge      = &Error{Kind: KindFileTooLarge}
	ErrInvalidRequest    = &Error{Kind: KindInvalidRequest}
)

// New builds an *Error.
func New(kind Kind, stage Stage, file string, err error) *Error {
	return &Error{Kind: kind, Stage: stage, File: file, Err: err}
}

// UnsupportedFormat reports a format id that is not in the registry.
func UnsupportedFormat(id string) *Error {
	return &Error{Kind: KindUnsupportedFormat, Stage: StageValidation, Err: fmt.Errorf("unsupported format: %q", id)}
}

// As extracts the first *Error in err's chain.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// KindOf returns the kind of the outermost *Error in err's chain, or "" if
// there is none.
func KindOf(err error) Kind {
	if e, ok := As(err); ok {
		return e.Kind
	}
	return ""
}

// WithFile returns a copy of err carrying the given file name when err is an
// *Error without one. Other errors are returned unchanged.
func WithFile(err error, file string) error {
	e, ok := err.(*Error)
	if !ok || e.File != "" {
		return err
	}
	cp := *e
	cp.File = file
	return &cp
}

package converter

import (
	"context"
	"time"

	"image-converter-go/internal/encodeplan"
	"image-converter-go/internal/formats"
	"image-converter-go/internal/resize"
)

// Request describes the conversion of a single source image.
type Request struct {
	Source          []byte
	SourceName      string
	TargetFormat    formats.ID
	Quality         string // raw, coerced by the encode plan
	Compression     string // raw, coerced by the encode plan
	Width           int    // <= 0 means absent
	Height          int    // <= 0 means absent
	KeepAspectRatio bool
	AllowUpscale    bool
}

// ResizeRequest extracts the geometry part of r.
func (r Request) ResizeRequest() resize.Request {
	return resize.Request{
		Width:           r.Width,
		Height:          r.Height,
		KeepAspectRatio: r.KeepAspectRatio,
		AllowUpscale:    r.AllowUpscale,
	}
}

// Result is the outcome of a successful conversion. Width, Height, Resize
// and Plan are informational.
type Result struct {
	Bytes        []byte
	MIMEType     string
	FileName     string
	Format       formats.ID
	SourceFormat formats.ID
	Width        int
	Height       int
	Resize       resize.Plan
	Plan         encodeplan.Plan
	Duration     time.Duration
}

// Converter defines the interface for single image conversion.
type Converter interface {
	// Validate runs the checks that need no decoding: target format and
	// source size.
	Validate(req Request) error
	// Convert decodes, resizes and encodes one source.
	Convert(ctx context.Context, req Request) (*Result, error)
}

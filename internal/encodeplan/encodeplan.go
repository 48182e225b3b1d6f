// Package encodeplan maps the free-form quality and compression knobs of a
// request onto a typed, format-specific set of codec parameters.
package encodeplan

import (
	"math"
	"strconv"
	"strings"

	"image-converter-go/internal/formats"
)

const (
	DefaultQuality         = 80
	DefaultJPEGCompression = 2
)

// ChromaSubsampling is the JPEG chroma scheme.
type ChromaSubsampling string

const (
	Chroma420 ChromaSubsampling = "4:2:0"
	Chroma444 ChromaSubsampling = "4:4:4"
)

// Params is the format-specific half of a Plan. Exactly one concrete type
// exists per output format family.
type Params interface {
	params()
}

// JPEGParams drives the JPEG encoder.
type JPEGParams struct {
	Quality     int
	Chroma      ChromaSubsampling
	Progressive bool
}

// PNGParams drives the PNG encoder. CompressionLevel is a zlib level 0-9;
// Quality only matters to palette-capable encoders.
type PNGParams struct {
	CompressionLevel  int
	Quality           int
	AdaptiveFiltering bool
}

// WebPParams drives the WebP encoder.
type WebPParams struct {
	Quality int
}

// AVIFParams drives the AVIF encoder.
type AVIFParams struct {
	Quality int
}

// RawParams is used by formats without tunables (bmp, ppm).
type RawParams struct{}

func (JPEGParams) params() {}
func (PNGParams) params()  {}
func (WebPParams) params() {}
func (AVIFParams) params() {}
func (RawParams) params()  {}

// Plan is the resolved encode plan handed to the codec.
type Plan struct {
	Format  formats.ID
	Quality int
	Params  Params
}

// Extra renders the format-specific parameters as a flat map.
func (p Plan) Extra() map[string]any {
	switch v := p.Params.(type) {
	case JPEGParams:
		return map[string]any{
			"chromaSubsampling": string(v.Chroma),
			"progressive":       v.Progressive,
		}
	case PNGParams:
		return map[string]any{
			"compressionLevel":  v.CompressionLevel,
			"adaptiveFiltering": v.AdaptiveFiltering,
		}
	default:
		return map[string]any{}
	}
}

// Build resolves the plan for target. rawQuality and rawCompression are the
// untrusted request values; unparsable or empty input falls back to the
// format default.
func Build(target formats.ID, rawQuality, rawCompression string) Plan {
	switch formats.Canonical(target) {
	case formats.JPG:
		return buildJPEG(target, coerce(rawQuality, DefaultQuality), coerce(rawCompression, DefaultJPEGCompression))
	case formats.PNG:
		return buildPNG(coerce(rawCompression, 0))
	case formats.WebP:
		q := coerce(rawQuality, DefaultQuality)
		return Plan{Format: formats.WebP, Quality: q, Params: WebPParams{Quality: q}}
	case formats.AVIF:
		q := coerce(rawQuality, DefaultQuality)
		return Plan{Format: formats.AVIF, Quality: q, Params: AVIFParams{Quality: q}}
	default:
		return Plan{Format: target, Params: RawParams{}}
	}
}

func buildJPEG(target formats.ID, q, level int) Plan {
	p := JPEGParams{Chroma: Chroma420, Progressive: true}
	switch level {
	case 1:
		p.Quality = min(q, 70)
	case 2:
		p.Quality = min(q, 85)
	case 3:
		p.Quality = min(q, 95)
		p.Chroma = Chroma444
		p.Progressive = false
	default:
		p.Quality = 85
	}
	return Plan{Format: target, Quality: p.Quality, Params: p}
}

func buildPNG(level int) Plan {
	p := PNGParams{AdaptiveFiltering: true}
	switch level {
	case 1:
		p.CompressionLevel, p.Quality = 2, 70
	case 3:
		p.CompressionLevel, p.Quality = 9, 50
	default:
		p.CompressionLevel, p.Quality = 5, 60
	}
	return Plan{Format: formats.PNG, Quality: p.Quality, Params: p}
}

// coerce parses a request knob. Decimal input is truncated.
func coerce(raw string, def int) int {
	s := strings.TrimSpace(raw)
	if s == "" {
		return def
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return def
	}
	return int(f)
}

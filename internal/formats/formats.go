package formats

import (
	"sort"

	"image-converter-go/internal/apperr"
)

// ID is a format identifier as it appears in requests ("png", "jpg", ...).
type ID string

const (
	PNG  ID = "png"
	JPG  ID = "jpg"
	JPEG ID = "jpeg"
	WebP ID = "webp"
	AVIF ID = "avif"
	BMP  ID = "bmp"
	PPM  ID = "ppm"
	TIFF ID = "tiff"
)

// Spec describes one registered format.
type Spec struct {
	ID              ID     `json:"id"`
	UsesQuality     bool   `json:"uses_quality"`
	UsesCompression bool   `json:"uses_compression"`
	MIMEType        string `json:"mime_type"`
	Extension       string `json:"extension"`
	Input           bool   `json:"input"`
	Output          bool   `json:"output"`
}

var registry = map[ID]Spec{
	PNG:  {ID: PNG, UsesCompression: true, MIMEType: "image/png", Extension: "png", Input: true, Output: true},
	JPG:  {ID: JPG, UsesQuality: true, UsesCompression: true, MIMEType: "image/jpeg", Extension: "jpg", Input: true, Output: true},
	JPEG: {ID: JPEG, UsesQuality: true, UsesCompression: true, MIMEType: "image/jpeg", Extension: "jpeg", Input: true, Output: true},
	WebP: {ID: WebP, UsesQuality: true, MIMEType: "image/webp", Extension: "webp", Input: true, Output: true},
	AVIF: {ID: AVIF, UsesQuality: true, MIMEType: "image/avif", Extension: "avif", Input: true, Output: true},
	BMP:  {ID: BMP, MIMEType: "image/bmp", Extension: "bmp", Input: true, Output: true},
	PPM:  {ID: PPM, MIMEType: "image/x-portable-pixmap", Extension: "ppm", Input: true},
	TIFF: {ID: TIFF, MIMEType: "image/tiff", Extension: "tiff", Input: true},
}

// sniffed content types that map onto a registered input format
var mimeAliases = map[string]ID{
	"image/png":               PNG,
	"image/jpeg":              JPG,
	"image/jpg":               JPG,
	"image/webp":              WebP,
	"image/avif":              AVIF,
	"image/bmp":               BMP,
	"image/x-ms-bmp":          BMP,
	"image/x-portable-pixmap": PPM,
	"image/tiff":              TIFF,
}

// Lookup returns the spec for id. The match is exact and case-sensitive.
func Lookup(id string) (Spec, error) {
	spec, ok := registry[ID(id)]
	if !ok {
		return Spec{}, apperr.UnsupportedFormat(id)
	}
	return spec, nil
}

// LookupOutput is Lookup restricted to formats that can be produced.
func LookupOutput(id string) (Spec, error) {
	spec, err := Lookup(id)
	if err != nil {
		return Spec{}, err
	}
	if !spec.Output {
		return Spec{}, apperr.UnsupportedFormat(id)
	}
	return spec, nil
}

// FromMIME maps a sniffed content type to an input format.
func FromMIME(mime string) (Spec, bool) {
	id, ok := mimeAliases[mime]
	if !ok {
		return Spec{}, false
	}
	return registry[id], true
}

// Canonical folds aliases onto the id codecs switch on (jpeg -> jpg).
func Canonical(id ID) ID {
	if id == JPEG {
		return JPG
	}
	return id
}

// All returns every registered spec ordered by id.
func All() []Spec {
	specs := make([]Spec, 0, len(registry))
	for _, s := range registry {
		specs = append(specs, s)
	}
	sort.Slice(specs, func(i, j int) bool { return specs[i].ID < specs[j].ID })
	return specs
}

// Outputs returns the ids that can be requested as targets.
func Outputs() []ID {
	var ids []ID
	for _, s := range All() {
		if s.Output {
			ids = append(ids, s.ID)
		}
	}
	return ids
}

// Package codec decodes, resizes and encodes images. The conversion pipeline
// treats a Codec as an opaque capability and never touches pixels itself.
package codec

import (
	"fmt"

	"image-converter-go/internal/encodeplan"
	"image-converter-go/internal/resize"
)

// Backend names accepted by New.
const (
	BackendNative = "native"
	BackendVips   = "vips"
)

// Image is a decoded image owned by the codec that produced it.
type Image interface {
	Width() int
	Height() int
}

// Codec is the decode/resize/encode capability used by the converter.
// Implementations must be safe for concurrent use.
type Codec interface {
	Name() string
	Decode(data []byte) (Image, error)
	Resize(img Image, plan resize.Plan) (Image, error)
	Encode(img Image, plan encodeplan.Plan) ([]byte, error)
}

// New returns the codec registered under backend.
func New(backend string) (Codec, error) {
	switch backend {
	case "", BackendNative:
		return NewNative(), nil
	case BackendVips:
		return newVips()
	default:
		return nil, fmt.Errorf("unknown codec backend: %q", backend)
	}
}

// checkQuality rejects quality values the encoders cannot represent.
func checkQuality(q int) error {
	if q < 0 || q > 100 {
		return fmt.Errorf("quality %d out of range [0, 100]", q)
	}
	return nil
}

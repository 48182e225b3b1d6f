package codec

import (
	"bytes"
	"fmt"

	"github.com/disintegration/imaging"
	"github.com/spakin/netpbm"

	"image-converter-go/internal/encodeplan"
	"image-converter-go/internal/resize"
)

// PPM handles netpbm pixmaps. It resizes with nearest-neighbor sampling and
// always encodes PNG, whatever format the plan names.
type PPM struct{}

// NewPPM returns the pixmap codec.
func NewPPM() *PPM { return &PPM{} }

func (c *PPM) Name() string { return "ppm" }

func (c *PPM) Decode(data []byte) (Image, error) {
	img, err := netpbm.Decode(bytes.NewReader(data), &netpbm.DecodeOptions{
		Target: netpbm.PPM,
		Exact:  false,
	})
	if err != nil {
		return nil, fmt.Errorf("decode pixmap: %w", err)
	}
	return &nativeImage{img: img}, nil
}

func (c *PPM) Resize(img Image, plan resize.Plan) (Image, error) {
	return resizeWith(img, plan, imaging.NearestNeighbor)
}

// Encode writes PNG. A PNG plan contributes its compression level.
func (c *PPM) Encode(img Image, plan encodeplan.Plan) ([]byte, error) {
	src, err := unwrapNative(img)
	if err != nil {
		return nil, err
	}
	level := 5
	if p, ok := plan.Params.(encodeplan.PNGParams); ok {
		level = p.CompressionLevel
	}
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, src, imaging.PNG, imaging.PNGCompressionLevel(pngLevel(level))); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}

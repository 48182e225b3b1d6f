package codec

import (
	"bytes"
	"fmt"
	"image"
	"image/png"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"
	"github.com/gen2brain/avif"

	"image-converter-go/internal/encodeplan"
	"image-converter-go/internal/formats"
	"image-converter-go/internal/resize"

	// extra decoders for imaging.Decode
	_ "golang.org/x/image/webp"
)

type nativeImage struct {
	img image.Image
}

func (n *nativeImage) Width() int  { return n.img.Bounds().Dx() }
func (n *nativeImage) Height() int { return n.img.Bounds().Dy() }

// Native is the pure Go codec built on imaging, chai2010/webp and
// gen2brain/avif. The JPEG encoder of the standard library only writes
// baseline 4:2:0, so chroma and progressive settings are ignored here.
type Native struct {
	filter imaging.ResampleFilter
}

// NewNative returns a Native codec resampling with Lanczos.
func NewNative() *Native {
	return &Native{filter: imaging.Lanczos}
}

func (c *Native) Name() string { return BackendNative }

// Decode applies the EXIF orientation so the decoded dimensions are the
// displayed ones.
func (c *Native) Decode(data []byte) (Image, error) {
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	return &nativeImage{img: img}, nil
}

func (c *Native) Resize(img Image, plan resize.Plan) (Image, error) {
	return resizeWith(img, plan, c.filter)
}

func (c *Native) Encode(img Image, plan encodeplan.Plan) ([]byte, error) {
	src, err := unwrapNative(img)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	switch p := plan.Params.(type) {
	case encodeplan.JPEGParams:
		if err := checkQuality(p.Quality); err != nil {
			return nil, err
		}
		err = imaging.Encode(&buf, src, imaging.JPEG, imaging.JPEGQuality(p.Quality))
	case encodeplan.PNGParams:
		err = imaging.Encode(&buf, src, imaging.PNG, imaging.PNGCompressionLevel(pngLevel(p.CompressionLevel)))
	case encodeplan.WebPParams:
		if err := checkQuality(p.Quality); err != nil {
			return nil, err
		}
		err = webp.Encode(&buf, src, &webp.Options{Quality: float32(p.Quality)})
	case encodeplan.AVIFParams:
		if err := checkQuality(p.Quality); err != nil {
			return nil, err
		}
		err = avif.Encode(&buf, src, avif.Options{Quality: p.Quality, QualityAlpha: p.Quality, Speed: avif.DefaultSpeed})
	case encodeplan.RawParams:
		if formats.Canonical(plan.Format) != formats.BMP {
			return nil, fmt.Errorf("no native encoder for %q", plan.Format)
		}
		err = imaging.Encode(&buf, src, imaging.BMP)
	default:
		return nil, fmt.Errorf("unsupported encode params %T", plan.Params)
	}
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", plan.Format, err)
	}
	return buf.Bytes(), nil
}

func unwrapNative(img Image) (image.Image, error) {
	n, ok := img.(*nativeImage)
	if !ok || n == nil {
		return nil, fmt.Errorf("image %T was not decoded by a native codec", img)
	}
	return n.img, nil
}

func resizeWith(img Image, plan resize.Plan, filter imaging.ResampleFilter) (Image, error) {
	src, err := unwrapNative(img)
	if err != nil {
		return nil, err
	}
	if plan.Width <= 0 || plan.Height <= 0 {
		return nil, fmt.Errorf("invalid resize target %dx%d", plan.Width, plan.Height)
	}
	if plan.IsIdentity(img.Width(), img.Height()) {
		return img, nil
	}
	return &nativeImage{img: imaging.Resize(src, plan.Width, plan.Height, filter)}, nil
}

// pngLevel maps a zlib level 0-9 onto the three levels image/png exposes.
func pngLevel(level int) png.CompressionLevel {
	switch {
	case level <= 0:
		return png.NoCompression
	case level <= 3:
		return png.BestSpeed
	case level <= 6:
		return png.DefaultCompression
	default:
		return png.BestCompression
	}
}

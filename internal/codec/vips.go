//go:build vips

package codec

import (
	"fmt"
	"runtime"
	"sync"

	govips "github.com/davidbyttow/govips/v2/vips"

	"image-converter-go/internal/encodeplan"
	"image-converter-go/internal/formats"
	"image-converter-go/internal/resize"
)

var vipsOnce sync.Once

type vipsImage struct {
	ref *govips.ImageRef
}

func (v *vipsImage) Width() int  { return v.ref.Width() }
func (v *vipsImage) Height() int { return v.ref.Height() }

// Vips encodes through libvips, which honors every encode plan knob:
// chroma subsampling, progressive JPEG and PNG adaptive filtering.
type Vips struct {
	native *Native // bmp has no libvips saver
}

func newVips() (Codec, error) {
	vipsOnce.Do(func() {
		govips.LoggingSettings(nil, govips.LogLevelWarning)
		govips.Startup(&govips.Config{ConcurrencyLevel: runtime.NumCPU()})
	})
	return &Vips{native: NewNative()}, nil
}

// Shutdown releases libvips. Call once at process exit.
func Shutdown() {
	govips.Shutdown()
}

func (c *Vips) Name() string { return BackendVips }

func (c *Vips) Decode(data []byte) (Image, error) {
	ref, err := govips.NewImageFromBuffer(data)
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	runtime.SetFinalizer(ref, func(r *govips.ImageRef) { r.Close() })
	if err := ref.AutoRotate(); err != nil {
		return nil, fmt.Errorf("auto rotate: %w", err)
	}
	return &vipsImage{ref: ref}, nil
}

func (c *Vips) Resize(img Image, plan resize.Plan) (Image, error) {
	vi, ok := img.(*vipsImage)
	if !ok {
		return nil, fmt.Errorf("image %T was not decoded by libvips", img)
	}
	if plan.Width <= 0 || plan.Height <= 0 {
		return nil, fmt.Errorf("invalid resize target %dx%d", plan.Width, plan.Height)
	}
	if plan.IsIdentity(vi.Width(), vi.Height()) {
		return img, nil
	}
	h := float64(plan.Width) / float64(vi.Width())
	v := float64(plan.Height) / float64(vi.Height())
	if err := vi.ref.ResizeWithVScale(h, v, govips.KernelLanczos3); err != nil {
		return nil, fmt.Errorf("resize: %w", err)
	}
	return vi, nil
}

func (c *Vips) Encode(img Image, plan encodeplan.Plan) ([]byte, error) {
	vi, ok := img.(*vipsImage)
	if !ok {
		return nil, fmt.Errorf("image %T was not decoded by libvips", img)
	}

	var (
		buf []byte
		err error
	)
	switch p := plan.Params.(type) {
	case encodeplan.JPEGParams:
		if err := checkQuality(p.Quality); err != nil {
			return nil, err
		}
		ep := govips.NewJpegExportParams()
		ep.Quality = p.Quality
		ep.Interlace = p.Progressive
		ep.OptimizeCoding = true
		ep.SubsampleMode = govips.VipsForeignSubsampleOn
		if p.Chroma == encodeplan.Chroma444 {
			ep.SubsampleMode = govips.VipsForeignSubsampleOff
		}
		buf, _, err = vi.ref.ExportJpeg(ep)
	case encodeplan.PNGParams:
		ep := govips.NewPngExportParams()
		ep.Compression = p.CompressionLevel
		ep.Quality = p.Quality
		if p.AdaptiveFiltering {
			ep.Filter = govips.PngFilterAll
		}
		buf, _, err = vi.ref.ExportPng(ep)
	case encodeplan.WebPParams:
		if err := checkQuality(p.Quality); err != nil {
			return nil, err
		}
		ep := govips.NewWebpExportParams()
		ep.Quality = p.Quality
		buf, _, err = vi.ref.ExportWebp(ep)
	case encodeplan.AVIFParams:
		if err := checkQuality(p.Quality); err != nil {
			return nil, err
		}
		ep := govips.NewAvifExportParams()
		ep.Quality = p.Quality
		buf, _, err = vi.ref.ExportAvif(ep)
	case encodeplan.RawParams:
		if formats.Canonical(plan.Format) != formats.BMP {
			return nil, fmt.Errorf("no libvips encoder for %q", plan.Format)
		}
		return c.encodeBMP(vi)
	default:
		return nil, fmt.Errorf("unsupported encode params %T", plan.Params)
	}
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", plan.Format, err)
	}
	return buf, nil
}

// encodeBMP hands the pixels to the native encoder.
func (c *Vips) encodeBMP(vi *vipsImage) ([]byte, error) {
	goImg, err := vi.ref.ToImage(govips.NewDefaultExportParams())
	if err != nil {
		return nil, fmt.Errorf("export pixels: %w", err)
	}
	return c.native.Encode(&nativeImage{img: goImg}, encodeplan.Plan{Format: formats.BMP, Params: encodeplan.RawParams{}})
}

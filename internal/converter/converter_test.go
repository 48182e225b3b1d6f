package converter

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/gif"
	"image/jpeg"
	"image/png"
	"sync/atomic"
	"testing"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"

	"image-converter-go/internal/apperr"
	"image-converter-go/internal/codec"
	"image-converter-go/internal/encodeplan"
	"image-converter-go/internal/formats"
	"image-converter-go/internal/resize"
	"image-converter-go/internal/statistics"
)

// countingCodec records how often the pipeline reaches the decoder.
type countingCodec struct {
	codec.Codec
	decodes int64
}

func (c *countingCodec) Decode(data []byte) (codec.Image, error) {
	atomic.AddInt64(&c.decodes, 1)
	return c.Codec.Decode(data)
}

func fixture(t *testing.T, w, h int, enc func(*bytes.Buffer, image.Image) error) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y += 7 {
		for x := 0; x < w; x += 7 {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 200, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := enc(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func pngEnc(b *bytes.Buffer, img image.Image) error { return png.Encode(b, img) }
func jpgEnc(b *bytes.Buffer, img image.Image) error {
	return jpeg.Encode(b, img, &jpeg.Options{Quality: 90})
}

func newTestConverter(opts Options) (*DefaultConverter, *countingCodec) {
	cc := &countingCodec{Codec: codec.NewNative()}
	opts.Codec = cc
	return NewDefaultConverter(opts), cc
}

func TestConvert_JPEGHighQualityResize(t *testing.T) {
	conv, _ := newTestConverter(Options{})
	res, err := conv.Convert(context.Background(), Request{
		Source:          fixture(t, 1000, 1000, pngEnc),
		SourceName:      "square.png",
		TargetFormat:    formats.JPG,
		Quality:         "90",
		Compression:     "3",
		Width:           500,
		Height:          500,
		KeepAspectRatio: true,
	})
	if err != nil {
		t.Fatalf("Convert: %v", err)
	}
	if res.Width != 500 || res.Height != 500 {
		t.Errorf("output %dx%d, want 500x500", res.Width, res.Height)
	}
	jp, ok := res.Plan.Params.(encodeplan.JPEGParams)
	if !ok || jp.Quality != 90 || jp.Chroma != encodeplan.Chroma444 || jp.Progressive {
		t.Errorf("plan = %+v", res.Plan)
	}
	if res.MIMEType != "image/jpeg" || res.FileName != "square.jpg" {
		t.Errorf("mime/name = %s %s", res.MIMEType, res.FileName)
	}
	cfg, err := jpeg.DecodeConfig(bytes.NewReader(res.Bytes))
	if err != nil || cfg.Width != 500 || cfg.Height != 500 {
		t.Errorf("encoded jpeg = %+v, %v", cfg, err)
	}
}

func TestConvert_PNGDefaultsNoResize(t *testing.T) {
	conv, _ := newTestConverter(Options{})
	res, err := conv.Convert(context.Background(), Request{
		Source:          fixture(t, 800, 600, jpgEnc),
		SourceName:      "photo.jpeg",
		TargetFormat:    formats.PNG,
		KeepAspectRatio: true,
		AllowUpscale:    true,
	})
	if err != nil {
		t.Fatalf("Convert: %v", err)
	}
	if res.Width != 800 || res.Height != 600 || res.Resize.Fit != resize.Exact {
		t.Errorf("got %dx%d fit %s", res.Width, res.Height, res.Resize.Fit)
	}
	pp := res.Plan.Params.(encodeplan.PNGParams)
	if pp.CompressionLevel != 5 || pp.Quality != 60 || !pp.AdaptiveFiltering {
		t.Errorf("png params = %+v", pp)
	}
	if res.SourceFormat != formats.JPG || res.FileName != "photo.png" {
		t.Errorf("source=%s name=%s", res.SourceFormat, res.FileName)
	}
}

func TestConvert_JPEGAliasKeepsExtension(t *testing.T) {
	conv, _ := newTestConverter(Options{})
	res, err := conv.Convert(context.Background(), Request{
		Source:       fixture(t, 16, 16, pngEnc),
		SourceName:   "a.png",
		TargetFormat: formats.JPEG,
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.FileName != "a.jpeg" || res.MIMEType != "image/jpeg" {
		t.Errorf("got %s %s", res.FileName, res.MIMEType)
	}
}

func TestConvert_UnsupportedTargetNeverDecodes(t *testing.T) {
	conv, cc := newTestConverter(Options{})
	for _, target := range []formats.ID{"tga", "PNG", formats.PPM, formats.TIFF} {
		_, err := conv.Convert(context.Background(), Request{
			Source:       fixture(t, 8, 8, pngEnc),
			SourceName:   "x.png",
			TargetFormat: target,
		})
		if !errors.Is(err, apperr.ErrUnsupportedFormat) {
			t.Errorf("target %q: err = %v, want UnsupportedFormat", target, err)
		}
	}
	if n := atomic.LoadInt64(&cc.decodes); n != 0 {
		t.Errorf("decoder invoked %d times", n)
	}
}

func TestConvert_AllowList(t *testing.T) {
	conv, _ := newTestConverter(Options{AllowedFormats: []string{"png"}})
	_, err := conv.Convert(context.Background(), Request{Source: fixture(t, 4, 4, pngEnc), SourceName: "a.png", TargetFormat: formats.WebP})
	if !errors.Is(err, apperr.ErrUnsupportedFormat) {
		t.Fatalf("err = %v", err)
	}
}

func TestConvert_PPMAlwaysPNG(t *testing.T) {
	var ppm bytes.Buffer
	ppm.WriteString("P6\n10 5\n255\n")
	for i := 0; i < 50; i++ {
		ppm.Write([]byte{0, 0, 255})
	}

	stats := statistics.NewStatistics()
	conv, cc := newTestConverter(Options{Stats: stats})
	res, err := conv.Convert(context.Background(), Request{
		Source:          ppm.Bytes(),
		SourceName:      "scan.ppm",
		TargetFormat:    formats.WebP,
		Width:           100,
		Height:          50,
		KeepAspectRatio: true,
	})
	if err != nil {
		t.Fatalf("Convert: %v", err)
	}
	if res.MIMEType != "image/png" || res.FileName != "scan.png" || res.Format != formats.PNG {
		t.Errorf("result = %s %s %s", res.MIMEType, res.FileName, res.Format)
	}
	cfg, err := png.DecodeConfig(bytes.NewReader(res.Bytes))
	if err != nil || cfg.Width != 100 || cfg.Height != 50 {
		t.Errorf("png = %+v, %v", cfg, err)
	}
	if atomic.LoadInt64(&cc.decodes) != 0 {
		t.Error("ppm source went through the primary codec")
	}
	if stats.Snapshot().PPMConversions != 1 {
		t.Error("ppm conversion not counted")
	}
}

func TestConvert_Errors(t *testing.T) {
	var gifBuf bytes.Buffer
	if err := gif.Encode(&gifBuf, image.NewPaletted(image.Rect(0, 0, 4, 4), color.Palette{color.Black, color.White}), nil); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name   string
		source []byte
		max    int64
		want   error
		stage  apperr.Stage
	}{
		{"not an image", []byte("definitely not pixels"), 0, apperr.ErrDecode, apperr.StageDecode},
		{"truncated png", fixture(t, 32, 32, pngEnc)[:40], 0, apperr.ErrDecode, apperr.StageDecode},
		{"gif is unregistered", gifBuf.Bytes(), 0, apperr.ErrUnsupportedFormat, apperr.StageDecode},
		{"too large", fixture(t, 32, 32, pngEnc), 10, apperr.ErrFileTooLarge, apperr.StageValidation},
		{"empty", nil, 0, apperr.ErrInvalidRequest, apperr.StageValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conv, _ := newTestConverter(Options{MaxFileBytes: tt.max})
			_, err := conv.Convert(context.Background(), Request{Source: tt.source, SourceName: "in.bin", TargetFormat: formats.PNG})
			if !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
			e, _ := apperr.As(err)
			if e.Stage != tt.stage || e.File != "in.bin" {
				t.Errorf("stage=%s file=%q", e.Stage, e.File)
			}
		})
	}
}

func TestConvert_EncodeError(t *testing.T) {
	conv, _ := newTestConverter(Options{})
	_, err := conv.Convert(context.Background(), Request{
		Source:       fixture(t, 8, 8, pngEnc),
		SourceName:   "a.png",
		TargetFormat: formats.WebP,
		Quality:      "250",
	})
	if !errors.Is(err, apperr.ErrEncode) {
		t.Fatalf("err = %v, want EncodeError", err)
	}
}

func TestConvert_FailureLogNamesStage(t *testing.T) {
	log, hook := logtest.NewNullLogger()
	conv, _ := newTestConverter(Options{Logger: log})
	_, err := conv.Convert(context.Background(), Request{Source: []byte("not pixels"), SourceName: "x.png", TargetFormat: formats.PNG})
	if !errors.Is(err, apperr.ErrDecode) {
		t.Fatalf("err = %v", err)
	}

	entry := hook.LastEntry()
	if entry == nil || entry.Level != logrus.WarnLevel {
		t.Fatalf("no warning logged: %+v", hook.AllEntries())
	}
	if entry.Data["operation"] != string(apperr.StageDecode) || entry.Data["file"] != "x.png" || entry.Data["kind"] != string(apperr.KindDecode) {
		t.Errorf("fields = %v", entry.Data)
	}
}

func TestConvert_Cancelled(t *testing.T) {
	conv, cc := newTestConverter(Options{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := conv.Convert(ctx, Request{Source: fixture(t, 8, 8, pngEnc), SourceName: "a.png", TargetFormat: formats.PNG})
	if !errors.Is(err, apperr.ErrCancelled) || cc.decodes != 0 {
		t.Fatalf("err = %v, decodes = %d", err, cc.decodes)
	}
}

func TestOutputName(t *testing.T) {
	tests := []struct{ in, ext, want string }{
		{"photo.jpg", "png", "photo.png"},
		{"archive.tar.gz", "webp", "archive.tar.webp"},
		{"noext", "bmp", "noext.bmp"},
		{"dir/sub/pic.PNG", "jpg", "pic.jpg"},
		{`C:\Users\me\pic.bmp`, "png", "pic.png"},
		{"", "png", "image.png"},
		{".hidden", "png", "image.png"},
	}
	for _, tt := range tests {
		if got := OutputName(tt.in, tt.ext); got != tt.want {
			t.Errorf("OutputName(%q, %q) = %q, want %q", tt.in, tt.ext, got, tt.want)
		}
	}
}

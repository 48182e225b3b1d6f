package codec

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"testing"

	"image-converter-go/internal/encodeplan"
	"image-converter-go/internal/formats"
	"image-converter-go/internal/resize"
)

func gradient(w, h int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.NRGBA{R: uint8(x * 255 / w), G: uint8(y * 255 / h), B: 128, A: 255})
		}
	}
	return img
}

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestNew(t *testing.T) {
	c, err := New("")
	if err != nil || c.Name() != BackendNative {
		t.Fatalf("New(\"\") = %v, %v", c, err)
	}
	if _, err := New("gpu"); err == nil {
		t.Error("expected error for unknown backend")
	}
}

func TestNative_RoundTrip(t *testing.T) {
	c := NewNative()
	src, err := c.Decode(encodePNG(t, gradient(40, 20)))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if src.Width() != 40 || src.Height() != 20 {
		t.Fatalf("decoded %dx%d", src.Width(), src.Height())
	}

	resized, err := c.Resize(src, resize.Plan{Width: 20, Height: 10, Fit: resize.ContainNoUpscale})
	if err != nil {
		t.Fatalf("Resize: %v", err)
	}

	for _, id := range []formats.ID{formats.JPG, formats.JPEG, formats.PNG, formats.WebP, formats.AVIF, formats.BMP} {
		t.Run(string(id), func(t *testing.T) {
			out, err := c.Encode(resized, encodeplan.Build(id, "75", "2"))
			if err != nil {
				t.Fatalf("Encode: %v", err)
			}
			back, err := c.Decode(out)
			if err != nil {
				t.Fatalf("re-decode: %v", err)
			}
			if back.Width() != 20 || back.Height() != 10 {
				t.Errorf("re-decoded %dx%d, want 20x10", back.Width(), back.Height())
			}
		})
	}
}

func TestNative_IdentityResizeReturnsSameImage(t *testing.T) {
	c := NewNative()
	src, _ := c.Decode(encodePNG(t, gradient(8, 8)))
	out, err := c.Resize(src, resize.Plan{Width: 8, Height: 8})
	if err != nil || out != src {
		t.Fatalf("identity resize = %v, %v", out, err)
	}
}

func TestNative_QualityOutOfRange(t *testing.T) {
	c := NewNative()
	src, _ := c.Decode(encodePNG(t, gradient(4, 4)))
	plans := []encodeplan.Plan{
		{Format: formats.JPG, Params: encodeplan.JPEGParams{Quality: 120}},
		{Format: formats.WebP, Params: encodeplan.WebPParams{Quality: -1}},
		{Format: formats.AVIF, Params: encodeplan.AVIFParams{Quality: 101}},
	}
	for _, p := range plans {
		if _, err := c.Encode(src, p); err == nil {
			t.Errorf("%s: expected quality error", p.Format)
		}
	}
}

func TestNative_DecodeGarbage(t *testing.T) {
	if _, err := NewNative().Decode([]byte("not an image")); err == nil {
		t.Fatal("expected decode error")
	}
}

func TestNative_RawRejectsNonBMP(t *testing.T) {
	c := NewNative()
	src, _ := c.Decode(encodePNG(t, gradient(4, 4)))
	if _, err := c.Encode(src, encodeplan.Build(formats.PPM, "", "")); err == nil {
		t.Fatal("expected error encoding ppm")
	}
}

func TestPPM_NearestNeighborToPNG(t *testing.T) {
	var ppm bytes.Buffer
	ppm.WriteString("P6\n4 2\n255\n")
	for i := 0; i < 8; i++ {
		ppm.Write([]byte{255, 0, 0})
	}

	c := NewPPM()
	img, err := c.Decode(ppm.Bytes())
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	img, err = c.Resize(img, resize.Plan{Width: 100, Height: 50, Fit: resize.Fill})
	if err != nil {
		t.Fatalf("Resize: %v", err)
	}
	out, err := c.Encode(img, encodeplan.Build(formats.WebP, "80", ""))
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	decoded, err := png.Decode(bytes.NewReader(out))
	if err != nil {
		t.Fatalf("output is not PNG: %v", err)
	}
	if b := decoded.Bounds(); b.Dx() != 100 || b.Dy() != 50 {
		t.Errorf("output %dx%d, want 100x50", b.Dx(), b.Dy())
	}
	r, g, _, _ := decoded.At(99, 49).RGBA()
	if r>>8 != 255 || g != 0 {
		t.Errorf("nearest-neighbor pixel = %d,%d, want pure red", r>>8, g)
	}
}

func TestPNGLevel(t *testing.T) {
	tests := map[int]png.CompressionLevel{
		0: png.NoCompression,
		2: png.BestSpeed,
		5: png.DefaultCompression,
		9: png.BestCompression,
	}
	for in, want := range tests {
		if got := pngLevel(in); got != want {
			t.Errorf("pngLevel(%d) = %v, want %v", in, got, want)
		}
	}
}

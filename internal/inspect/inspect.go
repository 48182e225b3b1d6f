// Package inspect sniffs uploaded bytes: content type, dimensions and the
// EXIF fields that matter for conversion.
package inspect

import (
	"bytes"
	"image"
	"path/filepath"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/rwcarlsen/goexif/exif"
	"github.com/sirupsen/logrus"

	"image-converter-go/internal/formats"

	// decoders needed by image.DecodeConfig
	_ "image/jpeg"
	_ "image/png"

	_ "github.com/gen2brain/avif"
	_ "github.com/spakin/netpbm"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// Inspector extracts Info from raw bytes.
type Inspector struct {
	logger *logrus.Logger
}

// New returns an Inspector. logger may be nil.
func New(logger *logrus.Logger) *Inspector {
	if logger == nil {
		logger = logrus.New()
	}
	return &Inspector{logger: logger}
}

// Inspect examines data. name is the client-supplied file name and is only
// consulted for the netpbm fallback when sniffing is inconclusive.
func (i *Inspector) Inspect(data []byte, name string) Info {
	info := Info{}
	mt := mimetype.Detect(data)
	info.MIME = mt.String()
	if idx := strings.IndexByte(info.MIME, ';'); idx >= 0 {
		info.MIME = info.MIME[:idx]
	}

	switch {
	case IsNetpbm(data):
		info.MIME = "image/x-portable-pixmap"
		info.Container = ContainerNetpbm
	case strings.EqualFold(filepath.Ext(name), ".ppm") && !strings.HasPrefix(info.MIME, "image/"):
		info.Container = ContainerNetpbm
	default:
		info.Container = ContainerStandard
	}

	info.IsImage = strings.HasPrefix(info.MIME, "image/")
	if spec, ok := formats.FromMIME(info.MIME); ok {
		info.Format = spec.ID
		info.Registered = true
	}

	if cfg, _, err := image.DecodeConfig(bytes.NewReader(data)); err == nil {
		info.Width, info.Height = cfg.Width, cfg.Height
		info.IsImage = true
	}

	if info.Format == formats.JPG || info.Format == formats.TIFF {
		i.readEXIF(data, &info)
	}
	return info
}

// IsNetpbm reports whether data starts with a P3 (ASCII) or P6 (binary)
// pixmap header.
func IsNetpbm(data []byte) bool {
	if len(data) < 3 || data[0] != 'P' || (data[1] != '3' && data[1] != '6') {
		return false
	}
	switch data[2] {
	case ' ', '\t', '\n', '\r':
		return true
	}
	return false
}

// readEXIF fills orientation, capture date and camera model when present.
func (i *Inspector) readEXIF(data []byte, info *Info) {
	x, err := exif.Decode(bytes.NewReader(data))
	if err != nil {
		i.logger.Debugf("No EXIF data: %v", err)
		return
	}

	if tag, err := x.Get(exif.Orientation); err == nil {
		if v, err := tag.Int(0); err == nil {
			info.Orientation = Orientation(v)
		}
	}

	if tm, err := x.DateTime(); err == nil {
		info.TakenAt = &tm
	} else if tag, err := x.Get(exif.DateTimeOriginal); err == nil {
		if s, err := tag.StringVal(); err == nil {
			info.TakenAt = parseEXIFDateTime(s)
		}
	}

	if tag, err := x.Get(exif.Model); err == nil {
		if s, err := tag.StringVal(); err == nil {
			info.Camera = strings.TrimSpace(s)
		}
	}
}

// parseEXIFDateTime returns nil if s matches none of the known layouts.
func parseEXIFDateTime(s string) *time.Time {
	layouts := []string{
		"2006:01:02 15:04:05",
		"2006-01-02 15:04:05",
		"2006:01:02",
		time.RFC3339,
	}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, strings.TrimSpace(s)); err == nil {
			return &t
		}
	}
	return nil
}

package inspect

import (
	"time"

	"image-converter-go/internal/formats"
)

// Container is the decoding path a source needs.
type Container int

const (
	ContainerUnknown Container = iota
	// ContainerStandard is handled by the primary codec.
	ContainerStandard
	// ContainerNetpbm goes through the dedicated PPM path.
	ContainerNetpbm
)

// Info describes a source image without decoding its pixels.
type Info struct {
	MIME        string
	Format      formats.ID // empty when the type is not registered
	Registered  bool
	IsImage     bool
	Container   Container
	Width       int
	Height      int
	Orientation Orientation
	TakenAt     *time.Time
	Camera      string
}

// Orientation is the EXIF orientation tag (1-8). Zero means absent.
type Orientation int

// String returns a human-readable description of the orientation.
func (o Orientation) String() string {
	switch o {
	case 1:
		return "Normal"
	case 2:
		return "Mirrored horizontal"
	case 3:
		return "Rotated 180"
	case 4:
		return "Mirrored vertical"
	case 5:
		return "Mirrored horizontal, rotated 270"
	case 6:
		return "Rotated 90"
	case 7:
		return "Mirrored horizontal, rotated 90"
	case 8:
		return "Rotated 270"
	default:
		return "Unknown"
	}
}

// String returns the container name.
func (c Container) String() string {
	switch c {
	case ContainerStandard:
		return "standard"
	case ContainerNetpbm:
		return "netpbm"
	default:
		return "unknown"
	}
}

// SwapsAxes reports whether applying the orientation exchanges width and
// height.
func (o Orientation) SwapsAxes() bool {
	return o >= 5 && o <= 8
}

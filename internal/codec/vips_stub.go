//go:build !vips

package codec

import "errors"

func newVips() (Codec, error) {
	return nil, errors.New("vips codec not compiled in, rebuild with -tags vips")
}

// Shutdown releases codec resources. Nothing to do without libvips.
func Shutdown() {}

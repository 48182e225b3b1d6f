// Package resize derives the output box for a conversion from the requested
// dimensions, the aspect-ratio flag and the upscale policy.
package resize

import "math"

// Fit is the policy used to map the source into the target box.
type Fit int

const (
	Exact Fit = iota
	ContainNoUpscale
	ContainAllowUpscale
	Fill
)

func (f Fit) String() string {
	switch f {
	case Exact:
		return "exact"
	case ContainNoUpscale:
		return "contain_no_upscale"
	case ContainAllowUpscale:
		return "contain_allow_upscale"
	case Fill:
		return "fill"
	default:
		return "unknown"
	}
}

// Request holds the client-supplied resize settings. Width and Height of
// zero or less mean "not requested".
type Request struct {
	Width           int
	Height          int
	KeepAspectRatio bool
	AllowUpscale    bool
}

// Plan is the resolved output geometry.
type Plan struct {
	Width  int
	Height int
	Fit    Fit
}

// IsIdentity reports whether applying the plan to a srcW x srcH image would
// leave it unchanged.
func (p Plan) IsIdentity(srcW, srcH int) bool {
	return p.Width == srcW && p.Height == srcH
}

// UpscaleEligible reports whether the request may enlarge the source. Both
// dimensions must be given; the flag can only narrow that permission.
func (r Request) UpscaleEligible() bool {
	return r.AllowUpscale && r.Width > 0 && r.Height > 0
}

// Compute resolves r against the decoded source dimensions.
func Compute(r Request, srcW, srcH int) Plan {
	w, h := r.Width, r.Height
	if w <= 0 {
		w = 0
	}
	if h <= 0 {
		h = 0
	}
	if w == 0 && h == 0 {
		return Plan{Width: srcW, Height: srcH, Fit: Exact}
	}

	if !r.KeepAspectRatio {
		if w == 0 {
			w = srcW
		}
		if h == 0 {
			h = srcH
		}
		return Plan{Width: w, Height: h, Fit: Fill}
	}

	fit := ContainNoUpscale
	if r.UpscaleEligible() {
		fit = ContainAllowUpscale
	}
	if srcW <= 0 || srcH <= 0 {
		return Plan{Width: srcW, Height: srcH, Fit: fit}
	}

	scale := math.Inf(1)
	if w > 0 {
		scale = float64(w) / float64(srcW)
	}
	if h > 0 {
		scale = math.Min(scale, float64(h)/float64(srcH))
	}
	if fit == ContainNoUpscale {
		scale = math.Min(scale, 1)
	}

	return Plan{
		Width:  max(1, int(math.Round(float64(srcW)*scale))),
		Height: max(1, int(math.Round(float64(srcH)*scale))),
		Fit:    fit,
	}
}

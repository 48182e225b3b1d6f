package converter

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"image-converter-go/internal/apperr"
	"image-converter-go/internal/codec"
	"image-converter-go/internal/encodeplan"
	"image-converter-go/internal/formats"
	"image-converter-go/internal/inspect"
	"image-converter-go/internal/logger"
	"image-converter-go/internal/resize"
	"image-converter-go/internal/statistics"
)

// Options configures a DefaultConverter. Zero values pick the native codec,
// no size limit and no format allow-list.
type Options struct {
	Codec          codec.Codec
	PPM            codec.Codec
	MaxFileBytes   int64
	AllowedFormats []string
	Logger         *logrus.Logger
	Stats          *statistics.Statistics
}

// DefaultConverter is the default implementation of the Converter interface.
type DefaultConverter struct {
	codec     codec.Codec
	ppm       codec.Codec
	inspector *inspect.Inspector
	maxBytes  int64
	allowed   map[formats.ID]struct{}
	log       *logrus.Logger
	stats     *statistics.Statistics
}

// NewDefaultConverter creates a new DefaultConverter instance.
func NewDefaultConverter(opts Options) *DefaultConverter {
	if opts.Codec == nil {
		opts.Codec = codec.NewNative()
	}
	if opts.PPM == nil {
		opts.PPM = codec.NewPPM()
	}
	if opts.Logger == nil {
		opts.Logger = logger.Discard()
	}
	if opts.Stats == nil {
		opts.Stats = statistics.NewStatistics()
	}
	var allowed map[formats.ID]struct{}
	if len(opts.AllowedFormats) > 0 {
		allowed = make(map[formats.ID]struct{}, len(opts.AllowedFormats))
		for _, f := range opts.AllowedFormats {
			allowed[formats.ID(f)] = struct{}{}
		}
	}
	return &DefaultConverter{
		codec:     opts.Codec,
		ppm:       opts.PPM,
		inspector: inspect.New(opts.Logger),
		maxBytes:  opts.MaxFileBytes,
		allowed:   allowed,
		log:       opts.Logger,
		stats:     opts.Stats,
	}
}

// Validate checks the target format and the source size.
func (c *DefaultConverter) Validate(req Request) error {
	if _, err := formats.LookupOutput(string(req.TargetFormat)); err != nil {
		return apperr.WithFile(err, req.SourceName)
	}
	if c.allowed != nil {
		if _, ok := c.allowed[req.TargetFormat]; !ok {
			return apperr.WithFile(apperr.UnsupportedFormat(string(req.TargetFormat)), req.SourceName)
		}
	}
	if len(req.Source) == 0 {
		return apperr.New(apperr.KindInvalidRequest, apperr.StageValidation, req.SourceName, errors.New("empty source"))
	}
	if c.maxBytes > 0 && int64(len(req.Source)) > c.maxBytes {
		return apperr.New(apperr.KindFileTooLarge, apperr.StageValidation, req.SourceName,
			fmt.Errorf("%d bytes exceeds limit of %d", len(req.Source), c.maxBytes))
	}
	return nil
}

// Convert performs one conversion.
func (c *DefaultConverter) Convert(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()
	log := logger.WithConversion(c.log, req.SourceName, string(req.TargetFormat))

	if err := c.Validate(req); err != nil {
		c.stats.IncrementValidationFailures()
		log.WithError(err).Debug("Rejected conversion request")
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, apperr.New(apperr.KindCancelled, apperr.StageValidation, req.SourceName, err)
	}

	info := c.inspector.Inspect(req.Source, req.SourceName)
	netpbm := info.Container == inspect.ContainerNetpbm
	if !netpbm && info.IsImage && !info.Registered {
		err := apperr.New(apperr.KindUnsupportedFormat, apperr.StageDecode, req.SourceName,
			fmt.Errorf("unsupported source format %q", info.MIME))
		c.fail(req, err)
		return nil, err
	}

	cd := c.codec
	if netpbm {
		cd = c.ppm
	}

	img, err := cd.Decode(req.Source)
	if err != nil {
		e := apperr.New(apperr.KindDecode, apperr.StageDecode, req.SourceName, err)
		c.fail(req, e)
		return nil, e
	}

	var plan resize.Plan
	if netpbm {
		plan = fillPlan(req, img.Width(), img.Height())
	} else {
		plan = resize.Compute(req.ResizeRequest(), img.Width(), img.Height())
	}

	resized := !plan.IsIdentity(img.Width(), img.Height())
	if resized {
		img, err = cd.Resize(img, plan)
		if err != nil {
			e := apperr.New(apperr.KindEncode, apperr.StageResize, req.SourceName, err)
			c.fail(req, e)
			return nil, e
		}
	}

	target := req.TargetFormat
	if netpbm {
		target = formats.PNG
	}
	encPlan := encodeplan.Build(target, req.Quality, req.Compression)

	out, err := cd.Encode(img, encPlan)
	if err != nil {
		e := apperr.New(apperr.KindEncode, apperr.StageEncode, req.SourceName, err)
		c.fail(req, e)
		return nil, e
	}

	spec, _ := formats.Lookup(string(target))
	res := &Result{
		Bytes:        out,
		MIMEType:     spec.MIMEType,
		FileName:     OutputName(req.SourceName, spec.Extension),
		Format:       target,
		SourceFormat: info.Format,
		Width:        img.Width(),
		Height:       img.Height(),
		Resize:       plan,
		Plan:         encPlan,
		Duration:     time.Since(start),
	}

	if netpbm {
		c.stats.IncrementPPM()
	}
	c.stats.RecordConversion(string(target), len(req.Source), len(out), resized)
	log.WithFields(logrus.Fields{
		"codec":    cd.Name(),
		"width":    res.Width,
		"height":   res.Height,
		"fit":      plan.Fit.String(),
		"quality":  encPlan.Quality,
		"bytes":    len(out),
		"duration": res.Duration.String(),
	}).WithFields(logrus.Fields(encPlan.Extra())).Info("Image converted")

	return res, nil
}

func (c *DefaultConverter) fail(req Request, err *apperr.Error) {
	c.stats.AddError(req.SourceName, string(err.Stage), err.Error())
	logger.WithOperation(c.log, string(err.Stage)).
		WithFields(logrus.Fields{
			"file":   req.SourceName,
			"format": string(req.TargetFormat),
			"kind":   string(err.Kind),
		}).
		WithError(err.Err).
		Warn("Conversion failed")
}

// fillPlan stretches to the requested box; an absent axis keeps the source
// size.
func fillPlan(req Request, srcW, srcH int) resize.Plan {
	w, h := req.Width, req.Height
	if w <= 0 {
		w = srcW
	}
	if h <= 0 {
		h = srcH
	}
	fit := resize.Fill
	if w == srcW && h == srcH {
		fit = resize.Exact
	}
	return resize.Plan{Width: w, Height: h, Fit: fit}
}

// OutputName replaces the last extension of name with ext.
func OutputName(name, ext string) string {
	base := filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	base = strings.TrimSuffix(base, filepath.Ext(base))
	if base == "" || base == "." || base == "/" {
		base = "image"
	}
	return base + "." + ext
}

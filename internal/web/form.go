package web

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"image-converter-go/internal/apperr"
	"image-converter-go/internal/converter"
	"image-converter-go/internal/formats"
)

const (
	maxMultipartMemory = 32 << 20
	maxFieldBytes      = 4 << 10
	maxDimension       = 16384
)

// ConversionForm holds the conversion settings of a multipart request.
type ConversionForm struct {
	Format          string `validate:"required,max=16"`
	Quality         string `validate:"omitempty,max=16"`
	Compression     string `validate:"omitempty,max=16"`
	Width           int    `validate:"gte=0,lte=16384"`
	Height          int    `validate:"gte=0,lte=16384"`
	KeepAspectRatio bool
	AllowUpscale    bool
}

// parseConversionForm reads the settings from the submitted form values.
// Dimensions that are absent, non-numeric or not positive count as absent.
func parseConversionForm(values url.Values) ConversionForm {
	f := ConversionForm{
		Format:      strings.TrimSpace(values.Get("format")),
		Quality:     values.Get("quality"),
		Compression: values.Get("compression"),
		Width:       parseDimension(values.Get("width")),
		Height:      parseDimension(values.Get("height")),
		// only an explicit "false" disables these
		KeepAspectRatio: firstValue(values, "keep_aspect_ratio", "keepAspectRatio") != "false",
		AllowUpscale:    values.Get("upscale") != "false",
	}
	if f.Width == 0 && f.Height == 0 {
		f.Width, f.Height = parseResolution(values.Get("resolution"))
	}
	return f
}

func firstValue(values url.Values, keys ...string) string {
	for _, k := range keys {
		if v := values.Get(k); v != "" {
			return v
		}
	}
	return ""
}

func parseDimension(s string) int {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		f, ferr := strconv.ParseFloat(s, 64)
		if ferr != nil {
			return 0
		}
		v = int(f)
	}
	if v < 0 {
		return 0
	}
	return v
}

// parseResolution accepts "W,H" and "WxH".
func parseResolution(s string) (int, int) {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" {
		return 0, 0
	}
	sep := ","
	if !strings.Contains(s, sep) {
		sep = "x"
	}
	parts := strings.SplitN(s, sep, 2)
	if len(parts) != 2 {
		return 0, 0
	}
	return parseDimension(parts[0]), parseDimension(parts[1])
}

// validateForm runs the struct validator and converts its findings into
// an InvalidRequest error with per-field messages.
func (s *Server) validateForm(f ConversionForm) (map[string]string, error) {
	err := s.validate.Struct(f)
	if err == nil {
		return nil, nil
	}
	fields := map[string]string{}
	if verrs, ok := err.(validator.ValidationErrors); ok {
		for _, e := range verrs {
			switch e.Tag() {
			case "required":
				fields[e.Field()] = "is required"
			case "max":
				fields[e.Field()] = "exceeds maximum length"
			case "gte", "lte":
				fields[e.Field()] = fmt.Sprintf("out of allowed range [0, %d]", maxDimension)
			default:
				fields[e.Field()] = "invalid value"
			}
		}
	}
	return fields, apperr.New(apperr.KindInvalidRequest, apperr.StageValidation, "", err)
}

// request builds a converter.Request for one uploaded file.
func (f ConversionForm) request(name string, data []byte) converter.Request {
	return converter.Request{
		Source:          data,
		SourceName:      name,
		TargetFormat:    formats.ID(f.Format),
		Quality:         f.Quality,
		Compression:     f.Compression,
		Width:           f.Width,
		Height:          f.Height,
		KeepAspectRatio: f.KeepAspectRatio,
		AllowUpscale:    f.AllowUpscale,
	}
}

// readUpload reads one multipart file, refusing anything above limit bytes.
func readUpload(fh *multipart.FileHeader, limit int64) ([]byte, error) {
	if limit > 0 && fh.Size > limit {
		return nil, apperr.New(apperr.KindFileTooLarge, apperr.StageValidation, fh.Filename,
			fmt.Errorf("%d bytes exceeds limit of %d", fh.Size, limit))
	}
	file, err := fh.Open()
	if err != nil {
		return nil, apperr.New(apperr.KindInvalidRequest, apperr.StageValidation, fh.Filename, err)
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, apperr.New(apperr.KindInvalidRequest, apperr.StageValidation, fh.Filename, err)
	}
	return data, nil
}

// uploadedFiles returns the file parts under the given field names, in
// submission order per field.
func uploadedFiles(r *http.Request, fields ...string) []*multipart.FileHeader {
	if r.MultipartForm == nil {
		return nil
	}
	var out []*multipart.FileHeader
	for _, f := range fields {
		out = append(out, r.MultipartForm.File[f]...)
	}
	return out
}

type uploadedFile struct {
	name string
	data []byte
}

// batchUpload is a streamed batch request: its form values followed by the
// query string, and the file parts in submission order.
type batchUpload struct {
	values url.Values
	files  []uploadedFile
}

// readBatchUpload streams a multipart body. File parts under fileFields are
// counted as they arrive, so the part after maxFiles is rejected with
// TooManyFiles before it is read; each file is capped at maxBytes.
func readBatchUpload(r *http.Request, maxFiles int, maxBytes int64, fileFields ...string) (*batchUpload, error) {
	mr, err := r.MultipartReader()
	if err != nil {
		return nil, err
	}

	up := &batchUpload{values: url.Values{}}
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}

		field := part.FormName()
		if part.FileName() == "" {
			value, err := readPart(part, maxFieldBytes)
			part.Close()
			if errors.Is(err, errPartTooLarge) {
				return nil, apperr.New(apperr.KindInvalidRequest, apperr.StageValidation, "",
					fmt.Errorf("field %q exceeds %d bytes", field, maxFieldBytes))
			}
			if err != nil {
				return nil, err
			}
			up.values.Add(field, string(value))
			continue
		}
		if !slices.Contains(fileFields, field) {
			part.Close()
			continue
		}

		if len(up.files) >= maxFiles {
			part.Close()
			return nil, apperr.New(apperr.KindTooManyFiles, apperr.StageValidation, part.FileName(),
				fmt.Errorf("more than %d files submitted", maxFiles))
		}
		data, err := readPart(part, maxBytes)
		part.Close()
		if err != nil {
			if errors.Is(err, errPartTooLarge) {
				return nil, apperr.New(apperr.KindFileTooLarge, apperr.StageValidation, part.FileName(),
					fmt.Errorf("exceeds limit of %d bytes", maxBytes))
			}
			return nil, err
		}
		up.files = append(up.files, uploadedFile{name: part.FileName(), data: data})
	}

	for k, v := range r.URL.Query() {
		up.values[k] = append(up.values[k], v...)
	}
	return up, nil
}

var errPartTooLarge = errors.New("part exceeds size limit")

// readPart reads at most limit bytes of p; a longer part is an error.
func readPart(p *multipart.Part, limit int64) ([]byte, error) {
	if limit <= 0 {
		return io.ReadAll(p)
	}
	data, err := io.ReadAll(io.LimitReader(p, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, errPartTooLarge
	}
	return data, nil
}

package web

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"image-converter-go/internal/apperr"
	"image-converter-go/internal/batch"
	"image-converter-go/internal/converter"
	"image-converter-go/internal/formats"
)

// parseUpload bounds the request body and parses the multipart form.
func (s *Server) parseUpload(w http.ResponseWriter, r *http.Request) bool {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxFileBytes()+1<<20)

	if err := r.ParseMultipartForm(maxMultipartMemory); err != nil {
		s.writeUploadError(w, err)
		return false
	}
	return true
}

// writeUploadError answers a failure to read the request body.
func (s *Server) writeUploadError(w http.ResponseWriter, err error) {
	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &tooLarge):
		s.writeAppError(w, apperr.New(apperr.KindFileTooLarge, apperr.StageValidation, "", err))
	case errors.Is(err, http.ErrNotMultipart):
		s.writeError(w, "invalid content type, expected multipart/form-data", http.StatusBadRequest)
	default:
		if _, ok := apperr.As(err); ok {
			s.writeAppError(w, err)
			return
		}
		s.writeError(w, "failed to parse upload: "+err.Error(), http.StatusBadRequest)
	}
}

func (s *Server) parseSettings(w http.ResponseWriter, values url.Values) (ConversionForm, bool) {
	form := parseConversionForm(values)
	if fields, err := s.validateForm(form); err != nil {
		s.stats.IncrementValidationFailures()
		e, _ := apperr.As(err)
		s.writeErrorData(w, "invalid conversion settings", http.StatusBadRequest, &ErrorData{
			Kind:   e.Kind,
			Stage:  e.Stage,
			Fields: fields,
		})
		return form, false
	}
	return form, true
}

func (s *Server) handleConvert(w http.ResponseWriter, r *http.Request) {
	s.stats.IncrementRequests()
	if !s.parseUpload(w, r) {
		return
	}
	defer r.MultipartForm.RemoveAll()

	form, ok := s.parseSettings(w, r.Form)
	if !ok {
		return
	}

	files := uploadedFiles(r, "image", "file")
	if len(files) == 0 {
		s.writeError(w, `missing image file: form field key should be "image"`, http.StatusBadRequest)
		return
	}

	data, err := readUpload(files[0], s.cfg.MaxFileBytes())
	if err != nil {
		s.writeAppError(w, err)
		return
	}

	res, err := s.conv.Convert(r.Context(), form.request(files[0].Filename, data))
	if err != nil {
		s.writeAppError(w, err)
		return
	}

	w.Header().Set("Content-Type", res.MIMEType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", res.FileName))
	w.Header().Set("Content-Length", strconv.Itoa(len(res.Bytes)))
	w.Header().Set("X-Image-Width", strconv.Itoa(res.Width))
	w.Header().Set("X-Image-Height", strconv.Itoa(res.Height))
	w.Header().Set("X-Encode-Quality", strconv.Itoa(res.Plan.Quality))
	w.Header().Set("X-Resize-Fit", res.Resize.Fit.String())
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(res.Bytes)
}

// handleConvertBatch streams the upload so that an extra file is refused
// when its part header arrives, before any file is decoded.
func (s *Server) handleConvertBatch(w http.ResponseWriter, r *http.Request) {
	s.stats.IncrementRequests()
	maxFiles := s.coord.MaxFiles()
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxFileBytes()*int64(maxFiles)+1<<20)

	up, err := readBatchUpload(r, maxFiles, s.cfg.MaxFileBytes(), "files", "file")
	if err != nil {
		if apperr.KindOf(err) == apperr.KindTooManyFiles {
			s.stats.IncrementValidationFailures()
		}
		s.writeUploadError(w, err)
		return
	}

	form, ok := s.parseSettings(w, up.values)
	if !ok {
		return
	}

	if len(up.files) == 0 {
		s.writeError(w, `missing files: form field key should be "files"`, http.StatusBadRequest)
		return
	}

	reqs := make([]converter.Request, 0, len(up.files))
	for _, f := range up.files {
		reqs = append(reqs, form.request(f.name, f.data))
	}

	sessionID := strings.TrimSpace(r.URL.Query().Get("session_id"))
	if sessionID == "" {
		sessionID = strings.TrimSpace(up.values.Get("session_id"))
	}
	if sessionID == "" {
		sessionID = batch.NewSessionID()
	}

	archive, err := s.coord.ConvertBatch(r.Context(), sessionID, reqs)
	if err != nil {
		s.writeAppError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", `attachment; filename="converted_images.zip"`)
	w.Header().Set("Content-Length", strconv.Itoa(len(archive)))
	w.Header().Set("X-Session-ID", sessionID)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(archive)
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, APIResponse{
		Success: true,
		Data:    map[string]string{"session_id": batch.NewSessionID()},
	})
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, APIResponse{
		Success: true,
		Data:    s.coord.Sessions(),
	})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	session, ok := s.coord.Session(id)
	if !ok {
		s.writeError(w, "session not found", http.StatusNotFound)
		return
	}
	s.writeJSON(w, APIResponse{
		Success: true,
		Data:    session,
	})
}

func (s *Server) handleCancelSession(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if !s.coord.Cancel(id) {
		s.writeError(w, "session not found", http.StatusNotFound)
		return
	}
	s.log.WithField("session", id).Info("Batch cancellation requested")
	s.writeJSON(w, APIResponse{
		Success: true,
		Message: "Cancellation requested",
	})
}

func (s *Server) handleFormats(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, APIResponse{
		Success: true,
		Data: map[string]interface{}{
			"formats":         formats.All(),
			"allowed_outputs": s.cfg.Conversion.AllowedFormats,
			"max_files":       s.coord.MaxFiles(),
			"max_file_size":   s.cfg.MaxFileBytes(),
		},
	})
}

func (s *Server) handleGetStatistics(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, APIResponse{
		Success: true,
		Data: map[string]interface{}{
			"summary":  s.stats.GetSummary(),
			"counters": s.stats.Snapshot(),
		},
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.wsMutex.RLock()
	watchers := len(s.wsClients)
	s.wsMutex.RUnlock()

	s.writeJSON(w, APIResponse{
		Success: true,
		Data: map[string]interface{}{
			"status":           "ok",
			"codec":            s.cfg.Conversion.Codec,
			"progress_backend": s.cfg.Progress.Backend,
			"active_sessions":  len(s.coord.Sessions()),
			"watchers":         watchers,
		},
	})
}

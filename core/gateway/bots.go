package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/botify/catalog/core/catalog"
	"github.com/botify/catalog/core/infra/buildinfo"
	"github.com/botify/catalog/core/infra/logging"
)

const formFileField = "file"

type listResponse struct {
	Bots  []*catalog.Record `json:"bots"`
	Count int               `json:"count"`
}

type searchResponse struct {
	Results []*catalog.Record `json:"results"`
	Count   int               `json:"count"`
	Query   string            `json:"query"`
}

type submitResponse struct {
	BotID string          `json:"bot_id"`
	Bot   *catalog.Record `json:"bot"`
}

type statsResponse struct {
	catalog.Stats
	APIVersion string `json:"api_version"`
}

type validateResponse struct {
	Valid     bool     `json:"valid"`
	FileCount int      `json:"file_count"`
	Size      int64    `json:"size"`
	Entries   []string `json:"entries"`
}

type downloadResponse struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Downloads int64  `json:"downloads"`
}

type ratingRequest struct {
	Rating json.RawMessage `json:"rating"`
}

type ratingResponse struct {
	ID           string  `json:"id"`
	Rating       float64 `json:"rating"`
	RatingsCount int64   `json:"ratings_count"`
}

func (s *server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.svc.Stats(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, statsResponse{Stats: stats, APIVersion: buildinfo.APIVersion})
}

func (s *server) handleListBots(w http.ResponseWriter, r *http.Request) {
	if q := strings.TrimSpace(r.URL.Query().Get("q")); q != "" {
		s.search(w, r, q)
		return
	}
	records, err := s.svc.List(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse{Bots: records, Count: len(records)})
}

func (s *server) handleSearchBots(w http.ResponseWriter, r *http.Request) {
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	if q == "" {
		writeBadRequest(w, "query parameter q required")
		return
	}
	s.search(w, r, q)
}

func (s *server) search(w http.ResponseWriter, r *http.Request, q string) {
	records, err := s.svc.Search(r.Context(), q)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, searchResponse{Results: records, Count: len(records), Query: q})
}

func (s *server) handleGetBot(w http.ResponseWriter, r *http.Request) {
	rec, err := s.svc.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *server) handleSubmitBot(w http.ResponseWriter, r *http.Request) {
	file, form, ok := s.archiveUpload(w, r)
	if !ok {
		return
	}
	defer file.Close()
	defer func() { _ = form.RemoveAll() }()

	fields := catalog.Fields{
		Name:        formValue(form, "name"),
		Description: formValue(form, "description"),
		Author:      formValue(form, "author"),
		Tags:        formValue(form, "tags"),
		Owner:       ownerFromRequest(r),
	}
	rec, err := s.svc.Submit(r.Context(), file, fields)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, submitResponse{BotID: rec.ID, Bot: rec})
}

func (s *server) handleValidateArchive(w http.ResponseWriter, r *http.Request) {
	s.inspect(w, r, func(in *catalog.Inspection) any {
		return validateResponse{Valid: true, FileCount: in.FileCount, Size: in.Size, Entries: in.Entries}
	})
}

func (s *server) handleInspectArchive(w http.ResponseWriter, r *http.Request) {
	s.inspect(w, r, func(in *catalog.Inspection) any { return in })
}

func (s *server) inspect(w http.ResponseWriter, r *http.Request, view func(*catalog.Inspection) any) {
	file, form, ok := s.archiveUpload(w, r)
	if !ok {
		return
	}
	defer file.Close()
	defer func() { _ = form.RemoveAll() }()

	in, err := s.svc.Inspect(r.Context(), file)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view(in))
}

func (s *server) handleRecordDownload(w http.ResponseWriter, r *http.Request) {
	rec, err := s.svc.RecordDownload(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, downloadResponse{ID: rec.ID, Name: rec.Name, Downloads: rec.Downloads})
}

func (s *server) handleDownloadBot(w http.ResponseWriter, r *http.Request) {
	content, rec, err := s.svc.Download(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Length", strconv.Itoa(len(content)))
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", archiveFilename(rec)))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(content); err != nil {
		logging.Warn("gateway", "download write failed", "id", rec.ID, "error", err)
	}
}

func (s *server) handleRateBot(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRatingBody)
	var req ratingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid json body")
		return
	}
	var rating float64
	if len(req.Rating) == 0 || json.Unmarshal(req.Rating, &rating) != nil {
		writeError(w, r, fmt.Errorf("%w: rating must be a number", catalog.ErrInvalidRating))
		return
	}
	rec, err := s.svc.RecordRating(r.Context(), r.PathValue("id"), rating)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ratingResponse{ID: rec.ID, Rating: rec.Rating, RatingsCount: rec.RatingsCount})
}

// archiveUpload parses a multipart request and returns its archive part. On
// failure the response has already been written.
func (s *server) archiveUpload(w http.ResponseWriter, r *http.Request) (multipart.File, *multipart.Form, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, s.svc.MaxUploadBytes()+multipartOverhead)
	if err := r.ParseMultipartForm(maxFormMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, r, fmt.Errorf("%w: request exceeds %d bytes", catalog.ErrArchiveTooLarge, tooLarge.Limit))
			return nil, nil, false
		}
		writeBadRequest(w, "multipart form required")
		return nil, nil, false
	}
	file, _, err := r.FormFile(formFileField)
	if err != nil {
		_ = r.MultipartForm.RemoveAll()
		writeBadRequest(w, "no file provided")
		return nil, nil, false
	}
	return file, r.MultipartForm, true
}

func formValue(form *multipart.Form, key string) string {
	if vals := form.Value[key]; len(vals) > 0 {
		return strings.TrimSpace(vals[0])
	}
	return ""
}

func archiveFilename(rec *catalog.Record) string {
	name := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		case r == ' ' || r == '.':
			return '_'
		default:
			return -1
		}
	}, rec.Name)
	if name == "" {
		name = rec.ID
	}
	return name + ".zip"
}

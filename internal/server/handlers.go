package server

import (
	"errors"
	"fmt"
	"mime"
	"mime/multipart"
	"net/http"
	"strconv"

	"ingest/internal/ingest"
	"ingest/internal/parser"
)

// multipartMemory is how much of a multipart body is held in memory before
// spilling file parts to disk.
const multipartMemory = 8 << 20

type fileResult struct {
	File         string        `json:"file"`
	Status       string        `json:"status"`
	Table        string        `json:"table"`
	Message      string        `json:"message"`
	Rows         int           `json:"rows"`
	Action       ingest.Action `json:"action"`
	AddedColumns []string      `json:"added_columns,omitempty"`
}

type jsonResult struct {
	Status       string        `json:"status"`
	Message      string        `json:"message"`
	Table        string        `json:"table"`
	Rows         int           `json:"rows"`
	Action       ingest.Action `json:"action"`
	AddedColumns []string      `json:"added_columns,omitempty"`
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	mt, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mt == "multipart/form-data" {
		s.ingestFiles(w, r)
		return
	}
	s.ingestJSON(w, r)
}

// ingestFiles ingests each uploaded file in order and stops at the first
// failure. Files ingested before the failure stay committed.
func (s *Server) ingestFiles(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		writeError(w, bodyError("read multipart body", err))
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	files := r.MultipartForm.File["files"]
	if len(files) == 0 {
		files = r.MultipartForm.File["file"]
	}
	if len(files) == 0 {
		writeError(w, ingest.Validationf("no files in multipart field \"files\""))
		return
	}

	reqID := RequestIDFromContext(r.Context())
	results := make([]fileResult, 0, len(files))
	for _, fh := range files {
		out, err := s.ingestFile(r, fh)
		if err != nil {
			s.log.Warn("upload rejected", "request_id", reqID, "file", fh.Filename, "kind", ingest.KindOf(err), "error", err)
			writeError(w, err)
			return
		}
		results = append(results, fileResult{
			File:         fh.Filename,
			Status:       out.Status,
			Table:        out.Table,
			Message:      fmt.Sprintf("Data ingested into %s", out.Table),
			Rows:         out.Rows,
			Action:       out.Action,
			AddedColumns: out.AddedColumns,
		})
	}
	writeJSON(w, http.StatusOK, results)
}

func (s *Server) ingestFile(r *http.Request, fh *multipart.FileHeader) (ingest.Outcome, error) {
	table, err := s.svc.TableForFile(fh.Filename)
	if err != nil {
		return ingest.Outcome{}, err
	}
	f, err := fh.Open()
	if err != nil {
		return ingest.Outcome{}, fmt.Errorf("open upload %s: %w", fh.Filename, err)
	}
	defer f.Close()

	// required keys apply to JSON request bodies, not uploaded .json files
	opts := s.opts.Parser
	opts.JSON.RequiredKeys = nil
	ds, err := parser.Load(r.Context(), fh.Filename, f, opts)
	if err != nil {
		return ingest.Outcome{}, &ingest.ValidationError{Msg: "cannot load " + fh.Filename, Cause: err}
	}
	return s.svc.Ingest(r.Context(), table, ds)
}

func (s *Server) ingestJSON(w http.ResponseWriter, r *http.Request) {
	ds, err := parser.LoadFormat(r.Context(), parser.FormatJSON, "json", r.Body, s.opts.Parser)
	if err != nil {
		writeError(w, bodyError("invalid JSON body", err))
		return
	}
	out, err := s.svc.Ingest(r.Context(), s.svc.TableForJSON(), ds)
	if err != nil {
		s.log.Warn("json body rejected", "request_id", RequestIDFromContext(r.Context()), "kind", ingest.KindOf(err), "error", err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, jsonResult{
		Status:       out.Status,
		Message:      "Data ingested from JSON",
		Table:        out.Table,
		Rows:         out.Rows,
		Action:       out.Action,
		AddedColumns: out.AddedColumns,
	})
}

// bodyError keeps an oversized body distinguishable from a malformed one.
func bodyError(msg string, err error) error {
	var tooBig *http.MaxBytesError
	if errors.As(err, &tooBig) {
		return &ingest.ValidationError{Msg: "request body too large", Cause: err}
	}
	return &ingest.ValidationError{Msg: msg, Cause: err}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.Ping(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleIngestions(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 1000 {
			writeError(w, ingest.Validationf("limit must be an integer between 1 and 1000"))
			return
		}
		limit = n
	}
	recs, err := s.svc.RecentIngestions(r.Context(), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, recs)
}

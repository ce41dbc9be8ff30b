package server

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"masivos/internal/contacts"
	"masivos/internal/events"
	logx "masivos/pkg/logx"
)

const maxUploadBytes = 16 << 20

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = io.WriteString(w, "ok")
}

// handleUpload replaces the loaded contact list from a multipart CSV.
// The raw file is kept on disk under the uploads dir for audit.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	file, header, err := r.FormFile("csv")
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing csv file field")
		return
	}
	defer file.Close()

	dst := filepath.Join(s.uploadsDir, fmt.Sprintf("contacts-%d.csv", time.Now().UnixMilli()))
	out, err := os.Create(dst)
	if err != nil {
		s.log.Error("upload save failed", logx.String("path", dst), logx.Err(err))
		writeError(w, http.StatusInternalServerError, "could not store upload")
		return
	}
	if _, err := io.Copy(out, file); err != nil {
		out.Close()
		writeError(w, http.StatusInternalServerError, "could not store upload")
		return
	}
	if err := out.Close(); err != nil {
		writeError(w, http.StatusInternalServerError, "could not store upload")
		return
	}

	f, err := os.Open(dst)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "could not read upload")
		return
	}
	defer f.Close()
	rows, err := contacts.ParseCSV(f)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid csv: "+err.Error())
		return
	}

	s.contacts.Replace(rows, header.Filename)
	s.bus.Emit(events.TypeUpload, events.Upload{Count: len(rows), Filename: header.Filename})
	s.bus.Emit(events.TypeStatus, events.Status{
		Level:   events.LevelSuccess,
		Message: fmt.Sprintf("CSV cargado: %d filas.", len(rows)),
	})
	s.log.Info("contact list replaced",
		logx.String("file", header.Filename), logx.Int("rows", len(rows)))

	writeJSON(w, http.StatusOK, map[string]any{
		"ok": true, "count": len(rows), "filename": header.Filename,
	})
}

// handleReset clears the loaded contacts and per-account runtime state.
// Ledgers persist; they have their own endpoint.
func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	s.campaign.FullReset()
	s.bus.Emit(events.TypeStatus, events.Status{
		Level: events.LevelInfo, Message: "Estado reiniciado.",
	})
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleLedgerReset(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !s.campaign.Registry().Known(id) {
		writeError(w, http.StatusNotFound, "unknown account")
		return
	}
	if err := s.campaign.ResetLedger(id); err != nil {
		writeError(w, http.StatusInternalServerError, "ledger reset failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeError(w, http.StatusNotImplemented, "run history disabled")
		return
	}
	account := r.URL.Query().Get("account")
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}
	runs, err := s.history.RecentRuns(r.Context(), account, limit)
	if err != nil {
		s.log.Error("run history query failed", logx.Err(err))
		writeError(w, http.StatusInternalServerError, "history query failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "runs": runs})
}

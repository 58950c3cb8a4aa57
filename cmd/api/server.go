package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"transcript-classifier-go/internal/config"
	"transcript-classifier-go/internal/jobs"
	"transcript-classifier-go/internal/logger"
	"transcript-classifier-go/internal/pipeline"
	"transcript-classifier-go/internal/processor"
	"transcript-classifier-go/internal/types"
)

const maxPreviewRows = 50

type server struct {
	// jobs outlive their request; they stop with base
	base   context.Context
	runner *processor.Runner
	cfg    config.Config
}

func newServer(base context.Context, runner *processor.Runner, cfg config.Config) http.Handler {
	s := &server{base: base, runner: runner, cfg: cfg}
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		logger.New().WithRequest(r).Debug("health check")
		w.Write([]byte("ok"))
	})
	mux.HandleFunc("POST /analysis", s.startAnalysis)
	mux.HandleFunc("GET /jobs", s.listJobs)
	mux.HandleFunc("GET /jobs/{id}", s.getJob)
	mux.HandleFunc("GET /files", s.listFiles)
	mux.HandleFunc("GET /results", s.results)
	mux.HandleFunc("POST /classify", s.preview)
	return mux
}

func (s *server) startAnalysis(w http.ResponseWriter, r *http.Request) {
	reqLog := logger.New().WithRequest(r).WithField("handler", "analysis")
	var req processor.AnalysisRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, reqLog, http.StatusBadRequest, "invalid JSON body", err)
		return
	}
	id, err := s.runner.Start(s.base, req)
	switch {
	case errors.Is(err, processor.ErrInvalidFile):
		writeError(w, reqLog, http.StatusBadRequest, err.Error(), err)
		return
	case errors.Is(err, processor.ErrBusy):
		writeError(w, reqLog, http.StatusConflict, err.Error(), err)
		return
	case err != nil:
		writeError(w, reqLog, http.StatusInternalServerError, "could not start job", err)
		return
	}
	reqLog.WithFields(logrus.Fields{"job_id": id, "file": req.File}).Info("analysis job started")
	writeJSON(w, reqLog, http.StatusAccepted, map[string]string{"job_id": id, "status": jobs.StatusPending})
}

func (s *server) getJob(w http.ResponseWriter, r *http.Request) {
	reqLog := logger.New().WithRequest(r).WithField("handler", "job")
	j, err := s.runner.Store.Get(r.Context(), r.PathValue("id"))
	if errors.Is(err, jobs.ErrNotFound) {
		writeError(w, reqLog, http.StatusNotFound, "job not found", err)
		return
	}
	if err != nil {
		writeError(w, reqLog, http.StatusInternalServerError, "job lookup failed", err)
		return
	}
	writeJSON(w, reqLog, http.StatusOK, j)
}

func (s *server) listJobs(w http.ResponseWriter, r *http.Request) {
	reqLog := logger.New().WithRequest(r).WithField("handler", "jobs")
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	list, err := s.runner.Store.List(r.Context(), r.URL.Query().Get("type"), limit)
	if err != nil {
		writeError(w, reqLog, http.StatusInternalServerError, "job listing failed", err)
		return
	}
	if list == nil {
		list = []jobs.Job{}
	}
	writeJSON(w, reqLog, http.StatusOK, map[string]interface{}{"jobs": list, "count": len(list)})
}

type fileInfo struct {
	Filename    string    `json:"filename"`
	Size        int64     `json:"size"`
	Modified    time.Time `json:"modified"`
	HasAnalysis bool      `json:"has_analysis"`
}

func (s *server) listFiles(w http.ResponseWriter, r *http.Request) {
	reqLog := logger.New().WithRequest(r).WithField("handler", "files")
	entries, err := os.ReadDir(s.cfg.ExcelOutputDir)
	if err != nil && !os.IsNotExist(err) {
		writeError(w, reqLog, http.StatusInternalServerError, "could not list files", err)
		return
	}
	files := []fileInfo{}
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".xlsx") || strings.HasSuffix(name, pipeline.OutputSuffix) || strings.HasPrefix(name, ".") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		_, statErr := os.Stat(pipeline.DefaultOutputPath(filepath.Join(s.cfg.ExcelOutputDir, name)))
		files = append(files, fileInfo{
			Filename:    name,
			Size:        info.Size(),
			Modified:    info.ModTime(),
			HasAnalysis: statErr == nil,
		})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Modified.After(files[j].Modified) })
	writeJSON(w, reqLog, http.StatusOK, map[string]interface{}{"files": files, "count": len(files)})
}

func (s *server) results(w http.ResponseWriter, r *http.Request) {
	reqLog := logger.New().WithRequest(r).WithField("handler", "results")
	name := filepath.Base(r.URL.Query().Get("file"))
	if name == "." || name == "/" || !strings.HasSuffix(name, ".xlsx") {
		writeError(w, reqLog, http.StatusBadRequest, "file must name an .xlsx file", nil)
		return
	}
	path := filepath.Join(s.cfg.ExcelOutputDir, name)
	if !strings.HasSuffix(name, pipeline.OutputSuffix) {
		path = pipeline.DefaultOutputPath(path)
	}
	if _, err := os.Stat(path); err != nil {
		writeError(w, reqLog, http.StatusNotFound, "no analysis for "+name, err)
		return
	}
	rep, err := processor.Summarize(path, s.cfg)
	if err != nil {
		writeError(w, reqLog, http.StatusInternalServerError, "could not read results", err)
		return
	}
	writeJSON(w, reqLog, http.StatusOK, rep)
}

type previewRequest struct {
	Rows []struct {
		VideoID string `json:"video_id"`
		Text    string `json:"text"`
	} `json:"rows"`
	TargetPerson    string `json:"target_person,omitempty"`
	WithExplanation bool   `json:"with_explanation,omitempty"`
}

// preview classifies a handful of segments without touching any workbook.
// Only summaries already cached are used as context.
func (s *server) preview(w http.ResponseWriter, r *http.Request) {
	reqLog := logger.New().WithRequest(r).WithField("handler", "classify")
	var req previewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, reqLog, http.StatusBadRequest, "invalid JSON body", err)
		return
	}
	if len(req.Rows) == 0 || len(req.Rows) > maxPreviewRows {
		writeError(w, reqLog, http.StatusBadRequest, "rows must hold between 1 and "+strconv.Itoa(maxPreviewRows)+" segments", nil)
		return
	}

	p := s.runner.Pipeline
	rows := make([]types.Row, len(req.Rows))
	summaries := map[string]string{}
	for i, in := range req.Rows {
		rows[i] = types.Row{Index: i, EntityID: in.VideoID, Text: in.Text}
		if p.Summaries == nil || in.VideoID == "" {
			continue
		}
		if sum, ok, err := p.Summaries.Load(in.VideoID); err == nil && ok {
			summaries[in.VideoID] = sum
		}
	}
	target := s.cfg.Target()
	if req.TargetPerson != "" {
		target.Person = req.TargetPerson
	}
	target.WithExplanation = req.WithExplanation

	out, err := p.ClassifyRows(r.Context(), rows, summaries, target)
	if err != nil {
		writeError(w, reqLog, http.StatusBadGateway, "classification failed", err)
		return
	}
	writeJSON(w, reqLog, http.StatusOK, map[string]interface{}{"results": out})
}

func writeJSON(w http.ResponseWriter, log *logrus.Entry, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		log.WithError(err).Error("failed to write response")
	}
}

func writeError(w http.ResponseWriter, log *logrus.Entry, status int, msg string, err error) {
	entry := log.WithField("status", status)
	if err != nil {
		entry = entry.WithError(err)
	}
	if status >= 500 {
		entry.Error(msg)
	} else {
		entry.Warn(msg)
	}
	writeJSON(w, log, status, map[string]string{"error": msg})
}

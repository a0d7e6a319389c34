package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"irisnet/db"
	"irisnet/ml"
	"irisnet/pipeline"
)

func (s *Server) registerHandlers(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("GET /api/runs", s.handleRuns)
	mux.HandleFunc("GET /api/runs/{id}", s.handleRun)
	mux.HandleFunc("GET /api/runs/{id}/epochs", s.handleRunEpochs)
	mux.HandleFunc("GET /api/issues", s.handleIssues)
	mux.HandleFunc("GET /api/metrics", s.handleMetrics)
	mux.HandleFunc("GET /api/stats", s.handleStats)
	mux.HandleFunc("POST /api/train", s.handleTrain)
	mux.HandleFunc("POST /api/classify", s.handleClassify)
	mux.HandleFunc("GET /api/ws/training", s.hub.HandleWebSocket)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":   "ok",
		"training": s.runner.Running(),
		"hub":      s.hub.Stats(),
	})
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		l, err := strconv.Atoi(limitStr)
		if err != nil || l < 0 {
			respondError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = l
	}

	runs, err := s.store.ListRuns(r.Context(), limit)
	if err != nil {
		s.logger.Error("list runs failed", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"runs": runs})
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	run, ok := s.lookupRun(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, run)
}

func (s *Server) handleRunEpochs(w http.ResponseWriter, r *http.Request) {
	run, ok := s.lookupRun(w, r)
	if !ok {
		return
	}
	history, err := s.store.Epochs(r.Context(), run.ID)
	if err != nil {
		s.logger.Error("load epochs failed", zap.Int64("run_id", run.ID), zap.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to load epochs")
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"run_id": run.ID,
		"errors": history,
	})
}

// lookupRun resolves the {id} path value, writing the error response itself.
func (s *Server) lookupRun(w http.ResponseWriter, r *http.Request) (db.TrainingLog, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "run id must be an integer")
		return db.TrainingLog{}, false
	}
	run, err := s.store.GetRun(r.Context(), id)
	if errors.Is(err, db.ErrNotFound) {
		respondError(w, http.StatusNotFound, "run not found")
		return db.TrainingLog{}, false
	}
	if err != nil {
		s.logger.Error("load run failed", zap.Int64("run_id", id), zap.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to load run")
		return db.TrainingLog{}, false
	}
	return run, true
}

func (s *Server) handleIssues(w http.ResponseWriter, r *http.Request) {
	issues, err := s.store.Issues(r.Context(), 100)
	if err != nil {
		s.logger.Error("list issues failed", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to list data quality issues")
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"issues": issues})
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	_, _ = w.Write([]byte(s.metrics.ExportPrometheus()))
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.metrics.GetSystemStats())
}

func (s *Server) handleTrain(w http.ResponseWriter, r *http.Request) {
	err := s.runner.Start(s.ctx, func(result *pipeline.Result, err error) {
		if err != nil {
			return
		}
		if result.Model != nil && result.RunID > 0 {
			s.models.Add(modelKey(result.RunID, result.ModelPath), result.Model)
		}
	})
	if errors.Is(err, pipeline.ErrRunning) {
		respondError(w, http.StatusConflict, err.Error())
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]string{"status": "started"})
}

type classifyRequest struct {
	Measurements []float64 `json:"measurements"`
}

type classifyResponse struct {
	Label    string   `json:"label"`
	Class    int      `json:"class"`
	Distance float64  `json:"distance"`
	RunID    int64    `json:"run_id"`
	Features []string `json:"features"`
}

func (s *Server) handleClassify(w http.ResponseWriter, r *http.Request) {
	var req classifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	run, err := s.store.LatestRun(r.Context())
	if errors.Is(err, db.ErrNotFound) {
		respondError(w, http.StatusNotFound, "no trained model")
		return
	}
	if err != nil {
		s.logger.Error("load latest run failed", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to load latest run")
		return
	}

	model, err := s.model(run)
	if err != nil {
		s.logger.Error("load model failed", zap.String("path", run.ModelPath), zap.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to load model")
		return
	}
	if len(req.Measurements) != len(model.Features()) {
		respondError(w, http.StatusBadRequest, fmt.Sprintf("expected %d measurements (%v), got %d",
			len(model.Features()), model.Features(), len(req.Measurements)))
		return
	}

	class, distance, err := model.Predict(req.Measurements)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, classifyResponse{
		Label:    model.ClassName(class),
		Class:    class,
		Distance: distance,
		RunID:    run.ID,
		Features: model.Features(),
	})
}

// model returns the model of run, loading it on a cache miss.
func (s *Server) model(run db.TrainingLog) (*ml.Model, error) {
	key := modelKey(run.ID, run.ModelPath)
	if model, ok := s.models.Get(key); ok {
		return model, nil
	}
	model, err := ml.LoadModel(run.ModelPath)
	if err != nil {
		return nil, err
	}
	s.models.Add(key, model)
	return model, nil
}

// modelKey includes the run id because every run overwrites the same path.
func modelKey(runID int64, path string) string {
	return fmt.Sprintf("%d:%s", runID, path)
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"rebarquality/db"
	"rebarquality/predict"
	"rebarquality/quality"
	"rebarquality/session"
)

// RegisterHandlers 注册所有处理器
func (s *Server) RegisterHandlers(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/health", handleHealth)
	mux.HandleFunc("GET /api/options", handleOptions)
	mux.HandleFunc("GET /api/standards", handleStandards)
	mux.HandleFunc("POST /api/predict", s.handlePredict)
	mux.HandleFunc("GET /api/models", s.handleModels)
	mux.HandleFunc("GET /api/training/runs", s.handleTrainingRuns)

	mux.HandleFunc("GET /api/history", s.handleHistory)
	mux.HandleFunc("DELETE /api/history", s.handleClearHistory)
	mux.HandleFunc("GET /api/history/export", s.handleExportHistory)
	mux.HandleFunc("GET /api/ws/history", s.handleHistoryStream)

	mux.HandleFunc("POST /api/settings", s.handleSettings)
	mux.HandleFunc("POST /api/feedback", s.handleFeedback)
	mux.HandleFunc("POST /api/session/reset", s.handleSessionReset)

	mux.HandleFunc("GET /{$}", s.handleIndex)
	mux.HandleFunc("POST /predict", s.handlePredictForm)
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type optionsResponse struct {
	Diameters           []quality.Diameter         `json:"diameters"`
	Grades              []quality.Grade            `json:"grades"`
	Targets             []quality.Target           `json:"targets"`
	Fields              []quality.Field            `json:"fields"`
	Thresholds          map[quality.Target]float64 `json:"thresholds"`
	ConfidenceThreshold [2]float64                 `json:"confidence_threshold_range"`
}

func handleOptions(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, optionsResponse{
		Diameters:           quality.Diameters(),
		Grades:              quality.Grades(),
		Targets:             quality.Targets(),
		Fields:              quality.Fields(),
		Thresholds:          thresholds(),
		ConfidenceThreshold: [2]float64{session.MinThreshold, session.MaxThreshold},
	})
}

func handleStandards(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"thresholds":      thresholds(),
		"grade_standards": quality.Standards(),
	})
}

func thresholds() map[quality.Target]float64 {
	out := make(map[quality.Target]float64)
	for _, t := range quality.Targets() {
		out[t] = quality.Threshold(t)
	}
	return out
}

// predictBody is the JSON prediction request. Grade and target accept the
// same spellings as the form; every measurement group must be complete.
type predictBody struct {
	Diameter json.Number `json:"diameter"`
	Grade    string      `json:"grade"`
	Target   string      `json:"target"`
	Chem     []float64   `json:"chem"`
	Temp     []float64   `json:"temp"`
	Process  []float64   `json:"process"`
	Speed    float64     `json:"speed"`
}

func (b predictBody) request() (quality.Request, error) {
	var req quality.Request
	var err error
	if req.Diameter, err = quality.ParseDiameter(b.Diameter.String()); err != nil {
		return req, fmt.Errorf("%w: %v", quality.ErrInvalidRequest, err)
	}
	if req.Grade, err = quality.ParseGrade(b.Grade); err != nil {
		return req, fmt.Errorf("%w: %v", quality.ErrInvalidRequest, err)
	}
	if req.Target, err = quality.ParseTarget(b.Target); err != nil {
		return req, fmt.Errorf("%w: %v", quality.ErrInvalidRequest, err)
	}
	if err := fill(req.Chem[:], b.Chem, "chem"); err != nil {
		return req, err
	}
	if err := fill(req.Temp[:], b.Temp, "temp"); err != nil {
		return req, err
	}
	if err := fill(req.Process[:], b.Process, "process"); err != nil {
		return req, err
	}
	req.Speed = b.Speed
	return req, nil
}

func fill(dst, src []float64, name string) error {
	if len(src) != len(dst) {
		return fmt.Errorf("%w: %s needs %d values, got %d", quality.ErrInvalidRequest, name, len(dst), len(src))
	}
	copy(dst, src)
	return nil
}

type predictionResponse struct {
	Model              string         `json:"model"`
	Prediction         float64        `json:"prediction"`
	Display            string         `json:"display"`
	Confidence         float64        `json:"confidence"`
	ConfidenceDisplay  string         `json:"confidence_display"`
	Pass               bool           `json:"pass"`
	Verdict            string         `json:"verdict"`
	Threshold          float64        `json:"threshold"`
	GradeStandard      float64        `json:"grade_standard"`
	MeetsGradeStandard bool           `json:"meets_grade_standard"`
	Warning            string         `json:"warning,omitempty"`
	Record             session.Record `json:"record"`
}

func (s *Server) handlePredict(w http.ResponseWriter, r *http.Request) {
	var body predictBody
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	dec.DisallowUnknownFields()
	if err := dec.Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON body: %v", err))
		return
	}
	req, err := body.request()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	st := sessionFrom(r.Context())
	resp, err := s.predict(r, st, req)
	if err != nil {
		status, msg := s.predictError(r.Context(), req, err)
		writeError(w, status, msg)
		return
	}
	respondJSON(w, http.StatusOK, resp)
}

// predict runs a prediction under the session lock and records it on success.
// A failed prediction leaves the session untouched.
func (s *Server) predict(r *http.Request, st *session.State, req quality.Request) (*predictionResponse, error) {
	var (
		res *predict.Result
		rec session.Record
		err error
	)
	st.Exclusive(func() {
		res, err = s.deps.Predictor.Predict(req)
		if err != nil {
			return
		}
		rec = session.NewRecord(res)
		st.Record(rec)
	})
	if err != nil {
		return nil, err
	}

	p := printerFor(r)
	resp := &predictionResponse{
		Model:              res.Model,
		Prediction:         res.Prediction,
		Display:            p.Sprintf("%.2f", res.Prediction),
		Confidence:         res.Confidence,
		ConfidenceDisplay:  formatPercent(p, res.Confidence),
		Pass:               res.Pass,
		Verdict:            verdict(res.Pass),
		Threshold:          res.Threshold,
		GradeStandard:      res.GradeStandard,
		MeetsGradeStandard: res.MeetsStandard,
		Record:             rec,
	}
	if st.LowConfidence(res.Confidence) {
		resp.Warning = p.Sprintf("Prediction confidence is %s (below threshold)", resp.ConfidenceDisplay)
	}
	return resp, nil
}

func verdict(pass bool) string {
	if pass {
		return "This batch meets quality standards"
	}
	return "This batch does NOT meet quality standards"
}

// predictError maps a prediction failure to a status and a user-facing message.
// Unexpected failures are logged in full and reported opaquely.
func (s *Server) predictError(ctx context.Context, req quality.Request, err error) (int, string) {
	switch {
	case errors.Is(err, quality.ErrInvalidRequest):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, predict.ErrModelNotFound):
		return http.StatusNotFound, fmt.Sprintf("no model available for %s at %d mm", req.Target, req.Diameter)
	default:
		s.logger.Error("prediction failed",
			zap.Any("request_id", ctx.Value(RequestIDKey)),
			zap.Int("diameter", int(req.Diameter)),
			zap.String("target", string(req.Target)),
			zap.Error(err))
		return http.StatusInternalServerError, "prediction failed, please try again later"
	}
}

type modelSummary struct {
	Name        string             `json:"name"`
	Target      quality.Target     `json:"target"`
	Diameter    quality.Diameter   `json:"diameter"`
	Columns     []string           `json:"columns"`
	Importances map[string]float64 `json:"importances"`
	R2          float64            `json:"r2"`
	MAE         float64            `json:"mae"`
	RMSE        float64            `json:"rmse"`
	TrainRows   int                `json:"train_rows"`
	TestRows    int                `json:"test_rows"`
	Trees       int                `json:"trees"`
	Depth       int                `json:"depth"`
	TrainedAt   string             `json:"trained_at"`
}

func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	models, err := s.deps.Predictor.Models()
	if err != nil {
		s.logger.Error("failed to list models", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list models")
		return
	}
	out := make([]modelSummary, 0, len(models))
	for _, a := range models {
		importances := make(map[string]float64, len(a.Schema.Columns))
		for i, c := range a.Schema.Columns {
			if i < len(a.Model.Importances) {
				importances[c] = a.Model.Importances[i]
			}
		}
		out = append(out, modelSummary{
			Name:        a.Name,
			Target:      a.Target,
			Diameter:    a.Diameter,
			Columns:     a.Schema.Columns,
			Importances: importances,
			R2:          a.Metrics.R2,
			MAE:         a.Metrics.MAE,
			RMSE:        a.Metrics.RMSE,
			TrainRows:   a.TrainRows,
			TestRows:    a.TestRows,
			Trees:       len(a.Model.Trees),
			Depth:       a.Model.Depth(),
			TrainedAt:   a.TrainedAt.Format("2006-01-02 15:04:05"),
		})
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"models": out, "count": len(out)})
}

func (s *Server) handleTrainingRuns(w http.ResponseWriter, r *http.Request) {
	if s.deps.Runs == nil {
		writeError(w, http.StatusServiceUnavailable, "training run log not configured")
		return
	}
	q := r.URL.Query()
	filter := db.Filter{RunID: q.Get("run_id"), Status: q.Get("status"), Limit: 20}
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil && n > 0 {
			filter.Limit = n
		}
	}
	if v := q.Get("diameter"); v != "" {
		d, err := quality.ParseDiameter(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		filter.Diameter = int(d)
	}
	runs, err := s.deps.Runs.Recent(r.Context(), filter)
	if err != nil {
		s.logger.Error("failed to query training runs", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to query training runs")
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"runs": runs, "count": len(runs)})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}
	history := sessionFrom(r.Context()).History(limit)
	respondJSON(w, http.StatusOK, map[string]interface{}{"history": history, "count": len(history)})
}

func (s *Server) handleClearHistory(w http.ResponseWriter, r *http.Request) {
	sessionFrom(r.Context()).Clear()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleExportHistory(w http.ResponseWriter, r *http.Request) {
	st := sessionFrom(r.Context())
	format := strings.ToLower(r.URL.Query().Get("format"))
	switch format {
	case "", "csv":
		w.Header().Set("Content-Type", "text/csv; charset=utf-8")
		w.Header().Set("Content-Disposition", `attachment; filename="prediction_history.csv"`)
		if err := st.ExportCSV(w); err != nil {
			s.logger.Error("csv export failed", zap.Error(err))
		}
	case "xlsx":
		w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
		w.Header().Set("Content-Disposition", `attachment; filename="prediction_history.xlsx"`)
		if err := st.ExportXLSX(w); err != nil {
			s.logger.Error("xlsx export failed", zap.Error(err))
		}
	default:
		writeError(w, http.StatusBadRequest, "format must be csv or xlsx")
	}
}

type settingsBody struct {
	Theme       string   `json:"theme"`
	ToggleTheme bool     `json:"toggle_theme"`
	Threshold   *float64 `json:"confidence_threshold"`
}

func (s *Server) handleSettings(w http.ResponseWriter, r *http.Request) {
	var body settingsBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	st := sessionFrom(r.Context())
	if body.Threshold != nil {
		if err := st.SetThreshold(*body.Threshold); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	switch {
	case body.ToggleTheme:
		st.ToggleTheme()
	case body.Theme != "":
		if err := st.SetTheme(body.Theme); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	respondJSON(w, http.StatusOK, st.Settings())
}

func (s *Server) handleFeedback(w http.ResponseWriter, r *http.Request) {
	var body session.Feedback
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	st := sessionFrom(r.Context())
	accepted, err := st.SubmitFeedback(body)
	if err != nil {
		respondJSON(w, http.StatusBadRequest, map[string]interface{}{
			"error": err.Error(),
			"draft": st.Draft(),
		})
		return
	}
	s.logger.Info("feedback received",
		zap.String("session", st.ID),
		zap.String("name", accepted.Name),
		zap.String("email", accepted.Email),
		zap.String("message", accepted.Message))
	respondJSON(w, http.StatusAccepted, map[string]string{"status": "Thank you! Your feedback has been received."})
}

func (s *Server) handleSessionReset(w http.ResponseWriter, r *http.Request) {
	st := sessionFrom(r.Context())
	s.deps.Sessions.Reset(st.ID)
	http.SetCookie(w, &http.Cookie{Name: sessionCookie, Value: "", Path: "/", MaxAge: -1, HttpOnly: true})
	w.WriteHeader(http.StatusNoContent)
}

// respondJSON 统一JSON响应
func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{"error": msg})
}

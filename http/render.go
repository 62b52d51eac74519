package http

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"rebarquality/quality"
	"rebarquality/session"
)

//go:embed templates/*.html
var templateFS embed.FS

// pages 页面模板
type pages struct {
	index *template.Template
}

func mustParsePages() *pages {
	return &pages{
		index: template.Must(template.ParseFS(templateFS, "templates/index.html")),
	}
}

// supported 支持的显示语言
var supported = language.NewMatcher([]language.Tag{
	language.English,
	language.German,
	language.French,
	language.Russian,
	language.Chinese,
})

// printerFor 按Accept-Language选择数字格式
func printerFor(r *http.Request) *message.Printer {
	tag, _ := language.MatchStrings(supported, r.Header.Get("Accept-Language"))
	return message.NewPrinter(tag)
}

func formatPercent(p *message.Printer, v float64) string {
	return p.Sprintf("%.0f%%", v*100)
}

// historyRow 历史记录的显示行
type historyRow struct {
	Time       string
	Diameter   string
	Grade      string
	Target     string
	Prediction string
	Confidence string
	Pass       bool
}

type pageData struct {
	Diameters  []quality.Diameter
	Grades     []quality.Grade
	Targets    []quality.Target
	Fields     []quality.Field
	Standards  []quality.Standard
	Settings   session.Settings
	Draft      session.Feedback
	History    []historyRow
	Values     map[string]string
	Diameter   string
	Grade      string
	Target     string
	Result     *predictionResponse
	Error      string
	Thresholds map[quality.Target]float64
}

func (s *Server) newPageData(r *http.Request, st *session.State) *pageData {
	p := printerFor(r)
	records := st.History(0)
	rows := make([]historyRow, 0, len(records))
	for _, rec := range records {
		rows = append(rows, historyRow{
			Time:       rec.Timestamp.Format("2006-01-02 15:04:05"),
			Diameter:   rec.Diameter.String(),
			Grade:      string(rec.Grade),
			Target:     string(rec.Target),
			Prediction: p.Sprintf("%.2f", rec.Prediction),
			Confidence: formatPercent(p, rec.Confidence),
			Pass:       rec.Pass,
		})
	}
	return &pageData{
		Diameters:  quality.Diameters(),
		Grades:     quality.Grades(),
		Targets:    quality.Targets(),
		Fields:     quality.Fields(),
		Standards:  quality.Standards(),
		Settings:   st.Settings(),
		Draft:      st.Draft(),
		History:    rows,
		Values:     map[string]string{},
		Diameter:   quality.Diameters()[0].String(),
		Grade:      string(quality.GR1),
		Target:     string(quality.Quality1),
		Thresholds: thresholds(),
	}
}

func (s *Server) render(w http.ResponseWriter, status int, data *pageData) {
	var buf bytes.Buffer
	if err := s.pages.index.Execute(&buf, data); err != nil {
		s.logger.Error("template render failed", zap.Error(err))
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = buf.WriteTo(w)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	s.render(w, http.StatusOK, s.newPageData(r, sessionFrom(r.Context())))
}

func (s *Server) handlePredictForm(w http.ResponseWriter, r *http.Request) {
	st := sessionFrom(r.Context())
	req, values, err := parsePredictForm(r)
	if err != nil {
		data := s.newPageData(r, st)
		data.Values = values
		data.Error = err.Error()
		s.render(w, http.StatusBadRequest, data)
		return
	}

	resp, err := s.predict(r, st, req)
	data := s.newPageData(r, st)
	data.Values = values
	data.Diameter = req.Diameter.String()
	data.Grade = string(req.Grade)
	data.Target = string(req.Target)
	if err != nil {
		status, msg := s.predictError(r.Context(), req, err)
		data.Error = msg
		s.render(w, status, data)
		return
	}
	data.Result = resp
	s.render(w, http.StatusOK, data)
}

// parsePredictForm 解析预测表单，空输入按0处理
func parsePredictForm(r *http.Request) (quality.Request, map[string]string, error) {
	var req quality.Request
	values := make(map[string]string)
	if err := r.ParseForm(); err != nil {
		return req, values, fmt.Errorf("%w: %v", quality.ErrInvalidRequest, err)
	}

	var err error
	if req.Diameter, err = quality.ParseDiameter(r.PostForm.Get("diameter")); err != nil {
		return req, values, fmt.Errorf("%w: %v", quality.ErrInvalidRequest, err)
	}
	if req.Grade, err = quality.ParseGrade(r.PostForm.Get("grade")); err != nil {
		return req, values, fmt.Errorf("%w: %v", quality.ErrInvalidRequest, err)
	}
	if req.Target, err = quality.ParseTarget(r.PostForm.Get("target")); err != nil {
		return req, values, fmt.Errorf("%w: %v", quality.ErrInvalidRequest, err)
	}

	inputs := make(map[string]float64)
	for _, f := range quality.Fields() {
		raw := strings.TrimSpace(r.PostForm.Get(f.Name))
		values[f.Name] = raw
		if raw == "" {
			continue
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return req, values, fmt.Errorf("%w: %s must be a number", quality.ErrInvalidRequest, f.Name)
		}
		inputs[f.Name] = v
	}
	for i := range req.Chem {
		req.Chem[i] = inputs[fmt.Sprintf("CHEM%d", i+1)]
	}
	for i := range req.Temp {
		req.Temp[i] = inputs[fmt.Sprintf("TEMP%d", i+1)]
	}
	for i := range req.Process {
		req.Process[i] = inputs[fmt.Sprintf("PROCESS%d", i+1)]
	}
	req.Speed = inputs["SPEED"]
	return req, values, nil
}

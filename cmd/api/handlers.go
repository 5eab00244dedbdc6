package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/vectorcm/credit-memory/engine/decision"
	"github.com/vectorcm/credit-memory/engine/domain"
	"github.com/vectorcm/credit-memory/engine/features"
	"github.com/vectorcm/credit-memory/engine/fraud"
	"github.com/vectorcm/credit-memory/engine/ingest"
	"github.com/vectorcm/credit-memory/engine/temporal"
	"github.com/vectorcm/credit-memory/engine/twin"
)

const (
	defaultApplicationLimit = 50
	maxApplicationLimit     = 500
	historyLoanSource       = "community_lending"
)

func (s *server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	cfg := s.app.Config
	index := "qdrant"
	if cfg.Qdrant.InMemory {
		index = "memory"
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"components": map[string]any{
			"index":  index,
			"graph":  s.app.Graph != nil,
			"events": s.app.Bus != nil,
			"oracle": s.app.Oracle.Enabled(),
		},
	})
}

func (s *server) handleAssess(w http.ResponseWriter, r *http.Request) {
	rec, err := decodeApplicant(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	rep, err := s.app.Credit.Assess(r.Context(), rec)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

// handleQuickAssess scores a profile on the compact numeric collection only.
func (s *server) handleQuickAssess(w http.ResponseWriter, r *http.Request) {
	rec, err := decodeApplicant(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := domain.ValidateApplicant(rec); err != nil {
		writeError(w, r, err)
		return
	}
	res, err := s.app.Quick.Assess(r.Context(), rec)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type documentAssessment struct {
	decision.Assessment
	Explanation   string `json:"explanation"`
	DocumentCount int    `json:"document_count"`
	Multimodal    bool   `json:"multimodal_used"`
}

// handleAssessDocuments assesses a profile together with its document
// images. The multipart form carries the profile as JSON in "client_data"
// and the images as "documents" files.
func (s *server) handleAssessDocuments(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(s.app.Config.HTTP.MaxBodyBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, r, err)
			return
		}
		writeError(w, r, badRequest("multipart form: %v", err))
		return
	}
	var body map[string]any
	if err := json.Unmarshal([]byte(r.FormValue("client_data")), &body); err != nil {
		writeError(w, r, badRequest("client_data: %v", err))
		return
	}
	rec, err := applicantFrom(body, "client_data")
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := domain.ValidateApplicant(rec); err != nil {
		writeError(w, r, err)
		return
	}
	images, err := formImages(r, "documents", features.MaxDocumentImages)
	if err != nil {
		writeError(w, r, err)
		return
	}

	a, err := s.app.Decisions.AssessWithDocuments(r.Context(), rec, images)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, documentAssessment{
		Assessment:    a,
		Explanation:   s.app.Oracle.ExplainDecision(r.Context(), rec, a.Decision, a.Similar),
		DocumentCount: len(images),
		Multimodal:    len(images) > 0 && s.app.Encoder.Layout().Document > 0,
	})
}

// formImages reads up to limit non-empty files of a multipart field.
func formImages(r *http.Request, field string, limit int) ([][]byte, error) {
	var out [][]byte
	for _, fh := range r.MultipartForm.File[field] {
		if len(out) == limit {
			break
		}
		f, err := fh.Open()
		if err != nil {
			return nil, badRequest("%s %q: %v", field, fh.Filename, err)
		}
		img, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			return nil, badRequest("%s %q: %v", field, fh.Filename, err)
		}
		if len(img) > 0 {
			out = append(out, img)
		}
	}
	return out, nil
}

type fraudResponse struct {
	fraud.ProfileResult
	Explanation string `json:"explanation"`
}

func (s *server) handleFraudCheck(w http.ResponseWriter, r *http.Request) {
	rec, err := decodeApplicant(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := domain.ValidateApplicant(rec); err != nil {
		writeError(w, r, err)
		return
	}
	res, err := s.app.Fraud.Check(r.Context(), rec)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, fraudResponse{
		ProfileResult: res,
		Explanation:   s.app.Oracle.ExplainFraud(r.Context(), res),
	})
}

func (s *server) handleDocumentCheck(w http.ResponseWriter, r *http.Request) {
	img, err := readImage(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	res, err := s.app.Documents.Check(r.Context(), img)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *server) handleRegisterTemplate(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.PathValue("id"))
	if id == "" {
		writeError(w, r, badRequest("template id is required"))
		return
	}
	img, err := readImage(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.app.Documents.Register(r.Context(), id, img); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"template_id": id, "status": "registered"})
}

// readImage accepts a multipart upload in the "file" field or a raw body.
func readImage(r *http.Request) ([]byte, error) {
	var src io.Reader = r.Body
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		f, _, err := r.FormFile("file")
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				return nil, err
			}
			return nil, badRequest("multipart field %q: %v", "file", err)
		}
		defer f.Close()
		src = f
	}
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(src); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, err
		}
		return nil, badRequest("read image: %v", err)
	}
	if buf.Len() == 0 {
		return nil, badRequest("image is empty")
	}
	return buf.Bytes(), nil
}

type counterfactualRequest struct {
	Original      map[string]any `json:"original_client"`
	Modifications map[string]any `json:"modifications"`
}

func (s *server) handleCounterfactual(w http.ResponseWriter, r *http.Request) {
	var req counterfactualRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.Original == nil {
		writeError(w, r, badRequest("original_client is required"))
		return
	}
	mods, err := numericModifications(req.Modifications)
	if err != nil {
		writeError(w, r, err)
		return
	}
	rec := domain.ApplicantFromPayload(req.Original)
	if err := domain.ValidateApplicant(rec); err != nil {
		writeError(w, r, err)
		return
	}
	res, err := s.app.Counterfactual.Simulate(r.Context(), rec, mods)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// numericModifications keeps numbers and numeric strings. Anything else is
// rejected rather than silently dropped. An empty set is valid and
// simulates the original profile unchanged.
func numericModifications(in map[string]any) (map[string]float64, error) {
	out := make(map[string]float64, len(in))
	for k, v := range in {
		f, err := finiteNumber(v)
		if err != nil {
			return nil, badRequest("modification %q %v", k, err)
		}
		out[k] = f
	}
	return out, nil
}

var (
	errNotNumber = errors.New("is not a number")
	errNotFinite = errors.New("is not finite")
)

func finiteNumber(v any) (float64, error) {
	var f float64
	switch tv := v.(type) {
	case float64:
		f = tv
	case string:
		p, err := strconv.ParseFloat(strings.TrimSpace(tv), 64)
		if err != nil {
			return 0, errNotNumber
		}
		f = p
	default:
		return 0, errNotNumber
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, errNotFinite
	}
	return f, nil
}

type twinResponse struct {
	Found   bool       `json:"found"`
	Twin    *twin.Twin `json:"success_twin,omitempty"`
	Gaps    []twin.Gap `json:"gap_analysis"`
	Message string     `json:"message,omitempty"`
}

func (s *server) handleTwin(w http.ResponseWriter, r *http.Request) {
	var body map[string]any
	if err := decodeBody(r, &body); err != nil {
		writeError(w, r, err)
		return
	}
	th := s.app.Config.Thresholds
	floor, err := minSimilarity(body, th.Twin.MinSimilarity)
	if err != nil {
		writeError(w, r, err)
		return
	}
	rec, err := applicantFrom(body, "client_data")
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := domain.ValidateApplicant(rec); err != nil {
		writeError(w, r, err)
		return
	}
	t, err := s.app.Twins.Find(r.Context(), rec, floor)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if t == nil {
		writeJSON(w, http.StatusOK, twinResponse{
			Gaps:    []twin.Gap{},
			Message: "no repaid client is similar enough to this profile",
		})
		return
	}
	writeJSON(w, http.StatusOK, twinResponse{
		Found: true,
		Twin:  t,
		Gaps:  twin.PlanGaps(rec, t.Record.ApplicantRecord, th.Materiality),
	})
}

// minSimilarity reads the optional similarity floor of a twin request.
func minSimilarity(body map[string]any, def float64) (float64, error) {
	v, ok := body["min_similarity"]
	if !ok || v == nil {
		return def, nil
	}
	f, err := finiteNumber(v)
	if err != nil {
		return 0, badRequest("min_similarity %v", err)
	}
	if f < 0 || f > 1 {
		return 0, badRequest("min_similarity must be within [0,1]")
	}
	return f, nil
}

func (s *server) handleTemporal(w http.ResponseWriter, r *http.Request) {
	traj, err := s.app.Tracker.Trajectory(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, traj)
}

func (s *server) handleNetworkAnalyze(w http.ResponseWriter, r *http.Request) {
	m, err := s.app.Trust.Analyze(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

type networkRequest struct {
	Center  string   `json:"center_client_id"`
	Related []string `json:"related_clients"`
}

func (s *server) handleNetworkBuild(w http.ResponseWriter, r *http.Request) {
	var req networkRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.Center == "" {
		writeError(w, r, badRequest("center_client_id is required"))
		return
	}
	if req.Related == nil {
		related, err := s.app.Related(r.Context(), req.Center)
		if err != nil {
			writeError(w, r, err)
			return
		}
		req.Related = related
	}
	n, err := s.app.Trust.BuildNetwork(r.Context(), req.Center, req.Related)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, n)
}

func (s *server) handleGraphStats(w http.ResponseWriter, r *http.Request) {
	if s.app.Graph == nil {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "graph mirror is not enabled"})
		return
	}
	st, err := s.app.Graph.Stats(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

type applicationRequest struct {
	Applicant map[string]any `json:"applicant"`
}

func (s *server) handleSubmitApplication(w http.ResponseWriter, r *http.Request) {
	var req applicationRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.Applicant == nil {
		writeError(w, r, badRequest("applicant is required"))
		return
	}
	rec := domain.ApplicantFromPayload(req.Applicant)
	if err := domain.ValidateApplicant(rec); err != nil {
		writeError(w, r, err)
		return
	}
	snap, err := s.app.Recorder.RecordApplication(r.Context(), rec)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"client_id":  snap.ClientID,
		"status":     "submitted",
		"risk_score": snap.RiskScore,
		"snapshot":   snap,
	})
}

func (s *server) handleListApplications(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := defaultApplicationLimit
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, r, badRequest("limit must be a positive integer"))
			return
		}
		limit = min(n, maxApplicationLimit)
	}
	clientID := q.Get("client_id")
	fetch := limit
	if clientID != "" {
		fetch = 0
	}
	apps, total, err := s.app.Tracker.PendingApplications(r.Context(), fetch)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if clientID != "" {
		apps, total = filterApplications(apps, clientID)
		if len(apps) > limit {
			apps = apps[:limit]
		}
	}
	if apps == nil {
		apps = []temporal.Application{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"applications": apps, "total": total})
}

func filterApplications(apps []temporal.Application, clientID string) ([]temporal.Application, int) {
	var out []temporal.Application
	for _, a := range apps {
		if a.ClientID == clientID {
			out = append(out, a)
		}
	}
	return out, len(out)
}

type historyRequest struct {
	ClientID          string   `json:"client_id"`
	Name              string   `json:"name"`
	Archetype         string   `json:"archetype"`
	YearsActive       float64  `json:"years_active"`
	MonthlyIncome     float64  `json:"monthly_income"`
	DebtRatio         *float64 `json:"debt_ratio"`
	IncomeStability   *float64 `json:"income_stability"`
	PaymentRegularity *float64 `json:"payment_regularity"`
}

// record converts the request into a pending historical client.
func (h historyRequest) record() domain.ClientRecord {
	r := domain.DefaultApplicant()
	r.ClientID = h.ClientID
	if r.ClientID == "" {
		r.ClientID = temporal.NewClientID()
	}
	r.Name = h.Name
	if h.Archetype != "" {
		r.Archetype = h.Archetype
	}
	r.SeniorityMonths = h.YearsActive * 12
	if h.MonthlyIncome != 0 {
		r.Income = h.MonthlyIncome
	}
	r.DebtRatio = valueOr(h.DebtRatio, 0.45)
	r.IncomeStability = valueOr(h.IncomeStability, 0.85)
	r.PaymentConsistency = valueOr(h.PaymentRegularity, 0.88)
	return domain.ClientRecord{
		ApplicantRecord: r,
		Outcome:         domain.OutcomePending,
		LoanSource:      historyLoanSource,
	}
}

func valueOr(p *float64, def float64) float64 {
	if p == nil {
		return def
	}
	return *p
}

func (s *server) handleAddHistory(w http.ResponseWriter, r *http.Request) {
	var req historyRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		writeError(w, r, badRequest("name is required"))
		return
	}
	c := req.record()
	if err := domain.ValidateApplicant(c.ApplicantRecord); err != nil {
		writeError(w, r, err)
		return
	}
	st, err := s.history.Load(r.Context(), ingest.KindCredit, []ingest.Record{{
		Key:       c.ClientID,
		Applicant: c.ApplicantRecord,
		Payload:   c.Payload(),
		Client:    &c,
	}})
	if err != nil {
		writeError(w, r, fmt.Errorf("api: add history: %w", err))
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"client_id": c.ClientID,
		"status":    "stored",
		"mirrored":  st.Mirrored > 0,
	})
}

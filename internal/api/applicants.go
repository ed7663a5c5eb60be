package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/opensource-finance/sentinel/internal/bus"
	"github.com/opensource-finance/sentinel/internal/classifier"
	"github.com/opensource-finance/sentinel/internal/decision"
	"github.com/opensource-finance/sentinel/internal/domain"
)

// ScanApplicant classifies one welfare applicant.
func (h *Handler) ScanApplicant(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var a domain.Applicant
	if !decodeJSON(w, r, &a) {
		return
	}

	assessment, err := h.scorer.ScoreApplicant(ctx, &a)
	if err != nil {
		writeError(w, err)
		return
	}

	rec := decision.ApplicantRecord(GetTenantID(ctx), assessment)
	if err := h.scorer.Save(ctx, rec); err != nil {
		slog.Error("failed to save assessment", "applicant_id", a.ID, "error", err)
	}
	writeJSON(w, http.StatusOK, rec)
}

// ApplicantBatchRequest is the body of POST /applicants/scan/batch.
type ApplicantBatchRequest struct {
	Applicants []domain.Applicant `json:"applicants"`
}

// ScanApplicantBatch classifies a batch. A batch that runs out of time
// answers 504 with the outcomes completed so far. With ?async=true the batch
// is handed to the worker over the event bus instead.
func (h *Handler) ScanApplicantBatch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	var req ApplicantBatchRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if len(req.Applicants) == 0 {
		writeJSON(w, http.StatusBadRequest, errorBody("at least one applicant is required"))
		return
	}
	if strings.EqualFold(r.URL.Query().Get("async"), "true") {
		h.submitApplicants(w, r, req)
		return
	}

	res, err := h.scorer.ScanApplicants(ctx, req.Applicants)
	if res == nil {
		writeError(w, err)
		return
	}

	for _, out := range res.Results {
		if out.Assessment == nil {
			continue
		}
		if serr := h.scorer.Save(ctx, decision.ApplicantRecord(tenantID, *out.Assessment)); serr != nil {
			slog.Error("failed to save assessment", "applicant_id", out.ApplicantID, "error", serr)
		}
	}

	status := http.StatusOK
	if err != nil {
		status = http.StatusGatewayTimeout
		if !errors.Is(err, context.DeadlineExceeded) {
			status = statusFor(err)
		}
	}
	writeJSON(w, status, res)
}

func (h *Handler) submitApplicants(w http.ResponseWriter, r *http.Request, req ApplicantBatchRequest) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	if h.bus == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorBody("event bus not available"))
		return
	}

	msg := domain.ApplicantMessage{
		TenantID:   tenantID,
		Applicants: req.Applicants,
	}
	if err := bus.PublishJSON(ctx, h.bus, tenantID, domain.TopicApplicantsSubmitted, msg); err != nil {
		slog.Error("failed to submit applicant batch", "tenant_id", tenantID, "error", err)
		writeJSON(w, http.StatusServiceUnavailable, errorBody("failed to submit batch"))
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"submitted": len(req.Applicants),
		"topic":     domain.TopicApplicantsSubmitted,
	})
}

// ResolveIdentityRequest is the body of POST /identity/resolve.
type ResolveIdentityRequest struct {
	Query  domain.Identity `json:"query"`
	Record domain.Identity `json:"record"`
}

// ResolveIdentity compares two identities.
func (h *Handler) ResolveIdentity(w http.ResponseWriter, r *http.Request) {
	var req ResolveIdentityRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Query.Name) == "" && strings.TrimSpace(req.Query.Address) == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("query name or address is required"))
		return
	}
	writeJSON(w, http.StatusOK, h.scorer.ResolveIdentity(req.Query, req.Record))
}

// LifestyleRequest is the body of POST /lifestyle/scan.
type LifestyleRequest struct {
	Name string `json:"name"`
}

// ScanLifestyle expands a citizen's family cluster and reports its assets.
func (h *Handler) ScanLifestyle(w http.ResponseWriter, r *http.Request) {
	var req LifestyleRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("name is required"))
		return
	}
	writeJSON(w, http.StatusOK, h.scorer.ScanLifestyle(req.Name))
}

// ModelResponse describes the loaded fraud model.
type ModelResponse struct {
	Name      string             `json:"name"`
	Version   string             `json:"version"`
	Schema    []string           `json:"schema"`
	TrainedAt time.Time          `json:"trainedAt"`
	Samples   int                `json:"samples"`
	Positives int                `json:"positives"`
	Metrics   classifier.Metrics `json:"metrics"`
}

func modelResponse(m *classifier.Model) ModelResponse {
	return ModelResponse{
		Name:      m.Name,
		Version:   m.Version,
		Schema:    m.Schema,
		TrainedAt: m.TrainedAt,
		Samples:   m.Samples,
		Positives: m.Positives,
		Metrics:   m.Metrics,
	}
}

// GetModel returns the loaded model, loading or training it first if
// needed.
func (h *Handler) GetModel(w http.ResponseWriter, r *http.Request) {
	m, err := h.scorer.Model().Model(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, modelResponse(m))
}

// RetrainModel trains a new model and replaces the stored artifact.
func (h *Handler) RetrainModel(w http.ResponseWriter, r *http.Request) {
	m, err := h.scorer.Model().Retrain(r.Context())
	if err != nil {
		slog.Error("model retraining failed", "error", err)
		writeError(w, err)
		return
	}
	slog.Info("model retrained", "version", m.Version)
	writeJSON(w, http.StatusOK, modelResponse(m))
}

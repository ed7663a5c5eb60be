package api

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/opensource-finance/sentinel/internal/bus"
	"github.com/opensource-finance/sentinel/internal/decision"
	"github.com/opensource-finance/sentinel/internal/domain"
	"github.com/opensource-finance/sentinel/internal/scoring"
)

// ContractsRequest carries contracts to store or assess.
type ContractsRequest struct {
	Contracts  []domain.ContractRecord `json:"contracts"`
	Vendors    []domain.Vendor         `json:"vendors,omitempty"`
	Complaints map[string]int          `json:"complaints,omitempty"`
}

// ContractAssessmentsResponse is the response of POST /contracts/assess.
type ContractAssessmentsResponse struct {
	Assessments []*domain.AssessmentRecord `json:"assessments"`
	Count       int                        `json:"count"`
	Flagged     int                        `json:"flagged"`
	Source      string                     `json:"source"`
}

// StoreContracts validates and upserts contracts into the tenant's store.
func (h *Handler) StoreContracts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	if !h.requireRepo(w) {
		return
	}

	var req ContractsRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	batch, err := scoring.NewContractBatch(req.Contracts, nil, nil)
	if err != nil {
		writeError(w, err)
		return
	}
	if len(batch.Contracts) == 0 {
		writeJSON(w, http.StatusBadRequest, errorBody("at least one contract is required"))
		return
	}

	for i := range batch.Contracts {
		c := &batch.Contracts[i]
		if err := h.repo.SaveContract(ctx, tenantID, c); err != nil {
			slog.Error("failed to save contract", "contract_id", c.ID, "error", err)
			writeError(w, err)
			return
		}
		if h.history != nil {
			h.history.Invalidate(ctx, tenantID, c.ContractorID)
		}
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"stored": len(batch.Contracts),
	})
}

// ListContracts returns the tenant's stored contracts.
func (h *Handler) ListContracts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.requireRepo(w) {
		return
	}

	contracts, err := h.repo.ListContracts(ctx, GetTenantID(ctx))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"contracts": contracts,
		"count":     len(contracts),
	})
}

// AssessContracts scores the contracts in the body as one peer set, or
// every stored contract when the body has none. With ?async=true the batch
// is handed to the worker over the event bus instead.
func (h *Handler) AssessContracts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	var req ContractsRequest
	if r.ContentLength != 0 {
		if !decodeJSON(w, r, &req) {
			return
		}
	}

	if len(req.Contracts) > 0 && strings.EqualFold(r.URL.Query().Get("async"), "true") {
		h.submitContracts(w, r, req)
		return
	}

	var (
		results []domain.RiskAssessment
		source  string
		err     error
	)
	if len(req.Contracts) == 0 {
		source = "stored"
		results, err = h.scorer.AssessStored(ctx, tenantID)
	} else {
		source = "request"
		var batch *scoring.ContractBatch
		if batch, err = scoring.NewContractBatch(req.Contracts, req.Vendors, req.Complaints); err == nil {
			results, err = h.scorer.AssessContracts(ctx, tenantID, batch)
		}
	}
	if err != nil {
		writeError(w, err)
		return
	}

	resp := ContractAssessmentsResponse{
		Assessments: make([]*domain.AssessmentRecord, 0, len(results)),
		Count:       len(results),
		Source:      source,
	}
	for _, a := range results {
		rec := decision.ContractRecord(tenantID, a)
		if err := h.scorer.Save(ctx, rec); err != nil {
			slog.Error("failed to save assessment", "contract_id", a.ContractID, "error", err)
		}
		if rec.Flagged {
			resp.Flagged++
		}
		resp.Assessments = append(resp.Assessments, rec)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) submitContracts(w http.ResponseWriter, r *http.Request, req ContractsRequest) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	if h.bus == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorBody("event bus not available"))
		return
	}
	if _, err := scoring.NewContractBatch(req.Contracts, req.Vendors, req.Complaints); err != nil {
		writeError(w, err)
		return
	}

	msg := domain.ContractBatchMessage{
		TenantID:   tenantID,
		Contracts:  req.Contracts,
		Vendors:    req.Vendors,
		Complaints: req.Complaints,
	}
	if err := bus.PublishJSON(ctx, h.bus, tenantID, domain.TopicContractsSubmitted, msg); err != nil {
		slog.Error("failed to submit contract batch", "tenant_id", tenantID, "error", err)
		writeJSON(w, http.StatusServiceUnavailable, errorBody("failed to submit batch"))
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"submitted": len(req.Contracts),
		"topic":     domain.TopicContractsSubmitted,
	})
}

// ComplaintRequest is the body of POST /contracts/{id}/complaints.
type ComplaintRequest struct {
	Text string `json:"text"`
}

// AddComplaint records a citizen complaint against a contract.
func (h *Handler) AddComplaint(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	contractID := chi.URLParam(r, "id")
	if !h.requireRepo(w) {
		return
	}

	var req ComplaintRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("text is required"))
		return
	}
	if _, err := h.repo.GetContract(ctx, tenantID, contractID); err != nil {
		writeError(w, err)
		return
	}
	if err := h.repo.AddComplaint(ctx, tenantID, contractID, req.Text); err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{
		"contractId": contractID,
		"status":     "recorded",
	})
}

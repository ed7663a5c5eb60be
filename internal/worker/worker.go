// Package worker scores contract batches and applicants submitted over the
// event bus.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/opensource-finance/sentinel/internal/bus"
	"github.com/opensource-finance/sentinel/internal/decision"
	"github.com/opensource-finance/sentinel/internal/domain"
	"github.com/opensource-finance/sentinel/internal/scoring"
)

// Worker consumes submission topics and publishes assessments.
type Worker struct {
	bus    domain.EventBus
	scorer *scoring.Service

	mu            sync.Mutex
	subscriptions []domain.Subscription
	ctx           context.Context
	cancel        context.CancelFunc

	processed atomic.Int64
	failed    atomic.Int64
	alerts    atomic.Int64
}

// Config holds worker configuration.
type Config struct {
	// TenantIDs lists the tenants to consume. Empty subscribes under the
	// global tenant, with the tenant taken from each payload.
	TenantIDs []string
}

// NewWorker creates a new async worker.
func NewWorker(eventBus domain.EventBus, scorer *scoring.Service) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:    eventBus,
		scorer: scorer,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start subscribes to the submission topics.
func (w *Worker) Start(cfg Config) error {
	if len(cfg.TenantIDs) == 0 {
		if err := w.subscribe(domain.GlobalTenant); err != nil {
			return err
		}
		slog.Info("global worker started")
		return nil
	}

	for _, tenantID := range cfg.TenantIDs {
		if err := w.subscribe(tenantID); err != nil {
			slog.Error("failed to start worker for tenant",
				"tenant_id", tenantID,
				"error", err,
			)
			continue
		}
	}

	slog.Info("workers started",
		"tenant_count", len(cfg.TenantIDs),
	)
	return nil
}

func (w *Worker) subscribe(tenantID string) error {
	handlers := map[string]domain.MessageHandler{
		domain.TopicContractsSubmitted: func(ctx context.Context, msg *domain.Message) error {
			return w.processContracts(ctx, tenantID, msg)
		},
		domain.TopicApplicantsSubmitted: func(ctx context.Context, msg *domain.Message) error {
			return w.processApplicants(ctx, tenantID, msg)
		},
	}

	for _, topic := range []string{domain.TopicContractsSubmitted, domain.TopicApplicantsSubmitted} {
		sub, err := w.bus.Subscribe(w.ctx, tenantID, topic, handlers[topic])
		if err != nil {
			return fmt.Errorf("subscribe %s: %w", topic, err)
		}
		w.mu.Lock()
		w.subscriptions = append(w.subscriptions, sub)
		w.mu.Unlock()

		slog.Info("tenant worker subscribed",
			"tenant_id", tenantID,
			"topic", topic,
		)
	}
	return nil
}

// resolveTenant prefers the tenant named in the payload.
func resolveTenant(subscribed, payload string) string {
	if payload != "" {
		return payload
	}
	return subscribed
}

func (w *Worker) processContracts(ctx context.Context, tenantID string, msg *domain.Message) error {
	start := time.Now()

	var in domain.ContractBatchMessage
	if err := json.Unmarshal(msg.Payload, &in); err != nil {
		w.failed.Add(1)
		slog.Error("failed to parse contract batch",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}
	tenantID = resolveTenant(tenantID, in.TenantID)

	batch, err := scoring.NewContractBatch(in.Contracts, in.Vendors, in.Complaints)
	if err != nil {
		w.failed.Add(1)
		slog.Error("rejected contract batch",
			"message_id", msg.ID,
			"tenant_id", tenantID,
			"error", err,
		)
		return err
	}

	results, err := w.scorer.AssessContracts(ctx, tenantID, batch)
	if err != nil {
		w.failed.Add(1)
		slog.Error("contract batch scoring failed",
			"message_id", msg.ID,
			"tenant_id", tenantID,
			"error", err,
		)
		return err
	}

	for _, a := range results {
		w.emit(ctx, decision.ContractRecord(tenantID, a))
	}

	slog.Info("contract batch processed",
		"message_id", msg.ID,
		"tenant_id", tenantID,
		"contracts", len(results),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

func (w *Worker) processApplicants(ctx context.Context, tenantID string, msg *domain.Message) error {
	start := time.Now()

	var in domain.ApplicantMessage
	if err := json.Unmarshal(msg.Payload, &in); err != nil {
		w.failed.Add(1)
		slog.Error("failed to parse applicant message",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}
	tenantID = resolveTenant(tenantID, in.TenantID)

	res, err := w.scorer.ScanApplicants(ctx, in.Applicants)
	if res != nil {
		for _, out := range res.Results {
			if out.Assessment == nil {
				w.failed.Add(1)
				slog.Warn("applicant not scored",
					"tenant_id", tenantID,
					"applicant_id", out.ApplicantID,
					"error", out.Error,
				)
				continue
			}
			w.emit(ctx, decision.ApplicantRecord(tenantID, *out.Assessment))
		}
	}
	if err != nil {
		w.failed.Add(1)
		slog.Error("applicant scan failed",
			"message_id", msg.ID,
			"tenant_id", tenantID,
			"error", err,
		)
		return err
	}

	slog.Info("applicants processed",
		"message_id", msg.ID,
		"tenant_id", tenantID,
		"total", res.Summary.Total,
		"high", res.Summary.High,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

// emit stores a record and publishes it, plus an alert when warranted.
// Store and publish failures are logged; the record is still published.
func (w *Worker) emit(ctx context.Context, rec *domain.AssessmentRecord) {
	w.processed.Add(1)
	alert := decision.ShouldAlert(rec)
	if alert {
		w.alerts.Add(1)
	}

	if err := w.scorer.Save(ctx, rec); err != nil {
		slog.Error("failed to save assessment",
			"tenant_id", rec.TenantID,
			"subject_id", rec.SubjectID,
			"error", err,
		)
	}

	if err := bus.PublishJSON(ctx, w.bus, rec.TenantID, domain.TopicAssessment, rec); err != nil {
		slog.Error("failed to publish assessment",
			"tenant_id", rec.TenantID,
			"subject_id", rec.SubjectID,
			"error", err,
		)
	}

	if alert {
		if err := bus.PublishJSON(ctx, w.bus, rec.TenantID, domain.TopicAlert, rec); err != nil {
			slog.Error("failed to publish alert",
				"tenant_id", rec.TenantID,
				"subject_id", rec.SubjectID,
				"error", err,
			)
		}
	}
}

// Stop unsubscribes from all topics.
func (w *Worker) Stop() error {
	w.cancel()

	w.mu.Lock()
	defer w.mu.Unlock()
	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}
	w.subscriptions = nil

	slog.Info("workers stopped")
	return nil
}

// Stats returns worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
	Processed         int64    `json:"processed"`
	Failed            int64    `json:"failed"`
	Alerts            int64    `json:"alerts"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()

	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
		Processed:         w.processed.Load(),
		Failed:            w.failed.Load(),
		Alerts:            w.alerts.Load(),
	}
}

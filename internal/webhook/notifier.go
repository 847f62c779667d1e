// Package webhook handles asynchronous notifications to registered webhook
// URLs when a high-risk verification is rejected.
//
// Notifications are sent in a goroutine so they never block the HTTP
// response. Failed deliveries are logged but not retried (a production
// system would use a persistent queue with exponential backoff).
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"waypoint/georeward-api/internal/domain"
	"waypoint/georeward-api/internal/store"
)

// Notifier sends webhook payloads to all registered, active endpoints.
type Notifier struct {
	store  *store.Store
	client *http.Client
}

// New creates a Notifier with a sensible default HTTP client timeout.
func New(s *store.Store) *Notifier {
	return &Notifier{
		store: s,
		client: &http.Client{
			Timeout: 5 * time.Second,
		},
	}
}

// NotifyAsync fires webhook calls in the background for a rejected
// verification. It checks every active webhook and triggers those whose
// risk threshold is met.
func (n *Notifier) NotifyAsync(req *domain.VerificationRequest, result *domain.VerificationResult) {
	hooks := n.store.ListActiveWebhooks()
	for _, wh := range hooks {
		if result.RiskScore >= wh.Threshold {
			go n.send(wh, req, result)
		}
	}
}

// send delivers a single webhook call and logs the outcome.
func (n *Notifier) send(wh *domain.WebhookConfig, req *domain.VerificationRequest, result *domain.VerificationResult) {
	payload := domain.WebhookPayload{
		Event:       "high_risk_verification",
		TriggeredAt: time.Now().UTC(),
		SessionID:   req.SessionID,
		UserID:      req.UserID,
		CampaignID:  req.CampaignID,
		RiskScore:   result.RiskScore,
		Flags:       result.Flags,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		slog.Error("webhook: failed to marshal payload", "webhook_id", wh.ID, "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, wh.URL, bytes.NewReader(body))
	if err != nil {
		slog.Error("webhook: failed to build request", "webhook_id", wh.ID, "error", err)
		return
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Waypoint-Event", "high_risk_verification")

	resp, err := n.client.Do(httpReq)
	if err != nil {
		slog.Warn("webhook: delivery failed", "webhook_id", wh.ID, "url", wh.URL, "error", err)
		return
	}
	defer resp.Body.Close()

	slog.Info("webhook: delivered",
		"webhook_id", wh.ID,
		"url", wh.URL,
		"status", resp.StatusCode,
		"session_id", req.SessionID,
		"risk_score", result.RiskScore,
	)
}

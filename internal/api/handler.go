package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"waypoint/georeward-api/internal/domain"
	"waypoint/georeward-api/internal/otp"
	"waypoint/georeward-api/internal/store"
	"waypoint/georeward-api/internal/verify"
	"waypoint/georeward-api/internal/webhook"
)

// Handler holds the dependencies shared across all HTTP handlers.
type Handler struct {
	store        *store.Store
	orchestrator *verify.Orchestrator
	otp          *otp.Engine
	notifier     *webhook.Notifier
}

// NewHandler creates a Handler wired to the given dependencies.
func NewHandler(s *store.Store, o *verify.Orchestrator, e *otp.Engine, n *webhook.Notifier) *Handler {
	return &Handler{store: s, orchestrator: o, otp: e, notifier: n}
}

// ─── POST /api/v1/verify ──────────────────────────────────────────────────────

// Verify accepts a dwell-session verification request, adjudicates it, and
// returns the full result synchronously. The response is 200 for both
// accepted and rejected claims — the result's success flag and flags list
// carry the decision, so clients can render the reason.
func (h *Handler) Verify(w http.ResponseWriter, r *http.Request) {
	var req domain.VerificationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "INVALID_JSON", "request body must be valid JSON")
		return
	}

	if err := validateVerificationRequest(&req); err != nil {
		badRequest(w, "VALIDATION_ERROR", err.Error())
		return
	}

	// Campaign existence, active flag, and expiry are preconditions checked
	// here; the orchestrator assumes a live campaign.
	campaign, exists := h.store.GetCampaign(req.CampaignID)
	if !exists {
		notFound(w, fmt.Sprintf("campaign '%s' not found", req.CampaignID))
		return
	}
	if !campaign.Active {
		gone(w, "CAMPAIGN_INACTIVE", fmt.Sprintf("campaign '%s' is not active", req.CampaignID))
		return
	}
	if campaign.ExpiresAt.Before(time.Now()) {
		gone(w, "CAMPAIGN_EXPIRED", fmt.Sprintf("campaign '%s' has expired", req.CampaignID))
		return
	}

	result, err := h.orchestrator.Verify(r.Context(), &req, campaign)
	if err != nil {
		internalError(w)
		return
	}

	// Fire async webhook notifications for high-risk rejections.
	if !result.Success {
		h.notifier.NotifyAsync(&req, result)
	}

	ok(w, result)
}

// ─── POST /api/v1/redemptions/validate ───────────────────────────────────────

// ValidateRedemption verifies a previously issued redemption token, as
// presented by staff-scanning tooling at the point of reward handover.
func (h *Handler) ValidateRedemption(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "INVALID_JSON", "request body must be valid JSON")
		return
	}
	if req.Token == "" {
		badRequest(w, "MISSING_TOKEN", "token is required")
		return
	}

	payload, err := h.otp.ValidateRedemptionToken(req.Token)
	switch {
	case errors.Is(err, otp.ErrTokenExpired):
		unauthorized(w, "TOKEN_EXPIRED", "redemption token has expired")
		return
	case errors.Is(err, otp.ErrTokenInvalidCode):
		unauthorized(w, "TOKEN_INVALID_CODE", "redemption token code did not verify")
		return
	case err != nil:
		unauthorized(w, "TOKEN_MALFORMED", "redemption token could not be decoded")
		return
	}

	ok(w, payload)
}

// ─── Campaigns ────────────────────────────────────────────────────────────────

// CreateCampaign registers a new geo-fenced reward campaign.
func (h *Handler) CreateCampaign(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name          string                 `json:"name"`
		Coordinates   domain.Coordinate      `json:"coordinates"`
		RadiusMeters  float64                `json:"radius_meters"`
		DwellSeconds  int64                  `json:"dwell_seconds"`
		ExpiresAt     time.Time              `json:"expires_at"`
		BusinessHours []domain.BusinessHours `json:"business_hours,omitempty"`
		Timezone      string                 `json:"timezone,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "INVALID_JSON", "request body must be valid JSON")
		return
	}

	if req.Name == "" {
		badRequest(w, "VALIDATION_ERROR", "name is required")
		return
	}
	if req.RadiusMeters <= 0 {
		badRequest(w, "VALIDATION_ERROR", "radius_meters must be greater than 0")
		return
	}
	if req.DwellSeconds <= 0 {
		badRequest(w, "VALIDATION_ERROR", "dwell_seconds must be greater than 0")
		return
	}
	if req.ExpiresAt.IsZero() {
		badRequest(w, "VALIDATION_ERROR", "expires_at is required")
		return
	}
	if req.Timezone != "" {
		if _, err := time.LoadLocation(req.Timezone); err != nil {
			badRequest(w, "VALIDATION_ERROR", fmt.Sprintf("unknown timezone %q", req.Timezone))
			return
		}
	}

	campaign := &domain.Campaign{
		ID:            uuid.NewString(),
		Name:          req.Name,
		Coordinates:   req.Coordinates,
		RadiusMeters:  req.RadiusMeters,
		DwellSeconds:  req.DwellSeconds,
		Active:        true,
		ExpiresAt:     req.ExpiresAt,
		BusinessHours: req.BusinessHours,
		Timezone:      req.Timezone,
		CreatedAt:     time.Now().UTC(),
	}

	if err := h.store.SaveCampaign(campaign); err != nil {
		if errors.Is(err, store.ErrDuplicateCampaign) {
			conflict(w, fmt.Sprintf("campaign '%s' already exists", campaign.ID))
			return
		}
		internalError(w)
		return
	}

	created(w, campaign)
}

// GetCampaign retrieves a campaign by its ID.
func (h *Handler) GetCampaign(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	campaign, exists := h.store.GetCampaign(id)
	if !exists {
		notFound(w, fmt.Sprintf("campaign '%s' not found", id))
		return
	}
	ok(w, campaign)
}

// ListCampaigns lists campaigns. With lat, lng, and radius query params it
// returns active campaigns whose geofence overlaps the search circle, using
// the geohash index; without them it returns every campaign.
//
// Query params:
//
//	lat, lng — search center in decimal degrees
//	radius   — search radius in meters (default: 1000)
func (h *Handler) ListCampaigns(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if q.Get("lat") == "" && q.Get("lng") == "" {
		ok(w, h.store.ListCampaigns())
		return
	}

	lat, latErr := strconv.ParseFloat(q.Get("lat"), 64)
	lng, lngErr := strconv.ParseFloat(q.Get("lng"), 64)
	if latErr != nil || lngErr != nil {
		badRequest(w, "INVALID_PARAM", "lat and lng must both be valid numbers")
		return
	}

	radius := 1000.0
	if rq := q.Get("radius"); rq != "" {
		parsed, err := strconv.ParseFloat(rq, 64)
		if err != nil || parsed <= 0 {
			badRequest(w, "INVALID_PARAM", "radius must be a positive number of meters")
			return
		}
		radius = parsed
	}

	nearby := h.store.FindNearby(domain.Coordinate{Latitude: lat, Longitude: lng}, radius)
	if nearby == nil {
		nearby = []*domain.Campaign{}
	}
	ok(w, nearby)
}

// DeleteCampaign removes a campaign.
func (h *Handler) DeleteCampaign(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !h.store.DeleteCampaign(id) {
		notFound(w, fmt.Sprintf("campaign '%s' not found", id))
		return
	}
	noContent(w)
}

// ─── Webhooks ─────────────────────────────────────────────────────────────────

// RegisterWebhook adds a new webhook endpoint for high-risk alerts.
func (h *Handler) RegisterWebhook(w http.ResponseWriter, r *http.Request) {
	var req struct {
		URL       string `json:"url"`
		Threshold int    `json:"threshold"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "INVALID_JSON", "request body must be valid JSON")
		return
	}
	if req.URL == "" {
		badRequest(w, "MISSING_URL", "url is required")
		return
	}
	if req.Threshold < 0 || req.Threshold > 100 {
		badRequest(w, "INVALID_THRESHOLD", "threshold must be between 0 and 100")
		return
	}
	if req.Threshold == 0 {
		req.Threshold = domain.RejectThreshold
	}

	wh := &domain.WebhookConfig{
		ID:        uuid.NewString(),
		URL:       req.URL,
		Threshold: req.Threshold,
		CreatedAt: time.Now().UTC(),
		Active:    true,
	}
	h.store.SaveWebhook(wh)
	created(w, wh)
}

// DeleteWebhook deactivates and removes a webhook.
func (h *Handler) DeleteWebhook(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !h.store.DeleteWebhook(id) {
		notFound(w, fmt.Sprintf("webhook '%s' not found", id))
		return
	}
	noContent(w)
}

// ─── Validation ───────────────────────────────────────────────────────────────

func validateVerificationRequest(req *domain.VerificationRequest) error {
	if req.SessionID == "" {
		return fmt.Errorf("session_id is required")
	}
	if req.UserID == "" {
		return fmt.Errorf("user_id is required")
	}
	if req.CampaignID == "" {
		return fmt.Errorf("campaign_id is required")
	}
	if len(req.Telemetry) == 0 {
		return fmt.Errorf("telemetry is required")
	}
	if req.DeviceFingerprint == "" {
		return fmt.Errorf("device_fingerprint is required")
	}
	if req.ClientTimestamp == 0 {
		return fmt.Errorf("client_timestamp is required")
	}
	return nil
}

// Package domain contains all core types used across the application.
// Keeping domain types in one place makes the verification pipeline easy to reason about.
package domain

import "time"

// ─── Constants ───────────────────────────────────────────────────────────────

// Fraud flag severities, ordered from least to most suspicious.
const (
	SeverityLow      = "LOW"
	SeverityMedium   = "MEDIUM"
	SeverityHigh     = "HIGH"
	SeverityCritical = "CRITICAL"
)

// Fraud flag types emitted by the detection engine and the guard layer.
const (
	FlagGPSSpoof         = "GPS_SPOOF"
	FlagImpossibleSpeed  = "IMPOSSIBLE_SPEED"
	FlagAccuracyAnomaly  = "ACCURACY_ANOMALY"
	FlagTimestampDrift   = "TIMESTAMP_DRIFT"
	FlagAltitudeMismatch = "ALTITUDE_MISMATCH"
	FlagReplayAttack     = "REPLAY_ATTACK"
	FlagBusinessHours    = "BUSINESS_HOURS"
)

// RejectThreshold is the single global accept/reject boundary: any
// verification whose accumulated risk score reaches it is denied.
const RejectThreshold = 70

// ─── Core domain types ────────────────────────────────────────────────────────

// Coordinate is a WGS84 point in decimal degrees.
// Range validation is the caller's responsibility; out-of-range values
// produce degenerate geohashes rather than errors.
type Coordinate struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// BusinessHours is one weekday's operating window for a campaign.
// Open and Close are "HH:MM" local-time strings compared lexicographically.
type BusinessHours struct {
	Day   time.Weekday `json:"day"`
	Open  string       `json:"open"`
	Close string       `json:"close"`
}

// Campaign is a geo-fenced reward offer. The verification core consumes
// campaigns read-only; ownership and lifecycle live with the store.
type Campaign struct {
	ID            string          `json:"id"`
	Name          string          `json:"name"`
	Coordinates   Coordinate      `json:"coordinates"`
	RadiusMeters  float64         `json:"radius_meters"` // geofence radius, positive
	DwellSeconds  int64           `json:"dwell_seconds"` // required in-zone duration
	Active        bool            `json:"active"`
	ExpiresAt     time.Time       `json:"expires_at"`
	BusinessHours []BusinessHours `json:"business_hours,omitempty"`
	Timezone      string          `json:"timezone,omitempty"` // IANA name, e.g. "America/New_York"
	Geohash       string          `json:"geohash"`            // precision-7 cell, maintained by the store
	CreatedAt     time.Time       `json:"created_at"`
}

// TelemetrySample is a single client-reported GPS reading. A sequence of
// these, collected during a dwell session, is the sole evidence submitted
// for verification. Samples arrive unordered.
type TelemetrySample struct {
	Latitude         float64  `json:"latitude"`
	Longitude        float64  `json:"longitude"`
	Accuracy         float64  `json:"accuracy"` // reported horizontal accuracy, meters
	Altitude         *float64 `json:"altitude,omitempty"`
	AltitudeAccuracy *float64 `json:"altitude_accuracy,omitempty"`
	Heading          *float64 `json:"heading,omitempty"`
	Speed            *float64 `json:"speed,omitempty"`
	Timestamp        int64    `json:"timestamp"` // epoch milliseconds
}

// Coordinate returns the sample's position as a Coordinate.
func (s TelemetrySample) Coordinate() Coordinate {
	return Coordinate{Latitude: s.Latitude, Longitude: s.Longitude}
}

// FraudFlag is a single structured fraud signal. Flags are immutable once
// produced and always accompany a rejection so reviewers can see why a
// claim was denied.
type FraudFlag struct {
	Type     string         `json:"type"`
	Severity string         `json:"severity"`
	Message  string         `json:"message"`
	Data     map[string]any `json:"data,omitempty"`
}

// VerificationRequest is the payload submitted by the client at the end of
// a dwell session. It exists only for the duration of one verification call.
type VerificationRequest struct {
	SessionID         string            `json:"session_id"`
	UserID            string            `json:"user_id"`
	CampaignID        string            `json:"campaign_id"`
	Telemetry         []TelemetrySample `json:"telemetry"`
	DeviceFingerprint string            `json:"device_fingerprint"`
	ClientTimestamp   int64             `json:"client_timestamp"` // epoch milliseconds
}

// VerificationResult is the orchestrator's decision, returned to the caller.
// The core never persists it.
type VerificationResult struct {
	Success        bool        `json:"success"`
	RedemptionID   string      `json:"redemption_id,omitempty"`
	Token          string      `json:"token,omitempty"`            // opaque base64 QR payload
	TokenExpiresAt int64       `json:"token_expires_at,omitempty"` // epoch milliseconds
	Error          string      `json:"error,omitempty"`
	RiskScore      int         `json:"risk_score"` // 0-100
	Flags          []FraudFlag `json:"flags,omitempty"`
}

// ─── Redemption tokens ────────────────────────────────────────────────────────

// RedemptionToken is the structured payload behind the opaque base64 string
// handed to the client. Staff-scanning systems depend on this exact shape.
type RedemptionToken struct {
	RedemptionID string `json:"redemption_id"`
	UserID       string `json:"user_id"`
	CampaignID   string `json:"campaign_id"`
	Code         string `json:"code"`       // 6-digit one-time code
	ExpiresAt    int64  `json:"expires_at"` // epoch milliseconds
}

// ─── Webhooks ─────────────────────────────────────────────────────────────────

// WebhookConfig is a registered callback that receives real-time alerts
// when a verification is rejected at or above the threshold.
type WebhookConfig struct {
	ID        string    `json:"id"`
	URL       string    `json:"url"`
	Threshold int       `json:"threshold"` // fire when risk score >= this value
	CreatedAt time.Time `json:"created_at"`
	Active    bool      `json:"active"`
}

// WebhookPayload is the body sent to registered webhook URLs.
type WebhookPayload struct {
	Event       string      `json:"event"` // always "high_risk_verification"
	TriggeredAt time.Time   `json:"triggered_at"`
	SessionID   string      `json:"session_id"`
	UserID      string      `json:"user_id"`
	CampaignID  string      `json:"campaign_id"`
	RiskScore   int         `json:"risk_score"`
	Flags       []FraudFlag `json:"flags,omitempty"`
}

// Package verify sequences a verification call end to end: guard checks,
// business-hours validation, fraud analysis, the accept/reject decision,
// and redemption token issuance.
//
// The orchestrator assumes a valid, active campaign: existence, active-flag
// and expiry validation belong to the caller. Everything here is synchronous
// CPU-bound work except the guard store, which may be remote.
package verify

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"waypoint/georeward-api/internal/domain"
	"waypoint/georeward-api/internal/fraud"
	"waypoint/georeward-api/internal/guard"
	"waypoint/georeward-api/internal/otp"
)

// Orchestrator is the verification entry point.
type Orchestrator struct {
	guard *guard.Guard
	fraud *fraud.Engine
	otp   *otp.Engine
}

// New wires an orchestrator from its collaborators.
func New(g *guard.Guard, f *fraud.Engine, o *otp.Engine) *Orchestrator {
	return &Orchestrator{guard: g, fraud: f, otp: o}
}

// Verify runs the full decision pipeline for one request. The returned
// result always carries a risk score; rejection reasons are distinguishable
// by their flags (replay carries one CRITICAL flag, rate limiting carries
// none). A non-nil error means the guard store failed, not that the claim
// was denied.
//
// The session and rate-limit keys are claimed atomically up front, before
// any analysis runs, so two concurrent requests sharing either key cannot
// both pass the guard. On every rejection the claims are released, so a
// denied attempt consumes neither the session nor the rate limit.
func (o *Orchestrator) Verify(ctx context.Context, req *domain.VerificationRequest, campaign *domain.Campaign) (*domain.VerificationResult, error) {
	o.guard.Sweep(ctx)

	// Replay short-circuits before any analysis: a reused session is
	// maximally suspicious regardless of telemetry quality.
	claimed, err := o.guard.ClaimSession(ctx, req.SessionID)
	if err != nil {
		return nil, fmt.Errorf("guard session claim: %w", err)
	}
	if !claimed {
		return &domain.VerificationResult{
			Success:   false,
			Error:     "session already used",
			RiskScore: 100,
			Flags: []domain.FraudFlag{{
				Type:     domain.FlagReplayAttack,
				Severity: domain.SeverityCritical,
				Message:  "session identifier was already consumed by a previous verification",
			}},
		}, nil
	}

	// Rate limiting is policy, not fraud: score zero, no flags. The stamp
	// belongs to another redemption here, so only the session is released.
	allowed, err := o.guard.ClaimRedemption(ctx, req.UserID, req.CampaignID)
	if err != nil {
		o.releaseSession(ctx, req)
		return nil, fmt.Errorf("guard rate-limit claim: %w", err)
	}
	if !allowed {
		o.releaseSession(ctx, req)
		return &domain.VerificationResult{
			Success:   false,
			Error:     "reward already redeemed for this campaign in the last 24 hours",
			RiskScore: 0,
		}, nil
	}

	if len(campaign.BusinessHours) > 0 && !withinBusinessHours(campaign, req.ClientTimestamp) {
		o.releaseClaims(ctx, req)
		return &domain.VerificationResult{
			Success:   false,
			Error:     "campaign is outside its business hours",
			RiskScore: 50,
			Flags: []domain.FraudFlag{{
				Type:     domain.FlagBusinessHours,
				Severity: domain.SeverityMedium,
				Message:  "verification attempted outside the campaign's operating window",
			}},
		}, nil
	}

	analysis := o.fraud.AnalyzeTelemetry(req.Telemetry, campaign, req.UserID)
	if analysis.RiskScore >= domain.RejectThreshold {
		o.releaseClaims(ctx, req)
		return &domain.VerificationResult{
			Success:   false,
			Error:     "Suspicious activity detected",
			RiskScore: analysis.RiskScore,
			Flags:     analysis.Flags,
		}, nil
	}

	// Success: the claims stamped at the start are the durable record.
	redemptionID := newRedemptionID()
	token, expiresAt := o.otp.IssueRedemptionToken(redemptionID, req.UserID, req.CampaignID)

	return &domain.VerificationResult{
		Success:        true,
		RedemptionID:   redemptionID,
		Token:          token,
		TokenExpiresAt: expiresAt,
		RiskScore:      analysis.RiskScore,
		Flags:          analysis.Flags,
	}, nil
}

// releaseSession returns the session claim after a rejection. Best effort:
// a failed delete only leaves the claim to age out with the retention
// window.
func (o *Orchestrator) releaseSession(ctx context.Context, req *domain.VerificationRequest) {
	_ = o.guard.ReleaseSession(ctx, req.SessionID)
}

// releaseClaims drops both guard claims after a rejection taken past the
// rate-limit gate.
func (o *Orchestrator) releaseClaims(ctx context.Context, req *domain.VerificationRequest) {
	_ = o.guard.ReleaseRedemption(ctx, req.UserID, req.CampaignID)
	o.releaseSession(ctx, req)
}

// newRedemptionID builds a globally unique, unguessable identifier:
// a timestamp for operator readability plus a UUID for entropy.
func newRedemptionID() string {
	return fmt.Sprintf("rdm_%d_%s", time.Now().UnixMilli(), uuid.NewString())
}

// withinBusinessHours reports whether the client timestamp falls inside the
// campaign's configured window for its local day of week. A day with no
// configured hours is closed. Open/close are compared as "HH:MM" strings,
// which orders correctly for zero-padded 24-hour times.
func withinBusinessHours(campaign *domain.Campaign, clientTimestampMs int64) bool {
	loc := time.UTC
	if campaign.Timezone != "" {
		if l, err := time.LoadLocation(campaign.Timezone); err == nil {
			loc = l
		}
	}

	local := time.UnixMilli(clientTimestampMs).In(loc)
	hhmm := local.Format("15:04")

	for _, bh := range campaign.BusinessHours {
		if bh.Day != local.Weekday() {
			continue
		}
		return hhmm >= bh.Open && hhmm <= bh.Close
	}
	return false
}

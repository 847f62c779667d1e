// Package fraud implements the telemetry fraud detection engine.
//
// Architecture:
//   The engine is stateless — it consumes one telemetry sequence plus the
//   campaign geometry and emits structured flags and a risk score. Guard
//   state (replay, rate limits) lives elsewhere; by the time telemetry
//   reaches this engine those checks have already passed.
//
// Scoring philosophy:
//   Each check contributes a non-negative delta to the total score.
//   Deltas are additive; the total is clamped to [0, 100]. All checks run
//   independently — an earlier flag never suppresses a later one. The only
//   exception is the insufficient-data check, which short-circuits because
//   nothing downstream is meaningful with fewer than two samples.
package fraud

import (
	"fmt"
	"math"
	"sort"
	"time"

	"waypoint/georeward-api/internal/domain"
	"waypoint/georeward-api/internal/geo"
)

// Tuning constants. These are calibrated heuristics; the literal values are
// load-bearing for score compatibility and must not be adjusted casually.
const (
	maxPlausibleSpeed  = 100.0  // m/s — nothing ground-based moves faster
	vehicleSpeed       = 35.0   // m/s — suspicious for a walking dwell session
	vehicleMinDistance = 100.0  // m — ignore GPS jitter below this
	accuracyDeviation  = 50.0   // m — deviation from mean accuracy that flags
	driftToleranceMs   = 60_000 // allowed gap between server and sample clocks
	altitudeSpan       = 500.0  // m — max plausible altitude range in one session
	zoneGraceMeters    = 20.0   // geofence margin for GPS accuracy
	dwellFraction      = 0.8    // fraction of required dwell that must be observed
)

// Result is the outcome of analysing one telemetry sequence.
type Result struct {
	Flags     []domain.FraudFlag
	RiskScore int // 0-100
}

// Engine is the stateless telemetry analysis engine.
type Engine struct{}

// New creates a fraud detection engine.
func New() *Engine {
	return &Engine{}
}

// ─── Public API ───────────────────────────────────────────────────────────────

// AnalyzeTelemetry runs every check against the sample sequence and returns
// the accumulated flags and clamped risk score. Samples may arrive in any
// order; they are sorted by timestamp before analysis. Malformed values
// (out-of-range coordinates, negative accuracy, non-monotonic timestamps)
// degrade into flags and score, never faults.
func (e *Engine) AnalyzeTelemetry(samples []domain.TelemetrySample, campaign *domain.Campaign, userID string) Result {
	// Insufficient data short-circuits: a single point proves nothing and
	// is the cheapest spoof to fabricate.
	if len(samples) < 2 {
		return Result{
			Flags: []domain.FraudFlag{{
				Type:     domain.FlagGPSSpoof,
				Severity: domain.SeverityCritical,
				Message:  fmt.Sprintf("insufficient telemetry (%d samples): possible single-point spoof", len(samples)),
			}},
			RiskScore: 40,
		}
	}

	sorted := make([]domain.TelemetrySample, len(samples))
	copy(sorted, samples)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Timestamp < sorted[j].Timestamp
	})

	checks := []func([]domain.TelemetrySample, *domain.Campaign) ([]domain.FraudFlag, int){
		checkImpossibleSpeed,
		checkAccuracyAnomaly,
		checkPerfectCoordinates,
		checkTimestampDrift,
		checkAltitudeConsistency,
		checkDwellTime,
	}

	var flags []domain.FraudFlag
	total := 0
	for _, check := range checks {
		f, delta := check(sorted, campaign)
		flags = append(flags, f...)
		total += delta
	}

	if total > 100 {
		total = 100
	}
	return Result{Flags: flags, RiskScore: total}
}

// ─── Check: impossible speed ──────────────────────────────────────────────────

// checkImpossibleSpeed computes the implied speed between each consecutive
// sample pair. Pairs with a non-positive time delta are skipped (backward
// or duplicate timestamps). Every offending pair flags and scores
// individually — a teleporting trace accumulates fast.
func checkImpossibleSpeed(samples []domain.TelemetrySample, _ *domain.Campaign) ([]domain.FraudFlag, int) {
	var flags []domain.FraudFlag
	delta := 0

	for i := 1; i < len(samples); i++ {
		prev, cur := samples[i-1], samples[i]
		dtMs := cur.Timestamp - prev.Timestamp
		if dtMs <= 0 {
			continue
		}

		dist := geo.Distance(prev.Coordinate(), cur.Coordinate())
		speed := dist / (float64(dtMs) / 1000)

		switch {
		case speed > maxPlausibleSpeed:
			flags = append(flags, domain.FraudFlag{
				Type:     domain.FlagImpossibleSpeed,
				Severity: domain.SeverityCritical,
				Message:  fmt.Sprintf("implied speed %.0f m/s between samples %d and %d", speed, i-1, i),
				Data:     map[string]any{"speed_mps": speed, "distance_m": dist},
			})
			delta += 100
		case speed > vehicleSpeed && dist > vehicleMinDistance:
			flags = append(flags, domain.FraudFlag{
				Type:     domain.FlagImpossibleSpeed,
				Severity: domain.SeverityHigh,
				Message:  fmt.Sprintf("implied speed %.0f m/s over %.0f m is inconsistent with a dwell session", speed, dist),
				Data:     map[string]any{"speed_mps": speed, "distance_m": dist},
			})
			delta += 30
		}
	}

	return flags, delta
}

// ─── Check: accuracy anomaly ──────────────────────────────────────────────────

// checkAccuracyAnomaly flags once when any sample's reported accuracy
// deviates from the sequence mean by more than the tolerance. Spoofing
// tools often report a fixed synthetic accuracy that real receivers drift
// away from.
func checkAccuracyAnomaly(samples []domain.TelemetrySample, _ *domain.Campaign) ([]domain.FraudFlag, int) {
	var sum float64
	for _, s := range samples {
		sum += s.Accuracy
	}
	mean := sum / float64(len(samples))

	for _, s := range samples {
		if math.Abs(s.Accuracy-mean) > accuracyDeviation {
			return []domain.FraudFlag{{
				Type:     domain.FlagAccuracyAnomaly,
				Severity: domain.SeverityMedium,
				Message:  fmt.Sprintf("sample accuracy %.0f m deviates from session mean %.0f m", s.Accuracy, mean),
				Data:     map[string]any{"mean_accuracy_m": mean},
			}}, 20
		}
	}
	return nil, 0
}

// ─── Check: perfect coordinates ───────────────────────────────────────────────

// checkPerfectCoordinates flags a sequence whose every sample repeats the
// first sample's exact coordinates. Real GPS always jitters; more than five
// identical fixes means the position was injected.
func checkPerfectCoordinates(samples []domain.TelemetrySample, _ *domain.Campaign) ([]domain.FraudFlag, int) {
	if len(samples) <= 5 {
		return nil, 0
	}

	first := samples[0]
	for _, s := range samples[1:] {
		if s.Latitude != first.Latitude || s.Longitude != first.Longitude {
			return nil, 0
		}
	}

	return []domain.FraudFlag{{
		Type:     domain.FlagGPSSpoof,
		Severity: domain.SeverityCritical,
		Message:  fmt.Sprintf("all %d samples are perfectly static at the same coordinates", len(samples)),
	}}, 100
}

// ─── Check: timestamp drift ───────────────────────────────────────────────────

// checkTimestampDrift compares the newest sample's clock to the server
// clock. Replayed capture files carry stale timestamps.
func checkTimestampDrift(samples []domain.TelemetrySample, _ *domain.Campaign) ([]domain.FraudFlag, int) {
	latest := samples[len(samples)-1].Timestamp
	drift := time.Now().UnixMilli() - latest
	if drift < 0 {
		drift = -drift
	}

	if drift > driftToleranceMs {
		return []domain.FraudFlag{{
			Type:     domain.FlagTimestampDrift,
			Severity: domain.SeverityMedium,
			Message:  fmt.Sprintf("latest sample is %.0f s away from server time", float64(drift)/1000),
			Data:     map[string]any{"drift_ms": drift},
		}}, 25
	}
	return nil, 0
}

// ─── Check: altitude consistency ──────────────────────────────────────────────

// checkAltitudeConsistency looks at the altitude span across samples that
// report one. A session cannot plausibly cover 500 vertical meters while
// dwelling inside a street-level geofence.
func checkAltitudeConsistency(samples []domain.TelemetrySample, _ *domain.Campaign) ([]domain.FraudFlag, int) {
	var min, max float64
	count := 0
	for _, s := range samples {
		if s.Altitude == nil {
			continue
		}
		if count == 0 || *s.Altitude < min {
			min = *s.Altitude
		}
		if count == 0 || *s.Altitude > max {
			max = *s.Altitude
		}
		count++
	}

	if count > 3 && max-min > altitudeSpan {
		return []domain.FraudFlag{{
			Type:     domain.FlagAltitudeMismatch,
			Severity: domain.SeverityMedium,
			Message:  fmt.Sprintf("altitude varies %.0f m across the session", max-min),
			Data:     map[string]any{"altitude_span_m": max - min},
		}}, 15
	}
	return nil, 0
}

// ─── Check: dwell time ────────────────────────────────────────────────────────

// checkDwellTime measures the observed in-zone dwell as the timestamp span
// from the first to the last sample within the geofence (plus a grace
// margin for GPS accuracy) and compares it against the campaign's required
// dwell. Observing at least 80% of the requirement passes; the margin
// absorbs sampling gaps at session edges.
func checkDwellTime(samples []domain.TelemetrySample, campaign *domain.Campaign) ([]domain.FraudFlag, int) {
	zone := campaign.RadiusMeters + zoneGraceMeters

	var firstIn, lastIn int64
	inZone := 0
	for _, s := range samples {
		if geo.Distance(s.Coordinate(), campaign.Coordinates) > zone {
			continue
		}
		if inZone == 0 {
			firstIn = s.Timestamp
		}
		lastIn = s.Timestamp
		inZone++
	}

	var actualMs int64
	if inZone > 1 {
		actualMs = lastIn - firstIn
	}

	requiredMs := campaign.DwellSeconds * 1000
	if float64(actualMs) < dwellFraction*float64(requiredMs) {
		return []domain.FraudFlag{{
			Type:     domain.FlagGPSSpoof,
			Severity: domain.SeverityHigh,
			Message: fmt.Sprintf("observed dwell %.0f s is below the required %d s",
				float64(actualMs)/1000, campaign.DwellSeconds),
			Data: map[string]any{"actual_dwell_ms": actualMs, "in_zone_samples": inZone},
		}}, 35
	}
	return nil, 0
}

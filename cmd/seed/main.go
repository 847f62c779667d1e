// Command seed generates a demo dataset for the Waypoint Geo-Reward API
// and writes it to the data/ directory.
//
// Usage:
//
//	go run ./cmd/seed
//
// Two files are produced:
//   - data/seed.json          — campaigns across several cities, a mix of
//     always-open and business-hours-restricted zones
//   - data/demo_request.json  — a realistic walking-dwell verification
//     request targeting the first campaign, for manual testing with curl
package main

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"time"

	"github.com/google/uuid"

	"waypoint/georeward-api/internal/domain"
)

// city anchors for generated campaign centers.
var cities = []struct {
	name string
	lat  float64
	lng  float64
	tz   string
}{
	{"new-york", 40.7128, -74.0060, "America/New_York"},
	{"london", 51.5074, -0.1278, "Europe/London"},
	{"tokyo", 35.6762, 139.6503, "Asia/Tokyo"},
	{"sao-paulo", -23.5505, -46.6333, "America/Sao_Paulo"},
}

func main() {
	rng := rand.New(rand.NewSource(42)) // deterministic for reproducibility

	campaigns := generateCampaigns(rng)

	if err := os.MkdirAll("data", 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "mkdir error: %v\n", err)
		os.Exit(1)
	}

	writeJSON("data/seed.json", campaigns)
	writeJSON("data/demo_request.json", generateDemoRequest(rng, &campaigns[0]))

	fmt.Printf("wrote %d campaigns to data/seed.json and a demo request to data/demo_request.json\n", len(campaigns))
}

// generateCampaigns produces a handful of campaigns per city: small cafe
// zones, medium plaza zones, and one large park zone, with every third one
// carrying weekday business hours.
func generateCampaigns(rng *rand.Rand) []domain.Campaign {
	var campaigns []domain.Campaign

	shapes := []struct {
		kind   string
		radius float64
		dwell  int64
	}{
		{"cafe", 50, 120},
		{"plaza", 150, 300},
		{"park", 800, 600},
	}

	for _, city := range cities {
		for i, shape := range shapes {
			// Scatter centers within ~2km of the city anchor.
			c := domain.Campaign{
				ID:   uuid.NewString(),
				Name: fmt.Sprintf("%s-%s-%d", city.name, shape.kind, i+1),
				Coordinates: domain.Coordinate{
					Latitude:  city.lat + (rng.Float64()-0.5)*0.04,
					Longitude: city.lng + (rng.Float64()-0.5)*0.04,
				},
				RadiusMeters: shape.radius,
				DwellSeconds: shape.dwell,
				Active:       true,
				ExpiresAt:    time.Now().UTC().Add(90 * 24 * time.Hour),
				CreatedAt:    time.Now().UTC(),
			}

			if i%3 == 2 {
				c.Timezone = city.tz
				c.BusinessHours = weekdayHours()
			}

			campaigns = append(campaigns, c)
		}
	}

	return campaigns
}

// weekdayHours returns a Monday-to-Friday 09:00-18:00 schedule.
func weekdayHours() []domain.BusinessHours {
	var hours []domain.BusinessHours
	for day := time.Monday; day <= time.Friday; day++ {
		hours = append(hours, domain.BusinessHours{Day: day, Open: "09:00", Close: "18:00"})
	}
	return hours
}

// generateDemoRequest builds a verification request with a plausible
// walking trace: samples every 10 seconds, slight coordinate jitter inside
// the campaign zone, accuracy around 10m, spanning the required dwell.
func generateDemoRequest(rng *rand.Rand, campaign *domain.Campaign) domain.VerificationRequest {
	now := time.Now().UnixMilli()
	durationMs := campaign.DwellSeconds * 1000
	start := now - durationMs

	var telemetry []domain.TelemetrySample
	for ts := start; ts <= now; ts += 10_000 {
		telemetry = append(telemetry, domain.TelemetrySample{
			// ~3m jitter, well inside even the smallest zone.
			Latitude:  campaign.Coordinates.Latitude + (rng.Float64()-0.5)*0.00005,
			Longitude: campaign.Coordinates.Longitude + (rng.Float64()-0.5)*0.00005,
			Accuracy:  8 + rng.Float64()*4,
			Timestamp: ts,
		})
	}

	return domain.VerificationRequest{
		SessionID:         uuid.NewString(),
		UserID:            "demo-user",
		CampaignID:        campaign.ID,
		Telemetry:         telemetry,
		DeviceFingerprint: "demo-device",
		ClientTimestamp:   now,
	}
}

func writeJSON(path string, v any) {
	f, err := os.Create(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "create error: %v\n", err)
		os.Exit(1)
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "encode error: %v\n", err)
		os.Exit(1)
	}
}

package api_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"waypoint/georeward-api/internal/api"
	"waypoint/georeward-api/internal/domain"
	"waypoint/georeward-api/internal/fraud"
	"waypoint/georeward-api/internal/guard"
	"waypoint/georeward-api/internal/otp"
	"waypoint/georeward-api/internal/store"
	"waypoint/georeward-api/internal/verify"
	"waypoint/georeward-api/internal/webhook"
)

// ─── Test server setup ────────────────────────────────────────────────────────

func newTestServer(t *testing.T) (*httptest.Server, *store.Store) {
	t.Helper()
	s := store.New()
	e, err := otp.NewEngine("test-server-secret")
	if err != nil {
		t.Fatalf("otp.NewEngine: %v", err)
	}
	o := verify.New(guard.New(guard.NewMemoryStore()), fraud.New(), e)
	n := webhook.New(s)
	h := api.NewHandler(s, o, e, n)
	return httptest.NewServer(api.NewRouter(h)), s
}

func post(t *testing.T, srv *httptest.Server, path string, body any) *http.Response {
	t.Helper()
	b, _ := json.Marshal(body)
	resp, err := http.Post(srv.URL+path, "application/json", bytes.NewReader(b))
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	return resp
}

func get(t *testing.T, srv *httptest.Server, path string) *http.Response {
	t.Helper()
	resp, err := http.Get(srv.URL + path)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	return resp
}

func del(t *testing.T, srv *httptest.Server, path string) *http.Response {
	t.Helper()
	req, _ := http.NewRequest(http.MethodDelete, srv.URL+path, nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("DELETE %s: %v", path, err)
	}
	return resp
}

func decodeData(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	var env map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	d, ok := env["data"].(map[string]any)
	if !ok {
		t.Fatalf("response has no 'data' key: %v", env)
	}
	return d
}

func decodeList(t *testing.T, resp *http.Response) []any {
	t.Helper()
	var env map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	l, ok := env["data"].([]any)
	if !ok {
		t.Fatalf("response 'data' is not a list: %v", env)
	}
	return l
}

func decodeError(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	var env map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		t.Fatalf("decode error response: %v", err)
	}
	e, ok := env["error"].(map[string]any)
	if !ok {
		t.Fatalf("response has no 'error' key: %v", env)
	}
	return e
}

func createCampaign(t *testing.T, srv *httptest.Server, lat, lng float64) string {
	t.Helper()
	resp := post(t, srv, "/api/v1/campaigns", map[string]any{
		"name":          "test-cafe",
		"coordinates":   map[string]any{"latitude": lat, "longitude": lng},
		"radius_meters": 100.0,
		"dwell_seconds": 300,
		"expires_at":    time.Now().Add(24 * time.Hour).Format(time.RFC3339),
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create campaign: expected 201, got %d", resp.StatusCode)
	}
	return decodeData(t, resp)["id"].(string)
}

// validVerifyPayload builds a verification request whose telemetry is a full
// walking session inside a 100m/300s campaign geofence, ending now.
func validVerifyPayload(campaignID, sessionID string, lat, lng float64) map[string]any {
	end := time.Now().UnixMilli()

	var telemetry []map[string]any
	for i := 0; i < 31; i++ {
		jitter := float64(i%3) * 0.00001
		telemetry = append(telemetry, map[string]any{
			"latitude":  lat + jitter,
			"longitude": lng - jitter,
			"accuracy":  10.0,
			"timestamp": end - int64(30-i)*10_000,
		})
	}

	return map[string]any{
		"session_id":         sessionID,
		"user_id":            "user-1",
		"campaign_id":        campaignID,
		"telemetry":          telemetry,
		"device_fingerprint": "device-test",
		"client_timestamp":   end,
	}
}

// ─── Health ───────────────────────────────────────────────────────────────────

func TestHealth_Returns200(t *testing.T) {
	srv, _ := newTestServer(t)
	defer srv.Close()

	resp := get(t, srv, "/health")
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200, got %d", resp.StatusCode)
	}
}

// ─── POST /api/v1/verify ──────────────────────────────────────────────────────

func TestVerify_CleanSession_Returns200Success(t *testing.T) {
	srv, _ := newTestServer(t)
	defer srv.Close()

	id := createCampaign(t, srv, 40.7128, -74.0060)
	resp := post(t, srv, "/api/v1/verify", validVerifyPayload(id, "sess-1", 40.7128, -74.0060))

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	d := decodeData(t, resp)
	if d["success"] != true {
		t.Fatalf("expected success=true, got %v", d)
	}
	if d["redemption_id"] == "" || d["token"] == "" {
		t.Error("success response must include redemption_id and token")
	}
}

func TestVerify_MissingField_Returns400(t *testing.T) {
	srv, _ := newTestServer(t)
	defer srv.Close()

	id := createCampaign(t, srv, 40.7128, -74.0060)
	bad := validVerifyPayload(id, "sess-bad", 40.7128, -74.0060)
	delete(bad, "device_fingerprint")

	resp := post(t, srv, "/api/v1/verify", bad)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", resp.StatusCode)
	}
	e := decodeError(t, resp)
	if e["code"] != "VALIDATION_ERROR" {
		t.Errorf("expected VALIDATION_ERROR, got %v", e["code"])
	}
}

func TestVerify_InvalidJSON_Returns400(t *testing.T) {
	srv, _ := newTestServer(t)
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/api/v1/verify", "application/json",
		bytes.NewBufferString("not-json"))
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", resp.StatusCode)
	}
}

func TestVerify_UnknownCampaign_Returns404(t *testing.T) {
	srv, _ := newTestServer(t)
	defer srv.Close()

	resp := post(t, srv, "/api/v1/verify", validVerifyPayload("ghost-campaign", "sess-404", 40.7128, -74.0060))
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404, got %d", resp.StatusCode)
	}
}

func TestVerify_InactiveCampaign_Returns410(t *testing.T) {
	srv, s := newTestServer(t)
	defer srv.Close()

	id := createCampaign(t, srv, 40.7128, -74.0060)
	c, _ := s.GetCampaign(id)
	c.Active = false

	resp := post(t, srv, "/api/v1/verify", validVerifyPayload(id, "sess-inactive", 40.7128, -74.0060))
	if resp.StatusCode != http.StatusGone {
		t.Fatalf("expected 410, got %d", resp.StatusCode)
	}
	e := decodeError(t, resp)
	if e["code"] != "CAMPAIGN_INACTIVE" {
		t.Errorf("expected CAMPAIGN_INACTIVE, got %v", e["code"])
	}
}

func TestVerify_ExpiredCampaign_Returns410(t *testing.T) {
	srv, s := newTestServer(t)
	defer srv.Close()

	id := createCampaign(t, srv, 40.7128, -74.0060)
	c, _ := s.GetCampaign(id)
	c.ExpiresAt = time.Now().Add(-time.Hour)

	resp := post(t, srv, "/api/v1/verify", validVerifyPayload(id, "sess-expired", 40.7128, -74.0060))
	if resp.StatusCode != http.StatusGone {
		t.Fatalf("expected 410, got %d", resp.StatusCode)
	}
	e := decodeError(t, resp)
	if e["code"] != "CAMPAIGN_EXPIRED" {
		t.Errorf("expected CAMPAIGN_EXPIRED, got %v", e["code"])
	}
}

func TestVerify_ReplayedSession_RejectedWith200(t *testing.T) {
	srv, _ := newTestServer(t)
	defer srv.Close()

	id := createCampaign(t, srv, 40.7128, -74.0060)
	post(t, srv, "/api/v1/verify", validVerifyPayload(id, "sess-replay", 40.7128, -74.0060))

	replay := validVerifyPayload(id, "sess-replay", 40.7128, -74.0060)
	replay["user_id"] = "user-2"
	resp := post(t, srv, "/api/v1/verify", replay)

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("rejections still return 200, got %d", resp.StatusCode)
	}
	d := decodeData(t, resp)
	if d["success"] != false {
		t.Fatal("replayed session must be rejected")
	}
	if d["risk_score"].(float64) != 100 {
		t.Errorf("replay should force risk_score 100, got %v", d["risk_score"])
	}
}

func TestVerify_TeleportingTelemetry_Rejected(t *testing.T) {
	srv, _ := newTestServer(t)
	defer srv.Close()

	id := createCampaign(t, srv, 40.7128, -74.0060)
	now := time.Now().UnixMilli()
	payload := validVerifyPayload(id, "sess-teleport", 40.7128, -74.0060)
	payload["telemetry"] = []map[string]any{
		{"latitude": 40.7128, "longitude": -74.0060, "accuracy": 10.0, "timestamp": now - 1000},
		{"latitude": 42.5128, "longitude": -74.0060, "accuracy": 10.0, "timestamp": now},
	}

	resp := post(t, srv, "/api/v1/verify", payload)
	d := decodeData(t, resp)
	if d["success"] != false {
		t.Fatal("teleporting telemetry must be rejected")
	}
	if d["error"] != "Suspicious activity detected" {
		t.Errorf("unexpected rejection message %v", d["error"])
	}
}

// ─── POST /api/v1/redemptions/validate ───────────────────────────────────────

func TestValidateRedemption_IssuedToken_Returns200(t *testing.T) {
	srv, _ := newTestServer(t)
	defer srv.Close()

	id := createCampaign(t, srv, 40.7128, -74.0060)
	verifyResp := post(t, srv, "/api/v1/verify", validVerifyPayload(id, "sess-redeem", 40.7128, -74.0060))
	d := decodeData(t, verifyResp)
	token := d["token"].(string)

	resp := post(t, srv, "/api/v1/redemptions/validate", map[string]any{"token": token})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	payload := decodeData(t, resp)
	if payload["campaign_id"] != id {
		t.Errorf("expected campaign_id %q, got %v", id, payload["campaign_id"])
	}
	if payload["redemption_id"] != d["redemption_id"] {
		t.Errorf("redemption ID mismatch: %v vs %v", payload["redemption_id"], d["redemption_id"])
	}
}

func TestValidateRedemption_GarbageToken_Returns401(t *testing.T) {
	srv, _ := newTestServer(t)
	defer srv.Close()

	resp := post(t, srv, "/api/v1/redemptions/validate", map[string]any{"token": "not-a-token"})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
	e := decodeError(t, resp)
	if e["code"] != "TOKEN_MALFORMED" {
		t.Errorf("expected TOKEN_MALFORMED, got %v", e["code"])
	}
}

func TestValidateRedemption_MissingToken_Returns400(t *testing.T) {
	srv, _ := newTestServer(t)
	defer srv.Close()

	resp := post(t, srv, "/api/v1/redemptions/validate", map[string]any{})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", resp.StatusCode)
	}
}

// ─── Campaigns ────────────────────────────────────────────────────────────────

func TestCreateCampaign_Returns201WithGeohash(t *testing.T) {
	srv, _ := newTestServer(t)
	defer srv.Close()

	resp := post(t, srv, "/api/v1/campaigns", map[string]any{
		"name":          "midtown-plaza",
		"coordinates":   map[string]any{"latitude": 40.7580, "longitude": -73.9855},
		"radius_meters": 150.0,
		"dwell_seconds": 300,
		"expires_at":    time.Now().Add(24 * time.Hour).Format(time.RFC3339),
		"timezone":      "America/New_York",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	d := decodeData(t, resp)
	if d["id"] == "" {
		t.Error("response must include campaign id")
	}
	if gh, _ := d["geohash"].(string); len(gh) != 7 {
		t.Errorf("expected a precision-7 geohash, got %v", d["geohash"])
	}
	if d["active"] != true {
		t.Error("new campaigns start active")
	}
}

func TestCreateCampaign_MissingName_Returns400(t *testing.T) {
	srv, _ := newTestServer(t)
	defer srv.Close()

	resp := post(t, srv, "/api/v1/campaigns", map[string]any{
		"coordinates":   map[string]any{"latitude": 40.0, "longitude": -74.0},
		"radius_meters": 100.0,
		"dwell_seconds": 300,
		"expires_at":    time.Now().Add(time.Hour).Format(time.RFC3339),
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", resp.StatusCode)
	}
}

func TestCreateCampaign_NonPositiveRadius_Returns400(t *testing.T) {
	srv, _ := newTestServer(t)
	defer srv.Close()

	resp := post(t, srv, "/api/v1/campaigns", map[string]any{
		"name":          "bad-radius",
		"coordinates":   map[string]any{"latitude": 40.0, "longitude": -74.0},
		"radius_meters": 0.0,
		"dwell_seconds": 300,
		"expires_at":    time.Now().Add(time.Hour).Format(time.RFC3339),
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", resp.StatusCode)
	}
}

func TestCreateCampaign_UnknownTimezone_Returns400(t *testing.T) {
	srv, _ := newTestServer(t)
	defer srv.Close()

	resp := post(t, srv, "/api/v1/campaigns", map[string]any{
		"name":          "bad-tz",
		"coordinates":   map[string]any{"latitude": 40.0, "longitude": -74.0},
		"radius_meters": 100.0,
		"dwell_seconds": 300,
		"expires_at":    time.Now().Add(time.Hour).Format(time.RFC3339),
		"timezone":      "Mars/Olympus_Mons",
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", resp.StatusCode)
	}
}

func TestGetCampaign_Exists_Returns200(t *testing.T) {
	srv, _ := newTestServer(t)
	defer srv.Close()

	id := createCampaign(t, srv, 40.7128, -74.0060)
	resp := get(t, srv, "/api/v1/campaigns/"+id)

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	d := decodeData(t, resp)
	if d["id"] != id {
		t.Errorf("expected id %q, got %v", id, d["id"])
	}
}

func TestGetCampaign_Missing_Returns404(t *testing.T) {
	srv, _ := newTestServer(t)
	defer srv.Close()

	resp := get(t, srv, "/api/v1/campaigns/ghost-id")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404, got %d", resp.StatusCode)
	}
}

func TestDeleteCampaign_Returns204(t *testing.T) {
	srv, _ := newTestServer(t)
	defer srv.Close()

	id := createCampaign(t, srv, 40.7128, -74.0060)
	resp := del(t, srv, "/api/v1/campaigns/"+id)
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("expected 204, got %d", resp.StatusCode)
	}

	if resp := get(t, srv, "/api/v1/campaigns/" + id); resp.StatusCode != http.StatusNotFound {
		t.Errorf("deleted campaign should 404, got %d", resp.StatusCode)
	}
}

func TestDeleteCampaign_Missing_Returns404(t *testing.T) {
	srv, _ := newTestServer(t)
	defer srv.Close()

	resp := del(t, srv, "/api/v1/campaigns/ghost-id")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404, got %d", resp.StatusCode)
	}
}

func TestListCampaigns_ReturnsAll(t *testing.T) {
	srv, _ := newTestServer(t)
	defer srv.Close()

	createCampaign(t, srv, 40.7128, -74.0060)
	createCampaign(t, srv, 51.5074, -0.1278)

	resp := get(t, srv, "/api/v1/campaigns")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if l := decodeList(t, resp); len(l) != 2 {
		t.Errorf("expected 2 campaigns, got %d", len(l))
	}
}

func TestListCampaigns_NearbyFiltersByLocation(t *testing.T) {
	srv, _ := newTestServer(t)
	defer srv.Close()

	nearID := createCampaign(t, srv, 40.7128, -74.0060)
	createCampaign(t, srv, 51.5074, -0.1278) // London, nowhere near

	resp := get(t, srv, "/api/v1/campaigns?lat=40.7128&lng=-74.0060&radius=500")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	l := decodeList(t, resp)
	if len(l) != 1 {
		t.Fatalf("expected 1 nearby campaign, got %d", len(l))
	}
	if l[0].(map[string]any)["id"] != nearID {
		t.Errorf("expected campaign %q, got %v", nearID, l[0])
	}
}

func TestListCampaigns_NearbyNoMatches_ReturnsEmptyList(t *testing.T) {
	srv, _ := newTestServer(t)
	defer srv.Close()

	resp := get(t, srv, "/api/v1/campaigns?lat=0&lng=0&radius=100")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if l := decodeList(t, resp); len(l) != 0 {
		t.Errorf("expected empty list, got %v", l)
	}
}

func TestListCampaigns_InvalidLat_Returns400(t *testing.T) {
	srv, _ := newTestServer(t)
	defer srv.Close()

	resp := get(t, srv, "/api/v1/campaigns?lat=abc&lng=-74.0")
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", resp.StatusCode)
	}
}

// ─── Webhooks ─────────────────────────────────────────────────────────────────

func TestWebhook_Register_Returns201(t *testing.T) {
	srv, _ := newTestServer(t)
	defer srv.Close()

	resp := post(t, srv, "/api/v1/webhooks", map[string]any{
		"url": "http://example.com/hook", "threshold": 80,
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	if d := decodeData(t, resp); d["id"] == "" {
		t.Error("response must include webhook id")
	}
}

func TestWebhook_MissingURL_Returns400(t *testing.T) {
	srv, _ := newTestServer(t)
	defer srv.Close()

	resp := post(t, srv, "/api/v1/webhooks", map[string]any{"threshold": 80})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", resp.StatusCode)
	}
}

func TestWebhook_ThresholdOutOfRange_Returns400(t *testing.T) {
	srv, _ := newTestServer(t)
	defer srv.Close()

	resp := post(t, srv, "/api/v1/webhooks", map[string]any{
		"url": "http://example.com/hook", "threshold": 101,
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", resp.StatusCode)
	}
}

func TestWebhook_DefaultThreshold(t *testing.T) {
	srv, _ := newTestServer(t)
	defer srv.Close()

	resp := post(t, srv, "/api/v1/webhooks", map[string]any{
		"url": "http://example.com/hook",
	})
	d := decodeData(t, resp)
	if d["threshold"].(float64) != float64(domain.RejectThreshold) {
		t.Errorf("expected default threshold %d, got %v", domain.RejectThreshold, d["threshold"])
	}
}

func TestWebhook_Delete_Returns204(t *testing.T) {
	srv, _ := newTestServer(t)
	defer srv.Close()

	addResp := post(t, srv, "/api/v1/webhooks", map[string]any{
		"url": "http://example.com/hook", "threshold": 80,
	})
	id := decodeData(t, addResp)["id"].(string)

	resp := del(t, srv, "/api/v1/webhooks/"+id)
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("expected 204, got %d", resp.StatusCode)
	}
}

func TestWebhook_DeleteMissing_Returns404(t *testing.T) {
	srv, _ := newTestServer(t)
	defer srv.Close()

	resp := del(t, srv, "/api/v1/webhooks/ghost-id")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404, got %d", resp.StatusCode)
	}
}

// verify the rejected path triggers webhook delivery end to end.
func TestVerify_HighRiskRejection_FiresWebhook(t *testing.T) {
	received := make(chan map[string]any, 1)
	sink := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]any
		_ = json.NewDecoder(r.Body).Decode(&payload)
		received <- payload
		w.WriteHeader(http.StatusOK)
	}))
	defer sink.Close()

	srv, _ := newTestServer(t)
	defer srv.Close()

	post(t, srv, "/api/v1/webhooks", map[string]any{"url": sink.URL, "threshold": 70})

	id := createCampaign(t, srv, 40.7128, -74.0060)
	now := time.Now().UnixMilli()
	payload := validVerifyPayload(id, "sess-hook", 40.7128, -74.0060)
	payload["telemetry"] = []map[string]any{
		{"latitude": 40.7128, "longitude": -74.0060, "accuracy": 10.0, "timestamp": now - 1000},
		{"latitude": 42.5128, "longitude": -74.0060, "accuracy": 10.0, "timestamp": now},
	}
	post(t, srv, "/api/v1/verify", payload)

	select {
	case got := <-received:
		if got["event"] != "high_risk_verification" {
			t.Errorf("unexpected event %v", got["event"])
		}
		if got["campaign_id"] != id {
			t.Errorf("expected campaign_id %q, got %v", id, got["campaign_id"])
		}
		if got["risk_score"].(float64) < 70 {
			t.Errorf("expected risk_score >= 70, got %v", got["risk_score"])
		}
	case <-time.After(3 * time.Second):
		t.Fatal("webhook was not delivered within 3s")
	}
}

package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	dto "github.com/prometheus/client_model/go"
	"golang.org/x/crypto/bcrypt"

	"github.com/foxzi/keywatch/internal/config"
	"github.com/foxzi/keywatch/internal/geo"
	"github.com/foxzi/keywatch/internal/identity"
	"github.com/foxzi/keywatch/internal/lifecycle"
	"github.com/foxzi/keywatch/internal/metrics"
	"github.com/foxzi/keywatch/internal/report"
	"github.com/foxzi/keywatch/internal/rotation"
	"github.com/foxzi/keywatch/internal/store"
)

const adminToken = "test-admin-token"

type testEnv struct {
	server *Server
	store  *store.BoltStore
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	st, err := store.Open(filepath.Join(t.TempDir(), "keywatch.db"))
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	hash, err := bcrypt.GenerateFromPassword([]byte(adminToken), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("failed to hash token: %v", err)
	}

	cfg := &config.Config{
		API: config.APIConfig{
			ListenAddr:     ":0",
			AdminTokenHash: string(hash),
		},
		Identity: config.IdentityConfig{
			KeySalt:      "key-salt",
			ReporterSalt: "reporter-salt",
		},
		Attention: config.AttentionConfig{
			Window:   30 * 24 * time.Hour,
			MaxItems: 20,
		},
		Rotation: config.RotationConfig{
			Schedule:       string(rotation.ScheduleWeekly),
			Criteria:       string(rotation.CriteriaHighestWorkingKeys),
			ViewWeight:     1,
			DownloadWeight: 3,
		},
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	resolver := identity.NewResolver(cfg.Identity.KeySalt, nil)

	srv := NewServer(ServerOptions{
		Store:    st,
		Ingestor: report.NewIngestor(st, resolver, nil, logger),
		Sweeper:  lifecycle.Sweeper{},
		Rotator:  rotation.NewRotator(st, rotation.ScheduleWeekly, rotation.CriteriaHighestWorkingKeys, logger),
		Geo:      geo.NewCache(nil, time.Hour, 100),
		Metrics:  metrics.New(),
		Config:   cfg,
		Logger:   logger,
	})

	return &testEnv{server: srv, store: st}
}

func (e *testEnv) do(t *testing.T, method, path string, body interface{}, admin bool, remoteAddr string) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("failed to encode body: %v", err)
		}
	}

	req := httptest.NewRequest(method, path, &buf)
	if remoteAddr != "" {
		req.RemoteAddr = remoteAddr
	}
	if admin {
		req.Header.Set("Authorization", "Bearer "+adminToken)
	}

	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) rotationCount(t *testing.T, criteria rotation.Criteria) float64 {
	t.Helper()
	counter, err := e.server.metrics.RotationsTotal.GetMetricWithLabelValues(string(criteria))
	if err != nil {
		t.Fatalf("failed to get rotation counter: %v", err)
	}
	var metric dto.Metric
	if err := counter.Write(&metric); err != nil {
		t.Fatalf("failed to read rotation counter: %v", err)
	}
	return metric.GetCounter().GetValue()
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("failed to decode response %q: %v", rec.Body.String(), err)
	}
	return v
}

func TestHealth(t *testing.T) {
	e := newTestEnv(t)
	rec := e.do(t, http.MethodGet, "/health", nil, false, "")
	if rec.Code != http.StatusOK {
		t.Errorf("health status = %d", rec.Code)
	}
}

func TestSubmitReport(t *testing.T) {
	e := newTestEnv(t)

	rec := e.do(t, http.MethodPost, "/api/v1/reports", SubmitReportRequest{
		Program:   "acme-studio",
		Key:       "ABCD-EFGH-1234",
		EventType: "working",
	}, false, "")
	if rec.Code != http.StatusAccepted {
		t.Fatalf("submit status = %d, body %s", rec.Code, rec.Body.String())
	}

	resp := decode[SubmitReportResponse](t, rec)
	if !resp.Accepted || resp.Report == nil {
		t.Fatalf("response = %+v", resp)
	}
	if resp.Report.KeyID != "ABC***234" {
		t.Errorf("key id = %q, want masked", resp.Report.KeyID)
	}
}

func TestSubmitReportDuplicateSameReporter(t *testing.T) {
	e := newTestEnv(t)

	body := SubmitReportRequest{Program: "acme", Key: "ABCD-EFGH-1234", EventType: "working"}
	if rec := e.do(t, http.MethodPost, "/api/v1/reports", body, false, "10.1.1.1:5000"); rec.Code != http.StatusAccepted {
		t.Fatalf("first submit status = %d", rec.Code)
	}

	// Different spelling of the same key, same client.
	body.Key = "abcd-efgh-1234"
	body.EventType = "expired"
	rec := e.do(t, http.MethodPost, "/api/v1/reports", body, false, "10.1.1.1:5000")
	if rec.Code != http.StatusOK {
		t.Fatalf("duplicate submit status = %d", rec.Code)
	}
	resp := decode[SubmitReportResponse](t, rec)
	if resp.Accepted || resp.Duplicate == nil {
		t.Errorf("duplicate response = %+v", resp)
	}
	if resp.Duplicate.EventType != "working" {
		t.Errorf("duplicate carries type %q, want the prior report", resp.Duplicate.EventType)
	}

	// A different client for the same key is counted.
	rec = e.do(t, http.MethodPost, "/api/v1/reports", body, false, "10.1.1.2:5000")
	if rec.Code != http.StatusAccepted {
		t.Errorf("other reporter status = %d", rec.Code)
	}
}

func TestSubmitReportValidation(t *testing.T) {
	e := newTestEnv(t)

	tests := []struct {
		name string
		body SubmitReportRequest
	}{
		{"missing program", SubmitReportRequest{Key: "ABCD", EventType: "working"}},
		{"missing key", SubmitReportRequest{Program: "p", EventType: "working"}},
		{"bad event type", SubmitReportRequest{Program: "p", Key: "ABCD", EventType: "nope"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := e.do(t, http.MethodPost, "/api/v1/reports", tt.body, false, "")
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", rec.Code)
			}
		})
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/reports", bytes.NewBufferString("{not json"))
	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("malformed body status = %d, want 400", rec.Code)
	}
}

func TestCheckReport(t *testing.T) {
	e := newTestEnv(t)

	rec := e.do(t, http.MethodPost, "/api/v1/reports/check", CheckReportRequest{
		Program: "acme", Key: "ABCD-EFGH-1234",
	}, false, "10.1.1.1:5000")
	if rec.Code != http.StatusOK {
		t.Fatalf("check status = %d", rec.Code)
	}
	if resp := decode[CheckReportResponse](t, rec); resp.Found {
		t.Errorf("fresh store reports found: %+v", resp)
	}

	e.do(t, http.MethodPost, "/api/v1/reports", SubmitReportRequest{
		Program: "acme", Key: "ABCD-EFGH-1234", EventType: "working",
	}, false, "10.1.1.1:5000")

	rec = e.do(t, http.MethodPost, "/api/v1/reports/check", CheckReportRequest{
		Program: "acme", Key: " abcd-efgh-1234 ",
	}, false, "10.1.1.1:5000")
	resp := decode[CheckReportResponse](t, rec)
	if !resp.Found || resp.Report == nil {
		t.Fatalf("check response = %+v", resp)
	}

	// Another client has no prior report for the same key.
	rec = e.do(t, http.MethodPost, "/api/v1/reports/check", CheckReportRequest{
		Program: "acme", Key: "ABCD-EFGH-1234",
	}, false, "10.9.9.9:5000")
	if resp := decode[CheckReportResponse](t, rec); resp.Found {
		t.Errorf("other client sees a report: %+v", resp)
	}
}

func TestRenewReport(t *testing.T) {
	e := newTestEnv(t)

	rec := e.do(t, http.MethodPost, "/api/v1/reports", SubmitReportRequest{
		Program: "acme", Key: "ABCD-EFGH-1234", EventType: "working",
	}, false, "10.1.1.1:5000")
	submitted := decode[SubmitReportResponse](t, rec)

	rec = e.do(t, http.MethodPost, "/api/v1/reports/"+submitted.Report.ID+"/renew", RenewReportRequest{
		EventType: "expired",
	}, false, "10.1.1.1:5000")
	if rec.Code != http.StatusOK {
		t.Fatalf("renew status = %d, body %s", rec.Code, rec.Body.String())
	}
	renewed := decode[ReportSummary](t, rec)
	if renewed.ID != submitted.Report.ID || renewed.EventType != "expired" {
		t.Errorf("renewed = %+v", renewed)
	}

	rec = e.do(t, http.MethodPost, "/api/v1/reports/no-such-id/renew", RenewReportRequest{EventType: "expired"}, false, "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown id status = %d, want 404", rec.Code)
	}

	rec = e.do(t, http.MethodPost, "/api/v1/reports/"+submitted.Report.ID+"/renew", RenewReportRequest{EventType: "bogus"}, false, "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad type status = %d, want 400", rec.Code)
	}
}

func TestAdminAuth(t *testing.T) {
	e := newTestEnv(t)

	rec := e.do(t, http.MethodGet, "/api/v1/attention", nil, false, "")
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("no token status = %d, want 401", rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/attention", nil)
	req.Header.Set("Authorization", "Bearer wrong-token")
	raw := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(raw, req)
	if raw.Code != http.StatusUnauthorized {
		t.Errorf("wrong token status = %d, want 401", raw.Code)
	}

	if rec := e.do(t, http.MethodGet, "/api/v1/attention", nil, true, ""); rec.Code != http.StatusOK {
		t.Errorf("valid token status = %d, want 200", rec.Code)
	}
}

func TestAdminDisabledWithoutHash(t *testing.T) {
	e := newTestEnv(t)
	e.server.config.AdminTokenHash = ""

	rec := e.do(t, http.MethodGet, "/api/v1/attention", nil, true, "")
	if rec.Code != http.StatusForbidden {
		t.Errorf("disabled admin status = %d, want 403", rec.Code)
	}
}

func TestAttentionFeed(t *testing.T) {
	e := newTestEnv(t)

	// Eleven negative reports for one key, one positive for another.
	for i := 0; i < 11; i++ {
		rec := e.do(t, http.MethodPost, "/api/v1/reports", SubmitReportRequest{
			Program: "acme", Key: "BAD1-BAD1-BAD1", EventType: "expired",
		}, false, remoteAddr(i))
		if rec.Code != http.StatusAccepted {
			t.Fatalf("seed submit %d status = %d", i, rec.Code)
		}
	}
	e.do(t, http.MethodPost, "/api/v1/reports", SubmitReportRequest{
		Program: "acme", Key: "GOOD-GOOD-GOOD", EventType: "working",
	}, false, "10.2.0.1:5000")

	if err := e.store.SaveProgram(t.Context(), &lifecycle.Program{Slug: "acme", Name: "Acme"}); err != nil {
		t.Fatalf("seed program failed: %v", err)
	}

	rec := e.do(t, http.MethodGet, "/api/v1/attention", nil, true, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("attention status = %d", rec.Code)
	}
	resp := decode[AttentionResponse](t, rec)
	if len(resp.Items) != 1 {
		t.Fatalf("attention items = %+v, want one entry", resp.Items)
	}
	item := resp.Items[0]
	if item.Negative != 11 || item.ProgramSlug != "acme" {
		t.Errorf("item = %+v", item)
	}
	if item.KeyID != "BAD***AD1" {
		t.Errorf("attention feed leaked identifier %q", item.KeyID)
	}
}

func TestAttentionWindowParam(t *testing.T) {
	e := newTestEnv(t)

	rec := e.do(t, http.MethodGet, "/api/v1/attention?window=24h", nil, true, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("attention status = %d", rec.Code)
	}
	if resp := decode[AttentionResponse](t, rec); resp.Window != "24h0m0s" {
		t.Errorf("window = %q", resp.Window)
	}

	if rec := e.do(t, http.MethodGet, "/api/v1/attention?window=never", nil, true, ""); rec.Code != http.StatusBadRequest {
		t.Errorf("bad window status = %d, want 400", rec.Code)
	}
}

func TestFeaturedSelection(t *testing.T) {
	e := newTestEnv(t)
	ctx := t.Context()

	// No programs: featured is null, not an error.
	rec := e.do(t, http.MethodGet, "/api/v1/featured", nil, true, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("featured status = %d", rec.Code)
	}
	if resp := decode[FeaturedResponse](t, rec); resp.Featured != nil {
		t.Errorf("empty catalog selected %+v", resp.Featured)
	}

	seed := []*lifecycle.Program{
		{Slug: "few-keys", Name: "Few", Keys: []lifecycle.KeyRecord{
			{Key: "K1", KeyHash: "h1", Status: lifecycle.StatusActive},
		}},
		{Slug: "many-keys", Name: "Many", Keys: []lifecycle.KeyRecord{
			{Key: "K2", KeyHash: "h2", Status: lifecycle.StatusActive},
			{Key: "K3", KeyHash: "h3", Status: lifecycle.StatusNew},
			{Key: "K4", KeyHash: "h4", Status: lifecycle.StatusExpired},
		}},
	}
	for _, p := range seed {
		if err := e.store.SaveProgram(ctx, p); err != nil {
			t.Fatalf("seed program failed: %v", err)
		}
	}

	rec = e.do(t, http.MethodGet, "/api/v1/featured", nil, true, "")
	resp := decode[FeaturedResponse](t, rec)
	if resp.Featured == nil || resp.Featured.Slug != "many-keys" {
		t.Fatalf("featured = %+v, want many-keys", resp.Featured)
	}
	if resp.Featured.WorkingKeys != 2 || resp.Featured.TotalKeys != 3 {
		t.Errorf("featured counts = %+v", resp.Featured)
	}
	if got := e.rotationCount(t, rotation.CriteriaHighestWorkingKeys); got != 1 {
		t.Errorf("rotation counter = %v after first selection, want 1", got)
	}

	// The selection is stable on the next read, and a stable read does
	// not count as a rotation.
	e.server.rotator.Wait()
	rec = e.do(t, http.MethodGet, "/api/v1/featured", nil, true, "")
	if resp := decode[FeaturedResponse](t, rec); resp.Featured == nil || resp.Featured.Slug != "many-keys" {
		t.Errorf("selection churned: %+v", resp.Featured)
	}
	if got := e.rotationCount(t, rotation.CriteriaHighestWorkingKeys); got != 1 {
		t.Errorf("rotation counter = %v after stable read, want 1", got)
	}
}

func TestSetFeatured(t *testing.T) {
	e := newTestEnv(t)
	ctx := t.Context()

	if err := e.store.SaveProgram(ctx, &lifecycle.Program{Slug: "acme", Name: "Acme"}); err != nil {
		t.Fatalf("seed program failed: %v", err)
	}

	rec := e.do(t, http.MethodPut, "/api/v1/featured", SetFeaturedRequest{Program: "ghost"}, true, "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown program status = %d, want 404", rec.Code)
	}

	rec = e.do(t, http.MethodPut, "/api/v1/featured", SetFeaturedRequest{Program: "acme"}, true, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("set featured status = %d, body %s", rec.Code, rec.Body.String())
	}
	if resp := decode[FeaturedResponse](t, rec); resp.Featured == nil || resp.Featured.Slug != "acme" {
		t.Errorf("set featured response = %+v", resp)
	}

	st, err := e.store.FeaturedState(ctx)
	if err != nil || st == nil {
		t.Fatalf("featured state missing: %v", err)
	}
	if st.CurrentFeaturedID != "acme" || st.LastRotation == nil {
		t.Errorf("persisted state = %+v", st)
	}
}

func TestProgramKeysAppliesSweep(t *testing.T) {
	e := newTestEnv(t)
	past := time.Now().Add(-time.Hour)

	p := &lifecycle.Program{
		Slug: "acme",
		Keys: []lifecycle.KeyRecord{
			{Key: "LIVE-KEY", KeyHash: "h1", Status: lifecycle.StatusActive},
			{Key: "DEAD-KEY", KeyHash: "h2", Status: lifecycle.StatusActive, ValidUntil: &past},
		},
	}
	if err := e.store.SaveProgram(t.Context(), p); err != nil {
		t.Fatalf("seed program failed: %v", err)
	}

	rec := e.do(t, http.MethodGet, "/api/v1/programs/acme/keys", nil, true, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("keys status = %d", rec.Code)
	}
	resp := decode[ProgramKeysResponse](t, rec)
	if len(resp.Keys) != 2 {
		t.Fatalf("keys = %+v", resp.Keys)
	}
	if resp.Keys[1].Status != lifecycle.StatusExpired {
		t.Errorf("sweep not applied on read: %v", resp.Keys[1].Status)
	}
	// Admin surface returns raw keys.
	if resp.Keys[0].Key != "LIVE-KEY" {
		t.Errorf("raw key missing from admin view: %+v", resp.Keys[0])
	}

	// The transition persisted.
	stored, _ := e.store.Program(t.Context(), "acme")
	if stored.Keys[1].Status != lifecycle.StatusExpired {
		t.Errorf("sweep result not persisted: %v", stored.Keys[1].Status)
	}

	if rec := e.do(t, http.MethodGet, "/api/v1/programs/ghost/keys", nil, true, ""); rec.Code != http.StatusNotFound {
		t.Errorf("unknown program status = %d, want 404", rec.Code)
	}
}

func TestOverrideKeyStatus(t *testing.T) {
	e := newTestEnv(t)

	p := &lifecycle.Program{
		Slug: "acme",
		Keys: []lifecycle.KeyRecord{{Key: "K1", KeyHash: "h1", Status: lifecycle.StatusExpired}},
	}
	if err := e.store.SaveProgram(t.Context(), p); err != nil {
		t.Fatalf("seed program failed: %v", err)
	}

	rec := e.do(t, http.MethodPatch, "/api/v1/programs/acme/keys/h1", OverrideStatusRequest{Status: "active"}, true, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("override status = %d, body %s", rec.Code, rec.Body.String())
	}
	updated := decode[lifecycle.KeyRecord](t, rec)
	if updated.Status != lifecycle.StatusActive {
		t.Errorf("override result = %+v", updated)
	}

	if rec := e.do(t, http.MethodPatch, "/api/v1/programs/acme/keys/h1", OverrideStatusRequest{Status: "sideways"}, true, ""); rec.Code != http.StatusBadRequest {
		t.Errorf("invalid status code = %d, want 400", rec.Code)
	}
	if rec := e.do(t, http.MethodPatch, "/api/v1/programs/acme/keys/ghost", OverrideStatusRequest{Status: "new"}, true, ""); rec.Code != http.StatusNotFound {
		t.Errorf("unknown key code = %d, want 404", rec.Code)
	}
}

func TestRecommendations(t *testing.T) {
	e := newTestEnv(t)

	resolver := identity.NewResolver("key-salt", nil)
	badHash := resolver.Resolve("BAD1-BAD1-BAD1").Hash

	p := &lifecycle.Program{
		Slug: "acme",
		Keys: []lifecycle.KeyRecord{{Key: "BAD1-BAD1-BAD1", KeyHash: badHash, Status: lifecycle.StatusActive}},
	}
	if err := e.store.SaveProgram(t.Context(), p); err != nil {
		t.Fatalf("seed program failed: %v", err)
	}

	// One working, six expired, five limit reports: 8% working over 12.
	seed := []struct {
		eventType string
		n         int
	}{
		{"working", 1},
		{"expired", 6},
		{"limit_reached", 5},
	}
	i := 0
	for _, s := range seed {
		for j := 0; j < s.n; j++ {
			rec := e.do(t, http.MethodPost, "/api/v1/reports", SubmitReportRequest{
				Program: "acme", Key: "BAD1-BAD1-BAD1", EventType: s.eventType,
			}, false, remoteAddr(i))
			if rec.Code != http.StatusAccepted {
				t.Fatalf("seed submit status = %d", rec.Code)
			}
			i++
		}
	}

	rec := e.do(t, http.MethodGet, "/api/v1/programs/acme/recommendations", nil, true, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("recommendations status = %d", rec.Code)
	}
	resp := decode[RecommendationsResponse](t, rec)
	if len(resp.Items) != 1 {
		t.Fatalf("items = %+v, want one", resp.Items)
	}
	item := resp.Items[0]
	if item.RecommendedStatus != "expired" {
		t.Errorf("recommended = %q, want expired", item.RecommendedStatus)
	}
	if item.CurrentStatus != "active" {
		t.Errorf("current = %q", item.CurrentStatus)
	}
	if item.RatioLabel != "8% working" {
		t.Errorf("ratio label = %q", item.RatioLabel)
	}

	if rec := e.do(t, http.MethodGet, "/api/v1/programs/ghost/recommendations", nil, true, ""); rec.Code != http.StatusNotFound {
		t.Errorf("unknown program status = %d, want 404", rec.Code)
	}
}

// remoteAddr fabricates distinct client addresses for seeded reporters.
func remoteAddr(i int) string {
	return fmt.Sprintf("10.3.%d.%d:5000", i/250, i%250+1)
}

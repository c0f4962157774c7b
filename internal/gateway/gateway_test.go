package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/haasonsaas/parley/internal/dispatch"
	"github.com/haasonsaas/parley/internal/engine"
	"github.com/haasonsaas/parley/internal/nlp"
	"github.com/haasonsaas/parley/internal/store"
	"github.com/haasonsaas/parley/internal/tools"
	"github.com/haasonsaas/parley/pkg/models"
)

type testServer struct {
	sessions *store.MemorySessionStore
	catalog  *store.MemoryCatalog
	provider *nlp.StaticProvider
	server   *httptest.Server
	shutdown func()
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	sessions := store.NewMemorySessionStore()
	catalog := store.NewMemoryCatalog()
	provider := nlp.NewStaticProvider()

	catalog.AddAgent(&models.Agent{ID: "a1", Name: "Sunny", CompositionMode: models.CompositionFluid})
	catalog.AddCustomer(&models.Customer{ID: "c1", Name: "Ada"})

	eng := engine.New(engine.Config{
		Stores: engine.Stores{
			Sessions:       sessions,
			Agents:         catalog,
			Customers:      catalog,
			Guidelines:     catalog,
			Journeys:       catalog,
			GuidelineTools: catalog,
			NodeTools:      catalog,
			Canned:         catalog,
			Variables:      catalog,
			Glossary:       catalog.Glossary(),
			Capabilities:   catalog,
			Inspections:    catalog,
		},
		Registry:  tools.NewRegistry(),
		Generator: nlp.NewGenerator(provider),
		Timeout:   30 * time.Second,
		Sleep:     func(ctx context.Context, d time.Duration) error { return ctx.Err() },
	})
	dispatcher := dispatch.NewService(eng, sessions, nil, nil)
	srv := NewServer(sessions, catalog, catalog, catalog, dispatcher, nil, Config{LongPollTimeout: 5 * time.Second})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	t.Cleanup(dispatcher.Shutdown)

	return &testServer{
		sessions: sessions,
		catalog:  catalog,
		provider: provider,
		server:   ts,
		shutdown: dispatcher.Shutdown,
	}
}

// seedSession creates a session with a preamble-tagged agent message so
// dispatched cycles skip the bridging sleeps.
func (ts *testServer) seedSession(t *testing.T, sessionID string) {
	t.Helper()
	if err := ts.sessions.CreateSession(context.Background(), &models.Session{
		ID: sessionID, AgentID: "a1", CustomerID: "c1", Mode: models.SessionAuto,
	}); err != nil {
		t.Fatal(err)
	}
	raw, err := models.EncodeEventData(models.MessageEventData{Message: "One moment.", Tags: []string{models.TagPreamble}})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := ts.sessions.CreateEvent(context.Background(), sessionID, models.EventMessage, models.SourceAIAgent, "", raw); err != nil {
		t.Fatal(err)
	}
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.Post(url, "application/json", strings.NewReader(string(raw)))
	if err != nil {
		t.Fatal(err)
	}
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var out T
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	return out
}

func TestChatAsyncRepliesInOneRoundTrip(t *testing.T) {
	ts := newTestServer(t)
	ts.seedSession(t, "s1")
	ts.provider.Always("fluid_message_generation", `{
		"analysis": "", "produce_reply": true, "message": "Hi Ada!\n\nHow can I help?", "instructions_followed": true
	}`)

	resp := postJSON(t, ts.server.URL+"/sessions/chat_async", map[string]any{
		"message":    "Hello!",
		"chatbot_id": "a1",
		"tenant_id":  "t1",
		"session_id": "s1",
		"timeout":    10,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	body := decodeBody[chatAsyncResponse](t, resp)
	if body.SessionID != "s1" {
		t.Errorf("session_id = %q", body.SessionID)
	}
	if !strings.HasSuffix(body.CorrelationID, "::process") {
		t.Errorf("correlation_id = %q", body.CorrelationID)
	}
	// Chunks come back joined on blank lines.
	if body.Message != "Hi Ada!\n\nHow can I help?" {
		t.Errorf("message = %q", body.Message)
	}
	if body.TotalTokens <= 0 {
		t.Errorf("total_tokens = %d, want > 0", body.TotalTokens)
	}
}

func TestChatAsyncCreatesSession(t *testing.T) {
	ts := newTestServer(t)
	// Fresh sessions run the preamble pacing, so this round trip takes a
	// few seconds.
	if testing.Short() {
		t.Skip("runs real preamble pacing")
	}
	ts.provider.Always("preamble_generation", `{"message": "Let me check."}`)
	ts.provider.Always("fluid_message_generation", `{
		"analysis": "", "produce_reply": true, "message": "Welcome!", "instructions_followed": true
	}`)

	resp := postJSON(t, ts.server.URL+"/sessions/chat_async", map[string]any{
		"message":     "Hello!",
		"chatbot_id":  "a1",
		"tenant_id":   "t1",
		"customer_id": "c1",
		"timeout":     15,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	body := decodeBody[chatAsyncResponse](t, resp)
	if body.SessionID == "" {
		t.Fatal("expected a generated session id")
	}
	// The preamble is visible in the event log but excluded from the reply.
	if body.Message != "Welcome!" {
		t.Errorf("message = %q", body.Message)
	}
	session, err := ts.sessions.ReadSession(context.Background(), body.SessionID)
	if err != nil {
		t.Fatalf("session not persisted: %v", err)
	}
	if session.TenantID != "t1" {
		t.Errorf("tenant_id = %q, want t1", session.TenantID)
	}
}

func TestChatAsyncValidation(t *testing.T) {
	ts := newTestServer(t)

	tests := []struct {
		name string
		body map[string]any
	}{
		{"missing message", map[string]any{"chatbot_id": "a1", "tenant_id": "t1"}},
		{"missing chatbot_id", map[string]any{"message": "hi", "tenant_id": "t1"}},
		{"missing tenant_id", map[string]any{"message": "hi", "chatbot_id": "a1"}},
		{"unknown chatbot_id", map[string]any{"message": "hi", "chatbot_id": "nope", "tenant_id": "t1"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			resp := postJSON(t, ts.server.URL+"/sessions/chat_async", tc.body)
			resp.Body.Close()
			if resp.StatusCode != http.StatusUnprocessableEntity {
				t.Errorf("status = %d, want 422", resp.StatusCode)
			}
		})
	}
}

func TestChatAsyncTimesOut(t *testing.T) {
	ts := newTestServer(t)
	ts.seedSession(t, "s1")
	// Stall preparation until the dispatcher shuts the task down.
	ts.catalog.AddGuideline(&models.Guideline{ID: "g1", Condition: "always", Action: "stall", Enabled: true})
	ts.provider.AlwaysFunc("actionable_matching", func(ctx context.Context) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	})

	resp := postJSON(t, ts.server.URL+"/sessions/chat_async", map[string]any{
		"message":    "Hello!",
		"chatbot_id": "a1",
		"tenant_id":  "t1",
		"session_id": "s1",
		"timeout":    1,
	})
	resp.Body.Close()
	if resp.StatusCode != http.StatusGatewayTimeout {
		t.Errorf("status = %d, want 504", resp.StatusCode)
	}
}

func TestListEventsFilters(t *testing.T) {
	ts := newTestServer(t)
	ts.seedSession(t, "s1")

	raw, _ := models.EncodeEventData(models.MessageEventData{Message: "Hello!"})
	if _, err := ts.sessions.CreateEvent(context.Background(), "s1", models.EventMessage, models.SourceCustomer, "", raw); err != nil {
		t.Fatal(err)
	}
	statusRaw, _ := models.EncodeEventData(models.StatusEventData{Status: models.StatusReady})
	if _, err := ts.sessions.CreateEvent(context.Background(), "s1", models.EventStatus, models.SourceAIAgent, "R1234abcd::process", statusRaw); err != nil {
		t.Fatal(err)
	}

	type eventsBody struct {
		Events []models.Event `json:"events"`
	}

	get := func(t *testing.T, query string) eventsBody {
		t.Helper()
		resp, err := http.Get(ts.server.URL + "/sessions/s1/events" + query)
		if err != nil {
			t.Fatal(err)
		}
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status = %d, want 200", resp.StatusCode)
		}
		return decodeBody[eventsBody](t, resp)
	}

	if got := get(t, ""); len(got.Events) != 3 {
		t.Errorf("unfiltered: %d events, want 3", len(got.Events))
	}
	if got := get(t, "?source=customer"); len(got.Events) != 1 {
		t.Errorf("source filter: %d events, want 1", len(got.Events))
	}
	if got := get(t, "?kinds=status"); len(got.Events) != 1 || got.Events[0].Kind != models.EventStatus {
		t.Errorf("kinds filter: %+v", got.Events)
	}
	if got := get(t, "?min_offset=2"); len(got.Events) != 1 || got.Events[0].Offset != 2 {
		t.Errorf("min_offset filter: %+v", got.Events)
	}
	if got := get(t, "?correlation_id=R1234abcd"); len(got.Events) != 1 {
		t.Errorf("correlation filter: %d events, want 1", len(got.Events))
	}
}

func TestListEventsLongPollWakesOnAppend(t *testing.T) {
	ts := newTestServer(t)
	ts.seedSession(t, "s1")

	done := make(chan []models.Event, 1)
	go func() {
		resp, err := http.Get(ts.server.URL + "/sessions/s1/events?min_offset=1&wait_for_data=5")
		if err != nil {
			done <- nil
			return
		}
		var body struct {
			Events []models.Event `json:"events"`
		}
		json.NewDecoder(resp.Body).Decode(&body)
		resp.Body.Close()
		done <- body.Events
	}()

	time.Sleep(100 * time.Millisecond)
	raw, _ := models.EncodeEventData(models.MessageEventData{Message: "late arrival"})
	if _, err := ts.sessions.CreateEvent(context.Background(), "s1", models.EventMessage, models.SourceCustomer, "", raw); err != nil {
		t.Fatal(err)
	}

	select {
	case events := <-done:
		if len(events) != 1 {
			t.Fatalf("got %d events, want 1", len(events))
		}
	case <-time.After(3 * time.Second):
		t.Fatal("long poll did not wake on append")
	}
}

func TestListEventsValidation(t *testing.T) {
	ts := newTestServer(t)
	ts.seedSession(t, "s1")

	resp, err := http.Get(ts.server.URL + "/sessions/unknown/events")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown session status = %d, want 404", resp.StatusCode)
	}

	resp, err = http.Get(ts.server.URL + "/sessions/s1/events?min_offset=-1")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Errorf("bad min_offset status = %d, want 422", resp.StatusCode)
	}
}

func TestHealthz(t *testing.T) {
	ts := newTestServer(t)
	resp, err := http.Get(ts.server.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t)
	resp, err := http.Get(ts.server.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
}

package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/gorilla/websocket"

	"github.com/PipeOpsHQ/sai/chain"
	"github.com/PipeOpsHQ/sai/llm"
	"github.com/PipeOpsHQ/sai/observe"
	observestore "github.com/PipeOpsHQ/sai/observe/store"
	journalsqlite "github.com/PipeOpsHQ/sai/observe/store/sqlite"
	"github.com/PipeOpsHQ/sai/session"
	"github.com/PipeOpsHQ/sai/state/memstore"
	"github.com/PipeOpsHQ/sai/types"
)

type testEnv struct {
	ts  *httptest.Server
	hub *observe.Hub
}

func newTestEnv(t *testing.T, provider llm.Provider, withStore bool) *testEnv {
	t.Helper()
	hub := observe.NewHub(50)
	opts := []session.Option{session.WithSink(hub), session.WithID("http-test")}
	if withStore {
		opts = append(opts, session.WithStore(memstore.New()))
	}
	sess, err := session.New(provider, opts...)
	if err != nil {
		t.Fatalf("session.New failed: %v", err)
	}
	t.Cleanup(func() { _ = sess.Close() })

	srv, err := New(Config{
		Session: sess,
		Hub:     hub,
		Now:     func() time.Time { return time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC) },
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return &testEnv{ts: ts, hub: hub}
}

func echoProvider() llm.Provider {
	return llm.ProviderFunc(func(_ context.Context, req types.Request) (types.Response, error) {
		last := req.Messages[len(req.Messages)-1].Content
		return types.Response{Text: "echo: " + last, Usage: &types.Usage{TotalTokens: 3}}, nil
	})
}

func (e *testEnv) do(t *testing.T, method, path, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, e.ts.URL+path, strings.NewReader(body))
	if err != nil {
		t.Fatalf("NewRequest failed: %v", err)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := e.ts.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s failed: %v", method, path, err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var out T
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	return out
}

func TestChat(t *testing.T) {
	env := newTestEnv(t, echoProvider(), false)

	resp := env.do(t, http.MethodPost, "/api/v1/chat", `{"prompt":"hello"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status %d", resp.StatusCode)
	}
	reply := decode[session.Reply](t, resp)
	if reply.Text != "echo: hello" || reply.TokensUsed != 3 || reply.IsToolResponse {
		t.Fatalf("unexpected reply: %#v", reply)
	}

	resp = env.do(t, http.MethodPost, "/api/v1/chat", `{"prompt":"what is 6*7"}`)
	reply = decode[session.Reply](t, resp)
	if reply.Text != "Result: 42" || !reply.IsToolResponse || reply.Tool != "calculator" {
		t.Fatalf("unexpected tool reply: %#v", reply)
	}

	resp = env.do(t, http.MethodPost, "/api/v1/chat", `{"prompt":"  "}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("blank prompt should be rejected, got %d", resp.StatusCode)
	}
	resp = env.do(t, http.MethodGet, "/api/v1/chat", "")
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", resp.StatusCode)
	}
}

func TestChat_UpstreamFailure(t *testing.T) {
	env := newTestEnv(t, llm.ProviderFunc(func(context.Context, types.Request) (types.Response, error) {
		return types.Response{}, &llm.TransportError{StatusCode: 429, Status: "RESOURCE_EXHAUSTED", Message: "quota"}
	}), false)

	resp := env.do(t, http.MethodPost, "/api/v1/chat", `{"prompt":"hello"}`)
	if resp.StatusCode != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", resp.StatusCode)
	}
	body := decode[map[string]any](t, resp)
	if body["upstreamStatus"] != float64(429) {
		t.Fatalf("unexpected body: %#v", body)
	}
	if _, ok := body["latencyMs"]; !ok {
		t.Fatalf("failure body should carry latency: %#v", body)
	}
}

func TestChains(t *testing.T) {
	env := newTestEnv(t, echoProvider(), true)

	resp := env.do(t, http.MethodPost, "/api/v1/chains", `{"instructions":["Summarize","Translate"],"input":"text"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status %d", resp.StatusCode)
	}
	run := decode[chain.Run](t, resp)
	if run.FinalOutput != "echo: Translate: echo: Summarize: text" {
		t.Fatalf("unexpected final output %q", run.FinalOutput)
	}

	resp = env.do(t, http.MethodPost, "/api/v1/chains", `{"instructions":["Summarize"," "],"input":"text"}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("blank step should be rejected, got %d", resp.StatusCode)
	}

	history := decode[[]chain.Run](t, env.do(t, http.MethodGet, "/api/v1/chains", ""))
	if len(history) != 1 || history[0].ID != run.ID {
		t.Fatalf("unexpected history: %#v", history)
	}
	archived := decode[[]chain.Run](t, env.do(t, http.MethodGet, "/api/v1/chains?archived=true&limit=5", ""))
	if len(archived) != 1 {
		t.Fatalf("unexpected archive: %#v", archived)
	}
}

func TestChains_StepFailureReportsStep(t *testing.T) {
	calls := 0
	env := newTestEnv(t, llm.ProviderFunc(func(context.Context, types.Request) (types.Response, error) {
		calls++
		if calls == 2 {
			return types.Response{}, llm.ErrEmptyResponse
		}
		return types.Response{Text: "ok"}, nil
	}), false)

	resp := env.do(t, http.MethodPost, "/api/v1/chains", `{"instructions":["a","b","c"],"input":"x"}`)
	if resp.StatusCode != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", resp.StatusCode)
	}
	body := decode[map[string]any](t, resp)
	if body["step"] != float64(2) {
		t.Fatalf("unexpected body: %#v", body)
	}
}

func TestTemplates(t *testing.T) {
	env := newTestEnv(t, echoProvider(), true)

	resp := env.do(t, http.MethodPost, "/api/v1/chains/templates", `{"name":"review","steps":["Summarize","Critique"]}`)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("unexpected status %d", resp.StatusCode)
	}
	list := decode[[]chain.Template](t, env.do(t, http.MethodGet, "/api/v1/chains/templates", ""))
	if len(list) != 1 || list[0].Name != "review" {
		t.Fatalf("unexpected templates: %#v", list)
	}

	run := decode[chain.Run](t, env.do(t, http.MethodPost, "/api/v1/chains/templates/review/run", `{"input":"doc"}`))
	if len(run.Steps) != 2 {
		t.Fatalf("unexpected run: %#v", run)
	}

	if resp := env.do(t, http.MethodDelete, "/api/v1/chains/templates/review", ""); resp.StatusCode != http.StatusNoContent {
		t.Fatalf("unexpected delete status %d", resp.StatusCode)
	}
	if resp := env.do(t, http.MethodDelete, "/api/v1/chains/templates/review", ""); resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for missing template, got %d", resp.StatusCode)
	}
}

func TestTemplates_NoStore(t *testing.T) {
	env := newTestEnv(t, echoProvider(), false)
	if resp := env.do(t, http.MethodGet, "/api/v1/chains/templates", ""); resp.StatusCode != http.StatusNotImplemented {
		t.Fatalf("expected 501 without a store, got %d", resp.StatusCode)
	}
}

func TestMemoryAndSettings(t *testing.T) {
	env := newTestEnv(t, echoProvider(), false)
	env.do(t, http.MethodPost, "/api/v1/chat", `{"prompt":"one"}`)

	mem := decode[map[string]any](t, env.do(t, http.MethodGet, "/api/v1/memory", ""))
	if turns, _ := mem["conversationHistory"].([]any); len(turns) != 2 {
		t.Fatalf("unexpected memory: %#v", mem)
	}

	resp := env.do(t, http.MethodPut, "/api/v1/memory/settings", `{"enabled":false,"window":4}`)
	ms := decode[session.MemorySettings](t, resp)
	if ms.Enabled || ms.Window != 4 {
		t.Fatalf("unexpected memory settings: %#v", ms)
	}

	if resp := env.do(t, http.MethodPut, "/api/v1/settings", `{"temperature":3}`); resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("out of range temperature should be rejected, got %d", resp.StatusCode)
	}
	settings := decode[session.Settings](t, env.do(t, http.MethodPut, "/api/v1/settings", `{"temperature":0.2,"model":"gemini-2.0-flash"}`))
	if settings.Temperature != 0.2 || settings.Model != "gemini-2.0-flash" || settings.MemoryWindow != 4 {
		t.Fatalf("unexpected settings: %#v", settings)
	}

	if resp := env.do(t, http.MethodDelete, "/api/v1/memory", ""); resp.StatusCode != http.StatusNoContent {
		t.Fatalf("unexpected clear status %d", resp.StatusCode)
	}
}

func TestTools(t *testing.T) {
	env := newTestEnv(t, echoProvider(), false)

	resp := env.do(t, http.MethodPost, "/api/v1/tools/calculator", `{"expression":"(2+3)*4"}`)
	result := decode[toolResult](t, resp)
	if result.Result != "Result: 20" {
		t.Fatalf("unexpected result: %#v", result)
	}
	resp = env.do(t, http.MethodPost, "/api/v1/tools/datetime", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("empty args should be accepted, got %d", resp.StatusCode)
	}
	if resp := env.do(t, http.MethodPost, "/api/v1/tools/weather", `{}`); resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
	if resp := env.do(t, http.MethodPost, "/api/v1/tools/calculator", `{not json`); resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}

	list := decode[[]map[string]any](t, env.do(t, http.MethodGet, "/api/v1/tools", ""))
	if len(list) != 3 || list[0]["id"] != "calculator" || list[0]["invocationCount"] != float64(1) {
		t.Fatalf("unexpected catalog: %#v", list)
	}

	report := decode[map[string]any](t, env.do(t, http.MethodGet, "/api/v1/analytics", ""))
	usage, _ := report["toolUsage"].(map[string]any)
	if usage["datetime"] != float64(1) {
		t.Fatalf("unexpected analytics tool usage: %#v", report)
	}
}

func TestExports(t *testing.T) {
	env := newTestEnv(t, echoProvider(), false)
	env.do(t, http.MethodPost, "/api/v1/chat", `{"prompt":"hello"}`)

	resp := env.do(t, http.MethodGet, "/api/v1/export/data", "")
	if got := resp.Header.Get("Content-Disposition"); got != `attachment; filename="sai-data-export-2024-06-01.json"` {
		t.Fatalf("unexpected disposition %q", got)
	}
	data := decode[map[string]any](t, resp)
	for _, key := range []string{"analytics", "conversationHistory", "chainHistory", "settings"} {
		if _, ok := data[key]; !ok {
			t.Fatalf("data export missing %q: %#v", key, data)
		}
	}

	resp = env.do(t, http.MethodGet, "/api/v1/export/memory", "")
	if !strings.HasPrefix(resp.Header.Get("Content-Disposition"), `attachment; filename="sai-memory-export-`) {
		t.Fatalf("unexpected disposition %q", resp.Header.Get("Content-Disposition"))
	}
	mem := decode[session.MemoryExport](t, resp)
	if len(mem.ConversationHistory) != 2 || !mem.MemorySettings.Enabled {
		t.Fatalf("unexpected memory export: %#v", mem)
	}
}

func TestStream_ReplaysHistory(t *testing.T) {
	env := newTestEnv(t, echoProvider(), false)
	env.do(t, http.MethodPost, "/api/v1/chat", `{"prompt":"hello"}`)

	url := "ws" + strings.TrimPrefix(env.ts.URL, "http") + "/api/v1/stream?history=10"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var names []string
	for len(names) < 2 {
		var ev observe.Event
		if err := conn.ReadJSON(&ev); err != nil {
			t.Fatalf("read failed: %v", err)
		}
		if ev.SessionID != "http-test" {
			t.Fatalf("unexpected session id %q", ev.SessionID)
		}
		names = append(names, ev.Name)
	}
	if names[0] != string(types.EventSendStarted) || names[1] != string(types.EventSendCompleted) {
		t.Fatalf("unexpected event order: %v", names)
	}
}

func TestDecodeJSON_RejectsUnknownFields(t *testing.T) {
	env := newTestEnv(t, echoProvider(), false)
	resp := env.do(t, http.MethodPost, "/api/v1/chat", `{"prompt":"hi","extra":true}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestEvents_Journal(t *testing.T) {
	journal, err := journalsqlite.New(filepath.Join(t.TempDir(), "events.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = journal.Close() })

	sess, err := session.New(echoProvider(),
		session.WithID("journal-test"),
		session.WithSink(observestore.Sink(journal)),
	)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = sess.Close() })
	srv, err := New(Config{Session: sess, Journal: journal})
	if err != nil {
		t.Fatal(err)
	}
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	env := &testEnv{ts: ts}

	env.do(t, http.MethodPost, "/api/v1/chat", `{"prompt":"hello"}`)
	env.do(t, http.MethodPost, "/api/v1/chat", `{"prompt":"pick a random number"}`)
	run := decode[chain.Run](t, env.do(t, http.MethodPost, "/api/v1/chains", `{"instructions":["A"],"input":"x"}`))

	events := decode[[]observe.Event](t, env.do(t, http.MethodGet, "/api/v1/events?limit=100", ""))
	if len(events) < 6 {
		t.Fatalf("expected journaled events, got %d", len(events))
	}
	chainEvents := decode[[]observe.Event](t, env.do(t, http.MethodGet, "/api/v1/events?chain="+run.ID, ""))
	var names []string
	for _, ev := range chainEvents {
		names = append(names, ev.Name)
	}
	wantNames := []string{
		string(types.EventChainStarted),
		string(types.EventChainStepStarted),
		string(types.EventSendStarted),
		string(types.EventSendCompleted),
		string(types.EventChainStepDone),
		string(types.EventChainCompleted),
	}
	if diff := cmp.Diff(wantNames, names); diff != "" {
		t.Fatalf("unexpected chain events (-want +got):\n%s", diff)
	}

	summary := decode[observestore.Summary](t, env.do(t, http.MethodGet, "/api/v1/events/summary", ""))
	if summary.Sends != 2 || summary.ToolReplies != 1 || summary.ChainsCompleted != 1 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	if resp := env.do(t, http.MethodGet, "/api/v1/events/summary?since=yesterday", ""); resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad since, got %d", resp.StatusCode)
	}
}

func TestEvents_DisabledWithoutJournal(t *testing.T) {
	env := newTestEnv(t, echoProvider(), false)
	if resp := env.do(t, http.MethodGet, "/api/v1/events", ""); resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

package agent

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/netmedic/netmedic/pkg/models"
)

// stubProvider is a scriptable LLMProvider for router tests.
type stubProvider struct {
	name      string
	model     string
	available bool
	resp      *ChatResponse
	err       error

	mu    sync.Mutex
	chats int
	dials int
}

func (p *stubProvider) Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	p.mu.Lock()
	p.chats++
	p.mu.Unlock()
	if p.err != nil {
		return nil, p.err
	}
	return p.resp, nil
}

func (p *stubProvider) Available(context.Context) bool { return p.available }
func (p *stubProvider) Name() string                   { return p.name }
func (p *stubProvider) Model() string                  { return p.model }
func (p *stubProvider) Close() error                   { return nil }

func (p *stubProvider) entry(cloud bool, creds func() bool) ProviderEntry {
	return ProviderEntry{
		Name:     p.name,
		Cloud:    cloud,
		HasCreds: creds,
		Dial: func() (LLMProvider, error) {
			p.mu.Lock()
			p.dials++
			p.mu.Unlock()
			return p, nil
		},
	}
}

func (p *stubProvider) terminalEntry() ProviderEntry {
	e := p.entry(false, nil)
	e.Terminal = true
	return e
}

// routerRecorder captures llm-call and fallback telemetry.
type routerRecorder struct {
	mu        sync.Mutex
	calls     []LLMCall
	fallbacks []Fallback
}

func (r *routerRecorder) RecordLLMCall(_ context.Context, call LLMCall) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, call)
}

func (r *routerRecorder) RecordFallback(_ context.Context, fb Fallback) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fallbacks = append(r.fallbacks, fb)
}

// onlineProbeURL serves 204 for the lifetime of the test.
func onlineProbeURL(t *testing.T) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(srv.Close)
	return srv.URL
}

// deadProbeURL points at a closed listener so the probe fails fast.
func deadProbeURL(t *testing.T) string {
	t.Helper()
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()
	return url
}

func assistantReply(text string, prompt, completion int) *ChatResponse {
	return &ChatResponse{
		Message:          models.Message{Role: models.RoleAssistant, Content: text},
		StopReason:       StopReasonStop,
		PromptTokens:     prompt,
		CompletionTokens: completion,
	}
}

func TestRouterSelectsFirstEligible(t *testing.T) {
	openai := &stubProvider{name: "openai", model: "gpt-4o-mini", available: true, resp: assistantReply("hi", 12, 3)}
	local := &stubProvider{name: "ollama", model: "llama3.2", available: true, resp: assistantReply("local", 0, 0)}
	rec := &routerRecorder{}
	r := NewRouter(RouterConfig{ProbeURL: onlineProbeURL(t), Recorder: rec})
	r.Register(openai.entry(true, func() bool { return true }))
	r.Register(local.terminalEntry())

	resp, err := r.Chat(context.Background(), "s1", &ChatRequest{})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if resp.Message.Content != "hi" {
		t.Errorf("content = %q, want hi", resp.Message.Content)
	}
	if _, err := r.Chat(context.Background(), "s1", &ChatRequest{}); err != nil {
		t.Fatalf("second Chat: %v", err)
	}

	if openai.chats != 2 || openai.dials != 1 {
		t.Errorf("openai chats=%d dials=%d, want 2 chats through 1 dial", openai.chats, openai.dials)
	}
	if local.chats != 0 {
		t.Errorf("sidecar was chatted %d times, want 0", local.chats)
	}
	if len(rec.fallbacks) != 0 {
		t.Errorf("fallbacks = %v, want none", rec.fallbacks)
	}
	if len(rec.calls) != 2 {
		t.Fatalf("recorded %d llm calls, want 2", len(rec.calls))
	}
	if c := rec.calls[0]; c.Provider != "openai" || c.Model != "gpt-4o-mini" || c.PromptTokens != 12 || c.CompletionTokens != 3 || c.Err != nil {
		t.Errorf("recorded call = %+v", c)
	}
	if prov, model := r.Active(); prov != "openai" || model != "gpt-4o-mini" {
		t.Errorf("Active() = %q/%q", prov, model)
	}
}

func TestRouterPreferredTriedFirst(t *testing.T) {
	openai := &stubProvider{name: "openai", model: "gpt-4o-mini", available: true, resp: assistantReply("a", 0, 0)}
	anthropic := &stubProvider{name: "anthropic", model: "claude", available: true, resp: assistantReply("b", 0, 0)}
	local := &stubProvider{name: "ollama", model: "llama3.2", available: true, resp: assistantReply("c", 0, 0)}
	rec := &routerRecorder{}
	r := NewRouter(RouterConfig{
		Preferred: "anthropic",
		ProbeURL:  onlineProbeURL(t),
		Recorder:  rec,
	})
	r.Register(openai.entry(true, func() bool { return true }))
	r.Register(anthropic.entry(true, func() bool { return true }))
	r.Register(local.terminalEntry())

	if _, err := r.Chat(context.Background(), "s1", &ChatRequest{}); err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if prov, _ := r.Active(); prov != "anthropic" {
		t.Errorf("Active() = %q, want the preferred backend", prov)
	}
	if openai.chats != 0 {
		t.Errorf("openai served %d chats despite a different preference", openai.chats)
	}
	if len(rec.fallbacks) != 0 {
		t.Errorf("fallbacks = %v, want none", rec.fallbacks)
	}
}

func TestRouterFallsBackWithoutCredentials(t *testing.T) {
	openai := &stubProvider{name: "openai", model: "gpt-4o-mini", available: true}
	local := &stubProvider{name: "ollama", model: "llama3.2", available: true, resp: assistantReply("local", 0, 0)}
	rec := &routerRecorder{}
	r := NewRouter(RouterConfig{ProbeURL: onlineProbeURL(t), Recorder: rec})
	r.Register(openai.entry(true, func() bool { return false }))
	r.Register(local.terminalEntry())

	for _, session := range []string{"s1", "s1", "s2"} {
		if _, err := r.Chat(context.Background(), session, &ChatRequest{}); err != nil {
			t.Fatalf("Chat(%s): %v", session, err)
		}
	}

	if len(rec.fallbacks) != 2 {
		t.Fatalf("recorded %d fallback events, want one per session", len(rec.fallbacks))
	}
	for _, fb := range rec.fallbacks {
		if fb.From != "openai" || fb.To != "ollama" || fb.Reason != FallbackReasonMissingCred {
			t.Errorf("fallback = %+v", fb)
		}
	}
	if rec.fallbacks[0].SessionID == rec.fallbacks[1].SessionID {
		t.Errorf("both fallback events landed on session %s", rec.fallbacks[0].SessionID)
	}
}

func TestRouterOfflineSkipsCloud(t *testing.T) {
	openai := &stubProvider{name: "openai", model: "gpt-4o-mini", available: true, resp: assistantReply("cloud", 0, 0)}
	local := &stubProvider{name: "ollama", model: "llama3.2", available: true, resp: assistantReply("local", 0, 0)}
	rec := &routerRecorder{}
	r := NewRouter(RouterConfig{ProbeURL: deadProbeURL(t), Recorder: rec})
	r.Register(openai.entry(true, func() bool { return true }))
	r.Register(local.terminalEntry())

	if _, err := r.Chat(context.Background(), "s1", &ChatRequest{}); err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if prov, _ := r.Active(); prov != "ollama" {
		t.Errorf("Active() = %q, want the sidecar while offline", prov)
	}
	if len(rec.fallbacks) != 1 || rec.fallbacks[0].Reason != FallbackReasonOffline {
		t.Errorf("fallbacks = %+v, want one offline event", rec.fallbacks)
	}
}

func TestRouterTerminalSelectedDespiteFailingHealth(t *testing.T) {
	sidecarErr := errors.New("connection refused")
	openai := &stubProvider{name: "openai", model: "gpt-4o-mini", available: true}
	local := &stubProvider{name: "ollama", model: "llama3.2", available: false, err: sidecarErr}
	rec := &routerRecorder{}
	r := NewRouter(RouterConfig{ProbeURL: onlineProbeURL(t), Recorder: rec})
	r.Register(openai.entry(true, func() bool { return false }))
	r.Register(local.terminalEntry())

	_, err := r.Chat(context.Background(), "s1", &ChatRequest{})
	if !errors.Is(err, sidecarErr) {
		t.Fatalf("Chat err = %v, want the sidecar's own error", err)
	}
	if len(rec.calls) != 1 || rec.calls[0].Err == nil {
		t.Errorf("calls = %+v, want one recorded failure", rec.calls)
	}
	if len(rec.fallbacks) != 1 || rec.fallbacks[0].Reason != FallbackReasonMissingCred {
		t.Errorf("fallbacks = %+v", rec.fallbacks)
	}
}

func TestRouterSkipsUnavailableNonTerminal(t *testing.T) {
	openai := &stubProvider{name: "openai", model: "gpt-4o-mini", available: false}
	local := &stubProvider{name: "ollama", model: "llama3.2", available: true, resp: assistantReply("local", 0, 0)}
	rec := &routerRecorder{}
	r := NewRouter(RouterConfig{ProbeURL: onlineProbeURL(t), Recorder: rec})
	r.Register(openai.entry(true, func() bool { return true }))
	r.Register(local.terminalEntry())

	if _, err := r.Chat(context.Background(), "s1", &ChatRequest{}); err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if prov, _ := r.Active(); prov != "ollama" {
		t.Errorf("Active() = %q, want ollama", prov)
	}
	if len(rec.fallbacks) != 1 || rec.fallbacks[0].Reason != FallbackReasonUnavailable {
		t.Errorf("fallbacks = %+v, want one unavailable event", rec.fallbacks)
	}
}

func TestRouterSkipsFailedDial(t *testing.T) {
	local := &stubProvider{name: "ollama", model: "llama3.2", available: true, resp: assistantReply("local", 0, 0)}
	rec := &routerRecorder{}
	r := NewRouter(RouterConfig{ProbeURL: onlineProbeURL(t), Recorder: rec})
	r.Register(ProviderEntry{
		Name:     "openai",
		Cloud:    true,
		HasCreds: func() bool { return true },
		Dial:     func() (LLMProvider, error) { return nil, errors.New("bad base url") },
	})
	r.Register(local.terminalEntry())

	if _, err := r.Chat(context.Background(), "s1", &ChatRequest{}); err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if prov, _ := r.Active(); prov != "ollama" {
		t.Errorf("Active() = %q, want ollama after the dial failure", prov)
	}
	if len(rec.fallbacks) != 1 || rec.fallbacks[0].Reason != FallbackReasonUnavailable {
		t.Errorf("fallbacks = %+v", rec.fallbacks)
	}
}

func TestRouterResetReselects(t *testing.T) {
	var mu sync.Mutex
	haveKey := false
	creds := func() bool {
		mu.Lock()
		defer mu.Unlock()
		return haveKey
	}
	openai := &stubProvider{name: "openai", model: "gpt-4o-mini", available: true, resp: assistantReply("cloud", 0, 0)}
	local := &stubProvider{name: "ollama", model: "llama3.2", available: true, resp: assistantReply("local", 0, 0)}
	r := NewRouter(RouterConfig{ProbeURL: onlineProbeURL(t), Recorder: &routerRecorder{}})
	r.Register(openai.entry(true, creds))
	r.Register(local.terminalEntry())

	if _, err := r.Chat(context.Background(), "s1", &ChatRequest{}); err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if prov, _ := r.Active(); prov != "ollama" {
		t.Fatalf("Active() = %q before the key arrives", prov)
	}

	mu.Lock()
	haveKey = true
	mu.Unlock()
	r.Reset()

	if _, err := r.Chat(context.Background(), "s2", &ChatRequest{}); err != nil {
		t.Fatalf("Chat after Reset: %v", err)
	}
	if prov, _ := r.Active(); prov != "openai" {
		t.Errorf("Active() = %q after Reset, want openai", prov)
	}
}

func TestRouterNoProviders(t *testing.T) {
	r := NewRouter(RouterConfig{ProbeURL: onlineProbeURL(t)})
	if _, err := r.Chat(context.Background(), "s1", &ChatRequest{}); !errors.Is(err, ErrNoProviders) {
		t.Fatalf("err = %v, want ErrNoProviders", err)
	}
}

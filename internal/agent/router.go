package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/netmedic/netmedic/internal/observability"
)

// ErrNoProviders is returned when the router has no registered providers.
var ErrNoProviders = errors.New("router: no providers registered")

// Fallback reasons attached to fallback events.
const (
	FallbackReasonOffline     = "offline"
	FallbackReasonMissingCred = "missing_credentials"
	FallbackReasonUnavailable = "unavailable"
)

// LLMCall describes one timed provider invocation for the recorder.
type LLMCall struct {
	SessionID        string
	Provider         string
	Model            string
	Duration         time.Duration
	PromptTokens     int
	CompletionTokens int
	Err              error
}

// Fallback describes a provider downgrade for the recorder.
type Fallback struct {
	SessionID string
	From      string
	To        string
	Reason    string
}

// Recorder receives router telemetry. The analytics recorder implements it;
// NopRecorder satisfies it for tests.
type Recorder interface {
	RecordLLMCall(ctx context.Context, call LLMCall)
	RecordFallback(ctx context.Context, fb Fallback)
}

// NopRecorder discards everything.
type NopRecorder struct{}

func (NopRecorder) RecordLLMCall(context.Context, LLMCall) {}
func (NopRecorder) RecordFallback(context.Context, Fallback) {}

// ProviderEntry registers one provider with the router. Dial is invoked
// lazily on first selection and the client is cached until Close.
type ProviderEntry struct {
	// Name is the provider identifier ("openai", "anthropic", ...).
	Name string

	// Cloud marks providers that need the network; they are skipped
	// when the connectivity probe fails.
	Cloud bool

	// Terminal marks the last-resort provider. Its health is not
	// checked before selection, so its errors surface to the caller
	// instead of a generic "no provider available".
	Terminal bool

	// HasCreds reports whether credentials are configured, without
	// dialing. Nil means no credential gate.
	HasCreds func() bool

	// Dial constructs the client.
	Dial func() (LLMProvider, error)
}

// RouterConfig configures provider selection.
type RouterConfig struct {
	// Preferred names the provider the user asked for. Empty means the
	// first registered entry.
	Preferred string

	// ProbeURL is fetched once per selection to decide online/offline.
	// Any HTTP response counts as online. Defaults to gstatic's
	// no-content endpoint.
	ProbeURL string

	// ProbeTimeout defaults to 800 milliseconds. The probe runs on the
	// chat path, so it must stay well under a second.
	ProbeTimeout time.Duration

	Recorder Recorder
	Logger   *slog.Logger
}

// Router selects an LLM provider per the priority order, preferring cloud
// providers when reachable and falling back to the local sidecar. The
// selected client is cached; every chat is timed and recorded.
type Router struct {
	preferred string
	probeURL  string
	recorder  Recorder
	logger    *slog.Logger

	probeClient *http.Client

	mu         sync.Mutex
	entries    []ProviderEntry
	dialed     map[string]LLMProvider
	active     LLMProvider
	fromName   string // preferred provider name when the active one differs
	fallReason string
	recorded   map[string]bool // session ids with a fallback event written
	closed     bool
}

// NewRouter creates a router; register providers before the first Chat.
func NewRouter(cfg RouterConfig) *Router {
	if cfg.ProbeURL == "" {
		cfg.ProbeURL = "https://www.gstatic.com/generate_204"
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = 800 * time.Millisecond
	}
	if cfg.Recorder == nil {
		cfg.Recorder = NopRecorder{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Router{
		preferred:   cfg.Preferred,
		probeURL:    cfg.ProbeURL,
		recorder:    cfg.Recorder,
		logger:      cfg.Logger.With("component", "router"),
		probeClient: &http.Client{Timeout: cfg.ProbeTimeout},
		dialed:      make(map[string]LLMProvider),
		recorded:    make(map[string]bool),
	}
}

// Register appends a provider to the priority order. The preferred
// backend is moved to the front of the walk; the sidecar registers last
// with Terminal set so something local always answers.
func (r *Router) Register(entry ProviderEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, entry)
}

// Active returns the cached provider and model names. Both are empty until
// the first successful selection.
func (r *Router) Active() (provider, model string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active == nil {
		return "", ""
	}
	return r.active.Name(), r.active.Model()
}

// Chat routes one chat call to the selected provider. The call is timed
// and recorded as an llm-call event; errors propagate after recording. A
// fallback event is recorded once per session while the active provider
// differs from the preferred one.
func (r *Router) Chat(ctx context.Context, sessionID string, req *ChatRequest) (*ChatResponse, error) {
	client, err := r.selectClient(ctx)
	if err != nil {
		return nil, err
	}
	r.noteFallback(ctx, sessionID, client.Name())

	start := time.Now()
	resp, err := client.Chat(ctx, req)
	duration := time.Since(start)

	call := LLMCall{
		SessionID: sessionID,
		Provider:  client.Name(),
		Model:     client.Model(),
		Duration:  duration,
		Err:       err,
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	if resp != nil {
		call.PromptTokens = resp.PromptTokens
		call.CompletionTokens = resp.CompletionTokens
		observability.LLMTokensTotal.WithLabelValues(client.Name(), "prompt").Add(float64(resp.PromptTokens))
		observability.LLMTokensTotal.WithLabelValues(client.Name(), "completion").Add(float64(resp.CompletionTokens))
	}
	observability.LLMRequestsTotal.WithLabelValues(client.Name(), client.Model(), status).Inc()
	observability.LLMRequestDuration.WithLabelValues(client.Name()).Observe(duration.Seconds())
	r.recorder.RecordLLMCall(ctx, call)

	if err != nil {
		return nil, err
	}
	return resp, nil
}

// Close shuts down all dialed clients.
func (r *Router) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var firstErr error
	for name, client := range r.dialed {
		if err := client.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close %s: %w", name, err)
		}
	}
	r.dialed = make(map[string]LLMProvider)
	r.active = nil
	r.closed = true
	return firstErr
}

// Reset drops the cached selection so the next chat re-walks the priority
// list, e.g. after credentials change.
func (r *Router) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.active = nil
	r.fromName = ""
	r.fallReason = ""
}

func (r *Router) selectClient(ctx context.Context) (LLMProvider, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, errors.New("router: closed")
	}
	if r.active != nil {
		return r.active, nil
	}
	if len(r.entries) == 0 {
		return nil, ErrNoProviders
	}

	preferred := r.preferred
	if preferred == "" {
		preferred = r.entries[0].Name
	}

	online := r.probeOnline(ctx)
	reason := ""
	markSkip := func(name, why string) {
		if name == preferred && reason == "" {
			reason = why
		}
	}

	for _, entry := range r.walkOrder(preferred) {
		terminal := entry.Terminal
		if entry.Cloud {
			if !online {
				markSkip(entry.Name, FallbackReasonOffline)
				continue
			}
			if entry.HasCreds != nil && !entry.HasCreds() {
				markSkip(entry.Name, FallbackReasonMissingCred)
				continue
			}
		}

		client, err := r.dialLocked(entry)
		if err != nil {
			markSkip(entry.Name, FallbackReasonUnavailable)
			r.logger.Warn("provider dial failed", "provider", entry.Name, "error", err)
			continue
		}
		if !terminal && !client.Available(ctx) {
			markSkip(entry.Name, FallbackReasonUnavailable)
			continue
		}

		if entry.Name != preferred {
			r.fromName = preferred
			if reason == "" {
				reason = FallbackReasonUnavailable
			}
			r.fallReason = reason
			r.logger.Info("provider fallback",
				"from", preferred, "to", entry.Name, "reason", reason)
		}
		r.active = client
		r.logger.Info("provider selected",
			"provider", entry.Name, "model", client.Model(), "online", online)
		return client, nil
	}

	return nil, fmt.Errorf("router: no provider available (online=%t)", online)
}

// walkOrder is the registration order with the preferred entry moved to
// the front, so the user's choice is tried before the default ladder.
// Callers hold r.mu.
func (r *Router) walkOrder(preferred string) []ProviderEntry {
	for i, entry := range r.entries {
		if entry.Name == preferred && i > 0 {
			order := make([]ProviderEntry, 0, len(r.entries))
			order = append(order, entry)
			order = append(order, r.entries[:i]...)
			order = append(order, r.entries[i+1:]...)
			return order
		}
	}
	return r.entries
}

func (r *Router) dialLocked(entry ProviderEntry) (LLMProvider, error) {
	if client, ok := r.dialed[entry.Name]; ok {
		return client, nil
	}
	client, err := entry.Dial()
	if err != nil {
		return nil, err
	}
	r.dialed[entry.Name] = client
	return client, nil
}

// noteFallback records the fallback event the first time each session
// chats through a non-preferred provider.
func (r *Router) noteFallback(ctx context.Context, sessionID, activeName string) {
	r.mu.Lock()
	if r.fromName == "" || r.recorded[sessionID] {
		r.mu.Unlock()
		return
	}
	r.recorded[sessionID] = true
	fb := Fallback{
		SessionID: sessionID,
		From:      r.fromName,
		To:        activeName,
		Reason:    r.fallReason,
	}
	r.mu.Unlock()

	observability.ProviderFallbacksTotal.WithLabelValues(fb.From, fb.To, fb.Reason).Inc()
	r.recorder.RecordFallback(ctx, fb)
}

// probeOnline decides online/offline with a single short GET. Any HTTP
// response counts as online; only transport errors mean offline.
func (r *Router) probeOnline(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.probeURL, nil)
	if err != nil {
		return false
	}
	resp, err := r.probeClient.Do(req)
	if err != nil {
		return false
	}
	_ = resp.Body.Close()
	return true
}

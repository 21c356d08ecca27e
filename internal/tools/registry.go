package tools

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/netmedic/netmedic/internal/observability"
	"github.com/netmedic/netmedic/pkg/models"
)

// MaxArgumentsSize caps the decoded argument payload for one call (10MB).
const MaxArgumentsSize = 10 << 20

// Handler executes one diagnostic tool. Implementations never panic on
// purpose and report failures through the result, but the registry guards
// against both anyway.
type Handler func(ctx context.Context, args map[string]any) (*models.DiagnosticResult, error)

// Observation is what the registry reports to the recorder after every
// dispatch, successful or not. Repeat detection happens in the recorder,
// which owns the running last-tool state.
type Observation struct {
	SessionID string
	Tool      string
	Duration  time.Duration
	Success   bool
	Error     string
	Arguments map[string]any
	Summary   string
}

// Recorder receives tool observations. The analytics recorder implements
// it; NopRecorder satisfies it for tests.
type Recorder interface {
	RecordToolCall(ctx context.Context, obs Observation)
}

// NopRecorder discards everything.
type NopRecorder struct{}

func (NopRecorder) RecordToolCall(context.Context, Observation) {}

type entry struct {
	def     models.ToolDefinition
	handler Handler
	schema  *jsonschema.Schema
}

// Registry maps tool names to handlers and definitions. Registration
// happens once at startup; after that reads are lock-free in practice and
// the RWMutex is uncontended.
type Registry struct {
	mu       sync.RWMutex
	tools    map[string]*entry
	recorder Recorder
	logger   *slog.Logger
}

// RegistryConfig configures dispatch-side collaborators.
type RegistryConfig struct {
	Recorder Recorder
	Logger   *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(cfg RegistryConfig) *Registry {
	if cfg.Recorder == nil {
		cfg.Recorder = NopRecorder{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Registry{
		tools:    make(map[string]*entry),
		recorder: cfg.Recorder,
		logger:   cfg.Logger.With("component", "tools"),
	}
}

// Register installs a tool. Duplicate names overwrite. The definition's
// schema is compiled once here; arguments are validated against it on
// every dispatch.
func (r *Registry) Register(def models.ToolDefinition, handler Handler) {
	e := &entry{def: def, handler: handler}
	schema, err := jsonschema.CompileString(def.Name+".schema.json", string(def.Schema()))
	if err != nil {
		r.logger.Warn("tool schema did not compile, skipping validation",
			"tool", def.Name, "error", err)
	} else {
		e.schema = schema
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[def.Name] = e
}

// Get returns a tool definition by name.
func (r *Registry) Get(name string) (models.ToolDefinition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.tools[name]
	if !ok {
		return models.ToolDefinition{}, false
	}
	return e.def, true
}

// Definitions lists all registered tools sorted by name, the
// provider-neutral form handed to LLM clients.
func (r *Registry) Definitions() []models.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]models.ToolDefinition, 0, len(r.tools))
	for _, e := range r.tools {
		defs = append(defs, e.def)
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}

// Execute dispatches one tool call. It never returns an error: unknown
// tools, invalid arguments, handler errors, and panics all become failed
// ToolResults so the model can read them and react. The session id for the
// recorded observation rides on the context.
func (r *Registry) Execute(ctx context.Context, call models.ToolCall) *models.ToolResult {
	r.mu.RLock()
	e, ok := r.tools[call.Name]
	r.mu.RUnlock()

	if !ok {
		content := fmt.Sprintf("Error: Unknown tool '%s'", call.Name)
		r.record(ctx, Observation{
			SessionID: observability.GetSessionID(ctx),
			Tool:      call.Name,
			Duration:  0,
			Success:   false,
			Error:     content,
			Summary:   models.TruncateSummary(content),
		})
		return &models.ToolResult{
			ToolCallID: call.ID,
			ToolName:   call.Name,
			Content:    content,
			Success:    false,
		}
	}

	args := call.ArgumentsMap()
	if args == nil {
		args = map[string]any{}
	}
	start := time.Now()

	result, err := r.invoke(ctx, e, call, args)
	duration := time.Since(start)

	var content, errText string
	success := false
	switch {
	case err != nil:
		errText = err.Error()
		content = "Error executing tool: " + errText
	case result == nil:
		errText = "tool returned no result"
		content = "Error executing tool: " + errText
	default:
		success = result.Success
		errText = result.Error
		content = result.LLMText()
	}

	r.record(ctx, Observation{
		SessionID: observability.GetSessionID(ctx),
		Tool:      call.Name,
		Duration:  duration,
		Success:   success,
		Error:     errText,
		Arguments: args,
		Summary:   models.TruncateSummary(content),
	})

	return &models.ToolResult{
		ToolCallID: call.ID,
		ToolName:   call.Name,
		Content:    content,
		Success:    success,
	}
}

func (r *Registry) invoke(ctx context.Context, e *entry, call models.ToolCall, args map[string]any) (result *models.DiagnosticResult, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic in tool %s: %v\n%s", call.Name, rec, debug.Stack())
			result = nil
		}
	}()

	if len(call.Arguments) > MaxArgumentsSize {
		return nil, fmt.Errorf("arguments exceed maximum size of %d bytes", MaxArgumentsSize)
	}
	if e.schema != nil {
		if verr := e.schema.Validate(args); verr != nil {
			return nil, fmt.Errorf("invalid arguments: %v", verr)
		}
	}

	return e.handler(ctx, args)
}

func (r *Registry) record(ctx context.Context, obs Observation) {
	status := "ok"
	if !obs.Success {
		status = "error"
	}
	observability.ToolExecutionsTotal.WithLabelValues(obs.Tool, status).Inc()
	observability.ToolDuration.WithLabelValues(obs.Tool).Observe(obs.Duration.Seconds())
	r.recorder.RecordToolCall(ctx, obs)
}

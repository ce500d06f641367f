// Package tools holds the tool registry and the dispatcher that validates
// arguments, resolves sessions and runs handlers.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/rendis/mediamcp/internal/logging"
	"github.com/rendis/mediamcp/internal/session"
	"github.com/rendis/mediamcp/internal/workerpool"
	"github.com/rendis/mediamcp/pkg/schema"
)

// DefaultPoolSize bounds concurrently running blocking handlers.
const DefaultPoolSize = 10

// Call is one validated tool invocation.
type Call struct {
	Tool      string
	SessionID string
	Args      map[string]any
}

// Decode copies the arguments into the struct pointed to by into.
func (c Call) Decode(into any) error {
	raw, err := json.Marshal(c.Args)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, into)
}

// Handler executes a tool.
type Handler func(ctx context.Context, call Call) (any, error)

// Descriptor registers a tool.
type Descriptor struct {
	Name        string
	Description string
	// Schema is the JSON Schema of the arguments. Nil means no arguments.
	Schema  json.RawMessage
	Handler Handler
	// Blocking handlers run on the worker pool instead of the caller's goroutine.
	Blocking bool
	// SessionScoped tools require a session id.
	SessionScoped bool
}

// Info describes a registered tool.
type Info struct {
	Name          string          `json:"name"`
	Description   string          `json:"description"`
	Schema        json.RawMessage `json:"input_schema"`
	Blocking      bool            `json:"blocking"`
	SessionScoped bool            `json:"session_scoped"`
}

// CallRecord summarizes one dispatch for observers.
type CallRecord struct {
	Tool      string
	SessionID string
	// Code is empty on success.
	Code     string
	Duration time.Duration
	Err      error
}

// Observer receives a record for every dispatch.
type Observer interface {
	ToolCalled(ctx context.Context, rec CallRecord)
}

// Options configures a Registry.
type Options struct {
	Pool      *workerpool.Pool
	Observers []Observer
	Logger    *slog.Logger
}

type entry struct {
	info     Info
	compiled *jsonschema.Schema
	handler  Handler
}

// Registry maps tool names to descriptors and dispatches calls.
type Registry struct {
	mu        sync.RWMutex
	tools     map[string]*entry
	order     []string
	validator *Validator
	pool      *workerpool.Pool
	observers []Observer
	logger    *slog.Logger
}

// NewRegistry creates an empty registry. Without a pool one of
// DefaultPoolSize is created.
func NewRegistry(opts Options) *Registry {
	if opts.Pool == nil {
		opts.Pool = workerpool.New(DefaultPoolSize)
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Registry{
		tools:     make(map[string]*entry),
		validator: NewValidator(),
		pool:      opts.Pool,
		observers: opts.Observers,
		logger:    opts.Logger,
	}
}

// Register adds a tool. Duplicate names, missing handlers and schemas that
// do not compile are rejected.
func (r *Registry) Register(d Descriptor) error {
	if d.Name == "" {
		return schema.NewError(schema.ErrCodeConfig, "tool name is empty")
	}
	if d.Handler == nil {
		return schema.NewErrorf(schema.ErrCodeConfig, "tool %q has no handler", d.Name)
	}

	raw := d.Schema
	if len(raw) == 0 {
		raw = emptyObjectSchema
	}
	if d.SessionScoped {
		var err error
		if raw, err = withSessionID(raw); err != nil {
			return schema.NewErrorf(schema.ErrCodeConfig, "tool %q has an invalid schema", d.Name).WithCause(err)
		}
	}
	compiled, err := r.validator.Compile(raw)
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeConfig, "tool %q has an invalid schema", d.Name).WithCause(err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[d.Name]; exists {
		return schema.NewErrorf(schema.ErrCodeConfig, "tool %q already registered", d.Name)
	}
	r.tools[d.Name] = &entry{
		info: Info{
			Name:          d.Name,
			Description:   d.Description,
			Schema:        raw,
			Blocking:      d.Blocking,
			SessionScoped: d.SessionScoped,
		},
		compiled: compiled,
		handler:  d.Handler,
	}
	r.order = append(r.order, d.Name)
	return nil
}

// MustRegister registers every descriptor and panics on the first error.
func (r *Registry) MustRegister(ds ...Descriptor) {
	for _, d := range ds {
		if err := r.Register(d); err != nil {
			panic(err)
		}
	}
}

// List returns registered tools in registration order.
func (r *Registry) List() []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Info, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.tools[name].info)
	}
	return out
}

// Dispatch runs the named tool with args. Unknown tools fail with NOT_FOUND,
// bad arguments with INVALID_ARGUMENTS and session-scoped calls without a
// session with MISSING_SESSION. Handler failures and panics are returned as
// EXECUTION_ERROR with the handler error as cause.
func (r *Registry) Dispatch(ctx context.Context, name string, args map[string]any) (any, error) {
	start := time.Now()
	call := Call{Tool: name}

	result, err := r.dispatch(ctx, &call, args)

	rec := CallRecord{
		Tool:      name,
		SessionID: call.SessionID,
		Code:      schema.CodeOf(err),
		Duration:  time.Since(start),
		Err:       err,
	}
	for _, o := range r.observers {
		o.ToolCalled(ctx, rec)
	}
	return result, err
}

func (r *Registry) dispatch(ctx context.Context, call *Call, args map[string]any) (any, error) {
	r.mu.RLock()
	e, ok := r.tools[call.Tool]
	r.mu.RUnlock()
	if !ok {
		return nil, schema.NotFound("tool", call.Tool)
	}

	clean := make(map[string]any, len(args))
	for k, v := range args {
		if v != nil {
			clean[k] = v
		}
	}

	if err := r.validator.Validate(e.compiled, clean); err != nil {
		var serr *schema.Error
		if errors.As(err, &serr) {
			return nil, serr.WithTool(call.Tool)
		}
		return nil, err
	}

	explicit, _ := clean[SessionIDProperty].(string)
	if e.info.SessionScoped {
		delete(clean, SessionIDProperty)
	}
	id, err := session.Resolve(ctx, explicit)
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeInvalidArgs, err.Error()).
			WithCause(err).
			WithTool(call.Tool).
			WithDetails(map[string]any{"field": SessionIDProperty})
	}
	call.SessionID = id
	if e.info.SessionScoped && call.SessionID == "" {
		return nil, schema.NewError(schema.ErrCodeMissingSession, "no session bound to this call").
			WithTool(call.Tool)
	}
	call.Args = clean

	if call.SessionID != "" {
		ctx = session.WithID(ctx, call.SessionID)
	}
	ctx = logging.WithTool(ctx, call.Tool)

	var result any
	if e.info.Blocking {
		result, err = r.pool.Run(ctx, func(ctx context.Context) (any, error) {
			return e.handler(ctx, *call)
		})
	} else {
		result, err = runInline(ctx, e.handler, *call)
	}
	if err != nil {
		r.logger.WarnContext(ctx, "tool call failed", slog.String("error", err.Error()))
		return nil, executionError(call.Tool, err)
	}
	return result, nil
}

func executionError(tool string, err error) *schema.Error {
	msg := err.Error()
	var details map[string]any
	var serr *schema.Error
	if errors.As(err, &serr) {
		msg = serr.Message
		details = map[string]any{"cause_code": serr.Code}
		for k, v := range serr.Details {
			details[k] = v
		}
	}
	out := schema.NewError(schema.ErrCodeExecution, msg).WithTool(tool).WithCause(err)
	if details != nil {
		out = out.WithDetails(details)
	}
	return out
}

func runInline(ctx context.Context, h Handler, call Call) (result any, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = &workerpool.PanicError{Value: rec}
		}
	}()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return h(ctx, call)
}

// Close stops the worker pool after running handlers finish.
func (r *Registry) Close() {
	r.pool.Shutdown()
}

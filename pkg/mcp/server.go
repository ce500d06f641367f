// Package mcp exposes the media tools over the Model Context Protocol.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/rendis/mediamcp/internal/expressions"
	"github.com/rendis/mediamcp/internal/logging"
	"github.com/rendis/mediamcp/internal/mediaindex"
	"github.com/rendis/mediamcp/internal/metrics"
	"github.com/rendis/mediamcp/internal/session"
	"github.com/rendis/mediamcp/internal/storage"
	"github.com/rendis/mediamcp/internal/tenant"
	"github.com/rendis/mediamcp/internal/tools"
	"github.com/rendis/mediamcp/pkg/schema"
)

// DefaultIndexWait bounds how long list tools wait for a session's index.
const DefaultIndexWait = 30 * time.Second

// Deps holds the dependencies for creating a MediaServer.
type Deps struct {
	Sessions *session.Registry
	Index    *mediaindex.Store
	Open     storage.Opener
	Tools    *tools.Registry

	Filter    *expressions.ExprEngine
	Projector *expressions.GoJQEngine
	Admission *expressions.CELEngine
	// AdmissionRule is a CEL expression over tenant; empty admits everyone.
	AdmissionRule string

	// Metrics is optional.
	Metrics *metrics.Metrics
	Tenant  tenant.Options

	IndexWait time.Duration
	Version   string
	Logger    *slog.Logger
}

// MediaServer wraps an MCP server with the media tool handlers.
type MediaServer struct {
	sessions  *session.Registry
	index     *mediaindex.Store
	open      storage.Opener
	tools     *tools.Registry
	filter    *expressions.ExprEngine
	projector *expressions.GoJQEngine
	admission *expressions.CELEngine
	rule      string
	metrics   *metrics.Metrics
	tenant    tenant.Options
	indexWait time.Duration
	version   string
	logger    *slog.Logger

	bindings  *SessionBindings
	mcpServer *server.MCPServer
}

// NewMediaServer registers the media tools on deps.Tools and builds the MCP
// server that fronts them.
func NewMediaServer(deps Deps) (*MediaServer, error) {
	if deps.Sessions == nil || deps.Index == nil || deps.Tools == nil || deps.Open == nil {
		return nil, schema.NewError(schema.ErrCodeConfig, "media server requires sessions, index, tools and storage opener")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}

	s := &MediaServer{
		sessions:  deps.Sessions,
		index:     deps.Index,
		open:      deps.Open,
		tools:     deps.Tools,
		filter:    deps.Filter,
		projector: deps.Projector,
		admission: deps.Admission,
		rule:      deps.AdmissionRule,
		metrics:   deps.Metrics,
		tenant:    deps.Tenant,
		indexWait: deps.IndexWait,
		version:   deps.Version,
		logger:    logger,
		bindings:  NewSessionBindings(),
	}
	if s.filter == nil {
		s.filter = expressions.NewExprEngine()
	}
	if s.projector == nil {
		s.projector = expressions.NewGoJQEngine()
	}
	if s.indexWait <= 0 {
		s.indexWait = DefaultIndexWait
	}
	if s.version == "" {
		s.version = "dev"
	}
	if s.rule != "" {
		if s.admission == nil {
			engine, err := expressions.NewCELEngine()
			if err != nil {
				return nil, err
			}
			s.admission = engine
		}
		if err := s.admission.Compile(s.rule); err != nil {
			return nil, err
		}
	}

	for _, d := range s.descriptors() {
		if err := s.tools.Register(d); err != nil {
			return nil, err
		}
	}

	hooks := &server.Hooks{}
	hooks.AddOnRegisterSession(func(ctx context.Context, cs server.ClientSession) {
		if id := session.IDFromContext(ctx); id != "" {
			s.bindings.Bind(cs.SessionID(), id)
			s.logger.DebugContext(ctx, "transport session bound", slog.String("transport_session", cs.SessionID()))
		}
	})
	hooks.AddOnUnregisterSession(func(_ context.Context, cs server.ClientSession) {
		s.bindings.Unbind(cs.SessionID())
	})

	s.mcpServer = server.NewMCPServer(
		"mediamcp",
		s.version,
		server.WithToolCapabilities(true),
		server.WithRecovery(),
		server.WithHooks(hooks),
		server.WithInstructions("mediamcp serves the media library of the connected tenant. Use get_media_list or browse_media to discover files, get_media_url to obtain playable URLs and read_media_object to fetch object bytes."),
	)
	s.mcpServer.AddTools(s.serverTools()...)
	return s, nil
}

// MCPServer returns the underlying MCPServer for testing or custom transports.
func (s *MediaServer) MCPServer() *server.MCPServer {
	return s.mcpServer
}

// Bindings returns the transport to tenant session table.
func (s *MediaServer) Bindings() *SessionBindings {
	return s.bindings
}

// ServeStdio creates one session for the static tenant cfg and serves the
// stdio transport until ctx is cancelled or in closes.
func (s *MediaServer) ServeStdio(ctx context.Context, cfg schema.TenantConfig, in io.Reader, out io.Writer) error {
	if err := s.admit(ctx, cfg); err != nil {
		return err
	}
	id, err := s.sessions.Create(cfg)
	if err != nil {
		return err
	}
	defer func() {
		s.sessions.Remove(id)
		s.bindings.RemoveTenant(id)
	}()

	return session.Run(ctx, id, func(ctx context.Context) error {
		return server.NewStdioServer(s.mcpServer).Listen(ctx, in, out)
	})
}

// serverTools bridges every registered tool into an mcp-go ServerTool.
func (s *MediaServer) serverTools() []server.ServerTool {
	infos := s.tools.List()
	out := make([]server.ServerTool, 0, len(infos))
	for _, info := range infos {
		out = append(out, server.ServerTool{
			Tool:    mcp.NewToolWithRawSchema(info.Name, info.Description, info.Schema),
			Handler: s.handler(info.Name),
		})
	}
	return out
}

func (s *MediaServer) handler(name string) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		ctx = s.bindContext(ctx)
		result, err := s.tools.Dispatch(ctx, name, req.GetArguments())
		if err != nil {
			return errorResult(err), nil
		}
		return marshalResult(result)
	}
}

// bindContext attaches the tenant session bound to the calling transport
// session, if any.
func (s *MediaServer) bindContext(ctx context.Context) context.Context {
	cs := server.ClientSessionFromContext(ctx)
	if cs == nil {
		return ctx
	}
	ctx = logging.WithTransportSession(ctx, cs.SessionID())
	if id, ok := s.bindings.TenantFor(cs.SessionID()); ok {
		ctx = session.WithID(ctx, id)
	}
	return ctx
}

// admit evaluates the admission rule against cfg.
func (s *MediaServer) admit(ctx context.Context, cfg schema.TenantConfig) error {
	if s.rule == "" {
		return nil
	}
	ok, err := s.admission.Admit(ctx, s.rule, cfg)
	if err != nil {
		return err
	}
	if !ok {
		return schema.NewError(schema.ErrCodeAdmission, "tenant rejected by admission rule").
			WithDetails(map[string]any{"region": cfg.Region})
	}
	return nil
}

func (s *MediaServer) rejected(code string) {
	if s.metrics != nil {
		s.metrics.Rejected(code)
	}
}

// marshalResult renders a handler result as text content. Strings pass
// through; anything else is encoded as indented JSON.
func marshalResult(v any) (*mcp.CallToolResult, error) {
	if text, ok := v.(string); ok {
		return mcp.NewToolResultText(text), nil
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errorResult(schema.NewError(schema.ErrCodeExecution, "failed to encode result").WithCause(err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// errorResult renders err as an MCP error result with a JSON body of
// {code, message, details}.
func errorResult(err error) *mcp.CallToolResult {
	var serr *schema.Error
	if !errors.As(err, &serr) {
		serr = schema.NewError(schema.ErrCodeExecution, err.Error())
	}
	body := struct {
		Code    string         `json:"code"`
		Message string         `json:"message"`
		Details map[string]any `json:"details,omitempty"`
	}{serr.Code, serr.Message, serr.Details}
	data, merr := json.Marshal(body)
	if merr != nil {
		return mcp.NewToolResultError(serr.Error())
	}
	return mcp.NewToolResultError(string(data))
}

// internal/server/server.go
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/ThinkInAIXYZ/go-mcp/protocol"
	"github.com/ThinkInAIXYZ/go-mcp/server"
	"go.uber.org/zap"

	"mcp-macro-log/internal/config"
	"mcp-macro-log/internal/draft"
	"mcp-macro-log/internal/identity"
	"mcp-macro-log/internal/models"
	"mcp-macro-log/internal/tracker"
)

const Version = "1.0.0"

type toolHandler func(ctx context.Context, req *protocol.CallToolRequest) (*protocol.CallToolResult, error)

type MacroLogServer struct {
	server     *server.Server
	httpServer *http.Server
	tracker    *tracker.Service
	tokens     *identity.Tokens
	estimator  *Estimator
	tools      map[string]toolHandler
	log        *zap.Logger
}

func NewMacroLogServer(
	cfg config.ServerConfig,
	svc *tracker.Service,
	tokens *identity.Tokens,
	estimator *Estimator,
	log *zap.Logger,
) (*MacroLogServer, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.Transport != "" && cfg.Transport != "http" {
		return nil, fmt.Errorf("unsupported transport %q", cfg.Transport)
	}

	s := &MacroLogServer{
		tracker:   svc,
		tokens:    tokens,
		estimator: estimator,
		log:       log,
	}

	// Transport is handled by handleHTTP; the MCP server only carries the
	// implementation info.
	mcpServer, err := server.NewServer(
		nil,
		server.WithServerInfo(protocol.Implementation{
			Name:    "macro-log",
			Version: Version,
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create MCP server: %w", err)
	}
	s.server = mcpServer

	s.registerTools()

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/", s.handleHTTP)

	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s, nil
}

func (s *MacroLogServer) Handler() http.Handler {
	return s.httpServer.Handler
}

func (s *MacroLogServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok", "version": Version})
}

func (s *MacroLogServer) handleHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ctx, err := s.authenticate(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return
	}

	var request protocol.CallToolRequest
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		http.Error(w, fmt.Sprintf("Invalid JSON: %v", err), http.StatusBadRequest)
		return
	}

	handler, ok := s.tools[request.Name]
	if !ok {
		http.Error(w, fmt.Sprintf("Unknown tool: %s", request.Name), http.StatusNotFound)
		return
	}

	result, err := handler(ctx, &request)
	if err != nil {
		status := statusFor(err)
		if status >= http.StatusInternalServerError {
			s.log.Error("tool failed", zap.String("tool", request.Name), zap.Error(err))
		} else {
			s.log.Debug("tool rejected", zap.String("tool", request.Name), zap.Int("status", status), zap.Error(err))
		}
		http.Error(w, err.Error(), status)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(result); err != nil {
		s.log.Warn("failed to encode response", zap.String("tool", request.Name), zap.Error(err))
	}
}

// authenticate attaches the bearer token's user to the request context.
// Requests without a token pass through anonymously; tools that need a
// user reject them.
func (s *MacroLogServer) authenticate(r *http.Request) (context.Context, error) {
	ctx := r.Context()
	header := r.Header.Get("Authorization")
	if header == "" {
		return ctx, nil
	}
	token, ok := identity.FromHeader(header)
	if !ok {
		return nil, fmt.Errorf("malformed Authorization header")
	}
	if s.tokens == nil {
		return nil, fmt.Errorf("token verification is not configured")
	}
	userID, err := s.tokens.Verify(token)
	if err != nil {
		return nil, err
	}
	return identity.WithUser(ctx, userID), nil
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, identity.ErrUnauthenticated), errors.Is(err, identity.ErrInvalidToken):
		return http.StatusUnauthorized
	case errors.Is(err, models.ErrInvalidInput), errors.Is(err, draft.ErrIndexOutOfRange), errors.Is(err, errInvalidParams):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrConflict):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (s *MacroLogServer) Start(ctx context.Context) error {
	s.log.Info("starting macro log server", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *MacroLogServer) Stop(ctx context.Context) error {
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}

func (s *MacroLogServer) createJSONResponse(data interface{}) (*protocol.CallToolResult, error) {
	jsonBytes, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal response: %w", err)
	}

	return &protocol.CallToolResult{
		Content: []protocol.Content{
			protocol.TextContent{
				Type: "text",
				Text: string(jsonBytes),
			},
		},
	}, nil
}

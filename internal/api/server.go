package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"OnChainAgents/internal/agent"
	xerrors "OnChainAgents/internal/errors"
	"OnChainAgents/internal/identity"
	"OnChainAgents/internal/observability/metrics"
	"OnChainAgents/internal/web3"
	"OnChainAgents/pkg/logger"
)

// Identities 提供身份的只读视图。*identity.Vault 满足该接口。
type Identities interface {
	Describe(ctx context.Context, id string) (identity.Record, error)
	Registered(ctx context.Context) ([]string, error)
}

// Chain 提供链状态快照。
type Chain interface {
	FetchChainSnapshot(ctx context.Context) (web3.ChainSnapshot, error)
}

// Dependencies 汇总 Server 使用的组件。Identities、Chain 与 Metrics 可以为空。
type Dependencies struct {
	Pool       *agent.Pool
	Dispatcher *agent.Dispatcher
	Identities Identities
	Chain      Chain
	Metrics    *metrics.Metrics
}

// Server 负责暴露 REST 接口。
type Server struct {
	addr string
	deps Dependencies
	log  *slog.Logger
}

// NewServer 构造 API 服务实例。
func NewServer(addr string, deps Dependencies) *Server {
	return &Server{addr: addr, deps: deps, log: logger.Named("api")}
}

// Handler 返回注册了全部路由的处理器。
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/agents", s.instrument("agents", s.handleAgents))
	mux.Handle("/agents/run", s.instrument("agents_run", s.handleRun))
	mux.Handle("/identities", s.instrument("identities", s.handleIdentities))
	mux.Handle("/identities/", s.instrument("identity_detail", s.handleIdentityDetail))
	mux.Handle("/healthz", s.instrument("healthz", s.handleHealth))
	mux.Handle("/metrics", s.deps.Metrics.Handler())
	return mux
}

// Start 启动 HTTP 服务，直到上下文取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           withContext(ctx, s.Handler()),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	s.log.Info("HTTP 服务已启动", slog.String("addr", s.addr))

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// CreateAgentsRequest 是 POST /agents 的请求体。
type CreateAgentsRequest struct {
	TaskDescription string `json:"task_description"`
	IdentityID      string `json:"identity_id,omitempty"`
}

// CreateAgentsResponse 是 POST /agents 的响应体。
type CreateAgentsResponse struct {
	Success    bool         `json:"success"`
	Message    string       `json:"message"`
	AgentCount int          `json:"agent_count"`
	Version    uint64       `json:"version"`
	Agents     []agent.View `json:"agents"`
}

// RunRequest 是 POST /agents/run 的请求体。
type RunRequest struct {
	AgentIndex *int   `json:"agent_index"`
	Prompt     string `json:"prompt"`
	IdentityID string `json:"identity_id,omitempty"`
}

// RunResponse 是 POST /agents/run 的响应体。
type RunResponse struct {
	Success bool   `json:"success"`
	Result  string `json:"result"`
}

// ErrorResponse 是所有失败响应的格式。
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func (s *Server) handleAgents(w http.ResponseWriter, r *http.Request) {
	if s.deps.Pool == nil {
		s.writeError(w, xerrors.New(xerrors.CodeInitializationFailure, "代理池未初始化"))
		return
	}
	switch r.Method {
	case http.MethodPost:
		s.handleCreateAgents(w, r)
	case http.MethodGet:
		writeJSON(w, http.StatusOK, views(s.deps.Pool.Agents()))
	default:
		http.Error(w, "仅支持 GET/POST", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleCreateAgents(w http.ResponseWriter, r *http.Request) {
	var req CreateAgentsRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, err)
		return
	}

	var opts []agent.CreateOption
	if req.IdentityID != "" {
		opts = append(opts, agent.WithIdentity(req.IdentityID))
	}
	agents, err := s.deps.Pool.CreateAgents(r.Context(), req.TaskDescription, opts...)
	if err != nil {
		s.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, CreateAgentsResponse{
		Success:    true,
		Message:    "agents created",
		AgentCount: len(agents),
		Version:    s.deps.Pool.Generation().Version,
		Agents:     views(agents),
	})
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "仅支持 POST", http.StatusMethodNotAllowed)
		return
	}
	if s.deps.Dispatcher == nil {
		s.writeError(w, xerrors.New(xerrors.CodeInitializationFailure, "调度器未初始化"))
		return
	}
	var req RunRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	if req.AgentIndex == nil {
		s.writeError(w, xerrors.New(xerrors.CodeInvalidArgument, "缺少 agent_index"))
		return
	}

	result, err := s.deps.Dispatcher.Run(r.Context(), *req.AgentIndex, req.Prompt, agent.RunOptions{IdentityID: req.IdentityID})
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, RunResponse{Success: true, Result: result})
}

func (s *Server) handleIdentities(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "仅支持 GET", http.StatusMethodNotAllowed)
		return
	}
	if s.deps.Identities == nil {
		s.writeError(w, xerrors.New(xerrors.CodeInitializationFailure, "身份服务未初始化"))
		return
	}
	ids, err := s.deps.Identities.Registered(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	if ids == nil {
		ids = []string{}
	}
	writeJSON(w, http.StatusOK, ids)
}

func (s *Server) handleIdentityDetail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "仅支持 GET", http.StatusMethodNotAllowed)
		return
	}
	if s.deps.Identities == nil {
		s.writeError(w, xerrors.New(xerrors.CodeInitializationFailure, "身份服务未初始化"))
		return
	}
	id := strings.Trim(strings.TrimPrefix(r.URL.Path, "/identities/"), "/")
	if id == "" {
		s.writeError(w, xerrors.New(xerrors.CodeInvalidArgument, "缺少身份 ID"))
		return
	}
	record, err := s.deps.Identities.Describe(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

// HealthResponse 是 /healthz 的响应体。
type HealthResponse struct {
	Status      string              `json:"status"`
	Chain       *web3.ChainSnapshot `json:"chain,omitempty"`
	ChainError  string              `json:"chain_error,omitempty"`
	PoolVersion uint64              `json:"pool_version"`
	Agents      int                 `json:"agents"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{Status: "ok"}
	if s.deps.Pool != nil {
		gen := s.deps.Pool.Generation()
		resp.PoolVersion = gen.Version
		resp.Agents = gen.Len()
	}
	status := http.StatusOK
	if s.deps.Chain != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		snapshot, err := s.deps.Chain.FetchChainSnapshot(ctx)
		if err != nil {
			resp.Status = "degraded"
			resp.ChainError = err.Error()
			status = http.StatusServiceUnavailable
		} else {
			resp.Chain = &snapshot
		}
	}
	writeJSON(w, status, resp)
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := xerrors.StatusOf(err)
	code := xerrors.CodeOf(err)
	message := err.Error()
	if e, ok := xerrors.From(err); ok {
		message = e.Message()
	}
	if status >= http.StatusInternalServerError {
		s.log.Error("请求处理失败", slog.String("code", string(code)), slog.Any("error", err))
	}
	writeJSON(w, status, ErrorResponse{Error: message, Code: string(code)})
}

func (s *Server) instrument(name string, handler http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		handler(rec, r)
		s.deps.Metrics.ObserveHTTPRequest(name, r.Method, rec.status, time.Since(start))
	})
}

// statusRecorder 记录响应状态码。
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func decodeBody(r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "请求体解析失败")
	}
	return nil
}

func views(agents []*agent.Agent) []agent.View {
	out := make([]agent.View, 0, len(agents))
	for _, a := range agents {
		out = append(out, a.View())
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// withContext 确保请求处理能够感知根上下文取消。
func withContext(ctx context.Context, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-ctx.Done():
			http.Error(w, "服务已关闭", http.StatusServiceUnavailable)
			return
		default:
		}
		handler.ServeHTTP(w, r)
	})
}

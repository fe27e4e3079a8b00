package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"FlowGate/internal/accounts"
	"FlowGate/internal/auth"
	"FlowGate/internal/coordinator"
	apperrors "FlowGate/internal/errors"
	"FlowGate/internal/observability/metrics"
	"FlowGate/internal/op"
	"FlowGate/pkg/logger"
)

// Server 负责暴露 REST 接口，供外部提交与查询出站操作。
type Server struct {
	addr        string
	operations  *op.Service
	coordinator *coordinator.Coordinator
	auth        *auth.Service
	network     string
}

// Option 配置 Server 的可选参数。
type Option func(*Server)

// WithAuthService 启用访问控制。
func WithAuthService(service *auth.Service) Option {
	return func(s *Server) {
		s.auth = service
	}
}

// WithNetwork 指定文本视图中浏览器链接指向的网络。
func WithNetwork(network string) Option {
	return func(s *Server) {
		s.network = network
	}
}

// NewServer 构造 API 服务实例。
func NewServer(addr string, operations *op.Service, c *coordinator.Coordinator, opts ...Option) *Server {
	server := &Server{addr: addr, operations: operations, coordinator: c}
	for _, opt := range opts {
		if opt != nil {
			opt(server)
		}
	}
	return server
}

// Handler 返回完整的路由。
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	guard := func(next http.Handler) http.Handler { return next }
	if s.auth != nil {
		guard = s.auth.Middleware(auth.MiddlewareConfig{
			RequiredPermissions: map[string][]string{
				http.MethodGet:  {"operations:read"},
				http.MethodPost: {"operations:write"},
			},
		})
	}

	mux.Handle("/api/v1/operations", guard(observed("operations", http.HandlerFunc(s.handleOperations))))
	mux.Handle("/api/v1/operations/", guard(observed("operation_detail", http.HandlerFunc(s.handleOperationDetail))))
	mux.Handle("/api/v1/accounts", guard(observed("accounts", http.HandlerFunc(s.handleAccounts))))
	mux.Handle("/api/v1/accounts/", guard(observed("account_detail", http.HandlerFunc(s.handleAccountDetail))))
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.Handle("/metrics", metrics.Handler())
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

func (s *Server) handleOperations(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handleSubmitOperation(w, r)
	case http.MethodGet:
		s.handleListOperations(w, r)
	default:
		http.Error(w, "仅支持 GET/POST", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleSubmitOperation(w http.ResponseWriter, r *http.Request) {
	if s.operations == nil {
		http.Error(w, "操作服务未初始化", http.StatusServiceUnavailable)
		return
	}
	var req op.SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "请求体解析失败", http.StatusBadRequest)
		return
	}
	operation, err := s.operations.Submit(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	logger.Audit().Info("操作已受理",
		slog.String("operation_id", operation.ID),
		slog.String("kind", string(operation.Kind)),
		slog.String("subject", auth.SubjectName(r.Context())),
	)
	writeJSON(w, http.StatusAccepted, operation)
}

func (s *Server) handleListOperations(w http.ResponseWriter, r *http.Request) {
	if s.operations == nil {
		http.Error(w, "操作服务未初始化", http.StatusServiceUnavailable)
		return
	}
	operations, err := s.operations.List(r.Context(), listOptionsFromQuery(r)...)
	if err != nil {
		writeError(w, err)
		return
	}
	if operations == nil {
		operations = []*op.Operation{}
	}
	writeJSON(w, http.StatusOK, operations)
}

func (s *Server) handleOperationDetail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "仅支持 GET", http.StatusMethodNotAllowed)
		return
	}
	if s.operations == nil {
		http.Error(w, "操作服务未初始化", http.StatusServiceUnavailable)
		return
	}
	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/v1/operations/"), "/")
	if rest == "stats" {
		stats, err := s.operations.Stats(r.Context(), listOptionsFromQuery(r)...)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, stats)
		return
	}
	if rest == "" || strings.Contains(rest, "/") {
		http.Error(w, "缺少操作 ID", http.StatusBadRequest)
		return
	}
	operation, err := s.operations.Get(r.Context(), rest)
	if err != nil {
		writeError(w, err)
		return
	}
	// format=text 返回带浏览器链接的纯文本视图。
	if r.URL.Query().Get("format") == "text" && operation.Result != nil && operation.Result.TxID != "" {
		writeText(w, accounts.FormatTransactionSent(operation.Result.TxID, s.network))
		return
	}
	writeJSON(w, http.StatusOK, operation)
}

func (s *Server) handleAccounts(w http.ResponseWriter, r *http.Request) {
	if s.coordinator == nil {
		http.Error(w, "协调器未初始化", http.StatusServiceUnavailable)
		return
	}
	switch r.Method {
	case http.MethodPost:
		var req coordinator.EnsureAccountRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "请求体解析失败", http.StatusBadRequest)
			return
		}
		account, err := s.coordinator.EnsureUserAccount(r.Context(), req)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, account)
	case http.MethodGet:
		// user_id 为空时返回根账户余额。
		info, err := s.coordinator.QueryAccountInfo(r.Context(), coordinator.BalanceRequest{
			UserID: r.URL.Query().Get("user_id"),
		})
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, info)
	default:
		http.Error(w, "仅支持 GET/POST", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleAccountDetail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "仅支持 GET", http.StatusMethodNotAllowed)
		return
	}
	if s.coordinator == nil {
		http.Error(w, "协调器未初始化", http.StatusServiceUnavailable)
		return
	}
	userID := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/v1/accounts/"), "/")
	if userID == "" || strings.Contains(userID, "/") {
		http.Error(w, "缺少用户 ID", http.StatusBadRequest)
		return
	}
	info, err := s.coordinator.QueryAccountInfo(r.Context(), coordinator.BalanceRequest{UserID: userID})
	if err != nil {
		writeError(w, err)
		return
	}
	if r.URL.Query().Get("format") == "text" {
		writeText(w, accounts.FormatBalanceInfo(userID, info))
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	payload := map[string]any{"status": "ok"}
	if s.coordinator != nil {
		pool := s.coordinator.KeyPool()
		payload["key_pool"] = pool
		metrics.SetKeyPool(pool.Size, pool.Idle)
	}
	writeJSON(w, http.StatusOK, payload)
}

// observed 包装处理器以记录 HTTP 指标。
func observed(name string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)
		metrics.ObserveHTTPRequest(name, r.Method, recorder.status, time.Since(start))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func listOptionsFromQuery(r *http.Request) []op.ListOption {
	var opts []op.ListOption
	query := r.URL.Query()
	if raw := query.Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			opts = append(opts, op.WithLimit(parsed))
		}
	}
	if raw := query.Get("offset"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			opts = append(opts, op.WithOffset(parsed))
		}
	}
	if raw := query.Get("status"); raw != "" {
		var statuses []op.Status
		for _, item := range strings.Split(raw, ",") {
			statuses = append(statuses, op.Status(strings.TrimSpace(item)))
		}
		opts = append(opts, op.WithStatuses(statuses...))
	}
	if raw := query.Get("kind"); raw != "" {
		var kinds []op.Kind
		for _, item := range strings.Split(raw, ",") {
			kinds = append(kinds, op.Kind(strings.TrimSpace(item)))
		}
		opts = append(opts, op.WithKinds(kinds...))
	}
	if raw := query.Get("user_id"); raw != "" {
		opts = append(opts, op.WithUserID(raw))
	}
	if query.Get("order") == "asc" {
		opts = append(opts, op.WithSortOrder(op.SortByUpdatedAsc))
	}
	return opts
}

func writeText(w http.ResponseWriter, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(body))
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch apperrors.CodeOf(err) {
	case apperrors.CodeInvalidArgument, op.CodeOperationValidation:
		status = http.StatusBadRequest
	case apperrors.CodeNotFound, op.CodeOperationNotFound, accounts.CodeAccountNotFound:
		status = http.StatusNotFound
	case apperrors.CodeConflict, op.CodeOperationConflict:
		status = http.StatusConflict
	case apperrors.CodeTimeout:
		status = http.StatusGatewayTimeout
	}
	if appErr, ok := apperrors.From(err); ok {
		writeJSON(w, status, map[string]string{
			"code":  string(appErr.Code()),
			"error": appErr.Error(),
		})
		return
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
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

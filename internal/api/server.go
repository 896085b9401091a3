package api

import (
	"context"
	"encoding/json"
	stdErrors "errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	xerrors "LendFlow-Chain/internal/errors"
	"LendFlow-Chain/internal/intent"
	"LendFlow-Chain/internal/observability/metrics"
	"LendFlow-Chain/pkg/logger"
)

// Server 负责暴露 REST 接口，供外部提交与查询交易意图。
type Server struct {
	addr    string
	service *intent.Service
	tokens  map[string]struct{}
}

// NewServer 构造 API 服务实例。tokens 为空时接口不做鉴权，
// 适用于本机调试模式。
func NewServer(addr string, svc *intent.Service, tokens []string) *Server {
	set := make(map[string]struct{}, len(tokens))
	for _, token := range tokens {
		token = strings.TrimSpace(token)
		if token != "" {
			set[token] = struct{}{}
		}
	}
	return &Server{addr: addr, service: svc, tokens: set}
}

// Start 启动 HTTP 服务，直到上下文取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.Handle("/api/v1/intents", s.withAccess("intents", http.HandlerFunc(s.handleIntents)))
	mux.Handle("/api/v1/intents/", s.withAccess("intent_detail", http.HandlerFunc(s.handleIntentDetail)))
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.Handle("/metrics", metrics.Handler())

	// 配置 HTTP 服务器。
	server := &http.Server{
		Addr:              s.addr,
		Handler:           withContext(ctx, mux),
		ReadHeaderTimeout: 5 * time.Second,
	}

	// 启动服务器并监听关闭信号。
	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !stdErrors.Is(err, http.ErrServerClosed) {
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

func (s *Server) handleIntents(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handleSubmitIntent(w, r)
	case http.MethodGet:
		s.handleListIntents(w, r)
	default:
		http.Error(w, "仅支持 GET/POST", http.StatusMethodNotAllowed)
	}
}

// handleSubmitIntent 接收一个交易意图并异步入队执行。
func (s *Server) handleSubmitIntent(w http.ResponseWriter, r *http.Request) {
	if s.service == nil {
		http.Error(w, "意图服务未初始化", http.StatusServiceUnavailable)
		return
	}

	var req intent.SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, xerrors.CodeInvalidArgument, "请求体解析失败")
		return
	}

	record, err := s.service.Submit(r.Context(), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	// wait=true 时同步等待意图到达终态后再返回。
	if r.URL.Query().Get("wait") == "true" {
		final, err := s.service.WaitUntilCompleted(r.Context(), record.ID, 500*time.Millisecond)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, final)
		return
	}

	writeJSON(w, http.StatusAccepted, record)
}

// handleListIntents 返回符合过滤条件的意图列表。
func (s *Server) handleListIntents(w http.ResponseWriter, r *http.Request) {
	if s.service == nil {
		http.Error(w, "意图服务未初始化", http.StatusServiceUnavailable)
		return
	}

	opts, err := listOptionsFromQuery(r)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	records, err := s.service.List(r.Context(), opts...)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

// handleIntentDetail 处理 /api/v1/intents/{id} 与 /api/v1/intents/stats。
func (s *Server) handleIntentDetail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "仅支持 GET", http.StatusMethodNotAllowed)
		return
	}
	if s.service == nil {
		http.Error(w, "意图服务未初始化", http.StatusServiceUnavailable)
		return
	}

	id := strings.TrimPrefix(r.URL.Path, "/api/v1/intents/")
	id = strings.Trim(id, "/")
	if id == "" {
		writeError(w, http.StatusBadRequest, xerrors.CodeInvalidArgument, "缺少意图 ID")
		return
	}

	if id == "stats" {
		opts, err := listOptionsFromQuery(r)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		stats, err := s.service.Stats(r.Context(), opts...)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, stats)
		return
	}

	record, err := s.service.Get(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// listOptionsFromQuery 将查询参数转换为列表过滤条件。
func listOptionsFromQuery(r *http.Request) ([]intent.ListOption, error) {
	query := r.URL.Query()
	var opts []intent.ListOption

	if raw := query.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			return nil, xerrors.New(xerrors.CodeInvalidArgument, "limit 必须为正整数")
		}
		opts = append(opts, intent.WithLimit(limit))
	}
	if raw := query.Get("offset"); raw != "" {
		offset, err := strconv.Atoi(raw)
		if err != nil || offset < 0 {
			return nil, xerrors.New(xerrors.CodeInvalidArgument, "offset 不能为负数")
		}
		opts = append(opts, intent.WithOffset(offset))
	}
	if raw := query.Get("status"); raw != "" {
		var statuses []intent.Status
		for _, item := range strings.Split(raw, ",") {
			status := intent.Status(strings.TrimSpace(item))
			if status == "" {
				continue
			}
			if !intent.IsValidStatus(status) {
				return nil, xerrors.New(xerrors.CodeInvalidArgument, "非法的状态过滤值: "+string(status))
			}
			statuses = append(statuses, status)
		}
		if len(statuses) > 0 {
			opts = append(opts, intent.WithStatuses(statuses...))
		}
	}
	if raw := query.Get("kind"); raw != "" {
		var kinds []string
		for _, item := range strings.Split(raw, ",") {
			if kind := strings.TrimSpace(item); kind != "" {
				kinds = append(kinds, kind)
			}
		}
		if len(kinds) > 0 {
			opts = append(opts, intent.WithKinds(kinds...))
		}
	}
	if wallet := strings.TrimSpace(query.Get("wallet")); wallet != "" {
		opts = append(opts, intent.WithWallet(wallet))
	}
	if poolID := strings.TrimSpace(query.Get("pool_id")); poolID != "" {
		opts = append(opts, intent.WithPoolID(poolID))
	}
	if order := strings.TrimSpace(query.Get("order")); order == "asc" {
		opts = append(opts, intent.WithSortOrder(intent.SortByUpdatedAsc))
	}
	return opts, nil
}

// errorBody 是 API 返回错误时的统一结构。
type errorBody struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code xerrors.Code, message string) {
	var body errorBody
	body.Error.Code = string(code)
	body.Error.Message = message
	writeJSON(w, status, body)
}

// writeServiceError 将业务错误码映射到 HTTP 状态码。
func writeServiceError(w http.ResponseWriter, err error) {
	code := xerrors.CodeOf(err)
	status := http.StatusInternalServerError
	switch code {
	case intent.CodeIntentNotFound, xerrors.CodeNotFound:
		status = http.StatusNotFound
	case xerrors.CodeInvalidArgument, intent.CodeIntentValidation:
		status = http.StatusBadRequest
	case intent.CodeIntentConflict, xerrors.CodeConflict:
		status = http.StatusConflict
	case xerrors.CodeInitializationFailure:
		status = http.StatusServiceUnavailable
	}
	writeError(w, status, code, err.Error())
}

// withAccess 校验访问令牌并记录审计日志与请求指标。
// 未配置令牌时跳过鉴权，只保留审计与指标。
func (s *Server) withAccess(handlerName string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		if len(s.tokens) > 0 {
			token := bearerToken(r.Header.Get("Authorization"))
			if _, ok := s.tokens[token]; !ok {
				status := http.StatusUnauthorized
				http.Error(w, http.StatusText(status), status)
				logger.Audit().Warn("access_denied",
					"path", r.URL.Path,
					"method", r.Method,
					"status", status,
				)
				metrics.ObserveHTTPRequest(handlerName, r.Method, status, time.Since(start))
				return
			}
		}

		aw := &auditWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(aw, r)
		duration := time.Since(start)
		logger.Audit().Info("api_request",
			"handler", handlerName,
			"method", r.Method,
			"path", r.URL.Path,
			"status", aw.status,
			"duration_ms", duration.Milliseconds(),
		)
		metrics.ObserveHTTPRequest(handlerName, r.Method, aw.status, duration)
	})
}

func bearerToken(header string) string {
	const prefix = "Bearer "
	if len(header) > len(prefix) && strings.EqualFold(header[:len(prefix)], prefix) {
		return strings.TrimSpace(header[len(prefix):])
	}
	return ""
}

// auditWriter 包装 http.ResponseWriter 以捕获响应状态码。
type auditWriter struct {
	http.ResponseWriter
	status int
}

// WriteHeader 捕获响应状态码并调用底层实现。
func (w *auditWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
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

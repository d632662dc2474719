package snapshot

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/dep2p/hl-bootstrap/internal/util/logger"
)

var log = logger.Logger("snapshot")

// Server 快照 HTTP 服务
type Server struct {
	addr        string
	dir         string
	nodeInfoURL string

	client   *http.Client
	server   *http.Server
	listener net.Listener

	running bool
	mu      sync.Mutex
}

// NewServer 创建快照服务
func NewServer(addr, dir, nodeInfoURL string) *Server {
	return &Server{
		addr:        addr,
		dir:         dir,
		nodeInfoURL: nodeInfoURL,
		client:      &http.Client{Timeout: 60 * time.Second},
	}
}

// Start 启动服务
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/snapshot", s.handleSnapshot)
	mux.Handle("/files/", http.StripPrefix("/files/", s.readOnly(http.FileServer(http.Dir(s.dir)))))

	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	s.listener = listener

	s.server = &http.Server{
		Handler:     mux,
		ReadTimeout: 10 * time.Second,
		// 流式返回大文件，不设置写超时
	}

	go func() {
		if err := s.server.Serve(listener); err != nil && err != http.ErrServerClosed {
			log.Error("快照服务异常退出", "err", err)
		}
	}()

	s.running = true
	log.Info("快照服务已启动", "addr", listener.Addr().String(), "dir", s.dir)
	return nil
}

// Stop 停止服务
func (s *Server) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		return err
	}

	s.running = false
	log.Info("快照服务已停止")
	return nil
}

// Addr 返回实际监听地址
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// readOnly 限制静态文件服务只响应 GET/HEAD
func (s *Server) readOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// handleSnapshot 处理快照请求
func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	req, err := parseRequest(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	outPath, err := FilePath(s.dir, req.Type)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	if err := s.requestNodeSnapshot(r.Context(), req, outPath); err != nil {
		log.Error("触发节点快照失败", "type", req.Type, "err", err)
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}

	if !req.StreamContents {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"path": outPath})
		return
	}

	f, err := os.Open(outPath)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	defer func() { _ = f.Close() }()

	w.Header().Set("Content-Type", "application/json")
	if _, err := io.Copy(w, f); err != nil {
		log.Warn("快照流式传输中断", "path", outPath, "err", err)
	}
}

// requestNodeSnapshot 让节点把快照写到 outPath
func (s *Server) requestNodeSnapshot(ctx context.Context, req Request, outPath string) error {
	body, err := json.Marshal(nodePayload(req, outPath))
	if err != nil {
		return err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.nodeInfoURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("节点 RPC 请求失败: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("节点 RPC 返回非预期状态码: %s", resp.Status)
	}

	return nil
}

// parseRequest 从查询参数解析快照请求
func parseRequest(r *http.Request) (Request, error) {
	q := r.URL.Query()

	req := Request{
		Type:                  q.Get("type"),
		IncludeHeightInOutput: true,
	}
	if !ValidType(req.Type) {
		return req, fmt.Errorf("不支持的快照类型 '%s'", req.Type)
	}

	var err error
	if v := q.Get("includeUsers"); v != "" {
		if req.IncludeUsers, err = strconv.ParseBool(v); err != nil {
			return req, fmt.Errorf("includeUsers: %w", err)
		}
	}
	if v := q.Get("includeTriggerOrders"); v != "" {
		if req.IncludeTriggerOrders, err = strconv.ParseBool(v); err != nil {
			return req, fmt.Errorf("includeTriggerOrders: %w", err)
		}
	}
	if v := q.Get("includeHeightInOutput"); v != "" {
		if req.IncludeHeightInOutput, err = strconv.ParseBool(v); err != nil {
			return req, fmt.Errorf("includeHeightInOutput: %w", err)
		}
	}
	if v := q.Get("streamContents"); v != "" {
		if req.StreamContents, err = strconv.ParseBool(v); err != nil {
			return req, fmt.Errorf("streamContents: %w", err)
		}
	}

	return req, nil
}

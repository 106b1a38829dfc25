// Package feedserver is a development feed origin: it serves per-address
// websocket feeds and accepts posts over a small REST API.
package feedserver

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/feedwatch/feedwatch/internal/config"
	"github.com/golang/glog"
	"github.com/gorilla/websocket"
	"github.com/juju/errors"
	"github.com/shirou/gopsutil/v3/process"
)

const maxRequestBody = 1 << 20

type Server struct {
	hub            *Hub
	feeds          map[string]bool
	allowUnknown   bool
	allowedOrigins map[string]bool
	allowedHosts   map[string]bool
	authToken      string
	started        time.Time
	proc           *process.Process
}

// NewServer creates a server publishing through hub.
func NewServer(cfg config.ServerConfig, hub *Hub) *Server {
	s := &Server{
		hub:            hub,
		feeds:          make(map[string]bool),
		allowUnknown:   cfg.AllowUnknown,
		allowedOrigins: make(map[string]bool),
		allowedHosts:   make(map[string]bool),
		authToken:      cfg.AuthToken,
		started:        time.Now(),
	}

	for _, f := range cfg.Feeds {
		if f = strings.TrimSpace(f); f != "" {
			s.feeds[f] = true
		}
	}

	for _, origin := range cfg.AllowedOrigins {
		trimmed := strings.TrimSpace(origin)
		if trimmed == "" {
			continue
		}
		s.allowedOrigins[trimmed] = true
		if parsed, err := url.Parse(trimmed); err == nil && parsed.Host != "" {
			s.allowedHosts[parsed.Host] = true
		}
	}

	if p, err := process.NewProcess(int32(os.Getpid())); err == nil {
		s.proc = p
	} else {
		glog.Warningf("process stats unavailable: %v", err)
	}

	return s
}

// Known reports whether address may be subscribed to.
func (s *Server) Known(address string) bool {
	return s.allowUnknown || s.feeds[address]
}

func (s *Server) SetupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/feed/", s.handleFeed)
	mux.HandleFunc("/api/feed/", s.handleFeedRoutes)
	mux.HandleFunc("/api/health", s.handleHealth)
}

// Handler returns the routes wrapped with security headers.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.SetupRoutes(mux)
	return securityHeaders(mux)
}

func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Content-Security-Policy", "default-src 'self'")
		next.ServeHTTP(w, r)
	})
}

// addressFrom extracts the single escaped path segment after prefix.
func addressFrom(r *http.Request, prefix string) (string, string, error) {
	rest := strings.TrimPrefix(r.URL.EscapedPath(), prefix)
	parts := strings.SplitN(rest, "/", 2)
	address, err := url.PathUnescape(parts[0])
	if err != nil {
		return "", "", errors.NotValidf("feed address %q", parts[0])
	}
	if address == "" {
		return "", "", errors.NotValidf("empty feed address")
	}
	tail := ""
	if len(parts) == 2 {
		tail = parts[1]
	}
	return address, tail, nil
}

func (s *Server) handleFeed(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	address, tail, err := addressFrom(r, "/feed/")
	if err != nil || tail != "" {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: s.checkOrigin,
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		glog.Warningf("ws upgrade error: %v", err)
		return
	}

	if !s.Known(address) {
		glog.Infof("feed %q: unknown, rejecting %s", address, r.RemoteAddr)
		rejectFeed(conn, msgFeedNotFound, websocket.CloseNormalClosure)
		return
	}

	c, err := s.hub.AddClient(address, conn)
	if err != nil {
		glog.Warningf("feed %q: %v", address, err)
		rejectFeed(conn, err.Error(), websocket.CloseTryAgainLater)
		return
	}
	glog.Infof("feed %q: subscriber connected: %s", address, r.RemoteAddr)

	go func() {
		defer func() {
			s.hub.RemoveClient(c)
			glog.Infof("feed %q: subscriber disconnected: %s", address, r.RemoteAddr)
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

// rejectFeed sends an in-band error frame and closes conn.
func rejectFeed(conn *websocket.Conn, message string, code int) {
	defer conn.Close()
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(ErrorFrame{Error: true, Message: message}); err != nil {
		return
	}
	conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, ""), time.Now().Add(writeWait))
	// Wait briefly for the peer's close reply so the frame is not reset.
	conn.SetReadDeadline(time.Now().Add(time.Second))
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *Server) handleFeedRoutes(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	// Parse: /api/feed/{address}/posts
	address, tail, err := addressFrom(r, "/api/feed/")
	if err != nil {
		http.Error(w, "invalid feed address", http.StatusBadRequest)
		return
	}
	if tail != "posts" {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	s.handlePublish(w, r, address)
}

func (s *Server) handlePublish(w http.ResponseWriter, r *http.Request, address string) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !s.Known(address) {
		http.Error(w, msgFeedNotFound, http.StatusNotFound)
		return
	}

	var req PublishRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxRequestBody)).Decode(&req); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}

	n := s.hub.Publish(address, req.HTML)
	glog.V(1).Infof("feed %q: post delivered to %d subscribers", address, n)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.Health())
}

// Health snapshots subscriber counts and process usage.
func (s *Server) Health() HealthResponse {
	h := HealthResponse{
		Feeds:       s.hub.Counts(),
		Subscribers: s.hub.ClientCount(),
		Uptime:      time.Since(s.started).Round(time.Second).String(),
	}
	if s.proc != nil {
		if mem, err := s.proc.MemoryInfo(); err == nil {
			h.RSSBytes = mem.RSS
		}
		if cpu, err := s.proc.CPUPercent(); err == nil {
			h.CPUPercent = cpu
		}
	}
	return h
}

func (s *Server) authorize(r *http.Request) bool {
	if s.authToken == "" {
		return true
	}

	if r.URL.Query().Get("token") == s.authToken {
		return true
	}

	if r.Header.Get("X-Feedwatch-Token") == s.authToken {
		return true
	}

	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") && strings.TrimPrefix(auth, "Bearer ") == s.authToken {
		return true
	}

	return false
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}

	if len(s.allowedOrigins) > 0 {
		if s.allowedOrigins[origin] {
			return true
		}
		if parsed, err := url.Parse(origin); err == nil && parsed.Host != "" {
			return s.allowedHosts[parsed.Host]
		}
		return false
	}

	parsed, err := url.Parse(origin)
	if err != nil || parsed.Host == "" {
		return false
	}

	host := parsed.Hostname()
	return parsed.Host == r.Host || host == "localhost" || host == "127.0.0.1" || host == "::1"
}

// ListenAndServe serves handler until the server fails.
func ListenAndServe(host string, port int, handler http.Handler) error {
	addr := fmt.Sprintf("%s:%d", host, port)
	glog.Infof("Feed origin listening on %s", addr)
	return errors.Trace(http.ListenAndServe(addr, handler))
}

package server

import (
	"bufio"
	"bytes"
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"io/fs"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/NLCLC-CM/microbit/internal/diag"
	"github.com/NLCLC-CM/microbit/internal/live"
	"github.com/NLCLC-CM/microbit/internal/message"
	"github.com/NLCLC-CM/microbit/internal/metrics"
	"github.com/NLCLC-CM/microbit/internal/sinks"
	"github.com/NLCLC-CM/microbit/pkg/httperror"
	"github.com/NLCLC-CM/microbit/pkg/markdown"
	"github.com/NLCLC-CM/microbit/pkg/wire"
)

//go:embed templates/*
var templatesFS embed.FS

//go:embed static/*
var staticFS embed.FS

// MaxFormBytes limits the body of a message submission
const MaxFormBytes = 16 << 10

const (
	liveBuffer = 64
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
	writeWait  = 10 * time.Second
)

// Sender accepts messages submitted through the web form
type Sender interface {
	Send(msg message.Message) error
}

// Options wires the server to the rest of the relay
type Options struct {
	Store  *sinks.Store
	Live   *live.Hub
	Sender Sender
	Clock  clock.Clock
	// Stats builds the diagnostics report. Optional.
	Stats func() diag.Report
}

type Server struct {
	tmpl   *template.Template
	store  *sinks.Store
	live   *live.Hub
	sender Sender
	clk    clock.Clock
	stats  func() diag.Report
}

func New(opts Options) (*Server, error) {
	if opts.Store == nil {
		return nil, errors.New("server needs a store")
	}
	if opts.Sender == nil {
		return nil, errors.New("server needs a sender")
	}
	if opts.Live == nil {
		opts.Live = live.NewHub()
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}

	funcMap := template.FuncMap{
		"markdown":     markdown.Inline,
		"formatTime":   formatTime,
		"formatUptime": formatUptime,
	}
	tmpl, err := template.New("").Funcs(funcMap).ParseFS(templatesFS, "templates/*.html")
	if err != nil {
		return nil, err
	}

	return &Server{
		tmpl:   tmpl,
		store:  opts.Store,
		live:   opts.Live,
		sender: opts.Sender,
		clk:    opts.Clock,
		stats:  opts.Stats,
	}, nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Local().Format("15:04:05")
}

// formatUptime renders a duration like "3h 12m" or "45s"
func formatUptime(d time.Duration) string {
	seconds := int(d.Seconds())
	if seconds < 60 {
		return fmt.Sprintf("%ds", seconds)
	}
	minutes := seconds / 60
	if minutes < 60 {
		return fmt.Sprintf("%dm %ds", minutes, seconds%60)
	}
	hours := minutes / 60
	if hours < 24 {
		return fmt.Sprintf("%dh %dm", hours, minutes%60)
	}
	return fmt.Sprintf("%dd %dh", hours/24, hours%24)
}

// handlerFunc is the signature of all page handlers
type handlerFunc func(context.Context, *http.Request) ([]byte, error)

// wrapHandler adapts a handlerFunc to http.HandlerFunc
func (s *Server) wrapHandler(h handlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		data, err := h(r.Context(), r)
		if err != nil {
			var cte *contentTypeError
			if errors.As(err, &cte) {
				w.Header().Set("Content-Type", cte.contentType)
				_, _ = w.Write(cte.data)
				return
			}
			var he httperror.HTTPError
			if errors.As(err, &he) {
				slog.Warn("HTTP handler error",
					"method", r.Method,
					"path", r.URL.Path,
					"status", he.StatusCode,
					"error", he.Message)
				s.writeError(w, r, he)
				return
			}
			slog.Error("HTTP handler error",
				"method", r.Method,
				"path", r.URL.Path,
				"status", http.StatusInternalServerError,
				"error", err.Error())
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		if len(data) > 0 {
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			_, _ = w.Write(data)
		}
	}
}

// writeError renders error.html, or only the message for htmx requests
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, he httperror.HTTPError) {
	if r.Header.Get("HX-Request") == "true" {
		http.Error(w, he.Message, he.StatusCode)
		return
	}

	title := http.StatusText(he.StatusCode)
	if title == "" {
		title = "Error"
	}
	var buf bytes.Buffer
	err := s.tmpl.ExecuteTemplate(&buf, "error.html", map[string]interface{}{
		"StatusCode": he.StatusCode,
		"Title":      title,
		"Message":    he.Message,
		"BasePath":   getBasePath(r),
	})
	if err != nil {
		http.Error(w, he.Message, he.StatusCode)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(he.StatusCode)
	_, _ = w.Write(buf.Bytes())
}

// contentTypeError represents a response with a specific content type
type contentTypeError struct {
	contentType string
	data        []byte
}

func (e *contentTypeError) Error() string {
	return fmt.Sprintf("response with content-type: %s", e.contentType)
}

// loggingMiddleware logs and counts each HTTP request
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		duration := time.Since(start)
		metrics.HTTPRequestsTotal.WithLabelValues(r.Method, strconv.Itoa(wrapped.statusCode)).Inc()
		metrics.HTTPRequestDuration.WithLabelValues(r.Method).Observe(duration.Seconds())
		slog.Debug("HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", wrapped.statusCode,
			"duration_ms", duration.Milliseconds(),
		)
	})
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Hijack implements http.Hijacker to support WebSocket upgrades
func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if hijacker, ok := rw.ResponseWriter.(http.Hijacker); ok {
		return hijacker.Hijack()
	}
	return nil, nil, fmt.Errorf("underlying ResponseWriter does not support hijacking")
}

// Flush implements http.Flusher to support streaming
func (rw *responseWriter) Flush() {
	if flusher, ok := rw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func (s *Server) SetupRoutes() http.Handler {
	mux := http.NewServeMux()

	static, err := fs.Sub(staticFS, "static")
	if err != nil {
		panic(err)
	}
	mux.Handle("GET /static/", http.StripPrefix("/static/", http.FileServer(http.FS(static))))

	mux.HandleFunc("GET /{$}", s.wrapHandler(s.handleIndex))
	mux.HandleFunc("GET /messages", s.wrapHandler(s.hxHandleMessages))
	mux.HandleFunc("GET /messages.json", s.wrapHandler(s.jsonHandleMessages))
	mux.HandleFunc("POST /message", s.wrapHandler(s.hxHandleSubmit))
	mux.HandleFunc("GET /stats", s.wrapHandler(s.handleStats))
	mux.HandleFunc("GET /healthz", s.wrapHandler(s.handleHealthz))

	// Live push
	mux.HandleFunc("GET /events", s.handleEvents)
	mux.HandleFunc("GET /ws", s.handleWebSocket)

	mux.Handle("GET /metrics", promhttp.Handler())

	return s.loggingMiddleware(mux)
}

func (s *Server) render(name string, data any) ([]byte, error) {
	var buf bytes.Buffer
	if err := s.tmpl.ExecuteTemplate(&buf, name, data); err != nil {
		return nil, fmt.Errorf("failed to render %s: %w", name, err)
	}
	return buf.Bytes(), nil
}

func (s *Server) handleIndex(ctx context.Context, r *http.Request) ([]byte, error) {
	messages := s.store.Snapshot()
	return s.render("index.html", map[string]interface{}{
		"Messages": messages,
		"Count":    len(messages),
		"Author":   "",
		"BasePath": getBasePath(r),
	})
}

// jsonHandleMessages returns the messages after the first `after`, for clients
// polling instead of holding a live connection
func (s *Server) jsonHandleMessages(ctx context.Context, r *http.Request) ([]byte, error) {
	after := 0
	if raw := r.URL.Query().Get("after"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return nil, httperror.BadRequest("Invalid after value %q", raw)
		}
		after = n
	}

	messages := s.store.Since(after)
	if messages == nil {
		messages = []message.Message{}
	}
	data, err := json.Marshal(struct {
		Messages []message.Message `json:"messages"`
		Next     int               `json:"next"` // pass as after on the next poll
	}{
		Messages: messages,
		Next:     after + len(messages),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode messages: %w", err)
	}
	return nil, &contentTypeError{contentType: "application/json", data: data}
}

// hxHandleMessages returns the message list partial
func (s *Server) hxHandleMessages(ctx context.Context, r *http.Request) ([]byte, error) {
	messages := s.store.Snapshot()
	return s.render("hx-messages.html", map[string]interface{}{
		"Messages": messages,
		"Count":    len(messages),
	})
}

// hxHandleSubmit sends a message from the web form straight to the distribution
// channel. The reassembly buffer is not involved; the form posts whole records.
func (s *Server) hxHandleSubmit(ctx context.Context, r *http.Request) ([]byte, error) {
	r.Body = http.MaxBytesReader(nil, r.Body, MaxFormBytes)
	if err := r.ParseForm(); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, httperror.HTTPError{
				StatusCode: http.StatusRequestEntityTooLarge,
				Message:    fmt.Sprintf("Message larger than %d bytes", MaxFormBytes),
			}
		}
		return nil, httperror.BadRequest("Invalid form: %v", err)
	}

	author := strings.TrimSpace(r.FormValue("author"))
	if author == "" {
		author = wire.UnknownAuthor
	}
	body := strings.TrimSpace(r.FormValue("message"))
	if body == "" {
		return nil, httperror.BadRequest("Message is required")
	}

	msg := message.New(wire.Record{Author: author, Body: body}, message.SourceWeb, s.clk.Now())
	if err := s.sender.Send(msg); err != nil {
		metrics.SendFailures.WithLabelValues(string(message.SourceWeb)).Inc()
		slog.Error("Failed to send web message", "author", author, "error", err)
		return nil, httperror.BadRequest("error")
	}
	metrics.RecordsCompleted.WithLabelValues(string(message.SourceWeb)).Inc()
	slog.Info("Web message sent", "id", msg.ID, "author", author)

	return s.render("hx-message-form.html", map[string]interface{}{
		"Author":   r.FormValue("author"),
		"BasePath": getBasePath(r),
	})
}

func (s *Server) handleStats(ctx context.Context, r *http.Request) ([]byte, error) {
	report := diag.Report{
		Stored:      s.store.Len(),
		LiveClients: s.live.ClientCount(),
		LiveDropped: s.live.Dropped(),
	}
	if s.stats != nil {
		report = s.stats()
	}
	if report.GeneratedAt.IsZero() {
		report.GeneratedAt = s.clk.Now()
	}

	var uptime time.Duration
	if report.Process != nil {
		uptime = report.Process.Uptime(report.GeneratedAt)
	}

	return s.render("stats.html", map[string]interface{}{
		"Report":   report,
		"Uptime":   uptime,
		"BasePath": getBasePath(r),
	})
}

func (s *Server) handleHealthz(ctx context.Context, r *http.Request) ([]byte, error) {
	return nil, &contentTypeError{contentType: "text/plain; charset=utf-8", data: []byte("ok\n")}
}

// handleEvents streams completed messages as Server-Sent Events
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	client := live.NewClient("sse", liveBuffer)
	s.live.RegisterClient(client)
	defer func() {
		s.live.UnregisterClient(client.ID)
		close(client.Done)
	}()

	_, _ = fmt.Fprint(w, ": connected\n\n")
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case event := <-client.EventChan:
			data, err := live.FormatSSE(event)
			if err != nil {
				slog.Error("Failed to format event", "error", err)
				continue
			}
			if _, err := w.Write(data); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// WebSocket upgrader
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 8192,
	CheckOrigin: func(r *http.Request) bool {
		// Same-origin only; native clients send no Origin header
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		host := r.Host
		if origin == "http://"+host || origin == "https://"+host {
			return true
		}
		slog.Warn("Rejected WebSocket connection from unauthorized origin", "origin", origin, "host", host)
		return false
	},
}

// handleWebSocket streams completed messages as JSON events
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("Failed to upgrade to WebSocket", "error", err)
		return
	}
	defer func() { _ = ws.Close() }()

	client := live.NewClient("ws", liveBuffer)
	s.live.RegisterClient(client)
	defer s.live.UnregisterClient(client.ID)

	// The reader only handles control frames and notices the peer going away
	go func() {
		defer close(client.Done)
		ws.SetReadLimit(512)
		_ = ws.SetReadDeadline(time.Now().Add(pongWait))
		ws.SetPongHandler(func(string) error {
			return ws.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			_ = ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
				time.Now().Add(writeWait))
			return
		case <-client.Done:
			return
		case event := <-client.EventChan:
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteJSON(event); err != nil {
				slog.Debug("WebSocket write failed", "clientID", client.ID, "error", err)
				return
			}
		case <-ticker.C:
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func getBasePath(r *http.Request) string {
	// Check for reverse proxy header (standard convention)
	if prefix := r.Header.Get("X-Forwarded-Prefix"); prefix != "" {
		return strings.TrimSuffix(prefix, "/")
	}
	return ""
}

// Start serves until ctx is cancelled, then shuts down gracefully
func (s *Server) Start(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.SetupRoutes(),
		ReadHeaderTimeout: 10 * time.Second,
		// Streaming handlers end when ctx is cancelled
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Starting web server", "url", "http://"+addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("web server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("Shutting down web server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("web server shutdown: %w", err)
	}
	return nil
}

// cmd/hookbot/health.go
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"runtime"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	maxIncidentsPerRequest = 500
	wsWriteTimeout         = 5 * time.Second
	wsSendBuffer           = 32
)

// StatusServer exposes health, recent incidents, metrics and a live
// incident feed over HTTP.
type StatusServer struct {
	incidents *IncidentLog
	metrics   *PipelineMetrics
	store     interface{ HealthCheck(context.Context) error }
	startTime time.Time

	upgrader websocket.Upgrader
	mu       sync.RWMutex
	clients  map[*wsClient]struct{}

	httpSrv *http.Server
}

// wsClient is one feed subscriber. Messages are queued on send and
// written by the client's own writeLoop, so a slow reader never blocks
// the caller of Record.
type wsClient struct {
	conn *websocket.Conn
	send chan interface{}
	done chan struct{}
	once sync.Once
}

func newWSClient(conn *websocket.Conn) *wsClient {
	return &wsClient{
		conn: conn,
		send: make(chan interface{}, wsSendBuffer),
		done: make(chan struct{}),
	}
}

func (c *wsClient) close() {
	c.once.Do(func() {
		close(c.done)
		if c.conn != nil {
			c.conn.Close()
		}
	})
}

// NewStatusServer creates a status server. store may be nil.
func NewStatusServer(incidents *IncidentLog, metrics *PipelineMetrics, store interface{ HealthCheck(context.Context) error }) *StatusServer {
	return &StatusServer{
		incidents: incidents,
		metrics:   metrics,
		store:     store,
		startTime: time.Now(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		clients: make(map[*wsClient]struct{}),
	}
}

// Router builds the HTTP routes
func (s *StatusServer) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/incidents", s.handleIncidents).Methods(http.MethodGet)
	r.HandleFunc("/ws", s.handleWebsocket)
	if s.metrics != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.metrics.Registry(), promhttp.HandlerOpts{}))
	}
	return r
}

// Start serves on port until ctx is cancelled
func (s *StatusServer) Start(ctx context.Context, port int) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.mu.Lock()
	s.httpSrv = srv
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			Log().Warning("Status server shutdown error: %v", err)
		}
		s.closeClients()
	}()

	Log().Info("Starting status server on %s", srv.Addr)
	err := srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Record broadcasts an incident to every connected feed client
func (s *StatusServer) Record(i Incident) {
	s.mu.RLock()
	clients := make([]*wsClient, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.RUnlock()

	msg := map[string]interface{}{"type": "incident", "data": i}
	for _, c := range clients {
		select {
		case c.send <- msg:
		default:
			Log().Debug("Dropping incident feed client that fell %d messages behind", wsSendBuffer)
			s.removeClient(c)
		}
	}
}

func (s *StatusServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	status := "ok"
	response := map[string]interface{}{
		"version":    AppVersion,
		"uptime":     FormatDuration(time.Since(s.startTime)),
		"goroutines": runtime.NumGoroutine(),
		"memory_mb":  float64(mem.Alloc) / 1024 / 1024,
		"logging":    Log().GetStats(),
	}
	if s.incidents != nil {
		response["outcomes"] = s.incidents.Counts()
	}
	if s.store != nil {
		if err := s.store.HealthCheck(r.Context()); err != nil {
			status = "degraded"
			response["database"] = err.Error()
		} else {
			response["database"] = "ok"
		}
	}
	response["status"] = status

	respondWithJSON(w, http.StatusOK, response)
}

func (s *StatusServer) handleIncidents(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			respondWithJSON(w, http.StatusBadRequest, map[string]string{"error": "limit must be a positive integer"})
			return
		}
		limit = n
	}
	if limit > maxIncidentsPerRequest {
		limit = maxIncidentsPerRequest
	}

	var list []Incident
	if s.incidents != nil {
		list = s.incidents.Recent(limit)
	}
	if list == nil {
		list = []Incident{}
	}
	respondWithJSON(w, http.StatusOK, map[string]interface{}{"incidents": list})
}

func (s *StatusServer) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		Log().Warning("Error upgrading to websocket: %v", err)
		return
	}

	client := newWSClient(conn)
	if s.incidents != nil {
		client.send <- map[string]interface{}{"type": "init", "data": s.incidents.Recent(0)}
	}
	s.mu.Lock()
	s.clients[client] = struct{}{}
	s.mu.Unlock()

	go s.writeLoop(client)

	// Drain reads so close frames are processed.
	go func() {
		defer s.removeClient(client)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

// writeLoop owns every write to the client's connection
func (s *StatusServer) writeLoop(c *wsClient) {
	defer s.removeClient(c)
	for {
		select {
		case <-c.done:
			return
		case msg := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := c.conn.WriteJSON(msg); err != nil {
				Log().Debug("Dropping incident feed client: %v", err)
				return
			}
		}
	}
}

func (s *StatusServer) removeClient(c *wsClient) {
	s.mu.Lock()
	delete(s.clients, c)
	s.mu.Unlock()
	c.close()
}

func (s *StatusServer) closeClients() {
	s.mu.Lock()
	clients := s.clients
	s.clients = make(map[*wsClient]struct{})
	s.mu.Unlock()
	for c := range clients {
		c.close()
	}
}

func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error":"Failed to marshal JSON response"}`))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}

// FormatDuration renders d as "1d 2h 3m" style text
func FormatDuration(d time.Duration) string {
	d = d.Round(time.Minute)
	days := d / (24 * time.Hour)
	d -= days * 24 * time.Hour
	hours := d / time.Hour
	d -= hours * time.Hour
	minutes := d / time.Minute

	if days > 0 {
		return fmt.Sprintf("%dd %dh %dm", days, hours, minutes)
	}
	if hours > 0 {
		return fmt.Sprintf("%dh %dm", hours, minutes)
	}
	return fmt.Sprintf("%dm", minutes)
}

// Package gateway serves the live measurement API: the latest message per
// port, a websocket stream of every message, Modbus station reads and
// Prometheus metrics.
package gateway

import (
	"encoding/json"
	"net/http"
	"sort"
	"time"

	"github.com/NotCoffee418/sensor_gateway/pkg/meas"
	"github.com/NotCoffee418/sensor_gateway/pkg/modbuspoll"
	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Source is a port that keeps its latest message.
type Source interface {
	Name() string
	GetLatestMeasMsg() *meas.MeasMsg
}

type Server struct {
	sources  map[string]Source
	pollers  map[string]*modbuspoll.Poller
	hub      *Hub
	gatherer prometheus.Gatherer
	upgrader websocket.Upgrader
}

// NewServer builds the API. gatherer may be nil, which disables /metrics.
func NewServer(sources []Source, pollers []*modbuspoll.Poller, hub *Hub, gatherer prometheus.Gatherer) *Server {
	s := &Server{
		sources:  make(map[string]Source, len(sources)),
		pollers:  make(map[string]*modbuspoll.Poller, len(pollers)),
		hub:      hub,
		gatherer: gatherer,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // Allow all origins, the API is read only
			},
		},
	}
	for _, src := range sources {
		s.sources[src.Name()] = src
	}
	for _, p := range pollers {
		s.pollers[p.Name()] = p
	}
	return s
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleIndex)
	mux.HandleFunc("/latest", s.handleLatest)
	mux.HandleFunc("/ws", s.handleWebSocket)
	// May be fast or slow depending on cached response from the station.
	mux.HandleFunc("/modbus", s.handleModbus)
	if s.gatherer != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
	return mux
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) portNames() []string {
	names := make([]string, 0, len(s.sources))
	for name := range s.sources {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "Sensor Gateway API",
		"status":  "running",
		"ports":   s.portNames(),
	})
}

// /latest?port=name, the port may be omitted when only one is configured.
func (s *Server) handleLatest(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("port")
	if name == "" && len(s.sources) == 1 {
		name = s.portNames()[0]
	}
	src, ok := s.sources[name]
	if !ok {
		writeError(w, http.StatusBadRequest, "unknown port, expected one of the configured ports")
		return
	}

	msg := src.GetLatestMeasMsg()
	if msg == nil {
		writeError(w, http.StatusNotFound, "No messages available yet")
		return
	}
	writeJSON(w, http.StatusOK, msg)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warnf("WebSocket upgrade error: %v", err)
		return
	}

	s.hub.Add(conn)

	// Send current messages immediately if available
	for _, name := range s.portNames() {
		if msg := s.sources[name].GetLatestMeasMsg(); msg != nil {
			s.hub.Send(conn, msg)
		}
	}

	// Keep connection alive
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			s.hub.Remove(conn)
			return
		}
	}
}

func (s *Server) handleModbus(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("station")
	if name == "" && len(s.pollers) == 1 {
		for n := range s.pollers {
			name = n
		}
	}
	p, ok := s.pollers[name]
	if !ok {
		writeError(w, http.StatusBadRequest, "unknown modbus station")
		return
	}

	msg, err := p.Read()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, msg)
}

// RunPollers reads every configured station each interval and passes the
// result to publish until stop is closed.
func RunPollers(pollers []*modbuspoll.Poller, interval time.Duration, stop <-chan struct{}, publish func(*meas.MeasMsg)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			for _, p := range pollers {
				if !p.IsModbusConfigured() {
					continue
				}
				msg, err := p.Read()
				if err != nil {
					log.Warn("modbus poll failed", "station", p.Name(), "err", err)
					continue
				}
				publish(msg)
			}
		}
	}
}

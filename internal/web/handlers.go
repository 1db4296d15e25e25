package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"net/http"
	"sync"
	"time"
)

// maxBodyBytes bounds every JSON request body.
const maxBodyBytes = 1 << 10

// MinPressInterval is the shortest allowed gap between two remote starts.
const MinPressInterval = 2 * time.Second

// TargetMover repositions the heat source seen by a simulated sensor.
type TargetMover interface {
	MoveTarget(column, row float64)
	Columns() int
	Rows() int
}

// TargetRequest is the body of POST /target.
type TargetRequest struct {
	Column float64 `json:"column"`
	Row    float64 `json:"row"`
}

// ValidateTarget checks that the requested blob center lies on the frame.
func ValidateTarget(req TargetRequest, columns, rows int) error {
	if math.IsNaN(req.Column) || math.IsInf(req.Column, 0) || req.Column < 0 || req.Column >= float64(columns) {
		return fmt.Errorf("column must be in [0, %d)", columns)
	}
	if math.IsNaN(req.Row) || math.IsInf(req.Row, 0) || req.Row < 0 || req.Row >= float64(rows) {
		return fmt.Errorf("row must be in [0, %d)", rows)
	}
	return nil
}

// Handlers holds dependencies for HTTP handlers.
type Handlers struct {
	Broadcaster *StatusBroadcaster
	// Start latches a start press (usually a gpio.RemoteButton).
	Start func()
	// Abort stops the run; the process shuts the turret down safely.
	Abort func()
	// Target is only set when the sensor is simulated.
	Target TargetMover
	// Config is served as JSON by GET /config.
	Config any
	// Metrics serves GET /metrics when set.
	Metrics http.Handler

	staticFS fs.FS
	now      func() time.Time

	mu        sync.Mutex
	lastPress time.Time
	aborted   bool
}

// NewHandlers creates handlers with the given dependencies.
func NewHandlers(broadcaster *StatusBroadcaster, start, abort func(), cfg any, staticFS fs.FS) *Handlers {
	return &Handlers{
		Broadcaster: broadcaster,
		Start:       start,
		Abort:       abort,
		Config:      cfg,
		staticFS:    staticFS,
		now:         time.Now,
	}
}

// HandleConfig returns the running configuration as JSON.
func (h *Handlers) HandleConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Config)
}

// ServeIndex serves the control page (root path only).
func (h *Handlers) ServeIndex(w http.ResponseWriter, r *http.Request) {
	data, err := fs.ReadFile(h.staticFS, "index.html")
	if err != nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(data)
}

// HandleStart handles POST /start: the same as pressing the start button.
func (h *Handlers) HandleStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.Start == nil {
		http.Error(w, "remote start not configured", http.StatusServiceUnavailable)
		return
	}

	h.mu.Lock()
	if h.aborted {
		h.mu.Unlock()
		http.Error(w, "turret aborted", http.StatusConflict)
		return
	}
	now := h.now()
	if !h.lastPress.IsZero() && now.Sub(h.lastPress) < MinPressInterval {
		h.mu.Unlock()
		http.Error(w, "start pressed too recently", http.StatusTooManyRequests)
		return
	}
	h.lastPress = now
	h.mu.Unlock()

	h.Start()
	h.Broadcaster.Broadcast("info", "Remote start pressed")
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "pressed"})
}

// HandleAbort handles POST /abort. Only the first abort is forwarded.
func (h *Handlers) HandleAbort(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.Abort == nil {
		http.Error(w, "abort not configured", http.StatusServiceUnavailable)
		return
	}

	h.mu.Lock()
	first := !h.aborted
	h.aborted = true
	h.mu.Unlock()

	if first {
		h.Abort()
		h.Broadcaster.Broadcast("error", "Abort requested")
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "aborting"})
}

// HandleTarget handles POST /target, moving the simulated heat source.
func (h *Handlers) HandleTarget(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.Target == nil {
		http.Error(w, "sensor is not simulated", http.StatusServiceUnavailable)
		return
	}

	var req TargetRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			http.Error(w, "request body too large", http.StatusRequestEntityTooLarge)
			return
		}
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}
	if err := ValidateTarget(req, h.Target.Columns(), h.Target.Rows()); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	h.Target.MoveTarget(req.Column, req.Row)
	h.Broadcaster.Broadcast("info", fmt.Sprintf("Target moved to column %.1f row %.1f", req.Column, req.Row))
	writeJSON(w, http.StatusOK, req)
}

// HandleStatusStream handles GET /status/stream for SSE.
func (h *Handlers) HandleStatusStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	ch, unsub := h.Broadcaster.Subscribe()
	defer unsub()

	w.Write([]byte(": connected\n\n"))
	flusher.Flush()

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return
			}
			w.Write([]byte("data: " + msg + "\n\n"))
			flusher.Flush()

		case <-ticker.C:
			w.Write([]byte(": heartbeat\n\n"))
			flusher.Flush()

		case <-r.Context().Done():
			return
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

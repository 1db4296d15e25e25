package web

import (
	"bufio"
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"testing/fstest"
	"time"
)

// ---------- ValidateTarget ----------

func TestValidateTarget(t *testing.T) {
	cases := []struct {
		name    string
		req     TargetRequest
		wantErr bool
	}{
		{"center", TargetRequest{16, 12}, false},
		{"origin", TargetRequest{0, 0}, false},
		{"last_pixel", TargetRequest{31.5, 23.5}, false},
		{"column_past_edge", TargetRequest{32, 12}, true},
		{"row_past_edge", TargetRequest{16, 24}, true},
		{"negative_column", TargetRequest{-1, 12}, true},
		{"negative_row", TargetRequest{16, -0.5}, true},
		{"column_NaN", TargetRequest{math.NaN(), 12}, true},
		{"row_+Inf", TargetRequest{16, math.Inf(1)}, true},
		{"column_-Inf", TargetRequest{math.Inf(-1), 12}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateTarget(tc.req, 32, 24)
			if (err != nil) != tc.wantErr {
				t.Errorf("ValidateTarget(%+v) err = %v, wantErr %v", tc.req, err, tc.wantErr)
			}
		})
	}
}

// ---------- Handler helpers ----------

type recordingTarget struct {
	mu       sync.Mutex
	col, row float64
	moves    int
}

func (r *recordingTarget) MoveTarget(column, row float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.col, r.row = column, row
	r.moves++
}

func (r *recordingTarget) Columns() int { return 32 }
func (r *recordingTarget) Rows() int    { return 24 }

type testRig struct {
	h       *Handlers
	presses int
	aborts  int
	now     time.Time
}

func newTestRig() *testRig {
	rig := &testRig{now: time.Unix(1_000, 0)}
	staticFS := fstest.MapFS{
		"index.html": &fstest.MapFile{Data: []byte("<html>turret</html>")},
	}
	rig.h = NewHandlers(
		NewStatusBroadcaster(),
		func() { rig.presses++ },
		func() { rig.aborts++ },
		map[string]any{"controller": map[string]float64{"kp": 1, "kd": 0.1}},
		staticFS,
	)
	rig.h.now = func() time.Time { return rig.now }
	return rig
}

func post(h http.HandlerFunc, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(http.MethodPost, path, nil)
	} else {
		req = httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	h(w, req)
	return w
}

// ---------- HandleStart ----------

func TestHandleStart_Presses(t *testing.T) {
	rig := newTestRig()
	w := post(rig.h.HandleStart, "/start", "")

	if w.Code != http.StatusAccepted {
		t.Errorf("status = %d, want %d", w.Code, http.StatusAccepted)
	}
	if rig.presses != 1 {
		t.Errorf("presses = %d, want 1", rig.presses)
	}
	var resp map[string]string
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp["status"] != "pressed" {
		t.Errorf("response status = %q, want \"pressed\"", resp["status"])
	}
}

func TestHandleStart_GetMethodNotAllowed(t *testing.T) {
	rig := newTestRig()
	w := httptest.NewRecorder()
	rig.h.HandleStart(w, httptest.NewRequest(http.MethodGet, "/start", nil))

	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want %d", w.Code, http.StatusMethodNotAllowed)
	}
	if rig.presses != 0 {
		t.Errorf("presses = %d, want 0", rig.presses)
	}
}

func TestHandleStart_RateLimiting(t *testing.T) {
	rig := newTestRig()

	if w := post(rig.h.HandleStart, "/start", ""); w.Code != http.StatusAccepted {
		t.Fatalf("first press: status = %d", w.Code)
	}
	rig.now = rig.now.Add(MinPressInterval / 2)
	if w := post(rig.h.HandleStart, "/start", ""); w.Code != http.StatusTooManyRequests {
		t.Errorf("second press: status = %d, want %d", w.Code, http.StatusTooManyRequests)
	}
	rig.now = rig.now.Add(MinPressInterval)
	if w := post(rig.h.HandleStart, "/start", ""); w.Code != http.StatusAccepted {
		t.Errorf("third press: status = %d, want %d", w.Code, http.StatusAccepted)
	}
	if rig.presses != 2 {
		t.Errorf("presses = %d, want 2", rig.presses)
	}
}

func TestHandleStart_NilStart(t *testing.T) {
	rig := newTestRig()
	rig.h.Start = nil
	if w := post(rig.h.HandleStart, "/start", ""); w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", w.Code, http.StatusServiceUnavailable)
	}
}

func TestHandleStart_AfterAbort(t *testing.T) {
	rig := newTestRig()
	post(rig.h.HandleAbort, "/abort", "")

	if w := post(rig.h.HandleStart, "/start", ""); w.Code != http.StatusConflict {
		t.Errorf("status = %d, want %d", w.Code, http.StatusConflict)
	}
	if rig.presses != 0 {
		t.Errorf("presses = %d, want 0", rig.presses)
	}
}

// ---------- HandleAbort ----------

func TestHandleAbort_ForwardsOnce(t *testing.T) {
	rig := newTestRig()
	for i := 0; i < 3; i++ {
		if w := post(rig.h.HandleAbort, "/abort", ""); w.Code != http.StatusAccepted {
			t.Fatalf("abort %d: status = %d", i, w.Code)
		}
	}
	if rig.aborts != 1 {
		t.Errorf("aborts = %d, want 1", rig.aborts)
	}
}

func TestHandleAbort_NilAbort(t *testing.T) {
	rig := newTestRig()
	rig.h.Abort = nil
	if w := post(rig.h.HandleAbort, "/abort", ""); w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", w.Code, http.StatusServiceUnavailable)
	}
}

// ---------- HandleTarget ----------

func TestHandleTarget(t *testing.T) {
	cases := []struct {
		name   string
		body   string
		status int
		moves  int
	}{
		{"valid", `{"column":22.5,"row":12}`, http.StatusOK, 1},
		{"off_frame", `{"column":40,"row":12}`, http.StatusBadRequest, 0},
		{"invalid_json", `not json`, http.StatusBadRequest, 0},
		{"unknown_field", `{"column":1,"row":1,"speed":3}`, http.StatusBadRequest, 0},
		{"oversized", `{"column":1,"row":1,"pad":"` + strings.Repeat("x", 2*maxBodyBytes) + `"}`, http.StatusRequestEntityTooLarge, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rig := newTestRig()
			target := &recordingTarget{}
			rig.h.Target = target

			w := post(rig.h.HandleTarget, "/target", tc.body)
			if w.Code != tc.status {
				t.Errorf("status = %d, want %d (%s)", w.Code, tc.status, strings.TrimSpace(w.Body.String()))
			}
			if target.moves != tc.moves {
				t.Errorf("moves = %d, want %d", target.moves, tc.moves)
			}
		})
	}
}

func TestHandleTarget_MovesSource(t *testing.T) {
	rig := newTestRig()
	target := &recordingTarget{}
	rig.h.Target = target

	post(rig.h.HandleTarget, "/target", `{"column":9,"row":4.5}`)

	if target.col != 9 || target.row != 4.5 {
		t.Errorf("target = (%v, %v), want (9, 4.5)", target.col, target.row)
	}
}

func TestHandleTarget_NotSimulated(t *testing.T) {
	rig := newTestRig()
	if w := post(rig.h.HandleTarget, "/target", `{"column":1,"row":1}`); w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", w.Code, http.StatusServiceUnavailable)
	}
}

// ---------- HandleConfig ----------

func TestHandleConfig(t *testing.T) {
	rig := newTestRig()
	w := httptest.NewRecorder()
	rig.h.HandleConfig(w, httptest.NewRequest(http.MethodGet, "/config", nil))

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}
	var got struct {
		Controller struct {
			Kp float64 `json:"kp"`
			Kd float64 `json:"kd"`
		} `json:"controller"`
	}
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Controller.Kp != 1 || got.Controller.Kd != 0.1 {
		t.Errorf("controller = %+v, want kp=1 kd=0.1", got.Controller)
	}
}

// ---------- ServeIndex ----------

func TestServeIndex(t *testing.T) {
	rig := newTestRig()
	w := httptest.NewRecorder()
	rig.h.ServeIndex(w, httptest.NewRequest(http.MethodGet, "/", nil))

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if ct := w.Header().Get("Content-Type"); ct != "text/html; charset=utf-8" {
		t.Errorf("Content-Type = %q, want text/html; charset=utf-8", ct)
	}
	if !strings.Contains(w.Body.String(), "<html>") {
		t.Error("body should contain HTML content")
	}
}

func TestServeIndex_Missing(t *testing.T) {
	rig := newTestRig()
	rig.h.staticFS = fstest.MapFS{}
	w := httptest.NewRecorder()
	rig.h.ServeIndex(w, httptest.NewRequest(http.MethodGet, "/", nil))

	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

// ---------- HandleStatusStream ----------

func TestHandleStatusStream(t *testing.T) {
	rig := newTestRig()
	srv := httptest.NewServer(http.HandlerFunc(rig.h.HandleStatusStream))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL, nil)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET stream: %v", err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q, want text/event-stream", ct)
	}

	reader := bufio.NewReader(resp.Body)
	line, err := reader.ReadString('\n')
	if err != nil {
		t.Fatalf("read preamble: %v", err)
	}
	if line != ": connected\n" {
		t.Errorf("preamble = %q, want \": connected\\n\"", line)
	}

	// The preamble is written after Subscribe, so the client is registered.
	rig.h.Broadcaster.Broadcast("info", "Cycle started")

	for {
		line, err = reader.ReadString('\n')
		if err != nil {
			t.Fatalf("read event: %v", err)
		}
		if strings.HasPrefix(line, "data: ") {
			break
		}
	}
	var evt StatusEvent
	if err := json.Unmarshal([]byte(strings.TrimPrefix(strings.TrimSpace(line), "data: ")), &evt); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if evt.Msg != "Cycle started" {
		t.Errorf("msg = %q, want \"Cycle started\"", evt.Msg)
	}
}

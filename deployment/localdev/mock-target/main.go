// mock-target is a tiny service with toggleable failure modes, used to
// exercise the healing loop end to end in local development. Point the
// service probe at /healthz and the webhook actuators at /admin/*.
package main

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"
)

type target struct {
	mu       sync.Mutex
	mode     string // up | degraded | down
	restarts int
	flushes  int
}

func main() {
	t := &target{mode: "up"}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", t.handleHealthz)
	mux.HandleFunc("/admin/mode", t.handleMode)
	mux.HandleFunc("/admin/restart", t.handleRestart)
	mux.HandleFunc("/admin/clear-cache", t.handleClearCache)
	mux.HandleFunc("/admin/reset-config", t.handleClearCache)

	logger := log.New(log.Writer(), "mock-target ", log.LstdFlags|log.Lmicroseconds)
	srv := &http.Server{
		Addr:    ":9090",
		Handler: logRequests(logger, mux),
	}

	logger.Println("listening on :9090")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("server error: %v", err)
	}
}

func (t *target) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	t.mu.Lock()
	mode := t.mode
	t.mu.Unlock()

	switch mode {
	case "degraded":
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("degraded"))
	case "down":
		// Hang past the probe timeout so the probe reports DOWN.
		time.Sleep(10 * time.Second)
		w.WriteHeader(http.StatusInternalServerError)
	default:
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}
}

// handleMode toggles the failure mode: POST {"mode": "up|degraded|down"}.
func (t *target) handleMode(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		Mode string `json:"mode"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	switch req.Mode {
	case "up", "degraded", "down":
	default:
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	t.mu.Lock()
	t.mode = req.Mode
	t.mu.Unlock()
	writeJSON(w, map[string]any{"mode": req.Mode})
}

// handleRestart simulates a service restart: the target comes back up.
func (t *target) handleRestart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	t.mu.Lock()
	t.mode = "up"
	t.restarts++
	restarts := t.restarts
	t.mu.Unlock()
	writeJSON(w, map[string]any{"restarts": restarts})
}

// handleClearCache succeeds without changing the failure mode, so rules
// whose first candidate is a cache flush get to exercise their fallbacks.
func (t *target) handleClearCache(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	t.mu.Lock()
	t.flushes++
	flushes := t.flushes
	t.mu.Unlock()
	writeJSON(w, map[string]any{"flushes": flushes})
}

func writeJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("encode error: %v", err)
	}
}

func logRequests(logger *log.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)
		logger.Printf("%s %s %d %s", r.Method, r.URL.Path, rw.status, time.Since(start))
	})
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

// Standalone mock server for trying the CLI.
//
// Usage:
//
//	go run ./example/cmd/mockserver
//
// Then in another terminal:
//
//	go run ./cmd/pulsefeed serve -c example/config.yaml
package main

import (
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/goccy/go-json"
)

func main() {
	fmt.Println("Mock stats server starting on :9999")
	fmt.Println("Instances cycle through: ok -> degraded -> down")
	fmt.Println("Press Ctrl+C to stop")
	fmt.Println()

	var (
		states   = make(map[string]*mockState)
		mu       sync.Mutex
		statuses = []string{"ok", "degraded", "down"}
	)

	http.HandleFunc("/stats", func(w http.ResponseWriter, r *http.Request) {
		svc := r.URL.Query().Get("svc")
		env := r.URL.Query().Get("env")
		key := svc + "-" + env

		time.Sleep(time.Duration(50+rand.Intn(150)) * time.Millisecond)

		mu.Lock()
		state, exists := states[key]
		if !exists {
			state = &mockState{
				connections:  20 + rand.Intn(30),
				nextChangeAt: time.Now().Add(time.Duration(20+rand.Intn(41)) * time.Second),
			}
			states[key] = state
		}

		if time.Now().After(state.nextChangeAt) {
			oldStatus := statuses[state.statusIdx]
			state.statusIdx = (state.statusIdx + 1) % len(statuses)
			state.nextChangeAt = time.Now().Add(time.Duration(20+rand.Intn(41)) * time.Second)
			slog.Info("status change", "instance", key, "from", oldStatus, "to", statuses[state.statusIdx])
		}
		state.connections = max(0, state.connections+rand.Intn(11)-5)
		status := statuses[state.statusIdx]
		connections := state.connections
		mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		if status == "down" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"svc":         svc,
			"env":         env,
			"status":      status,
			"connections": connections,
		})
	})

	http.HandleFunc("POST /register", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	if err := http.ListenAndServe(":9999", nil); err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
}

type mockState struct {
	statusIdx    int
	connections  int
	nextChangeAt time.Time
}

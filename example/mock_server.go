package main

import (
	"log/slog"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"github.com/goccy/go-json"
)

// mockState tracks the simulated state of one service instance.
type mockState struct {
	statusIdx    int
	connections  int
	nextChangeAt time.Time
}

// StartMockServer runs a mock stats endpoint and a mock coordinator.
//
// GET /stats?svc=&env= answers with JSON holding a status that cycles every
// 20-60 seconds and a connection count that drifts on every request. The
// "down" status answers 503.
//
// POST /register rejects the first two attempts per caller and accepts
// after that.
func StartMockServer(addr string) {
	var (
		states     = make(map[string]*mockState)
		registered = make(map[string]int)
		mu         sync.Mutex
	)
	statuses := []string{"ok", "degraded", "down"}

	mux := http.NewServeMux()

	mux.HandleFunc("/stats", func(w http.ResponseWriter, r *http.Request) {
		svc := r.URL.Query().Get("svc")
		env := r.URL.Query().Get("env")
		key := svc + "-" + env

		// simulate small latency variance
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
		resp := map[string]any{
			"svc":         svc,
			"env":         env,
			"status":      status,
			"connections": connections,
		}
		if err := json.NewEncoder(w).Encode(resp); err != nil {
			slog.Error("failed to write response", "error", err)
		}
	})

	mux.HandleFunc("POST /register", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			ID string `json:"id"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.ID == "" {
			http.Error(w, "id is required", http.StatusBadRequest)
			return
		}

		mu.Lock()
		registered[body.ID]++
		attempt := registered[body.ID]
		mu.Unlock()

		if attempt <= 2 {
			slog.Info("registration refused", "id", body.ID, "attempt", attempt)
			http.Error(w, "coordinator warming up", http.StatusServiceUnavailable)
			return
		}
		slog.Info("registered", "id", body.ID, "attempt", attempt)
		w.WriteHeader(http.StatusNoContent)
	})

	if err := http.ListenAndServe(addr, mux); err != nil {
		slog.Error("mock server error", "error", err)
	}
}

package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"os"

	mem "learnledger/adapters/memory"
	ws "learnledger/adapters/websocket"
	"learnledger/catalog"
	"learnledger/core"
	"learnledger/engine"
	"learnledger/realtime"
)

func main() {
	// Use readable text logging for development/demo
	textHandler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})
	slog.SetDefault(slog.New(textHandler))

	ctx := context.Background()
	store := mem.New()
	table, err := core.NewPointTable(core.DefaultPointValues())
	if err != nil {
		slog.Error("point table", "error", err)
		os.Exit(1)
	}
	cat, err := catalog.New(catalog.DefaultDefinitions()...)
	if err != nil {
		slog.Error("catalog", "error", err)
		os.Exit(1)
	}
	bus := engine.NewEventBus(engine.DispatchAsync)
	svc := engine.NewDispatcher(store, table, cat, bus)
	hub := realtime.NewHub()

	// Forward ledger events to WebSocket clients
	bus.SubscribeAll(func(ctx context.Context, e core.Event) { hub.Broadcast(ctx, e) })

	http.Handle("/ws", ws.Handler(hub))
	http.HandleFunc("/users/", func(w http.ResponseWriter, r *http.Request) {
		// routes: POST /users/{id}/events, GET /users/{id}/progress
		parts := split(r.URL.Path, '/')
		if len(parts) < 3 {
			http.NotFound(w, r)
			return
		}
		user := core.UserID(parts[1])
		switch {
		case r.Method == http.MethodPost && parts[2] == "events":
			var ev core.ActionEvent
			if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
				http.Error(w, err.Error(), 400)
				return
			}
			result, err := svc.Record(ctx, user, ev)
			if err != nil {
				http.Error(w, err.Error(), 400)
				return
			}
			writeJSON(w, result)
			return
		case r.Method == http.MethodGet && parts[2] == "progress":
			stats, err := svc.Progress(ctx, user)
			if err != nil {
				http.Error(w, err.Error(), 404)
				return
			}
			writeJSON(w, stats)
			return
		}
		http.NotFound(w, r)
	})

	slog.Info("starting demo server on :8080")

	if err := http.ListenAndServe(":8080", nil); err != nil {
		slog.Error("demo server crashed", "error", err)
		os.Exit(1)
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func split(p string, sep rune) []string {
	var parts []string
	current := make([]rune, 0, len(p))

	for _, r := range p {
		if r == sep {
			if len(current) > 0 {
				parts = append(parts, string(current))
				current = current[:0]
			}
			continue
		}
		current = append(current, r)
	}

	if len(current) > 0 {
		parts = append(parts, string(current))
	}

	return parts
}

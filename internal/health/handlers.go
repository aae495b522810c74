package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// Checker probes the dependencies the API needs before it can serve traffic.
type Checker interface {
	PingDB(ctx context.Context, timeout time.Duration) error
	PingRedis(ctx context.Context, timeout time.Duration) error
}

// Handler serves the liveness and readiness endpoints.
type Handler struct {
	Checker      Checker
	DBTimeout    time.Duration
	RedisTimeout time.Duration
}

type readiness struct {
	DB    string `json:"db"`
	Redis string `json:"redis"`
}

func (r readiness) healthy() bool {
	return r.DB == "ok" && r.Redis == "ok"
}

// Live reports process liveness.
func (h Handler) Live(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// Ready probes Postgres and redis. A failing probe turns the endpoint into a
// 503 with the probe's error text inline, so kubelet logs show the cause.
func (h Handler) Ready(w http.ResponseWriter, r *http.Request) {
	if h.Checker == nil {
		http.Error(w, "dependencies unavailable", http.StatusServiceUnavailable)
		return
	}
	ctx := r.Context()
	status := readiness{
		DB:    probe(h.Checker.PingDB(ctx, orDefault(h.DBTimeout, 500*time.Millisecond))),
		Redis: probe(h.Checker.PingRedis(ctx, orDefault(h.RedisTimeout, 300*time.Millisecond))),
	}

	w.Header().Set("Content-Type", "application/json")
	if status.healthy() {
		w.WriteHeader(http.StatusOK)
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(status)
}

func probe(err error) string {
	if err != nil {
		return err.Error()
	}
	return "ok"
}

func orDefault(d, fallback time.Duration) time.Duration {
	if d <= 0 {
		return fallback
	}
	return d
}

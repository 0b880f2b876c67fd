package main

import (
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/statichq/pages/internal/queue"
)

func NewServer(db *pgxpool.Pool, mq *queue.Client, conf *config) *http.Server {
	addr := net.JoinHostPort(conf.Host, strconv.Itoa(conf.Port))

	subLogger := slog.With("component", "server")
	subLogLogger := slog.NewLogLogger(subLogger.Handler(), slog.LevelError)

	h := NewHandler(db, mq, conf, subLogger)

	mux := &http.ServeMux{}

	mux.HandleFunc("POST /webhook/github", h.Webhook)
	mux.HandleFunc("POST /build/{id}/status/{token}", h.BuildStatus)
	mux.HandleFunc("PUT /tasks/{id}/status", h.TaskStatus)
	mux.HandleFunc("POST /sites/{id}/builds", h.CreateBuild)
	mux.HandleFunc("POST /builds/{id}/resubmit", h.ResubmitBuild)
	mux.HandleFunc("DELETE /sites/{id}", h.DeleteSite)
	mux.HandleFunc("POST /sites/{id}/domains", h.ProvisionDomain)
	mux.HandleFunc("GET /health", h.Health)

	return &http.Server{
		Addr:              addr,
		ErrorLog:          subLogLogger,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

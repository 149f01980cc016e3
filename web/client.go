package web

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/mbocsi/gonoti/client"
	"github.com/mbocsi/gonoti/proto"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NotiClient is the part of *client.Client the HTTP surface uses.
type NotiClient interface {
	ID() string
	Config() client.Config
	State() client.RunState
	IsRunning() bool
	HasPending() bool
	ReceiveContext(ctx context.Context) (string, error)
	SendAttrs(productKey, mac, did string, attrs proto.Attrs) bool
	SendRaw(productKey, mac, did string, kind proto.DataCommand, raw []byte) bool
	Restart()
}

// WebClient exposes health, status, metrics and a small control API for one
// notification client.
type WebClient struct {
	client   NotiClient
	gatherer prometheus.Gatherer
}

// NewWebClient serves metrics from gatherer when it is not nil.
func NewWebClient(c NotiClient, gatherer prometheus.Gatherer) *WebClient {
	return &WebClient{client: c, gatherer: gatherer}
}

func (w *WebClient) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/healthz", w.HandleHealth)
	r.Get("/status", w.HandleStatus)
	r.Get("/events", w.HandleEvents)
	if w.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(w.gatherer, promhttp.HandlerOpts{}))
	}
	r.Route("/api", func(r chi.Router) {
		r.Post("/control/attrs", w.HandleSendAttrs)
		r.Post("/control/raw", w.HandleSendRaw)
		r.Post("/restart", w.HandleRestart)
	})
	return r
}

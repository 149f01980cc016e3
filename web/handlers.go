package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/mbocsi/gonoti/client"
	"github.com/mbocsi/gonoti/proto"
)

var errNotAccepting = errors.New("client is not accepting commands")

type statusResponse struct {
	ClientID      string `json:"client_id"`
	Addr          string `json:"addr"`
	State         string `json:"state"`
	Running       bool   `json:"running"`
	PendingEvents bool   `json:"pending_events"`
}

func (w *WebClient) HandleHealth(wr http.ResponseWriter, r *http.Request) {
	if !w.client.IsRunning() {
		http.Error(wr, w.client.State().String(), http.StatusServiceUnavailable)
		return
	}
	wr.WriteHeader(http.StatusOK)
	fmt.Fprint(wr, "ok")
}

func (w *WebClient) HandleStatus(wr http.ResponseWriter, r *http.Request) {
	writeJSON(wr, http.StatusOK, statusResponse{
		ClientID:      w.client.ID(),
		Addr:          w.client.Config().Addr(),
		State:         w.client.State().String(),
		Running:       w.client.IsRunning(),
		PendingEvents: w.client.HasPending(),
	})
}

type controlRequest struct {
	ProductKey string         `json:"product_key"`
	MAC        string         `json:"mac"`
	DID        string         `json:"did"`
	Cmd        string         `json:"cmd"`
	Attrs      map[string]any `json:"attrs"`
	Raw        []int          `json:"raw"`
}

func (w *WebClient) HandleSendAttrs(wr http.ResponseWriter, r *http.Request) {
	var req controlRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.handleError(wr, fmt.Errorf("%w: %v", proto.ErrInvalidFrame, err))
		return
	}
	if len(req.Attrs) == 0 {
		w.handleError(wr, proto.ErrNilPayload)
		return
	}
	if err := proto.NewAttrsTarget(req.ProductKey, req.MAC, req.DID, req.Attrs).Validate(); err != nil {
		w.handleError(wr, fmt.Errorf("%w: %v", proto.ErrInvalidFrame, err))
		return
	}
	if !w.client.SendAttrs(req.ProductKey, req.MAC, req.DID, req.Attrs) {
		w.handleError(wr, errNotAccepting)
		return
	}
	wr.WriteHeader(http.StatusAccepted)
	fmt.Fprintf(wr, "Control queued for %s/%s", req.ProductKey, req.DID+req.MAC)
}

func (w *WebClient) HandleSendRaw(wr http.ResponseWriter, r *http.Request) {
	var req controlRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.handleError(wr, fmt.Errorf("%w: %v", proto.ErrInvalidFrame, err))
		return
	}
	if req.Raw == nil {
		w.handleError(wr, proto.ErrNilPayload)
		return
	}
	raw := make([]byte, len(req.Raw))
	for i, v := range req.Raw {
		if v < -128 || v > 255 {
			w.handleError(wr, fmt.Errorf("%w: raw byte %d out of range: %d", proto.ErrInvalidFrame, i, v))
			return
		}
		raw[i] = byte(v)
	}
	if err := proto.NewRawTarget(req.ProductKey, req.MAC, req.DID, proto.DataCommand(req.Cmd), raw).Validate(); err != nil {
		w.handleError(wr, fmt.Errorf("%w: %v", proto.ErrInvalidFrame, err))
		return
	}
	if !w.client.SendRaw(req.ProductKey, req.MAC, req.DID, proto.DataCommand(req.Cmd), raw) {
		w.handleError(wr, errNotAccepting)
		return
	}
	wr.WriteHeader(http.StatusAccepted)
	fmt.Fprintf(wr, "Control queued for %s/%s", req.ProductKey, req.DID+req.MAC)
}

func (w *WebClient) HandleRestart(wr http.ResponseWriter, r *http.Request) {
	w.client.Restart()
	w.HandleStatus(wr, r)
}

// HandleEvents streams received events as Server-Sent Events. Each event is
// taken off the client's inbound queue, so only one consumer should read.
func (w *WebClient) HandleEvents(wr http.ResponseWriter, r *http.Request) {
	flusher, ok := wr.(http.Flusher)
	if !ok {
		http.Error(wr, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	wr.Header().Set("Content-Type", "text/event-stream")
	wr.Header().Set("Cache-Control", "no-cache")
	wr.Header().Set("Connection", "keep-alive")
	wr.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		frame, err := w.client.ReceiveContext(r.Context())
		if err != nil {
			if errors.Is(err, client.ErrDestroyed) {
				fmt.Fprint(wr, "event: destroyed\ndata: {}\n\n")
				flusher.Flush()
			}
			slog.Debug("Event stream closed", "error", err)
			return
		}
		fmt.Fprintf(wr, "event: message\ndata: %s\n\n", frame)
		flusher.Flush()
	}
}

// handleError maps client errors to HTTP status codes.
func (w *WebClient) handleError(wr http.ResponseWriter, err error) {
	slog.Warn("Request failed", "error", err)

	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, proto.ErrInvalidFrame), errors.Is(err, proto.ErrNilPayload):
		status = http.StatusBadRequest
	case errors.Is(err, errNotAccepting), errors.Is(err, client.ErrNotRunning):
		status = http.StatusServiceUnavailable
	case errors.Is(err, client.ErrDestroyed):
		status = http.StatusGone
	}
	http.Error(wr, err.Error(), status)
}

func writeJSON(wr http.ResponseWriter, status int, v any) {
	wr.Header().Set("Content-Type", "application/json")
	wr.WriteHeader(status)
	if err := json.NewEncoder(wr).Encode(v); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

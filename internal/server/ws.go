package server

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/ayusman/mudra/internal/classifier"
	"github.com/ayusman/mudra/internal/presenter"
)

// ResultsPollInterval is how often each connection checks the presenter.
const ResultsPollInterval = 50 * time.Millisecond

const writeWait = 5 * time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow local connections
	},
}

// ResultMessage is pushed to WebSocket clients whenever the display changes.
type ResultMessage struct {
	Text       string                 `json:"text"`
	Status     string                 `json:"status,omitempty"`
	Prediction *classifier.Prediction `json:"prediction,omitempty"`
	HasHand    bool                   `json:"has_hand"`
	Version    uint64                 `json:"version"`
	Timestamp  int64                  `json:"timestamp"`
}

// ResultsHandler pushes display updates over WebSocket.
type ResultsHandler struct {
	presenter *presenter.Presenter
	interval  time.Duration
	log       logrus.FieldLogger
}

// NewResultsHandler creates a ResultsHandler reading from p.
func NewResultsHandler(p *presenter.Presenter, log logrus.FieldLogger) *ResultsHandler {
	return &ResultsHandler{presenter: p, interval: ResultsPollInterval, log: log}
}

// ServeHTTP upgrades the connection and sends the current display, then one
// message per text change until the client goes away or the server shuts down.
func (h *ResultsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithError(err).Debug("websocket upgrade failed")
		return
	}

	// Reads only detect the client closing.
	gone := make(chan struct{})
	defer func() {
		conn.Close()
		<-gone
	}()
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	sent := uint64(0)
	first := true
	for {
		if v := h.presenter.ResultVersion(); first || v != sent {
			first = false
			sent = v
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(h.message(v)); err != nil {
				return
			}
		}

		select {
		case <-gone:
			return
		case <-r.Context().Done():
			return
		case <-ticker.C:
		}
	}
}

func (h *ResultsHandler) message(version uint64) ResultMessage {
	result := h.presenter.Result()
	msg := ResultMessage{
		Text:       result.Text(),
		Status:     result.Status,
		Prediction: result.Prediction,
		Version:    version,
		Timestamp:  time.Now().UnixMilli(),
	}
	if img, ok := h.presenter.Overlay(); ok {
		msg.HasHand = img.HasHand
	}
	return msg
}

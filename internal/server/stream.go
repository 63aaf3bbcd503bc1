package server

import (
	"fmt"
	"net/http"
	"time"

	"github.com/ayusman/mudra/internal/presenter"
)

// StreamInterval is how often the overlay stream checks for a new image.
const StreamInterval = 66 * time.Millisecond

// StreamHandler serves the latest overlay as MJPEG.
type StreamHandler struct {
	presenter *presenter.Presenter
	interval  time.Duration
}

// NewStreamHandler creates a StreamHandler reading from p.
func NewStreamHandler(p *presenter.Presenter) *StreamHandler {
	return &StreamHandler{presenter: p, interval: StreamInterval}
}

// ServeHTTP streams a part each time the presenter changes.
func (h *StreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary=frame")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	var sent []byte
	for {
		if img, ok := h.presenter.Overlay(); ok && !sameBuffer(img.JPEG, sent) {
			if err := writePart(w, img.JPEG); err != nil {
				return
			}
			sent = img.JPEG
		}

		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
		}
	}
}

// sameBuffer reports whether a and b are the same presenter buffer.
// The presenter never mutates a stored image, so identity is enough.
func sameBuffer(a, b []byte) bool {
	return len(a) == len(b) && (len(a) == 0 || &a[0] == &b[0])
}

func writePart(w http.ResponseWriter, jpeg []byte) error {
	if _, err := fmt.Fprintf(w, "--frame\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n", len(jpeg)); err != nil {
		return err
	}
	if _, err := w.Write(jpeg); err != nil {
		return err
	}
	if _, err := fmt.Fprint(w, "\r\n"); err != nil {
		return err
	}
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
	return nil
}

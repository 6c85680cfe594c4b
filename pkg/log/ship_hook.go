package log

import (
	"bytes"
	"net/http"
	"time"

	"github.com/christophe-duc/previewd/pkg/config"
	"github.com/sirupsen/logrus"
)

// shipHook POSTs each log entry to an HTTPS ingest endpoint. Shipping is
// best-effort: a slow or dead endpoint must never stall a pipeline loop, so
// entries are pushed onto a buffered channel and dropped when it is full.
type shipHook struct {
	endpoint string
	token    string
	queue    chan []byte
}

const shipQueueSize = 256

func newShipHook(cfg config.LoggingConfig) *shipHook {
	h := &shipHook{
		endpoint: cfg.ShipEndpoint,
		token:    cfg.ShipToken,
		queue:    make(chan []byte, shipQueueSize),
	}
	go h.sender()
	return h
}

func (h *shipHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

func (h *shipHook) Fire(entry *logrus.Entry) error {
	formatted, err := (&logrus.JSONFormatter{}).Format(entry)
	if err != nil {
		return err
	}
	select {
	case h.queue <- formatted:
	default:
		// queue full: drop rather than block the caller
	}
	return nil
}

func (h *shipHook) sender() {
	client := &http.Client{Timeout: 10 * time.Second}
	for payload := range h.queue {
		req, err := http.NewRequest(http.MethodPost, h.endpoint, bytes.NewReader(payload))
		if err != nil {
			continue
		}
		req.Header.Set("Content-Type", "application/json")
		if h.token != "" {
			req.Header.Set("Authorization", "Bearer "+h.token)
		}
		resp, err := client.Do(req)
		if err != nil {
			continue
		}
		resp.Body.Close()
	}
}

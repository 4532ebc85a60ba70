// Package api is the station's HTTP control surface: status reads, a live
// feed of status changes and endpoints to send payloads to the device.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/luma/photon/protocol"
	"github.com/luma/photon/station"
	"github.com/luma/photon/storage"
)

const DefaultReliableTimeout = 10 * time.Second

// Exchange is the part of station.Exchange the API drives.
type Exchange interface {
	SendUnreliable(ctx context.Context, t protocol.StreamType, payload []byte) error
	SendReliable(ctx context.Context, t protocol.StreamType, payload []byte) (*station.Completion, error)
	Status(ctx context.Context) ([]station.StreamStatus, error)
}

type Options struct {
	DebugHTTP bool

	Exchange Exchange
	Store    storage.Store

	// ReliableTimeout bounds how long a reliable send waits for its receipt
	ReliableTimeout time.Duration

	Log *zap.Logger
}

type handlers struct {
	exchange        Exchange
	store           storage.Store
	reliableTimeout time.Duration
	log             *zap.Logger
}

func NewRouter(options Options) *gin.Engine {
	log := options.Log
	if log == nil {
		log = zap.NewNop()
	}

	timeout := options.ReliableTimeout
	if timeout <= 0 {
		timeout = DefaultReliableTimeout
	}

	h := &handlers{
		exchange:        options.Exchange,
		store:           options.Store,
		reliableTimeout: timeout,
		log:             log,
	}

	r := setupRouter(options.DebugHTTP, log)

	r.GET("/ping", func(c *gin.Context) {
		c.String(http.StatusOK, "pong")
	})

	r.GET("/status", h.getStatus)
	r.GET("/status/:key", h.getStatusKey)
	r.GET("/events", h.streamEvents)
	r.GET("/streams", h.getStreams)
	r.POST("/streams/:stream/unreliable", h.sendUnreliable)
	r.POST("/streams/:stream/reliable", h.sendReliable)

	return r
}

func setupRouter(debugHTTP bool, log *zap.Logger) *gin.Engine {
	gin.DisableConsoleColor()
	if !debugHTTP {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()

	// Logs all requests, like a combined access and error log, with RFC3339
	// UTC timestamps
	r.Use(ginzap.GinzapWithConfig(log, &ginzap.Config{
		TimeFormat: time.RFC3339,
		UTC:        true,
		SkipPaths:  []string{"/ping"},
	}))

	// Logs all panic to error log
	//   - stack means whether output the stack info.
	r.Use(ginzap.RecoveryWithZap(log, true))

	return r
}

func (h *handlers) getStatus(c *gin.Context) {
	doc, err := h.store.Backup()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.Data(http.StatusOK, gin.MIMEJSON, doc)
}

// getStatusKey reads a gjson path such as streams.cmd.reliable
func (h *handlers) getStatusKey(c *gin.Context) {
	key := c.Param("key")

	doc, err := h.store.Backup()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	result := gjson.GetBytes(doc, key)
	if !result.Exists() {
		c.JSON(http.StatusNotFound, gin.H{"error": storage.ErrNotFound.Error(), "key": key})
		return
	}

	c.Data(http.StatusOK, gin.MIMEJSON, []byte(result.Raw))
}

func (h *handlers) streamEvents(c *gin.Context) {
	updates := h.store.ListenToUpdates()
	defer h.store.Unlisten(updates)

	ctx := c.Request.Context()

	c.Stream(func(w io.Writer) bool {
		select {
		case update, ok := <-updates:
			if !ok {
				return false
			}

			c.SSEvent("update", gin.H{
				"key":   string(update.Key),
				"value": json.RawMessage(update.Value),
			})

			return true

		case <-ctx.Done():
			return false
		}
	})
}

func (h *handlers) getStreams(c *gin.Context) {
	status, err := h.exchange.Status(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}

	streams := make(map[string]station.StreamStatus, len(status))
	for _, s := range status {
		streams[s.Stream] = s
	}

	c.JSON(http.StatusOK, streams)
}

func (h *handlers) sendUnreliable(c *gin.Context) {
	t, payload, ok := h.readPayload(c)
	if !ok {
		return
	}

	if err := h.exchange.SendUnreliable(c.Request.Context(), t, payload); err != nil {
		h.log.Warn("Failed to send unreliable packet", zap.Stringer("stream", t), zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"stream": t.String(), "bytes": len(payload)})
}

func (h *handlers) sendReliable(c *gin.Context) {
	t, payload, ok := h.readPayload(c)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), h.reliableTimeout)
	defer cancel()

	completion, err := h.exchange.SendReliable(ctx, t, payload)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}

	resp, err := completion.Wait(ctx)

	switch {
	case err == nil:
		c.JSON(http.StatusOK, receiptBody(t, resp))

	case errors.Is(err, station.ErrPacketRejected), errors.Is(err, station.ErrPayloadRejected):
		body := receiptBody(t, resp)
		body["error"] = err.Error()
		c.JSON(http.StatusUnprocessableEntity, body)

	case errors.Is(err, context.DeadlineExceeded):
		// The packet stays queued and will still be retried
		c.JSON(http.StatusGatewayTimeout, gin.H{"error": "Timed out waiting for a receipt"})

	default:
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	}
}

func (h *handlers) readPayload(c *gin.Context) (protocol.StreamType, []byte, bool) {
	t, err := protocol.ParseStreamType(c.Param("stream"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return 0, nil, false
	}

	payload, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return 0, nil, false
	}

	return t, payload, true
}

func receiptBody(t protocol.StreamType, resp station.Response) gin.H {
	return gin.H{
		"stream":   t.String(),
		"receipt":  resp.Type.String(),
		"counter":  resp.Counter,
		"tickTime": resp.TickTime,
		"payload":  resp.Payload,
	}
}

package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/leafsii/eusd-engine/internal/store"
	"go.uber.org/zap"
)

// SSEHandler streams the same pubsub channels as the hub over server-sent events
type SSEHandler struct {
	pubsub    Subscriber
	logger    *zap.SugaredLogger
	heartbeat time.Duration
}

func NewSSEHandler(pubsub Subscriber, logger *zap.SugaredLogger) *SSEHandler {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &SSEHandler{
		pubsub:    pubsub,
		logger:    logger,
		heartbeat: 30 * time.Second,
	}
}

func (h *SSEHandler) HandleSSE(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	channels := mapTopicsToChannels(parseTopics(r), r.URL.Query().Get("symbol"))
	if len(channels) == 0 {
		channels = []string{store.ChannelState}
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	sub := h.pubsub.Subscribe(ctx, channels...)
	defer sub.Close()

	h.logger.Debugw("SSE connection established", "channels", channels)
	h.stream(ctx, w, sub)
}

func parseTopics(r *http.Request) []string {
	topicsParam := r.URL.Query().Get("topics")
	if topicsParam == "" {
		return nil
	}
	return strings.Split(topicsParam, ",")
}

func mapTopicsToChannels(topics []string, symbol string) []string {
	channels := make([]string, 0, len(topics))
	for _, topic := range topics {
		switch strings.TrimSpace(topic) {
		case TopicState:
			channels = append(channels, store.ChannelState)
		case TopicEvents:
			channels = append(channels, store.ChannelEvents)
		case TopicPrices:
			if symbol == "" {
				symbol = "XRDUSDT"
			}
			channels = append(channels, fmt.Sprintf("%s:%s", store.ChannelPrices, strings.ToUpper(symbol)))
		}
	}
	return channels
}

func channelToEventType(channel string) string {
	switch {
	case channel == store.ChannelState:
		return "state_update"
	case channel == store.ChannelEvents:
		return "ledger_event"
	case strings.HasPrefix(channel, store.ChannelPrices):
		return "price_update"
	default:
		return "update"
	}
}

func (h *SSEHandler) sendEvent(w http.ResponseWriter, eventType, id string, data []byte) {
	if data == nil {
		data = []byte("{}")
	}
	fmt.Fprintf(w, "event: %s\n", eventType)
	fmt.Fprintf(w, "id: %s\n", id)
	fmt.Fprintf(w, "data: %s\n\n", data)

	if flusher, ok := w.(http.Flusher); ok {
		flusher.Flush()
	}
}

func (h *SSEHandler) stream(ctx context.Context, w http.ResponseWriter, sub store.Subscription) {
	h.sendEvent(w, "connected", "connected", nil)

	heartbeat := time.NewTicker(h.heartbeat)
	defer heartbeat.Stop()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			h.logger.Debugw("SSE client disconnected")
			return

		case <-heartbeat.C:
			h.sendEvent(w, "heartbeat", "ping", []byte(fmt.Sprintf(`{"timestamp":%d}`, time.Now().Unix())))

		case msg, ok := <-ch:
			if !ok {
				return
			}
			if msg == nil || !json.Valid([]byte(msg.Payload)) {
				continue
			}
			h.sendEvent(w, channelToEventType(msg.Channel), msg.Channel, []byte(msg.Payload))
		}
	}
}

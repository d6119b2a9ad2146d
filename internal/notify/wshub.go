package notify

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/prospector/internal/model"
)

const (
	subscriberBuffer = 16
	writeTimeout     = 10 * time.Second
	pingInterval     = 30 * time.Second
)

// Hub is an in-process topic broker for websocket clients.
type Hub struct {
	mu      sync.RWMutex
	topics  map[string]map[chan model.Notification]struct{}
	origins []string
	log     *zap.Logger
}

// NewHub creates a Hub. origins are host patterns accepted for cross-origin
// upgrades.
func NewHub(origins ...string) *Hub {
	return &Hub{
		topics:  make(map[string]map[chan model.Notification]struct{}),
		origins: origins,
		log:     zap.L().With(zap.String("component", "wshub")),
	}
}

// Subscribe registers a buffered channel on topic. The returned func
// unsubscribes and must be called once.
func (h *Hub) Subscribe(topic string) (<-chan model.Notification, func()) {
	ch := make(chan model.Notification, subscriberBuffer)
	h.mu.Lock()
	subs, ok := h.topics[topic]
	if !ok {
		subs = make(map[chan model.Notification]struct{})
		h.topics[topic] = subs
	}
	subs[ch] = struct{}{}
	h.mu.Unlock()

	return ch, func() {
		h.mu.Lock()
		delete(h.topics[topic], ch)
		if len(h.topics[topic]) == 0 {
			delete(h.topics, topic)
		}
		h.mu.Unlock()
	}
}

// Publish implements Publisher. It never blocks: a subscriber whose buffer
// is full misses the message and the drop is reported as an error.
func (h *Hub) Publish(_ context.Context, topic string, n model.Notification) error {
	h.mu.RLock()
	defer h.mu.RUnlock()

	dropped := 0
	for ch := range h.topics[topic] {
		select {
		case ch <- n:
		default:
			dropped++
		}
	}
	if dropped > 0 {
		return eris.Errorf("notify: dropped push to %d slow subscribers on %s", dropped, topic)
	}
	return nil
}

// Serve upgrades the request and streams userID's notifications as JSON
// until the client goes away.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, userID string) error {
	c, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: h.origins})
	if err != nil {
		return eris.Wrap(err, "notify: websocket accept")
	}
	defer c.CloseNow() //nolint:errcheck

	ctx := c.CloseRead(r.Context())
	ch, unsubscribe := h.Subscribe(Topic(userID))
	defer unsubscribe()

	h.log.Debug("websocket connected", zap.String("user_id", userID))
	ping := time.NewTicker(pingInterval)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			h.log.Debug("websocket disconnected", zap.String("user_id", userID))
			return nil
		case <-ping.C:
			pctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := c.Ping(pctx)
			cancel()
			if err != nil {
				return nil
			}
		case n := <-ch:
			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := wsjson.Write(wctx, c, n)
			cancel()
			if err != nil {
				return eris.Wrap(err, "notify: websocket write")
			}
		}
	}
}

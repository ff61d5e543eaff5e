package hub

import (
	"context"
	"encoding/json"
	"log"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Broadcaster is what the run loop and API publish through. Hub satisfies it
// directly; Bridge satisfies it for multi-pod deployments.
type Broadcaster interface {
	Publish(runID string, msg Message)
}

const redisChannel = "sentinel:broadcast"

// envelope is the cross-pod wire form. NodeID lets each pod skip its own
// echoes.
type envelope struct {
	NodeID string          `json:"node_id"`
	RunID  string          `json:"run_id"`
	Kind   Kind            `json:"kind"`
	Data   json.RawMessage `json:"data"`
}

// Bridge mirrors local publishes to Redis pub/sub and replays remote pods'
// messages into the local hub, so operator sockets see a run regardless of
// which pod owns its loop.
type Bridge struct {
	hub    *Hub
	rdb    *redis.Client
	nodeID string
	logger *log.Logger

	cancel context.CancelFunc
}

// NewBridge starts the relay. Call Close on shutdown.
func NewBridge(h *Hub, rdb *redis.Client) *Bridge {
	ctx, cancel := context.WithCancel(context.Background())
	b := &Bridge{
		hub:    h,
		rdb:    rdb,
		nodeID: uuid.NewString(),
		logger: log.New(log.Writer(), "[HUB-REDIS] ", log.LstdFlags),
		cancel: cancel,
	}
	go b.relay(ctx)
	return b
}

// Publish delivers locally, then mirrors to the other pods. Redis failures
// are logged and do not affect local delivery.
func (b *Bridge) Publish(runID string, msg Message) {
	b.hub.Publish(runID, msg)

	data, err := json.Marshal(msg.Data)
	if err != nil {
		b.logger.Printf("marshal for relay failed: %v", err)
		return
	}
	env := envelope{NodeID: b.nodeID, RunID: runID, Kind: msg.Kind, Data: data}
	payload, err := json.Marshal(env)
	if err != nil {
		b.logger.Printf("marshal envelope failed: %v", err)
		return
	}
	if err := b.rdb.Publish(context.Background(), redisChannel, payload).Err(); err != nil {
		b.logger.Printf("relay publish failed: %v", err)
	}
}

// Close stops the relay goroutine.
func (b *Bridge) Close() {
	b.cancel()
}

func (b *Bridge) relay(ctx context.Context) {
	sub := b.rdb.Subscribe(ctx, redisChannel)
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case m, open := <-ch:
			if !open {
				return
			}
			var env envelope
			if err := json.Unmarshal([]byte(m.Payload), &env); err != nil {
				b.logger.Printf("bad relay payload: %v", err)
				continue
			}
			if env.NodeID == b.nodeID {
				continue
			}
			b.hub.Publish(env.RunID, Message{Kind: env.Kind, Data: env.Data})
		}
	}
}

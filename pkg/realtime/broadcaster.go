package realtime

import (
	"log/slog"
	"sync"
	"sync/atomic"
)

// Peer is a registered connection with its own bounded outbound queue.
type Peer interface {
	ID() string
	// Enqueue offers msg without blocking and reports whether it was accepted.
	Enqueue(msg []byte) bool
	// Close tears the connection down. It must be idempotent and must not block.
	Close()
	// Closed reports whether Close has started.
	Closed() bool
}

// Broadcaster fans messages out to the peers subscribed to a channel.
// A peer that cannot accept a message is dropped, never waited on.
type Broadcaster struct {
	registry *Registry
	logger   *slog.Logger

	mu    sync.RWMutex
	peers map[string]Peer

	delivered atomic.Int64
	dropped   atomic.Int64
}

// NewBroadcaster creates a broadcaster over registry.
func NewBroadcaster(registry *Registry, logger *slog.Logger) *Broadcaster {
	if registry == nil {
		registry = NewRegistry()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{
		registry: registry,
		logger:   logger,
		peers:    make(map[string]Peer),
	}
}

// Registry returns the subscription registry.
func (b *Broadcaster) Registry() *Registry {
	return b.registry
}

// Register makes p addressable by its ID.
func (b *Broadcaster) Register(p Peer) {
	b.mu.Lock()
	b.peers[p.ID()] = p
	b.mu.Unlock()
}

// Unregister forgets the peer and drops all of its subscriptions. It reports
// whether the peer was registered; repeated calls are no-ops.
func (b *Broadcaster) Unregister(id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.peers[id]
	delete(b.peers, id)
	b.registry.DropConnection(id)
	return ok
}

// Subscribe adds a registered peer to channel. The peer lock is held across
// the registry update so a concurrent Unregister cannot leave a stale entry.
func (b *Broadcaster) Subscribe(id, channel string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if _, ok := b.peers[id]; !ok {
		return false
	}
	b.registry.Subscribe(id, channel)
	return true
}

// Unsubscribe removes a peer from channel.
func (b *Broadcaster) Unsubscribe(id, channel string) {
	b.registry.Unsubscribe(id, channel)
}

// Publish offers msg to every subscriber of channel and returns how many
// accepted it. Peers with a full queue are unregistered and closed. Peers
// already closing are unregistered without counting as dropped.
func (b *Broadcaster) Publish(channel string, msg []byte) int {
	ids := b.registry.SubscribersOf(channel)
	if len(ids) == 0 {
		return 0
	}

	b.mu.RLock()
	targets := make([]Peer, 0, len(ids))
	for _, id := range ids {
		if p, ok := b.peers[id]; ok {
			targets = append(targets, p)
		}
	}
	b.mu.RUnlock()

	sent := 0
	var lagging []Peer
	for _, p := range targets {
		if p.Enqueue(msg) {
			sent++
			continue
		}
		if p.Closed() {
			b.Unregister(p.ID())
			continue
		}
		lagging = append(lagging, p)
	}
	for _, p := range lagging {
		if b.Unregister(p.ID()) {
			b.dropped.Add(1)
			b.logger.Warn("dropping lagging connection", "conn_id", p.ID(), "channel", channel)
		}
		p.Close()
	}
	b.delivered.Add(int64(sent))
	return sent
}

// Connections returns the number of registered peers.
func (b *Broadcaster) Connections() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.peers)
}

// Stats reports delivery counters since start.
func (b *Broadcaster) Stats() (delivered, dropped int64) {
	return b.delivered.Load(), b.dropped.Load()
}

// CloseAll closes every registered peer. Used on shutdown.
func (b *Broadcaster) CloseAll() {
	b.mu.Lock()
	peers := make([]Peer, 0, len(b.peers))
	for _, p := range b.peers {
		peers = append(peers, p)
	}
	b.mu.Unlock()
	for _, p := range peers {
		b.Unregister(p.ID())
		p.Close()
	}
}

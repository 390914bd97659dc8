package realtime

import (
	"sort"
	"sync"
)

// Well-known channels. Other names may be subscribed to; they never receive events.
const (
	ChannelBusLocations    = "bus_locations"
	ChannelEmergencyAlerts = "emergency_alerts"
	ChannelSpeedAlerts     = "speed_alerts"
)

// Registry tracks which connections are subscribed to which channels.
type Registry struct {
	mu       sync.RWMutex
	channels map[string]map[string]struct{}
	conns    map[string]map[string]struct{}
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		channels: make(map[string]map[string]struct{}),
		conns:    make(map[string]map[string]struct{}),
	}
}

// Subscribe adds connID to channel. Subscribing twice is a no-op.
func (r *Registry) Subscribe(connID, channel string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	members, ok := r.channels[channel]
	if !ok {
		members = make(map[string]struct{})
		r.channels[channel] = members
	}
	members[connID] = struct{}{}

	subs, ok := r.conns[connID]
	if !ok {
		subs = make(map[string]struct{})
		r.conns[connID] = subs
	}
	subs[channel] = struct{}{}
}

// Unsubscribe removes connID from channel.
func (r *Registry) Unsubscribe(connID, channel string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removeLocked(connID, channel)
}

// DropConnection removes every subscription of connID. Safe to call repeatedly.
func (r *Registry) DropConnection(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for channel := range r.conns[connID] {
		r.removeLocked(connID, channel)
	}
	delete(r.conns, connID)
}

func (r *Registry) removeLocked(connID, channel string) {
	if members, ok := r.channels[channel]; ok {
		delete(members, connID)
		if len(members) == 0 {
			delete(r.channels, channel)
		}
	}
	if subs, ok := r.conns[connID]; ok {
		delete(subs, channel)
		if len(subs) == 0 {
			delete(r.conns, connID)
		}
	}
}

// SubscribersOf returns a copy of the connections subscribed to channel.
func (r *Registry) SubscribersOf(channel string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	members := r.channels[channel]
	out := make([]string, 0, len(members))
	for connID := range members {
		out = append(out, connID)
	}
	return out
}

// IsSubscribed reports whether connID is subscribed to channel.
func (r *Registry) IsSubscribed(connID, channel string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.channels[channel][connID]
	return ok
}

// ChannelsOf returns the sorted channels connID is subscribed to.
func (r *Registry) ChannelsOf(connID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	subs := r.conns[connID]
	out := make([]string, 0, len(subs))
	for channel := range subs {
		out = append(out, channel)
	}
	sort.Strings(out)
	return out
}

// Counts returns the number of subscribers per channel.
func (r *Registry) Counts() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]int, len(r.channels))
	for channel, members := range r.channels {
		out[channel] = len(members)
	}
	return out
}

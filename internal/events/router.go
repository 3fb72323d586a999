// Package events routes typed events to groups of live connections.
//
// Membership is explicit: a connection joins its session group and owner
// group; agent dashboards join their department group, supervisors also the
// supervisor group. Delivery is best-effort and at most once — a connection
// that is gone simply misses the event.
package events

import (
	"sync"

	"github.com/relaydesk/relaydesk/internal/logging"
)

// Sender is one live connection the router can deliver to. The gateway
// client implements it.
type Sender interface {
	ID() string
	SendEvent(name string, payload any) error
}

// Router holds the group membership tables.
type Router struct {
	mu      sync.RWMutex
	groups  map[string]map[string]Sender
	members map[string]map[string]struct{} // conn ID -> groups joined
	log     *logging.Logger
}

// NewRouter creates an empty router.
func NewRouter(log *logging.Logger) *Router {
	return &Router{
		groups:  make(map[string]map[string]Sender),
		members: make(map[string]map[string]struct{}),
		log:     log.Sub("events"),
	}
}

// Join adds a connection to a group. Joining twice is a no-op.
func (r *Router) Join(group string, s Sender) {
	r.mu.Lock()
	defer r.mu.Unlock()

	g, ok := r.groups[group]
	if !ok {
		g = make(map[string]Sender)
		r.groups[group] = g
	}
	g[s.ID()] = s

	m, ok := r.members[s.ID()]
	if !ok {
		m = make(map[string]struct{})
		r.members[s.ID()] = m
	}
	m[group] = struct{}{}
}

// Leave removes a connection from one group.
func (r *Router) Leave(group, connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.leaveLocked(group, connID)
}

// LeaveAll removes a connection from every group it joined. Called on
// disconnect.
func (r *Router) LeaveAll(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for group := range r.members[connID] {
		r.leaveLocked(group, connID)
	}
}

func (r *Router) leaveLocked(group, connID string) {
	if g, ok := r.groups[group]; ok {
		delete(g, connID)
		if len(g) == 0 {
			delete(r.groups, group)
		}
	}
	if m, ok := r.members[connID]; ok {
		delete(m, group)
		if len(m) == 0 {
			delete(r.members, connID)
		}
	}
}

// GroupSize returns the number of connections in a group.
func (r *Router) GroupSize(group string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.groups[group])
}

// Broadcast delivers an event to every member of a group. Send failures are
// logged and skipped; there is no outbox or retry.
func (r *Router) Broadcast(group, event string, payload any) {
	r.mu.RLock()
	targets := make([]Sender, 0, len(r.groups[group]))
	for _, s := range r.groups[group] {
		targets = append(targets, s)
	}
	r.mu.RUnlock()

	for _, s := range targets {
		if err := s.SendEvent(event, payload); err != nil {
			r.log.Debug().
				Err(err).
				Str("group", group).
				Str("event", event).
				Str("conn", s.ID()).
				Msg("event delivery failed")
		}
	}
}

// BroadcastMany delivers one event to several groups, deduplicating
// connections that belong to more than one of them.
func (r *Router) BroadcastMany(groups []string, event string, payload any) {
	r.mu.RLock()
	seen := make(map[string]Sender)
	for _, group := range groups {
		for id, s := range r.groups[group] {
			seen[id] = s
		}
	}
	r.mu.RUnlock()

	for id, s := range seen {
		if err := s.SendEvent(event, payload); err != nil {
			r.log.Debug().Err(err).Str("event", event).Str("conn", id).Msg("event delivery failed")
		}
	}
}

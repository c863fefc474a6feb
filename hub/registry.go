package hub

import (
	"sort"
	"sync"
	"time"
)

// Member is one party of a tracking channel: a socket connection, or a
// server-side producer such as the simulator.
type Member interface {
	ID() string
	// Deliver hands data to the member without blocking. It reports false when
	// the member could not take it.
	Deliver(data []byte) bool
}

// Registry maps order ids to the members currently watching them. It is not a
// source of truth: losing it loses live fan-out only.
type Registry struct {
	mu     sync.RWMutex
	rooms  map[string]map[string]Member
	joined map[string]map[string]struct{} // member id -> order ids
	closed map[string]time.Time
	idle   time.Duration
}

func NewRegistry(idle time.Duration) *Registry {
	return &Registry{
		rooms:  make(map[string]map[string]Member),
		joined: make(map[string]map[string]struct{}),
		closed: make(map[string]time.Time),
		idle:   idle,
	}
}

// Join adds m to the order's group, creating the group if needed. Joining
// twice is a no-op.
func (r *Registry) Join(orderID string, m Member) {
	r.mu.Lock()
	defer r.mu.Unlock()
	room := r.rooms[orderID]
	if room == nil {
		room = make(map[string]Member)
		r.rooms[orderID] = room
	}
	room[m.ID()] = m
	set := r.joined[m.ID()]
	if set == nil {
		set = make(map[string]struct{})
		r.joined[m.ID()] = set
	}
	set[orderID] = struct{}{}
}

// Leave removes the member from the order's group and deletes the group once
// it is empty. Leaving a group never joined is a no-op.
func (r *Registry) Leave(orderID, memberID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.leaveLocked(orderID, memberID)
}

func (r *Registry) leaveLocked(orderID, memberID string) {
	if room := r.rooms[orderID]; room != nil {
		delete(room, memberID)
		if len(room) == 0 {
			delete(r.rooms, orderID)
		}
	}
	if set := r.joined[memberID]; set != nil {
		delete(set, orderID)
		if len(set) == 0 {
			delete(r.joined, memberID)
		}
	}
}

// LeaveAll drops the member from every group it joined. Used on disconnect.
func (r *Registry) LeaveAll(memberID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for orderID := range r.joined[memberID] {
		r.leaveLocked(orderID, memberID)
	}
}

// Members returns a snapshot of the order's group.
func (r *Registry) Members(orderID string) []Member {
	r.mu.RLock()
	defer r.mu.RUnlock()
	room := r.rooms[orderID]
	out := make([]Member, 0, len(room))
	for _, m := range room {
		out = append(out, m)
	}
	return out
}

// Rooms lists the order ids that currently have members.
func (r *Registry) Rooms() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.rooms))
	for id := range r.rooms {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Close tears the order's group down and marks the channel closed so late
// samples are ignored. It returns the members that were in the group.
func (r *Registry) Close(orderID string, now time.Time) []Member {
	r.mu.Lock()
	defer r.mu.Unlock()
	room := r.rooms[orderID]
	out := make([]Member, 0, len(room))
	for id, m := range room {
		out = append(out, m)
		r.leaveLocked(orderID, id)
	}
	r.closed[orderID] = now
	return out
}

func (r *Registry) IsClosed(orderID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.closed[orderID]
	return ok
}

// Sweep forgets closure marks older than the idle window and reports how
// many were removed. The store still rejects samples for delivered orders
// after a mark is gone.
func (r *Registry) Sweep(now time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for id, at := range r.closed {
		if now.Sub(at) > r.idle {
			delete(r.closed, id)
			n++
		}
	}
	for id, room := range r.rooms {
		if len(room) == 0 {
			delete(r.rooms, id)
		}
	}
	return n
}

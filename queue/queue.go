// Package queue implements the concurrent maps a node or delivery host holds
// pending work in: outgoing transmissions keyed by route, deliveries keyed
// by mailbox, and packets awaiting a busy ratchet branch keyed by issuer.
// Each is a generic two-level map (outer identifier -> PacketName ->
// payload) behind a single RWMutex, following the same "one lock per
// storage map" shape as the ratchet state's Branch/Parent/Twig maps.
package queue

import (
	"sync"
	"time"

	"github.com/xolotlmix/xolotl/keys"
	"github.com/xolotlmix/xolotl/sphinx"
	"github.com/xolotlmix/xolotl/xerr"
)

// PacketName is the inner key of every queue, the sixteen bytes a hop's
// keying schedule names this particular packet with.
type PacketName = [16]byte

// Map is a concurrent map from an outer identifier to an inner map from
// PacketName to a payload of type T. Inserting the same PacketName twice
// under the same outer key is an internal error: PacketName collisions
// indicate either a replay that slipped past the filter or a broken hash
// function, never a legitimate retry.
type Map[K comparable, T any] struct {
	mu    sync.RWMutex
	outer map[K]map[PacketName]T
}

// New returns an empty Map.
func New[K comparable, T any]() *Map[K, T] {
	return &Map[K, T]{outer: make(map[K]map[PacketName]T)}
}

// Insert adds payload under (key, name), failing if name already occupies
// a slot under key.
func (m *Map[K, T]) Insert(key K, name PacketName, payload T) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	inner, ok := m.outer[key]
	if !ok {
		inner = make(map[PacketName]T)
		m.outer[key] = inner
	}
	if _, exists := inner[name]; exists {
		return xerr.Internal("packet-name collision under queue key")
	}
	inner[name] = payload
	return nil
}

// Take atomically removes and returns the payload named (key, name), if any.
func (m *Map[K, T]) Take(key K, name PacketName) (T, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	inner, ok := m.outer[key]
	if !ok {
		var zero T
		return zero, false
	}
	v, ok := inner[name]
	if !ok {
		var zero T
		return zero, false
	}
	delete(inner, name)
	if len(inner) == 0 {
		delete(m.outer, key)
	}
	return v, true
}

// Len reports how many payloads are queued under key.
func (m *Map[K, T]) Len(key K) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.outer[key])
}

// Drain atomically removes and returns every payload queued under key, in
// no particular order.
func (m *Map[K, T]) Drain(key K) []T {
	m.mu.Lock()
	defer m.mu.Unlock()

	inner, ok := m.outer[key]
	if !ok {
		return nil
	}
	out := make([]T, 0, len(inner))
	for _, v := range inner {
		out = append(out, v)
	}
	delete(m.outer, key)
	return out
}

// TransmitEntry is one queued outgoing onion packet, ready for its next hop
// once the advisory ForwardAt instant a sending node's delay sample
// attached to it has passed. Consuming the instant is the scheduler's job,
// not the queue's: Map never inspects ForwardAt.
type TransmitEntry struct {
	ForwardAt time.Time
	Route     keys.RoutingName
	Header    []byte
	Body      []byte
}

// TransmitQueue holds pending outgoing transmissions keyed by the next
// hop's RoutingName.
type TransmitQueue struct {
	*Map[keys.RoutingName, TransmitEntry]
}

// NewTransmitQueue returns an empty TransmitQueue.
func NewTransmitQueue() *TransmitQueue {
	return &TransmitQueue{Map: New[keys.RoutingName, TransmitEntry]()}
}

// DeliverEntry is one packet that reached its mailbox: the unwound surb-log
// (so a reply SURB, if present, can be recovered) and the decrypted body.
type DeliverEntry struct {
	SURBLog []byte
	Body    []byte
}

// DeliverQueue holds pending deliveries keyed by destination mailbox.
type DeliverQueue struct {
	*Map[sphinx.MailboxName, DeliverEntry]
}

// NewDeliverQueue returns an empty DeliverQueue.
func NewDeliverQueue() *DeliverQueue {
	return &DeliverQueue{Map: New[sphinx.MailboxName, DeliverEntry]()}
}

// RatchetEntry is one packet set aside because its ratchet sub-hop named a
// branch another in-flight transaction already held: LockBranchId fails
// non-blocking rather than waiting, so a node re-queues the packet here
// instead of stalling the pipeline, and a caller-chosen policy decides when
// to retry it.
type RatchetEntry struct {
	Header []byte
	Body   []byte
}

// RatchetQueue holds packets awaiting a free branch lock, keyed by the
// issuer whose ratchet state the branch belongs to.
type RatchetQueue struct {
	*Map[keys.IssuerPublicKey, RatchetEntry]
}

// NewRatchetQueue returns an empty RatchetQueue.
func NewRatchetQueue() *RatchetQueue {
	return &RatchetQueue{Map: New[keys.IssuerPublicKey, RatchetEntry]()}
}

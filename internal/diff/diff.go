// Package diff implements the per-player outbound diff layer: queues of
// pending property-change, item-changeset, and announcement messages,
// coalesced so that, e.g.,
// ten `hp` mutations against the same entity inside one request
// collapse into a single outbound delta instead of ten.
package diff

import (
	"sync"

	"github.com/udisondev/shardrealm/internal/entity"
	"github.com/udisondev/shardrealm/internal/tsid"
)

// Message is one outbound payload, addressed to a player's wire
// session.
type Message struct {
	Type    string
	Payload map[string]any
}

// coalesceKey identifies messages that should merge instead of
// accumulating — same target entity, same message type, same sequence.
// seq is always 0 for property diffs and item changesets, so repeated
// calls against the same target/type within one cycle merge with
// last-value-wins semantics. Announcements assign each call its own seq
// so that two distinct announcements of the same type are
// never mistaken for updates to one another.
type coalesceKey struct {
	target  tsid.TSID
	msgType string
	seq     uint64
}

// ItemFields is one item's changed fields within a changeset record.
type ItemFields struct {
	Count     int64  `json:"count,omitempty"`
	Slot      string `json:"slot,omitempty"`
	X         int32  `json:"x,omitempty"`
	Y         int32  `json:"y,omitempty"`
	PathTSID  string `json:"path_tsid,omitempty"`
	ClassTSID string `json:"class_tsid,omitempty"`
	Label     string `json:"label,omitempty"`
	Removed   bool   `json:"removed,omitempty"`
}

// Outbound accumulates pending messages per player, coalescing repeated
// property-change and item-changeset messages against the same target
// within a flush cycle. Safe for concurrent use: multiple owner queues
// may be queuing changes for the same online player within the same
// tick.
type Outbound struct {
	mu      sync.Mutex
	pending map[tsid.TSID]map[coalesceKey]Message // player -> coalesced messages
	order   map[tsid.TSID][]coalesceKey           // first-seen order, for deterministic flush
	anncSeq uint64
}

// New allocates an empty Outbound queue.
func New() *Outbound {
	return &Outbound{
		pending: make(map[tsid.TSID]map[coalesceKey]Message),
		order:   make(map[tsid.TSID][]coalesceKey),
	}
}

// QueueChange queues msg for player, merging it with any pending
// message already queued for the same (target, type) pair this cycle —
// later fields overwrite earlier ones for the same key, nothing is
// dropped.
func (o *Outbound) QueueChange(player, target tsid.TSID, msg Message) {
	o.mu.Lock()
	defer o.mu.Unlock()

	key := coalesceKey{target: target, msgType: msg.Type}
	byKey, ok := o.pending[player]
	if !ok {
		byKey = make(map[coalesceKey]Message)
		o.pending[player] = byKey
	}
	if existing, ok := byKey[key]; ok {
		merged := make(map[string]any, len(existing.Payload)+len(msg.Payload))
		for k, v := range existing.Payload {
			merged[k] = v
		}
		for k, v := range msg.Payload {
			merged[k] = v
		}
		byKey[key] = Message{Type: msg.Type, Payload: merged}
		return
	}
	byKey[key] = msg
	o.order[player] = append(o.order[player], key)
}

// QueueItemChange enqueues a per-item changeset entry for player,
// scoped to "pc" (an item the player carries) or "location" (an item
// visible in the player's current location) — one "changes"
// message per player with `{pc:{}, location:{}}` maps keyed by item
// TSID. Repeated changes to the same item within one cycle coalesce
// with last-value-wins semantics, matching the same rule QueueChange
// applies to property diffs.
func (o *Outbound) QueueItemChange(player tsid.TSID, scope string, item tsid.TSID, fields ItemFields) {
	o.mu.Lock()
	defer o.mu.Unlock()

	key := coalesceKey{target: player, msgType: "changes"}
	byKey, ok := o.pending[player]
	if !ok {
		byKey = make(map[coalesceKey]Message)
		o.pending[player] = byKey
	}
	msg, ok := byKey[key]
	if !ok {
		msg = Message{Type: "changes", Payload: map[string]any{
			"pc":       map[string]any{},
			"location": map[string]any{},
		}}
		o.order[player] = append(o.order[player], key)
	}
	msg.Payload[scope].(map[string]any)[string(item)] = fields
	byKey[key] = msg
}

// QueueAnnc queues msg identically for every player in recipients — a
// broadcast announcement (chat, location-wide events) rather than a
// per-target property diff. Each call gets a unique sequence number so
// repeated announcements of the same type never coalesce into one —
// only property diffs and item changesets are meant to collapse.
func (o *Outbound) QueueAnnc(recipients []tsid.TSID, msg Message) {
	o.mu.Lock()
	seq := o.anncSeq
	o.anncSeq++
	o.mu.Unlock()

	for _, player := range recipients {
		o.queueAnncAt(player, msg, seq)
	}
}

func (o *Outbound) queueAnncAt(player tsid.TSID, msg Message, seq uint64) {
	o.mu.Lock()
	defer o.mu.Unlock()

	key := coalesceKey{target: player, msgType: msg.Type, seq: seq}
	byKey, ok := o.pending[player]
	if !ok {
		byKey = make(map[coalesceKey]Message)
		o.pending[player] = byKey
	}
	byKey[key] = msg
	o.order[player] = append(o.order[player], key)
}

// QueuePropertyDiff walks e's changed BoundedProperty set and, if
// non-empty, queues a single coalesced "properties" message for player.
// No-op if nothing changed.
func QueuePropertyDiff(o *Outbound, player tsid.TSID, e *entity.Player) {
	changed := e.Stats().ChangedDiff()
	if len(changed) == 0 {
		return
	}
	values := make(map[string]any, len(changed))
	for name, v := range changed {
		values[name] = v
	}
	o.QueueChange(player, e.TSID(), Message{Type: "properties", Payload: values})
}

// Flush pops and clears every pending message for player, in the order
// each (target, type) pair first appeared this cycle.
func (o *Outbound) Flush(player tsid.TSID) []Message {
	o.mu.Lock()
	defer o.mu.Unlock()

	byKey, ok := o.pending[player]
	if !ok {
		return nil
	}
	keys := o.order[player]
	out := make([]Message, 0, len(keys))
	for _, k := range keys {
		if m, ok := byKey[k]; ok {
			out = append(out, m)
		}
	}
	delete(o.pending, player)
	delete(o.order, player)
	return out
}

// Pending reports how many distinct messages are queued for player,
// without flushing them.
func (o *Outbound) Pending(player tsid.TSID) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.pending[player])
}

package relay

import (
	"encoding/json"
	"log"
	"sync"
)

// RoomMessage is the single payload shape of the legacy room channel.
type RoomMessage struct {
	Message string `json:"message"`
}

// DecodeRoomMessage parses a legacy room frame. A missing message key is a
// DecodeError, same policy as the typed envelopes.
func DecodeRoomMessage(raw []byte) (*RoomMessage, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, &DecodeError{Reason: "malformed frame: " + err.Error()}
	}
	if _, ok := fields["message"]; !ok {
		return nil, &DecodeError{Reason: "missing field message"}
	}
	var msg RoomMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, &DecodeError{Reason: err.Error()}
	}
	return &msg, nil
}

// EncodeRoomMessage serializes a room payload back to the wire.
func EncodeRoomMessage(msg *RoomMessage) ([]byte, error) {
	return json.Marshal(msg)
}

// Rooms is the legacy group-broadcast mode: named ad-hoc rooms fanning
// every payload out to all joined connections, the sender included. It is
// deliberately separate from the identity-routed Router; the two addressing
// schemes have different delivery semantics.
type Rooms struct {
	transport Deliverer

	mu      sync.Mutex
	members map[string]map[string]struct{}
}

// NewRooms creates an empty room table delivering through transport.
func NewRooms(transport Deliverer) *Rooms {
	return &Rooms{
		transport: transport,
		members:   make(map[string]map[string]struct{}),
	}
}

// Join adds the connection ref to the room. Joining twice is a no-op.
func (r *Rooms) Join(room, ref string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.members[room]
	if !ok {
		set = make(map[string]struct{})
		r.members[room] = set
	}
	set[ref] = struct{}{}
}

// Leave removes the connection ref from the room; the room itself is
// dropped when its last member leaves. Leaving twice is a no-op.
func (r *Rooms) Leave(room, ref string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.members[room]
	if !ok {
		return
	}
	delete(set, ref)
	if len(set) == 0 {
		delete(r.members, room)
	}
}

// Members returns the current member count of the room.
func (r *Rooms) Members(room string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.members[room])
}

// Broadcast delivers the payload to every connection joined to the room.
// There is no self-exclusion: the sender receives its own broadcast back.
// Refs that turn out to be offline are pruned from the room.
func (r *Rooms) Broadcast(room string, payload []byte) {
	r.mu.Lock()
	refs := make([]string, 0, len(r.members[room]))
	for ref := range r.members[room] {
		refs = append(refs, ref)
	}
	r.mu.Unlock()

	var stale []string
	for _, ref := range refs {
		if err := r.transport.Deliver(ref, payload); err != nil {
			log.Printf("room %s: delivery to %s failed: %v", room, ref, err)
			if err == ErrOffline {
				stale = append(stale, ref)
			}
		}
	}
	for _, ref := range stale {
		r.Leave(room, ref)
	}
}

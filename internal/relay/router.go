package relay

import "log"

// Resolver resolves an identity key to a live connection ref.
type Resolver interface {
	Resolve(key string) (ref string, ok bool)
}

// Deliverer pushes an encoded frame to the connection with the given ref.
type Deliverer interface {
	Deliver(ref string, payload []byte) error
}

// Router fans inbound envelopes out to the connections of the identities
// they address. Delivery is best-effort and at-most-once: an offline side
// is skipped, nothing is retried or queued, and a failure on one side never
// blocks the other.
type Router struct {
	directory Resolver
	transport Deliverer
}

// NewRouter creates a router over the given directory and transport.
func NewRouter(directory Resolver, transport Deliverer) *Router {
	return &Router{directory: directory, transport: transport}
}

// Dispatch routes one envelope. Receipts (message_delivered, message_read)
// go only to the receiver's connection; every other variant is pushed to
// both the sender's and the receiver's connection independently, so each
// party sees the event echoed with its hash intact.
func (r *Router) Dispatch(env Envelope) {
	payload, err := Encode(env)
	if err != nil {
		log.Printf("router: dropping %s: %v", env.EventType(), err)
		return
	}

	switch env.EventType() {
	case TypeMessageDelivered, TypeMessageRead:
		r.push(env.Receiver(), payload, env.EventType())
	default:
		r.push(env.Sender(), payload, env.EventType())
		r.push(env.Receiver(), payload, env.EventType())
	}
}

// push resolves one identity and delivers to it. Offline resolution and
// delivery failures are logged and scoped to this one side.
func (r *Router) push(id Identity, payload []byte, eventType string) {
	ref, ok := r.directory.Resolve(id.Key())
	if !ok {
		log.Printf("router: %s to %s skipped: offline", eventType, maskKey(id.Key()))
		return
	}
	if err := r.transport.Deliver(ref, payload); err != nil {
		log.Printf("router: %s to %s failed: %v", eventType, maskKey(id.Key()), err)
	}
}

// maskKey hides all but the last four digits of a phone-derived key in logs.
func maskKey(key string) string {
	if len(key) <= 4 {
		return "****"
	}
	return "****" + key[len(key)-4:]
}

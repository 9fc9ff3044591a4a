package classroom

import (
	"encoding/json"
	"fmt"
)

// relay forwards opaque negotiation payloads (offer, answer, ICE candidate)
// from one member to exactly one other. It never looks inside the payload.
type relay struct {
	b *broadcaster
}

func (r relay) forward(fromID, toID, kind string, payload json.RawMessage) error {
	if _, ok := r.b.lookup(fromID); !ok {
		return fmt.Errorf("relay from %s: %w", fromID, ErrForbidden)
	}
	sub, ok := r.b.lookup(toID)
	if !ok {
		return fmt.Errorf("relay to %s: %w", toID, ErrTargetNotFound)
	}
	ev := r.b.direct(EventSignal, Signal{FromID: fromID, ToID: toID, Kind: kind, Payload: payload})
	if !r.b.deliverSignal(toID, sub, ev) {
		return fmt.Errorf("relay to %s: outbox full: %w", toID, ErrTargetNotFound)
	}
	return nil
}

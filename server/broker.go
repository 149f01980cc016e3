package server

import (
	"log/slog"
	"sync"
)

// Broker fans events out to the sessions logged in for a product key.
type Broker struct {
	mu   sync.RWMutex
	subs map[string]map[Session]struct{} // product key to hashset of sessions
}

func NewBroker() *Broker {
	return &Broker{
		subs: make(map[string]map[Session]struct{}),
	}
}

func (b *Broker) Subscribe(productKey string, session Session) {
	slog.Debug("Subscribing", "product_key", productKey, "session", session.Meta().Id)
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.subs[productKey] == nil {
		b.subs[productKey] = make(map[Session]struct{})
	}
	b.subs[productKey][session] = struct{}{}
}

// Publish sends v to every subscriber of productKey and returns how many
// sends succeeded.
func (b *Broker) Publish(productKey string, v any) int {
	b.mu.RLock()
	targets := make([]Session, 0, len(b.subs[productKey]))
	for s := range b.subs[productKey] {
		targets = append(targets, s)
	}
	b.mu.RUnlock()

	sent := 0
	for _, s := range targets {
		if err := s.Send(v); err != nil {
			slog.Warn("There was an error pushing an event to a session", "product_key", productKey, "session", s.Meta().Id, "error", err.Error())
			continue
		}
		sent++
	}
	slog.Debug("Event published", "product_key", productKey, "subscribers", sent)
	return sent
}

func (b *Broker) Unsubscribe(productKey string, session Session) {
	slog.Debug("Unsubscribing", "product_key", productKey, "session", session.Meta().Id)
	b.mu.Lock()
	defer b.mu.Unlock()

	if subs, ok := b.subs[productKey]; ok {
		if _, exists := subs[session]; exists {
			delete(subs, session)
		} else {
			slog.Warn("Did not find session under product key to unsubscribe", "product_key", productKey, "session", session.Meta().Id)
		}
		if len(subs) == 0 {
			delete(b.subs, productKey)
		}
	}
}

// UnsubscribeAll drops session from every product key.
func (b *Broker) UnsubscribeAll(session Session) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for key, subs := range b.subs {
		delete(subs, session)
		if len(subs) == 0 {
			delete(b.subs, key)
		}
	}
}

func (b *Broker) Subscribers(productKey string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[productKey])
}

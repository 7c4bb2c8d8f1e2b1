// Package events publishes instance lifecycle events.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/projecteru2/core/log"
)

// Kind names a lifecycle transition.
type Kind string

const (
	Provisioned Kind = "instance.provisioned"
	Failed      Kind = "instance.failed"
	Removed     Kind = "instance.removed"
)

// Event is the JSON payload published for every transition.
type Event struct {
	Event     Kind      `json:"event"`
	ID        string    `json:"id,omitempty"`
	Subdomain string    `json:"subdomain,omitempty"`
	Time      time.Time `json:"time"`
	Error     string    `json:"error,omitempty"`
}

// Publisher delivers events. Publishing is fire-and-forget: a delivery
// failure never fails the operation that produced the event.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
	Close()
}

// Emit stamps ev, publishes it, and logs any delivery failure.
func Emit(ctx context.Context, p Publisher, ev Event) {
	if p == nil {
		return
	}
	if ev.Time.IsZero() {
		ev.Time = time.Now().UTC()
	}
	if err := p.Publish(ctx, ev); err != nil {
		log.WithFunc("events.Emit").Warnf(ctx, "publish %s for %s: %v", ev.Event, ev.ID, err)
	}
}

// Nop discards every event. Used when no broker is configured.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }
func (Nop) Close()                               {}

func encode(ev Event) ([]byte, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("marshal event %s: %w", ev.Event, err)
	}
	return data, nil
}

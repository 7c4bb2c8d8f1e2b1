package events

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/projecteru2/core/log"
)

const clientName = "sparklane"

// compile-time interface check.
var _ Publisher = (*NATS)(nil)

// NATS publishes events on a single subject.
type NATS struct {
	nc      *nats.Conn
	subject string
}

// NewNATS connects to url. The connection reconnects forever; events
// published while disconnected are buffered by the client.
func NewNATS(ctx context.Context, url, subject string) (*NATS, error) {
	logger := log.WithFunc("events.NewNATS")
	nc, err := nats.Connect(url,
		nats.Name(clientName),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second), //nolint:mnd
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warnf(ctx, "nats disconnected: %v", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Infof(ctx, "nats reconnected to %s", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats %s: %w", url, err)
	}
	return &NATS{nc: nc, subject: subject}, nil
}

func (n *NATS) Publish(_ context.Context, ev Event) error {
	if n.nc == nil || n.nc.IsClosed() {
		return errors.New("nats not connected")
	}
	data, err := encode(ev)
	if err != nil {
		return err
	}
	return n.nc.Publish(n.subject, data)
}

func (n *NATS) Close() {
	if n.nc != nil {
		_ = n.nc.Drain()
		n.nc.Close()
	}
}

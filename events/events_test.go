package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	got []Event
	err error
}

func (r *recorder) Publish(_ context.Context, ev Event) error {
	r.got = append(r.got, ev)
	return r.err
}
func (r *recorder) Close() {}

func TestEmitStampsTime(t *testing.T) {
	r := &recorder{}
	Emit(context.Background(), r, Event{Event: Provisioned, ID: "abc", Subdomain: "quick-fox"})
	require.Len(t, r.got, 1)
	assert.False(t, r.got[0].Time.IsZero())
}

func TestEmitSwallowsDeliveryErrors(t *testing.T) {
	r := &recorder{err: errors.New("broker down")}
	assert.NotPanics(t, func() {
		Emit(context.Background(), r, Event{Event: Failed, ID: "abc"})
	})
	Emit(context.Background(), nil, Event{Event: Failed})
}

func TestEncode(t *testing.T) {
	ts := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	data, err := encode(Event{Event: Failed, ID: "abc", Time: ts, Error: "mount failed"})
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, "instance.failed", got["event"])
	assert.Equal(t, "abc", got["id"])
	assert.Equal(t, "mount failed", got["error"])
	assert.NotContains(t, got, "subdomain")
}

func TestNATSPublishWithoutConnection(t *testing.T) {
	n := &NATS{subject: "sparklane.instances"}
	assert.Error(t, n.Publish(context.Background(), Event{Event: Removed}))
}

package pushclient

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jakechorley/snow-dispatch/pkg/core/model"
)

// fakeConfirm resolves once the test delivers the broker's answer
type fakeConfirm struct {
	done chan bool
}

func (f *fakeConfirm) deliver(ack bool) { f.done <- ack }

func (f *fakeConfirm) WaitContext(ctx context.Context) (bool, error) {
	select {
	case ack := <-f.done:
		return ack, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

// fakeChannel confirms every publish with the configured ack unless silent
type fakeChannel struct {
	ack        bool
	silent     bool
	publishErr error
	published  []amqp.Publishing
	keys       []string
	confirms   []*fakeConfirm
}

func (f *fakeChannel) publish(ctx context.Context, exchange, key string, msg amqp.Publishing) (confirmation, error) {
	if f.publishErr != nil {
		return nil, f.publishErr
	}
	f.published = append(f.published, msg)
	f.keys = append(f.keys, key)
	conf := &fakeConfirm{done: make(chan bool, 1)}
	f.confirms = append(f.confirms, conf)
	if !f.silent {
		conf.deliver(f.ack)
	}
	return conf, nil
}

func (f *fakeChannel) Close() error { return nil }

func newFake(ack bool) (*fakeChannel, *Client) {
	ch := &fakeChannel{ack: ack}
	return ch, newClient(ch, DefaultExchange, 50*time.Millisecond)
}

func TestSendPush_Acked(t *testing.T) {
	ch, client := newFake(true)

	msg := model.PushMessage{Title: "New snow job", Body: "1 Main St", Data: map[string]string{"job_id": "job-1"}}
	require.NoError(t, client.SendPush(context.Background(), "sub-1", msg))

	require.Len(t, ch.published, 1)
	assert.Equal(t, "push.job", ch.keys[0])
	assert.Equal(t, amqp.Persistent, ch.published[0].DeliveryMode)

	var env envelope
	require.NoError(t, json.Unmarshal(ch.published[0].Body, &env))
	assert.Equal(t, "sub-1", env.Subscription)
	assert.Equal(t, "job-1", env.Data["job_id"])
}

func TestSendPush_StormRoutingKey(t *testing.T) {
	ch, client := newFake(true)

	msg := model.PushMessage{Title: "Storm incoming", Data: map[string]string{"storm_event_id": "storm-1"}}
	require.NoError(t, client.SendPush(context.Background(), "sub-1", msg))
	assert.Equal(t, "push.storm", ch.keys[0])
}

func TestSendPush_Failures(t *testing.T) {
	t.Run("nack", func(t *testing.T) {
		_, client := newFake(false)
		err := client.SendPush(context.Background(), "sub-1", model.PushMessage{})
		assert.ErrorIs(t, err, ErrNacked)
	})

	t.Run("publish error", func(t *testing.T) {
		ch, client := newFake(true)
		ch.publishErr = errors.New("channel closed")
		err := client.SendPush(context.Background(), "sub-1", model.PushMessage{})
		assert.Error(t, err)
	})

	t.Run("no confirm before timeout", func(t *testing.T) {
		ch, client := newFake(true)
		ch.silent = true
		err := client.SendPush(context.Background(), "sub-1", model.PushMessage{})
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})
}

func TestSendPush_LateConfirmNotCreditedToNextMessage(t *testing.T) {
	ch, client := newFake(true)
	ch.silent = true

	err := client.SendPush(context.Background(), "sub-1", model.PushMessage{Title: "first"})
	require.ErrorIs(t, err, context.DeadlineExceeded)

	// The first message's ack shows up after its sender gave up
	ch.confirms[0].deliver(true)

	err = client.SendPush(context.Background(), "sub-2", model.PushMessage{Title: "second"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	require.Len(t, ch.published, 2)
}

func TestPing_NoConnection(t *testing.T) {
	_, client := newFake(true)
	assert.Error(t, client.Ping())
}

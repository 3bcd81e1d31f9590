package publisher

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/hookd/internal/runtime/envelope"
	"github.com/drblury/hookd/internal/runtime/jsoncodec"
	"github.com/drblury/hookd/internal/runtime/metadata"
	"github.com/drblury/hookd/internal/runtime/metrics"
	"github.com/drblury/hookd/internal/runtime/transport"
)

type published struct {
	topic string
	msg   *message.Message
}

// fakeBroker fails the first dialFailures dials and the first publishFailures
// publishes, then accepts everything.
type fakeBroker struct {
	mu              sync.Mutex
	dialFailures    int
	publishFailures int
	dials           int
	closes          int
	messages        []published
}

func (b *fakeBroker) Dial(ctx context.Context) (message.Publisher, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.dials++
	if b.dialFailures > 0 {
		b.dialFailures--
		return nil, errors.New("connection refused")
	}
	return &fakePublisher{broker: b}, nil
}

func (b *fakeBroker) snapshot() []published {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]published(nil), b.messages...)
}

type fakePublisher struct {
	broker *fakeBroker
}

func (p *fakePublisher) Publish(topic string, msgs ...*message.Message) error {
	p.broker.mu.Lock()
	defer p.broker.mu.Unlock()
	if p.broker.publishFailures > 0 {
		p.broker.publishFailures--
		return errors.New("channel closed")
	}
	for _, msg := range msgs {
		p.broker.messages = append(p.broker.messages, published{topic: topic, msg: msg})
	}
	return nil
}

func (p *fakePublisher) Close() error {
	p.broker.mu.Lock()
	defer p.broker.mu.Unlock()
	p.broker.closes++
	return nil
}

func testEvent(tool, correlationID string) *envelope.ToolMutationEvent {
	return &envelope.ToolMutationEvent{
		EventType:     envelope.EventTypeFor(tool),
		HookType:      "PostToolUse",
		ToolName:      tool,
		AgentID:       "agent-1",
		Repo:          envelope.RepoContext{GitRoot: "/repo", Branch: "main", HeadSHA: "abc123"},
		RawPayload:    []byte(`{}`),
		Timestamp:     time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		SourcePID:     42,
		CorrelationID: correlationID,
	}
}

func TestSubmitSaturatedQueueDoesNotBlock(t *testing.T) {
	m := metrics.New(nil)
	p := New(&fakeBroker{}, 2, nil, WithMetrics(m))

	assert.True(t, p.Submit(testEvent("Write", "1")))
	assert.True(t, p.Submit(testEvent("Write", "2")))

	done := make(chan bool, 1)
	go func() { done <- p.Submit(testEvent("Write", "3")) }()

	select {
	case ok := <-done:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("Submit blocked on a full queue")
	}

	stats := p.Stats()
	assert.Equal(t, uint64(2), stats.Submitted)
	assert.Equal(t, uint64(1), stats.Dropped)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Dropped))
	assert.Equal(t, 2, p.Len())
}

func TestSubmitAfterStopIsRejected(t *testing.T) {
	p := New(&fakeBroker{}, 4, nil)
	p.Stop()

	assert.False(t, p.Submit(testEvent("Edit", "1")))
	assert.Equal(t, uint64(1), p.Stats().Dropped)
	assert.Equal(t, StateStopped, p.State())
	assert.NotPanics(t, p.Stop)
}

func TestSubmitNil(t *testing.T) {
	p := New(&fakeBroker{}, 1, nil)
	assert.False(t, p.Submit(nil))
	assert.Zero(t, p.Stats().Dropped)
}

func TestPublishesInOrderWithRoutingKeyAndHeaders(t *testing.T) {
	broker := &fakeBroker{}
	p := New(broker, 8, nil)

	require.True(t, p.Submit(testEvent("Write", "c-1")))
	require.True(t, p.Submit(testEvent("Edit", "c-2")))

	p.Start(context.Background())
	p.Stop()

	msgs := broker.snapshot()
	require.Len(t, msgs, 2)
	assert.Equal(t, "tool.mutation.write", msgs[0].topic)
	assert.Equal(t, "tool.mutation.edit", msgs[1].topic)

	first := msgs[0].msg
	assert.Len(t, first.UUID, 26)
	assert.Equal(t, "c-1", first.Metadata.Get(metadata.KeyCorrelationID))
	assert.Equal(t, "agent-1", first.Metadata.Get(metadata.KeyAgentID))
	assert.Equal(t, "PostToolUse", first.Metadata.Get(metadata.KeyHookType))
	assert.Equal(t, "/repo", first.Metadata.Get(metadata.KeyGitRoot))

	var body map[string]any
	require.NoError(t, jsoncodec.Unmarshal(first.Payload, &body))
	assert.Equal(t, "tool.mutation.write", body["event_type"])
	assert.Equal(t, "c-1", body["correlation_id"])
	assert.Nil(t, body["file_path"])

	stats := p.Stats()
	assert.Equal(t, uint64(2), stats.Published)
	assert.Zero(t, stats.PublishErrors)
	assert.Equal(t, StateStopped, p.State())
	assert.Equal(t, 1, broker.closes)
}

func TestNewMessageAddsOptionalHeaders(t *testing.T) {
	event := testEvent("Write", "c-1")
	remote := "git@example.com:org/repo.git"
	ext := "rs"
	event.Repo.RemoteURL = &remote
	event.FileExt = &ext

	msg := NewMessage(event, []byte(`{}`))
	assert.Equal(t, remote, msg.Metadata.Get(metadata.KeyRemoteURL))
	assert.Equal(t, "rs", msg.Metadata.Get(metadata.KeyFileExt))
	assert.Equal(t, "main", msg.Metadata.Get(metadata.KeyBranch))

	bare := NewMessage(testEvent("Edit", "c-2"), []byte(`{}`))
	_, hasRemote := bare.Metadata[metadata.KeyRemoteURL]
	_, hasExt := bare.Metadata[metadata.KeyFileExt]
	assert.False(t, hasRemote)
	assert.False(t, hasExt)
}

func TestResumesAfterBrokerOutage(t *testing.T) {
	broker := &fakeBroker{dialFailures: 2}
	m := metrics.New(nil)
	p := New(broker, 8, nil, WithBackoff(5*time.Millisecond), WithMetrics(m))

	require.True(t, p.Submit(testEvent("Write", "c-1")))
	p.Start(context.Background())

	require.Eventually(t, func() bool { return len(broker.snapshot()) == 1 }, 2*time.Second, 5*time.Millisecond)

	require.True(t, p.Submit(testEvent("Edit", "c-2")))
	require.Eventually(t, func() bool { return len(broker.snapshot()) == 2 }, 2*time.Second, 5*time.Millisecond)
	p.Stop()

	stats := p.Stats()
	assert.Equal(t, uint64(2), stats.PublishErrors)
	assert.Equal(t, uint64(2), stats.Reconnects)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Reconnects))
	assert.Equal(t, 3, broker.dials)
}

func TestPublishFailureLosesEventAndRedials(t *testing.T) {
	broker := &fakeBroker{publishFailures: 1}
	p := New(broker, 8, nil, WithBackoff(5*time.Millisecond))

	require.True(t, p.Submit(testEvent("Write", "lost")))
	require.True(t, p.Submit(testEvent("Write", "kept")))
	p.Start(context.Background())

	require.Eventually(t, func() bool { return len(broker.snapshot()) == 1 }, 2*time.Second, 5*time.Millisecond)
	p.Stop()

	msgs := broker.snapshot()
	assert.Equal(t, "kept", msgs[0].msg.Metadata.Get(metadata.KeyCorrelationID))
	assert.Equal(t, 2, broker.dials)
	assert.Equal(t, uint64(1), p.Stats().PublishErrors)
}

func TestStopWithBrokerDownDropsQueuedEvents(t *testing.T) {
	broker := &fakeBroker{dialFailures: 1 << 20}
	p := New(broker, 8, nil, WithBackoff(time.Hour))

	require.True(t, p.Submit(testEvent("Write", "1")))
	require.True(t, p.Submit(testEvent("Write", "2")))
	p.Start(context.Background())
	require.Eventually(t, func() bool { return p.Stats().PublishErrors == 1 }, 2*time.Second, 5*time.Millisecond)

	stopped := make(chan struct{})
	go func() {
		p.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return while the broker was down")
	}

	assert.Equal(t, uint64(2), p.Stats().Dropped)
	assert.Equal(t, StateStopped, p.State())
}

func TestDialFailuresKeepQueuedEvents(t *testing.T) {
	broker := &fakeBroker{dialFailures: 1 << 20}
	p := New(broker, 8, nil, WithBackoff(time.Millisecond))

	for _, id := range []string{"1", "2", "3"} {
		require.True(t, p.Submit(testEvent("Write", id)))
	}
	p.Start(context.Background())
	t.Cleanup(p.Stop)

	require.Eventually(t, func() bool {
		broker.mu.Lock()
		defer broker.mu.Unlock()
		return broker.dials >= 5
	}, 2*time.Second, time.Millisecond)

	assert.Equal(t, 3, p.Len())
	assert.NotEqual(t, StateExchangeDeclared, p.State())
	assert.NotEqual(t, StatePublishing, p.State())
	assert.Zero(t, p.Stats().Published)
}

func TestContextCancelEndsLoop(t *testing.T) {
	broker := &fakeBroker{dialFailures: 1 << 20}
	p := New(broker, 1, nil, WithBackoff(time.Hour))

	ctx, cancel := context.WithCancel(context.Background())
	p.Start(ctx)
	require.Eventually(t, func() bool { return p.Stats().PublishErrors >= 1 }, 2*time.Second, 5*time.Millisecond)
	cancel()

	require.Eventually(t, func() bool { return p.State() == StateStopped }, 2*time.Second, 5*time.Millisecond)
	p.Stop()
}

func TestPublishesThroughWatermillChannel(t *testing.T) {
	pubSub := gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 4}, watermill.NopLogger{})
	t.Cleanup(func() { _ = pubSub.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	messages, err := pubSub.Subscribe(ctx, "tool.mutation.multiedit")
	require.NoError(t, err)

	p := New(transport.NewChannelDialer(pubSub), 4, nil)
	p.Start(ctx)
	t.Cleanup(p.Stop)

	require.True(t, p.Submit(testEvent("MultiEdit", "c-9")))

	select {
	case msg := <-messages:
		msg.Ack()
		assert.Equal(t, "c-9", msg.Metadata.Get(metadata.KeyCorrelationID))
		var event envelope.ToolMutationEvent
		require.NoError(t, jsoncodec.Unmarshal(msg.Payload, &event))
		assert.Equal(t, "tool.mutation.multiedit", event.EventType)
		assert.Equal(t, uint32(42), event.SourcePID)
	case <-time.After(2 * time.Second):
		t.Fatal("event not delivered")
	}
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "disconnected", StateDisconnected.String())
	assert.Equal(t, "connecting", StateConnecting.String())
	assert.Equal(t, "exchange_declared", StateExchangeDeclared.String())
	assert.Equal(t, "publishing", StatePublishing.String())
	assert.Equal(t, "stopped", StateStopped.String())
	assert.Equal(t, "unknown", State(99).String())
}

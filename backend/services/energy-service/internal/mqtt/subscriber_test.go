package mqtt

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	mochi "github.com/mochi-mqtt/server/v2"
	"github.com/mochi-mqtt/server/v2/hooks/auth"
	"github.com/mochi-mqtt/server/v2/listeners"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"energymon/backend/services/energy-service/internal/models"
	"energymon/backend/services/energy-service/internal/service"
)

const testTopic = "cotto/energy/main"

type recordingIngester struct {
	mu       sync.Mutex
	payloads []string
}

func (r *recordingIngester) Ingest(_ context.Context, source service.Source, payload []byte) (models.Reading, error) {
	if source != service.SourceFeed {
		return models.Reading{}, fmt.Errorf("unexpected source %s", source)
	}
	body := string(payload)
	if body == "panic" {
		panic("boom")
	}
	r.mu.Lock()
	r.payloads = append(r.payloads, body)
	r.mu.Unlock()
	if strings.HasPrefix(body, "bad") {
		return models.Reading{}, &service.DecodeError{Err: errors.New("malformed")}
	}
	return models.Reading{}, nil
}

func (r *recordingIngester) seen() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.payloads...)
}

func freeAddr(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())
	return addr
}

type testBroker struct {
	*mochi.Server
	closeOnce sync.Once
}

// shutdown is safe to call more than once; mochi's Close is not.
func (b *testBroker) shutdown() {
	b.closeOnce.Do(func() { _ = b.Server.Close() })
}

func startBroker(t *testing.T) (*testBroker, string) {
	t.Helper()
	addr := freeAddr(t)

	broker := mochi.New(&mochi.Options{InlineClient: true})
	require.NoError(t, broker.AddHook(new(auth.AllowHook), nil))
	require.NoError(t, broker.AddListener(listeners.NewTCP(listeners.Config{
		ID:      "test-tcp",
		Type:    "tcp",
		Address: addr,
	})))
	require.NoError(t, broker.Serve())

	tb := &testBroker{Server: broker}
	t.Cleanup(tb.shutdown)
	return tb, addr
}

func startSubscriber(t *testing.T, addr string, ing Ingester) (context.CancelFunc, <-chan error) {
	t.Helper()
	sub := NewSubscriber(Options{Broker: addr, Topic: testTopic, ClientIDPrefix: "test"}, ing, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sub.Run(ctx) }()

	select {
	case <-sub.Ready():
	case err := <-done:
		cancel()
		t.Fatalf("subscriber stopped before ready: %v", err)
	case <-time.After(5 * time.Second):
		cancel()
		t.Fatalf("subscriber not ready in time")
	}
	return cancel, done
}

func TestSubscriberProcessesInDeliveryOrder(t *testing.T) {
	broker, addr := startBroker(t)
	ing := &recordingIngester{}
	cancel, done := startSubscriber(t, addr, ing)

	var want []string
	for i := 0; i < 20; i++ {
		body := fmt.Sprintf(`{"voltage":%d}`, i)
		want = append(want, body)
		require.NoError(t, broker.Publish(testTopic, []byte(body), false, 0))
	}

	require.Eventually(t, func() bool { return len(ing.seen()) == len(want) }, 5*time.Second, 10*time.Millisecond)
	require.Equal(t, want, ing.seen())

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatalf("subscriber did not stop")
	}
}

func TestSubscriberSurvivesBadMessages(t *testing.T) {
	broker, addr := startBroker(t)
	ing := &recordingIngester{}
	cancel, _ := startSubscriber(t, addr, ing)
	defer cancel()

	require.NoError(t, broker.Publish(testTopic, []byte("bad-json"), false, 0))
	require.NoError(t, broker.Publish(testTopic, []byte("panic"), false, 0))
	require.NoError(t, broker.Publish(testTopic, []byte(`{"voltage":1}`), false, 0))

	require.Eventually(t, func() bool {
		seen := ing.seen()
		return len(seen) == 2 && seen[1] == `{"voltage":1}`
	}, 5*time.Second, 10*time.Millisecond)
}

func TestSubscriberIgnoresOtherTopics(t *testing.T) {
	broker, addr := startBroker(t)
	ing := &recordingIngester{}
	cancel, _ := startSubscriber(t, addr, ing)
	defer cancel()

	require.NoError(t, broker.Publish("other/topic", []byte(`{"voltage":9}`), false, 0))
	require.NoError(t, broker.Publish(testTopic, []byte(`{"voltage":1}`), false, 0))

	require.Eventually(t, func() bool { return len(ing.seen()) == 1 }, 5*time.Second, 10*time.Millisecond)
	require.Equal(t, []string{`{"voltage":1}`}, ing.seen())
}

func TestSubscriberReportsLostConnection(t *testing.T) {
	broker, addr := startBroker(t)
	cancel, done := startSubscriber(t, addr, &recordingIngester{})
	defer cancel()

	broker.shutdown()

	select {
	case err := <-done:
		require.ErrorIs(t, err, ErrConnectionLost)
	case <-time.After(5 * time.Second):
		t.Fatalf("subscriber did not notice broker shutdown")
	}
}

func TestSubscriberDialFailure(t *testing.T) {
	sub := NewSubscriber(Options{Broker: freeAddr(t), Topic: testTopic}, &recordingIngester{}, zap.NewNop())
	err := sub.Run(context.Background())
	require.Error(t, err)
}

func TestClientIDUsesPrefix(t *testing.T) {
	sub := NewSubscriber(Options{ClientIDPrefix: "meter"}, &recordingIngester{}, zap.NewNop())
	a, b := sub.clientID(), sub.clientID()
	require.True(t, strings.HasPrefix(a, "meter-"))
	require.NotEqual(t, a, b)
	require.LessOrEqual(t, len(a), 23)
}

func TestFeedQueueReleasesBlockedPushOnClose(t *testing.T) {
	queue := newFeedQueue(1)
	require.True(t, queue.push(context.Background(), []byte("first")))

	pushed := make(chan bool, 1)
	go func() { pushed <- queue.push(context.Background(), []byte("second")) }()

	select {
	case <-pushed:
		t.Fatalf("push into a full queue must wait")
	case <-time.After(50 * time.Millisecond):
	}

	queue.close()
	select {
	case ok := <-pushed:
		require.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatalf("push still blocked after close")
	}
	queue.close()
}

func TestFeedQueueHonoursContext(t *testing.T) {
	queue := newFeedQueue(1)
	require.True(t, queue.push(context.Background(), []byte("first")))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.False(t, queue.push(ctx, []byte("second")))
}

package mqtt

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/eclipse/paho.golang/paho"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"energymon/backend/services/energy-service/internal/models"
	"energymon/backend/services/energy-service/internal/service"
)

const (
	defaultQueueSize   = 256
	defaultDialTimeout = 10 * time.Second
)

// ErrConnectionLost is returned by Run when the broker connection drops.
var ErrConnectionLost = errors.New("mqtt: connection lost")

// Ingester consumes raw feed payloads.
type Ingester interface {
	Ingest(ctx context.Context, source service.Source, payload []byte) (models.Reading, error)
}

// Options configures a Subscriber.
type Options struct {
	Broker         string
	Topic          string
	ClientIDPrefix string
	Username       string
	Password       string
	KeepAlive      uint16
	QoS            byte
	QueueSize      int
}

// Subscriber listens on one topic and feeds every message through the ingestion path. Messages
// are handled one at a time, in delivery order, on the goroutine that called Run.
type Subscriber struct {
	opts    Options
	ingest  Ingester
	logger  *zap.Logger
	dialer  net.Dialer
	ready   chan struct{}
	readyMu sync.Once
}

// NewSubscriber returns subscriber.
func NewSubscriber(opts Options, ingest Ingester, logger *zap.Logger) *Subscriber {
	if opts.QueueSize <= 0 {
		opts.QueueSize = defaultQueueSize
	}
	if opts.KeepAlive == 0 {
		opts.KeepAlive = 60
	}
	return &Subscriber{
		opts:   opts,
		ingest: ingest,
		logger: logger,
		dialer: net.Dialer{Timeout: defaultDialTimeout},
		ready:  make(chan struct{}),
	}
}

// Ready is closed once the subscription has been acknowledged by the broker.
func (s *Subscriber) Ready() <-chan struct{} {
	return s.ready
}

// Run connects, subscribes and processes messages until ctx is cancelled (nil error) or the
// connection is lost. There is no reconnect.
func (s *Subscriber) Run(ctx context.Context) error {
	conn, err := s.dialer.DialContext(ctx, "tcp", s.opts.Broker)
	if err != nil {
		return fmt.Errorf("mqtt: dial %s: %w", s.opts.Broker, err)
	}

	queue := newFeedQueue(s.opts.QueueSize)
	defer queue.close()
	lost := make(chan error, 1)
	notifyLost := func(err error) {
		select {
		case lost <- err:
		default:
		}
	}

	clientID := s.clientID()
	client := paho.NewClient(paho.ClientConfig{
		ClientID: clientID,
		Conn:     conn,
		OnPublishReceived: []func(paho.PublishReceived) (bool, error){
			func(pr paho.PublishReceived) (bool, error) {
				// blocks while the worker falls behind, until Run returns
				queue.push(ctx, append([]byte(nil), pr.Packet.Payload...))
				return true, nil
			},
		},
		OnClientError: func(err error) {
			notifyLost(fmt.Errorf("%w: %v", ErrConnectionLost, err))
		},
		OnServerDisconnect: func(d *paho.Disconnect) {
			notifyLost(fmt.Errorf("%w: server disconnect reason %d", ErrConnectionLost, d.ReasonCode))
		},
	})

	connect := &paho.Connect{
		ClientID:   clientID,
		KeepAlive:  s.opts.KeepAlive,
		CleanStart: true,
	}
	if s.opts.Username != "" {
		connect.Username = s.opts.Username
		connect.UsernameFlag = true
		connect.Password = []byte(s.opts.Password)
		connect.PasswordFlag = true
	}
	if _, err := client.Connect(ctx, connect); err != nil {
		conn.Close()
		return fmt.Errorf("mqtt: connect %s: %w", s.opts.Broker, err)
	}
	s.logger.Info("connected to broker", zap.String("broker", s.opts.Broker), zap.String("client_id", clientID))

	suback, err := client.Subscribe(ctx, &paho.Subscribe{
		Subscriptions: []paho.SubscribeOptions{{Topic: s.opts.Topic, QoS: s.opts.QoS}},
	})
	if err != nil {
		_ = client.Disconnect(&paho.Disconnect{ReasonCode: 0})
		return fmt.Errorf("mqtt: subscribe %s: %w", s.opts.Topic, err)
	}
	if suback != nil && len(suback.Reasons) > 0 && suback.Reasons[0] >= 0x80 {
		_ = client.Disconnect(&paho.Disconnect{ReasonCode: 0})
		return fmt.Errorf("mqtt: subscribe %s rejected with reason %d", s.opts.Topic, suback.Reasons[0])
	}
	s.logger.Info("subscribed", zap.String("topic", s.opts.Topic), zap.Uint8("qos", s.opts.QoS))
	s.readyMu.Do(func() { close(s.ready) })

	for {
		select {
		case <-ctx.Done():
			if err := client.Disconnect(&paho.Disconnect{ReasonCode: 0}); err != nil {
				s.logger.Debug("disconnect failed", zap.Error(err))
			}
			return nil
		case err := <-lost:
			s.drain(ctx, queue.msgs)
			return err
		case payload := <-queue.msgs:
			s.handle(ctx, payload)
		}
	}
}

// handle processes one message. Failures are already logged by the ingestion path; nothing
// escapes, including panics, so one bad message cannot stop the feed.
func (s *Subscriber) handle(ctx context.Context, payload []byte) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("panic while handling feed message", zap.Any("panic", r), zap.Stack("stack"))
		}
	}()

	if _, err := s.ingest.Ingest(ctx, service.SourceFeed, payload); err != nil {
		s.logger.Debug("feed message not fully ingested", zap.Error(err))
	}
}

func (s *Subscriber) drain(ctx context.Context, msgs <-chan []byte) {
	for {
		select {
		case payload := <-msgs:
			s.handle(ctx, payload)
		default:
			return
		}
	}
}

// feedQueue hands payloads from paho's callback goroutine to the Run loop. Once closed, pending
// and future pushes give up so the callback never outlives Run.
type feedQueue struct {
	msgs chan []byte
	done chan struct{}
	once sync.Once
}

func newFeedQueue(size int) *feedQueue {
	return &feedQueue{
		msgs: make(chan []byte, size),
		done: make(chan struct{}),
	}
}

func (q *feedQueue) push(ctx context.Context, payload []byte) bool {
	select {
	case q.msgs <- payload:
		return true
	case <-q.done:
		return false
	case <-ctx.Done():
		return false
	}
}

func (q *feedQueue) close() {
	q.once.Do(func() { close(q.done) })
}

func (s *Subscriber) clientID() string {
	prefix := strings.TrimSpace(s.opts.ClientIDPrefix)
	if prefix == "" {
		prefix = "energy"
	}
	return prefix + "-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

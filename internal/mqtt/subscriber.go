// Package mqtt subscribes to the broker topic sensors publish readings on.
package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ntentasd/acuamon-api/internal/ingest"
	"github.com/ntentasd/acuamon-api/pkg/types"
	"github.com/rs/zerolog"

	paho "github.com/eclipse/paho.mqtt.golang"
)

type Ingester interface {
	Ingest(ctx context.Context, source string, p ingest.Payload) (types.Reading, error)
}

type Options struct {
	Broker   string
	Topic    string
	ClientID string
	Username string
	Password string
}

type Subscriber struct {
	client    paho.Client
	topic     string
	ing       Ingester
	logger    zerolog.Logger
	mu        sync.RWMutex
	connected bool

	stopCh   chan struct{}
	stopOnce sync.Once
}

func NewSubscriber(opts Options, ing Ingester, logger zerolog.Logger) *Subscriber {
	s := &Subscriber{
		topic:  opts.Topic,
		ing:    ing,
		logger: logger.With().Str("component", "mqtt").Str("topic", opts.Topic).Logger(),
		stopCh: make(chan struct{}),
	}

	co := paho.NewClientOptions()
	co.AddBroker(opts.Broker)
	co.SetClientID(opts.ClientID)
	if opts.Username != "" {
		co.SetUsername(opts.Username)
		co.SetPassword(opts.Password)
	}
	co.SetCleanSession(true)
	co.SetAutoReconnect(true)
	co.SetConnectRetry(true)
	co.SetConnectRetryInterval(5 * time.Second)
	co.SetMaxReconnectInterval(60 * time.Second)
	co.SetKeepAlive(30 * time.Second)
	co.SetPingTimeout(10 * time.Second)

	co.SetOnConnectHandler(func(c paho.Client) {
		s.setConnected(true)
		s.logger.Info().Str("broker", opts.Broker).Msg("mqtt connected")
		// Clean sessions lose subscriptions on reconnect.
		if err := s.subscribe(c); err != nil {
			s.logger.Error().Err(err).Msg("subscribe")
		}
	})
	co.SetConnectionLostHandler(func(_ paho.Client, err error) {
		s.setConnected(false)
		s.logger.Warn().Err(err).Msg("mqtt connection lost")
	})

	s.client = paho.NewClient(co)
	return s
}

// Connect blocks until the broker accepts the connection, ctx is cancelled
// or the subscriber is stopped.
func (s *Subscriber) Connect(ctx context.Context) error {
	select {
	case <-s.stopCh:
		return fmt.Errorf("subscriber stopped")
	default:
	}
	if s.IsConnected() {
		return nil
	}

	token := s.client.Connect()
	const poll = 200 * time.Millisecond
	for !token.WaitTimeout(poll) {
		select {
		case <-ctx.Done():
			s.client.Disconnect(0)
			return ctx.Err()
		case <-s.stopCh:
			s.client.Disconnect(0)
			return fmt.Errorf("subscriber stopped")
		default:
		}
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}
	return nil
}

func (s *Subscriber) subscribe(c paho.Client) error {
	token := c.Subscribe(s.topic, 1, func(_ paho.Client, msg paho.Message) {
		s.handleMessage(context.Background(), msg.Topic(), msg.Payload())
	})
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("subscribe timeout for topic %s", s.topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("subscribe to %s: %w", s.topic, err)
	}
	s.logger.Info().Msg("subscribed")
	return nil
}

func (s *Subscriber) handleMessage(ctx context.Context, topic string, payload []byte) bool {
	var p ingest.Payload
	if err := json.Unmarshal(payload, &p); err != nil {
		s.logger.Warn().Err(err).Str("from", topic).Int("size", len(payload)).Msg("dropping malformed message")
		return false
	}
	if strings.TrimSpace(p.Unit) == "" && strings.TrimSpace(p.UnitID) == "" {
		p.Unit = unitFromTopic(s.topic, topic)
	}
	if _, err := s.ing.Ingest(ctx, ingest.SourceMQTT, p); err != nil {
		return false
	}
	return true
}

// unitFromTopic returns the topic level matched by the first single-level
// wildcard of pattern: "estanques/+/lecturas" and "estanques/Estanque 3/lecturas"
// yield "Estanque 3".
func unitFromTopic(pattern, topic string) string {
	pp := strings.Split(pattern, "/")
	tp := strings.Split(topic, "/")
	for i, level := range pp {
		if level == "+" && i < len(tp) {
			return tp[i]
		}
	}
	return ""
}

func (s *Subscriber) IsConnected() bool {
	s.mu.RLock()
	connected := s.connected
	s.mu.RUnlock()
	return connected && s.client.IsConnected()
}

// Disconnect is idempotent.
func (s *Subscriber) Disconnect() {
	s.stopOnce.Do(func() { close(s.stopCh) })

	if s.IsConnected() {
		s.client.Unsubscribe(s.topic).WaitTimeout(2 * time.Second)
	}
	s.client.Disconnect(250)
	s.setConnected(false)
	s.logger.Info().Msg("mqtt subscriber disconnected")
}

func (s *Subscriber) setConnected(v bool) {
	s.mu.Lock()
	s.connected = v
	s.mu.Unlock()
}

// Package mqtt publishes now-playing notifications to an MQTT broker.
package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/airwav/airwav/internal/model"
	"github.com/airwav/airwav/internal/observability"
	"github.com/airwav/airwav/internal/state"
)

const (
	connectTimeout = 10 * time.Second

	// defaultPublishWait bounds how long a publish may block before the
	// message is dropped.
	defaultPublishWait = 2 * time.Second
)

// Config holds broker connection settings.
type Config struct {
	Broker      string
	Topic       string
	ClientID    string
	Username    string
	Password    string
	Retain      bool
	PublishWait time.Duration
}

// nowPlaying is the payload published on each segment start.
type nowPlaying struct {
	SegmentID string `json:"segmentId"`
	Kind      string `json:"kind"`
	Title     string `json:"title,omitempty"`
	Note      string `json:"note,omitempty"`
	StartedAt string `json:"startedAt"`
}

// client is the subset of the paho client the publisher uses.
type client interface {
	Connect() paho.Token
	Publish(topic string, qos byte, retained bool, payload any) paho.Token
	IsConnected() bool
	Disconnect(quiesce uint)
}

// Publisher mirrors segment starts from the state bus onto an MQTT topic.
// Publishing is best effort: a slow or absent broker drops the message
// rather than holding up anything upstream.
type Publisher struct {
	cfg    Config
	store  *state.Store
	logger *slog.Logger

	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	client client
}

// New creates a publisher. Start connects and begins mirroring events.
func New(cfg Config, store *state.Store, logger *slog.Logger) *Publisher {
	if cfg.PublishWait <= 0 {
		cfg.PublishWait = defaultPublishWait
	}
	return &Publisher{
		cfg:    cfg,
		store:  store,
		logger: observability.WithComponent(logger, "mqtt"),
	}
}

// Start connects to the broker and subscribes to the state bus. The
// connection is established in the background; until it is up, publishes
// are dropped and the paho client keeps retrying.
func (p *Publisher) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.ctx != nil {
		return errors.New("mqtt publisher already started")
	}
	if p.cfg.Broker == "" {
		return errors.New("mqtt broker is required")
	}
	if p.cfg.Topic == "" {
		return errors.New("mqtt topic is required")
	}

	if p.client == nil {
		opts := paho.NewClientOptions().
			AddBroker(p.cfg.Broker).
			SetClientID(p.cfg.ClientID).
			SetCleanSession(true).
			SetAutoReconnect(true).
			SetConnectRetry(true).
			SetConnectTimeout(connectTimeout)
		if p.cfg.Username != "" {
			opts.SetUsername(p.cfg.Username)
			opts.SetPassword(p.cfg.Password)
		}
		opts.OnConnect = func(paho.Client) {
			p.logger.Info("connected to broker", slog.String("broker", p.cfg.Broker))
		}
		opts.OnConnectionLost = func(_ paho.Client, err error) {
			p.logger.Warn("broker connection lost", slog.String("error", err.Error()))
		}
		p.client = paho.NewClient(opts)
	}
	p.client.Connect()

	p.ctx, p.cancel = context.WithCancel(ctx)
	sub, _ := p.store.Subscribe()
	p.wg.Add(1)
	go p.run(p.ctx, sub)

	p.logger.Info("mqtt publisher started",
		slog.String("broker", p.cfg.Broker),
		slog.String("topic", p.cfg.Topic))
	return nil
}

// Stop unsubscribes from the bus and disconnects from the broker.
func (p *Publisher) Stop() {
	p.mu.Lock()
	if p.ctx == nil {
		p.mu.Unlock()
		return
	}
	p.cancel()
	p.ctx, p.cancel = nil, nil
	c := p.client
	p.mu.Unlock()

	p.wg.Wait()
	if c != nil && c.IsConnected() {
		c.Disconnect(250)
	}
	p.logger.Info("mqtt publisher stopped")
}

func (p *Publisher) run(ctx context.Context, sub *state.Subscriber) {
	defer p.wg.Done()
	defer p.store.Unsubscribe(sub.ID)

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.Events():
			if !ok {
				return
			}
			if ev.Event != model.EventSegmentStarted {
				continue
			}
			seg, ok := ev.Payload.(model.RenderedSegment)
			if !ok {
				continue
			}
			p.publish(seg, ev.TS)
		}
	}
}

func (p *Publisher) publish(seg model.RenderedSegment, startedAt time.Time) {
	if !p.client.IsConnected() {
		p.logger.Warn("broker not connected, dropping now-playing",
			slog.String("segment_id", seg.ID))
		return
	}

	payload, err := json.Marshal(nowPlaying{
		SegmentID: seg.ID,
		Kind:      string(seg.Kind),
		Title:     seg.Note,
		Note:      seg.CommentaryText,
		StartedAt: startedAt.UTC().Format(time.RFC3339),
	})
	if err != nil {
		p.logger.Error("encoding now-playing", slog.String("error", err.Error()))
		return
	}

	token := p.client.Publish(p.cfg.Topic, 0, p.cfg.Retain, payload)
	if !token.WaitTimeout(p.cfg.PublishWait) {
		p.logger.Warn("publish timed out, dropping now-playing",
			slog.String("segment_id", seg.ID))
		return
	}
	if err := token.Error(); err != nil {
		p.logger.Warn("publish failed",
			slog.String("segment_id", seg.ID),
			slog.String("error", err.Error()))
		return
	}
	p.logger.Debug("now playing published",
		slog.String("segment_id", seg.ID),
		slog.String("kind", string(seg.Kind)))
}

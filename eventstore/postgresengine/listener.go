package postgresengine

import (
	"context"
	"errors"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/lib/pq"

	"github.com/eventflowlabs/eventflow-go/event"
	"github.com/eventflowlabs/eventflow-go/observability"
)

var (
	// ErrNilNotificationHandler occurs when Listener.Start is called without a handler.
	ErrNilNotificationHandler = errors.New("notification handler must not be nil")

	// ErrEmptyConnectionString occurs when NewListener is called with an empty DSN.
	ErrEmptyConnectionString = errors.New("connection string must not be empty")
)

var json = jsoniter.ConfigFastest

const (
	defaultRepollInterval      = 30 * time.Second
	minReconnectInterval       = 10 * time.Second
	maxReconnectInterval       = time.Minute
	logMsgListenerStarted      = "listener started"
	logMsgListenerStopped      = "listener stopped"
	logMsgListenerReconnected  = "listener connection re-established"
	logMsgDecodePayloadFailed  = "failed to decode notification payload"
	logMsgConnectionPingFailed = "listener connection ping failed"
	logAttrChannel             = "channel"
	logAttrPayload             = "payload"
)

// Notification is the advisory envelope carried on the pg_notify channel
// after a successful append. It is a hint, not a delivery mechanism:
// notifications can arrive more than once or be dropped on connection loss,
// so consumers re-read through the store instead of trusting the payload.
type Notification struct {
	EventID       string    `json:"event_id"`
	EventType     string    `json:"event_type"`
	AggregateID   string    `json:"aggregate_id"`
	AggregateType string    `json:"aggregate_type"`
	Version       uint      `json:"version"`
	OccurredAt    time.Time `json:"occurred_at"`
}

// IsWakeup reports whether this is a bare wake-up rather than a decoded
// append notification. Wake-ups are delivered after reconnects and on the
// periodic re-poll interval, so consumers catch up on anything the channel
// may have dropped.
func (n Notification) IsWakeup() bool {
	return n.EventID == ""
}

// NotificationFromEvent builds the advisory envelope for an appended event.
func NotificationFromEvent(e event.Event) Notification {
	return Notification{
		EventID:       e.EventID,
		EventType:     e.EventType,
		AggregateID:   e.AggregateID,
		AggregateType: e.AggregateType,
		Version:       e.Version,
		OccurredAt:    e.OccurredAt,
	}
}

// EncodeNotification serializes the envelope for pg_notify.
func EncodeNotification(n Notification) ([]byte, error) {
	return json.Marshal(n)
}

// DecodeNotification deserializes a pg_notify payload.
func DecodeNotification(payload []byte) (Notification, error) {
	var n Notification
	if err := json.Unmarshal(payload, &n); err != nil {
		return Notification{}, err
	}

	return n, nil
}

// NotificationHandler consumes notifications and wake-ups from a Listener.
// It runs on the listener goroutine; slow handlers delay later notifications.
type NotificationHandler func(ctx context.Context, n Notification)

// Listener subscribes to the store's pg_notify channel and invokes a handler
// for every notification. It reconnects automatically and wakes the handler
// periodically so consumers never rely on the channel alone.
type Listener struct {
	pqListener     *pq.Listener
	channel        string
	repollInterval time.Duration
	logger         observability.Logger
}

// ListenerOption defines a functional option for configuring a Listener.
type ListenerOption func(*Listener) error

// WithListenerChannel sets the channel to listen on. It must match the
// channel configured on the event store.
func WithListenerChannel(channel string) ListenerOption {
	return func(l *Listener) error {
		if channel == "" {
			return ErrEmptyNotifyChannel
		}

		l.channel = channel

		return nil
	}
}

// WithRepollInterval sets how often the handler is woken up in the absence
// of notifications.
func WithRepollInterval(interval time.Duration) ListenerOption {
	return func(l *Listener) error {
		if interval <= 0 {
			return errors.New("repoll interval must be positive")
		}

		l.repollInterval = interval

		return nil
	}
}

// WithListenerLogger sets the structured log sink for listener diagnostics.
func WithListenerLogger(logger observability.Logger) ListenerOption {
	return func(l *Listener) error {
		l.logger = logger
		return nil
	}
}

// NewListener creates a Listener connected with the given DSN.
func NewListener(dsn string, options ...ListenerOption) (*Listener, error) {
	if dsn == "" {
		return nil, ErrEmptyConnectionString
	}

	l := &Listener{
		channel:        defaultNotifyChannel,
		repollInterval: defaultRepollInterval,
	}

	for _, option := range options {
		if err := option(l); err != nil {
			return nil, err
		}
	}

	l.pqListener = pq.NewListener(dsn, minReconnectInterval, maxReconnectInterval, l.connectionEvent)

	return l, nil
}

func (l *Listener) connectionEvent(ev pq.ListenerEventType, err error) {
	if l.logger == nil {
		return
	}

	switch ev {
	case pq.ListenerEventReconnected:
		l.logger.Info(logMsgListenerReconnected, logAttrChannel, l.channel)
	case pq.ListenerEventConnectionAttemptFailed:
		l.logger.Warn(logMsgConnectionPingFailed, logAttrError, err.Error())
	default:
	}
}

// Start listens on the configured channel and blocks, invoking the handler
// for every notification until the context is canceled. Payloads that fail
// to decode are delivered as wake-ups so no append goes unnoticed.
func (l *Listener) Start(ctx context.Context, handler NotificationHandler) error {
	if handler == nil {
		return ErrNilNotificationHandler
	}

	if err := l.pqListener.Listen(l.channel); err != nil {
		return err
	}

	if l.logger != nil {
		l.logger.Info(logMsgListenerStarted, logAttrChannel, l.channel)
	}

	return l.consume(ctx, l.pqListener.Notify, handler)
}

// consume is the listener loop. The re-poll ticker runs on a fixed cadence
// so wake-ups still fire under a steady notification stream.
func (l *Listener) consume(ctx context.Context, notify <-chan *pq.Notification, handler NotificationHandler) error {
	repoll := time.NewTicker(l.repollInterval)
	defer repoll.Stop()

	for {
		select {
		case <-ctx.Done():
			if l.logger != nil {
				l.logger.Info(logMsgListenerStopped, logAttrChannel, l.channel)
			}

			return ctx.Err()

		case raw := <-notify:
			// a nil notification signals a reconnect; deliver a wake-up
			// because notifications may have been lost in between
			if raw == nil {
				handler(ctx, Notification{})
				continue
			}

			n, decodeErr := DecodeNotification([]byte(raw.Extra))
			if decodeErr != nil {
				if l.logger != nil {
					l.logger.Warn(logMsgDecodePayloadFailed,
						logAttrError, decodeErr.Error(),
						logAttrPayload, raw.Extra,
					)
				}

				handler(ctx, Notification{})
				continue
			}

			handler(ctx, n)

		case <-repoll.C:
			if pingErr := l.ping(); pingErr != nil && l.logger != nil {
				l.logger.Warn(logMsgConnectionPingFailed, logAttrError, pingErr.Error())
			}

			handler(ctx, Notification{})
		}
	}
}

func (l *Listener) ping() error {
	if l.pqListener == nil {
		return nil
	}

	return l.pqListener.Ping()
}

// Close tears down the underlying connection. A blocked Start returns after
// its context is canceled.
func (l *Listener) Close() error {
	return l.pqListener.Close()
}

// Package push broadcasts finalized drafts to an FCM topic.
package push

import (
	"context"
	"errors"
	"strings"
	"time"

	"firebase.google.com/go/v4/messaging"
	"golang.org/x/time/rate"

	"versecast/internal/message"
	logx "versecast/pkg/logx"
)

// Client is the part of *messaging.Client the notifier uses.
type Client interface {
	Send(ctx context.Context, msg *messaging.Message) (string, error)
}

type Config struct {
	Topic     string
	ChannelID string
	// Priority is "high" or "normal".
	Priority string
	Timeout  time.Duration
	// RatePerSec caps sends per second across the process. 0 disables the limit.
	RatePerSec int
	DryRun     bool
}

// Receipt acknowledges that the push service accepted a message.
type Receipt struct {
	MessageID string    `json:"message_id"`
	Topic     string    `json:"topic"`
	DryRun    bool      `json:"dry_run,omitempty"`
	SentAt    time.Time `json:"sent_at"`
}

// Notifier makes exactly one delivery attempt per Send.
type Notifier struct {
	client  Client
	cfg     Config
	limiter *rate.Limiter
	log     logx.Logger
}

func New(client Client, cfg Config, log logx.Logger) *Notifier {
	if cfg.Priority == "" {
		cfg.Priority = "high"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	n := &Notifier{client: client, cfg: cfg, log: log.With(logx.String("comp", "push"))}
	if cfg.RatePerSec > 0 {
		n.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
	}
	return n
}

// Message builds the topic-addressed payload. Title and body are copied
// verbatim; length is the rewriter's concern.
func (n *Notifier) Message(d message.Draft) *messaging.Message {
	apnsPriority := "10"
	if n.cfg.Priority != "high" {
		apnsPriority = "5"
	}
	return &messaging.Message{
		Topic: n.cfg.Topic,
		Notification: &messaging.Notification{
			Title: d.Title,
			Body:  d.Body,
		},
		Android: &messaging.AndroidConfig{
			Priority: n.cfg.Priority,
			Notification: &messaging.AndroidNotification{
				ChannelID: n.cfg.ChannelID,
			},
		},
		APNS: &messaging.APNSConfig{
			Headers: map[string]string{"apns-priority": apnsPriority},
		},
	}
}

// Send publishes d to the configured topic. Every failure is a *DeliveryError.
func (n *Notifier) Send(ctx context.Context, d message.Draft) (Receipt, error) {
	if n.limiter != nil {
		if err := n.limiter.Wait(ctx); err != nil {
			return Receipt{}, &DeliveryError{Topic: n.cfg.Topic, Err: err}
		}
	}

	sctx, cancel := context.WithTimeout(ctx, n.cfg.Timeout)
	defer cancel()

	id, err := n.client.Send(sctx, n.Message(d))
	if err == nil && strings.TrimSpace(id) == "" {
		err = errors.New("push service returned an empty message id")
	}
	if err != nil {
		return Receipt{}, &DeliveryError{Topic: n.cfg.Topic, Temporary: temporary(err), Err: err}
	}

	rc := Receipt{MessageID: id, Topic: n.cfg.Topic, DryRun: n.cfg.DryRun, SentAt: time.Now()}
	n.log.Debug("push accepted", logx.String("topic", rc.Topic), logx.String("message_id", id), logx.Bool("dry_run", rc.DryRun))
	return rc, nil
}

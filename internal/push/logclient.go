package push

import (
	"context"

	"firebase.google.com/go/v4/messaging"
	"github.com/google/uuid"

	logx "versecast/pkg/logx"
)

// LogClient stands in for FCM when no credentials are configured: it logs
// the payload and returns a synthetic message id.
type LogClient struct {
	log logx.Logger
}

func NewLogClient(log logx.Logger) *LogClient {
	return &LogClient{log: log.With(logx.String("comp", "push.log"))}
}

func (c *LogClient) Send(ctx context.Context, msg *messaging.Message) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	id := "log/" + uuid.NewString()
	fields := []logx.Field{logx.String("message_id", id), logx.String("topic", msg.Topic)}
	if msg.Notification != nil {
		fields = append(fields, logx.String("title", msg.Notification.Title), logx.String("body", msg.Notification.Body))
	}
	if msg.Android != nil && msg.Android.Notification != nil {
		fields = append(fields, logx.String("channel_id", msg.Android.Notification.ChannelID))
	}
	c.log.Info("push (log provider)", fields...)
	return id, nil
}

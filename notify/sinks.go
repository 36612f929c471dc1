package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"html"
	"strconv"
	"time"

	"github.com/meinhoongagan/service-marketplace/models"
	"github.com/meinhoongagan/service-marketplace/utils"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func itoa(id int64) string { return strconv.FormatInt(id, 10) }

// EmailSender is implemented by utils.Mailer.
type EmailSender interface {
	SendEmail(to, subject, body string) error
}

// EmailSink mails every notification to its recipient.
type EmailSink struct {
	mailer EmailSender
}

func NewEmailSink(mailer EmailSender) *EmailSink {
	return &EmailSink{mailer: mailer}
}

func (s *EmailSink) Name() string { return "email" }

func (s *EmailSink) Deliver(_ context.Context, n models.Notification, to models.User) error {
	if to.Email == "" {
		return nil
	}
	body := fmt.Sprintf(`
		<p>Dear %s,</p>
		<p>%s</p>
		<p><small>Sent %s</small></p>
		<p>Best regards,</p>
		<p>The Marketplace Team</p>
	`, html.EscapeString(to.Name), html.EscapeString(n.Message), utils.FormatDateTime(n.SentAt))

	return s.mailer.SendEmail(to.Email, "You have a new notification", body)
}

// RedisSink keeps a capped per-user feed of recent notifications so polling
// clients can read them without scanning the store.
type RedisSink struct {
	client redis.Cmdable
	maxLen int64
	ttl    time.Duration
}

func NewRedisSink(client redis.Cmdable, maxLen int64) *RedisSink {
	if maxLen <= 0 {
		maxLen = 100
	}
	return &RedisSink{client: client, maxLen: maxLen, ttl: 30 * 24 * time.Hour}
}

func (s *RedisSink) Name() string { return "redis" }

func FeedKey(userID int64) string {
	return "notifications:" + itoa(userID)
}

func (s *RedisSink) Deliver(ctx context.Context, n models.Notification, _ models.User) error {
	data, err := json.Marshal(n)
	if err != nil {
		return err
	}
	key := FeedKey(n.UserID)
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LPush(ctx, key, data)
		pipe.LTrim(ctx, key, 0, s.maxLen-1)
		pipe.Expire(ctx, key, s.ttl)
		return nil
	})
	return err
}

// Recent returns up to limit notifications from the user's feed, newest
// first.
func (s *RedisSink) Recent(ctx context.Context, userID int64, limit int64) ([]models.Notification, error) {
	raw, err := s.client.LRange(ctx, FeedKey(userID), 0, limit-1).Result()
	if err != nil {
		return nil, err
	}
	out := make([]models.Notification, 0, len(raw))
	for _, r := range raw {
		var n models.Notification
		if err := json.Unmarshal([]byte(r), &n); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, nil
}

// Publisher is implemented by *nats.Conn.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// NATSSink publishes every notification on <prefix>.notifications.<user id>.
type NATSSink struct {
	pub    Publisher
	prefix string
}

func NewNATSSink(pub Publisher, prefix string) *NATSSink {
	return &NATSSink{pub: pub, prefix: prefix}
}

func (s *NATSSink) Name() string { return "nats" }

func (s *NATSSink) Subject(userID int64) string {
	return s.prefix + ".notifications." + itoa(userID)
}

func (s *NATSSink) Deliver(_ context.Context, n models.Notification, _ models.User) error {
	data, err := json.Marshal(n)
	if err != nil {
		return err
	}
	return s.pub.Publish(s.Subject(n.UserID), data)
}

// ConnectNATS dials url with reconnect handling logged through log.
func ConnectNATS(url string, log *zap.Logger) (*nats.Conn, error) {
	return nats.Connect(url,
		nats.Name("service-marketplace"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn("nats disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Info("nats reconnected", zap.String("url", c.ConnectedUrl()))
		}),
	)
}

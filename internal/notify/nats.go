package notify

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/nats-io/nats.go"
)

// NATSDispatcher publishes one message per recipient to a NATS subject of
// the form <prefix>.<participant-id>. Consumers (mobile push, SMS gateway,
// in-app feed) subscribe with a wildcard.
type NATSDispatcher struct {
	conn          *nats.Conn
	subjectPrefix string
	logger        *slog.Logger
}

// NewNATSDispatcher returns a dispatcher publishing on the given connection.
func NewNATSDispatcher(conn *nats.Conn, subjectPrefix string, logger *slog.Logger) *NATSDispatcher {
	return &NATSDispatcher{conn: conn, subjectPrefix: subjectPrefix, logger: logger}
}

// Dispatch publishes each message, continuing past per-recipient failures.
func (d *NATSDispatcher) Dispatch(ctx context.Context, msgs []Message) {
	for _, m := range msgs {
		subject := d.subjectPrefix + "." + m.RecipientID
		data, err := json.Marshal(m)
		if err != nil {
			d.logger.ErrorContext(ctx, "encoding notification failed",
				slog.String("lot_id", m.LotID),
				slog.String("recipient", m.RecipientID),
				slog.Any("error", err),
			)
			continue
		}
		if err := d.conn.Publish(subject, data); err != nil {
			d.logger.ErrorContext(ctx, "publishing notification failed",
				slog.String("subject", subject),
				slog.String("lot_id", m.LotID),
				slog.Any("error", err),
			)
			continue
		}
		d.logger.InfoContext(ctx, "notification published",
			slog.String("subject", subject),
			slog.String("kind", string(m.Kind)),
		)
	}
}

// LogDispatcher writes messages to the log only. It is the fallback when no
// broker is configured and the dispatcher used in tests.
type LogDispatcher struct {
	logger *slog.Logger
}

// NewLogDispatcher returns a log-only dispatcher.
func NewLogDispatcher(logger *slog.Logger) *LogDispatcher {
	return &LogDispatcher{logger: logger}
}

// Dispatch logs each message.
func (d *LogDispatcher) Dispatch(ctx context.Context, msgs []Message) {
	for _, m := range msgs {
		d.logger.InfoContext(ctx, "lot outcome notification",
			slog.String("lot_id", m.LotID),
			slog.String("recipient", m.RecipientID),
			slog.String("kind", string(m.Kind)),
			slog.String("body", m.Body),
		)
	}
}

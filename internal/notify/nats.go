package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"github.com/i474232898/warnlevel-sync/internal/warnlevel"
)

// DefaultSubject is the NATS subject snapshot events are published on.
const DefaultSubject = "warnlevel.snapshot.replaced"

// NATSPublisher publishes snapshot events as JSON to a NATS subject, so that
// processes other than this one (widgets, dashboards) can reload.
type NATSPublisher struct {
	conn    *nats.Conn
	subject string
}

var _ warnlevel.Notifier = (*NATSPublisher)(nil)

// NewNATSPublisher connects to url. An unreachable server is not an error:
// the client keeps retrying in the background and Publish reports errors
// until a server is reached.
func NewNATSPublisher(url, subject string) (*NATSPublisher, error) {
	if subject == "" {
		subject = DefaultSubject
	}

	conn, err := nats.Connect(url,
		nats.Name("warnlevel-sync"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn().Err(err).Msg("notify: nats disconnected")
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Info().Str("url", c.ConnectedUrl()).Msg("notify: nats reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	return &NATSPublisher{conn: conn, subject: subject}, nil
}

func (p *NATSPublisher) Publish(_ context.Context, ev warnlevel.SnapshotEvent) error {
	msg, err := newEventMsg(p.subject, ev)
	if err != nil {
		return err
	}
	if err := p.conn.PublishMsg(msg); err != nil {
		return fmt.Errorf("nats: publish: %w", err)
	}
	return nil
}

// newEventMsg encodes ev. The sync id doubles as the message id so that
// JetStream consumers can drop redeliveries.
func newEventMsg(subject string, ev warnlevel.SnapshotEvent) (*nats.Msg, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("nats: encode event: %w", err)
	}

	msg := nats.NewMsg(subject)
	msg.Header.Set(nats.MsgIdHdr, ev.SyncID)
	msg.Data = data
	return msg, nil
}

// Close flushes pending messages and closes the connection.
func (p *NATSPublisher) Close() error {
	if p.conn.IsReconnecting() {
		p.conn.Close()
		return nil
	}
	if err := p.conn.Drain(); err != nil {
		p.conn.Close()
		return err
	}
	return nil
}

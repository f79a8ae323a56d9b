package broadcast

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

type msgPublisher interface {
	PublishMsg(m *nats.Msg) error
}

// NATSPublisher mirrors snapshots onto a NATS subject for consumers outside
// the process.
type NATSPublisher struct {
	nc      msgPublisher
	conn    *nats.Conn
	subject string
}

func ConnectNATS(url, subject string, logger zerolog.Logger) (*NATSPublisher, error) {
	log := logger.With().Str("module", "nats").Logger()
	nc, err := nats.Connect(url,
		nats.Name("devwatch"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn().Err(err).Msg("nats disconnected")
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Info().Str("url", c.ConnectedUrl()).Msg("nats reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return &NATSPublisher{nc: nc, conn: nc, subject: subject}, nil
}

func (p *NATSPublisher) Publish(_ context.Context, payload []byte) error {
	msg := nats.NewMsg(p.subject)
	msg.Data = payload
	msg.Header.Set(nats.MsgIdHdr, uuid.NewString())
	msg.Header.Set("Content-Type", "application/json")
	if err := p.nc.PublishMsg(msg); err != nil {
		return fmt.Errorf("publish to %s: %w", p.subject, err)
	}
	return nil
}

func (p *NATSPublisher) Close() {
	if p.conn != nil {
		_ = p.conn.Drain()
	}
}

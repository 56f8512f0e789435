package sink

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
)

// NATSConn 发布所需的最小接口，*nats.Conn 满足
type NATSConn interface {
	Publish(subj string, data []byte) error
}

var _ NATSConn = (*nats.Conn)(nil)

// NATSPublisher 发布到 <subject>.cmd.<opHex> / <subject>.evt.<codeHex>
type NATSPublisher struct {
	conn    NATSConn
	subject string
}

func NewNATSPublisher(conn NATSConn, subject string) *NATSPublisher {
	return &NATSPublisher{conn: conn, subject: subject}
}

func (p *NATSPublisher) Name() string { return "nats" }

// Subject 记录对应的完整主题
func (p *NATSPublisher) Subject(rec Record) string {
	return p.subject + "." + rec.Topic()
}

// Publish nats 发布本身不阻塞，ctx 仅用于提前放弃
func (p *NATSPublisher) Publish(ctx context.Context, rec Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	subj := p.Subject(rec)
	if err := p.conn.Publish(subj, data); err != nil {
		return fmt.Errorf("nats publish %s: %w", subj, err)
	}
	return nil
}

// ConnectNATS 连接 NATS，断线自动重连
func ConnectNATS(url, name string) (*nats.Conn, error) {
	nc, err := nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	return nc, nil
}

package alerts

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
)

// DefaultSubjectPrefix is the subject root for call events.
const DefaultSubjectPrefix = "voxgov.events"

// NATSEmitter publishes events as JSON on core NATS.
type NATSEmitter struct {
	nc     *nats.Conn
	prefix string
}

// NewNATSEmitter publishes under prefix, or DefaultSubjectPrefix when empty.
func NewNATSEmitter(nc *nats.Conn, prefix string) *NATSEmitter {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	return &NATSEmitter{nc: nc, prefix: prefix}
}

// Subject returns the subject an event is published to.
func (n *NATSEmitter) Subject(e Event) string {
	tenant := e.TenantID
	if tenant == "" {
		tenant = "_unknown"
	}
	return fmt.Sprintf("%s.%s.%s", n.prefix, tenant, e.Type)
}

func (n *NATSEmitter) Emit(ctx context.Context, e Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := n.nc.Publish(n.Subject(e), data); err != nil {
		return fmt.Errorf("publish %s event: %w", e.Type, err)
	}
	return nil
}

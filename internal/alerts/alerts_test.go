package alerts

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startTestNATSServer(t *testing.T) *natsserver.Server {
	t.Helper()
	srv, err := natsserver.NewServer(&natsserver.Options{
		Host:   "127.0.0.1",
		Port:   -1,
		NoLog:  true,
		NoSigs: true,
	})
	require.NoError(t, err)
	go srv.Start()
	if !srv.ReadyForConnections(5 * time.Second) {
		t.Fatal("NATS server not ready")
	}
	t.Cleanup(func() {
		srv.Shutdown()
		srv.WaitForShutdown()
	})
	return srv
}

func TestMemoryEmitter(t *testing.T) {
	m := NewMemoryEmitter()
	var seen []Type
	m.Subscribe(func(e Event) { seen = append(seen, e.Type) })

	ctx := context.Background()
	require.NoError(t, m.Emit(ctx, NewEvent(TypeLoopDetected, "acme", "CA1", 3, nil)))
	require.NoError(t, m.Emit(ctx, NewEvent(TypeCallCompleted, "acme", "CA1", 0, map[string]string{"outcome": "booked"})))

	assert.Equal(t, []Type{TypeLoopDetected, TypeCallCompleted}, seen)
	assert.Len(t, m.Events(), 2)
	require.Len(t, m.OfType(TypeCallCompleted), 1)
	assert.Equal(t, "booked", m.OfType(TypeCallCompleted)[0].Attributes["outcome"])
	assert.NotEmpty(t, m.Events()[0].ID)
}

func TestNATSEmitter_PublishesToTenantSubject(t *testing.T) {
	srv := startTestNATSServer(t)
	nc, err := nats.Connect(srv.ClientURL())
	require.NoError(t, err)
	defer nc.Close()

	sub, err := nc.SubscribeSync("voxgov.events.acme_dental.>")
	require.NoError(t, err)
	require.NoError(t, nc.Flush())

	em := NewNATSEmitter(nc, "")
	ev := NewEvent(TypeEscalationTriggered, "acme_dental", "CA9", 4, map[string]string{"trigger": "frustration"})
	require.NoError(t, em.Emit(context.Background(), ev))

	msg, err := sub.NextMsg(2 * time.Second)
	require.NoError(t, err)
	assert.Equal(t, "voxgov.events.acme_dental.escalation_triggered", msg.Subject)

	var got Event
	require.NoError(t, json.Unmarshal(msg.Data, &got))
	assert.Equal(t, ev.ID, got.ID)
	assert.Equal(t, "frustration", got.Attributes["trigger"])
}

func TestNATSEmitter_Subject(t *testing.T) {
	em := NewNATSEmitter(nil, "custom.events")
	assert.Equal(t, "custom.events._unknown.call_completed", em.Subject(Event{Type: TypeCallCompleted}))
}

func TestNATSEmitter_ClosedConnection(t *testing.T) {
	srv := startTestNATSServer(t)
	nc, err := nats.Connect(srv.ClientURL())
	require.NoError(t, err)
	nc.Close()

	err = NewNATSEmitter(nc, "").Emit(context.Background(), NewEvent(TypeLoopDetected, "acme", "CA1", 1, nil))
	assert.Error(t, err)
}

package grpcstream

import (
	"context"
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"

	"github.com/aboamare/mms-router/internal/router"
)

const (
	vesselA = "urn:mrn:mcp:id:aboamare:vessel:a"
	weather = "urn:mrn:mcp:id:aboamare:topic:weather"
)

type fixture struct {
	router *router.Router
	server *Server
	conn   *grpc.ClientConn
}

func newFixture(t *testing.T, configure ...func(*Config)) *fixture {
	t.Helper()
	r, err := router.New(router.NewConfig("urn:mrn:mcp:id:aboamare:router").WithNotifyWindow(20 * time.Millisecond))
	require.NoError(t, err)

	config := &Config{ListenAddress: "bufnet"}
	for _, fn := range configure {
		fn(config)
	}
	server, err := NewServer(r, config)
	require.NoError(t, err)

	lis := bufconn.Listen(1 << 20)
	go server.Serve(lis)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)

	t.Cleanup(func() {
		conn.Close()
		server.Close()
		r.Close()
	})
	return &fixture{router: r, server: server, conn: conn}
}

func (f *fixture) client(t *testing.T) *Client {
	t.Helper()
	c, err := NewClient(context.Background(), f.conn)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func recv(t *testing.T, c *Client) map[string]json.RawMessage {
	t.Helper()
	type result struct {
		raw json.RawMessage
		err error
	}
	ch := make(chan result, 1)
	go func() {
		raw, err := c.Recv()
		ch <- result{raw, err}
	}()

	select {
	case res := <-ch:
		require.NoError(t, res.err)
		var push map[string]json.RawMessage
		require.NoError(t, json.Unmarshal(res.raw, &push))
		return push
	case <-time.After(2 * time.Second):
		t.Fatal("no push received")
		return nil
	}
}

func TestConfig_Validate(t *testing.T) {
	c := &Config{}
	assert.Error(t, c.Validate())

	c = &Config{ListenAddress: "localhost:0", SendQueueSize: -1}
	assert.Error(t, c.Validate())

	c = &Config{ListenAddress: "localhost:0"}
	require.NoError(t, c.Validate())
	c.SetDefaults()
	assert.Equal(t, 1000, c.SendQueueSize)
	assert.Equal(t, 1024*1024, c.MaxMessageSize)
}

func TestNewServer_RequiresRouter(t *testing.T) {
	_, err := NewServer(nil, &Config{ListenAddress: "localhost:0"})
	assert.Error(t, err)
}

func TestServer_SendNotifyDeliver(t *testing.T) {
	f := newFixture(t)

	receiver := f.client(t)
	require.NoError(t, receiver.Send(map[string]any{
		"register": map[string]any{"mrn": vesselA, "interests": []string{weather}, "dm": false},
	}))
	assert.Eventually(t, func() bool {
		stats, err := f.router.GetStatistics(context.Background())
		return err == nil && stats.LiveTopics == 1
	}, time.Second, 10*time.Millisecond)

	sender := f.client(t)
	require.NoError(t, sender.Send(map[string]any{"send": map[string]any{"subject": weather, "body": "ice report"}}))

	push := recv(t, receiver)
	require.Contains(t, push, "notification")
	var counts map[string]int
	require.NoError(t, json.Unmarshal(push["notification"], &counts))
	assert.Equal(t, map[string]int{weather: 1}, counts)

	require.NoError(t, receiver.Send(map[string]any{"deliver": map[string]any{"collate": true}}))
	raw, err := receiver.Recv()
	require.NoError(t, err)
	var bundle []map[string]any
	require.NoError(t, json.Unmarshal(raw, &bundle))
	require.Len(t, bundle, 1)
	assert.Equal(t, "ice report", bundle[0]["body"])
}

func TestServer_InvalidMessageReportsError(t *testing.T) {
	f := newFixture(t)
	c := f.client(t)

	require.NoError(t, c.Send(map[string]any{"send": map[string]any{"body": "nowhere"}}))
	push := recv(t, c)
	assert.Contains(t, push, "error")

	require.NoError(t, c.Send(map[string]any{"register": map[string]any{"mrn": vesselA}}))
	push = recv(t, c)
	assert.Contains(t, push, "authenticate")
}

func TestServer_RouterCloseEndsStream(t *testing.T) {
	f := newFixture(t)
	c := f.client(t)
	require.NoError(t, c.Send(map[string]any{"register": map[string]any{"mrn": vesselA, "dm": false}}))

	assert.Eventually(t, func() bool { return len(f.router.ConnectedAgents()) == 1 }, time.Second, 10*time.Millisecond)
	require.NoError(t, f.router.Close())

	_, err := c.Recv()
	assert.Error(t, err)
}

func TestServer_ClientCloseDisconnects(t *testing.T) {
	f := newFixture(t)
	c := f.client(t)
	require.NoError(t, c.Send(map[string]any{"register": map[string]any{"mrn": vesselA, "dm": false}}))
	assert.Eventually(t, func() bool { return len(f.router.ConnectedAgents()) == 1 }, time.Second, 10*time.Millisecond)

	require.NoError(t, c.Close())
	assert.Eventually(t, func() bool { return len(f.router.ConnectedAgents()) == 0 }, time.Second, 10*time.Millisecond)
}

func TestAgent_SendWaitsForRoom(t *testing.T) {
	a := newAgent(context.Background(), 1)
	require.NoError(t, a.Send(map[string]string{"k": "v"}))

	done := make(chan error, 1)
	go func() { done <- a.Send(map[string]string{"k": "w"}) }()
	select {
	case err := <-done:
		t.Fatalf("send returned %v with a full queue", err)
	case <-time.After(50 * time.Millisecond):
	}

	<-a.queue
	require.NoError(t, <-done)

	require.NoError(t, a.CloseConnection())
	require.NoError(t, a.CloseConnection())
	assert.ErrorIs(t, a.Send(map[string]string{"k": "v"}), ErrConnectionClosed)
}

func TestAgent_CloseReleasesBlockedSend(t *testing.T) {
	a := newAgent(context.Background(), 1)
	require.NoError(t, a.Send(map[string]string{"k": "v"}))

	done := make(chan error, 1)
	go func() { done <- a.Send(map[string]string{"k": "w"}) }()
	time.Sleep(20 * time.Millisecond)

	require.NoError(t, a.CloseConnection())
	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrConnectionClosed)
	case <-time.After(time.Second):
		t.Fatal("send still blocked after close")
	}
}

func TestServer_DeliverBacklogLargerThanQueue(t *testing.T) {
	f := newFixture(t, func(c *Config) { c.SendQueueSize = 2 })
	ctx := context.Background()

	receiver := f.client(t)
	require.NoError(t, receiver.Send(map[string]any{
		"register": map[string]any{"mrn": vesselA, "interests": []string{weather}, "dm": false},
	}))
	assert.Eventually(t, func() bool {
		stats, err := f.router.GetStatistics(ctx)
		return err == nil && stats.LiveTopics == 1
	}, time.Second, 10*time.Millisecond)

	sender := f.client(t)
	for i := 0; i < 15; i++ {
		require.NoError(t, sender.Send(map[string]any{"send": map[string]any{"subject": weather, "body": i}}))
	}
	assert.Eventually(t, func() bool {
		counts, err := f.router.Store().PendingCounts(ctx, vesselA)
		return err == nil && counts[weather] == 15
	}, time.Second, 10*time.Millisecond)

	require.NoError(t, receiver.Send(map[string]any{"deliver": map[string]any{}}))

	delivered := 0
	for delivered < 15 {
		push := recv(t, receiver)
		if _, ok := push["notification"]; ok {
			continue
		}
		require.Contains(t, push, "id")
		delivered++
	}

	counts, err := f.router.Store().PendingCounts(ctx, vesselA)
	require.NoError(t, err)
	assert.Empty(t, counts)
}

func TestServer_CloseIsIdempotent(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.server.Close())
	require.NoError(t, f.server.Close())
	assert.NotEmpty(t, f.server.GetListeningAddress())
}

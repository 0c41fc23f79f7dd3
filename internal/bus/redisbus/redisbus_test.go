package redisbus

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vovakirdan/codesync/internal/core"
)

func newTestClient(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return srv, client
}

func waitSubscribed(t *testing.T, srv *miniredis.Miniredis, channel string) {
	t.Helper()
	require.Eventually(t, func() bool {
		return srv.PubSubNumSub(channel)[channel] > 0
	}, 2*time.Second, 5*time.Millisecond)
}

func TestPublishSubscribeRoundTrip(t *testing.T) {
	srv, client := newTestClient(t)
	bus := New(client, "", nil)
	assert.Equal(t, DefaultChannel, bus.Channel())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan core.Update, 1)
	done := make(chan error, 1)
	go func() { done <- bus.Subscribe(ctx, func(u core.Update) { got <- u }) }()
	waitSubscribed(t, srv, DefaultChannel)

	at := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	require.NoError(t, bus.Publish(ctx, core.Update{Room: "r1", Content: "x := 1", Sender: "client-a", At: at, Origin: "node-a"}))

	select {
	case u := <-got:
		assert.Equal(t, "r1", u.Room)
		assert.Equal(t, "x := 1", u.Content)
		assert.Equal(t, "client-a", u.Sender)
		assert.Equal(t, "node-a", u.Origin)
		assert.True(t, at.Equal(u.At))
	case <-time.After(2 * time.Second):
		t.Fatal("update not delivered")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Subscribe did not return after cancel")
	}
}

func TestSubscribeSkipsMalformedPayloads(t *testing.T) {
	srv, client := newTestClient(t)
	bus := New(client, "test:updates", nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan core.Update, 1)
	go func() { _ = bus.Subscribe(ctx, func(u core.Update) { got <- u }) }()
	waitSubscribed(t, srv, "test:updates")

	srv.Publish("test:updates", "{not json")
	require.NoError(t, bus.Publish(ctx, core.Update{Room: "r", Content: "ok"}))

	select {
	case u := <-got:
		assert.Equal(t, "ok", u.Content)
	case <-time.After(2 * time.Second):
		t.Fatal("valid update after malformed payload not delivered")
	}
}

func TestHubsShareUpdatesAcrossInstances(t *testing.T) {
	_, client := newTestClient(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hubA := core.NewHub(core.NewRoomStore(), New(client, "", nil), core.HubConfig{RequireJoin: true, NodeID: "a"}, nil)
	hubB := core.NewHub(core.NewRoomStore(), New(client, "", nil), core.HubConfig{RequireJoin: true, NodeID: "b"}, nil)
	go hubA.Run(ctx)
	go hubB.Run(ctx)

	writer := core.NewClient("w", "client-w", nil, 0)
	hubA.RegisterClient(writer)
	hubA.Handle(ctx, writer, &core.Command{Kind: core.CommandJoin, Room: "shared"})

	reader := core.NewClient("r", "client-r", nil, 0)
	hubB.RegisterClient(reader)
	hubB.Handle(ctx, reader, &core.Command{Kind: core.CommandJoin, Room: "shared"})

	// Both hubs subscribe asynchronously; retry until the remote side sees it.
	deadline := time.After(3 * time.Second)
	for {
		hubA.Handle(ctx, writer, &core.Command{Kind: core.CommandUpdate, Room: "shared", Content: "hello"})
		select {
		case ev := <-reader.Events:
			if ev.Kind != core.EventUpdate {
				continue
			}
			assert.Equal(t, "hello", ev.Update.Content)
			assert.Equal(t, "client-w", ev.Update.Sender)
			return
		case <-time.After(50 * time.Millisecond):
		case <-deadline:
			t.Fatal("update did not cross instances")
		}
	}
}

package hub

import (
	"testing"

	"github.com/stretchr/testify/require"
)

const (
	tenantA = "11111111-1111-1111-1111-111111111111"
	tenantB = "22222222-2222-2222-2222-222222222222"
)

func newClient(id string) *Client {
	return &Client{ID: id, Send: make(chan []byte, 4)}
}

func TestBroadcastScopedToRoom(t *testing.T) {
	h := New()
	joined := newClient("c1")
	other := newClient("c2")
	idle := newClient("c3")
	h.Register(joined)
	h.Register(other)
	h.Register(idle)
	h.Join(joined, tenantA)
	h.Join(other, tenantB)

	h.Broadcast(tenantA, []byte("hello"))

	select {
	case msg := <-joined.Send:
		require.Equal(t, "hello", string(msg))
	default:
		t.Fatal("joined client received nothing")
	}
	select {
	case msg := <-other.Send:
		t.Fatalf("other tenant received %q", msg)
	default:
	}
	select {
	case msg := <-idle.Send:
		t.Fatalf("unjoined client received %q", msg)
	default:
	}
}

func TestLeaveStopsDelivery(t *testing.T) {
	h := New()
	client := newClient("c1")
	h.Register(client)
	h.Join(client, tenantA)
	h.Leave(client)

	h.Broadcast(tenantA, []byte("hello"))

	select {
	case msg := <-client.Send:
		t.Fatalf("left client received %q", msg)
	default:
	}
}

func TestJoinReplacesRoom(t *testing.T) {
	h := New()
	client := newClient("c1")
	h.Register(client)
	h.Join(client, tenantA)
	h.Join(client, tenantB)

	h.Broadcast(tenantA, []byte("a"))
	h.Broadcast(tenantB, []byte("b"))

	select {
	case msg := <-client.Send:
		require.Equal(t, "b", string(msg))
	default:
		t.Fatal("client received nothing")
	}
}

func TestBroadcastDropsWhenBufferFull(t *testing.T) {
	h := New()
	client := &Client{ID: "c1", Send: make(chan []byte, 1)}
	h.Register(client)
	h.Join(client, tenantA)

	h.Broadcast(tenantA, []byte("first"))
	h.Broadcast(tenantA, []byte("second"))

	require.Equal(t, "first", string(<-client.Send))
	select {
	case msg := <-client.Send:
		t.Fatalf("expected second message dropped, got %q", msg)
	default:
	}
}

func TestUnregisterClosesSend(t *testing.T) {
	h := New()
	client := newClient("c1")
	h.Register(client)
	h.Join(client, tenantA)
	h.Unregister(client)

	_, open := <-client.Send
	require.False(t, open)

	// A broadcast after unregister must not reach the closed channel.
	h.Broadcast(tenantA, []byte("late"))
}

func TestParseControl(t *testing.T) {
	msg, ok := ParseControl([]byte(`{"action":"join","tenant_id":"` + tenantA + `"}`))
	require.True(t, ok)
	require.Equal(t, "join", msg.Action)
	require.Equal(t, tenantA, msg.TenantID)

	msg, ok = ParseControl([]byte(`{"action":"leave"}`))
	require.True(t, ok)
	require.Equal(t, "leave", msg.Action)

	_, ok = ParseControl([]byte(`{"action":"join"}`))
	require.False(t, ok)

	_, ok = ParseControl([]byte(`{"action":"shout"}`))
	require.False(t, ok)

	_, ok = ParseControl([]byte(`not json`))
	require.False(t, ok)
}

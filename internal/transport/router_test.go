package transport

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBroadcastDeliversOnlyToRoomMembers(t *testing.T) {
	r := NewRouter()

	a := &Conn{ID: "a", send: make(chan Outbound, sendBufferSize)}
	b := &Conn{ID: "b", send: make(chan Outbound, sendBufferSize)}
	r.Register(a)
	r.Register(b)
	r.Join("a", "game-1234")
	r.Join("b", "host-1234")

	r.Broadcast("game-1234", "game:started", map[string]any{"ok": true})

	select {
	case msg := <-a.send:
		assert.Equal(t, "game:started", msg.Event)
	default:
		t.Fatal("expected a to receive the broadcast")
	}

	select {
	case <-b.send:
		t.Fatal("b is not in game-1234 and should not receive it")
	default:
	}
}

func TestEmitToUnicast(t *testing.T) {
	r := NewRouter()
	a := &Conn{ID: "a", send: make(chan Outbound, sendBufferSize)}
	r.Register(a)

	r.EmitTo("a", "team:joined", map[string]any{"teamId": "t1"}, "corr-1")

	msg := <-a.send
	assert.Equal(t, "team:joined", msg.Event)
	assert.Equal(t, "corr-1", msg.Ack)
}

func TestUnregisterRemovesFromAllRooms(t *testing.T) {
	r := NewRouter()
	a := &Conn{ID: "a", send: make(chan Outbound, sendBufferSize)}
	r.Register(a)
	r.Join("a", "game-1234")
	r.Join("a", "host-1234")

	r.Unregister("a")

	assert.Empty(t, r.Rooms("a"))

	// send channel must be closed so the write pump can exit.
	_, open := <-a.send
	assert.False(t, open)
}

func TestUnregisterIsSafeToCallTwice(t *testing.T) {
	r := NewRouter()
	a := &Conn{ID: "a", send: make(chan Outbound, sendBufferSize)}
	r.Register(a)

	r.Unregister("a")
	r.Unregister("a")
}

func TestLeaveRemovesOnlyOneRoom(t *testing.T) {
	r := NewRouter()
	a := &Conn{ID: "a", send: make(chan Outbound, sendBufferSize)}
	r.Register(a)
	r.Join("a", "game-1234")
	r.Join("a", "host-1234")

	r.Leave("a", "host-1234")

	assert.ElementsMatch(t, []string{"game-1234"}, r.Rooms("a"))
}

func TestBroadcastDropsStalledConnection(t *testing.T) {
	r := NewRouter()
	a := &Conn{ID: "a", send: make(chan Outbound, 1)}
	r.Register(a)
	r.Join("a", "game-1234")

	r.Broadcast("game-1234", "e1", nil)
	r.Broadcast("game-1234", "e2", nil) // queue is full now, a gets dropped

	assert.Empty(t, r.Rooms("a"))
}

func TestJoinOnUnregisteredConnIsNoop(t *testing.T) {
	r := NewRouter()
	r.Join("ghost", "game-1234")
	assert.Empty(t, r.Rooms("ghost"))
}

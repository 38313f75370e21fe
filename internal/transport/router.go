package transport

import "sync"

// Router maps connections to the rooms they've joined and fans outbound
// events out to whichever room the dispatcher names. It does not interpret
// room names — `game-<pin>` and `host-<pin>` are dispatcher policy — it
// only tracks membership and delivers.
//
// Broadcast walks the room membership under the router's own read lock and
// then enqueues onto each connection's independent send channel; no
// Session lock is ever held here, and no Router lock is held across the
// actual socket write (that happens asynchronously in each Conn's write
// pump).
type Router struct {
	mu    sync.RWMutex
	conns map[string]*Conn            // connID -> Conn
	rooms map[string]map[string]*Conn // room -> connID -> Conn
}

func NewRouter() *Router {
	return &Router{
		conns: make(map[string]*Conn),
		rooms: make(map[string]map[string]*Conn),
	}
}

// Register makes a connection known to the router without joining any room.
func (r *Router) Register(c *Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conns[c.ID] = c
}

// Join adds an already-registered connection to a room. The connection must
// have been registered first (the server does this before starting the
// connection's read pump); an unknown connID is a silent no-op.
func (r *Router) Join(connID, room string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.conns[connID]
	if !ok {
		return
	}

	members, ok := r.rooms[room]
	if !ok {
		members = make(map[string]*Conn)
		r.rooms[room] = members
	}
	members[c.ID] = c
}

// Leave removes a connection from a single room.
func (r *Router) Leave(connID, room string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.leaveLocked(connID, room)
}

func (r *Router) leaveLocked(connID, room string) {
	members, ok := r.rooms[room]
	if !ok {
		return
	}
	delete(members, connID)
	if len(members) == 0 {
		delete(r.rooms, room)
	}
}

// Unregister removes a connection from every room it had joined and closes
// its outbound queue, terminating its write pump. Safe to call more than
// once for the same connection.
func (r *Router) Unregister(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.conns[connID]
	if !ok {
		return
	}
	delete(r.conns, connID)

	for room, members := range r.rooms {
		if _, in := members[connID]; in {
			delete(members, connID)
			if len(members) == 0 {
				delete(r.rooms, room)
			}
		}
	}

	close(c.send)
}

// Broadcast delivers an event to every connection currently in room.
// Per-recipient order is preserved; cross-recipient order is not globally
// serialized. A stalled recipient is dropped rather than allowed to block
// the others.
func (r *Router) Broadcast(room, event string, data any) {
	r.mu.RLock()
	members := r.rooms[room]
	targets := make([]*Conn, 0, len(members))
	for _, c := range members {
		targets = append(targets, c)
	}
	r.mu.RUnlock()

	msg := Outbound{Event: event, Data: data}
	for _, c := range targets {
		if dropped := c.Enqueue(msg); dropped {
			r.Unregister(c.ID)
		}
	}
}

// EmitTo unicasts an event to a single connection, used for the
// acknowledgement reply to the event's originator.
func (r *Router) EmitTo(connID, event string, data any, ack string) {
	r.mu.RLock()
	c, ok := r.conns[connID]
	r.mu.RUnlock()
	if !ok {
		return
	}

	if dropped := c.Enqueue(Outbound{Event: event, Data: data, Ack: ack}); dropped {
		r.Unregister(connID)
	}
}

// Rooms reports which rooms a connection currently belongs to. The
// dispatcher's disconnect sweep does not use it; it scans the registry.
func (r *Router) Rooms(connID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []string
	for room, members := range r.rooms {
		if _, ok := members[connID]; ok {
			out = append(out, room)
		}
	}
	return out
}

package ws

import (
	"sync"

	"github.com/shopwire/shopwire/globals"
	"github.com/shopwire/shopwire/types"
)

// RoomName returns the broadcast group name for a shop.
func RoomName(shopId string) string {
	return "shop_" + shopId
}

// Registry maintains, per shop room, the set of currently joined connections.
// Rooms are created implicitly on the first join and dropped again when their
// last member leaves. It is constructed once at process start and injected into
// every handler that needs it.
//
// Join, Leave, Disconnect and the broadcast helpers are called concurrently
// from independent connections' goroutines, so every access to the member sets
// goes through the mutex.
type Registry struct {
	rooms map[string]map[*Client]struct{}

	sync.RWMutex
}

func NewRegistry() *Registry {
	return &Registry{
		rooms: make(map[string]map[*Client]struct{}),
	}
}

// Join adds a connection to a shop's room. It reports whether the connection
// was newly added: re-joining an already joined room is a no-op (and the caller
// must not re-announce it). A connection that was closed while its join was
// being verified is refused, so a late verification result never resurrects a
// torn-down connection.
func (r *Registry) Join(shopId string, c *Client) bool {
	if c.Closed() {
		return false
	}
	r.Lock()
	defer r.Unlock()
	room := RoomName(shopId)
	members, ok := r.rooms[room]
	if !ok {
		members = make(map[*Client]struct{})
		r.rooms[room] = members
	}
	if _, ok := members[c]; ok {
		return false
	}
	members[c] = struct{}{}
	globals.AppLogger.Debug("client joined room", "room", room, "client", c.Id, "members", len(members))
	return true
}

// Leave removes a connection from a shop's room, deleting the room when it
// becomes empty.
func (r *Registry) Leave(shopId string, c *Client) {
	r.Lock()
	defer r.Unlock()
	r.removeLocked(RoomName(shopId), c)
}

// Disconnect removes a connection from every room it belongs to. It is invoked
// once per connection teardown and is the only cleanup path for involuntary
// disconnects; there is no timer-based reaping.
func (r *Registry) Disconnect(c *Client) {
	r.Lock()
	defer r.Unlock()
	for room := range r.rooms {
		r.removeLocked(room, c)
	}
}

func (r *Registry) removeLocked(room string, c *Client) {
	members, ok := r.rooms[room]
	if !ok {
		return
	}
	if _, ok := members[c]; !ok {
		return
	}
	delete(members, c)
	if len(members) == 0 {
		delete(r.rooms, room)
	}
	globals.AppLogger.Debug("client left room", "room", room, "client", c.Id, "members", len(members))
}

// IsMember reports whether the connection has successfully joined the shop's room.
func (r *Registry) IsMember(shopId string, c *Client) bool {
	r.RLock()
	defer r.RUnlock()
	members, ok := r.rooms[RoomName(shopId)]
	if !ok {
		return false
	}
	_, ok = members[c]
	return ok
}

// Members returns a snapshot of the shop room's current member set.
func (r *Registry) Members(shopId string) []*Client {
	r.RLock()
	defer r.RUnlock()
	members := r.rooms[RoomName(shopId)]
	out := make([]*Client, 0, len(members))
	for c := range members {
		out = append(out, c)
	}
	return out
}

// Rooms returns the current member count per room, used for the periodic stats log.
func (r *Registry) Rooms() map[string]int {
	r.RLock()
	defer r.RUnlock()
	out := make(map[string]int, len(r.rooms))
	for room, members := range r.rooms {
		out[room] = len(members)
	}
	return out
}

// BroadcastExcept sends one event to every member of the shop's room except the
// given connection. It is used for user:joined announcements and typing relays,
// which by contract never echo back to their originator. Best effort: slow
// members beyond their send buffer miss the event.
func (r *Registry) BroadcastExcept(shopId string, except *Client, event string, payload interface{}) {
	raw, err := types.NewWireMessage(event, payload)
	if err != nil {
		globals.AppLogger.Error("could not marshal broadcast", "event", event, "error", err)
		return
	}
	r.RLock()
	defer r.RUnlock()
	for c := range r.rooms[RoomName(shopId)] {
		if c == except {
			continue
		}
		c.Enqueue(raw)
	}
}

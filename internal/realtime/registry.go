// Package realtime groups live websocket connections into named rooms and
// fans events out to every member of a room.
package realtime

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"sonicvision/internal/apperr"
)

const DefaultMaxRoomMembers = 500

var (
	ErrAlreadyJoined = fmt.Errorf("%w: connection already joined another room", apperr.ErrConflict)
	ErrRoomFull      = fmt.Errorf("%w: room is full", apperr.ErrConflict)
)

// Conn is one live connection. Send must not block; an error means the
// transport is gone and the member will be dropped.
type Conn interface {
	ID() string
	Send(data []byte) error
	Close() error
}

// Message is one encoded frame addressed to a room. Except, when set, is
// the connection id that must not receive it.
type Message struct {
	Room   string `json:"room"`
	Data   []byte `json:"data"`
	Except string `json:"except,omitempty"`
}

type Registry interface {
	// Join adds conn to room. Joining the same room again is a no-op.
	Join(conn Conn, room string) error
	// Leave removes the connection from whatever room it is in.
	Leave(connID string) (room string, ok bool)
	// Broadcast never reports delivery failures; failed members are dropped.
	Broadcast(ctx context.Context, msg Message)
	Members(room string) int
}

type room struct {
	mu      sync.Mutex
	members map[string]Conn
	closed  bool
}

// LocalRegistry keeps rooms in process. Membership changes and delivery for
// one room are serialized by that room's lock; rooms never block each other.
// Lock order is r.mu before room.mu, and room.mu is never held while taking r.mu.
type LocalRegistry struct {
	mu    sync.Mutex
	rooms map[string]*room
	index map[string]string // conn id -> room

	maxMembers int
	log        *zap.Logger
}

func NewLocalRegistry(maxMembers int, log *zap.Logger) *LocalRegistry {
	if maxMembers <= 0 {
		maxMembers = DefaultMaxRoomMembers
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &LocalRegistry{
		rooms:      make(map[string]*room),
		index:      make(map[string]string),
		maxMembers: maxMembers,
		log:        log,
	}
}

func (r *LocalRegistry) Join(conn Conn, name string) error {
	id := conn.ID()
	for {
		r.mu.Lock()
		if cur, ok := r.index[id]; ok {
			r.mu.Unlock()
			if cur == name {
				return nil
			}
			return ErrAlreadyJoined
		}
		rm, ok := r.rooms[name]
		if !ok {
			rm = &room{members: make(map[string]Conn)}
			r.rooms[name] = rm
		}
		r.index[id] = name
		r.mu.Unlock()

		rm.mu.Lock()
		if rm.closed {
			// Emptied and removed between the two locks; start over.
			rm.mu.Unlock()
			r.forget(id, name)
			continue
		}
		if len(rm.members) >= r.maxMembers {
			rm.mu.Unlock()
			r.forget(id, name)
			return ErrRoomFull
		}
		rm.members[id] = conn
		rm.mu.Unlock()
		return nil
	}
}

func (r *LocalRegistry) Leave(connID string) (string, bool) {
	r.mu.Lock()
	name, ok := r.index[connID]
	delete(r.index, connID)
	rm := r.rooms[name]
	r.mu.Unlock()
	if !ok {
		return "", false
	}

	if rm != nil {
		rm.mu.Lock()
		delete(rm.members, connID)
		empty := len(rm.members) == 0
		rm.mu.Unlock()
		if empty {
			r.removeIfEmpty(name, rm)
		}
	}
	return name, true
}

func (r *LocalRegistry) Broadcast(ctx context.Context, msg Message) {
	r.mu.Lock()
	rm := r.rooms[msg.Room]
	r.mu.Unlock()
	if rm == nil {
		return
	}

	var dropped []Conn
	rm.mu.Lock()
	for id, c := range rm.members {
		if id == msg.Except {
			continue
		}
		if err := c.Send(msg.Data); err != nil {
			delete(rm.members, id)
			dropped = append(dropped, c)
		}
	}
	empty := len(rm.members) == 0
	rm.mu.Unlock()

	for _, c := range dropped {
		r.forget(c.ID(), msg.Room)
		_ = c.Close()
		r.log.Info("dropped unreachable member",
			zap.String("room", msg.Room),
			zap.String("conn_id", c.ID()),
		)
	}
	if empty {
		r.removeIfEmpty(msg.Room, rm)
	}
}

func (r *LocalRegistry) Members(name string) int {
	r.mu.Lock()
	rm := r.rooms[name]
	r.mu.Unlock()
	if rm == nil {
		return 0
	}
	rm.mu.Lock()
	defer rm.mu.Unlock()
	return len(rm.members)
}

// Rooms returns the number of rooms with at least one member.
func (r *LocalRegistry) Rooms() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rooms)
}

func (r *LocalRegistry) forget(connID, name string) {
	r.mu.Lock()
	if r.index[connID] == name {
		delete(r.index, connID)
	}
	r.mu.Unlock()
}

func (r *LocalRegistry) removeIfEmpty(name string, rm *room) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rm.mu.Lock()
	defer rm.mu.Unlock()
	if len(rm.members) == 0 && r.rooms[name] == rm {
		rm.closed = true
		delete(r.rooms, name)
	}
}

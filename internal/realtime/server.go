package realtime

import (
	"context"
	"encoding/json"
	"html"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/microcosm-cc/bluemonday"
	"go.uber.org/zap"

	"sonicvision/internal/apperr"
	"sonicvision/internal/auth"
	"sonicvision/internal/collection"
)

const (
	maxChatMessageLen = 2000
	maxRoomNameLen    = 100
	chatRoomPrefix    = "chat-"
)

// Types clients may not relay; they are only produced by the server.
var reservedTypes = map[string]bool{
	collection.EventItemAdded:           true,
	collection.EventItemRemoved:         true,
	collection.EventItemMoved:           true,
	collection.EventItemsReordered:      true,
	collection.EventCollaboratorAdded:   true,
	collection.EventCollaboratorRemoved: true,
	collection.EventCollectionUpdated:   true,
	collection.EventCollectionDeleted:   true,
	collection.EventShareCreated:        true,
	collection.EventShareRevoked:        true,
	collection.EventCoverUpdated:        true,
	TypePresenceJoined:                  true,
	TypePresenceLeft:                    true,
	TypeWelcome:                         true,
}

// CollectionReader authorizes a principal to follow a collection room.
type CollectionReader interface {
	CheckRead(ctx context.Context, p auth.Principal, id string) (*collection.Collection, error)
}

type Options struct {
	// AllowedOrigin restricts websocket upgrades to one browser origin.
	// Empty allows any origin.
	AllowedOrigin string
}

type Server struct {
	// ctx outlives individual requests; connection goroutines use it.
	ctx         context.Context
	reg         Registry
	bc          *Broadcaster
	collections CollectionReader
	log         *zap.Logger
	policy      *bluemonday.Policy
	upgrader    websocket.Upgrader
}

func NewServer(ctx context.Context, reg Registry, bc *Broadcaster, collections CollectionReader, log *zap.Logger, opts Options) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Server{
		ctx:         ctx,
		reg:         reg,
		bc:          bc,
		collections: collections,
		log:         log,
		policy:      bluemonday.StrictPolicy(),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return opts.AllowedOrigin == "" || origin == "" || origin == opts.AllowedOrigin
		},
	}
	return s
}

// Mount registers the websocket routes on r.
func (s *Server) Mount(r chi.Router) {
	r.Get("/ws/collections/{id}", s.handleCollectionWS)
	r.Get("/ws/chat/{room}", s.handleChatWS)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// join upgrades the request and adds the connection to room.
func (s *Server) join(w http.ResponseWriter, r *http.Request, p auth.Principal, room string) *Client {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Info("ws upgrade", zap.Error(err))
		return nil
	}

	client := newClient(conn, p, room, s.log)
	if err := s.reg.Join(client, room); err != nil {
		client.log.Warn("ws join rejected", zap.Error(err))
		msg := websocket.FormatCloseMessage(websocket.CloseTryAgainLater, apperr.Message(err))
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
		_ = client.Close()
		return nil
	}
	client.state.Store(int32(StateJoined))
	client.log.Debug("ws joined", zap.String("user_id", p.UserID))

	go client.writePump()
	return client
}

// serve runs the read loop on its own goroutine. Leave always runs when the
// connection ends, followed by onLeave.
func (s *Server) serve(c *Client, handle func(data []byte), onLeave func()) {
	go func() {
		defer func() {
			s.reg.Leave(c.ID())
			_ = c.Close()
			onLeave()
			c.log.Debug("ws left")
		}()
		c.readPump(handle)
	}()
}

func (s *Server) handleCollectionWS(w http.ResponseWriter, r *http.Request) {
	p := auth.FromContext(r.Context())
	c, err := s.collections.CheckRead(r.Context(), p, chi.URLParam(r, "id"))
	if err != nil {
		status := apperr.HTTPStatus(err)
		if status == http.StatusInternalServerError {
			s.log.Error("ws check collection", zap.Error(err))
			writeError(w, status, "database error")
			return
		}
		writeError(w, status, apperr.Message(err))
		return
	}

	room := c.Room()
	client := s.join(w, r, p, room)
	if client == nil {
		return
	}

	_ = client.Send(mustEncode(WelcomeEvent{Room: room, ConnID: client.ID(), Now: time.Now()}))
	s.publish(room, PresenceEvent{Joined: true, UserID: p.UserID, DisplayName: p.Name()}, client.ID())

	s.serve(client, func(data []byte) {
		ev, err := DecodeRoomEvent(data)
		if err != nil {
			client.log.Debug("drop malformed frame", zap.Error(err))
			return
		}
		if reservedTypes[ev.Type] {
			client.log.Warn("drop reserved event type", zap.String("type", ev.Type))
			return
		}
		ev.CollectionID = c.ID
		ev.From = p.UserID
		s.publish(room, ev, "")
	}, func() {
		s.publish(room, PresenceEvent{Joined: false, UserID: p.UserID, DisplayName: p.Name()}, client.ID())
	})
}

func (s *Server) handleChatWS(w http.ResponseWriter, r *http.Request) {
	p := auth.FromContext(r.Context())
	name := strings.TrimSpace(chi.URLParam(r, "room"))
	if name == "" || len(name) > maxRoomNameLen {
		writeError(w, http.StatusBadRequest, "invalid room name")
		return
	}

	room := chatRoomPrefix + name
	client := s.join(w, r, p, room)
	if client == nil {
		return
	}

	// The notice goes to the whole room, the new member included.
	s.publish(room, joinNotice(p.Name()), "")

	s.serve(client, func(data []byte) {
		ev, err := DecodeChatEvent(data)
		if err != nil {
			client.log.Debug("drop malformed chat frame", zap.Error(err))
			return
		}
		msg := strings.TrimSpace(html.UnescapeString(s.policy.Sanitize(ev.Message)))
		if msg == "" {
			return
		}
		if utf8.RuneCountInString(msg) > maxChatMessageLen {
			client.log.Info("drop oversized chat message", zap.Int("len", len(msg)))
			return
		}
		s.publish(room, ChatEvent{Message: msg, Author: p.Name()}, "")
	}, func() {
		s.publish(room, leaveNotice(p.Name()), "")
	})
}

func (s *Server) publish(room string, ev Event, except string) {
	if err := s.bc.Publish(s.ctx, room, ev, except); err != nil {
		s.log.Error("publish room event", zap.String("room", room), zap.Error(err))
	}
}

func mustEncode(ev Event) []byte {
	data, err := Encode(ev)
	if err != nil {
		panic(err)
	}
	return data
}

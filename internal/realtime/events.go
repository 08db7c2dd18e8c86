package realtime

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// SystemAuthor signs chat notices generated by the server.
const SystemAuthor = "System"

const (
	TypePresenceJoined = "presence.joined"
	TypePresenceLeft   = "presence.left"
	TypeWelcome        = "welcome"
)

var errEmptyType = errors.New("event type is required")

// Event is a frame sent to room members. It is one of RoomEvent, ChatEvent,
// PresenceEvent or WelcomeEvent.
type Event interface {
	isEvent()
}

// RoomEvent keeps collaborators of a collection in sync. It is delivered to
// every member, the originator included.
type RoomEvent struct {
	Type         string `json:"type"`
	CollectionID string `json:"collectionId,omitempty"`
	From         string `json:"from,omitempty"`
	Payload      any    `json:"payload,omitempty"`
}

type ChatEvent struct {
	Message string `json:"message"`
	Author  string `json:"username"`
}

type PresenceEvent struct {
	Joined      bool
	UserID      string
	DisplayName string
}

type WelcomeEvent struct {
	Room   string
	ConnID string
	Now    time.Time
}

func (RoomEvent) isEvent()     {}
func (ChatEvent) isEvent()     {}
func (PresenceEvent) isEvent() {}
func (WelcomeEvent) isEvent()  {}

// Encode renders ev as the JSON frame clients receive.
func Encode(ev Event) ([]byte, error) {
	switch e := ev.(type) {
	case RoomEvent:
		if e.Type == "" {
			return nil, errEmptyType
		}
		return json.Marshal(e)
	case ChatEvent:
		return json.Marshal(e)
	case PresenceEvent:
		typ := TypePresenceLeft
		if e.Joined {
			typ = TypePresenceJoined
		}
		return json.Marshal(map[string]string{
			"type":        typ,
			"userId":      e.UserID,
			"displayName": e.DisplayName,
		})
	case WelcomeEvent:
		return json.Marshal(map[string]string{
			"type":   TypeWelcome,
			"room":   e.Room,
			"connId": e.ConnID,
			"now":    e.Now.UTC().Format(time.RFC3339Nano),
		})
	default:
		return nil, fmt.Errorf("unknown event %T", ev)
	}
}

// DecodeRoomEvent parses an inbound {type, payload} frame.
func DecodeRoomEvent(data []byte) (RoomEvent, error) {
	var frame struct {
		Type    string          `json:"type"`
		Payload json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal(data, &frame); err != nil {
		return RoomEvent{}, err
	}
	frame.Type = strings.TrimSpace(frame.Type)
	if frame.Type == "" {
		return RoomEvent{}, errEmptyType
	}
	ev := RoomEvent{Type: frame.Type}
	if len(frame.Payload) > 0 {
		ev.Payload = frame.Payload
	}
	return ev, nil
}

// DecodeChatEvent parses an inbound {message} frame.
func DecodeChatEvent(data []byte) (ChatEvent, error) {
	var frame struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(data, &frame); err != nil {
		return ChatEvent{}, err
	}
	return ChatEvent{Message: frame.Message}, nil
}

func joinNotice(name string) ChatEvent {
	return ChatEvent{Message: name + " joined the chat", Author: SystemAuthor}
}

func leaveNotice(name string) ChatEvent {
	return ChatEvent{Message: name + " left the chat", Author: SystemAuthor}
}

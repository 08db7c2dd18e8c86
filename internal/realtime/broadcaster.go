package realtime

import (
	"context"

	"go.uber.org/zap"

	"sonicvision/internal/collection"
)

// Broadcaster encodes events and hands them to the registry.
type Broadcaster struct {
	reg Registry
	log *zap.Logger
}

func NewBroadcaster(reg Registry, log *zap.Logger) *Broadcaster {
	if log == nil {
		log = zap.NewNop()
	}
	return &Broadcaster{reg: reg, log: log}
}

// Publish sends ev to every member of room except the connection except.
func (b *Broadcaster) Publish(ctx context.Context, room string, ev Event, except string) error {
	data, err := Encode(ev)
	if err != nil {
		return err
	}
	b.reg.Broadcast(ctx, Message{Room: room, Data: data, Except: except})
	return nil
}

// Notify forwards a committed collection change to the collection's room.
// Sync events go to everyone, the originator included.
func (b *Broadcaster) Notify(ctx context.Context, ev collection.Event) {
	err := b.Publish(ctx, ev.Room, RoomEvent{
		Type:         ev.Type,
		CollectionID: ev.CollectionID,
		From:         ev.Actor,
		Payload:      ev.Payload,
	}, "")
	if err != nil {
		b.log.Error("publish collection event",
			zap.String("type", ev.Type),
			zap.String("room", ev.Room),
			zap.Error(err),
		)
	}
}

var _ collection.Notifier = (*Broadcaster)(nil)

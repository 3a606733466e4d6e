package ws

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/vedran77/pulsecore/internal/domain"
	"github.com/vedran77/pulsecore/internal/log"
	"github.com/vedran77/pulsecore/internal/metrics"
	"github.com/vedran77/pulsecore/internal/pubsub"
	"github.com/vedran77/pulsecore/internal/service"
	"github.com/vedran77/pulsecore/pkg/wire"
)

const publishTimeout = 2 * time.Second

// HubNotifier implements service.Notifier. Committed mutations go through
// the bus so every instance sees them; typing stays on this instance.
type HubNotifier struct {
	bus pubsub.Bus
	hub *Hub
}

func NewHubNotifier(bus pubsub.Bus, hub *Hub) *HubNotifier {
	return &HubNotifier{bus: bus, hub: hub}
}

func (n *HubNotifier) NotifyMessageCreated(msg *domain.Message, seq uint64) {
	n.publish(wire.TypeMessageCreated, msg.ChannelID, msg.ParentID, seq, msg)
}

func (n *HubNotifier) NotifyMessageUpdated(msg *domain.Message, seq uint64) {
	out := *msg
	out.ClientNonce = ""
	n.publish(wire.TypeMessageUpdated, msg.ChannelID, msg.ParentID, seq, &out)
}

func (n *HubNotifier) NotifyMessageDeleted(msg *domain.Message, deletedReplies []uuid.UUID, seq uint64) {
	n.publish(wire.TypeMessageDeleted, msg.ChannelID, msg.ParentID, seq, wire.MessageDeleted{
		ID:             msg.ID,
		ChannelID:      msg.ChannelID,
		ParentID:       msg.ParentID,
		DeletedReplies: deletedReplies,
	})
}

func (n *HubNotifier) NotifyReplyCountChanged(channelID, parentID uuid.UUID, replyCount int, seq uint64) {
	n.publish(wire.TypeReplyCountChanged, channelID, &parentID, seq, wire.ReplyCountChanged{
		ParentID:   parentID,
		ReplyCount: replyCount,
	})
}

func (n *HubNotifier) NotifyReaction(channelID uuid.UUID, threadID *uuid.UUID, r domain.Reaction, added bool, seq uint64) {
	eventType := wire.TypeReactionDeleted
	if added {
		eventType = wire.TypeReactionCreated
	}
	n.publish(eventType, channelID, threadID, seq, r)
}

func (n *HubNotifier) NotifyTyping(snapshot domain.TypingSnapshot) {
	ev, err := wire.NewEvent(wire.TypeTypingSync, snapshot.ChannelID, nil, 0, snapshot)
	if err != nil {
		log.L().Error().Err(err).Msg("ws notifier: marshal typing snapshot")
		return
	}
	metrics.EventsPublished.WithLabelValues(ev.Type).Inc()
	n.hub.Dispatch(ev)
}

func (n *HubNotifier) NotifyChannelDeleted(channelID uuid.UUID) {
	n.publish(wire.TypeChannelDeleted, channelID, nil, 0, wire.ChannelDeleted{ID: channelID})
}

func (n *HubNotifier) NotifyAccessChanged(change service.AccessChange) {
	n.publish(wire.TypeAccessChanged, change.ChannelID, nil, 0, wire.AccessChanged{
		UserID: change.UserID,
		Member: change.Member,
		Admin:  change.Admin,
	})
}

func (n *HubNotifier) publish(eventType string, channelID uuid.UUID, threadID *uuid.UUID, seq uint64, payload any) {
	ev, err := wire.NewEvent(eventType, channelID, threadID, seq, payload)
	if err != nil {
		log.L().Error().Err(err).Str(log.FieldEventType, eventType).Msg("ws notifier: marshal error")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if err := n.bus.Publish(ctx, ev); err != nil {
		// Subscribers recover through their next page fetch.
		log.L().Warn().Err(err).
			Str(log.FieldEventType, eventType).
			Str(log.FieldChannelID, channelID.String()).
			Uint64(log.FieldSeq, seq).
			Msg("ws notifier: publish failed")
		return
	}
	metrics.EventsPublished.WithLabelValues(eventType).Inc()
}

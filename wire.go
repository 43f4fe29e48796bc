package chatter

import (
	"encoding/json"
	"fmt"
	"time"
)

// ============================================================================
// Wire Types
// ============================================================================

// wireEnvelope is the framing for all push events and REST payloads.
type wireEnvelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type wireChannel struct {
	ID           string    `json:"id"`
	Name         string    `json:"name,omitempty"`
	UniqueName   string    `json:"uniqueName,omitempty"`
	Status       string    `json:"status"`
	Kind         string    `json:"kind,omitempty"`
	MemberCount  int       `json:"memberCount"`
	Members      []string  `json:"members,omitempty"`
	LastActivity time.Time `json:"lastActivity"`
}

func (w wireChannel) model() Channel {
	kind := KindRemote
	if w.Kind == string(KindSystem) {
		kind = KindSystem
	}
	status := Membership(w.Status)
	switch status {
	case MemberJoined, MemberInvited, MemberNone:
	default:
		status = MemberNone
	}
	return Channel{
		ID:           w.ID,
		Name:         w.Name,
		UniqueName:   w.UniqueName,
		Status:       status,
		Kind:         kind,
		MemberCount:  w.MemberCount,
		Members:      w.Members,
		LastActivity: w.LastActivity,
	}
}

type wireMessage struct {
	ID            string      `json:"id,omitempty"`
	Index         *int64      `json:"index,omitempty"`
	ChannelID     string      `json:"channelId"`
	Author        string      `json:"author"`
	Body          MessageBody `json:"body"`
	Status        string      `json:"status,omitempty"`
	Consumers     []string    `json:"consumers,omitempty"`
	CorrelationID string      `json:"correlationId,omitempty"`
	CreatedAt     time.Time   `json:"createdAt"`
}

func (w wireMessage) model() Message {
	status := DeliveryStatus(w.Status)
	switch status {
	case StatusSent, StatusDelivered, StatusError:
	default:
		status = StatusUnknown
	}
	return Message{
		ID:            w.ID,
		Index:         w.Index,
		ChannelID:     w.ChannelID,
		Author:        w.Author,
		Body:          w.Body,
		Status:        status,
		Consumers:     w.Consumers,
		CorrelationID: w.CorrelationID,
		CreatedAt:     w.CreatedAt,
	}
}

type wireMember struct {
	ChannelID string `json:"channelId"`
	UserID    string `json:"userId"`
}

// ============================================================================
// Event Decoding
// ============================================================================

// decodeEvent maps a wire envelope onto the closed event union. Unrecognized
// envelope types return an error so the transport can skip them explicitly.
func decodeEvent(env wireEnvelope) (Event, error) {
	switch env.Type {
	case "channel.added", "channel.changed", "channel.deleted":
		var w wireChannel
		if err := json.Unmarshal(env.Payload, &w); err != nil {
			return nil, fmt.Errorf("decode %s: %w", env.Type, err)
		}
		return ChannelEvent{
			Status:  ChannelEventStatus(env.Type[len("channel."):]),
			Channel: w.model(),
		}, nil

	case "member.joined", "member.left", "member.changed":
		var w wireMember
		if err := json.Unmarshal(env.Payload, &w); err != nil {
			return nil, fmt.Errorf("decode %s: %w", env.Type, err)
		}
		return MemberEvent{
			Status:    MemberEventStatus(env.Type[len("member."):]),
			ChannelID: w.ChannelID,
			UserID:    w.UserID,
		}, nil

	case "member.typing.started", "member.typing.stopped":
		var w wireMember
		if err := json.Unmarshal(env.Payload, &w); err != nil {
			return nil, fmt.Errorf("decode %s: %w", env.Type, err)
		}
		status := MemberEventTypingStarted
		if env.Type == "member.typing.stopped" {
			status = MemberEventTypingEnded
		}
		return MemberEvent{Status: status, ChannelID: w.ChannelID, UserID: w.UserID}, nil

	case "message.added", "message.changed", "message.deleted":
		var w wireMessage
		if err := json.Unmarshal(env.Payload, &w); err != nil {
			return nil, fmt.Errorf("decode %s: %w", env.Type, err)
		}
		return MessageEvent{
			Status:  MessageEventStatus(env.Type[len("message."):]),
			Message: w.model(),
		}, nil
	}
	return nil, fmt.Errorf("unknown event type %q", env.Type)
}

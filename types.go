package chatter

import "time"

// ============================================================================
// Channels
// ============================================================================

// Membership is a user's relationship to a channel.
type Membership string

const (
	MemberJoined  Membership = "joined"
	MemberInvited Membership = "invited"
	MemberNone    Membership = "none"
)

// ChannelKind discriminates how a channel handle came to exist locally.
type ChannelKind string

const (
	// KindSystem marks backend-owned channels (announcements, status feeds).
	KindSystem ChannelKind = "system"
	// KindPending marks a channel created locally and not yet confirmed by
	// the backend. Its UniqueName is the client-chosen key used to match the
	// eventual confirmation event.
	KindPending ChannelKind = "pending"
	// KindRemote marks a channel backed by a confirmed server handle.
	KindRemote ChannelKind = "remote"
)

// Channel is a remote conversation handle.
type Channel struct {
	ID           string      `json:"id"`
	Name         string      `json:"name,omitempty"`
	UniqueName   string      `json:"uniqueName,omitempty"`
	Status       Membership  `json:"status"`
	Kind         ChannelKind `json:"kind"`
	MemberCount  int         `json:"memberCount"`
	Members      []string    `json:"members,omitempty"`
	LastActivity time.Time   `json:"lastActivity"`
}

// HasMember reports whether userID is in the channel's member list.
func (c Channel) HasMember(userID string) bool {
	for _, m := range c.Members {
		if m == userID {
			return true
		}
	}
	return false
}

// ============================================================================
// Messages
// ============================================================================

// DeliveryStatus is the delivery state of a message.
type DeliveryStatus string

const (
	StatusSent      DeliveryStatus = "sent"
	StatusDelivered DeliveryStatus = "delivered"
	StatusError     DeliveryStatus = "error"
	StatusUnknown   DeliveryStatus = "unknown"
)

// BodyType tags the content variant carried by a MessageBody.
type BodyType string

const (
	BodyText     BodyType = "text"
	BodyRich     BodyType = "rich"
	BodyPhoto    BodyType = "photo"
	BodyVideo    BodyType = "video"
	BodyLocation BodyType = "location"
	BodyEmoji    BodyType = "emoji"
	BodyAudio    BodyType = "audio"
	BodyContact  BodyType = "contact"
	// BodySystem carries backend status notices (member joined, renamed...).
	// System bodies never count toward unread totals.
	BodySystem BodyType = "system"
)

// MessageBody is the tagged content payload of a message. Only the fields
// relevant to Type are populated.
type MessageBody struct {
	Type BodyType `json:"type"`

	// text, rich, emoji, system
	Text string `json:"text,omitempty"`
	// rich only: pre-rendered markup
	Markup string `json:"markup,omitempty"`

	// photo, video, audio
	MediaURL     string `json:"mediaUrl,omitempty"`
	ThumbnailURL string `json:"thumbnailUrl,omitempty"`
	DurationSec  int    `json:"durationSec,omitempty"`

	// location
	Latitude  float64 `json:"latitude,omitempty"`
	Longitude float64 `json:"longitude,omitempty"`

	// contact
	ContactName   string `json:"contactName,omitempty"`
	ContactHandle string `json:"contactHandle,omitempty"`
}

// Consumable reports whether the body counts toward unread totals.
func (b MessageBody) Consumable() bool {
	return b.Type != BodySystem
}

// Message is one entry in a conversation.
//
// Index is the monotonically increasing server-assigned position and is nil
// until the backend confirms the message. CorrelationID links an optimistic
// local echo to its server-confirmed counterpart.
type Message struct {
	ID            string         `json:"id,omitempty"`
	Index         *int64         `json:"index,omitempty"`
	ChannelID     string         `json:"channelId"`
	Author        string         `json:"author"`
	Body          MessageBody    `json:"body"`
	Status        DeliveryStatus `json:"status"`
	Consumers     []string       `json:"consumers,omitempty"`
	CorrelationID string         `json:"correlationId,omitempty"`
	CreatedAt     time.Time      `json:"createdAt"`
}

// ConsumedBy reports whether userID has acknowledged the message.
func (m Message) ConsumedBy(userID string) bool {
	for _, c := range m.Consumers {
		if c == userID {
			return true
		}
	}
	return false
}

// sameIdentity matches the backend's message identity, not content.
// Confirmed messages match on ID; an optimistic echo matches its
// confirmation through the correlation id.
func (m Message) sameIdentity(o Message) bool {
	if m.ID != "" && o.ID != "" {
		return m.ID == o.ID
	}
	if m.CorrelationID != "" && o.CorrelationID != "" {
		return m.CorrelationID == o.CorrelationID
	}
	return false
}

// ============================================================================
// Sections
// ============================================================================

// Section is a single calendar day of one conversation. Messages keep
// chronological order within the day.
type Section struct {
	Day       time.Time `json:"day"`
	ChannelID string    `json:"channelId"`
	Messages  []Message `json:"messages"`
}

// ============================================================================
// Events
// ============================================================================

// Event is the closed union of push events delivered by the backend stream.
// Exactly ChannelEvent, MemberEvent and MessageEvent implement it.
type Event interface {
	isEvent()
}

// ChannelEventStatus enumerates channel-level event kinds.
type ChannelEventStatus string

const (
	ChannelAdded   ChannelEventStatus = "added"
	ChannelChanged ChannelEventStatus = "changed"
	ChannelDeleted ChannelEventStatus = "deleted"
)

// ChannelEvent signals a change to a channel's existence or attributes.
type ChannelEvent struct {
	Status  ChannelEventStatus
	Channel Channel
}

// MemberEventStatus enumerates membership event kinds.
type MemberEventStatus string

const (
	MemberEventJoined        MemberEventStatus = "joined"
	MemberEventLeft          MemberEventStatus = "left"
	MemberEventChanged       MemberEventStatus = "changed"
	MemberEventTypingStarted MemberEventStatus = "typingStarted"
	MemberEventTypingEnded   MemberEventStatus = "typingEnded"
)

// MemberEvent signals a membership or typing change within a channel.
type MemberEvent struct {
	Status    MemberEventStatus
	ChannelID string
	UserID    string
}

// MessageEventStatus enumerates message event kinds.
type MessageEventStatus string

const (
	MessageAdded   MessageEventStatus = "added"
	MessageChanged MessageEventStatus = "changed"
	MessageDeleted MessageEventStatus = "deleted"
)

// MessageEvent signals a change to one message in a channel.
type MessageEvent struct {
	Status  MessageEventStatus
	Message Message
}

func (ChannelEvent) isEvent() {}
func (MemberEvent) isEvent()  {}
func (MessageEvent) isEvent() {}

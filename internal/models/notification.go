// internal/models/notification.go
package models

import (
	"time"
)

// NotificationType is the closed set of notification kinds.
type NotificationType string

const (
	TypeWelcome              NotificationType = "welcome"
	TypePodcastAvailable     NotificationType = "podcast_available"
	TypeSubscriptionExpiring NotificationType = "subscription_expiring"
	TypeSubscriptionExpired  NotificationType = "subscription_expired"
	TypePaymentSuccess       NotificationType = "payment_success"
	TypePaymentFailed        NotificationType = "payment_failed"
	TypeNewPodcast           NotificationType = "new_podcast"
	TypeDiscountOffer        NotificationType = "discount_offer"
	TypeReminder             NotificationType = "reminder"
	TypeSystemAlert          NotificationType = "system_alert"
)

var notificationTypes = map[NotificationType]bool{
	TypeWelcome:              true,
	TypePodcastAvailable:     true,
	TypeSubscriptionExpiring: true,
	TypeSubscriptionExpired:  true,
	TypePaymentSuccess:       true,
	TypePaymentFailed:        true,
	TypeNewPodcast:           true,
	TypeDiscountOffer:        true,
	TypeReminder:             true,
	TypeSystemAlert:          true,
}

// Valid reports whether t belongs to the closed set.
func (t NotificationType) Valid() bool {
	return notificationTypes[t]
}

// NotificationTypes returns every known type, used by payload schemas.
func NotificationTypes() []string {
	return []string{
		string(TypeWelcome), string(TypePodcastAvailable), string(TypeSubscriptionExpiring),
		string(TypeSubscriptionExpired), string(TypePaymentSuccess), string(TypePaymentFailed),
		string(TypeNewPodcast), string(TypeDiscountOffer), string(TypeReminder), string(TypeSystemAlert),
	}
}

// Channel identifies one independent delivery mechanism.
type Channel string

const (
	ChannelChatBot Channel = "chatBot"
	ChannelEmail   Channel = "email"
	ChannelPush    Channel = "push"
	ChannelInApp   Channel = "inApp"
)

// AllChannels lists channels in the order rounds attempt them.
var AllChannels = []Channel{ChannelChatBot, ChannelEmail, ChannelPush, ChannelInApp}

func (c Channel) Valid() bool {
	switch c {
	case ChannelChatBot, ChannelEmail, ChannelPush, ChannelInApp:
		return true
	}
	return false
}

// Priority orders the sweep. Higher Rank is dispatched first.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

func (p Priority) Valid() bool {
	return p.Rank() > 0
}

// Rank maps priorities onto a sortable integer; 0 means unknown.
func (p Priority) Rank() int {
	switch p {
	case PriorityLow:
		return 1
	case PriorityNormal:
		return 2
	case PriorityHigh:
		return 3
	case PriorityUrgent:
		return 4
	}
	return 0
}

// Status is the overall delivery state of a notification.
type Status string

const (
	StatusPending   Status = "pending"
	StatusSending   Status = "sending"
	StatusSent      Status = "sent"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// TerminalStatuses are never mutated by a sweep.
var TerminalStatuses = []Status{StatusSent, StatusFailed, StatusCancelled}

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusSending, StatusSent, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

func (s Status) IsTerminal() bool {
	return s == StatusSent || s == StatusFailed || s == StatusCancelled
}

type Recipient struct {
	UserID         string `bson:"user_id" json:"userId"`
	ExternalChatID string `bson:"external_chat_id" json:"externalChatId"`
}

// Payload is the optional structured data attached to a notification.
type Payload struct {
	ContentID  string     `bson:"content_id,omitempty" json:"contentId,omitempty"`
	Amount     *float64   `bson:"amount,omitempty" json:"amount,omitempty"`
	Currency   string     `bson:"currency,omitempty" json:"currency,omitempty"`
	ActionURL  string     `bson:"action_url,omitempty" json:"actionUrl,omitempty"`
	ImageURL   string     `bson:"image_url,omitempty" json:"imageUrl,omitempty"`
	ButtonText string     `bson:"button_text,omitempty" json:"buttonText,omitempty"`
	ExpiresAt  *time.Time `bson:"expires_at,omitempty" json:"expiresAt,omitempty"`
}

// Channels holds the per-notification enablement flags.
type Channels struct {
	ChatBot bool `bson:"chat_bot" json:"chatBot"`
	Email   bool `bson:"email" json:"email"`
	Push    bool `bson:"push" json:"push"`
	InApp   bool `bson:"in_app" json:"inApp"`
}

// Enabled reports whether c is switched on.
func (ch Channels) Enabled(c Channel) bool {
	switch c {
	case ChannelChatBot:
		return ch.ChatBot
	case ChannelEmail:
		return ch.Email
	case ChannelPush:
		return ch.Push
	case ChannelInApp:
		return ch.InApp
	}
	return false
}

// Any reports whether at least one channel is enabled.
func (ch Channels) Any() bool {
	return ch.ChatBot || ch.Email || ch.Push || ch.InApp
}

type ChannelDelivery struct {
	Sent   bool       `bson:"sent" json:"sent"`
	SentAt *time.Time `bson:"sent_at,omitempty" json:"sentAt,omitempty"`
	Error  string     `bson:"error,omitempty" json:"error,omitempty"`
	ReadAt *time.Time `bson:"read_at,omitempty" json:"readAt,omitempty"`
}

// DeliveryStatus has an entry for every channel regardless of enablement.
type DeliveryStatus struct {
	ChatBot ChannelDelivery `bson:"chat_bot" json:"chatBot"`
	Email   ChannelDelivery `bson:"email" json:"email"`
	Push    ChannelDelivery `bson:"push" json:"push"`
	InApp   ChannelDelivery `bson:"in_app" json:"inApp"`
}

// For returns a pointer to the entry for c so callers can mutate it in place.
func (d *DeliveryStatus) For(c Channel) *ChannelDelivery {
	switch c {
	case ChannelChatBot:
		return &d.ChatBot
	case ChannelEmail:
		return &d.Email
	case ChannelPush:
		return &d.Push
	case ChannelInApp:
		return &d.InApp
	}
	return nil
}

// Metadata is provenance only and never drives delivery.
type Metadata struct {
	Source   string `bson:"source,omitempty" json:"source,omitempty"`
	Campaign string `bson:"campaign,omitempty" json:"campaign,omitempty"`
	Template string `bson:"template,omitempty" json:"template,omitempty"`
	Language string `bson:"language,omitempty" json:"language,omitempty"`
}

type Notification struct {
	ID             string           `bson:"_id" json:"id"`
	Recipient      Recipient        `bson:"recipient" json:"recipient"`
	Type           NotificationType `bson:"type" json:"type"`
	Title          string           `bson:"title" json:"title"`
	Content        string           `bson:"content" json:"content"`
	Data           *Payload         `bson:"data,omitempty" json:"data,omitempty"`
	Channels       Channels         `bson:"channels" json:"channels"`
	DeliveryStatus DeliveryStatus   `bson:"delivery_status" json:"deliveryStatus"`
	Priority       Priority         `bson:"priority" json:"priority"`
	PriorityRank   int              `bson:"priority_rank" json:"-"`
	Status         Status           `bson:"status" json:"status"`
	ScheduledAt    time.Time        `bson:"scheduled_at" json:"scheduledAt"`
	SentAt         *time.Time       `bson:"sent_at,omitempty" json:"sentAt,omitempty"`
	ReadAt         *time.Time       `bson:"read_at,omitempty" json:"readAt,omitempty"`
	RetryCount     int              `bson:"retry_count" json:"retryCount"`
	MaxRetries     int              `bson:"max_retries" json:"maxRetries"`
	Metadata       Metadata         `bson:"metadata" json:"metadata"`
	CreatedAt      time.Time        `bson:"created_at" json:"createdAt"`
	UpdatedAt      time.Time        `bson:"updated_at" json:"updatedAt"`
	// ClaimToken is set by every claim and fences the round's final write.
	ClaimToken     string           `bson:"claim_token,omitempty" json:"-"`
}

// PendingChannels returns the enabled channels that have not been delivered yet.
// Channels already marked sent are never returned.
func (n *Notification) PendingChannels() []Channel {
	out := make([]Channel, 0, len(AllChannels))
	for _, c := range AllChannels {
		if n.Channels.Enabled(c) && !n.DeliveryStatus.For(c).Sent {
			out = append(out, c)
		}
	}
	return out
}

// AllEnabledSent reports whether every enabled channel has been delivered.
func (n *Notification) AllEnabledSent() bool {
	for _, c := range AllChannels {
		if n.Channels.Enabled(c) && !n.DeliveryStatus.For(c).Sent {
			return false
		}
	}
	return true
}

// Clone returns a deep copy so stores never share mutable state with callers.
func (n *Notification) Clone() *Notification {
	if n == nil {
		return nil
	}
	cp := *n
	if n.Data != nil {
		data := *n.Data
		if n.Data.Amount != nil {
			amount := *n.Data.Amount
			data.Amount = &amount
		}
		if n.Data.ExpiresAt != nil {
			exp := *n.Data.ExpiresAt
			data.ExpiresAt = &exp
		}
		cp.Data = &data
	}
	cp.SentAt = cloneTime(n.SentAt)
	cp.ReadAt = cloneTime(n.ReadAt)
	for _, c := range AllChannels {
		src := n.DeliveryStatus.For(c)
		dst := cp.DeliveryStatus.For(c)
		dst.SentAt = cloneTime(src.SentAt)
		dst.ReadAt = cloneTime(src.ReadAt)
	}
	return &cp
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

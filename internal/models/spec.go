// internal/models/spec.go
package models

import (
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

const (
	MaxTitleLength   = 200
	MaxContentLength = 4000
)

// ErrValidation is matched by every *ValidationError.
var ErrValidation = errors.New("validation failed")

// ValidationError rejects a spec before anything is persisted.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// Spec is the creation input for one notification.
type Spec struct {
	Recipient   Recipient        `json:"recipient"`
	Type        NotificationType `json:"type"`
	Title       string           `json:"title"`
	Content     string           `json:"content"`
	Data        *Payload         `json:"data,omitempty"`
	Channels    Channels         `json:"channels"`
	Priority    Priority         `json:"priority,omitempty"`
	ScheduledAt *time.Time       `json:"scheduledAt,omitempty"`
	MaxRetries  int              `json:"maxRetries,omitempty"`
	Metadata    Metadata         `json:"metadata"`
}

// Validate checks the boundary rules. It does not apply defaults.
func (s *Spec) Validate() error {
	if strings.TrimSpace(s.Recipient.UserID) == "" {
		return &ValidationError{Field: "recipient.userId", Reason: "must not be empty"}
	}
	if strings.TrimSpace(s.Recipient.ExternalChatID) == "" {
		return &ValidationError{Field: "recipient.externalChatId", Reason: "must not be empty"}
	}
	if !s.Type.Valid() {
		return &ValidationError{Field: "type", Reason: fmt.Sprintf("unknown notification type %q", s.Type)}
	}
	if strings.TrimSpace(s.Title) == "" {
		return &ValidationError{Field: "title", Reason: "must not be empty"}
	}
	if utf8.RuneCountInString(s.Title) > MaxTitleLength {
		return &ValidationError{Field: "title", Reason: fmt.Sprintf("exceeds %d characters", MaxTitleLength)}
	}
	if utf8.RuneCountInString(s.Content) > MaxContentLength {
		return &ValidationError{Field: "content", Reason: fmt.Sprintf("exceeds %d characters", MaxContentLength)}
	}
	if s.Priority != "" && !s.Priority.Valid() {
		return &ValidationError{Field: "priority", Reason: fmt.Sprintf("unknown priority %q", s.Priority)}
	}
	if !s.Channels.Any() {
		return &ValidationError{Field: "channels", Reason: "at least one channel must be enabled"}
	}
	if s.MaxRetries < 0 {
		return &ValidationError{Field: "maxRetries", Reason: "must not be negative"}
	}
	return nil
}

// NewNotification validates spec and builds a pending record with defaults applied.
// The id is left for the store to assign.
func NewNotification(spec Spec, now time.Time, defaultMaxRetries int) (*Notification, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}

	priority := spec.Priority
	if priority == "" {
		priority = PriorityNormal
	}
	maxRetries := spec.MaxRetries
	if maxRetries == 0 {
		maxRetries = defaultMaxRetries
	}
	if maxRetries < 1 {
		maxRetries = 1
	}
	scheduledAt := now
	if spec.ScheduledAt != nil {
		scheduledAt = *spec.ScheduledAt
	}

	n := &Notification{
		Recipient:    spec.Recipient,
		Type:         spec.Type,
		Title:        spec.Title,
		Content:      spec.Content,
		Data:         spec.Data,
		Channels:     spec.Channels,
		Priority:     priority,
		PriorityRank: priority.Rank(),
		Status:       StatusPending,
		ScheduledAt:  scheduledAt,
		MaxRetries:   maxRetries,
		Metadata:     spec.Metadata,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	return n.Clone(), nil
}

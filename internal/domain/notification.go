package domain

import (
	"fmt"
	"time"
)

// Channel names a notification transport. It is part of the delivery log key.
type Channel string

const (
	// ChannelTemplate is the consent and relationship gated templated channel.
	ChannelTemplate Channel = "TEMPLATE_MESSAGE"
	// ChannelText is the plain text fallback channel.
	ChannelText Channel = "TEXT_MESSAGE"
)

func ParseChannel(s string) (Channel, error) {
	switch Channel(s) {
	case ChannelTemplate, ChannelText:
		return Channel(s), nil
	}
	return "", fmt.Errorf("unknown channel %q", s)
}

// Intent is what a notification is about. The catalog maps each intent to a
// template and a plain text body.
type Intent string

const (
	IntentMeetingInvited      Intent = "MEETING_INVITED"
	IntentMeetingConfirmed    Intent = "MEETING_CONFIRMED"
	IntentMeetingCancelled    Intent = "MEETING_CANCELLED"
	IntentInvitationResponded Intent = "INVITATION_RESPONDED"
)

func ParseIntent(s string) (Intent, error) {
	switch Intent(s) {
	case IntentMeetingInvited, IntentMeetingConfirmed, IntentMeetingCancelled, IntentInvitationResponded:
		return Intent(s), nil
	}
	return "", fmt.Errorf("unknown message intent %q", s)
}

// IntentForStatus returns the intent announced when a meeting enters s.
// Only confirmation and cancellation are announced.
func IntentForStatus(s Status) (Intent, bool) {
	switch s {
	case StatusConfirmed:
		return IntentMeetingConfirmed, true
	case StatusCancelled:
		return IntentMeetingCancelled, true
	}
	return "", false
}

// Consent is a user's messaging consent. A user without a stored record has
// the zero value: no consent at all.
type Consent struct {
	UserID      int64     `json:"user_id"`
	TalkMessage bool      `json:"talk_message"`
	Friends     bool      `json:"friends"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Relationship is one edge of the friend graph seen from UserID.
type Relationship struct {
	UserID    int64     `json:"user_id"`
	RelatedID int64     `json:"related_id"`
	CreatedAt time.Time `json:"created_at"`
}

// AccessToken is the read-only bearer a user granted for the templated
// channel.
type AccessToken struct {
	UserID    int64
	Token     string
	ExpiresAt time.Time
}

// ExpiredAt reports whether the token is expired at now, allowing skew.
func (t AccessToken) ExpiredAt(now time.Time, skew time.Duration) bool {
	if t.ExpiresAt.IsZero() {
		return false
	}
	return !now.Before(t.ExpiresAt.Add(-skew))
}

// MessageContext is the data a message is rendered from.
type MessageContext struct {
	Meeting    Meeting
	SenderID   int64
	SenderName string
	Reason     string
	Response   ResponseState
}

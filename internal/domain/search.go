package domain

import (
	"fmt"
	"strings"
	"time"
)

// MeetingOrder selects the sort of a meeting search.
type MeetingOrder string

const (
	// OrderScheduled sorts by scheduled time, earliest first.
	OrderScheduled MeetingOrder = "scheduled"
	// OrderRecent sorts by creation time, newest first.
	OrderRecent MeetingOrder = "recent"
	// OrderPopular sorts by participant count, largest first.
	OrderPopular MeetingOrder = "popular"
)

const (
	DefaultSearchLimit = 20
	MaxSearchLimit     = 100
)

func ParseMeetingOrder(s string) (MeetingOrder, error) {
	switch o := MeetingOrder(strings.ToLower(strings.TrimSpace(s))); o {
	case "":
		return OrderScheduled, nil
	case OrderScheduled, OrderRecent, OrderPopular:
		return o, nil
	}
	return "", fmt.Errorf("unknown meeting order %q", s)
}

// MeetingFilter narrows a meeting search. Zero fields do not filter.
type MeetingFilter struct {
	HostID        int64
	ParticipantID int64
	// Keyword and Location match case-insensitive substrings of the title
	// and location.
	Keyword  string
	Location string
	Status   Status
	From     time.Time
	To       time.Time
	Order    MeetingOrder
	Limit    int
}

// Normalize applies the default order and clamps the limit.
func (f MeetingFilter) Normalize() MeetingFilter {
	f.Keyword = strings.TrimSpace(f.Keyword)
	f.Location = strings.TrimSpace(f.Location)
	if f.Order == "" {
		f.Order = OrderScheduled
	}
	switch {
	case f.Limit <= 0:
		f.Limit = DefaultSearchLimit
	case f.Limit > MaxSearchLimit:
		f.Limit = MaxSearchLimit
	}
	return f
}

// Matches applies every filter except ordering and limit.
func (f MeetingFilter) Matches(m Meeting, participants []Participant) bool {
	if f.HostID != 0 && m.HostID != f.HostID {
		return false
	}
	if f.Status != "" && m.Status != f.Status {
		return false
	}
	if f.Keyword != "" && !strings.Contains(strings.ToLower(m.Title), strings.ToLower(f.Keyword)) {
		return false
	}
	if f.Location != "" && !strings.Contains(strings.ToLower(m.Location), strings.ToLower(f.Location)) {
		return false
	}
	if !f.From.IsZero() && m.ScheduledAt.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && !m.ScheduledAt.Before(f.To) {
		return false
	}
	if f.ParticipantID != 0 {
		for _, p := range participants {
			if p.UserID == f.ParticipantID {
				return true
			}
		}
		return false
	}
	return true
}

// MeetingSummary is a search hit with its participant count.
type MeetingSummary struct {
	Meeting
	ParticipantCount int `json:"participant_count"`
}

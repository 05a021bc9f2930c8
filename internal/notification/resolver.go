package notification

import (
	"context"
	"fmt"

	"promise-service.io/promise/internal/domain"
)

// ParticipantSource lists a meeting's participants.
type ParticipantSource interface {
	Participants(ctx context.Context, meetingID int64) ([]domain.Participant, error)
}

// Resolver turns a meeting and an optional explicit list into the users to
// notify. It does not look at consent; the Guard does that per channel.
type Resolver struct {
	participants ParticipantSource
}

func NewResolver(participants ParticipantSource) *Resolver {
	return &Resolver{participants: participants}
}

// Resolve starts from explicit when it is non-nil, otherwise from the
// meeting's participants that have not declined. The sender is removed and
// duplicates are dropped keeping the first occurrence.
func (r *Resolver) Resolve(ctx context.Context, meetingID, senderID int64, explicit []int64) ([]int64, error) {
	source := explicit
	if source == nil {
		parts, err := r.participants.Participants(ctx, meetingID)
		if err != nil {
			return nil, fmt.Errorf("list participants of meeting %d: %w", meetingID, err)
		}
		source = make([]int64, 0, len(parts))
		for _, p := range parts {
			if p.Response == domain.ResponseDeclined {
				continue
			}
			source = append(source, p.UserID)
		}
	}
	return dedupeExcluding(source, senderID), nil
}

func dedupeExcluding(ids []int64, exclude int64) []int64 {
	kept := make([]int64, 0, len(ids))
	for _, id := range ids {
		if id != exclude {
			kept = append(kept, id)
		}
	}
	return dedupe(kept)
}

func dedupe(ids []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

package notification

import (
	"context"
	"fmt"

	"promise-service.io/promise/internal/domain"
)

// ConsentSource reads stored consent records. found is false when the user
// never answered the consent prompt.
type ConsentSource interface {
	Consent(ctx context.Context, userID int64) (domain.Consent, bool, error)
}

// RelationshipSource reports whether two users are connected. Edges are
// symmetric.
type RelationshipSource interface {
	Related(ctx context.Context, a, b int64) (bool, error)
}

// channelRule is what a channel requires before a message may be sent.
type channelRule struct {
	talkMessage  bool
	friends      bool
	relationship bool
}

var strictRule = channelRule{talkMessage: true, friends: true, relationship: true}

var channelRules = map[domain.Channel]channelRule{
	domain.ChannelTemplate: strictRule,
	domain.ChannelText:     {talkMessage: true},
}

// Guard decides whether a sender may reach a candidate on a channel.
type Guard struct {
	consents      ConsentSource
	relationships RelationshipSource
}

func NewGuard(consents ConsentSource, relationships RelationshipSource) *Guard {
	return &Guard{consents: consents, relationships: relationships}
}

// IsEligible applies the channel's rule. Channels without a rule get the
// strictest one.
func (g *Guard) IsEligible(ctx context.Context, senderID, candidateID int64, channel domain.Channel) (bool, error) {
	rule, ok := channelRules[channel]
	if !ok {
		rule = strictRule
	}

	consent, found, err := g.consents.Consent(ctx, candidateID)
	if err != nil {
		return false, fmt.Errorf("load consent for user %d: %w", candidateID, err)
	}
	if !found {
		return false, nil
	}
	if rule.talkMessage && !consent.TalkMessage {
		return false, nil
	}
	if rule.friends && !consent.Friends {
		return false, nil
	}
	if !rule.relationship {
		return true, nil
	}

	related, err := g.relationships.Related(ctx, senderID, candidateID)
	if err != nil {
		return false, fmt.Errorf("load relationship %d-%d: %w", senderID, candidateID, err)
	}
	return related, nil
}

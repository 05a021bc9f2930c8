package notification

import (
	"context"
	"errors"
	"testing"

	"promise-service.io/promise/internal/domain"
)

func TestGuard_IsEligible(t *testing.T) {
	t.Parallel()

	consents := &fakeConsents{records: map[int64]domain.Consent{
		2: {UserID: 2, TalkMessage: true, Friends: true},
		3: {UserID: 3, TalkMessage: true},
		4: {UserID: 4, Friends: true},
		5: {UserID: 5, TalkMessage: true, Friends: true},
	}}
	relations := &fakeRelations{edges: map[[2]int64]bool{
		{1, 2}: true,
		{1, 3}: true,
		{1, 4}: true,
	}}
	g := NewGuard(consents, relations)

	tests := []struct {
		name      string
		candidate int64
		channel   domain.Channel
		want      bool
	}{
		{"full consent and related", 2, domain.ChannelTemplate, true},
		{"full consent and related, text", 2, domain.ChannelText, true},
		{"talk only", 3, domain.ChannelTemplate, false},
		{"talk only, text", 3, domain.ChannelText, true},
		{"friends only", 4, domain.ChannelTemplate, false},
		{"friends only, text", 4, domain.ChannelText, false},
		{"not related", 5, domain.ChannelTemplate, false},
		{"not related, text", 5, domain.ChannelText, true},
		{"no consent record", 9, domain.ChannelTemplate, false},
		{"no consent record, text", 9, domain.ChannelText, false},
		{"unknown channel uses strict rule", 3, domain.Channel("PIGEON"), false},
		{"unknown channel strict rule passes", 2, domain.Channel("PIGEON"), true},
	}
	for _, tt := range tests {
		got, err := g.IsEligible(context.Background(), 1, tt.candidate, tt.channel)
		if err != nil {
			t.Fatalf("%s: IsEligible() error = %v", tt.name, err)
		}
		if got != tt.want {
			t.Fatalf("%s: IsEligible() = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestGuard_LookupErrorsPropagate(t *testing.T) {
	t.Parallel()

	g := NewGuard(&fakeConsents{err: errLookup}, &fakeRelations{})
	if _, err := g.IsEligible(context.Background(), 1, 2, domain.ChannelText); !errors.Is(err, errLookup) {
		t.Fatalf("error = %v, want %v", err, errLookup)
	}

	relErr := errors.New("graph down")
	g = NewGuard(&fakeConsents{records: map[int64]domain.Consent{2: {TalkMessage: true, Friends: true}}}, &fakeRelations{err: relErr})
	if _, err := g.IsEligible(context.Background(), 1, 2, domain.ChannelTemplate); !errors.Is(err, relErr) {
		t.Fatalf("error = %v, want %v", err, relErr)
	}
	// The text rule never reads the graph.
	if ok, err := g.IsEligible(context.Background(), 1, 2, domain.ChannelText); err != nil || !ok {
		t.Fatalf("text IsEligible() = %v, %v", ok, err)
	}
}

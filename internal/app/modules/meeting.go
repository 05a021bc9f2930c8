package modules

import (
	"context"
	"fmt"

	"github.com/riverqueue/river"

	"promise-service.io/promise/internal/api/handlers"
	"promise-service.io/promise/internal/meeting"
	"promise-service.io/promise/internal/repository"
)

// MeetingModule wires the lifecycle manager to its store and notifier.
type MeetingModule struct {
	manager *meeting.Manager
}

// NewMeetingModule requires a notifier; pass the notification module's
// triggers.
func NewMeetingModule(store *repository.MeetingStore, notifier meeting.Notifier) (*MeetingModule, error) {
	if store == nil {
		return nil, fmt.Errorf("meeting module requires the meeting store")
	}
	return &MeetingModule{manager: meeting.NewManager(store, notifier)}, nil
}

func (m *MeetingModule) Name() string { return "meeting" }

func (m *MeetingModule) ContributeServerDeps(deps *handlers.ServerDeps) {
	if deps == nil {
		return
	}
	deps.Meetings = m.manager
}

func (m *MeetingModule) RegisterWorkers(_ *river.Workers) {}

func (m *MeetingModule) Shutdown(context.Context) error { return nil }

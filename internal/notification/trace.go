package notification

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// NewTraceID returns a fresh dispatch trace id, "mtg-<meetingId>-<8 hex>".
// Reusing a trace id replays a dispatch without sending twice.
func NewTraceID(meetingID int64) string {
	hex := strings.ReplaceAll(uuid.NewString(), "-", "")
	return fmt.Sprintf("mtg-%d-%s", meetingID, hex[:8])
}

package errors

import (
	"fmt"
	"net/http"
)

// Meeting lifecycle codes.
const (
	CodeMeetingNotFound      = "MEETING_NOT_FOUND"
	CodeMeetingUnauthorized  = "MEETING_UNAUTHORIZED"
	CodeInvalidTransition    = "INVALID_TRANSITION"
	CodeMeetingConflict      = "MEETING_CONFLICT"
	CodeMeetingFull          = "MEETING_FULL"
	CodeMeetingClosed        = "MEETING_CLOSED"
	CodeParticipantNotFound  = "PARTICIPANT_NOT_FOUND"
	CodeInvalidResponseState = "INVALID_RESPONSE_STATE"
)

// Notification codes. Channel failures are folded into dispatch results;
// these codes only surface when an operation is rejected outright.
const (
	CodeRecipientIneligible     = "RECIPIENT_INELIGIBLE"
	CodeChannelAuthExpired      = "CHANNEL_AUTH_EXPIRED"
	CodeChannelPermissionDenied = "CHANNEL_PERMISSION_DENIED"
	CodeChannelTransportError   = "CHANNEL_TRANSPORT_ERROR"
	CodeUnknownIntent           = "UNKNOWN_MESSAGE_INTENT"
)

// Request codes.
const (
	CodeValidationFailed = "VALIDATION_FAILED"
	CodeTokenExpired     = "TOKEN_EXPIRED"
	CodeTokenInvalid     = "TOKEN_INVALID"
	CodeInternal         = "INTERNAL_ERROR"
)

func MeetingNotFound(meetingID int64) *AppError {
	return NotFound(CodeMeetingNotFound, "meeting not found").
		WithParams(map[string]any{"meeting_id": meetingID})
}

// MeetingUnauthorized is returned when someone other than the host tries to
// change the meeting.
func MeetingUnauthorized(meetingID, userID int64) *AppError {
	return Forbidden(CodeMeetingUnauthorized, "only the meeting host can perform this action").
		WithParams(map[string]any{"meeting_id": meetingID, "user_id": userID})
}

// InvalidTransition names the violated precondition in both the message and
// the params.
func InvalidTransition(from, to, precondition string) *AppError {
	return Conflict(CodeInvalidTransition,
		fmt.Sprintf("cannot change status from %s to %s: %s", from, to, precondition)).
		WithParams(map[string]any{"from": from, "to": to, "precondition": precondition})
}

// MeetingConflict is returned to the loser of a concurrent status change.
func MeetingConflict(meetingID int64) *AppError {
	return Conflict(CodeMeetingConflict, "meeting was modified concurrently, reload and retry").
		WithParams(map[string]any{"meeting_id": meetingID})
}

func MeetingFull(meetingID int64, max int) *AppError {
	return Conflict(CodeMeetingFull, "meeting has no free seats").
		WithParams(map[string]any{"meeting_id": meetingID, "max_participants": max})
}

func MeetingClosed(meetingID int64, status string) *AppError {
	return Conflict(CodeMeetingClosed, "meeting no longer accepts changes").
		WithParams(map[string]any{"meeting_id": meetingID, "status": status})
}

func ParticipantNotFound(meetingID, userID int64) *AppError {
	return NotFound(CodeParticipantNotFound, "user is not invited to this meeting").
		WithParams(map[string]any{"meeting_id": meetingID, "user_id": userID})
}

func Validation(message string) *AppError {
	return New(CodeValidationFailed, message, http.StatusBadRequest)
}

// Package notification delivers meeting notifications over a prioritized
// chain of channel adapters. The Dispatcher consults the Guard per channel,
// tries the templated channel first and falls back to plain text, and
// records every attempt in the delivery log keyed by trace id.
package notification

import (
	"context"
	"encoding/json"
	"slices"

	"promise-service.io/promise/internal/domain"
)

// ErrorCode is the adapter level failure classification.
type ErrorCode string

const (
	CodeOK                   ErrorCode = "OK"
	CodeAuthExpired          ErrorCode = "AUTH_EXPIRED"
	CodePermissionDenied     ErrorCode = "PERMISSION_DENIED"
	CodeTemplateRequired     ErrorCode = "TEMPLATE_REQUIRED"
	CodeTemplateInvalid      ErrorCode = "TEMPLATE_INVALID"
	CodeTransportError       ErrorCode = "TRANSPORT_ERROR"
	CodeRecipientUnreachable ErrorCode = "RECIPIENT_UNREACHABLE"
)

// Recipient is who an adapter sends to.
type Recipient struct {
	UserID int64
	Name   string
}

// SendResult is what an adapter reports for one call. Transports that batch
// recipients may partially succeed, so the per recipient split is kept.
type SendResult struct {
	Success   bool
	Message   string
	ErrorCode ErrorCode
	// Retryable marks failures worth one more immediate try (5xx, 429, network).
	Retryable bool
	// HTTPStatus is 0 when no request was made.
	HTTPStatus int
	ResultCode *int
	Succeeded  []int64
	Failed     []int64
	// Payload is the request body as sent, ErrorPayload the raw error body.
	Payload      json.RawMessage
	ErrorPayload string
}

// Adapter is one notification transport.
type Adapter interface {
	Name() domain.Channel
	// Priority orders the chain; lower goes first.
	Priority() int
	Send(ctx context.Context, to Recipient, text, link string) SendResult
	SendTemplate(ctx context.Context, to Recipient, templateCode string, vars map[string]string) SendResult
}

// byPriority returns a copy of adapters sorted by ascending priority. Ties
// keep their registration order.
func byPriority(adapters []Adapter) []Adapter {
	out := slices.Clone(adapters)
	slices.SortStableFunc(out, func(a, b Adapter) int { return a.Priority() - b.Priority() })
	return out
}

func noCall(code ErrorCode, msg string, to Recipient, payload json.RawMessage) SendResult {
	rc := -1
	return SendResult{
		ErrorCode:  code,
		Message:    msg,
		ResultCode: &rc,
		Failed:     []int64{to.UserID},
		Payload:    payload,
	}
}

func ok(to Recipient, status int, payload json.RawMessage) SendResult {
	return SendResult{
		Success:    true,
		Message:    "sent",
		ErrorCode:  CodeOK,
		HTTPStatus: status,
		Succeeded:  []int64{to.UserID},
		Payload:    payload,
	}
}

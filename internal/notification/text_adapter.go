package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"promise-service.io/promise/internal/domain"
)

type TextAdapterConfig struct {
	BaseURL    string
	APIKey     string
	SenderName string
	Timeout    time.Duration
}

// TextAdapter sends plain text with an optional deep link. It authenticates
// with a service API key, so it needs no per-user token.
type TextAdapter struct {
	cfg     TextAdapterConfig
	catalog *Catalog
	client  *http.Client
}

// NewTextAdapter builds the fallback adapter. catalog renders SendTemplate
// calls into text and may be nil.
func NewTextAdapter(cfg TextAdapterConfig, catalog *Catalog) *TextAdapter {
	return &TextAdapter{cfg: cfg, catalog: catalog, client: newHTTPClient(cfg.Timeout)}
}

func (a *TextAdapter) Name() domain.Channel { return domain.ChannelText }

func (a *TextAdapter) Priority() int { return 2 }

type textRequest struct {
	To         string `json:"to"`
	Message    string `json:"message"`
	URL        string `json:"url,omitempty"`
	SenderName string `json:"senderName,omitempty"`
}

func (a *TextAdapter) Send(ctx context.Context, to Recipient, text, link string) SendResult {
	payload, err := json.Marshal(textRequest{
		To:         strconv.FormatInt(to.UserID, 10),
		Message:    text,
		URL:        link,
		SenderName: a.cfg.SenderName,
	})
	if err != nil {
		return noCall(CodeTransportError, fmt.Sprintf("encode text request: %v", err), to, nil)
	}
	if strings.TrimSpace(text) == "" {
		return noCall(CodeTemplateInvalid, "message text is empty", to, payload)
	}

	status, raw, err := postJSON(ctx, a.client, strings.TrimRight(a.cfg.BaseURL, "/")+"/api/messages/send",
		map[string]string{"X-API-Key": a.cfg.APIKey}, payload)
	if err != nil {
		res := noCall(CodeTransportError, err.Error(), to, payload)
		res.HTTPStatus = status
		res.Retryable = true
		return res
	}

	body := decodeResponse(raw)
	if status >= 200 && status < 300 && body.succeeded() {
		res := ok(to, status, payload)
		res.ResultCode = body.ResultCode
		return res
	}

	code := classifyText(status, body.ErrorCode, body.Message)
	return SendResult{
		Message:      body.failureMessage("text", status),
		ErrorCode:    code,
		Retryable:    code == CodeTransportError && retryableStatus(status),
		HTTPStatus:   status,
		ResultCode:   body.ResultCode,
		Failed:       []int64{to.UserID},
		Payload:      payload,
		ErrorPayload: string(raw),
	}
}

// SendTemplate renders the template's text form and sends it as plain text.
func (a *TextAdapter) SendTemplate(ctx context.Context, to Recipient, templateCode string, vars map[string]string) SendResult {
	if a.catalog == nil {
		return noCall(CodeTemplateInvalid, "no catalog to render template "+templateCode, to, nil)
	}
	text, link, found := a.catalog.TextForTemplate(templateCode, vars)
	if !found {
		return noCall(CodeTemplateInvalid, "unknown template "+templateCode, to, nil)
	}
	return a.Send(ctx, to, text, link)
}

func classifyText(status int, errorCode, message string) ErrorCode {
	lower := strings.ToLower(errorCode + " " + message)
	switch {
	case status == http.StatusUnauthorized:
		return CodeAuthExpired
	case status == http.StatusForbidden, strings.Contains(lower, "insufficient_scope"), strings.Contains(lower, "permission"):
		return CodePermissionDenied
	default:
		return CodeTransportError
	}
}

func (a *TextAdapter) Health(ctx context.Context) error {
	return healthCheck(ctx, a.client, a.cfg.BaseURL)
}

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

// TokenSource looks up the access token a user granted for the templated
// channel. The notification core never writes tokens.
type TokenSource interface {
	AccessToken(ctx context.Context, userID int64) (domain.AccessToken, bool, error)
}

type TemplateAdapterConfig struct {
	BaseURL    string
	ProfileKey string
	Timeout    time.Duration
	// ExpirySkew treats tokens this close to expiry as expired.
	ExpirySkew time.Duration
}

// TemplateAdapter sends templated messages with the recipient's own bearer
// token. It cannot send free text.
type TemplateAdapter struct {
	cfg    TemplateAdapterConfig
	tokens TokenSource
	client *http.Client
	now    func() time.Time
}

func NewTemplateAdapter(cfg TemplateAdapterConfig, tokens TokenSource) *TemplateAdapter {
	if cfg.ExpirySkew < 0 {
		cfg.ExpirySkew = 0
	}
	return &TemplateAdapter{
		cfg:    cfg,
		tokens: tokens,
		client: newHTTPClient(cfg.Timeout),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (a *TemplateAdapter) Name() domain.Channel { return domain.ChannelTemplate }

func (a *TemplateAdapter) Priority() int { return 1 }

type templateRequest struct {
	To           string            `json:"to"`
	TemplateCode string            `json:"templateCode"`
	Variables    map[string]string `json:"variables"`
	ProfileKey   string            `json:"profileKey"`
}

// Send always fails: this channel only accepts registered templates.
func (a *TemplateAdapter) Send(_ context.Context, to Recipient, _, _ string) SendResult {
	return noCall(CodeTemplateRequired, "templated channel cannot send free text", to, nil)
}

func (a *TemplateAdapter) SendTemplate(ctx context.Context, to Recipient, templateCode string, vars map[string]string) SendResult {
	payload, err := json.Marshal(templateRequest{
		To:           strconv.FormatInt(to.UserID, 10),
		TemplateCode: templateCode,
		Variables:    vars,
		ProfileKey:   a.cfg.ProfileKey,
	})
	if err != nil {
		return noCall(CodeTemplateInvalid, fmt.Sprintf("encode template request: %v", err), to, nil)
	}

	tok, found, err := a.tokens.AccessToken(ctx, to.UserID)
	if err != nil {
		res := noCall(CodeTransportError, fmt.Sprintf("look up access token: %v", err), to, payload)
		res.Retryable = true
		return res
	}
	if !found || tok.Token == "" {
		return noCall(CodeRecipientUnreachable, "recipient has not linked the messaging account", to, payload)
	}
	if tok.ExpiredAt(a.now(), a.cfg.ExpirySkew) {
		return noCall(CodeAuthExpired, "access token expired at "+tok.ExpiresAt.Format(time.RFC3339), to, payload)
	}

	status, raw, err := postJSON(ctx, a.client, strings.TrimRight(a.cfg.BaseURL, "/")+"/api/alimtalk/send",
		map[string]string{"Authorization": "Bearer " + tok.Token}, payload)
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

	code := a.classify(status, body.ErrorCode, tok)
	return SendResult{
		Message:      body.failureMessage("templated", status),
		ErrorCode:    code,
		Retryable:    code == CodeTransportError && retryableStatus(status),
		HTTPStatus:   status,
		ResultCode:   body.ResultCode,
		Failed:       []int64{to.UserID},
		Payload:      payload,
		ErrorPayload: string(raw),
	}
}

// classify maps a failed response to an ErrorCode. Auth failures only count
// as AUTH_EXPIRED when the token's expiry metadata agrees; otherwise they
// are reported as transport errors.
func (a *TemplateAdapter) classify(status int, errorCode string, tok domain.AccessToken) ErrorCode {
	upper := strings.ToUpper(errorCode)
	expired := tok.ExpiredAt(a.now(), a.cfg.ExpirySkew)

	switch {
	case status == http.StatusForbidden,
		strings.Contains(upper, "SCOPE"),
		strings.Contains(upper, "PERMISSION"),
		strings.Contains(upper, "CONSENT"):
		return CodePermissionDenied
	case strings.Contains(upper, "TEMPLATE"):
		return CodeTemplateInvalid
	case status == http.StatusUnauthorized,
		strings.Contains(upper, "AUTH"),
		strings.Contains(upper, "TOKEN"):
		if expired {
			return CodeAuthExpired
		}
		return CodeTransportError
	default:
		return CodeTransportError
	}
}

// Health checks that the channel API answers.
func (a *TemplateAdapter) Health(ctx context.Context) error {
	return healthCheck(ctx, a.client, a.cfg.BaseURL)
}

package toss

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hanseoyun/shopcore-backend/pkg/config"
	pkgerrors "github.com/hanseoyun/shopcore-backend/pkg/errors"
	"github.com/hanseoyun/shopcore-backend/pkg/logger"
)

const (
	defaultBaseURL             = "https://api.tosspayments.com"
	responseBodyReadLimit int64 = 4096
)

var (
	errSecretKeyRequired     = errors.New("toss secret key is required")
	errWebhookSecretRequired = errors.New("toss webhook secret is required")
	errLoggerRequired        = errors.New("toss logger is required")
)

// Client wraps the Toss Payments REST API with centralized auth, logging and
// error mapping. Toss ships no Go SDK, so the HTTP surface is hand-rolled.
type Client struct {
	httpClient    *http.Client
	baseURL       string
	secretKey     string
	clientKey     string
	webhookSecret string
	logger        *logger.Logger
}

// Option configures optional client behavior.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithBaseURL overrides the configured API base URL.
func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		trimmed := strings.TrimSpace(baseURL)
		if trimmed != "" {
			c.baseURL = trimmed
		}
	}
}

// NewClient initializes the Toss wrapper and validates the credentials.
func NewClient(ctx context.Context, cfg config.TossConfig, logg *logger.Logger, opts ...Option) (*Client, error) {
	if logg == nil {
		return nil, errLoggerRequired
	}

	secretKey := strings.TrimSpace(cfg.SecretKey)
	if secretKey == "" {
		return nil, errSecretKeyRequired
	}

	webhookSecret := strings.TrimSpace(cfg.WebhookSecret)
	if webhookSecret == "" {
		return nil, errWebhookSecretRequired
	}

	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = defaultBaseURL
	}

	timeout := cfg.HTTPTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	c := &Client{
		httpClient:    &http.Client{Timeout: timeout},
		baseURL:       baseURL,
		secretKey:     secretKey,
		clientKey:     strings.TrimSpace(cfg.ClientKey),
		webhookSecret: webhookSecret,
		logger:        logg,
	}

	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}

	logg.Info(ctx, "toss client initialized")
	return c, nil
}

// ClientKey returns the public key browsers use to open the payment widget.
func (c *Client) ClientKey() string {
	if c == nil {
		return ""
	}
	return c.clientKey
}

// Payment is the subset of the gateway payment object the engine consumes.
type Payment struct {
	PaymentKey  string `json:"paymentKey"`
	OrderID     string `json:"orderId"`
	Status      string `json:"status"`
	TotalAmount int64  `json:"totalAmount"`
	Method      string `json:"method"`
	RequestedAt string `json:"requestedAt"`
	ApprovedAt  string `json:"approvedAt"`
}

// ConfirmParams carries the approval triple the gateway checks against its
// own record of the checkout session.
type ConfirmParams struct {
	PaymentKey string `json:"paymentKey"`
	OrderID    string `json:"orderId"`
	Amount     int64  `json:"amount"`
}

// ConfirmPayment approves a checkout session the buyer completed in the
// widget. The gateway rejects reused payment keys with ALREADY_PROCESSED_PAYMENT.
func (c *Client) ConfirmPayment(ctx context.Context, params ConfirmParams) (*Payment, error) {
	if c == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "toss client not configured")
	}
	if strings.TrimSpace(params.PaymentKey) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment key is required")
	}
	if strings.TrimSpace(params.OrderID) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id is required")
	}

	c.log(ctx, "request", "confirm_payment", map[string]any{
		"order_id": params.OrderID,
		"amount":   params.Amount,
	})
	payment, err := c.do(ctx, http.MethodPost, "/v1/payments/confirm", params, "confirm payment")
	if err != nil {
		return nil, err
	}
	c.log(ctx, "response", "confirm_payment", map[string]any{
		"order_id": payment.OrderID,
		"status":   payment.Status,
	})
	return payment, nil
}

// CancelPayment voids or refunds an approved payment.
func (c *Client) CancelPayment(ctx context.Context, paymentKey, cancelReason string) (*Payment, error) {
	if c == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "toss client not configured")
	}
	if strings.TrimSpace(paymentKey) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment key is required")
	}

	body := map[string]string{"cancelReason": cancelReason}
	path := fmt.Sprintf("/v1/payments/%s/cancel", url.PathEscape(paymentKey))

	c.log(ctx, "request", "cancel_payment", map[string]any{"reason": cancelReason})
	payment, err := c.do(ctx, http.MethodPost, path, body, "cancel payment")
	if err != nil {
		return nil, err
	}
	c.log(ctx, "response", "cancel_payment", map[string]any{
		"order_id": payment.OrderID,
		"status":   payment.Status,
	})
	return payment, nil
}

// GetPayment fetches the gateway's record for a payment key.
func (c *Client) GetPayment(ctx context.Context, paymentKey string) (*Payment, error) {
	if c == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "toss client not configured")
	}
	if strings.TrimSpace(paymentKey) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment key is required")
	}

	path := fmt.Sprintf("/v1/payments/%s", url.PathEscape(paymentKey))
	return c.do(ctx, http.MethodGet, path, nil, "get payment")
}

func (c *Client) do(ctx context.Context, method, path string, body any, op string) (*Payment, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, fmt.Sprintf("marshal %s request", op))
		}
		reader = bytes.NewReader(payload)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, c.buildURL(path), reader)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, fmt.Sprintf("build %s request", op))
	}
	httpReq.Header.Set("Authorization", c.basicAuth())
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		c.log(ctx, "error", op, map[string]any{"error": err.Error()})
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, fmt.Sprintf("execute %s request", op))
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, responseBodyReadLimit))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, fmt.Sprintf("read %s response", op))
	}

	if resp.StatusCode != http.StatusOK {
		apiErr := decodeAPIError(resp.StatusCode, raw)
		c.log(ctx, "error", op, map[string]any{"error": apiErr.Error()})
		return nil, c.mapAPIError(apiErr, op)
	}

	var payment Payment
	if err := json.Unmarshal(raw, &payment); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, fmt.Sprintf("decode %s response", op))
	}
	return &payment, nil
}

// VerifyWebhookSignature checks the HMAC-SHA256 hex digest the gateway sends
// in X-Toss-Webhook-Signature against the raw request body.
func (c *Client) VerifyWebhookSignature(body []byte, signature string) bool {
	if c == nil || c.webhookSecret == "" {
		return false
	}
	signature = strings.TrimSpace(signature)
	if signature == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(c.webhookSecret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

func (c *Client) basicAuth() string {
	encoded := base64.StdEncoding.EncodeToString([]byte(c.secretKey + ":"))
	return "Basic " + encoded
}

func (c *Client) buildURL(path string) string {
	trimmed := strings.TrimRight(c.baseURL, "/")
	path = strings.TrimLeft(path, "/")
	return fmt.Sprintf("%s/%s", trimmed, path)
}

func (c *Client) log(ctx context.Context, phase, op string, fields map[string]any) {
	if c == nil || c.logger == nil {
		return
	}
	logFields := map[string]any{
		"operation": op,
		"phase":     phase,
	}
	for k, v := range fields {
		logFields[k] = c.redact(k, v)
	}
	ctx = c.logger.WithFields(ctx, logFields)
	switch phase {
	case "error":
		c.logger.Error(ctx, fmt.Sprintf("toss %s", op), errors.New(fmt.Sprint(fields["error"])))
	default:
		c.logger.Info(ctx, fmt.Sprintf("toss %s", phase))
	}
}

func (c *Client) redact(key string, value any) any {
	lower := strings.ToLower(key)
	for _, sensitive := range []string{"card", "secret", "account", "password"} {
		if strings.Contains(lower, sensitive) {
			return "[REDACTED]"
		}
	}
	return value
}

func (c *Client) mapAPIError(apiErr *APIError, op string) error {
	code := domainCodeForStatus(apiErr.StatusCode)
	switch apiErr.Code {
	case "ALREADY_PROCESSED_PAYMENT":
		code = pkgerrors.CodeAlreadyProcessed
	case "NOT_FOUND_PAYMENT", "NOT_FOUND_PAYMENT_SESSION":
		code = pkgerrors.CodeNotFound
	case "UNAUTHORIZED_KEY", "INVALID_API_KEY", "INCORRECT_BASIC_AUTH_FORMAT":
		code = pkgerrors.CodeUnauthorized
	case "PROVIDER_ERROR", "FAILED_INTERNAL_SYSTEM_PROCESSING", "FAILED_PAYMENT_INTERNAL_SYSTEM_PROCESSING", "UNKNOWN_PAYMENT_ERROR":
		code = pkgerrors.CodeDependency
	}
	return pkgerrors.Wrap(code, apiErr, fmt.Sprintf("toss %s failed", op))
}

func domainCodeForStatus(status int) pkgerrors.Code {
	switch status {
	case http.StatusUnauthorized:
		return pkgerrors.CodeUnauthorized
	case http.StatusForbidden:
		return pkgerrors.CodeForbidden
	case http.StatusNotFound:
		return pkgerrors.CodeNotFound
	case http.StatusConflict:
		return pkgerrors.CodeConflict
	case http.StatusTooManyRequests:
		return pkgerrors.CodeRateLimit
	default:
		if status >= 400 && status < 500 {
			return pkgerrors.CodeValidation
		}
		return pkgerrors.CodeDependency
	}
}

// APIError carries the gateway's error code and message. Its Error string is
// the "[CODE] message" form persisted as a payment fail reason.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	if e.Code == "" {
		return e.Message
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func decodeAPIError(statusCode int, raw []byte) *APIError {
	apiErr := &APIError{StatusCode: statusCode}
	var payload struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &payload); err == nil && payload.Code != "" {
		apiErr.Code = payload.Code
		apiErr.Message = payload.Message
		return apiErr
	}
	apiErr.Code = "UNKNOWN_PAYMENT_ERROR"
	apiErr.Message = strings.TrimSpace(string(raw))
	return apiErr
}

// Package telegram implements the minimal Telegram Bot API collaborator used by
// the dispatch core: the update entity model, a long-poll fetcher and a small
// bot facade for handlers.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/alem-hub/botcore/pkg/circuitbreaker"
	"github.com/alem-hub/botcore/pkg/retry"
)

// ══════════════════════════════════════════════════════════════════════════════
// CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// DefaultBaseURL is the public Bot API endpoint.
const DefaultBaseURL = "https://api.telegram.org"

// ClientConfig contains configuration for the Telegram client.
type ClientConfig struct {
	// Token is the Telegram Bot API token
	Token string

	// BaseURL is the Telegram Bot API base URL (default: https://api.telegram.org)
	BaseURL string

	// Timeout bounds every call except getUpdates.
	Timeout time.Duration

	// PollSlack is added to the long-poll timeout to bound a getUpdates call,
	// so the HTTP deadline never cuts a healthy long poll.
	PollSlack time.Duration

	// RetryAttempts is the number of attempts for outbound calls (getUpdates is
	// never retried here; the poller owns that policy).
	RetryAttempts int

	// RetryDelay is the initial delay between retries
	RetryDelay time.Duration

	// Breaker guards outbound calls. Nil installs circuitbreaker.BotAPIBreaker.
	// getUpdates bypasses it.
	Breaker *circuitbreaker.CircuitBreaker

	// HTTPClient overrides the transport, mostly for tests.
	HTTPClient *http.Client

	// Logger for structured logging
	Logger *slog.Logger

	// Debug enables debug logging
	Debug bool
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig(token string) ClientConfig {
	return ClientConfig{
		Token:         token,
		BaseURL:       DefaultBaseURL,
		Timeout:       15 * time.Second,
		PollSlack:     10 * time.Second,
		RetryAttempts: 5,
		RetryDelay:    100 * time.Millisecond,
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// CLIENT
// ══════════════════════════════════════════════════════════════════════════════

// Client is the Telegram Bot API client.
type Client struct {
	config     ClientConfig
	httpClient *http.Client
	retrier    *retry.Retrier
	breaker    *circuitbreaker.CircuitBreaker
	logger     *slog.Logger
}

// NewClient creates a new Telegram client.
func NewClient(config ClientConfig) (*Client, error) {
	if config.Token == "" {
		return nil, ErrEmptyToken
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.BaseURL == "" {
		config.BaseURL = DefaultBaseURL
	}
	if config.Timeout <= 0 {
		config.Timeout = 15 * time.Second
	}
	if config.PollSlack <= 0 {
		config.PollSlack = 10 * time.Second
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		// Per-call deadlines come from the request context.
		httpClient = &http.Client{}
	}

	logger := config.Logger.With("component", "telegram_client")

	breaker := config.Breaker
	if breaker == nil {
		breaker = circuitbreaker.BotAPIBreaker(IsOutage, func(name string, from, to circuitbreaker.State) {
			logger.Warn("circuit breaker state changed",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
		})
	}

	return &Client{
		config:     config,
		httpClient: httpClient,
		retrier: retry.BotAPI(
			retry.WithMaxAttempts(config.RetryAttempts),
			retry.WithInitialDelay(config.RetryDelay),
			retry.WithRetryIf(IsRetryable),
			retry.WithOnRetry(func(attempt int, err error, delay time.Duration) {
				logger.Warn("retrying telegram call",
					"attempt", attempt,
					"delay", delay,
					"error", err,
				)
			}),
		),
		breaker: breaker,
		logger:  logger,
	}, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// GETTING UPDATES
// ══════════════════════════════════════════════════════════════════════════════

// GetUpdatesParams mirrors the getUpdates request. A nil Offset, zero Limit
// and nil AllowedUpdates are omitted from the request.
type GetUpdatesParams struct {
	Offset         *int64
	Limit          int
	Timeout        time.Duration
	AllowedUpdates []string
}

type getUpdatesRequest struct {
	Offset         *int64    `json:"offset,omitempty"`
	Limit          int       `json:"limit,omitempty"`
	Timeout        int       `json:"timeout"`
	AllowedUpdates *[]string `json:"allowed_updates,omitempty"`
}

// allowedList keeps an empty but non-nil list on the wire: the platform reads
// [] as "every kind" and an absent field as "keep the previous setting".
func allowedList(kinds []string) *[]string {
	if kinds == nil {
		return nil
	}
	return &kinds
}

// GetUpdates fetches one batch of updates using long polling. It performs a
// single attempt and bypasses the circuit breaker; failures are returned as
// *TransportError, *APIError or *DecodeError.
func (c *Client) GetUpdates(ctx context.Context, params GetUpdatesParams) ([]Update, error) {
	req := getUpdatesRequest{
		Offset:         params.Offset,
		Limit:          params.Limit,
		Timeout:        int(params.Timeout / time.Second),
		AllowedUpdates: allowedList(params.AllowedUpdates),
	}
	deadline := time.Duration(req.Timeout)*time.Second + c.config.PollSlack

	var updates []Update
	if err := c.doAPICall(ctx, "getUpdates", req, &updates, deadline); err != nil {
		return nil, err
	}
	return updates, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// SENDING MESSAGES
// ══════════════════════════════════════════════════════════════════════════════

// SendMessageParams is the sendMessage request. Zero fields are omitted.
type SendMessageParams struct {
	ChatID              int64                 `json:"chat_id"`
	Text                string                `json:"text"`
	ParseMode           string                `json:"parse_mode,omitempty"` // HTML, Markdown or MarkdownV2
	DisableNotification bool                  `json:"disable_notification,omitempty"`
	ReplyToMessageID    int64                 `json:"reply_to_message_id,omitempty"`
	ReplyMarkup         *InlineKeyboardMarkup `json:"reply_markup,omitempty"`
}

// SendMessage sends a text message.
func (c *Client) SendMessage(ctx context.Context, params SendMessageParams) (*Message, error) {
	var message Message
	if err := c.callAPI(ctx, "sendMessage", params, &message); err != nil {
		return nil, fmt.Errorf("send message: %w", err)
	}
	return &message, nil
}

// SendText sends plain text to chatID.
func (c *Client) SendText(ctx context.Context, chatID int64, text string) (*Message, error) {
	return c.SendMessage(ctx, SendMessageParams{ChatID: chatID, Text: text})
}

// ReplyTo answers msg in its own chat, quoting it.
func (c *Client) ReplyTo(ctx context.Context, msg *Message, text string) (*Message, error) {
	if msg == nil || msg.Chat == nil {
		return nil, errors.New("reply: message has no chat")
	}
	return c.SendMessage(ctx, SendMessageParams{
		ChatID:           msg.Chat.ID,
		Text:             text,
		ReplyToMessageID: msg.MessageID,
	})
}

type answerCallbackRequest struct {
	CallbackQueryID string `json:"callback_query_id"`
	Text            string `json:"text,omitempty"`
	ShowAlert       bool   `json:"show_alert,omitempty"`
}

// AnswerCallbackQuery stops the client's loading indicator, optionally
// showing text as a toast or, with showAlert, a modal alert.
func (c *Client) AnswerCallbackQuery(ctx context.Context, callbackQueryID string, text string, showAlert bool) error {
	req := answerCallbackRequest{CallbackQueryID: callbackQueryID, Text: text, ShowAlert: showAlert && text != ""}
	if err := c.callAPI(ctx, "answerCallbackQuery", req, nil); err != nil {
		return fmt.Errorf("answer callback query: %w", err)
	}
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// WEBHOOK & BOT INFO
// ══════════════════════════════════════════════════════════════════════════════

// SetWebhookParams contains parameters for registering a webhook.
type SetWebhookParams struct {
	URL            string
	SecretToken    string
	MaxConnections int
	AllowedUpdates []string
	DropPending    bool
}

type setWebhookRequest struct {
	URL            string    `json:"url"`
	SecretToken    string    `json:"secret_token,omitempty"`
	MaxConnections int       `json:"max_connections,omitempty"`
	AllowedUpdates *[]string `json:"allowed_updates,omitempty"`
	DropPending    bool      `json:"drop_pending_updates,omitempty"`
}

// SetWebhook registers params.URL as the push endpoint.
func (c *Client) SetWebhook(ctx context.Context, params SetWebhookParams) error {
	req := setWebhookRequest{
		URL:            params.URL,
		SecretToken:    params.SecretToken,
		MaxConnections: params.MaxConnections,
		AllowedUpdates: allowedList(params.AllowedUpdates),
		DropPending:    params.DropPending,
	}
	if err := c.callAPI(ctx, "setWebhook", req, nil); err != nil {
		return fmt.Errorf("set webhook: %w", err)
	}
	return nil
}

// DeleteWebhook removes the webhook so getUpdates works again.
func (c *Client) DeleteWebhook(ctx context.Context, dropPendingUpdates bool) error {
	req := struct {
		DropPending bool `json:"drop_pending_updates"`
	}{dropPendingUpdates}
	if err := c.callAPI(ctx, "deleteWebhook", req, nil); err != nil {
		return fmt.Errorf("delete webhook: %w", err)
	}
	return nil
}

// GetMe returns the bot's own user. It doubles as a token check.
func (c *Client) GetMe(ctx context.Context) (*User, error) {
	var user User
	if err := c.callAPI(ctx, "getMe", nil, &user); err != nil {
		return nil, fmt.Errorf("get me: %w", err)
	}
	return &user, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// KEYBOARDS
// ══════════════════════════════════════════════════════════════════════════════

// KeyboardBuilder assembles an inline keyboard row by row.
type KeyboardBuilder struct {
	rows [][]InlineKeyboardButton
}

// NewKeyboard starts an empty keyboard.
func NewKeyboard() *KeyboardBuilder {
	return &KeyboardBuilder{}
}

// Row appends one row of buttons.
func (kb *KeyboardBuilder) Row(buttons ...InlineKeyboardButton) *KeyboardBuilder {
	kb.rows = append(kb.rows, buttons)
	return kb
}

// Button creates a callback button.
func Button(text, callbackData string) InlineKeyboardButton {
	return InlineKeyboardButton{Text: text, CallbackData: callbackData}
}

// Build returns the markup.
func (kb *KeyboardBuilder) Build() *InlineKeyboardMarkup {
	return &InlineKeyboardMarkup{InlineKeyboard: kb.rows}
}

// ══════════════════════════════════════════════════════════════════════════════
// API CALL HELPERS
// ══════════════════════════════════════════════════════════════════════════════

// callAPI makes an outbound call through the breaker, retrying rate limits,
// server errors and transport failures inside it. A call the breaker rejects
// surfaces as a *TransportError.
func (c *Client) callAPI(ctx context.Context, method string, payload, result any) error {
	err := c.breaker.Execute(ctx, func(ctx context.Context) error {
		return c.retrier.Do(ctx, func(ctx context.Context) error {
			return c.doAPICall(ctx, method, payload, result, c.config.Timeout)
		})
	})
	if errors.Is(err, circuitbreaker.ErrCircuitOpen) || errors.Is(err, circuitbreaker.ErrTooManyRequests) {
		return &TransportError{Method: method, Err: err}
	}
	return err
}

// BreakerState reports the outbound circuit breaker state.
func (c *Client) BreakerState() circuitbreaker.State {
	return c.breaker.State()
}

// doAPICall performs one request bounded by timeout. A nil payload sends no
// body; a nil result discards the response's result field.
func (c *Client) doAPICall(ctx context.Context, method string, payload, result any, timeout time.Duration) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal %s body: %w", method, err)
		}
		body = bytes.NewReader(data)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	endpoint := c.config.BaseURL + "/bot" + c.config.Token + "/" + method
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return fmt.Errorf("create %s request: %w", method, c.redact(err))
	}
	req.Header.Set("Content-Type", "application/json")

	if c.config.Debug {
		c.logger.Debug("telegram api call", "method", method)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &TransportError{Method: method, Err: c.redact(err)}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return &TransportError{Method: method, Err: err}
	}
	return decodeResponse(method, resp.StatusCode, raw, result)
}

// redact strips the bot token from the URL carried by net/http errors.
// The wrapped cause is kept so timeout and cancellation checks still work.
func (c *Client) redact(err error) error {
	var urlErr *url.Error
	if c.config.Token == "" || !errors.As(err, &urlErr) {
		return err
	}
	return &url.Error{
		Op:  urlErr.Op,
		URL: strings.ReplaceAll(urlErr.URL, c.config.Token, "<redacted>"),
		Err: urlErr.Err,
	}
}

// decodeResponse maps a Bot API response envelope onto result or one of the
// typed errors. A non-JSON body on an HTTP error status is an APIError with
// the status text, so proxies returning HTML still classify by status.
func decodeResponse(method string, status int, raw []byte, result any) error {
	var env APIResponse
	if err := json.Unmarshal(raw, &env); err != nil {
		if status >= http.StatusBadRequest {
			return &APIError{Method: method, Code: status, Description: http.StatusText(status)}
		}
		return &DecodeError{Method: method, Err: err}
	}

	if !env.OK {
		apiErr := &APIError{Method: method, Code: env.ErrorCode, Description: env.Description}
		if apiErr.Code == 0 {
			apiErr.Code = status
		}
		if p := env.Parameters; p != nil {
			apiErr.RetryAfter = p.RetryAfter
			apiErr.MigrateToChatID = p.MigrateToChatID
		}
		return apiErr
	}

	if result == nil || len(env.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Result, result); err != nil {
		return &DecodeError{Method: method, Err: err}
	}
	return nil
}

package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/brojonat/buydetector/service/metrics"
)

const (
	sinkTelegram = "telegram"

	// maxCaptionLength is Telegram's limit for media captions. Longer texts
	// are sent as plain messages without media.
	maxCaptionLength = 1024
)

// TelegramSink delivers messages through the Telegram Bot API.
type TelegramSink struct {
	apiURL     string
	token      string
	httpClient *http.Client
	metrics    *metrics.Metrics
	logger     *slog.Logger
}

// NewTelegramSink creates a sink for the bot identified by token.
// apiURL is the Bot API base URL, normally https://api.telegram.org.
// If httpClient is nil a client with a 30s timeout is used.
func NewTelegramSink(apiURL, token string, httpClient *http.Client, m *metrics.Metrics, logger *slog.Logger) *TelegramSink {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &TelegramSink{
		apiURL:     strings.TrimRight(apiURL, "/"),
		token:      token,
		httpClient: httpClient,
		metrics:    m,
		logger:     logger,
	}
}

type sendMessageRequest struct {
	ChatID                string `json:"chat_id"`
	Text                  string `json:"text"`
	ParseMode             string `json:"parse_mode"`
	DisableWebPagePreview bool   `json:"disable_web_page_preview"`
}

type sendAnimationRequest struct {
	ChatID    string `json:"chat_id"`
	Animation string `json:"animation"`
	Caption   string `json:"caption"`
	ParseMode string `json:"parse_mode"`
}

type apiResponse struct {
	OK          bool   `json:"ok"`
	ErrorCode   int    `json:"error_code"`
	Description string `json:"description"`
}

// Deliver sends msg to every recipient. A failure for one recipient is logged
// and does not stop delivery to the others; all failures are returned joined.
func (s *TelegramSink) Deliver(ctx context.Context, msg Message, recipients []string) error {
	var errs []error
	for _, chatID := range recipients {
		chatID = strings.TrimSpace(chatID)
		if chatID == "" {
			continue
		}

		err := s.send(ctx, chatID, msg)
		status := "success"
		if err != nil {
			status = "error"
			s.logger.ErrorContext(ctx, "failed to send telegram message",
				"chat_id", chatID,
				"error", err,
			)
			errs = append(errs, fmt.Errorf("chat %s: %w", chatID, err))
		} else {
			s.logger.InfoContext(ctx, "telegram message sent", "chat_id", chatID)
		}
		if s.metrics != nil {
			s.metrics.RecordNotification(sinkTelegram, status)
		}
	}
	return errors.Join(errs...)
}

func (s *TelegramSink) send(ctx context.Context, chatID string, msg Message) error {
	if msg.MediaURL != "" && utf8.RuneCountInString(msg.Text) <= maxCaptionLength {
		return s.call(ctx, "sendAnimation", sendAnimationRequest{
			ChatID:    chatID,
			Animation: msg.MediaURL,
			Caption:   msg.Text,
			ParseMode: "Markdown",
		})
	}
	return s.call(ctx, "sendMessage", sendMessageRequest{
		ChatID:                chatID,
		Text:                  msg.Text,
		ParseMode:             "Markdown",
		DisableWebPagePreview: true,
	})
}

func (s *TelegramSink) call(ctx context.Context, method string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	// The URL embeds the bot token; never log it.
	u := fmt.Sprintf("%s/bot%s/%s", s.apiURL, s.token, method)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s request failed: %w", method, redactToken(err, s.token))
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	var out apiResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return fmt.Errorf("%s failed with status %d: %s", method, resp.StatusCode, string(raw))
	}
	if !out.OK {
		return fmt.Errorf("%s failed: %d %s", method, out.ErrorCode, out.Description)
	}
	return nil
}

// redactToken strips the bot token from transport errors, which quote the URL.
func redactToken(err error, token string) error {
	if token == "" || !strings.Contains(err.Error(), token) {
		return err
	}
	return errors.New(strings.ReplaceAll(err.Error(), token, "<redacted>"))
}

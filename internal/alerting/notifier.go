package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Notification carries the context of a new all-time high.
type Notification struct {
	AssetID       string
	Network       string
	Address       string
	CalledAt      time.Time
	PriceAtCall   *decimal.Decimal
	ATHPrice      decimal.Decimal
	ATHAt         *time.Time
	PreviousATH   *decimal.Decimal
	CurrentPrice  decimal.Decimal
	Channels      []string
	AdditionalMsg string
}

// GainRatio returns ath/price_at_call, or nil when the entry price is unknown.
func (n Notification) GainRatio() *decimal.Decimal {
	if n.PriceAtCall == nil || n.PriceAtCall.IsZero() {
		return nil
	}
	ratio := n.ATHPrice.Div(*n.PriceAtCall)
	return &ratio
}

// Notifier delivers alert notifications.
type Notifier interface {
	Notify(ctx context.Context, notification Notification) error
}

// TelegramNotifier pushes messages through the Telegram Bot API.
type TelegramNotifier struct {
	botToken string
	chatID   string
	baseURL  string
	client   *http.Client
	logger   zerolog.Logger
}

// NewTelegramNotifier constructs a Telegram notifier.
func NewTelegramNotifier(botToken, chatID, baseURL string, timeout time.Duration, logger zerolog.Logger) *TelegramNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if baseURL == "" {
		baseURL = "https://api.telegram.org"
	}

	return &TelegramNotifier{
		botToken: botToken,
		chatID:   chatID,
		baseURL:  strings.TrimRight(baseURL, "/"),
		client:   &http.Client{Timeout: timeout},
		logger:   logger.With().Str("component", "alert_telegram").Logger(),
	}
}

// Notify posts the rendered message via the sendMessage API.
func (n *TelegramNotifier) Notify(ctx context.Context, note Notification) error {
	payload := map[string]string{
		"chat_id": n.chatID,
		"text":    renderMessage(note),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal telegram payload: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", n.baseURL, n.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send telegram request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("telegram responded with status %d", resp.StatusCode)
	}

	var result struct {
		OK bool `json:"ok"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err == nil {
		if !result.OK {
			return fmt.Errorf("telegram returned ok=false")
		}
	}

	n.logger.Info().Str("asset", note.AssetID).
		Str("channels", strings.Join(note.Channels, ",")).
		Msg("alert delivered (Telegram)")
	return nil
}

func renderMessage(note Notification) string {
	builder := strings.Builder{}
	builder.WriteString("[New ATH]\n")
	builder.WriteString(fmt.Sprintf("Asset: %s\n", note.AssetID))
	builder.WriteString(fmt.Sprintf("Called: %s UTC\n", note.CalledAt.UTC().Format(time.RFC3339)))
	if note.PriceAtCall != nil {
		builder.WriteString(fmt.Sprintf("Entry: %s USD\n", note.PriceAtCall.String()))
	}
	builder.WriteString(fmt.Sprintf("ATH: %s USD", note.ATHPrice.String()))
	if note.ATHAt != nil {
		builder.WriteString(fmt.Sprintf(" at %s UTC", note.ATHAt.UTC().Format(time.RFC3339)))
	}
	builder.WriteString("\n")
	if note.PreviousATH != nil {
		builder.WriteString(fmt.Sprintf("Previous ATH: %s USD\n", note.PreviousATH.String()))
	}
	if ratio := note.GainRatio(); ratio != nil {
		builder.WriteString(fmt.Sprintf("Gain: %sx\n", ratio.StringFixed(2)))
	}
	builder.WriteString(fmt.Sprintf("Now: %s USD\n", note.CurrentPrice.String()))
	if len(note.Channels) > 0 {
		builder.WriteString(fmt.Sprintf("Channels: %s\n", strings.Join(note.Channels, ",")))
	}
	if note.AdditionalMsg != "" {
		builder.WriteString(note.AdditionalMsg)
	}
	return builder.String()
}

var _ Notifier = (*TelegramNotifier)(nil)

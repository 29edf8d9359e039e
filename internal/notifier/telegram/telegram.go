package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/newthinker/quantsim/internal/notifier"
)

const defaultBaseURL = "https://api.telegram.org"

// Telegram implements the Notifier interface for Telegram Bot API
type Telegram struct {
	botToken string
	chatID   string
	baseURL  string
	client   *http.Client
}

// New creates a new Telegram notifier
func New(botToken, chatID string) *Telegram {
	return &Telegram{
		botToken: botToken,
		chatID:   chatID,
		baseURL:  defaultBaseURL,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (t *Telegram) Name() string {
	return "telegram"
}

func (t *Telegram) Notify(ctx context.Context, report notifier.Report) error {
	return t.sendMessage(ctx, t.formatReport(report))
}

func (t *Telegram) NotifyBatch(ctx context.Context, reports []notifier.Report) error {
	if len(reports) == 0 {
		return nil
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("📊 *%d Backtest Runs*\n\n", len(reports)))

	for i, report := range reports {
		sb.WriteString(t.formatReport(report))
		if i < len(reports)-1 {
			sb.WriteString("\n---\n\n")
		}
	}

	return t.sendMessage(ctx, sb.String())
}

func (t *Telegram) formatReport(r notifier.Report) string {
	var sb strings.Builder

	emoji := "📈"
	if r.FinalEquity < r.InitialCapital {
		emoji = "📉"
	}

	sb.WriteString(fmt.Sprintf("%s *%s* on %s\n", emoji, r.Strategy, strings.Join(r.Symbols, ", ")))
	sb.WriteString(fmt.Sprintf("🗓 %s to %s\n", r.StartDate.Format(time.DateOnly), r.EndDate.Format(time.DateOnly)))
	sb.WriteString(fmt.Sprintf("💰 Equity: %.2f → %.2f\n", r.InitialCapital, r.FinalEquity))

	if r.HasStats {
		sb.WriteString(fmt.Sprintf("📊 Return: %.2f%%, Sharpe: %.2f, Max DD: %.2f%%\n",
			r.TotalReturn*100, r.SharpeRatio, r.MaxDrawdown*100))
	}

	sb.WriteString(fmt.Sprintf("🔁 Trades: %d", r.Trades))
	if r.Breaches > 0 {
		sb.WriteString(fmt.Sprintf(", ⚠️ breaches: %d", r.Breaches))
	}
	if r.RunID != "" {
		sb.WriteString(fmt.Sprintf("\n🆔 %s", r.RunID))
	}

	return sb.String()
}

func (t *Telegram) sendMessage(ctx context.Context, text string) error {
	url := fmt.Sprintf("%s/bot%s/sendMessage", t.baseURL, t.botToken)

	payload := map[string]any{
		"chat_id":    t.chatID,
		"text":       text,
		"parse_mode": "Markdown",
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("telegram: failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("telegram: failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("telegram: failed to send message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var result map[string]any
		json.NewDecoder(resp.Body).Decode(&result)
		return fmt.Errorf("telegram: API error (status %d): %v", resp.StatusCode, result)
	}

	return nil
}

// Package email implements an SMTP-based email notifier
package email

import (
	"context"
	"fmt"
	"html"
	"net/smtp"
	"strings"
	"time"

	"github.com/newthinker/quantsim/internal/core"
	"github.com/newthinker/quantsim/internal/notifier"
)

// Config holds SMTP connection settings
type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	To       []string
}

type sendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// Email implements the Notifier interface for SMTP email
type Email struct {
	cfg  Config
	send sendFunc
}

// New creates a new Email notifier
func New(cfg Config) (*Email, error) {
	if cfg.Host == "" || cfg.From == "" || len(cfg.To) == 0 {
		return nil, core.Errorf(core.ErrConfigMissing, "email: host, from, and to are required")
	}
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	return &Email{cfg: cfg, send: smtp.SendMail}, nil
}

func (e *Email) Name() string { return "email" }

func (e *Email) Notify(ctx context.Context, report notifier.Report) error {
	subject := fmt.Sprintf("quantsim: %s %s", report.Strategy, outcome(report))
	return e.sendEmail(ctx, subject, e.formatReport(report))
}

func (e *Email) NotifyBatch(ctx context.Context, reports []notifier.Report) error {
	if len(reports) == 0 {
		return nil
	}

	subject := fmt.Sprintf("quantsim: %d backtest runs", len(reports))

	var sb strings.Builder
	sb.WriteString("<html><body>")
	sb.WriteString("<h2>Backtest comparison</h2>")
	sb.WriteString("<table border=\"1\" cellpadding=\"4\" cellspacing=\"0\">")
	sb.WriteString("<tr><th>Strategy</th><th>Final equity</th><th>Return</th><th>Sharpe</th><th>Max DD</th><th>Trades</th></tr>")
	for _, r := range reports {
		sb.WriteString(e.formatRow(r))
	}
	sb.WriteString("</table>")
	sb.WriteString("</body></html>")

	return e.sendEmail(ctx, subject, sb.String())
}

func outcome(r notifier.Report) string {
	if !r.HasStats {
		return "completed"
	}
	return fmt.Sprintf("%+.2f%%", r.TotalReturn*100)
}

func (e *Email) formatReport(r notifier.Report) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Strategy: %s\n", r.Strategy)
	fmt.Fprintf(&sb, "Symbols: %s\n", strings.Join(r.Symbols, ", "))
	fmt.Fprintf(&sb, "Period: %s to %s\n", r.StartDate.Format(time.DateOnly), r.EndDate.Format(time.DateOnly))
	fmt.Fprintf(&sb, "Equity: %.2f -> %.2f\n", r.InitialCapital, r.FinalEquity)
	if r.HasStats {
		fmt.Fprintf(&sb, "Return: %.2f%%\nSharpe: %.2f\nMax drawdown: %.2f%%\n",
			r.TotalReturn*100, r.SharpeRatio, r.MaxDrawdown*100)
	} else {
		sb.WriteString("Metrics: unavailable\n")
	}
	fmt.Fprintf(&sb, "Trades: %d\n", r.Trades)
	if r.Breaches > 0 {
		fmt.Fprintf(&sb, "Risk breaches: %d\n", r.Breaches)
	}
	if r.RunID != "" {
		fmt.Fprintf(&sb, "Run: %s\n", r.RunID)
	}
	if r.ArchivePath != "" {
		fmt.Fprintf(&sb, "Archive: %s\n", r.ArchivePath)
	}
	return sb.String()
}

func (e *Email) formatRow(r notifier.Report) string {
	color := "#28a745" // green for gains
	if r.FinalEquity < r.InitialCapital {
		color = "#dc3545" // red for losses
	}

	ret, sharpe, dd := "n/a", "n/a", "n/a"
	if r.HasStats {
		ret = fmt.Sprintf("%.2f%%", r.TotalReturn*100)
		sharpe = fmt.Sprintf("%.2f", r.SharpeRatio)
		dd = fmt.Sprintf("%.2f%%", r.MaxDrawdown*100)
	}

	return fmt.Sprintf(`<tr><td>%s</td><td style="color: %s;">%.2f</td><td>%s</td><td>%s</td><td>%s</td><td>%d</td></tr>`,
		html.EscapeString(r.Strategy), color, r.FinalEquity, ret, sharpe, dd, r.Trades)
}

func (e *Email) sendEmail(ctx context.Context, subject, body string) error {
	// net/smtp takes no context.
	if err := ctx.Err(); err != nil {
		return err
	}

	addr := fmt.Sprintf("%s:%d", e.cfg.Host, e.cfg.Port)

	var auth smtp.Auth
	if e.cfg.Username != "" {
		auth = smtp.PlainAuth("", e.cfg.Username, e.cfg.Password, e.cfg.Host)
	}

	contentType := "text/plain"
	if strings.Contains(body, "<html>") {
		contentType = "text/html"
	}

	msg := fmt.Sprintf("From: %s\r\n"+
		"To: %s\r\n"+
		"Subject: %s\r\n"+
		"MIME-Version: 1.0\r\n"+
		"Content-Type: %s; charset=UTF-8\r\n"+
		"\r\n"+
		"%s",
		e.cfg.From,
		strings.Join(e.cfg.To, ","),
		subject,
		contentType,
		body,
	)

	if err := e.send(addr, auth, e.cfg.From, e.cfg.To, []byte(msg)); err != nil {
		return fmt.Errorf("email: failed to send: %w", err)
	}
	return nil
}

package notification

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	htmltemplate "html/template"
	"mime"
	"net/smtp"
	"strings"
	texttemplate "text/template"
	"time"

	"go.uber.org/zap"

	"github.com/smukkama/heating-monitor/internal/alarming"
	"github.com/smukkama/heating-monitor/internal/protocol"
	"github.com/smukkama/heating-monitor/pkg/config"
)

// ErrNotConfigured is returned when SMTP credentials or recipients are missing
var ErrNotConfigured = errors.New("SMTP not configured")

const boundary = "heating-monitor-alarm"

var textTemplate = texttemplate.Must(texttemplate.New("text").Parse(`
Energieverbrauch-Alarm
=====================

Der tägliche Energieverbrauch hat den Schwellenwert überschritten.

Tag: {{.Day}}
Aktueller Verbrauch: {{printf "%.2f" .CurrentKwh}} kWh
Schwellenwert: {{printf "%.2f" .ThresholdKwh}} kWh
Überschreitung: +{{printf "%.2f" .OverKwh}} kWh
Zeitpunkt: {{.TriggeredAt.Format "02.01.2006 15:04:05 MST"}}
Alarm-ID: {{.ID}}

Diese E-Mail wurde automatisch vom Energie-Monitoring-System gesendet.

---
Heating Monitor
`))

var htmlTemplate = htmltemplate.Must(htmltemplate.New("html").Parse(`<!DOCTYPE html>
<html>
<body style="font-family: Arial, sans-serif; color: #333;">
  <h2 style="color: #c0392b;">Energieverbrauch-Alarm</h2>
  <p>Der tägliche Energieverbrauch hat den Schwellenwert überschritten.</p>
  <table cellpadding="6" style="border-collapse: collapse;">
    <tr><td>Tag</td><td><strong>{{.Day}}</strong></td></tr>
    <tr><td>Aktueller Verbrauch</td><td><strong>{{printf "%.2f" .CurrentKwh}} kWh</strong></td></tr>
    <tr><td>Schwellenwert</td><td>{{printf "%.2f" .ThresholdKwh}} kWh</td></tr>
    <tr><td>Überschreitung</td><td style="color: #c0392b;">+{{printf "%.2f" .OverKwh}} kWh</td></tr>
    <tr><td>Zeitpunkt</td><td>{{.TriggeredAt.Format "02.01.2006 15:04:05 MST"}}</td></tr>
  </table>
  <p style="font-size: 12px; color: #888;">Alarm-ID {{.ID}} &middot; Heating Monitor</p>
</body>
</html>
`))

// EmailNotifier sends email notifications
type EmailNotifier struct {
	config   *config.SMTPConfig
	log      *zap.Logger
	sendMail func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

// NewEmailNotifier creates a new email notifier
func NewEmailNotifier(cfg *config.SMTPConfig, log *zap.Logger) *EmailNotifier {
	if log == nil {
		log = zap.NewNop()
	}
	return &EmailNotifier{config: cfg, log: log, sendMail: smtp.SendMail}
}

// Configured reports whether credentials and a recipient are set
func (e *EmailNotifier) Configured() bool {
	return e.config.Username != "" && e.config.Password != "" && len(e.recipients()) > 0
}

// Send delivers a consumption alarm. It implements alarming.Notifier.
func (e *EmailNotifier) Send(ctx context.Context, alarm alarming.Alarm) bool {
	notification := protocol.NewConsumptionNotification(alarm.Day, alarm.CurrentKwh, alarm.ThresholdKwh, alarm.TriggeredAt)

	err := e.SendConsumptionAlarm(ctx, notification)
	switch {
	case errors.Is(err, ErrNotConfigured):
		e.log.Warn("SMTP not configured, skipping consumption alarm email", zap.String("day", alarm.Day))
		return false
	case err != nil:
		e.log.Error("failed to send consumption alarm email", zap.String("day", alarm.Day), zap.Error(err))
		return false
	}
	return true
}

// SendConsumptionAlarm renders and sends the alarm email
func (e *EmailNotifier) SendConsumptionAlarm(ctx context.Context, notification *protocol.AlarmNotification) error {
	if notification.Type != protocol.AlarmTypeConsumptionExceeded {
		return fmt.Errorf("unknown notification type: %s", notification.Type)
	}
	if !e.Configured() {
		return ErrNotConfigured
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	subject := fmt.Sprintf("⚠️ Energieverbrauch-Alarm: %.2f kWh überschritten!", notification.CurrentKwh)
	message, err := e.buildMessage(subject, notification, time.Now())
	if err != nil {
		return fmt.Errorf("failed to render email template: %w", err)
	}

	auth := smtp.PlainAuth("", e.config.Username, e.config.Password, e.config.Host)
	addr := fmt.Sprintf("%s:%d", e.config.Host, e.config.Port)
	if err := e.sendMail(addr, auth, e.config.From, e.recipients(), message); err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}

	e.log.Info("email sent", zap.String("subject", subject), zap.String("alarm_id", notification.ID))
	return nil
}

func (e *EmailNotifier) buildMessage(subject string, notification *protocol.AlarmNotification, date time.Time) ([]byte, error) {
	var text, html bytes.Buffer
	if err := textTemplate.Execute(&text, notification); err != nil {
		return nil, err
	}
	if err := htmlTemplate.Execute(&html, notification); err != nil {
		return nil, err
	}

	var msg bytes.Buffer
	fmt.Fprintf(&msg, "From: %s\r\n", e.config.From)
	fmt.Fprintf(&msg, "To: %s\r\n", strings.Join(e.recipients(), ", "))
	fmt.Fprintf(&msg, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", subject))
	fmt.Fprintf(&msg, "Date: %s\r\n", date.Format(time.RFC1123Z))
	msg.WriteString("MIME-Version: 1.0\r\n")
	fmt.Fprintf(&msg, "Content-Type: multipart/alternative; boundary=%q\r\n\r\n", boundary)

	fmt.Fprintf(&msg, "--%s\r\n", boundary)
	msg.WriteString("Content-Type: text/plain; charset=\"UTF-8\"\r\n\r\n")
	msg.Write(text.Bytes())
	fmt.Fprintf(&msg, "\r\n--%s\r\n", boundary)
	msg.WriteString("Content-Type: text/html; charset=\"UTF-8\"\r\n\r\n")
	msg.Write(html.Bytes())
	fmt.Fprintf(&msg, "\r\n--%s--\r\n", boundary)

	return msg.Bytes(), nil
}

func (e *EmailNotifier) recipients() []string {
	var to []string
	for _, addr := range strings.Split(e.config.To, ",") {
		if addr = strings.TrimSpace(addr); addr != "" {
			to = append(to, addr)
		}
	}
	return to
}

// TestConnection tests the SMTP connection
func (e *EmailNotifier) TestConnection() error {
	if !e.Configured() {
		return ErrNotConfigured
	}

	addr := fmt.Sprintf("%s:%d", e.config.Host, e.config.Port)
	client, err := smtp.Dial(addr)
	if err != nil {
		return fmt.Errorf("failed to connect to SMTP server: %w", err)
	}
	defer client.Close()

	e.log.Info("SMTP connection test successful", zap.String("addr", addr))
	return nil
}

package notification

import (
	"context"
	"errors"
	"mime"
	"net/smtp"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smukkama/heating-monitor/internal/alarming"
	"github.com/smukkama/heating-monitor/internal/protocol"
	"github.com/smukkama/heating-monitor/pkg/config"
)

var testAlarm = alarming.Alarm{
	Day:          "2025-01-15",
	CurrentKwh:   14.567,
	ThresholdKwh: 12,
	TriggeredAt:  time.Date(2025, 1, 15, 18, 30, 0, 0, time.UTC),
}

type sentMail struct {
	addr string
	from string
	to   []string
	msg  string
}

func newTestEmailNotifier(cfg config.SMTPConfig, sendErr error) (*EmailNotifier, *[]sentMail) {
	var sent []sentMail
	n := NewEmailNotifier(&cfg, nil)
	n.sendMail = func(addr string, _ smtp.Auth, from string, to []string, msg []byte) error {
		if sendErr != nil {
			return sendErr
		}
		sent = append(sent, sentMail{addr: addr, from: from, to: to, msg: string(msg)})
		return nil
	}
	return n, &sent
}

func configuredSMTP() config.SMTPConfig {
	return config.SMTPConfig{
		Host:     "smtp.example.com",
		Port:     587,
		Username: "monitor",
		Password: "secret",
		From:     "monitor@example.com",
		To:       "alice@example.com, bob@example.com",
	}
}

func TestEmailNotifier_Send(t *testing.T) {
	n, sent := newTestEmailNotifier(configuredSMTP(), nil)

	assert.True(t, n.Send(context.Background(), testAlarm))
	require.Len(t, *sent, 1)

	mail := (*sent)[0]
	assert.Equal(t, "smtp.example.com:587", mail.addr)
	assert.Equal(t, []string{"alice@example.com", "bob@example.com"}, mail.to)
	assert.Equal(t, "⚠️ Energieverbrauch-Alarm: 14.57 kWh überschritten!", decodedSubject(t, mail.msg))
	assert.Contains(t, mail.msg, "multipart/alternative")
	assert.Contains(t, mail.msg, "Content-Type: text/plain")
	assert.Contains(t, mail.msg, "Content-Type: text/html")
	assert.Contains(t, mail.msg, "Schwellenwert: 12.00 kWh")
	assert.Contains(t, mail.msg, "Überschreitung: +2.57 kWh")
}

func TestEmailNotifier_NotConfigured(t *testing.T) {
	for name, mutate := range map[string]func(*config.SMTPConfig){
		"no username":  func(c *config.SMTPConfig) { c.Username = "" },
		"no password":  func(c *config.SMTPConfig) { c.Password = "" },
		"no recipient": func(c *config.SMTPConfig) { c.To = " , " },
	} {
		t.Run(name, func(t *testing.T) {
			cfg := configuredSMTP()
			mutate(&cfg)
			n, sent := newTestEmailNotifier(cfg, nil)

			assert.False(t, n.Send(context.Background(), testAlarm), "unconfigured email is not a delivery")
			assert.Empty(t, *sent)

			err := n.SendConsumptionAlarm(context.Background(), protocol.NewConsumptionNotification("2025-01-15", 13, 12, time.Now()))
			assert.ErrorIs(t, err, ErrNotConfigured)
			assert.ErrorIs(t, n.TestConnection(), ErrNotConfigured)
		})
	}
}

func TestEmailNotifier_SendFailure(t *testing.T) {
	n, _ := newTestEmailNotifier(configuredSMTP(), errors.New("535 authentication failed"))
	assert.False(t, n.Send(context.Background(), testAlarm))
}

func TestEmailNotifier_UnknownType(t *testing.T) {
	n, _ := newTestEmailNotifier(configuredSMTP(), nil)
	err := n.SendConsumptionAlarm(context.Background(), &protocol.AlarmNotification{Type: "ALARM_CLEARED"})
	assert.ErrorContains(t, err, "unknown notification type")
}

func TestEmailNotifier_HTMLEscapesValues(t *testing.T) {
	n, _ := newTestEmailNotifier(configuredSMTP(), nil)
	notification := protocol.NewConsumptionNotification("<script>", 13, 12, testAlarm.TriggeredAt)

	msg, err := n.buildMessage("subject", notification, testAlarm.TriggeredAt)
	require.NoError(t, err)

	html := string(msg)[strings.Index(string(msg), "text/html"):]
	assert.NotContains(t, html, "<script>")
	assert.Contains(t, html, "&lt;script&gt;")
}

type fakePublisher struct {
	err       error
	published []*protocol.AlarmNotification
	deadline  bool
}

func (f *fakePublisher) PublishAlarm(ctx context.Context, alarm *protocol.AlarmNotification) error {
	_, f.deadline = ctx.Deadline()
	if f.err != nil {
		return f.err
	}
	f.published = append(f.published, alarm)
	return nil
}

func TestQueueNotifier_Send(t *testing.T) {
	pub := &fakePublisher{}
	q := NewQueueNotifier(pub, time.Second, nil)

	assert.True(t, q.Send(context.Background(), testAlarm))
	require.Len(t, pub.published, 1)
	assert.True(t, pub.deadline)

	n := pub.published[0]
	assert.Equal(t, protocol.AlarmTypeConsumptionExceeded, n.Type)
	assert.Equal(t, "2025-01-15", n.Day)
	assert.Equal(t, 14.567, n.CurrentKwh)
	assert.NotEmpty(t, n.ID)

	pub.err = errors.New("leader not available")
	assert.False(t, q.Send(context.Background(), testAlarm))
}

func decodedSubject(t *testing.T, msg string) string {
	t.Helper()
	for _, line := range strings.Split(msg, "\r\n") {
		if raw, ok := strings.CutPrefix(line, "Subject: "); ok {
			for _, r := range raw {
				require.Less(t, r, rune(128), "subject header must be ASCII")
			}
			subject, err := new(mime.WordDecoder).DecodeHeader(raw)
			require.NoError(t, err)
			return subject
		}
	}
	t.Fatal("no Subject header")
	return ""
}

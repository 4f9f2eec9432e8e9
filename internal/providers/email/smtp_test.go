package email

import (
	"context"
	"net/smtp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type captured struct {
	addr string
	from string
	to   []string
	msg  string
}

func newCapturing(cfg Config) (*SMTPProvider, *captured) {
	c := &captured{}
	p := NewSMTP(cfg)
	p.send = func(addr string, _ smtp.Auth, from string, to []string, msg []byte) error {
		c.addr, c.from, c.to, c.msg = addr, from, to, string(msg)
		return nil
	}
	return p, c
}

func TestSendBuildsMessage(t *testing.T) {
	p, c := newCapturing(Config{Host: "mail.local", Port: 2525, From: "alerts@meterline.dev"})

	err := p.Send(context.Background(), []string{"ops@example.com", "cfo@example.com"}, "hello", "<p>hi</p>")
	require.NoError(t, err)

	assert.Equal(t, "mail.local:2525", c.addr)
	assert.Equal(t, "alerts@meterline.dev", c.from)
	assert.Len(t, c.to, 2)
	assert.Contains(t, c.msg, "To: ops@example.com, cfo@example.com\r\n")
	assert.Contains(t, c.msg, "Subject: hello\r\n")
	assert.True(t, strings.HasSuffix(c.msg, "<p>hi</p>"))
}

func TestSendRequiresRecipients(t *testing.T) {
	p, _ := newCapturing(Config{Host: "mail.local", Port: 25})
	assert.ErrorIs(t, p.Send(context.Background(), nil, "s", "b"), ErrNoRecipients)
}

func TestSendTemplateRendersBillingAlert(t *testing.T) {
	p, c := newCapturing(Config{Host: "mail.local", Port: 25})

	err := p.SendTemplate(context.Background(), []string{"ops@example.com"}, "billing_alert", map[string]any{
		"subject":     "CRITICAL: api_calls at 96.0%",
		"level":       "CRITICAL",
		"tenant_id":   "t-1",
		"metric_type": "api_calls",
		"percentage":  96.0,
		"message":     "api_calls usage is at 96.0% of quota",
		"created_at":  "2025-06-15T10:00:00Z",
	})
	require.NoError(t, err)
	assert.Contains(t, c.msg, "Subject: CRITICAL: api_calls at 96.0%")
	assert.Contains(t, c.msg, "<strong>96.0%</strong>")
	assert.Contains(t, c.msg, "t-1")
}

func TestSendTemplateUnknownTemplate(t *testing.T) {
	p, _ := newCapturing(Config{Host: "mail.local", Port: 25})
	err := p.SendTemplate(context.Background(), []string{"ops@example.com"}, "missing", nil)
	assert.Error(t, err)
}

package notification

import (
	"context"
	"errors"
	"testing"
	"time"

	alertdomain "github.com/smallbiznis/meterline/internal/alert/domain"
	"github.com/smallbiznis/meterline/internal/config"
	"github.com/smallbiznis/meterline/internal/providers/email"
	"github.com/smallbiznis/meterline/internal/providers/slack"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type mockEmail struct {
	mock.Mock
}

func (m *mockEmail) Send(ctx context.Context, to []string, subject string, htmlBody string) error {
	return m.Called(to, subject, htmlBody).Error(0)
}

func (m *mockEmail) SendTemplate(ctx context.Context, to []string, templateName string, data map[string]any) error {
	return m.Called(to, templateName, data).Error(0)
}

type mockSlack struct {
	mock.Mock
}

func (m *mockSlack) PostMessage(ctx context.Context, channelID string, message string) error {
	return m.Called(channelID, message).Error(0)
}

func criticalAlert() alertdomain.BillingAlert {
	return alertdomain.BillingAlert{
		ID:         42,
		TenantID:   "t-1",
		MetricType: "api_calls",
		Level:      alertdomain.LevelCritical,
		Message:    "api_calls usage is at 96.0% of quota",
		Percentage: 96,
		Active:     true,
		CreatedAt:  time.Date(2025, 6, 15, 10, 0, 0, 0, time.UTC),
	}
}

func newTestDispatcher(recipients []string, e email.Provider, s slack.Provider) Dispatcher {
	var cfg config.Config
	cfg.Notification.Recipients = recipients
	cfg.Notification.SlackChannel = "#billing"
	return NewDispatcher(Params{Config: cfg, Log: zap.NewNop(), Email: e, Slack: s})
}

func TestNotifySendsToEveryChannel(t *testing.T) {
	e, s := &mockEmail{}, &mockSlack{}
	e.On("SendTemplate", []string{"ops@example.com"}, "billing_alert", mock.MatchedBy(func(data map[string]any) bool {
		return data["tenant_id"] == "t-1" && data["level"] == "CRITICAL" && data["created_at"] == "2025-06-15T10:00:00Z"
	})).Return(nil).Once()
	s.On("PostMessage", "#billing", mock.MatchedBy(func(msg string) bool {
		return assert.Contains(t, msg, ":rotating_light:") && assert.Contains(t, msg, "CRITICAL: api_calls at 96.0%")
	})).Return(nil).Once()

	d := newTestDispatcher([]string{" ops@example.com ", ""}, e, s)
	require.NoError(t, d.Notify(context.Background(), criticalAlert()))

	e.AssertExpectations(t)
	s.AssertExpectations(t)
}

func TestNotifySkipsEmailWithoutRecipients(t *testing.T) {
	e, s := &mockEmail{}, &mockSlack{}
	s.On("PostMessage", "#billing", mock.Anything).Return(nil).Once()

	d := newTestDispatcher(nil, e, s)
	require.NoError(t, d.Notify(context.Background(), criticalAlert()))

	e.AssertNotCalled(t, "SendTemplate", mock.Anything, mock.Anything, mock.Anything)
	s.AssertExpectations(t)
}

func TestNotifyJoinsChannelErrors(t *testing.T) {
	errSMTP := errors.New("smtp down")
	e, s := &mockEmail{}, &mockSlack{}
	e.On("SendTemplate", mock.Anything, mock.Anything, mock.Anything).Return(errSMTP)
	s.On("PostMessage", mock.Anything, mock.Anything).Return(nil)

	d := newTestDispatcher([]string{"ops@example.com"}, e, s)
	err := d.Notify(context.Background(), criticalAlert())
	require.Error(t, err)
	assert.ErrorIs(t, err, errSMTP)
	s.AssertNumberOfCalls(t, "PostMessage", 1)
}

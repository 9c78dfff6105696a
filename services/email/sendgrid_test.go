package emailsvc

import (
	"net/http"
	"net/mail"
	"strings"
	"sync"
	"testing"

	"github.com/pkg/errors"
	"github.com/sendgrid/rest"
	sgmail "github.com/sendgrid/sendgrid-go/helpers/mail"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/tabula/core"
	testutil "github.com/trezcool/tabula/tests"
)

type fakeSender struct {
	res *rest.Response
	err error
}

func (s fakeSender) Send(*sgmail.SGMailV3) (*rest.Response, error) { return s.res, s.err }

type errorRecorder struct {
	testutil.Logger
	mu   sync.Mutex
	msgs []string
}

func (l *errorRecorder) Error(msg string, _ ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.msgs = append(l.msgs, msg)
}

func sendgridConf() *core.Config {
	return &core.Config{
		AppName: "Tabula",
		Email:   core.EmailConfig{DefaultFromEmail: "Tabula <noreply@example.com>"},
	}
}

func TestSendgridService_build(t *testing.T) {
	svc := newSendgridService(sendgridConf(), testutil.Logger{}, fakeSender{})

	msg := &core.EmailMessage{
		To:      []mail.Address{{Name: "Ops", Address: "ops@example.com"}},
		Cc:      []mail.Address{{Address: "OPS@example.com"}, {Address: "lead@example.com"}},
		Bcc:     []mail.Address{{Address: "lead@example.com"}, {Address: "audit@example.com"}},
		Subject: "Dataset ingestion failed",
		Body:    "Ingestion of people.csv failed",
	}
	require.NoError(t, msg.Attach(strings.NewReader("a,b\n"), "rows.csv", "text/csv"))

	m := svc.build(msg)
	assert.Equal(t, "noreply@example.com", m.From.Address)
	assert.Equal(t, []string{"tabula"}, m.Categories)

	require.Len(t, m.Personalizations, 1)
	p := m.Personalizations[0]
	assert.Equal(t, "[Tabula] Dataset ingestion failed", p.Subject)
	require.Len(t, p.To, 1)
	assert.Equal(t, "Ops", p.To[0].Name)
	require.Len(t, p.CC, 1, "an address already in To is dropped")
	assert.Equal(t, "lead@example.com", p.CC[0].Address)
	require.Len(t, p.BCC, 1)
	assert.Equal(t, "audit@example.com", p.BCC[0].Address)

	require.Len(t, m.Content, 1)
	assert.Equal(t, "text/plain", m.Content[0].Type)
	require.Len(t, m.Attachments, 1)
	assert.Equal(t, "rows.csv", m.Attachments[0].Filename)
	assert.Equal(t, "text/csv", m.Attachments[0].Type)
	assert.Equal(t, "attachment", m.Attachments[0].Disposition)
}

func TestSendgridService_send(t *testing.T) {
	tests := []struct {
		name    string
		sender  fakeSender
		wantLog []string
	}{
		{name: "accepted", sender: fakeSender{res: &rest.Response{StatusCode: http.StatusAccepted}}},
		{
			name:    "transport error",
			sender:  fakeSender{err: errors.New("connection refused")},
			wantLog: []string{"sending email"},
		},
		{
			name:    "rejected",
			sender:  fakeSender{res: &rest.Response{StatusCode: http.StatusBadRequest, Body: "bad from"}},
			wantLog: []string{"sending email: rejected by sendgrid: bad from"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger := new(errorRecorder)
			svc := newSendgridService(sendgridConf(), logger, tt.sender)
			svc.send(svc.build(&core.EmailMessage{
				To:      []mail.Address{{Address: "ops@example.com"}},
				Subject: "hi",
				Body:    "hello",
			}))
			assert.Equal(t, tt.wantLog, logger.msgs)
		})
	}
}

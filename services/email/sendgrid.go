package emailsvc

import (
	"fmt"
	"net/http"
	"net/mail"
	"strings"

	"github.com/sendgrid/rest"
	"github.com/sendgrid/sendgrid-go"
	sgmail "github.com/sendgrid/sendgrid-go/helpers/mail"

	"github.com/trezcool/tabula/core"
)

type sgSender interface {
	Send(email *sgmail.SGMailV3) (*rest.Response, error)
}

// sendgridService delivers operator notices through the SendGrid v3 API.
type sendgridService struct {
	client     sgSender
	from       *sgmail.Email
	subjPrefix string
	category   string
	logger     core.Logger
}

var _ core.EmailService = (*sendgridService)(nil)

func NewSendgridService(conf *core.Config, logger core.Logger) core.EmailService {
	return newSendgridService(conf, logger, sendgrid.NewSendClient(conf.Email.SendgridApiKey))
}

func newSendgridService(conf *core.Config, logger core.Logger, client sgSender) *sendgridService {
	from := conf.Email.DefaultFrom()
	return &sendgridService{
		client:     client,
		from:       sgmail.NewEmail(from.Name, from.Address),
		subjPrefix: "[" + conf.AppName + "] ",
		category:   strings.ToLower(conf.AppName),
		logger:     logger,
	}
}

func (svc *sendgridService) SendMessages(messages ...*core.EmailMessage) {
	for _, msg := range messages {
		if msg.HasRecipients() && (msg.HasContent() || msg.HasAttachments()) {
			go svc.send(svc.build(msg))
		}
	}
}

// build maps msg to a single personalization. SendGrid rejects an address
// repeated across to, cc and bcc, so later occurrences are dropped.
func (svc *sendgridService) build(msg *core.EmailMessage) *sgmail.SGMailV3 {
	p := sgmail.NewPersonalization()
	p.Subject = svc.subjPrefix + msg.Subject

	seen := make(map[string]bool)
	add := func(addrs []mail.Address, fn func(...*sgmail.Email)) {
		for _, a := range addrs {
			key := strings.ToLower(a.Address)
			if key == "" || seen[key] {
				continue
			}
			seen[key] = true
			fn(sgmail.NewEmail(a.Name, a.Address))
		}
	}
	add(msg.To, p.AddTos)
	add(msg.Cc, p.AddCCs)
	add(msg.Bcc, p.AddBCCs)

	m := sgmail.NewV3Mail()
	m.SetFrom(svc.from)
	m.AddPersonalizations(p)
	if svc.category != "" {
		m.AddCategories(svc.category)
	}

	// text/plain must precede text/html
	if msg.Body != "" {
		m.AddContent(sgmail.NewContent("text/plain", msg.Body))
	}
	if msg.HTMLBody != "" {
		m.AddContent(sgmail.NewContent("text/html", msg.HTMLBody))
	}

	for _, at := range msg.Attachments {
		a := sgmail.NewAttachment()
		a.SetContent(at.Content.String())
		a.SetType(at.ContentType)
		a.SetFilename(at.Filename)
		a.SetDisposition("attachment")
		m.AddAttachment(a)
	}
	return m
}

func (svc *sendgridService) send(m *sgmail.SGMailV3) {
	lc := map[string]interface{}{"subject": m.Personalizations[0].Subject}

	res, err := svc.client.Send(m)
	if err != nil {
		svc.logger.Error("sending email", err, lc)
		return
	}
	if res.StatusCode >= http.StatusBadRequest {
		lc["status"] = res.StatusCode
		svc.logger.Error(fmt.Sprintf("sending email: rejected by sendgrid: %s", res.Body), lc)
	}
}

package shared

import (
	"github.com/trezcool/tabula/core"
	emailsvc "github.com/trezcool/tabula/services/email"
)

// NewMailService prints e-mails in debug mode and sends them through Sendgrid otherwise.
func NewMailService(conf *core.Config, logger core.Logger) core.EmailService {
	if conf.Debug || conf.Email.SendgridApiKey == "" {
		return emailsvc.NewConsoleService(conf, logger)
	}
	return emailsvc.NewSendgridService(conf, logger)
}

package notifier

import (
	"fmt"
	"time"

	"github.com/ghostzpy/truco-server/internal/account/entity"
)

const (
	KindActivation = "activation"
	KindReset      = "password_reset"
)

// Mailer turns account events into queued emails.
type Mailer struct {
	d *Dispatcher
}

func NewMailer(d *Dispatcher) *Mailer {
	return &Mailer{d: d}
}

func (m *Mailer) NotifyActivation(a *entity.Account, code string) {
	_ = m.d.Enqueue(KindActivation, Message{
		To:      a.Email,
		Subject: "Truco Arena: confirm your email",
		Body: fmt.Sprintf("Hello %s,\n\nYour activation code is %s.\n\n"+
			"If you did not create a Truco Arena account you can ignore this message.\n",
			a.Name, code),
	})
}

func (m *Mailer) NotifyPasswordReset(a *entity.Account, code string, expiresAt time.Time) {
	_ = m.d.Enqueue(KindReset, Message{
		To:      a.Email,
		Subject: "Truco Arena: password reset",
		Body: fmt.Sprintf("Hello %s,\n\nYour password reset code is %s. It expires at %s.\n\n"+
			"If you did not ask for a reset you can ignore this message.\n",
			a.Name, code, expiresAt.UTC().Format("15:04 MST, 02 Jan 2006")),
	})
}

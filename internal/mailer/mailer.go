// mailer доставляет письма со ссылками подтверждения e-mail и сброса пароля.
//
// Ядро сервиса видит только Send(to, tmpl, data) без результата: письмо
// ставится в очередь Dispatcher, доставка и повторы происходят в фоне,
// ошибки только логируются.
package mailer

import (
	"bytes"
	"context"
	"fmt"
	"text/template"
)

// Template — идентификатор шаблона письма.
type Template string

const (
	TemplateConfirmEmail  Template = "confirm_email"
	TemplateResetPassword Template = "reset_password"
)

// Message — готовое к отправке письмо.
type Message struct {
	To      string
	Subject string
	Body    string
}

// Sender доставляет одно письмо. Реализации: SMTPSender, LogSender.
type Sender interface {
	Deliver(ctx context.Context, msg Message) error
}

// Mailer — контракт, которым пользуется сервисный слой.
type Mailer interface {
	Send(to string, tmpl Template, data map[string]any)
}

type mailTemplate struct {
	subject *template.Template
	body    *template.Template
}

var templates = map[Template]mailTemplate{
	TemplateConfirmEmail: {
		subject: template.Must(template.New("confirm_subject").Parse(`Confirm your e-mail address`)),
		body: template.Must(template.New("confirm_body").Parse(`Hello{{with .Name}}, {{.}}{{end}}!

Please confirm your e-mail address by opening the link below:

{{.Link}}

The link is valid for {{.ExpiresIn}}. If you did not create an account, ignore this message.
`)),
	},
	TemplateResetPassword: {
		subject: template.Must(template.New("reset_subject").Parse(`Password reset`)),
		body: template.Must(template.New("reset_body").Parse(`Hello{{with .Name}}, {{.}}{{end}}!

Someone requested a password reset for your account. To choose a new password open the link below:

{{.Link}}

The link is valid for {{.ExpiresIn}}. If you did not request a reset, ignore this message.
`)),
	},
}

// Render собирает письмо по шаблону.
func Render(to string, tmpl Template, data map[string]any) (Message, error) {
	const op = "mailer.Render"

	t, ok := templates[tmpl]
	if !ok {
		return Message{}, fmt.Errorf("%s: unknown template %q", op, tmpl)
	}

	var subj, body bytes.Buffer
	if err := t.subject.Execute(&subj, data); err != nil {
		return Message{}, fmt.Errorf("%s: %w", op, err)
	}
	if err := t.body.Execute(&body, data); err != nil {
		return Message{}, fmt.Errorf("%s: %w", op, err)
	}

	return Message{To: to, Subject: subj.String(), Body: body.String()}, nil
}

// Package mail はマジックリンクのメール送信を提供する。
// 送信処理は関数として注入できるため、テストやSMTP以外の
// 配送手段への差し替えが容易になっている。
package mail

import (
	"fmt"
	"log/slog"
	"net"
	"net/smtp"
	"strings"
	"text/template"

	"github.com/chewtoys/kentcdodds.com/internal/model"
)

// SendFunc はメールを1通送信する。from/toはメールアドレス、
// msgはヘッダーを含むメール本文全体。
type SendFunc func(from, to string, msg []byte) error

// Config はメール送信の設定。
type Config struct {
	From     string
	SiteName string
	BaseURL  string
}

// Mailer はマジックリンクメールの組み立てと送信を行う。
type Mailer struct {
	config Config
	send   SendFunc
	logger *slog.Logger
	tmpl   *template.Template
}

// magicLinkTemplate はマジックリンクメールの本文テンプレート。
const magicLinkTemplate = `From: {{.SiteName}} <{{.From}}>
To: {{.To}}
Subject: Here's your Magic ✨ sign-in link for {{.SiteName}}
MIME-Version: 1.0
Content-Type: text/plain; charset=UTF-8

Here's your sign-in link for {{.SiteName}}:

{{.MagicLink}}

This link expires in 30 minutes and can only be used once.
If you didn't request this, you can safely ignore this email.
`

// templateData はテンプレートに渡す値。
type templateData struct {
	From      string
	To        string
	SiteName  string
	MagicLink string
}

// NewMailer はMailerを生成する。sendがnilの場合は送信時にエラーを返す。
func NewMailer(config Config, send SendFunc, logger *slog.Logger) (*Mailer, error) {
	tmpl, err := template.New("magic_link").Parse(magicLinkTemplate)
	if err != nil {
		return nil, fmt.Errorf("failed to parse mail template: %w", err)
	}
	return &Mailer{
		config: config,
		send:   send,
		logger: logger,
		tmpl:   tmpl,
	}, nil
}

// SendMagicLink は指定メールアドレスにマジックリンクメールを送信する。
func (m *Mailer) SendMagicLink(to, magicLink string) error {
	if m.send == nil {
		return model.NewMailSendFailedError()
	}

	var buf strings.Builder
	err := m.tmpl.Execute(&buf, templateData{
		From:      m.config.From,
		To:        to,
		SiteName:  m.config.SiteName,
		MagicLink: magicLink,
	})
	if err != nil {
		return fmt.Errorf("failed to render mail template: %w", err)
	}

	if err := m.send(m.config.From, to, []byte(buf.String())); err != nil {
		m.logger.Error("failed to send magic link email",
			slog.String("error", err.Error()),
		)
		return model.NewMailSendFailedError()
	}

	m.logger.Info("sent magic link email")
	return nil
}

// SMTPConfig はSMTP送信の接続設定。
type SMTPConfig struct {
	Host string
	Port string
	User string
	Pass string
}

// NewSMTPSender はnet/smtpを使うSendFuncを返す。
// Userが空の場合は認証なしで送信する（ローカルのMailHog等を想定）。
func NewSMTPSender(config SMTPConfig) SendFunc {
	return func(from, to string, msg []byte) error {
		addr := net.JoinHostPort(config.Host, config.Port)
		var auth smtp.Auth
		if config.User != "" {
			auth = smtp.PlainAuth("", config.User, config.Pass, config.Host)
		}
		return smtp.SendMail(addr, auth, from, []string{to}, msg)
	}
}

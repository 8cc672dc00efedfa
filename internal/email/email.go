package email

import (
	"bytes"
	"fmt"
	"html/template"
	"net/smtp"

	"go.uber.org/zap"
)

type Sender struct {
	Host     string
	Port     string
	Username string
	Password string
	From     string

	log *zap.Logger
}

func NewSender(host, port, username, password, from string, log *zap.Logger) *Sender {
	return &Sender{
		Host:     host,
		Port:     port,
		Username: username,
		Password: password,
		From:     from,
		log:      log,
	}
}

var resetTemplate = template.Must(template.New("reset").Parse(`
<!DOCTYPE html>
<html>
<head>
    <style>
        body { font-family: Arial, sans-serif; line-height: 1.6; color: #333; }
        .container { max-width: 600px; margin: 0 auto; padding: 20px; border: 1px solid #ddd; border-radius: 5px; }
        .header { background-color: #1d9bf0; color: white; padding: 10px; text-align: center; border-radius: 5px 5px 0 0; }
        .content { padding: 20px; }
        .button { display: inline-block; padding: 10px 20px; background-color: #0f1419; color: white; text-decoration: none; border-radius: 9999px; font-weight: bold; }
        .footer { margin-top: 20px; font-size: 0.8em; color: #777; text-align: center; }
    </style>
</head>
<body>
    <div class="container">
        <div class="header">
            <h1>Reset your password</h1>
        </div>
        <div class="content">
            <p>Hi {{.Name}},</p>
            <p>Someone asked to reset the password of your nwitter account. The link below works once.</p>
            <p style="text-align: center;">
                <a href="{{.Link}}" class="button">Choose a new password</a>
            </p>
            <p>If you didn't ask for this, you can safely ignore this email.</p>
        </div>
    </div>
</body>
</html>
`))

// render builds the full MIME message with headers in a fixed order.
func (s *Sender) render(to, subject string, body []byte) []byte {
	var msg bytes.Buffer
	fmt.Fprintf(&msg, "From: %s\r\n", s.From)
	fmt.Fprintf(&msg, "To: %s\r\n", to)
	fmt.Fprintf(&msg, "Subject: %s\r\n", subject)
	msg.WriteString("MIME-Version: 1.0\r\n")
	msg.WriteString("Content-Type: text/html; charset=\"UTF-8\"\r\n\r\n")
	msg.Write(body)
	return msg.Bytes()
}

func (s *Sender) SendPasswordReset(to, name, link string) error {
	var body bytes.Buffer
	if err := resetTemplate.Execute(&body, map[string]string{"Name": name, "Link": link}); err != nil {
		return fmt.Errorf("failed to execute template: %w", err)
	}
	const subject = "Reset your nwitter password"

	// Without an SMTP host the mail is only logged, for local development.
	if s.Host == "" {
		s.log.Info("mock email", zap.String("to", to), zap.String("subject", subject), zap.String("link", link))
		return nil
	}

	auth := smtp.PlainAuth("", s.Username, s.Password, s.Host)
	addr := fmt.Sprintf("%s:%s", s.Host, s.Port)
	return smtp.SendMail(addr, auth, s.From, []string{to}, s.render(to, subject, body.Bytes()))
}

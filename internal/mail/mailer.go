package mail

import (
	"fmt"
	"time"

	"gopkg.in/gomail.v2"

	"github.com/keystonehq/identity/internal/config"
)

// Dispatcher sends a single HTML email. Failures are best-effort from the
// auth engine's perspective: logged, never fatal to the primary outcome.
type Dispatcher interface {
	Send(to, subject, htmlBody string) error
}

// SMTPDispatcher implements Dispatcher over SMTP.
type SMTPDispatcher struct {
	dialer *gomail.Dialer
	from   string
}

// NewSMTPDispatcher builds a dispatcher from config.
func NewSMTPDispatcher(cfg config.Config) *SMTPDispatcher {
	dialer := gomail.NewDialer(cfg.EmailHost, cfg.EmailPort, cfg.EmailUser, cfg.EmailPassword)
	dialer.SSL = cfg.EmailSecure
	return &SMTPDispatcher{dialer: dialer, from: cfg.EmailFrom}
}

func (d *SMTPDispatcher) Send(to, subject, htmlBody string) error {
	m := gomail.NewMessage()
	m.SetHeader("From", d.from)
	m.SetHeader("To", to)
	m.SetHeader("Subject", subject)
	m.SetBody("text/html", htmlBody)

	if err := d.dialer.DialAndSend(m); err != nil {
		return fmt.Errorf("send mail: %w", err)
	}
	return nil
}

// VerificationEmail returns the subject and body for the email-address
// verification message. The link targets the service's own endpoint with
// the token as a query parameter.
func VerificationEmail(appName, backendBaseURL, token string) (subject, body string) {
	link := fmt.Sprintf("%s/api/auth/verify-email?token=%s", backendBaseURL, token)
	subject = "Verify Your Email Address"
	body = fmt.Sprintf(`<div style="font-family: Arial, sans-serif; max-width: 600px; margin: 0 auto;">
<h2>Email Verification</h2>
<p>Thank you for registering with %s. Please verify your email address by clicking the link below:</p>
<p><a href="%s">Verify Email</a></p>
<p>Or copy and paste this link into your browser:</p>
<p style="word-break: break-all; color: #666;">%s</p>
<p style="color: #999; font-size: 12px;">This link will expire in 24 hours. If you didn't create an account, please ignore this email.</p>
</div>`, appName, link, link)
	return subject, body
}

// PasswordResetEmail returns the subject and body for the reset message.
func PasswordResetEmail(backendBaseURL, token string) (subject, body string) {
	link := fmt.Sprintf("%s/api/auth/reset-password?token=%s", backendBaseURL, token)
	subject = "Password Reset Request"
	body = fmt.Sprintf(`<div style="font-family: Arial, sans-serif; max-width: 600px; margin: 0 auto;">
<h2>Password Reset</h2>
<p>We received a request to reset your password. Click the link below to create a new password:</p>
<p><a href="%s">Reset Password</a></p>
<p>Or copy and paste this link into your browser:</p>
<p style="word-break: break-all; color: #666;">%s</p>
<p style="color: #999; font-size: 12px;">This link will expire in 1 hour. If you didn't request a password reset, please ignore this email and your password will remain unchanged.</p>
</div>`, link, link)
	return subject, body
}

// LoginNotificationEmail returns the subject and body of the new-login
// notice.
func LoginNotificationEmail(ipAddress, userAgent string, at time.Time) (subject, body string) {
	subject = "New Login to Your Account"
	body = fmt.Sprintf(`<div style="font-family: Arial, sans-serif; max-width: 600px; margin: 0 auto;">
<h2>New Login Detected</h2>
<p>A new login to your account was detected with the following details:</p>
<ul>
<li><strong>IP Address:</strong> %s</li>
<li><strong>Device:</strong> %s</li>
<li><strong>Time:</strong> %s</li>
</ul>
<p>If this was you, you can safely ignore this email.</p>
<p style="color: #d32f2f;">If you don't recognize this login, please reset your password immediately and contact support.</p>
</div>`, ipAddress, userAgent, at.UTC().Format(time.RFC1123))
	return subject, body
}

// Package email provides an SMTP-based notifier for sync failure and
// conflict alerts.
package email

import (
	"context"
	"fmt"
	"net"
	"net/smtp"
	"slices"
	"strconv"
	"strings"

	"github.com/Strob0t/syncbridge/internal/config"
	"github.com/Strob0t/syncbridge/internal/port/notifier"
)

const providerName = "email"

type sendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// Notifier sends email notifications via SMTP.
type Notifier struct {
	cfg  config.SMTP
	to   []string
	send sendFunc
}

var _ notifier.Notifier = (*Notifier)(nil)

// NewNotifier creates a new email notifier. Recipients come from the comma
// separated cfg.To.
func NewNotifier(cfg config.SMTP) *Notifier {
	var to []string
	for _, addr := range strings.Split(cfg.To, ",") {
		if addr = strings.TrimSpace(addr); addr != "" {
			to = append(to, addr)
		}
	}
	return &Notifier{cfg: cfg, to: to, send: smtp.SendMail}
}

func (n *Notifier) Name() string { return providerName }

func (n *Notifier) Capabilities() notifier.Capabilities {
	return notifier.Capabilities{}
}

// Send delivers the notification as a plain-text email. SMTP has no context
// support, so ctx is only checked before dialing.
func (n *Notifier) Send(ctx context.Context, nt notifier.Notification) error {
	if n.cfg.Host == "" || n.cfg.From == "" || len(n.to) == 0 {
		return notifier.ErrNotConfigured
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	var auth smtp.Auth
	if n.cfg.Password != "" {
		user := n.cfg.Username
		if user == "" {
			user = n.cfg.From
		}
		auth = smtp.PlainAuth("", user, n.cfg.Password, n.cfg.Host)
	}

	addr := net.JoinHostPort(n.cfg.Host, strconv.Itoa(n.cfg.Port))
	if err := n.send(addr, auth, n.cfg.From, n.to, n.message(nt)); err != nil {
		return fmt.Errorf("email send: %w", err)
	}
	return nil
}

func (n *Notifier) message(nt notifier.Notification) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", n.cfg.From)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(n.to, ", "))
	fmt.Fprintf(&b, "Subject: [syncbridge] [%s] %s\r\n", strings.ToUpper(nt.Level), headerSafe(nt.Title))
	b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n\r\n")
	b.WriteString(nt.Message)
	b.WriteString("\r\n")

	if len(nt.Fields) > 0 {
		b.WriteString("\r\n")
		keys := make([]string, 0, len(nt.Fields))
		for k := range nt.Fields {
			keys = append(keys, k)
		}
		slices.Sort(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, "%s: %s\r\n", k, nt.Fields[k])
		}
	}
	if nt.Source != "" {
		fmt.Fprintf(&b, "\r\nevent: %s\r\n", nt.Source)
	}
	return []byte(b.String())
}

// headerSafe strips CR/LF so titles cannot inject headers.
func headerSafe(s string) string {
	return strings.NewReplacer("\r", " ", "\n", " ").Replace(s)
}

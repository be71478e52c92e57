// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package sender submits forwarded mail over SMTP with STARTTLS.
package sender

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"net/smtp"
	"time"
)

// Outbound is one message to forward. Bcc recipients receive the mail
// but never appear in the headers.
type Outbound struct {
	To          string
	CC          []string
	BCC         []string
	Subject     string
	Body        string
	Attachments []string // paths of stored attachment blobs
}

// Config holds the SMTP submission settings.
type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	Timeout  time.Duration
}

// Client sends mail through a single configured submission server. Each
// Send is a fresh connection; nothing is pooled.
type Client struct {
	cfg Config
}

// NewClient creates an SMTP client.
func NewClient(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.From == "" {
		cfg.From = cfg.Username
	}
	return &Client{cfg: cfg}
}

// Send builds the MIME message and submits it. Any error here means the
// mail may not have left, so callers must not commit a ROUTED transition.
func (c *Client) Send(ctx context.Context, msg Outbound) error {
	if msg.To == "" {
		return fmt.Errorf("outbound message has no To address")
	}

	content, err := buildMessage(c.cfg.From, msg)
	if err != nil {
		return err
	}

	addr := fmt.Sprintf("%s:%d", c.cfg.Host, c.cfg.Port)
	dialer := &net.Dialer{Timeout: c.cfg.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("dial smtp %s: %w", addr, err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	} else {
		conn.SetDeadline(time.Now().Add(c.cfg.Timeout))
	}

	cl, err := smtp.NewClient(conn, c.cfg.Host)
	if err != nil {
		conn.Close()
		return fmt.Errorf("smtp handshake: %w", err)
	}
	defer cl.Close()

	if ok, _ := cl.Extension("STARTTLS"); ok {
		if err := cl.StartTLS(&tls.Config{ServerName: c.cfg.Host}); err != nil {
			return fmt.Errorf("smtp starttls: %w", err)
		}
	}

	auth := smtp.PlainAuth("", c.cfg.Username, c.cfg.Password, c.cfg.Host)
	if err := cl.Auth(auth); err != nil {
		return fmt.Errorf("smtp auth: %w", err)
	}

	if err := cl.Mail(c.cfg.From); err != nil {
		return fmt.Errorf("smtp MAIL FROM: %w", err)
	}

	recipients := append([]string{msg.To}, msg.CC...)
	recipients = append(recipients, msg.BCC...)
	for _, rcpt := range recipients {
		if err := cl.Rcpt(rcpt); err != nil {
			return fmt.Errorf("smtp RCPT TO %s: %w", rcpt, err)
		}
	}

	w, err := cl.Data()
	if err != nil {
		return fmt.Errorf("smtp DATA: %w", err)
	}
	if _, err := w.Write(content); err != nil {
		w.Close()
		return fmt.Errorf("smtp write body: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("smtp finish body: %w", err)
	}

	if err := cl.Quit(); err != nil {
		// The server accepted the message at DATA completion; a failed
		// QUIT does not unsend it.
		slog.Warn("smtp quit failed after accepted message", "error", err)
	}

	slog.Info("forwarded email sent",
		"to", msg.To,
		"cc", len(msg.CC),
		"bcc", len(msg.BCC),
		"attachments", len(msg.Attachments),
	)
	return nil
}

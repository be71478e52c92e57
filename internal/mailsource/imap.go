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

// Package mailsource fetches raw messages from an IMAP mailbox. Messages
// are addressed by their mailbox UID, which is also the stable email ID
// of the record store: the dispatcher only ever asks for UIDs above its
// high-water mark. Attachment payloads are written to disk under
// <dir>/<uid>/<filename>; the returned message carries the paths.
package mailsource

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"golang.org/x/oauth2"

	_ "github.com/emersion/go-message/charset"
)

// RawMessage is one fetched email before it becomes a record.
type RawMessage struct {
	UID         uint32
	From        string
	Subject     string
	Body        string
	Attachments []string
}

// Config holds the IMAP connection settings.
type Config struct {
	Host          string
	Port          int
	Username      string
	Password      string
	Mailbox       string
	AttachmentDir string

	// TokenSource switches authentication to XOAUTH2 when non-nil.
	TokenSource oauth2.TokenSource
}

// Source fetches messages over IMAP. Each fetch is a fresh
// connect/login/logout round trip; the protocol session is not kept open
// across polling passes.
type Source struct {
	cfg Config
}

// NewSource creates an IMAP mail source.
func NewSource(cfg Config) *Source {
	if cfg.Mailbox == "" {
		cfg.Mailbox = "INBOX"
	}
	return &Source{cfg: cfg}
}

// FetchSince returns all messages with UID strictly greater than lastUID,
// in ascending UID order.
func (s *Source) FetchSince(ctx context.Context, lastUID uint32) ([]RawMessage, error) {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	c, err := client.DialTLS(addr, nil)
	if err != nil {
		return nil, fmt.Errorf("dial imap %s: %w", addr, err)
	}
	defer c.Logout()

	if s.cfg.TokenSource != nil {
		tok, err := s.cfg.TokenSource.Token()
		if err != nil {
			return nil, fmt.Errorf("obtain oauth token: %w", err)
		}
		if err := c.Authenticate(newXOAuth2Client(s.cfg.Username, tok.AccessToken)); err != nil {
			return nil, fmt.Errorf("imap XOAUTH2 auth: %w", err)
		}
	} else {
		if err := c.Login(s.cfg.Username, s.cfg.Password); err != nil {
			return nil, fmt.Errorf("imap login: %w", err)
		}
	}

	// Read-only select: ingestion must not flip \Seen flags.
	if _, err := c.Select(s.cfg.Mailbox, true); err != nil {
		return nil, fmt.Errorf("select mailbox %s: %w", s.cfg.Mailbox, err)
	}

	criteria := imap.NewSearchCriteria()
	seq := new(imap.SeqSet)
	seq.AddRange(lastUID+1, 0) // 0 = "*"
	criteria.Uid = seq

	uids, err := c.UidSearch(criteria)
	if err != nil {
		return nil, fmt.Errorf("uid search: %w", err)
	}

	// "n:*" always matches the highest-UID message even when it is below
	// n, so filter explicitly.
	var wanted []uint32
	for _, uid := range uids {
		if uid > lastUID {
			wanted = append(wanted, uid)
		}
	}
	if len(wanted) == 0 {
		return nil, nil
	}

	fetchSet := new(imap.SeqSet)
	fetchSet.AddNum(wanted...)

	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{imap.FetchUid, section.FetchItem()}

	messages := make(chan *imap.Message, 16)
	done := make(chan error, 1)
	go func() {
		done <- c.UidFetch(fetchSet, items, messages)
	}()

	var out []RawMessage
	for msg := range messages {
		if err := ctx.Err(); err != nil {
			// Drain the channel so the fetch goroutine can finish.
			for range messages {
			}
			<-done
			return nil, err
		}

		body := msg.GetBody(section)
		if body == nil {
			slog.Warn("imap fetch returned no body section", "uid", msg.Uid)
			continue
		}

		raw, err := parseMessage(msg.Uid, body, s.cfg.AttachmentDir)
		if err != nil {
			slog.Error("failed to parse fetched message", "uid", msg.Uid, "error", err)
			continue
		}
		out = append(out, raw)
	}
	if err := <-done; err != nil {
		return nil, fmt.Errorf("uid fetch: %w", err)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].UID < out[j].UID })

	slog.Info("fetched messages from mailbox",
		"mailbox", s.cfg.Mailbox,
		"since_uid", lastUID,
		"count", len(out),
	)
	return out, nil
}

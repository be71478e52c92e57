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

package mailsource

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/emersion/go-message/mail"
)

// parseMessage extracts sender, subject, text body, and attachments from
// a raw RFC822 message. The body is the first text/plain inline part
// (first inline part of any type as a fallback). Attachment payloads are
// written under dir/<uid>/ and returned as paths; with an empty dir,
// attachments are skipped.
func parseMessage(uid uint32, r io.Reader, dir string) (RawMessage, error) {
	out := RawMessage{UID: uid, Attachments: []string{}}

	mr, err := mail.CreateReader(r)
	if err != nil {
		return out, fmt.Errorf("open message reader: %w", err)
	}

	if from, err := mr.Header.AddressList("From"); err == nil && len(from) > 0 {
		out.From = from[0].String()
	} else {
		out.From = mr.Header.Get("From")
	}
	if subject, err := mr.Header.Subject(); err == nil {
		out.Subject = subject
	} else {
		out.Subject = mr.Header.Get("Subject")
	}

	var fallbackBody string
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return out, fmt.Errorf("read message part: %w", err)
		}

		switch h := part.Header.(type) {
		case *mail.InlineHeader:
			data, err := io.ReadAll(part.Body)
			if err != nil {
				return out, fmt.Errorf("read inline part: %w", err)
			}

			ctype, _, _ := h.ContentType()
			switch {
			case strings.EqualFold(ctype, "text/plain") && out.Body == "":
				out.Body = string(data)
			case fallbackBody == "":
				fallbackBody = string(data)
			}

		case *mail.AttachmentHeader:
			if dir == "" {
				continue
			}
			filename, err := h.Filename()
			if err != nil || filename == "" {
				filename = "attachment"
			}
			path, err := writeAttachment(dir, uid, filename, part.Body)
			if err != nil {
				return out, err
			}
			out.Attachments = append(out.Attachments, path)
		}
	}

	if out.Body == "" {
		out.Body = fallbackBody
	}
	return out, nil
}

// writeAttachment stores one attachment payload under dir/<uid>/.
// The filename is flattened to its base name so a crafted attachment
// cannot escape the per-message folder.
func writeAttachment(dir string, uid uint32, filename string, body io.Reader) (string, error) {
	msgDir := filepath.Join(dir, strconv.FormatUint(uint64(uid), 10))
	if err := os.MkdirAll(msgDir, 0o755); err != nil {
		return "", fmt.Errorf("create attachment dir %s: %w", msgDir, err)
	}

	path := filepath.Join(msgDir, filepath.Base(filename))
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create attachment file %s: %w", path, err)
	}
	defer f.Close()

	if _, err := io.Copy(f, body); err != nil {
		return "", fmt.Errorf("write attachment %s: %w", path, err)
	}
	return path, nil
}

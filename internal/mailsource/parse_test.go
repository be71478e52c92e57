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
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func crlf(s string) string {
	return strings.ReplaceAll(s, "\n", "\r\n")
}

const multipartMessage = `From: John Doe <john@example.com>
To: support@aliceintensorland.com
Subject: Urgent - Payroll Issue
MIME-Version: 1.0
Content-Type: multipart/mixed; boundary="mixed-sep"

--mixed-sep
Content-Type: text/plain; charset=utf-8

I have noticed a discrepancy in my salary for this month.
--mixed-sep
Content-Type: application/pdf
Content-Disposition: attachment; filename="payslip.pdf"
Content-Transfer-Encoding: base64

JVBERi0=
--mixed-sep--
`

// TestParseMessage_Multipart verifies a mixed message yields the text
// body and writes the attachment payload under dir/<uid>/.
func TestParseMessage_Multipart(t *testing.T) {
	dir := t.TempDir()

	msg, err := parseMessage(501, strings.NewReader(crlf(multipartMessage)), dir)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	if msg.UID != 501 {
		t.Errorf("UID = %d, want 501", msg.UID)
	}
	if !strings.Contains(msg.From, "john@example.com") {
		t.Errorf("From = %q, want john@example.com", msg.From)
	}
	if msg.Subject != "Urgent - Payroll Issue" {
		t.Errorf("Subject = %q", msg.Subject)
	}
	if !strings.Contains(msg.Body, "discrepancy in my salary") {
		t.Errorf("Body = %q", msg.Body)
	}

	if len(msg.Attachments) != 1 {
		t.Fatalf("attachments = %v, want one entry", msg.Attachments)
	}
	want := filepath.Join(dir, "501", "payslip.pdf")
	if msg.Attachments[0] != want {
		t.Errorf("attachment path = %q, want %q", msg.Attachments[0], want)
	}
	data, err := os.ReadFile(want)
	if err != nil {
		t.Fatalf("attachment was not written: %v", err)
	}
	if string(data) != "%PDF-" {
		t.Errorf("attachment payload = %q, want decoded %%PDF-", data)
	}
}

// TestParseMessage_PlainText verifies a single-part message parses with
// no attachments.
func TestParseMessage_PlainText(t *testing.T) {
	raw := crlf(`From: jane@example.com
Subject: Question about invoice
Content-Type: text/plain; charset=utf-8

When is invoice 42 due?
`)

	msg, err := parseMessage(7, strings.NewReader(raw), t.TempDir())
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if !strings.Contains(msg.Body, "invoice 42") {
		t.Errorf("Body = %q", msg.Body)
	}
	if len(msg.Attachments) != 0 {
		t.Errorf("attachments = %v, want none", msg.Attachments)
	}
}

// TestParseMessage_SkipsAttachmentsWithoutDir verifies attachments are
// ignored when no storage directory is configured.
func TestParseMessage_SkipsAttachmentsWithoutDir(t *testing.T) {
	msg, err := parseMessage(501, strings.NewReader(crlf(multipartMessage)), "")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if len(msg.Attachments) != 0 {
		t.Errorf("attachments = %v, want none without a dir", msg.Attachments)
	}
}

// TestWriteAttachment_FlattensPath verifies a crafted filename cannot
// escape the per-message folder.
func TestWriteAttachment_FlattensPath(t *testing.T) {
	dir := t.TempDir()

	path, err := writeAttachment(dir, 9, "../../etc/passwd", strings.NewReader("x"))
	if err != nil {
		t.Fatalf("write failed: %v", err)
	}
	want := filepath.Join(dir, "9", "passwd")
	if path != want {
		t.Errorf("path = %q, want %q", path, want)
	}
}

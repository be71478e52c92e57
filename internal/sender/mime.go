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

package sender

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"mime"
	"mime/multipart"
	"net/textproto"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// buildMessage renders the outbound mail as multipart/mixed: a text/plain
// body part followed by one base64 part per attachment. Bcc addresses are
// intentionally absent from the headers.
func buildMessage(from string, msg Outbound) ([]byte, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	var hdr strings.Builder
	fmt.Fprintf(&hdr, "From: %s\r\n", from)
	fmt.Fprintf(&hdr, "To: %s\r\n", msg.To)
	if len(msg.CC) > 0 {
		fmt.Fprintf(&hdr, "Cc: %s\r\n", strings.Join(msg.CC, ", "))
	}
	fmt.Fprintf(&hdr, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", msg.Subject))
	fmt.Fprintf(&hdr, "Date: %s\r\n", time.Now().UTC().Format(time.RFC1123Z))
	fmt.Fprintf(&hdr, "Message-ID: <%s@mailrouter>\r\n", uuid.New().String())
	hdr.WriteString("MIME-Version: 1.0\r\n")
	fmt.Fprintf(&hdr, "Content-Type: multipart/mixed; boundary=%q\r\n", mw.Boundary())
	hdr.WriteString("\r\n")

	textHeader := textproto.MIMEHeader{}
	textHeader.Set("Content-Type", "text/plain; charset=utf-8")
	tw, err := mw.CreatePart(textHeader)
	if err != nil {
		return nil, fmt.Errorf("create text part: %w", err)
	}
	if _, err := tw.Write([]byte(msg.Body)); err != nil {
		return nil, fmt.Errorf("write text part: %w", err)
	}

	for _, path := range msg.Attachments {
		if err := addAttachment(mw, path); err != nil {
			return nil, err
		}
	}

	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("finish multipart body: %w", err)
	}

	return append([]byte(hdr.String()), buf.Bytes()...), nil
}

func addAttachment(mw *multipart.Writer, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read attachment %s: %w", path, err)
	}

	filename := filepath.Base(path)
	header := textproto.MIMEHeader{}
	header.Set("Content-Type", "application/octet-stream")
	header.Set("Content-Transfer-Encoding", "base64")
	header.Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))

	pw, err := mw.CreatePart(header)
	if err != nil {
		return fmt.Errorf("create attachment part %s: %w", filename, err)
	}

	encoded := base64.StdEncoding.EncodeToString(data)
	// 76-column lines per RFC 2045.
	for len(encoded) > 0 {
		n := 76
		if len(encoded) < n {
			n = len(encoded)
		}
		if _, err := pw.Write([]byte(encoded[:n])); err != nil {
			return fmt.Errorf("write attachment part %s: %w", filename, err)
		}
		if _, err := pw.Write([]byte("\r\n")); err != nil {
			return fmt.Errorf("write attachment part %s: %w", filename, err)
		}
		encoded = encoded[n:]
	}
	return nil
}

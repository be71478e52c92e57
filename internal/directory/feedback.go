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

package directory

import (
	"context"
	"fmt"
	"strings"
)

// FeedbackEntry is one historical correction: what the classifier said
// versus what the operator expected. The digest of these entries is
// supplied to the classifier as in-context guidance, not a retraining
// loop.
type FeedbackEntry struct {
	Email            string
	Subject          string
	ActualText       string
	PreviousResponse string
	ExpectedResponse string
	PreviousCC       string
	PreviousBCC      string
	ExpectedCC       string
	ExpectedBCC      string
}

// AddFeedback records a correction, replacing any prior entry for the
// same address.
func (s *Store) AddFeedback(ctx context.Context, e FeedbackEntry) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO feedback
			(email, email_subject, email_actual_text, previous_response, expected_response,
			 previous_response_cc, previous_response_bcc, expected_response_cc, expected_response_bcc)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (email) DO UPDATE SET
			email_subject         = EXCLUDED.email_subject,
			email_actual_text     = EXCLUDED.email_actual_text,
			previous_response     = EXCLUDED.previous_response,
			expected_response     = EXCLUDED.expected_response,
			previous_response_cc  = EXCLUDED.previous_response_cc,
			previous_response_bcc = EXCLUDED.previous_response_bcc,
			expected_response_cc  = EXCLUDED.expected_response_cc,
			expected_response_bcc = EXCLUDED.expected_response_bcc
	`, e.Email, e.Subject, e.ActualText, e.PreviousResponse, e.ExpectedResponse,
		e.PreviousCC, e.PreviousBCC, e.ExpectedCC, e.ExpectedBCC)
	if err != nil {
		return fmt.Errorf("upsert feedback for %s: %w", e.Email, err)
	}
	return nil
}

// FeedbackDigest renders the feedback corpus as a plain-text block for
// inclusion in classification prompts. An empty corpus yields an empty
// string, which the prompt builders omit entirely.
func (s *Store) FeedbackDigest(ctx context.Context) (string, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT email, email_subject, email_actual_text, previous_response, expected_response
		FROM feedback
		ORDER BY email
	`)
	if err != nil {
		return "", fmt.Errorf("query feedback corpus: %w", err)
	}
	defer rows.Close()

	var b strings.Builder
	for rows.Next() {
		var e FeedbackEntry
		if err := rows.Scan(&e.Email, &e.Subject, &e.ActualText, &e.PreviousResponse, &e.ExpectedResponse); err != nil {
			return "", fmt.Errorf("scan feedback entry: %w", err)
		}
		fmt.Fprintf(&b, "Subject: %s\nEmail: %s\nPrevious response: %s\nExpected response: %s\n\n",
			e.Subject, e.ActualText, e.PreviousResponse, e.ExpectedResponse)
	}
	if err := rows.Err(); err != nil {
		return "", err
	}
	return strings.TrimSpace(b.String()), nil
}

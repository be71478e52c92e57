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

// Package directory provides a Postgres-backed store for staff records
// (who can receive forwarded mail) and the feedback corpus fed back into
// classification prompts.
package directory

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aliceintensorland/mailrouter/internal/models"
)

// Store provides queries over the staff directory in Postgres.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a directory store backed by the given Postgres pool.
// It ensures the staff and feedback tables exist on creation.
func NewStore(ctx context.Context, pool *pgxpool.Pool) (*Store, error) {
	s := &Store{pool: pool}
	if err := s.ensureSchema(ctx); err != nil {
		return nil, fmt.Errorf("ensure directory schema: %w", err)
	}
	slog.Info("directory store initialised")
	return s, nil
}

func (s *Store) ensureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS staff (
			dept                              TEXT NOT NULL,
			name                              TEXT NOT NULL,
			email                             TEXT PRIMARY KEY,
			emails_forwarded_in_last_24_days  INTEGER DEFAULT 0,
			seniority_level                   TEXT DEFAULT '',
			work                              TEXT DEFAULT ''
		);
		CREATE INDEX IF NOT EXISTS idx_staff_dept ON staff(dept);

		CREATE TABLE IF NOT EXISTS feedback (
			email                  TEXT PRIMARY KEY,
			email_subject          TEXT DEFAULT '',
			email_actual_text      TEXT DEFAULT '',
			previous_response      TEXT DEFAULT '',
			expected_response      TEXT DEFAULT '',
			previous_response_cc   TEXT DEFAULT '[]',
			previous_response_bcc  TEXT DEFAULT '[]',
			expected_response_cc   TEXT DEFAULT '[]',
			expected_response_bcc  TEXT DEFAULT '[]'
		);
	`)
	return err
}

// ListByDepartment returns all staff records for a department. An unknown
// or misspelled department yields an empty slice, not an error: that is a
// recoverable classification problem, not a system fault.
func (s *Store) ListByDepartment(ctx context.Context, dept string) ([]models.StaffRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT dept, name, email, emails_forwarded_in_last_24_days, seniority_level, work
		FROM staff
		WHERE dept = $1
		ORDER BY email
	`, dept)
	if err != nil {
		return nil, fmt.Errorf("query staff by department: %w", err)
	}
	defer rows.Close()

	var records []models.StaffRecord
	for rows.Next() {
		var r models.StaffRecord
		if err := rows.Scan(&r.Dept, &r.Name, &r.Email, &r.EmailsForwarded, &r.Seniority, &r.Work); err != nil {
			return nil, fmt.Errorf("scan staff record: %w", err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// IncrementForwardCount bumps the rolling forward counter for an address.
// A missing address is logged and ignored: the mail has already been
// sent, so the dispatch must not be aborted over a bookkeeping miss.
func (s *Store) IncrementForwardCount(ctx context.Context, email string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE staff
		SET emails_forwarded_in_last_24_days = emails_forwarded_in_last_24_days + 1
		WHERE email = $1
	`, email)
	if err != nil {
		return fmt.Errorf("increment forward count for %s: %w", email, err)
	}
	if tag.RowsAffected() == 0 {
		slog.Warn("forward count increment for unknown address", "email", email)
	}
	return nil
}

// Ping checks the Postgres connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

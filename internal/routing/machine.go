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

// Package routing enforces the email record lifecycle:
// NOT_ROUTED → ROUTED or NOT_ROUTED → FAILED, both terminal, nothing else
// reachable. The pre-send recheck here is the dedup mechanism that keeps
// overlapping dispatch passes from forwarding the same email twice.
package routing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/aliceintensorland/mailrouter/internal/classifier"
	"github.com/aliceintensorland/mailrouter/internal/models"
)

// RecordStore is the slice of the record store the machine needs.
type RecordStore interface {
	Get(ctx context.Context, emailID string) (*models.EmailRecord, error)
	Put(ctx context.Context, rec models.EmailRecord) error
}

var (
	// ErrAlreadyRouted means the record reached ROUTED in the meantime.
	// Callers must abort with no side effects — in particular, no send.
	ErrAlreadyRouted = errors.New("record already routed")

	// ErrNotPending means the record is FAILED or missing and cannot be
	// dispatched.
	ErrNotPending = errors.New("record is not pending")
)

// ValidationError marks a routing decision the classifier produced that
// cannot be acted on: the message could not be confidently routed. This
// is permanent — the record goes to FAILED for manual inspection, never
// back into the retry loop.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "invalid routing decision: " + e.Reason
}

// Machine advances email records through their lifecycle.
type Machine struct {
	store RecordStore
}

// NewMachine creates a state machine over the given record store.
func NewMachine(store RecordStore) *Machine {
	return &Machine{store: store}
}

// Recheck re-reads the record immediately before any dispatch work and
// returns the current copy only if it is still NOT_ROUTED. With a plain
// get/put store this is best effort, not a strict guarantee: it is only
// race-free under the single-dispatcher deployment this service assumes.
func (m *Machine) Recheck(ctx context.Context, emailID string) (*models.EmailRecord, error) {
	rec, err := m.store.Get(ctx, emailID)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, fmt.Errorf("email %s: %w", emailID, ErrNotPending)
	}

	switch rec.Status {
	case models.StatusNotRouted:
		return rec, nil
	case models.StatusRouted:
		return nil, fmt.Errorf("email %s: %w", emailID, ErrAlreadyRouted)
	default:
		return nil, fmt.Errorf("email %s status %s: %w", emailID, rec.Status, ErrNotPending)
	}
}

// ValidateDecision checks a combined Stage A/B decision against the
// candidate roster. Any failure is a *ValidationError.
func ValidateDecision(d models.RoutingDecision, candidates []models.StaffRecord) error {
	if !models.ValidDepartment(d.Department) {
		return &ValidationError{Reason: fmt.Sprintf("department %q not in %v", d.Department, models.Departments)}
	}
	if len(candidates) == 0 {
		return &ValidationError{Reason: fmt.Sprintf("no staff candidates for department %s", d.Department)}
	}

	forward := strings.TrimSpace(d.ForwardTo)
	if forward == "" || classifier.IsNoneSentinel(forward) {
		return &ValidationError{Reason: "empty forward-to address"}
	}

	for _, c := range candidates {
		if strings.EqualFold(c.Email, forward) {
			return nil
		}
	}
	return &ValidationError{Reason: fmt.Sprintf("forward-to %q is not a %s candidate", forward, d.Department)}
}

// CommitRouted marks the record ROUTED. Called only after the mail
// sender confirmed the forward.
func (m *Machine) CommitRouted(ctx context.Context, rec *models.EmailRecord) error {
	if rec.Status == models.StatusFailed {
		return fmt.Errorf("email %s: cannot route a FAILED record", rec.EmailID)
	}
	rec.Status = models.StatusRouted
	if err := m.store.Put(ctx, *rec); err != nil {
		return fmt.Errorf("commit ROUTED for %s: %w", rec.EmailID, err)
	}
	slog.Info("email routed", "email_id", rec.EmailID)
	return nil
}

// CommitFailed marks the record FAILED and leaves it for an operator.
// Refuses to regress a record that already reached ROUTED.
func (m *Machine) CommitFailed(ctx context.Context, rec *models.EmailRecord, reason string) error {
	if rec.Status == models.StatusRouted {
		return fmt.Errorf("email %s: refusing to regress ROUTED to FAILED", rec.EmailID)
	}
	rec.Status = models.StatusFailed
	if err := m.store.Put(ctx, *rec); err != nil {
		return fmt.Errorf("commit FAILED for %s: %w", rec.EmailID, err)
	}
	slog.Warn("email moved to FAILED", "email_id", rec.EmailID, "reason", reason)
	return nil
}

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

// Package dispatch runs the triage pipeline: ingest new mail above the
// UID high-water mark, then classify, validate, forward, and commit each
// pending record. Records are processed strictly one at a time; a
// record's failure is logged and never aborts the pass for the others.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/aliceintensorland/mailrouter/internal/classifier"
	"github.com/aliceintensorland/mailrouter/internal/mailsource"
	"github.com/aliceintensorland/mailrouter/internal/models"
	"github.com/aliceintensorland/mailrouter/internal/routing"
	"github.com/aliceintensorland/mailrouter/internal/sender"
)

// RecordStore is the record store surface the orchestrator needs.
// Implemented by store.Store.
type RecordStore interface {
	Get(ctx context.Context, emailID string) (*models.EmailRecord, error)
	Put(ctx context.Context, rec models.EmailRecord) error
	ListByStatus(ctx context.Context, status models.Status) ([]models.EmailRecord, error)
	LastUID(ctx context.Context) (uint32, error)
	SetLastUID(ctx context.Context, uid uint32) error
}

// MailSource supplies raw messages above a UID. Implemented by
// mailsource.Source.
type MailSource interface {
	FetchSince(ctx context.Context, lastUID uint32) ([]mailsource.RawMessage, error)
}

// Classifier runs the two classification stages. Implemented by
// classifier.Client.
type Classifier interface {
	Triage(ctx context.Context, rec models.EmailRecord, feedback string) (*classifier.TriageResult, error)
	Assign(ctx context.Context, rec models.EmailRecord, triage classifier.TriageResult, candidates []models.StaffRecord, feedback string) (*classifier.Assignment, error)
}

// Directory is the staff directory surface. Implemented by
// directory.Store.
type Directory interface {
	ListByDepartment(ctx context.Context, dept string) ([]models.StaffRecord, error)
	IncrementForwardCount(ctx context.Context, email string) error
	FeedbackDigest(ctx context.Context) (string, error)
}

// Sender submits outbound mail. Implemented by sender.Client.
type Sender interface {
	Send(ctx context.Context, msg sender.Outbound) error
}

// Config holds the orchestrator's dependencies and policy knobs.
type Config struct {
	Store      RecordStore
	Source     MailSource
	Classifier Classifier
	Directory  Directory
	Sender     Sender

	// FloorDelay is the minimum pause between passes. The actual pause
	// is max(FloorDelay, duration of the pass) so a slow pass never
	// overlaps the next one.
	FloorDelay time.Duration

	// MaxClassifyAttempts moves a record to FAILED after this many
	// classification errors. Zero or negative disables the cap.
	MaxClassifyAttempts int
}

// Orchestrator is the single-worker dispatch loop.
type Orchestrator struct {
	store       RecordStore
	source      MailSource
	classifier  Classifier
	directory   Directory
	sender      Sender
	machine     *routing.Machine
	floorDelay  time.Duration
	maxAttempts int

	// Injectable clock for tests.
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) bool
}

// New creates an orchestrator.
func New(cfg Config) *Orchestrator {
	floor := cfg.FloorDelay
	if floor <= 0 {
		floor = 5 * time.Second
	}
	return &Orchestrator{
		store:       cfg.Store,
		source:      cfg.Source,
		classifier:  cfg.Classifier,
		directory:   cfg.Directory,
		sender:      cfg.Sender,
		machine:     routing.NewMachine(cfg.Store),
		floorDelay:  floor,
		maxAttempts: cfg.MaxClassifyAttempts,
		now:         time.Now,
		sleep:       sleepCtx,
	}
}

// Run executes passes until the context is cancelled. The pause between
// passes is max(floorDelay, elapsed) so throughput degrades to
// back-to-back passes under load instead of overlapping.
func (o *Orchestrator) Run(ctx context.Context) {
	slog.Info("dispatch loop starting", "floor_delay", o.floorDelay)

	for {
		start := o.now()
		o.RunPass(ctx)
		if ctx.Err() != nil {
			slog.Info("dispatch loop stopping")
			return
		}

		elapsed := o.now().Sub(start)
		delay := o.floorDelay
		if elapsed > delay {
			delay = elapsed
		}
		slog.Debug("pass complete", "elapsed", elapsed, "next_in", delay)

		if !o.sleep(ctx, delay) {
			slog.Info("dispatch loop stopping")
			return
		}
	}
}

// RunPass executes one full pass: ingestion, then processing. Errors are
// logged, not returned — whatever a pass could not do is retried on the
// next one.
func (o *Orchestrator) RunPass(ctx context.Context) {
	if err := o.ingest(ctx); err != nil {
		slog.Error("ingestion failed, will retry next pass", "error", err)
	}
	if err := o.process(ctx); err != nil {
		slog.Error("processing aborted, will retry next pass", "error", err)
	}
}

// ingest fetches messages above the high-water mark and persists each as
// a NOT_ROUTED record. The marker advances per record, after that
// record's successful persistence, so a mid-batch failure resumes from
// the first unpersisted message.
func (o *Orchestrator) ingest(ctx context.Context) error {
	lastUID, err := o.store.LastUID(ctx)
	if err != nil {
		return err
	}

	msgs, err := o.source.FetchSince(ctx, lastUID)
	if err != nil {
		return err
	}

	for _, m := range msgs {
		if err := ctx.Err(); err != nil {
			return err
		}

		emailID := strconv.FormatUint(uint64(m.UID), 10)

		existing, err := o.store.Get(ctx, emailID)
		if err != nil {
			return err
		}
		if existing == nil {
			attachments := m.Attachments
			if attachments == nil {
				attachments = []string{}
			}
			rec := models.EmailRecord{
				EmailID:     emailID,
				From:        m.From,
				Subject:     m.Subject,
				Body:        m.Body,
				Attachments: attachments,
				Status:      models.StatusNotRouted,
			}
			if err := o.store.Put(ctx, rec); err != nil {
				return err
			}
			slog.Info("ingested email", "email_id", emailID, "from", m.From, "subject", m.Subject)
		}

		if m.UID > lastUID {
			if err := o.store.SetLastUID(ctx, m.UID); err != nil {
				return err
			}
			lastUID = m.UID
		}
	}

	return nil
}

// process dispatches every pending record independently.
func (o *Orchestrator) process(ctx context.Context) error {
	pending, err := o.store.ListByStatus(ctx, models.StatusNotRouted)
	if err != nil {
		return err
	}

	for _, rec := range pending {
		if err := ctx.Err(); err != nil {
			return err
		}

		if err := o.processRecord(ctx, rec.EmailID); err != nil {
			slog.Error("record left pending for next pass",
				"email_id", rec.EmailID,
				"error", err,
			)
		}
	}
	return nil
}

// processRecord runs classify → lookup → assign → validate → send →
// commit for one record. A returned error is transient: the record is
// untouched and naturally retried. Classification and validation
// outcomes are handled here and return nil.
func (o *Orchestrator) processRecord(ctx context.Context, emailID string) error {
	rec, err := o.machine.Recheck(ctx, emailID)
	if errors.Is(err, routing.ErrAlreadyRouted) {
		slog.Info("skipping already-routed email", "email_id", emailID)
		return nil
	}
	if errors.Is(err, routing.ErrNotPending) {
		return nil
	}
	if err != nil {
		return err
	}

	digest, err := o.directory.FeedbackDigest(ctx)
	if err != nil {
		return err
	}

	triage, err := o.classifier.Triage(ctx, *rec, digest)
	var cerr *classifier.ClassificationError
	if errors.As(err, &cerr) {
		return o.handleClassificationError(ctx, rec, cerr)
	}
	if err != nil {
		return err
	}

	candidates, err := o.directory.ListByDepartment(ctx, triage.Department)
	if err != nil {
		return err
	}
	if len(candidates) == 0 {
		return o.machine.CommitFailed(ctx, rec,
			fmt.Sprintf("no staff candidates for department %s", triage.Department))
	}

	assign, err := o.classifier.Assign(ctx, *rec, *triage, candidates, digest)
	if errors.As(err, &cerr) {
		return o.handleClassificationError(ctx, rec, cerr)
	}
	if err != nil {
		return err
	}

	decision := models.RoutingDecision{
		Department: triage.Department,
		Urgency:    triage.Urgency,
		ForwardTo:  strings.TrimSpace(assign.ForwardTo),
		CC:         assign.CC,
		BCC:        assign.BCC,
	}

	if err := routing.ValidateDecision(decision, candidates); err != nil {
		return o.machine.CommitFailed(ctx, rec, err.Error())
	}

	out := sender.Outbound{
		To:          decision.ForwardTo,
		CC:          decision.CC,
		BCC:         decision.BCC,
		Subject:     fmt.Sprintf("[%s] Fwd: %s", decision.Urgency, rec.Subject),
		Body:        forwardBody(rec),
		Attachments: rec.Attachments,
	}
	if err := o.sender.Send(ctx, out); err != nil {
		return err
	}

	if err := o.machine.CommitRouted(ctx, rec); err != nil {
		return err
	}

	// Post-send bookkeeping must never undo a committed dispatch.
	if err := o.directory.IncrementForwardCount(ctx, decision.ForwardTo); err != nil {
		slog.Warn("forward counter update failed", "email", decision.ForwardTo, "error", err)
	}

	return nil
}

// handleClassificationError bumps the record's attempt counter, fails it
// once the cap is reached, and otherwise leaves it pending for retry.
func (o *Orchestrator) handleClassificationError(ctx context.Context, rec *models.EmailRecord, cerr *classifier.ClassificationError) error {
	rec.Attempts++
	slog.Error("classification failed",
		"email_id", rec.EmailID,
		"stage", cerr.Stage,
		"attempts", rec.Attempts,
		"raw", cerr.Raw,
		"error", cerr.Err,
	)

	if o.maxAttempts > 0 && rec.Attempts >= o.maxAttempts {
		return o.machine.CommitFailed(ctx, rec,
			fmt.Sprintf("classification failed %d times", rec.Attempts))
	}

	return o.store.Put(ctx, *rec)
}

// forwardBody wraps the original message for the forwarded email.
func forwardBody(rec *models.EmailRecord) string {
	return fmt.Sprintf("---------- Forwarded message ----------\nFrom: %s\nSubject: %s\n\n%s",
		rec.From, rec.Subject, rec.Body)
}

// sleepCtx pauses for d, returning false if the context was cancelled
// first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

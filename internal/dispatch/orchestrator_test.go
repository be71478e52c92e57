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

package dispatch

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/aliceintensorland/mailrouter/internal/classifier"
	"github.com/aliceintensorland/mailrouter/internal/mailsource"
	"github.com/aliceintensorland/mailrouter/internal/models"
	"github.com/aliceintensorland/mailrouter/internal/sender"
)

// --- Mock record store ---

type mockStore struct {
	mu      sync.Mutex
	recs    map[string]models.EmailRecord
	lastUID uint32

	// failPuts makes Put fail once per listed email ID.
	failPuts map[string]bool
}

func newMockStore() *mockStore {
	return &mockStore{recs: make(map[string]models.EmailRecord), failPuts: make(map[string]bool)}
}

func (m *mockStore) Get(_ context.Context, emailID string) (*models.EmailRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.recs[emailID]
	if !ok {
		return nil, nil
	}
	cp := rec
	return &cp, nil
}

func (m *mockStore) Put(_ context.Context, rec models.EmailRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failPuts[rec.EmailID] {
		delete(m.failPuts, rec.EmailID)
		return fmt.Errorf("injected put failure for %s", rec.EmailID)
	}
	m.recs[rec.EmailID] = rec
	return nil
}

func (m *mockStore) ListByStatus(_ context.Context, status models.Status) ([]models.EmailRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.EmailRecord
	for _, rec := range m.recs {
		if rec.Status == status {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EmailID < out[j].EmailID })
	return out, nil
}

func (m *mockStore) LastUID(_ context.Context) (uint32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastUID, nil
}

func (m *mockStore) SetLastUID(_ context.Context, uid uint32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastUID = uid
	return nil
}

func (m *mockStore) record(emailID string) (models.EmailRecord, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.recs[emailID]
	return rec, ok
}

// --- Mock mail source ---

type mockSource struct {
	mu   sync.Mutex
	msgs []mailsource.RawMessage
	err  error
}

func (m *mockSource) FetchSince(_ context.Context, lastUID uint32) ([]mailsource.RawMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	var out []mailsource.RawMessage
	for _, msg := range m.msgs {
		if msg.UID > lastUID {
			out = append(out, msg)
		}
	}
	return out, nil
}

// --- Mock classifier ---

type mockClassifier struct {
	mu          sync.Mutex
	triageFn    func(rec models.EmailRecord) (*classifier.TriageResult, error)
	assignFn    func(rec models.EmailRecord, candidates []models.StaffRecord) (*classifier.Assignment, error)
	assignCalls int
}

func (m *mockClassifier) Triage(_ context.Context, rec models.EmailRecord, _ string) (*classifier.TriageResult, error) {
	return m.triageFn(rec)
}

func (m *mockClassifier) Assign(_ context.Context, rec models.EmailRecord, _ classifier.TriageResult, candidates []models.StaffRecord, _ string) (*classifier.Assignment, error) {
	m.mu.Lock()
	m.assignCalls++
	m.mu.Unlock()
	return m.assignFn(rec, candidates)
}

// --- Mock directory ---

type mockDirectory struct {
	mu     sync.Mutex
	staff  map[string][]models.StaffRecord
	counts map[string]int
	digest string
}

func newMockDirectory() *mockDirectory {
	return &mockDirectory{
		staff: map[string][]models.StaffRecord{
			"HR": {
				{Dept: "HR", Name: "Diana Prince", Email: "diana.prince@x.com"},
				{Dept: "HR", Name: "Eve Adams", Email: "eve.adams@x.com"},
				{Dept: "HR", Name: "Frank White", Email: "frank.white@x.com"},
			},
		},
		counts: make(map[string]int),
	}
}

func (m *mockDirectory) ListByDepartment(_ context.Context, dept string) ([]models.StaffRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.staff[dept], nil
}

func (m *mockDirectory) IncrementForwardCount(_ context.Context, email string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counts[email]++
	return nil
}

func (m *mockDirectory) FeedbackDigest(_ context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.digest, nil
}

func (m *mockDirectory) count(email string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counts[email]
}

// --- Mock sender ---

type mockSender struct {
	mu   sync.Mutex
	sent []sender.Outbound
	err  error
}

func (m *mockSender) Send(_ context.Context, msg sender.Outbound) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, msg)
	return nil
}

func (m *mockSender) sendCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

// --- Helpers ---

func hrTriage(rec models.EmailRecord) (*classifier.TriageResult, error) {
	return &classifier.TriageResult{EmailID: rec.EmailID, Department: "HR", Urgency: "LOW"}, nil
}

func eveAssign(models.EmailRecord, []models.StaffRecord) (*classifier.Assignment, error) {
	return &classifier.Assignment{ForwardTo: "eve.adams@x.com", CC: classifier.AddressList{}, BCC: classifier.AddressList{}}, nil
}

func newTestOrchestrator(store *mockStore, src *mockSource, cls *mockClassifier, dir *mockDirectory, snd *mockSender) *Orchestrator {
	return New(Config{
		Store:               store,
		Source:              src,
		Classifier:          cls,
		Directory:           dir,
		Sender:              snd,
		FloorDelay:          time.Millisecond,
		MaxClassifyAttempts: 5,
	})
}

// --- Tests ---

// TestRunPass_HappyPath replays the reference scenario: message 501 is
// ingested, triaged to HR/LOW, assigned to eve.adams, sent, committed
// ROUTED, and the forward counter is incremented exactly once.
func TestRunPass_HappyPath(t *testing.T) {
	store := newMockStore()
	src := &mockSource{msgs: []mailsource.RawMessage{
		{UID: 501, From: "john@example.com", Subject: "Payroll issue", Body: "My salary is wrong."},
	}}
	cls := &mockClassifier{triageFn: hrTriage, assignFn: eveAssign}
	dir := newMockDirectory()
	snd := &mockSender{}

	o := newTestOrchestrator(store, src, cls, dir, snd)
	o.RunPass(context.Background())

	rec, ok := store.record("501")
	if !ok {
		t.Fatal("record 501 was not persisted")
	}
	if rec.Status != models.StatusRouted {
		t.Errorf("status = %s, want ROUTED", rec.Status)
	}
	if got := snd.sendCount(); got != 1 {
		t.Errorf("sends = %d, want 1", got)
	}
	if got := dir.count("eve.adams@x.com"); got != 1 {
		t.Errorf("forward count = %d, want 1", got)
	}
	if store.lastUID != 501 {
		t.Errorf("marker = %d, want 501", store.lastUID)
	}

	msg := snd.sent[0]
	if msg.To != "eve.adams@x.com" {
		t.Errorf("To = %q, want eve.adams@x.com", msg.To)
	}
}

// TestRunPass_DoubleDispatchIsIdempotent verifies that running the pass
// again over an already-ROUTED record produces zero additional sends.
func TestRunPass_DoubleDispatchIsIdempotent(t *testing.T) {
	store := newMockStore()
	src := &mockSource{msgs: []mailsource.RawMessage{
		{UID: 501, From: "john@example.com", Subject: "Payroll issue", Body: "My salary is wrong."},
	}}
	cls := &mockClassifier{triageFn: hrTriage, assignFn: eveAssign}
	dir := newMockDirectory()
	snd := &mockSender{}

	o := newTestOrchestrator(store, src, cls, dir, snd)
	o.RunPass(context.Background())
	o.RunPass(context.Background())

	if got := snd.sendCount(); got != 1 {
		t.Errorf("sends after two passes = %d, want 1", got)
	}
	if got := dir.count("eve.adams@x.com"); got != 1 {
		t.Errorf("forward count = %d, want 1", got)
	}
}

// TestProcessRecord_RecheckShortCircuits simulates an overlapping pass:
// the scan saw the record as pending, but by dispatch time it is ROUTED.
// The pre-send recheck must abort with no send.
func TestProcessRecord_RecheckShortCircuits(t *testing.T) {
	store := newMockStore()
	store.recs["501"] = models.EmailRecord{EmailID: "501", Status: models.StatusRouted}

	cls := &mockClassifier{triageFn: hrTriage, assignFn: eveAssign}
	snd := &mockSender{}
	o := newTestOrchestrator(store, &mockSource{}, cls, newMockDirectory(), snd)

	if err := o.processRecord(context.Background(), "501"); err != nil {
		t.Fatalf("processRecord returned error: %v", err)
	}
	if got := snd.sendCount(); got != 0 {
		t.Errorf("sends = %d, want 0", got)
	}
}

// TestRunPass_UnparseableTriageLeavesPending verifies the §8 scenario:
// unusable model output keeps the record pending, attempts no send, and
// bumps the retry counter.
func TestRunPass_UnparseableTriageLeavesPending(t *testing.T) {
	store := newMockStore()
	store.recs["502"] = models.EmailRecord{EmailID: "502", Status: models.StatusNotRouted, Body: "???"}

	cls := &mockClassifier{
		triageFn: func(models.EmailRecord) (*classifier.TriageResult, error) {
			return nil, &classifier.ClassificationError{Stage: classifier.StageTriage, Raw: "no idea", Err: fmt.Errorf("parse failed")}
		},
	}
	snd := &mockSender{}
	o := newTestOrchestrator(store, &mockSource{}, cls, newMockDirectory(), snd)
	o.RunPass(context.Background())

	rec, _ := store.record("502")
	if rec.Status != models.StatusNotRouted {
		t.Errorf("status = %s, want NOT_ROUTED", rec.Status)
	}
	if rec.Attempts != 1 {
		t.Errorf("attempts = %d, want 1", rec.Attempts)
	}
	if got := snd.sendCount(); got != 0 {
		t.Errorf("sends = %d, want 0", got)
	}
}

// TestRunPass_ClassificationAttemptCap verifies the bounded-retry
// policy: after the configured number of classification failures the
// record moves to FAILED instead of retrying forever.
func TestRunPass_ClassificationAttemptCap(t *testing.T) {
	store := newMockStore()
	store.recs["502"] = models.EmailRecord{EmailID: "502", Status: models.StatusNotRouted}

	cls := &mockClassifier{
		triageFn: func(models.EmailRecord) (*classifier.TriageResult, error) {
			return nil, &classifier.ClassificationError{Stage: classifier.StageTriage, Raw: "garbage", Err: fmt.Errorf("parse failed")}
		},
	}
	o := New(Config{
		Store:               store,
		Source:              &mockSource{},
		Classifier:          cls,
		Directory:           newMockDirectory(),
		Sender:              &mockSender{},
		FloorDelay:          time.Millisecond,
		MaxClassifyAttempts: 2,
	})

	o.RunPass(context.Background())
	rec, _ := store.record("502")
	if rec.Status != models.StatusNotRouted {
		t.Fatalf("status after first failure = %s, want NOT_ROUTED", rec.Status)
	}

	o.RunPass(context.Background())
	rec, _ = store.record("502")
	if rec.Status != models.StatusFailed {
		t.Errorf("status after attempt cap = %s, want FAILED", rec.Status)
	}
}

// TestRunPass_ValidationRejection verifies that an empty or sentinel
// forward-to produces FAILED and never reaches the sender.
func TestRunPass_ValidationRejection(t *testing.T) {
	for _, forwardTo := range []string{"", "NONE"} {
		t.Run(fmt.Sprintf("forward_to=%q", forwardTo), func(t *testing.T) {
			store := newMockStore()
			store.recs["501"] = models.EmailRecord{EmailID: "501", Status: models.StatusNotRouted}

			cls := &mockClassifier{
				triageFn: hrTriage,
				assignFn: func(models.EmailRecord, []models.StaffRecord) (*classifier.Assignment, error) {
					return &classifier.Assignment{ForwardTo: forwardTo}, nil
				},
			}
			snd := &mockSender{}
			o := newTestOrchestrator(store, &mockSource{}, cls, newMockDirectory(), snd)
			o.RunPass(context.Background())

			rec, _ := store.record("501")
			if rec.Status != models.StatusFailed {
				t.Errorf("status = %s, want FAILED", rec.Status)
			}
			if got := snd.sendCount(); got != 0 {
				t.Errorf("sends = %d, want 0", got)
			}
		})
	}
}

// TestRunPass_NoCandidatesFails verifies that an empty directory answer
// is a permanent failure and skips Stage B entirely.
func TestRunPass_NoCandidatesFails(t *testing.T) {
	store := newMockStore()
	store.recs["501"] = models.EmailRecord{EmailID: "501", Status: models.StatusNotRouted}

	cls := &mockClassifier{
		triageFn: func(rec models.EmailRecord) (*classifier.TriageResult, error) {
			return &classifier.TriageResult{EmailID: rec.EmailID, Department: "FINANCE", Urgency: "LOW"}, nil
		},
		assignFn: eveAssign,
	}
	dir := newMockDirectory() // has HR staff only
	snd := &mockSender{}
	o := newTestOrchestrator(store, &mockSource{}, cls, dir, snd)
	o.RunPass(context.Background())

	rec, _ := store.record("501")
	if rec.Status != models.StatusFailed {
		t.Errorf("status = %s, want FAILED", rec.Status)
	}
	if cls.assignCalls != 0 {
		t.Errorf("assign calls = %d, want 0", cls.assignCalls)
	}
	if got := snd.sendCount(); got != 0 {
		t.Errorf("sends = %d, want 0", got)
	}
}

// TestRunPass_SendFailureLeavesPending verifies a sender outage is
// transient: no status change, no counter bump, retried next pass.
func TestRunPass_SendFailureLeavesPending(t *testing.T) {
	store := newMockStore()
	store.recs["501"] = models.EmailRecord{EmailID: "501", Status: models.StatusNotRouted}

	cls := &mockClassifier{triageFn: hrTriage, assignFn: eveAssign}
	dir := newMockDirectory()
	snd := &mockSender{err: fmt.Errorf("connection refused")}
	o := newTestOrchestrator(store, &mockSource{}, cls, dir, snd)
	o.RunPass(context.Background())

	rec, _ := store.record("501")
	if rec.Status != models.StatusNotRouted {
		t.Errorf("status = %s, want NOT_ROUTED", rec.Status)
	}
	if got := dir.count("eve.adams@x.com"); got != 0 {
		t.Errorf("forward count = %d, want 0", got)
	}

	// Outage over: the next pass routes it.
	snd.err = nil
	o.RunPass(context.Background())
	rec, _ = store.record("501")
	if rec.Status != models.StatusRouted {
		t.Errorf("status after recovery = %s, want ROUTED", rec.Status)
	}
}

// TestIngest_MarkerAdvancesPerRecord verifies that a persistence failure
// mid-batch stops the marker before the unpersisted message, so nothing
// is skipped on the next pass.
func TestIngest_MarkerAdvancesPerRecord(t *testing.T) {
	store := newMockStore()
	store.failPuts["2"] = true
	src := &mockSource{msgs: []mailsource.RawMessage{
		{UID: 1, Subject: "first"},
		{UID: 2, Subject: "second"},
		{UID: 3, Subject: "third"},
	}}

	o := newTestOrchestrator(store, src, &mockClassifier{
		triageFn: func(models.EmailRecord) (*classifier.TriageResult, error) {
			return nil, fmt.Errorf("classifier offline")
		},
	}, newMockDirectory(), &mockSender{})

	if err := o.ingest(context.Background()); err == nil {
		t.Fatal("expected ingest error from injected put failure")
	}
	if store.lastUID != 1 {
		t.Fatalf("marker = %d, want 1 after mid-batch failure", store.lastUID)
	}
	if _, ok := store.record("3"); ok {
		t.Fatal("message 3 must not be persisted before message 2")
	}

	// Next pass resumes above the marker and picks up both.
	if err := o.ingest(context.Background()); err != nil {
		t.Fatalf("second ingest failed: %v", err)
	}
	if store.lastUID != 3 {
		t.Errorf("marker = %d, want 3", store.lastUID)
	}
	for _, id := range []string{"1", "2", "3"} {
		rec, ok := store.record(id)
		if !ok {
			t.Errorf("record %s missing after recovery", id)
			continue
		}
		if rec.Status != models.StatusNotRouted {
			t.Errorf("record %s status = %s, want NOT_ROUTED", id, rec.Status)
		}
	}
}

// TestIngest_DoesNotOverwriteExistingRecord verifies the one-record-per-
// id invariant: re-seeing a UID never resets an existing record.
func TestIngest_DoesNotOverwriteExistingRecord(t *testing.T) {
	store := newMockStore()
	store.recs["5"] = models.EmailRecord{EmailID: "5", Subject: "original", Status: models.StatusRouted}
	src := &mockSource{msgs: []mailsource.RawMessage{{UID: 5, Subject: "replayed"}}}

	o := newTestOrchestrator(store, src, &mockClassifier{}, newMockDirectory(), &mockSender{})
	if err := o.ingest(context.Background()); err != nil {
		t.Fatalf("ingest failed: %v", err)
	}

	rec, _ := store.record("5")
	if rec.Status != models.StatusRouted || rec.Subject != "original" {
		t.Errorf("existing record was overwritten: %+v", rec)
	}
	if store.lastUID != 5 {
		t.Errorf("marker = %d, want 5", store.lastUID)
	}
}

// TestRun_PacesWithFloorDelay verifies the scheduler sleeps
// max(floorDelay, pass duration) between passes.
func TestRun_PacesWithFloorDelay(t *testing.T) {
	store := newMockStore()
	o := New(Config{
		Store:      store,
		Source:     &mockSource{},
		Classifier: &mockClassifier{},
		Directory:  newMockDirectory(),
		Sender:     &mockSender{},
		FloorDelay: 5 * time.Second,
	})

	// Simulated pass durations: 2s (below floor), then 8s (above floor).
	base := time.Unix(0, 0)
	times := []time.Time{
		base, base.Add(2 * time.Second),
		base.Add(10 * time.Second), base.Add(18 * time.Second),
	}
	o.now = func() time.Time {
		next := times[0]
		times = times[1:]
		return next
	}

	var delays []time.Duration
	o.sleep = func(_ context.Context, d time.Duration) bool {
		delays = append(delays, d)
		return len(delays) < 2 // stop after the second sleep
	}

	o.Run(context.Background())

	if len(delays) != 2 {
		t.Fatalf("sleeps = %d, want 2", len(delays))
	}
	if delays[0] != 5*time.Second {
		t.Errorf("first delay = %v, want floor 5s", delays[0])
	}
	if delays[1] != 8*time.Second {
		t.Errorf("second delay = %v, want pass duration 8s", delays[1])
	}
}

// TestProcess_StopsBetweenRecords verifies the cooperative cancellation
// point between records.
func TestProcess_StopsBetweenRecords(t *testing.T) {
	store := newMockStore()
	for i := 1; i <= 3; i++ {
		id := fmt.Sprintf("%d", i)
		store.recs[id] = models.EmailRecord{EmailID: id, Status: models.StatusNotRouted}
	}

	ctx, cancel := context.WithCancel(context.Background())
	cls := &mockClassifier{
		triageFn: func(rec models.EmailRecord) (*classifier.TriageResult, error) {
			cancel() // request stop while the first record is in flight
			return hrTriage(rec)
		},
		assignFn: eveAssign,
	}
	snd := &mockSender{}
	o := newTestOrchestrator(store, &mockSource{}, cls, newMockDirectory(), snd)

	if err := o.process(ctx); err == nil {
		t.Fatal("expected context error from cancelled pass")
	}
	if got := snd.sendCount(); got > 1 {
		t.Errorf("sends = %d, want at most 1 after cancellation", got)
	}
}

package service

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mmynk/closeout/internal/alerts"
	"github.com/mmynk/closeout/internal/hub"
	"github.com/mmynk/closeout/internal/models"
	"github.com/mmynk/closeout/internal/reconcile"
	"github.com/mmynk/closeout/internal/storage"
	"github.com/mmynk/closeout/internal/storage/sqlite"
)

// fakeHub is an in-memory SettlementSource with switchable failures.
type fakeHub struct {
	mu         sync.Mutex
	cycle      *models.SettlementCycle
	getErr     error
	markErr    error
	closeErr   error
	markCalls  []string
	closeCalls int
}

func (f *fakeHub) GetSettlement(ctx context.Context, cycleID string) (*models.SettlementCycle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	if f.cycle == nil || f.cycle.ID != cycleID {
		return nil, hub.ErrNotFound
	}
	snapshot := *f.cycle
	return &snapshot, nil
}

func (f *fakeHub) MarkParticipantSettled(ctx context.Context, cycleID, accountID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.markErr != nil {
		return f.markErr
	}
	f.markCalls = append(f.markCalls, accountID)
	return nil
}

func (f *fakeHub) CloseCycle(ctx context.Context, cycleID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closeCalls++
	if f.closeErr != nil {
		return f.closeErr
	}
	f.cycle.State = models.StateSettled
	return nil
}

func (f *fakeHub) closed() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closeCalls
}

func (f *fakeHub) marked() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.markCalls...)
}

func (f *fakeHub) setCloseErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closeErr = err
}

func (f *fakeHub) setState(state models.CycleState) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cycle.State = state
}

// fakeResolver resolves account IDs from a fixed map and records what
// it was asked for.
type fakeResolver struct {
	mu         sync.Mutex
	identities map[string]*models.ParticipantIdentity
	calls      []string
}

func (f *fakeResolver) ResolveAccount(ctx context.Context, accountID string) (*models.ParticipantIdentity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, accountID)
	if id, ok := f.identities[accountID]; ok {
		return id, nil
	}
	return nil, fmt.Errorf("account %s: unresolved", accountID)
}

func (f *fakeResolver) resolved() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

// testCycle is a four-party cycle with amounts frozen: three XOF
// positions and one EUR position.
func testCycle() *models.SettlementCycle {
	return &models.SettlementCycle{
		ID:    "32",
		State: models.StateTransfersCommitted,
		Participants: []models.Position{
			{AccountID: "6", NetAmount: decimal.NewFromInt(-50000), Currency: "XOF"},
			{AccountID: "7", NetAmount: decimal.NewFromInt(20000), Currency: "XOF"},
			{AccountID: "8", NetAmount: decimal.NewFromInt(30000), Currency: "XOF"},
			{AccountID: "9", NetAmount: decimal.RequireFromString("1200.50"), Currency: "EUR"},
		},
	}
}

func testClaim(participantID, amount, currency string) models.ConfirmationClaim {
	return models.ConfirmationClaim{
		ParticipantID: participantID,
		Amount:        decimal.RequireFromString(amount),
		Currency:      currency,
		Reference:     "RTGS-2024-" + participantID,
	}
}

func newTestService(t *testing.T, cycle *models.SettlementCycle) (*SettlementService, storage.Store, *fakeHub, *fakeResolver) {
	t.Helper()

	store, err := sqlite.New(filepath.Join(t.TempDir(), "closeout.db"))
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	fh := &fakeHub{cycle: cycle}
	fr := &fakeResolver{identities: map[string]*models.ParticipantIdentity{
		"6": {AccountID: "6", Name: "banquecentrale", Contacts: []models.Contact{{Channel: "email", Address: "ops@banquecentrale.example"}}},
		"7": {AccountID: "7", Name: "ecobank"},
	}}
	dispatcher := alerts.NewDispatcher(fr, nil, nil)
	svc := NewSettlementService(store, fh, dispatcher, nil)
	return svc, store, fh, fr
}

// record writes an accepted confirmation straight to the ledger,
// bypassing the service. Used to stage partially confirmed cycles.
func record(t *testing.T, store storage.Store, cycleID, participantID, amount, currency string) {
	t.Helper()
	created, _, err := store.RecordNotification(context.Background(), &models.NotificationRecord{
		CycleID:       cycleID,
		ParticipantID: participantID,
		Amount:        decimal.RequireFromString(amount),
		Currency:      currency,
		Reference:     "RTGS-2024-" + participantID,
		SettledAt:     time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("failed to record confirmation: %v", err)
	}
	if !created {
		t.Fatalf("confirmation for %s/%s already recorded", cycleID, participantID)
	}
}

func TestSubmitConfirmation_PartialQuorum(t *testing.T) {
	svc, store, fh, _ := newTestService(t, testCycle())
	ctx := context.Background()

	result, err := svc.SubmitConfirmation(ctx, "32", testClaim("6", "50000", "XOF"))
	if err != nil {
		t.Fatalf("SubmitConfirmation failed: %v", err)
	}

	if result.Status != StatusAccepted {
		t.Errorf("expected status accepted, got %s", result.Status)
	}
	if result.Quorum.Accepted != 1 || result.Quorum.Expected != 4 {
		t.Errorf("expected quorum 1 of 4, got %s", result.Quorum.Progress())
	}
	if result.Quorum.Satisfied || result.Closed {
		t.Error("one confirmation must not satisfy quorum or close the cycle")
	}
	if result.Record.ID == "" {
		t.Error("expected record to carry a generated ID")
	}
	if result.Record.SettledAt.IsZero() {
		t.Error("expected SettledAt to default to receipt time")
	}

	if got := fh.marked(); len(got) != 1 || got[0] != "6" {
		t.Errorf("expected hub mark for participant 6, got %v", got)
	}
	if fh.closed() != 0 {
		t.Errorf("expected no close calls, got %d", fh.closed())
	}

	count, err := store.CountNotifications(ctx, "32")
	if err != nil {
		t.Fatalf("CountNotifications failed: %v", err)
	}
	if count != 1 {
		t.Errorf("expected 1 durable record, got %d", count)
	}
}

func TestSubmitConfirmation_Duplicate(t *testing.T) {
	svc, store, fh, _ := newTestService(t, testCycle())
	ctx := context.Background()

	first, err := svc.SubmitConfirmation(ctx, "32", testClaim("6", "50000", "XOF"))
	if err != nil {
		t.Fatalf("first submission failed: %v", err)
	}

	// Same participant replays with a different reference; the original
	// record must win and no side effects may repeat.
	replay := testClaim("6", "50000", "XOF")
	replay.Reference = "RTGS-2024-RETRY"
	second, err := svc.SubmitConfirmation(ctx, "32", replay)
	if err != nil {
		t.Fatalf("replay submission failed: %v", err)
	}

	if second.Status != StatusDuplicate {
		t.Errorf("expected status duplicate, got %s", second.Status)
	}
	if second.Record.ID != first.Record.ID {
		t.Errorf("expected the original record, got %s vs %s", second.Record.ID, first.Record.ID)
	}
	if second.Record.Reference != "RTGS-2024-6" {
		t.Errorf("expected original reference to survive the replay, got %s", second.Record.Reference)
	}
	if second.Quorum.Accepted != 1 {
		t.Errorf("expected quorum to stay at 1, got %d", second.Quorum.Accepted)
	}
	if got := fh.marked(); len(got) != 1 {
		t.Errorf("expected no second hub mark, got %v", got)
	}

	count, _ := store.CountNotifications(ctx, "32")
	if count != 1 {
		t.Errorf("expected 1 durable record after replay, got %d", count)
	}
}

func TestSubmitConfirmation_CompletesQuorum(t *testing.T) {
	svc, store, fh, fr := newTestService(t, testCycle())
	ctx := context.Background()

	record(t, store, "32", "7", "20000", "XOF")
	record(t, store, "32", "8", "30000", "XOF")
	record(t, store, "32", "9", "1200.50", "EUR")

	result, err := svc.SubmitConfirmation(ctx, "32", testClaim("6", "50000", "XOF"))
	if err != nil {
		t.Fatalf("SubmitConfirmation failed: %v", err)
	}

	if result.Status != StatusAccepted {
		t.Errorf("expected status accepted, got %s", result.Status)
	}
	if !result.Quorum.Satisfied || result.Quorum.Accepted != 4 {
		t.Errorf("expected quorum 4 of 4 satisfied, got %s", result.Quorum.Progress())
	}
	if !result.Closed {
		t.Error("expected the final confirmation to close the cycle")
	}
	if result.ClosurePending {
		t.Error("expected no pending closure on a clean close")
	}
	if fh.closed() != 1 {
		t.Errorf("expected exactly one close call, got %d", fh.closed())
	}

	marker, err := store.GetClosure(ctx, "32")
	if err != nil {
		t.Fatalf("GetClosure failed: %v", err)
	}
	if !marker.Closed() {
		t.Errorf("expected CLOSED marker, got %+v", marker)
	}
	if marker.ClosedAt == nil {
		t.Error("expected ClosedAt to be set")
	}

	// Closure alerts resolve every distinct participant.
	resolved := fr.resolved()
	if len(resolved) != 4 {
		t.Errorf("expected 4 recipient resolutions, got %v", resolved)
	}
}

func TestSubmitConfirmation_RejectionLeavesNoTrace(t *testing.T) {
	svc, store, fh, _ := newTestService(t, testCycle())
	ctx := context.Background()

	cases := []struct {
		name  string
		cycle string
		claim models.ConfirmationClaim
		check func(error) bool
	}{
		{
			name:  "amount mismatch",
			cycle: "32",
			claim: testClaim("6", "49000", "XOF"),
			check: func(err error) bool {
				var mismatch *reconcile.AmountMismatchError
				return errors.As(err, &mismatch)
			},
		},
		{
			name:  "unknown participant",
			cycle: "32",
			claim: testClaim("99", "50000", "XOF"),
			check: func(err error) bool { return errors.Is(err, reconcile.ErrParticipantNotInCycle) },
		},
		{
			name:  "unknown cycle",
			cycle: "9000",
			claim: testClaim("6", "50000", "XOF"),
			check: func(err error) bool { return errors.Is(err, reconcile.ErrCycleNotFound) },
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			result, err := svc.SubmitConfirmation(ctx, tc.cycle, tc.claim)
			if err == nil {
				t.Fatalf("expected rejection, got %+v", result)
			}
			if !tc.check(err) {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}

	count, _ := store.CountNotifications(ctx, "32")
	if count != 0 {
		t.Errorf("expected no durable records after rejections, got %d", count)
	}
	if len(fh.marked()) != 0 || fh.closed() != 0 {
		t.Error("expected no hub state calls after rejections")
	}
}

func TestSubmitConfirmation_HubUnavailable(t *testing.T) {
	svc, store, fh, _ := newTestService(t, testCycle())
	fh.getErr = fmt.Errorf("settlement lookup for cycle 32: %w", hub.ErrUnavailable)
	ctx := context.Background()

	_, err := svc.SubmitConfirmation(ctx, "32", testClaim("6", "50000", "XOF"))
	if !errors.Is(err, hub.ErrUnavailable) {
		t.Fatalf("expected hub unavailability to propagate, got %v", err)
	}

	count, _ := store.CountNotifications(ctx, "32")
	if count != 0 {
		t.Errorf("expected no durable record while the hub is unreachable, got %d", count)
	}
}

func TestSubmitConfirmation_UpstreamStale(t *testing.T) {
	svc, store, fh, _ := newTestService(t, testCycle())
	fh.markErr = errors.New("hub returned 503")
	ctx := context.Background()

	result, err := svc.SubmitConfirmation(ctx, "32", testClaim("6", "50000", "XOF"))
	if err != nil {
		t.Fatalf("SubmitConfirmation failed: %v", err)
	}

	if result.Status != StatusAccepted {
		t.Errorf("expected status accepted, got %s", result.Status)
	}
	if !result.UpstreamStale {
		t.Error("expected UpstreamStale when the hub mark fails")
	}

	// The ledger, not the hub mirror, carries the quorum.
	count, _ := store.CountNotifications(ctx, "32")
	if count != 1 {
		t.Errorf("expected the confirmation to be durable, got %d records", count)
	}
}

func TestSubmitConfirmation_ClosureFailureRetried(t *testing.T) {
	svc, store, fh, _ := newTestService(t, testCycle())
	fh.setCloseErr(errors.New("hub returned 502"))
	ctx := context.Background()

	record(t, store, "32", "7", "20000", "XOF")
	record(t, store, "32", "8", "30000", "XOF")
	record(t, store, "32", "9", "1200.50", "EUR")

	result, err := svc.SubmitConfirmation(ctx, "32", testClaim("6", "50000", "XOF"))
	if err != nil {
		t.Fatalf("SubmitConfirmation failed: %v", err)
	}

	if !result.Quorum.Satisfied {
		t.Fatalf("expected satisfied quorum, got %s", result.Quorum.Progress())
	}
	if result.Closed {
		t.Error("expected the cycle to stay open after a failed close")
	}
	if !result.ClosurePending {
		t.Error("expected ClosurePending after a failed close")
	}

	marker, err := store.GetClosure(ctx, "32")
	if err != nil {
		t.Fatalf("GetClosure failed: %v", err)
	}
	if marker.State != models.ClosureStateFailed {
		t.Fatalf("expected CLOSE_FAILED marker, got %s", marker.State)
	}
	if marker.LastError == "" {
		t.Error("expected the failure cause to be recorded")
	}

	// The hub recovers; the retry drives the closure home.
	fh.setCloseErr(nil)
	status, err := svc.RetryClosure(ctx, "32")
	if err != nil {
		t.Fatalf("RetryClosure failed: %v", err)
	}
	if !status.Satisfied {
		t.Errorf("expected satisfied quorum on retry, got %s", status.Progress())
	}

	marker, _ = store.GetClosure(ctx, "32")
	if !marker.Closed() {
		t.Errorf("expected CLOSED marker after retry, got %s", marker.State)
	}
	if fh.closed() != 2 {
		t.Errorf("expected two close attempts in total, got %d", fh.closed())
	}
}

func TestSubmitConfirmation_ConcurrentFinalPair(t *testing.T) {
	cycle := &models.SettlementCycle{
		ID:    "71",
		State: models.StateTransfersCommitted,
		Participants: []models.Position{
			{AccountID: "6", NetAmount: decimal.NewFromInt(-500), Currency: "XOF"},
			{AccountID: "7", NetAmount: decimal.NewFromInt(500), Currency: "XOF"},
		},
	}
	svc, store, fh, _ := newTestService(t, cycle)
	ctx := context.Background()

	results := make([]*ConfirmationResult, 2)
	errs := make([]error, 2)
	var wg sync.WaitGroup
	for i, participant := range []string{"6", "7"} {
		wg.Add(1)
		go func(i int, participant string) {
			defer wg.Done()
			results[i], errs[i] = svc.SubmitConfirmation(ctx, "71", testClaim(participant, "500", "XOF"))
		}(i, participant)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("submission %d failed: %v", i, err)
		}
		if results[i].Status != StatusAccepted {
			t.Errorf("submission %d: expected accepted, got %s", i, results[i].Status)
		}
	}

	closedCount := 0
	for _, r := range results {
		if r.Closed {
			closedCount++
		}
	}
	if closedCount != 1 {
		t.Errorf("expected exactly one submission to report the close, got %d", closedCount)
	}
	if fh.closed() != 1 {
		t.Errorf("expected exactly one hub close call, got %d", fh.closed())
	}

	count, _ := store.CountNotifications(ctx, "71")
	if count != 2 {
		t.Errorf("expected both confirmations durable, got %d", count)
	}
	marker, _ := store.GetClosure(ctx, "71")
	if !marker.Closed() {
		t.Errorf("expected CLOSED marker, got %+v", marker)
	}
}

func TestSubmitConfirmation_AfterClosure(t *testing.T) {
	svc, store, _, _ := newTestService(t, testCycle())
	ctx := context.Background()

	record(t, store, "32", "7", "20000", "XOF")
	record(t, store, "32", "8", "30000", "XOF")
	record(t, store, "32", "9", "1200.50", "EUR")
	if _, err := svc.SubmitConfirmation(ctx, "32", testClaim("6", "50000", "XOF")); err != nil {
		t.Fatalf("final confirmation failed: %v", err)
	}

	// The hub now reports SETTLED; any further claim for the cycle is
	// refused as already closed.
	_, err := svc.SubmitConfirmation(ctx, "32", testClaim("7", "20000", "XOF"))
	if !errors.Is(err, reconcile.ErrCycleAlreadyClosed) {
		t.Fatalf("expected ErrCycleAlreadyClosed, got %v", err)
	}
}

func TestRetryClosure_QuorumNotReached(t *testing.T) {
	svc, store, fh, _ := newTestService(t, testCycle())
	ctx := context.Background()

	record(t, store, "32", "6", "50000", "XOF")

	status, err := svc.RetryClosure(ctx, "32")
	if !errors.Is(err, ErrQuorumNotReached) {
		t.Fatalf("expected ErrQuorumNotReached, got %v", err)
	}
	if status.Accepted != 1 || status.Expected != 4 {
		t.Errorf("expected quorum 1 of 4, got %s", status.Progress())
	}
	if fh.closed() != 0 {
		t.Errorf("expected no close call, got %d", fh.closed())
	}
}

func TestRetryClosure_AlreadySettledOnHub(t *testing.T) {
	svc, store, fh, _ := newTestService(t, testCycle())
	ctx := context.Background()

	record(t, store, "32", "6", "50000", "XOF")
	record(t, store, "32", "7", "20000", "XOF")
	record(t, store, "32", "8", "30000", "XOF")
	record(t, store, "32", "9", "1200.50", "EUR")

	// A previous process closed the cycle on the hub but crashed before
	// resolving its marker.
	if _, _, err := store.BeginClosure(ctx, "32"); err != nil {
		t.Fatalf("BeginClosure failed: %v", err)
	}
	if err := store.FinishClosure(ctx, "32", false, "closure interrupted"); err != nil {
		t.Fatalf("FinishClosure failed: %v", err)
	}
	fh.setState(models.StateSettled)

	if _, err := svc.RetryClosure(ctx, "32"); err != nil {
		t.Fatalf("RetryClosure failed: %v", err)
	}

	marker, _ := store.GetClosure(ctx, "32")
	if !marker.Closed() {
		t.Errorf("expected marker reconciled to CLOSED, got %s", marker.State)
	}
	if fh.closed() != 0 {
		t.Errorf("expected no close call against a settled cycle, got %d", fh.closed())
	}
}

func TestStatus(t *testing.T) {
	svc, store, fh, _ := newTestService(t, testCycle())
	ctx := context.Background()

	record(t, store, "32", "6", "50000", "XOF")
	record(t, store, "32", "7", "20000", "XOF")

	st, err := svc.Status(ctx, "32")
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if len(st.Records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(st.Records))
	}
	if st.Records[0].ParticipantID != "6" || st.Records[1].ParticipantID != "7" {
		t.Errorf("expected records in arrival order, got %s then %s",
			st.Records[0].ParticipantID, st.Records[1].ParticipantID)
	}
	if !st.HubReachable {
		t.Error("expected HubReachable")
	}
	if st.Quorum == nil || st.Quorum.Accepted != 2 || st.Quorum.Expected != 4 {
		t.Errorf("expected quorum 2 of 4, got %+v", st.Quorum)
	}
	if st.CycleState != models.StateTransfersCommitted {
		t.Errorf("expected hub cycle state, got %s", st.CycleState)
	}
	if st.Closure != nil {
		t.Errorf("expected no closure marker, got %+v", st.Closure)
	}

	// Hub outage degrades the status to the local ledger.
	fh.getErr = fmt.Errorf("settlement lookup for cycle 32: %w", hub.ErrUnavailable)
	st, err = svc.Status(ctx, "32")
	if err != nil {
		t.Fatalf("Status during outage failed: %v", err)
	}
	if st.HubReachable || st.Quorum != nil {
		t.Error("expected degraded status without hub data")
	}
	if len(st.Records) != 2 {
		t.Errorf("expected local records to survive the outage, got %d", len(st.Records))
	}
}

func TestStatus_UnknownCycle(t *testing.T) {
	svc, _, _, _ := newTestService(t, testCycle())

	_, err := svc.Status(context.Background(), "9000")
	if !errors.Is(err, reconcile.ErrCycleNotFound) {
		t.Fatalf("expected ErrCycleNotFound, got %v", err)
	}
}

func TestRepairer_RetriesFailedClosure(t *testing.T) {
	svc, store, fh, _ := newTestService(t, testCycle())
	ctx := context.Background()

	record(t, store, "32", "6", "50000", "XOF")
	record(t, store, "32", "7", "20000", "XOF")
	record(t, store, "32", "8", "30000", "XOF")
	record(t, store, "32", "9", "1200.50", "EUR")
	if _, _, err := store.BeginClosure(ctx, "32"); err != nil {
		t.Fatalf("BeginClosure failed: %v", err)
	}
	if err := store.FinishClosure(ctx, "32", false, "hub returned 502"); err != nil {
		t.Fatalf("FinishClosure failed: %v", err)
	}

	NewRepairer(svc, time.Minute).Sweep(ctx)

	marker, _ := store.GetClosure(ctx, "32")
	if !marker.Closed() {
		t.Errorf("expected CLOSED marker after sweep, got %s", marker.State)
	}
	if fh.closed() != 1 {
		t.Errorf("expected one close call from the sweep, got %d", fh.closed())
	}
}

func TestRepairer_RescuesAbandonedClosing(t *testing.T) {
	svc, store, fh, _ := newTestService(t, testCycle())
	ctx := context.Background()

	record(t, store, "32", "6", "50000", "XOF")
	record(t, store, "32", "7", "20000", "XOF")
	record(t, store, "32", "8", "30000", "XOF")
	record(t, store, "32", "9", "1200.50", "EUR")

	// Marker left CLOSING by a crashed process.
	if _, _, err := store.BeginClosure(ctx, "32"); err != nil {
		t.Fatalf("BeginClosure failed: %v", err)
	}

	r := NewRepairer(svc, time.Minute)
	r.staleAfter = 0
	r.Sweep(ctx)

	marker, _ := store.GetClosure(ctx, "32")
	if !marker.Closed() {
		t.Errorf("expected abandoned closure to be driven home, got %s", marker.State)
	}
	if fh.closed() != 1 {
		t.Errorf("expected one close call from the sweep, got %d", fh.closed())
	}
}

func TestRepairer_LeavesLiveClosingAlone(t *testing.T) {
	svc, store, fh, _ := newTestService(t, testCycle())
	ctx := context.Background()

	if _, _, err := store.BeginClosure(ctx, "32"); err != nil {
		t.Fatalf("BeginClosure failed: %v", err)
	}

	NewRepairer(svc, time.Minute).Sweep(ctx)

	marker, _ := store.GetClosure(ctx, "32")
	if marker.State != models.ClosureStateClosing {
		t.Errorf("expected a fresh CLOSING marker to be left alone, got %s", marker.State)
	}
	if fh.closed() != 0 {
		t.Errorf("expected no close call, got %d", fh.closed())
	}
}

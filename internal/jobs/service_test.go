package jobs

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/gigboard/backend/internal/ledger"
	"github.com/gigboard/backend/internal/models"
	"github.com/gigboard/backend/internal/notify"
)

// ---------------------------------------------------------------------------
// Mocks
// ---------------------------------------------------------------------------

// --- noopTx satisfies pgx.Tx for test use; only Commit/Rollback are called. ---

type noopTx struct{}

func (noopTx) Begin(context.Context) (pgx.Tx, error) { return noopTx{}, nil }
func (noopTx) Commit(context.Context) error          { return nil }
func (noopTx) Rollback(context.Context) error        { return nil }
func (noopTx) Exec(context.Context, string, ...any) (pgconn.CommandTag, error) {
	return pgconn.NewCommandTag(""), nil
}
func (noopTx) Query(context.Context, string, ...any) (pgx.Rows, error) { return nil, nil }
func (noopTx) QueryRow(context.Context, string, ...any) pgx.Row        { return nil }
func (noopTx) CopyFrom(context.Context, pgx.Identifier, []string, pgx.CopyFromSource) (int64, error) {
	return 0, nil
}
func (noopTx) SendBatch(context.Context, *pgx.Batch) pgx.BatchResults { return nil }
func (noopTx) LargeObjects() pgx.LargeObjects                         { return pgx.LargeObjects{} }
func (noopTx) Prepare(context.Context, string, string) (*pgconn.StatementDescription, error) {
	return nil, nil
}
func (noopTx) Conn() *pgx.Conn { return nil }

// --- job store mock with the same conditional-write semantics as SQL ---

type memJobStore struct {
	mu   sync.Mutex
	jobs map[uuid.UUID]*models.Job
}

func newMemJobStore() *memJobStore {
	return &memJobStore{jobs: make(map[uuid.UUID]*models.Job)}
}

func (m *memJobStore) Begin(context.Context) (pgx.Tx, error) { return noopTx{}, nil }

func (m *memJobStore) Create(_ context.Context, j *models.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *j
	m.jobs[j.ID] = &cp
	return nil
}

func (m *memJobStore) GetByID(_ context.Context, jobID uuid.UUID) (*models.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[jobID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *j
	return &cp, nil
}

func (m *memJobStore) ListByEmployer(_ context.Context, employerID uuid.UUID) ([]*models.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Job
	for _, j := range m.jobs {
		if j.CreatedBy == employerID {
			cp := *j
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memJobStore) AcceptIfOpen(_ context.Context, _ pgx.Tx, jobID, providerID uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[jobID]
	if !ok || j.Status != models.StatusOpen || j.AcceptedBy != nil {
		return false, nil
	}
	id := providerID
	j.AcceptedBy = &id
	j.Status = models.StatusAccepted
	return true, nil
}

func (m *memJobStore) TransitionIf(_ context.Context, _ pgx.Tx, jobID uuid.UUID, from, to models.Status) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[jobID]
	if !ok || j.Status != from {
		return false, nil
	}
	j.Status = to
	return true, nil
}

func (m *memJobStore) MarkSubmitted(_ context.Context, _ pgx.Tx, jobID uuid.UUID, submittedAt, deadline time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[jobID]
	if !ok || j.Status != models.StatusInProgress {
		return false, nil
	}
	j.Status = models.StatusWaitingForApproval
	j.SubmittedAt = &submittedAt
	j.ApprovalDeadline = &deadline
	return true, nil
}

func (m *memJobStore) MarkDisputed(_ context.Context, _ pgx.Tx, jobID uuid.UUID, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[jobID]
	if !ok {
		return false, nil
	}
	if j.Status != models.StatusWaitingForApproval && j.Status != models.StatusWaitingForPayment {
		return false, nil
	}
	j.Status = models.StatusDispute
	j.DisputeOpenedAt = &at
	return true, nil
}

func (m *memJobStore) CompletedCountByProvider(_ context.Context, providerID uuid.UUID) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, j := range m.jobs {
		if j.Status == models.StatusCompleted && j.AcceptedBy != nil && *j.AcceptedBy == providerID {
			n++
		}
	}
	return n, nil
}

// --- ledger store mock mirroring the conditional hold-resolution semantics ---

type memLedgerStore struct {
	mu      sync.Mutex
	holds   map[uuid.UUID]*models.EscrowHold
	entries []*models.LedgerEntry
}

func newMemLedgerStore() *memLedgerStore {
	return &memLedgerStore{holds: make(map[uuid.UUID]*models.EscrowHold)}
}

func (m *memLedgerStore) AcquireAccountLock(context.Context, pgx.Tx, uuid.UUID) error {
	return nil
}

func (m *memLedgerStore) CreateHold(_ context.Context, _ pgx.Tx, h *models.EscrowHold) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.holds[h.JobID]; exists {
		return ledger.ErrHoldExists
	}
	cp := *h
	m.holds[h.JobID] = &cp
	return nil
}

func (m *memLedgerStore) GetHold(_ context.Context, jobID uuid.UUID) (*models.EscrowHold, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.holds[jobID]
	if !ok {
		return nil, ledger.ErrNoHold
	}
	cp := *h
	return &cp, nil
}

func (m *memLedgerStore) MarkReleased(_ context.Context, _ pgx.Tx, jobID uuid.UUID, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.holds[jobID]
	if !ok || h.Resolved() {
		return false, nil
	}
	h.ReleasedAt = &at
	return true, nil
}

func (m *memLedgerStore) MarkRefunded(_ context.Context, _ pgx.Tx, jobID uuid.UUID, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.holds[jobID]
	if !ok || h.Resolved() {
		return false, nil
	}
	h.RefundedAt = &at
	return true, nil
}

func (m *memLedgerStore) InsertEntries(_ context.Context, _ pgx.Tx, entries []*models.LedgerEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, entries...)
	return nil
}

func (m *memLedgerStore) Append(_ context.Context, e *models.LedgerEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, e)
	return nil
}

func (m *memLedgerStore) EntriesByJob(_ context.Context, jobID uuid.UUID) ([]*models.LedgerEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.LedgerEntry
	for _, e := range m.entries {
		if e.JobID != nil && *e.JobID == jobID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *memLedgerStore) SumByAccount(_ context.Context, accountID uuid.UUID) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var sum int64
	for _, e := range m.entries {
		if e.AccountID == accountID {
			sum += e.AmountCents
		}
	}
	return sum, nil
}

func (m *memLedgerStore) SumByAccountTx(ctx context.Context, _ pgx.Tx, accountID uuid.UUID) (int64, error) {
	return m.SumByAccount(ctx, accountID)
}

// --- accounts mock ---

type mockAccounts struct {
	accounts map[uuid.UUID]*models.Account
}

func newMockAccounts() *mockAccounts {
	return &mockAccounts{accounts: make(map[uuid.UUID]*models.Account)}
}

func (m *mockAccounts) GetByID(_ context.Context, id uuid.UUID) (*models.Account, error) {
	acc, ok := m.accounts[id]
	if !ok {
		return nil, errors.New("account not found")
	}
	return acc, nil
}

func (m *mockAccounts) add(role models.Role, verified bool) uuid.UUID {
	id := uuid.New()
	m.accounts[id] = &models.Account{ID: id, Role: role, IsVerified: verified}
	return id
}

// --- dispute creator mock ---

type mockDisputes struct {
	mu      sync.Mutex
	created []*models.Dispute
}

func (m *mockDisputes) CreateTx(_ context.Context, _ pgx.Tx, d *models.Dispute) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.created = append(m.created, d)
	return nil
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

type fixture struct {
	svc        Service
	store      *memJobStore
	ledgerMem  *memLedgerStore
	accounts   *mockAccounts
	disputes   *mockDisputes
	events     *eventRecorder
	employerID uuid.UUID
	providerID uuid.UUID
}

type eventRecorder struct {
	mu     sync.Mutex
	events []notify.EventArgs
}

func (r *eventRecorder) record(_ context.Context, _ pgx.Tx, args notify.EventArgs) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, args)
	return nil
}

func (r *eventRecorder) names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Event)
	}
	return out
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	store := newMemJobStore()
	ledgerMem := newMemLedgerStore()
	accounts := newMockAccounts()
	disp := &mockDisputes{}
	events := &eventRecorder{}

	f := &fixture{
		store:     store,
		ledgerMem: ledgerMem,
		accounts:  accounts,
		disputes:  disp,
		events:    events,
	}
	f.svc = NewService(store, ledger.NewService(ledgerMem), accounts, disp, events.record, nil, cfg)
	f.employerID = accounts.add(models.RoleEmployer, false)
	f.providerID = accounts.add(models.RoleProvider, true)
	return f
}

// fund credits the employer so holds succeed.
func (f *fixture) fund(t *testing.T, amount int64) {
	t.Helper()
	if err := ledger.NewService(f.ledgerMem).Deposit(context.Background(), f.employerID, amount); err != nil {
		t.Fatalf("deposit: %v", err)
	}
}

func (f *fixture) createJob(t *testing.T, price int64) *models.Job {
	t.Helper()
	job, err := f.svc.Create(context.Background(), f.employerID, "paint fence", "white, two coats", price)
	if err != nil {
		t.Fatalf("create job: %v", err)
	}
	return job
}

// advance drives the job through accept, start, submit.
func (f *fixture) advance(t *testing.T, jobID uuid.UUID) {
	t.Helper()
	ctx := context.Background()
	if _, err := f.svc.Accept(ctx, jobID, f.providerID); err != nil {
		t.Fatalf("accept: %v", err)
	}
	if _, err := f.svc.Start(ctx, jobID, f.providerID); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := f.svc.Submit(ctx, jobID, f.providerID); err != nil {
		t.Fatalf("submit: %v", err)
	}
}

func (f *fixture) balance(t *testing.T, accountID uuid.UUID) int64 {
	t.Helper()
	sum, err := f.ledgerMem.SumByAccount(context.Background(), accountID)
	if err != nil {
		t.Fatalf("sum: %v", err)
	}
	return sum
}

// =====================================================================
// Accept
// =====================================================================

func TestAccept_PlacesHold(t *testing.T) {
	f := newFixture(t, Config{})
	f.fund(t, 1000)
	job := f.createJob(t, 1000)

	got, err := f.svc.Accept(context.Background(), job.ID, f.providerID)
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	if got.Status != models.StatusAccepted {
		t.Fatalf("status = %s, want ACCEPTED", got.Status)
	}
	if got.AcceptedBy == nil || *got.AcceptedBy != f.providerID {
		t.Fatal("accepted_by not set to the provider")
	}
	if b := f.balance(t, f.employerID); b != 0 {
		t.Errorf("employer balance = %d, want 0 after hold", b)
	}
	if b := f.balance(t, models.EscrowAccountID); b != 1000 {
		t.Errorf("escrow balance = %d, want 1000", b)
	}
}

func TestAccept_Idempotent(t *testing.T) {
	f := newFixture(t, Config{})
	f.fund(t, 1000)
	job := f.createJob(t, 1000)

	ctx := context.Background()
	if _, err := f.svc.Accept(ctx, job.ID, f.providerID); err != nil {
		t.Fatalf("first accept: %v", err)
	}
	got, err := f.svc.Accept(ctx, job.ID, f.providerID)
	if err != nil {
		t.Fatalf("replay accept: %v", err)
	}
	if got.Status != models.StatusAccepted {
		t.Fatalf("status = %s, want ACCEPTED", got.Status)
	}
	if b := f.balance(t, models.EscrowAccountID); b != 1000 {
		t.Errorf("escrow balance = %d after replay, want 1000 (one hold)", b)
	}
}

func TestAccept_SecondProviderRejected(t *testing.T) {
	f := newFixture(t, Config{})
	f.fund(t, 1000)
	job := f.createJob(t, 1000)

	other := f.accounts.add(models.RoleProvider, true)

	ctx := context.Background()
	if _, err := f.svc.Accept(ctx, job.ID, f.providerID); err != nil {
		t.Fatalf("first accept: %v", err)
	}
	if _, err := f.svc.Accept(ctx, job.ID, other); !errors.Is(err, ErrAlreadyAccepted) {
		t.Fatalf("second accept err = %v, want ErrAlreadyAccepted", err)
	}
}

func TestAccept_ConcurrentOneWinner(t *testing.T) {
	f := newFixture(t, Config{})
	f.fund(t, 1000)
	job := f.createJob(t, 1000)

	const n = 16
	providers := make([]uuid.UUID, n)
	for i := range providers {
		providers[i] = f.accounts.add(models.RoleProvider, true)
	}

	var wg sync.WaitGroup
	wins := make(chan uuid.UUID, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(p uuid.UUID) {
			defer wg.Done()
			if _, err := f.svc.Accept(context.Background(), job.ID, p); err == nil {
				wins <- p
			} else if !errors.Is(err, ErrAlreadyAccepted) {
				t.Errorf("unexpected accept error: %v", err)
			}
		}(providers[i])
	}
	wg.Wait()
	close(wins)

	var winners []uuid.UUID
	for w := range wins {
		winners = append(winners, w)
	}
	if len(winners) != 1 {
		t.Fatalf("got %d winners, want exactly 1", len(winners))
	}
	if b := f.balance(t, models.EscrowAccountID); b != 1000 {
		t.Errorf("escrow balance = %d, want exactly one hold of 1000", b)
	}
}

func TestAccept_UnverifiedProvider(t *testing.T) {
	f := newFixture(t, Config{})
	f.fund(t, 1000)
	job := f.createJob(t, 1000)

	unverified := f.accounts.add(models.RoleProvider, false)
	if _, err := f.svc.Accept(context.Background(), job.ID, unverified); !errors.Is(err, ErrUnverifiedProvider) {
		t.Fatalf("err = %v, want ErrUnverifiedProvider", err)
	}
}

func TestAccept_EmployerRoleRejected(t *testing.T) {
	f := newFixture(t, Config{})
	f.fund(t, 1000)
	job := f.createJob(t, 1000)

	if _, err := f.svc.Accept(context.Background(), job.ID, f.employerID); !errors.Is(err, ErrForbidden) {
		t.Fatalf("err = %v, want ErrForbidden", err)
	}
}

func TestAccept_InsufficientFunds(t *testing.T) {
	f := newFixture(t, Config{})
	f.fund(t, 500)
	job := f.createJob(t, 1000)

	if _, err := f.svc.Accept(context.Background(), job.ID, f.providerID); !errors.Is(err, ledger.ErrInsufficientFunds) {
		t.Fatalf("err = %v, want ErrInsufficientFunds", err)
	}
}

// =====================================================================
// Approve / full lifecycle
// =====================================================================

func TestApprove_FullLifecycle(t *testing.T) {
	f := newFixture(t, Config{})
	f.fund(t, 1000)
	job := f.createJob(t, 1000)
	f.advance(t, job.ID)

	got, err := f.svc.Approve(context.Background(), job.ID, f.employerID)
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if got.Status != models.StatusCompleted {
		t.Fatalf("status = %s, want COMPLETED", got.Status)
	}

	// Rookie tier: 15% commission on 1000.
	if b := f.balance(t, f.providerID); b != 850 {
		t.Errorf("provider balance = %d, want 850", b)
	}
	if b := f.balance(t, models.PlatformAccountID); b != 150 {
		t.Errorf("platform balance = %d, want 150", b)
	}
	if b := f.balance(t, models.EscrowAccountID); b != 0 {
		t.Errorf("escrow balance = %d, want 0", b)
	}

	names := f.events.names()
	want := map[string]bool{}
	for _, n := range names {
		want[n] = true
	}
	for _, ev := range []string{notify.EventJobAccepted, notify.EventJobApproved, notify.EventPaymentReleased} {
		if !want[ev] {
			t.Errorf("missing %s event, got %v", ev, names)
		}
	}
}

func TestApprove_ConcurrentSinglePayment(t *testing.T) {
	f := newFixture(t, Config{})
	f.fund(t, 1000)
	job := f.createJob(t, 1000)
	f.advance(t, job.ID)

	const n = 8
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.svc.Approve(context.Background(), job.ID, f.employerID); err != nil {
				t.Errorf("approve: %v", err)
			}
		}()
	}
	wg.Wait()

	if b := f.balance(t, f.providerID); b != 850 {
		t.Errorf("provider balance = %d after %d approvals, want 850 (paid once)", b, n)
	}
	if b := f.balance(t, models.EscrowAccountID); b != 0 {
		t.Errorf("escrow balance = %d, want 0", b)
	}
}

func TestApprove_OnlyRequesterOrSystem(t *testing.T) {
	f := newFixture(t, Config{})
	f.fund(t, 1000)
	job := f.createJob(t, 1000)
	f.advance(t, job.ID)

	if _, err := f.svc.Approve(context.Background(), job.ID, f.providerID); !errors.Is(err, ErrForbidden) {
		t.Fatalf("provider approve err = %v, want ErrForbidden", err)
	}

	got, err := f.svc.Approve(context.Background(), job.ID, models.SystemActorID)
	if err != nil {
		t.Fatalf("system approve: %v", err)
	}
	if got.Status != models.StatusCompleted {
		t.Fatalf("status = %s, want COMPLETED", got.Status)
	}
}

func TestApprove_BeforeSubmitRejected(t *testing.T) {
	f := newFixture(t, Config{})
	f.fund(t, 1000)
	job := f.createJob(t, 1000)
	if _, err := f.svc.Accept(context.Background(), job.ID, f.providerID); err != nil {
		t.Fatalf("accept: %v", err)
	}

	if _, err := f.svc.Approve(context.Background(), job.ID, f.employerID); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("err = %v, want ErrInvalidTransition", err)
	}
}

func TestApprove_CommissionTierByHistory(t *testing.T) {
	f := newFixture(t, Config{})
	f.fund(t, 20000)

	ctx := context.Background()
	// Complete ten jobs to move the provider into the regular tier.
	for i := 0; i < 10; i++ {
		job := f.createJob(t, 100)
		f.advance(t, job.ID)
		if _, err := f.svc.Approve(ctx, job.ID, f.employerID); err != nil {
			t.Fatalf("approve warmup %d: %v", i, err)
		}
	}

	before := f.balance(t, f.providerID)
	job := f.createJob(t, 1000)
	f.advance(t, job.ID)
	if _, err := f.svc.Approve(ctx, job.ID, f.employerID); err != nil {
		t.Fatalf("approve: %v", err)
	}

	// Regular tier: 10% commission on 1000.
	if got := f.balance(t, f.providerID) - before; got != 900 {
		t.Errorf("provider net = %d at 10 completed jobs, want 900", got)
	}
}

// =====================================================================
// Async payout
// =====================================================================

func TestApprove_AsyncPayout(t *testing.T) {
	f := newFixture(t, Config{AsyncPayout: true})

	var enqueued []uuid.UUID
	var mu sync.Mutex
	f.svc = NewService(f.store, ledger.NewService(f.ledgerMem), f.accounts, f.disputes, f.events.record,
		func(_ context.Context, _ pgx.Tx, jobID uuid.UUID) error {
			mu.Lock()
			defer mu.Unlock()
			enqueued = append(enqueued, jobID)
			return nil
		}, Config{AsyncPayout: true})

	f.fund(t, 1000)
	job := f.createJob(t, 1000)
	f.advance(t, job.ID)

	ctx := context.Background()
	got, err := f.svc.Approve(ctx, job.ID, f.employerID)
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if got.Status != models.StatusWaitingForPayment {
		t.Fatalf("status = %s, want WAITING_FOR_PAYMENT", got.Status)
	}
	if b := f.balance(t, f.providerID); b != 0 {
		t.Errorf("provider balance = %d before payout confirmation, want 0", b)
	}
	if len(enqueued) != 1 || enqueued[0] != job.ID {
		t.Fatalf("enqueued payouts = %v, want [%s]", enqueued, job.ID)
	}

	// Payout rail confirms.
	if err := f.svc.CompletePayout(ctx, job.ID); err != nil {
		t.Fatalf("complete payout: %v", err)
	}
	cur, _ := f.svc.Get(ctx, job.ID)
	if cur.Status != models.StatusCompleted {
		t.Fatalf("status = %s after payout, want COMPLETED", cur.Status)
	}
	if b := f.balance(t, f.providerID); b != 850 {
		t.Errorf("provider balance = %d, want 850", b)
	}

	// Replay is harmless.
	if err := f.svc.CompletePayout(ctx, job.ID); err != nil {
		t.Fatalf("replay payout: %v", err)
	}
	if b := f.balance(t, f.providerID); b != 850 {
		t.Errorf("provider balance = %d after replay, want 850", b)
	}
}

// =====================================================================
// Cancel
// =====================================================================

func TestCancel_OpenJobNoRefund(t *testing.T) {
	f := newFixture(t, Config{CancelFeeBps: 500})
	f.fund(t, 1000)
	job := f.createJob(t, 1000)

	got, err := f.svc.Cancel(context.Background(), job.ID, f.employerID)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if got.Status != models.StatusCancelled {
		t.Fatalf("status = %s, want CANCELLED", got.Status)
	}
	if b := f.balance(t, f.employerID); b != 1000 {
		t.Errorf("employer balance = %d, want untouched 1000", b)
	}
}

func TestCancel_WhileAcceptedFullRefund(t *testing.T) {
	f := newFixture(t, Config{CancelFeeBps: 500})
	f.fund(t, 1000)
	job := f.createJob(t, 1000)
	if _, err := f.svc.Accept(context.Background(), job.ID, f.providerID); err != nil {
		t.Fatalf("accept: %v", err)
	}

	if _, err := f.svc.Cancel(context.Background(), job.ID, f.employerID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if b := f.balance(t, f.employerID); b != 1000 {
		t.Errorf("employer balance = %d, want full refund to 1000", b)
	}
	if b := f.balance(t, models.PlatformAccountID); b != 0 {
		t.Errorf("platform balance = %d, want no fee before work starts", b)
	}
}

func TestCancel_AfterStartChargesFee(t *testing.T) {
	f := newFixture(t, Config{CancelFeeBps: 500})
	f.fund(t, 1000)
	job := f.createJob(t, 1000)

	ctx := context.Background()
	if _, err := f.svc.Accept(ctx, job.ID, f.providerID); err != nil {
		t.Fatalf("accept: %v", err)
	}
	if _, err := f.svc.Start(ctx, job.ID, f.providerID); err != nil {
		t.Fatalf("start: %v", err)
	}

	if _, err := f.svc.Cancel(ctx, job.ID, f.employerID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if b := f.balance(t, f.employerID); b != 950 {
		t.Errorf("employer balance = %d, want 950 after 5%% cancellation fee", b)
	}
	if b := f.balance(t, models.PlatformAccountID); b != 50 {
		t.Errorf("platform balance = %d, want 50", b)
	}
}

func TestCancel_Idempotent(t *testing.T) {
	f := newFixture(t, Config{})
	f.fund(t, 1000)
	job := f.createJob(t, 1000)
	if _, err := f.svc.Accept(context.Background(), job.ID, f.providerID); err != nil {
		t.Fatalf("accept: %v", err)
	}

	ctx := context.Background()
	if _, err := f.svc.Cancel(ctx, job.ID, f.employerID); err != nil {
		t.Fatalf("first cancel: %v", err)
	}
	got, err := f.svc.Cancel(ctx, job.ID, f.employerID)
	if err != nil {
		t.Fatalf("replay cancel: %v", err)
	}
	if got.Status != models.StatusCancelled {
		t.Fatalf("status = %s, want CANCELLED", got.Status)
	}
	if b := f.balance(t, f.employerID); b != 1000 {
		t.Errorf("employer balance = %d after replay, want 1000 (one refund)", b)
	}
}

func TestCancel_CompletedRejected(t *testing.T) {
	f := newFixture(t, Config{})
	f.fund(t, 1000)
	job := f.createJob(t, 1000)
	f.advance(t, job.ID)
	if _, err := f.svc.Approve(context.Background(), job.ID, f.employerID); err != nil {
		t.Fatalf("approve: %v", err)
	}

	if _, err := f.svc.Cancel(context.Background(), job.ID, f.employerID); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("err = %v, want ErrInvalidTransition", err)
	}
}

func TestCancel_StrangerForbidden(t *testing.T) {
	f := newFixture(t, Config{})
	f.fund(t, 1000)
	job := f.createJob(t, 1000)

	stranger := f.accounts.add(models.RoleEmployer, false)
	if _, err := f.svc.Cancel(context.Background(), job.ID, stranger); !errors.Is(err, ErrForbidden) {
		t.Fatalf("err = %v, want ErrForbidden", err)
	}
}

// =====================================================================
// Submit / Start authorization
// =====================================================================

func TestStart_WrongProviderForbidden(t *testing.T) {
	f := newFixture(t, Config{})
	f.fund(t, 1000)
	job := f.createJob(t, 1000)
	if _, err := f.svc.Accept(context.Background(), job.ID, f.providerID); err != nil {
		t.Fatalf("accept: %v", err)
	}

	other := f.accounts.add(models.RoleProvider, true)
	if _, err := f.svc.Start(context.Background(), job.ID, other); !errors.Is(err, ErrForbidden) {
		t.Fatalf("err = %v, want ErrForbidden", err)
	}
}

func TestSubmit_SetsDeadline(t *testing.T) {
	f := newFixture(t, Config{ApprovalTimeout: 24 * time.Hour})
	f.fund(t, 1000)
	job := f.createJob(t, 1000)

	ctx := context.Background()
	if _, err := f.svc.Accept(ctx, job.ID, f.providerID); err != nil {
		t.Fatalf("accept: %v", err)
	}
	if _, err := f.svc.Start(ctx, job.ID, f.providerID); err != nil {
		t.Fatalf("start: %v", err)
	}
	got, err := f.svc.Submit(ctx, job.ID, f.providerID)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if got.SubmittedAt == nil || got.ApprovalDeadline == nil {
		t.Fatal("submitted_at or approval_deadline not set")
	}
	if d := got.ApprovalDeadline.Sub(*got.SubmittedAt); d != 24*time.Hour {
		t.Errorf("deadline offset = %s, want 24h", d)
	}
}

// =====================================================================
// Disputes
// =====================================================================

func TestOpenDispute_BlocksApprove(t *testing.T) {
	f := newFixture(t, Config{})
	f.fund(t, 1000)
	job := f.createJob(t, 1000)
	f.advance(t, job.ID)

	ctx := context.Background()
	got, err := f.svc.OpenDispute(ctx, job.ID, f.employerID, "work not as described")
	if err != nil {
		t.Fatalf("open dispute: %v", err)
	}
	if got.Status != models.StatusDispute {
		t.Fatalf("status = %s, want DISPUTE", got.Status)
	}
	if len(f.disputes.created) != 1 {
		t.Fatalf("dispute records = %d, want 1", len(f.disputes.created))
	}

	if _, err := f.svc.Approve(ctx, job.ID, f.employerID); !errors.Is(err, ErrDisputeOpen) {
		t.Fatalf("approve err = %v, want ErrDisputeOpen", err)
	}
	if _, err := f.svc.Approve(ctx, job.ID, models.SystemActorID); !errors.Is(err, ErrDisputeOpen) {
		t.Fatalf("system approve err = %v, want ErrDisputeOpen", err)
	}
	if b := f.balance(t, f.providerID); b != 0 {
		t.Errorf("provider balance = %d while disputed, want 0", b)
	}
}

func TestOpenDispute_BeforeSubmissionRejected(t *testing.T) {
	f := newFixture(t, Config{})
	f.fund(t, 1000)
	job := f.createJob(t, 1000)
	if _, err := f.svc.Accept(context.Background(), job.ID, f.providerID); err != nil {
		t.Fatalf("accept: %v", err)
	}

	if _, err := f.svc.OpenDispute(context.Background(), job.ID, f.employerID, "nope"); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("err = %v, want ErrInvalidTransition", err)
	}
}

func TestOpenDispute_Idempotent(t *testing.T) {
	f := newFixture(t, Config{})
	f.fund(t, 1000)
	job := f.createJob(t, 1000)
	f.advance(t, job.ID)

	ctx := context.Background()
	if _, err := f.svc.OpenDispute(ctx, job.ID, f.employerID, "first"); err != nil {
		t.Fatalf("open dispute: %v", err)
	}
	got, err := f.svc.OpenDispute(ctx, job.ID, f.employerID, "second")
	if err != nil {
		t.Fatalf("replay open dispute: %v", err)
	}
	if got.Status != models.StatusDispute {
		t.Fatalf("status = %s, want DISPUTE", got.Status)
	}
	if len(f.disputes.created) != 1 {
		t.Fatalf("dispute records = %d after replay, want 1", len(f.disputes.created))
	}
}

// =====================================================================
// Payment status
// =====================================================================

func TestPaymentStatus_TracksHoldLifecycle(t *testing.T) {
	f := newFixture(t, Config{})
	f.fund(t, 1000)
	job := f.createJob(t, 1000)

	ctx := context.Background()
	ps, err := f.svc.PaymentStatus(ctx, job.ID)
	if err != nil {
		t.Fatalf("payment status: %v", err)
	}
	if ps.State != "none" {
		t.Fatalf("state = %s before accept, want none", ps.State)
	}

	f.advance(t, job.ID)
	ps, _ = f.svc.PaymentStatus(ctx, job.ID)
	if ps.State != "held" {
		t.Fatalf("state = %s after accept, want held", ps.State)
	}

	if _, err := f.svc.Approve(ctx, job.ID, f.employerID); err != nil {
		t.Fatalf("approve: %v", err)
	}
	ps, _ = f.svc.PaymentStatus(ctx, job.ID)
	if ps.State != "released" {
		t.Fatalf("state = %s after approve, want released", ps.State)
	}
}

package service

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"payflow/internal/model"
	"payflow/internal/provider"
	"payflow/internal/repository"
)

// memDB is an in-memory stand-in for Postgres with read-committed visibility:
// writes are staged per transaction and applied on commit, and
// GetByIDForUpdate holds a per-account lock until the transaction ends.
type memDB struct {
	mu       sync.Mutex
	accounts map[int64]model.Account
	records  map[model.LedgerKind]map[int64]model.LedgerRecord
	nextID   int64
	locks    map[int64]*sync.Mutex
	faults   map[string][]error
	begins   int
}

func newMemDB() *memDB {
	return &memDB{
		accounts: make(map[int64]model.Account),
		records: map[model.LedgerKind]map[int64]model.LedgerRecord{
			model.KindTopUp:    {},
			model.KindWithdraw: {},
		},
		locks:  make(map[int64]*sync.Mutex),
		faults: make(map[string][]error),
	}
}

func (db *memDB) addAccount(acc model.Account) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.accounts[acc.ID] = acc
}

func (db *memDB) account(id int64) model.Account {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.accounts[id]
}

func (db *memDB) ledger(kind model.LedgerKind, accountID int64) []model.LedgerRecord {
	db.mu.Lock()
	defer db.mu.Unlock()
	var out []model.LedgerRecord
	for _, rec := range db.records[kind] {
		if rec.AccountID == accountID {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (db *memDB) beginCount() int {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.begins
}

// failNext queues errors for op. A nil entry lets one call through.
func (db *memDB) failNext(op string, errs ...error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.faults[op] = append(db.faults[op], errs...)
}

func (db *memDB) fault(op string) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	queue := db.faults[op]
	if len(queue) == 0 {
		return nil
	}
	db.faults[op] = queue[1:]
	return queue[0]
}

func (db *memDB) rowLock(id int64) *sync.Mutex {
	db.mu.Lock()
	defer db.mu.Unlock()
	l, ok := db.locks[id]
	if !ok {
		l = &sync.Mutex{}
		db.locks[id] = l
	}
	return l
}

type memTx struct {
	pgx.Tx // unused methods panic

	db       *memDB
	accounts map[int64]model.Account
	records  map[model.LedgerKind]map[int64]model.LedgerRecord
	held     []int64
	closed   bool
}

func (tx *memTx) Commit(ctx context.Context) error {
	if tx.closed {
		return pgx.ErrTxClosed
	}
	defer tx.release()
	if err := tx.db.fault("commit"); err != nil {
		return err
	}

	tx.db.mu.Lock()
	defer tx.db.mu.Unlock()
	for id, acc := range tx.accounts {
		tx.db.accounts[id] = acc
	}
	for kind, recs := range tx.records {
		for id, rec := range recs {
			tx.db.records[kind][id] = rec
		}
	}
	return nil
}

func (tx *memTx) Rollback(ctx context.Context) error {
	if tx.closed {
		return pgx.ErrTxClosed
	}
	tx.release()
	return nil
}

func (tx *memTx) release() {
	tx.closed = true
	for _, id := range tx.held {
		tx.db.rowLock(id).Unlock()
	}
	tx.held = nil
}

func (tx *memTx) lock(id int64) {
	for _, h := range tx.held {
		if h == id {
			return
		}
	}
	tx.db.rowLock(id).Lock()
	tx.held = append(tx.held, id)
}

func (tx *memTx) readAccount(id int64) (model.Account, bool) {
	if acc, ok := tx.accounts[id]; ok {
		return acc, true
	}
	tx.db.mu.Lock()
	defer tx.db.mu.Unlock()
	acc, ok := tx.db.accounts[id]
	return acc, ok
}

func (tx *memTx) readRecord(kind model.LedgerKind, id int64) (model.LedgerRecord, bool) {
	if rec, ok := tx.records[kind][id]; ok {
		return rec, true
	}
	tx.db.mu.Lock()
	defer tx.db.mu.Unlock()
	rec, ok := tx.db.records[kind][id]
	return rec, ok
}

func asTx(q repository.Querier) *memTx {
	return q.(*memTx)
}

type memAccounts struct {
	db *memDB
}

func (s memAccounts) BeginTx(ctx context.Context, iso pgx.TxIsoLevel) (pgx.Tx, error) {
	if err := s.db.fault("begin"); err != nil {
		return nil, err
	}
	s.db.mu.Lock()
	s.db.begins++
	s.db.mu.Unlock()
	return &memTx{
		db:       s.db,
		accounts: make(map[int64]model.Account),
		records: map[model.LedgerKind]map[int64]model.LedgerRecord{
			model.KindTopUp:    {},
			model.KindWithdraw: {},
		},
	}, nil
}

func (s memAccounts) GetByID(ctx context.Context, q repository.Querier, id int64) (*model.Account, error) {
	if err := s.db.fault("account.get"); err != nil {
		return nil, err
	}
	acc, ok := asTx(q).readAccount(id)
	if !ok {
		return nil, repository.ErrAccountNotFound
	}
	return &acc, nil
}

func (s memAccounts) GetByIDForUpdate(ctx context.Context, q repository.Querier, id int64) (*model.Account, error) {
	if err := s.db.fault("account.get"); err != nil {
		return nil, err
	}
	tx := asTx(q)
	tx.lock(id)
	acc, ok := tx.readAccount(id)
	if !ok {
		return nil, repository.ErrAccountNotFound
	}
	return &acc, nil
}

func (s memAccounts) Update(ctx context.Context, q repository.Querier, id int64, upd repository.AccountUpdate) error {
	if err := s.db.fault("account.update"); err != nil {
		return err
	}
	tx := asTx(q)
	acc, ok := tx.readAccount(id)
	if !ok {
		return repository.ErrAccountNotFound
	}
	if upd.Balance != nil {
		if upd.Balance.IsNegative() {
			return errors.New(`new row for relation "accounts" violates check constraint "accounts_balance_check"`)
		}
		acc.Balance.Decimal = *upd.Balance
		acc.Balance.Valid = true
	}
	if upd.Verified != nil {
		v := *upd.Verified
		acc.Verified = &v
	}
	if upd.Deactivated != nil {
		acc.Deactivated = *upd.Deactivated
	}
	tx.accounts[id] = acc
	return nil
}

type memLedger struct {
	db   *memDB
	kind model.LedgerKind
}

func (s memLedger) op(name string) string {
	return string(s.kind) + "." + name
}

func (s memLedger) Create(ctx context.Context, q repository.Querier, rec model.LedgerRecord) (int64, error) {
	if err := s.db.fault(s.op("create")); err != nil {
		return 0, err
	}
	s.db.mu.Lock()
	s.db.nextID++
	id := s.db.nextID
	s.db.mu.Unlock()

	rec.ID = id
	rec.Kind = s.kind
	rec.Status = model.StatusProcessing
	rec.CreatedAt = time.Now()
	asTx(q).records[s.kind][id] = rec
	return id, nil
}

func (s memLedger) Update(ctx context.Context, q repository.Querier, id int64, upd repository.LedgerUpdate) error {
	if err := s.db.fault(s.op("update")); err != nil {
		return err
	}
	tx := asTx(q)
	rec, ok := tx.readRecord(s.kind, id)
	if !ok || rec.Status != model.StatusProcessing {
		return repository.ErrAlreadyFinalized
	}
	rec.Status = upd.Status
	rec.NetAmount = upd.NetAmount
	rec.UpdatedAt = time.Now()
	tx.records[s.kind][id] = rec
	return nil
}

func (s memLedger) RecordOutcome(ctx context.Context, q repository.Querier, id int64, outcome model.Status, net decimal.NullDecimal) error {
	if err := s.db.fault(s.op("outcome")); err != nil {
		return err
	}
	tx := asTx(q)
	rec, ok := tx.readRecord(s.kind, id)
	if !ok || rec.Status != model.StatusProcessing {
		return repository.ErrAlreadyFinalized
	}
	rec.Outcome = outcome
	rec.NetAmount = net
	tx.records[s.kind][id] = rec
	return nil
}

func (s memLedger) IsProcessing(ctx context.Context, q repository.Querier, accountID int64) (bool, error) {
	if err := s.db.fault(s.op("isProcessing")); err != nil {
		return false, err
	}
	tx := asTx(q)
	for _, rec := range tx.records[s.kind] {
		if rec.AccountID == accountID && rec.Status == model.StatusProcessing {
			return true, nil
		}
	}
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	for _, rec := range s.db.records[s.kind] {
		if rec.AccountID == accountID && rec.Status == model.StatusProcessing {
			return true, nil
		}
	}
	return false, nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	topics []string
	events []model.LedgerEvent
}

func (p *recordingPublisher) PublishLedgerEvent(ctx context.Context, topic string, ev model.LedgerEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.topics = append(p.topics, topic)
	p.events = append(p.events, ev)
	return nil
}

func (p *recordingPublisher) snapshot() ([]string, []model.LedgerEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.topics...), append([]model.LedgerEvent(nil), p.events...)
}

// gatedProvider blocks inside the provider call until release is closed.
type gatedProvider struct {
	provider.Provider
	started chan struct{}
	release chan struct{}
}

func newGatedProvider(inner provider.Provider) *gatedProvider {
	return &gatedProvider{
		Provider: inner,
		started:  make(chan struct{}, 64),
		release:  make(chan struct{}),
	}
}

func (g *gatedProvider) Withdraw(ctx context.Context, amount decimal.Decimal) (provider.Response, error) {
	g.started <- struct{}{}
	<-g.release
	return g.Provider.Withdraw(ctx, amount)
}

func (g *gatedProvider) TopUp(ctx context.Context, amount decimal.Decimal) (provider.Response, error) {
	g.started <- struct{}{}
	<-g.release
	return g.Provider.TopUp(ctx, amount)
}

// countingProvider records how many times the provider was charged.
type countingProvider struct {
	provider.Provider
	mu    sync.Mutex
	calls int
}

func (c *countingProvider) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func (c *countingProvider) Withdraw(ctx context.Context, amount decimal.Decimal) (provider.Response, error) {
	c.mu.Lock()
	c.calls++
	c.mu.Unlock()
	return c.Provider.Withdraw(ctx, amount)
}

func (c *countingProvider) TopUp(ctx context.Context, amount decimal.Decimal) (provider.Response, error) {
	c.mu.Lock()
	c.calls++
	c.mu.Unlock()
	return c.Provider.TopUp(ctx, amount)
}

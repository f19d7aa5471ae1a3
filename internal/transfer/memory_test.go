package transfer

import (
	"context"
	"maps"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/stocktransfer/internal/identity"
	"github.com/odyssey-erp/stocktransfer/internal/inventory"
)

// memoryStore runs each transaction on a snapshot taken under mu and merges
// its writes back under mu once fn succeeds. fn runs unlocked, so concurrent
// transactions only stay apart when the engine's locker keeps them apart.
type memoryStore struct {
	mu         sync.Mutex
	transfers  map[int64]Transfer
	entries    []inventory.Entry
	seq        map[string]int
	lastID     int64
	failUpdate error
	// onHandHook runs inside a transaction before each on-hand read.
	onHandHook func()
}

func newMemoryStore() *memoryStore {
	return &memoryStore{transfers: map[int64]Transfer{}, seq: map[string]int{}}
}

func (s *memoryStore) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	s.mu.Lock()
	tx := &memoryTx{
		store:     s,
		transfers: maps.Clone(s.transfers),
		entries:   slices.Clone(s.entries),
		seq:       maps.Clone(s.seq),
		written:   map[int64]bool{},
	}
	tx.base = len(tx.entries)
	s.mu.Unlock()

	if err := fn(ctx, tx); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, tx.entries[tx.base:]...)
	for id := range tx.written {
		if t, ok := tx.transfers[id]; ok {
			s.transfers[id] = t
		} else {
			delete(s.transfers, id)
		}
	}
	for day, n := range tx.seq {
		s.seq[day] = max(s.seq[day], n)
	}
	return nil
}

func (s *memoryStore) nextID() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastID++
	return s.lastID
}

func (s *memoryStore) Get(ctx context.Context, companyID, id int64) (Transfer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.transfers[id]
	if !ok || t.CompanyID != companyID {
		return Transfer{}, ErrNotFound
	}
	return cloneTransfer(t), nil
}

func (s *memoryStore) List(ctx context.Context, filter ListFilter) ([]Transfer, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var matched []Transfer
	for _, t := range s.transfers {
		if t.CompanyID != filter.CompanyID {
			continue
		}
		if filter.Status != "" && t.Status != filter.Status {
			continue
		}
		if filter.WarehouseID > 0 && t.SourceWarehouseID != filter.WarehouseID && t.DestinationWarehouseID != filter.WarehouseID {
			continue
		}
		matched = append(matched, cloneTransfer(t))
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].ID > matched[j].ID })
	total := len(matched)
	if filter.Offset >= total {
		return nil, total, nil
	}
	end := min(filter.Offset+filter.Limit, total)
	return matched[filter.Offset:end], total, nil
}

func (s *memoryStore) LedgerEntries(ctx context.Context, transferID int64) ([]inventory.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []inventory.Entry
	for _, e := range s.entries {
		if e.RefModule == inventory.RefModuleTransfer && e.RefID == transferID {
			out = append(out, e)
		}
	}
	return out, nil
}

// put stores a transfer directly, bypassing the engine.
func (s *memoryStore) put(t Transfer) Transfer {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastID++
	t.ID = s.lastID
	for i := range t.Lines {
		s.lastID++
		t.Lines[i].ID = s.lastID
		t.Lines[i].TransferID = t.ID
		t.Lines[i].LineNo = i + 1
	}
	s.transfers[t.ID] = cloneTransfer(t)
	return t
}

func (s *memoryStore) seed(productID, warehouseID int64, q string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastID++
	s.entries = append(s.entries, inventory.Entry{
		ID:          s.lastID,
		ProductID:   productID,
		WarehouseID: warehouseID,
		Kind:        inventory.KindOpeningBalance,
		QtyChange:   decimal.RequireFromString(q),
		RefModule:   inventory.RefModuleAdjustment,
	})
}

func (s *memoryStore) onHand(productID, warehouseID int64) decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return sumEntries(s.entries, productID, warehouseID)
}

func (s *memoryStore) transferEntries(transferID int64, kind inventory.Kind) []inventory.Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []inventory.Entry
	for _, e := range s.entries {
		if e.RefModule == inventory.RefModuleTransfer && e.RefID == transferID && e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}

type memoryTx struct {
	store     *memoryStore
	transfers map[int64]Transfer
	entries   []inventory.Entry
	seq       map[string]int
	base      int
	written   map[int64]bool
}

func (tx *memoryTx) GetForUpdate(ctx context.Context, companyID, id int64) (Transfer, error) {
	t, ok := tx.transfers[id]
	if !ok || t.CompanyID != companyID {
		return Transfer{}, ErrNotFound
	}
	return cloneTransfer(t), nil
}

func (tx *memoryTx) NextNumber(ctx context.Context, companyID int64, day time.Time) (string, error) {
	key := day.Format("2006-01-02")
	tx.seq[key]++
	return FormatNumber(day, tx.seq[key]), nil
}

func (tx *memoryTx) Insert(ctx context.Context, t *Transfer) error {
	t.ID = tx.store.nextID()
	for i := range t.Lines {
		t.Lines[i].ID = tx.store.nextID()
		t.Lines[i].TransferID = t.ID
	}
	tx.transfers[t.ID] = cloneTransfer(*t)
	tx.written[t.ID] = true
	return nil
}

func (tx *memoryTx) Update(ctx context.Context, t *Transfer) error {
	if tx.store.failUpdate != nil {
		return tx.store.failUpdate
	}
	if _, ok := tx.transfers[t.ID]; !ok {
		return ErrNotFound
	}
	tx.transfers[t.ID] = cloneTransfer(*t)
	tx.written[t.ID] = true
	return nil
}

func (tx *memoryTx) Delete(ctx context.Context, id int64) error {
	delete(tx.transfers, id)
	tx.written[id] = true
	return nil
}

func (tx *memoryTx) Ledger() inventory.Ledger { return tx }

func (tx *memoryTx) Append(ctx context.Context, entries ...inventory.Entry) ([]inventory.Entry, error) {
	out := make([]inventory.Entry, 0, len(entries))
	for _, e := range entries {
		e.ID = tx.store.nextID()
		tx.entries = append(tx.entries, e)
		out = append(out, e)
	}
	return out, nil
}

func (tx *memoryTx) OnHand(ctx context.Context, productID, warehouseID int64) (decimal.Decimal, error) {
	if tx.store.onHandHook != nil {
		tx.store.onHandHook()
	}
	return sumEntries(tx.entries, productID, warehouseID), nil
}

func (tx *memoryTx) HasEntries(ctx context.Context, refModule string, refID int64, kind inventory.Kind) (bool, error) {
	for _, e := range tx.entries {
		if e.RefModule == refModule && e.RefID == refID && e.Kind == kind {
			return true, nil
		}
	}
	return false, nil
}

func sumEntries(entries []inventory.Entry, productID, warehouseID int64) decimal.Decimal {
	total := decimal.Zero
	for _, e := range entries {
		if e.ProductID == productID && e.WarehouseID == warehouseID {
			total = total.Add(e.QtyChange)
		}
	}
	return total
}

func cloneTransfer(t Transfer) Transfer {
	t.Lines = slices.Clone(t.Lines)
	return t
}

type memoryDirectory struct {
	warehouses  map[int64]identity.Warehouse
	costCenters map[int64]int64
}

func (d *memoryDirectory) Warehouse(ctx context.Context, companyID, id int64) (identity.Warehouse, error) {
	wh, ok := d.warehouses[id]
	if !ok || wh.CompanyID != companyID {
		return identity.Warehouse{}, identity.ErrWarehouseNotFound
	}
	return wh, nil
}

func (d *memoryDirectory) DefaultCostCenter(ctx context.Context, branchID int64) (int64, error) {
	id, ok := d.costCenters[branchID]
	if !ok {
		return 0, identity.ErrNoDefaultCostCenter
	}
	return id, nil
}

type recordingPublisher struct {
	mu   sync.Mutex
	msgs []Message
	err  error
}

func (p *recordingPublisher) Publish(ctx context.Context, msg Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgs = append(p.msgs, msg)
	return p.err
}

func (p *recordingPublisher) events() []Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Event, 0, len(p.msgs))
	for _, m := range p.msgs {
		out = append(out, m.Event)
	}
	return out
}

// Warehouses 1 and 2 sit on branches 10 and 20 with cost centers. Warehouse 3
// sits on branch 30, which has none.
func newDirectory() *memoryDirectory {
	return &memoryDirectory{
		warehouses: map[int64]identity.Warehouse{
			1: {ID: 1, CompanyID: 1, BranchID: 10, Code: "WH-A", Name: "Central"},
			2: {ID: 2, CompanyID: 1, BranchID: 20, Code: "WH-B", Name: "North"},
			3: {ID: 3, CompanyID: 1, BranchID: 30, Code: "WH-C", Name: "Annex"},
			9: {ID: 9, CompanyID: 2, BranchID: 90, Code: "WH-X", Name: "Elsewhere"},
		},
		costCenters: map[int64]int64{10: 110, 20: 120, 90: 190},
	}
}

var (
	owner        = identity.Actor{UserID: 1, CompanyID: 1, Role: identity.RoleOwner, BranchID: 10}
	srcManager   = identity.Actor{UserID: 2, CompanyID: 1, Role: identity.RoleManager, BranchID: 10}
	srcKeeper    = identity.Actor{UserID: 3, CompanyID: 1, Role: identity.RoleWarehouseManager, BranchID: 10, WarehouseID: 1}
	dstKeeper    = identity.Actor{UserID: 4, CompanyID: 1, Role: identity.RoleWarehouseManager, BranchID: 20, WarehouseID: 2}
	dstManager   = identity.Actor{UserID: 5, CompanyID: 1, Role: identity.RoleManager, BranchID: 20}
	viewer       = identity.Actor{UserID: 6, CompanyID: 1, Role: identity.RoleViewer, BranchID: 10}
	outsider     = identity.Actor{UserID: 7, CompanyID: 2, Role: identity.RoleOwner, BranchID: 90}
	annexKeeper  = identity.Actor{UserID: 8, CompanyID: 1, Role: identity.RoleWarehouseManager, BranchID: 30, WarehouseID: 3}
	dstAdmin     = identity.Actor{UserID: 9, CompanyID: 1, Role: identity.RoleAdmin, BranchID: 20, WarehouseID: 2}
	otherManager = identity.Actor{UserID: 10, CompanyID: 1, Role: identity.RoleManager, BranchID: 30}
)

var testNow = time.Date(2024, 3, 5, 9, 30, 0, 0, time.UTC)

func newTestEngine(cfg Config) (*Engine, *memoryStore, *recordingPublisher) {
	store := newMemoryStore()
	pub := &recordingPublisher{}
	engine := NewEngine(store, newDirectory(), nil, pub, nil, nil, cfg)
	engine.now = func() time.Time { return testNow }
	return engine, store, pub
}

func qty(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func createInput(src, dst int64, submit bool, lines ...LineInput) CreateInput {
	return CreateInput{SourceWarehouseID: src, DestinationWarehouseID: dst, Submit: submit, Lines: lines}
}

func line(productID int64, q string) LineInput {
	return LineInput{ProductID: productID, QtyRequested: qty(q)}
}

package core

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-process Store and RunStore with the same uniqueness,
// foreign-key and merge rules as the Postgres schema. Transactions are
// serialized; each works on a private copy published on Commit.
type MemoryStore struct {
	// NoSavepoints makes the store report that savepoints are unsupported,
	// so the committer falls back to whole-batch rollback.
	NoSavepoints bool

	txMu sync.Mutex // held for the lifetime of a transaction

	mu   sync.RWMutex
	data memData
	runs map[string]*ImportRun
}

type memData struct {
	customers map[uuid.UUID]CustomerRecord
	contracts map[uuid.UUID]ContractRecord
}

func (d memData) clone() memData {
	return memData{
		customers: maps.Clone(d.customers),
		contracts: maps.Clone(d.contracts),
	}
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		data: memData{
			customers: make(map[uuid.UUID]CustomerRecord),
			contracts: make(map[uuid.UUID]ContractRecord),
		},
		runs: make(map[string]*ImportRun),
	}
}

// SupportsSavepoints implements Store.
func (s *MemoryStore) SupportsSavepoints() bool { return !s.NoSavepoints }

// LookupCustomers implements Store.
func (s *MemoryStore) LookupCustomers(ctx context.Context, q CustomerLookup) ([]CustomerRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return lookupCustomers(s.data, q), nil
}

func lookupCustomers(d memData, q CustomerLookup) []CustomerRecord {
	fiscal := toSet(q.FiscalCodes)
	vat := toSet(q.VATNumbers)
	email := toSet(q.Emails)
	code := toSet(q.CustomerCodes)

	var out []CustomerRecord
	for _, c := range d.customers {
		if (c.FiscalCode != "" && fiscal[c.FiscalCode]) ||
			(c.VATNumber != "" && vat[c.VATNumber]) ||
			(c.Email != "" && email[NormalizeEmail(c.Email)]) ||
			(c.CustomerCode != "" && code[c.CustomerCode]) {
			out = append(out, cloneCustomer(c))
		}
	}
	sortCustomers(out)
	return out
}

// LookupContracts implements Store.
func (s *MemoryStore) LookupContracts(ctx context.Context, supplyPoints []string) ([]ContractRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	want := toSet(supplyPoints)

	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []ContractRecord
	for _, c := range s.data.contracts {
		if want[c.SupplyPoint] {
			out = append(out, cloneContract(c))
		}
	}
	sortContracts(out)
	return out, nil
}

// Begin implements Store. It blocks while another transaction is open.
func (s *MemoryStore) Begin(ctx context.Context) (StoreTx, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.txMu.Lock()
	s.mu.RLock()
	work := s.data.clone()
	s.mu.RUnlock()
	return &memTx{store: s, work: work}, nil
}

// Customers returns every stored customer, ordered by id.
func (s *MemoryStore) Customers() []CustomerRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]CustomerRecord, 0, len(s.data.customers))
	for _, c := range s.data.customers {
		out = append(out, cloneCustomer(c))
	}
	sortCustomers(out)
	return out
}

// Contracts returns every stored contract, ordered by id.
func (s *MemoryStore) Contracts() []ContractRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ContractRecord, 0, len(s.data.contracts))
	for _, c := range s.data.contracts {
		out = append(out, cloneContract(c))
	}
	sortContracts(out)
	return out
}

// ----------------------------------------------------------------------------
// Transactions
// ----------------------------------------------------------------------------

type memTx struct {
	store      *MemoryStore
	work       memData
	savepoints []memSavepoint
	done       bool
}

type memSavepoint struct {
	name string
	data memData
}

var (
	errTxDone          = errors.New("transaction already closed")
	errCustomerMissing = errors.New("customer does not exist")
	errKindMismatch    = errors.New("natural key belongs to a customer of another kind")
)

// kindMismatch rejects an upsert whose natural key is held by a customer of
// the other kind. Neither store merges across kinds.
func kindMismatch(c *CustomerRecord) *ConstraintError {
	key := c.FiscalCode
	if c.Kind == KindCompanyCustomer {
		key = c.VATNumber
	}
	return &ConstraintError{Constraint: "customers_kind_match", Key: key, Err: errKindMismatch}
}

func (tx *memTx) InsertCustomer(ctx context.Context, c *CustomerRecord) (WriteResult, error) {
	if tx.done {
		return WriteResult{}, errTxDone
	}
	if err := checkCustomerNotNull(c); err != nil {
		return WriteResult{}, err
	}

	for id, existing := range tx.work.customers {
		if sameCustomerKey(existing, c) {
			if existing.Kind != c.Kind {
				return WriteResult{}, kindMismatch(c)
			}
			merged := mergeCustomer(existing, c)
			if err := tx.checkCustomerUnique(merged); err != nil {
				return WriteResult{}, err
			}
			tx.work.customers[id] = merged
			return WriteResult{ID: id}, nil
		}
	}

	rec := cloneCustomer(*c)
	rec.ID = uuid.New()
	if err := tx.checkCustomerUnique(rec); err != nil {
		return WriteResult{}, err
	}
	tx.work.customers[rec.ID] = rec
	return WriteResult{ID: rec.ID, Inserted: true}, nil
}

func (tx *memTx) UpdateCustomer(ctx context.Context, c *CustomerRecord) (WriteResult, error) {
	if tx.done {
		return WriteResult{}, errTxDone
	}
	existing, ok := tx.work.customers[c.ID]
	if !ok {
		return WriteResult{}, &ConstraintError{Constraint: "customers_pkey", Key: c.ID.String(), Err: errCustomerMissing}
	}
	merged := mergeCustomer(existing, c)
	if err := tx.checkCustomerUnique(merged); err != nil {
		return WriteResult{}, err
	}
	tx.work.customers[c.ID] = merged
	return WriteResult{ID: c.ID}, nil
}

func (tx *memTx) UpsertContract(ctx context.Context, c *ContractRecord) (WriteResult, error) {
	if tx.done {
		return WriteResult{}, errTxDone
	}
	if c.SupplyPoint == "" {
		return WriteResult{}, &ConstraintError{Constraint: "contracts_supply_point_not_null"}
	}
	if c.CustomerID == uuid.Nil {
		return WriteResult{}, &ConstraintError{Constraint: "contracts_customer_id_not_null", Key: c.SupplyPoint}
	}
	if _, ok := tx.work.customers[c.CustomerID]; !ok {
		return WriteResult{}, &ConstraintError{Constraint: "contracts_customer_id_fkey", Key: c.SupplyPoint}
	}

	for id, existing := range tx.work.contracts {
		if existing.SupplyPoint == c.SupplyPoint {
			tx.work.contracts[id] = mergeContract(existing, c)
			return WriteResult{ID: id}, nil
		}
	}

	rec := cloneContract(*c)
	rec.ID = uuid.New()
	tx.work.contracts[rec.ID] = rec
	return WriteResult{ID: rec.ID, Inserted: true}, nil
}

func (tx *memTx) FindCustomer(ctx context.Context, ref CustomerRef) ([]uuid.UUID, error) {
	if tx.done {
		return nil, errTxDone
	}
	return findCustomerIDs(lookupCustomers(tx.work, refLookup(ref))), nil
}

func (tx *memTx) Savepoint(ctx context.Context, name string) error {
	if tx.done {
		return errTxDone
	}
	tx.savepoints = append(tx.savepoints, memSavepoint{name: name, data: tx.work.clone()})
	return nil
}

func (tx *memTx) RollbackTo(ctx context.Context, name string) error {
	i := tx.findSavepoint(name)
	if i < 0 {
		return fmt.Errorf("savepoint %s does not exist", name)
	}
	tx.work = tx.savepoints[i].data.clone()
	tx.savepoints = tx.savepoints[:i+1]
	return nil
}

func (tx *memTx) Release(ctx context.Context, name string) error {
	i := tx.findSavepoint(name)
	if i < 0 {
		return fmt.Errorf("savepoint %s does not exist", name)
	}
	tx.savepoints = tx.savepoints[:i]
	return nil
}

func (tx *memTx) findSavepoint(name string) int {
	for i := len(tx.savepoints) - 1; i >= 0; i-- {
		if tx.savepoints[i].name == name {
			return i
		}
	}
	return -1
}

func (tx *memTx) Commit(ctx context.Context) error {
	if tx.done {
		return errTxDone
	}
	tx.done = true
	tx.store.mu.Lock()
	tx.store.data = tx.work
	tx.store.mu.Unlock()
	tx.store.txMu.Unlock()
	return nil
}

// Rollback discards the transaction. Safe to call after Commit.
func (tx *memTx) Rollback(ctx context.Context) error {
	if tx.done {
		return nil
	}
	tx.done = true
	tx.store.txMu.Unlock()
	return nil
}

func (tx *memTx) checkCustomerUnique(c CustomerRecord) error {
	for id, other := range tx.work.customers {
		if id == c.ID {
			continue
		}
		switch {
		case c.FiscalCode != "" && other.FiscalCode == c.FiscalCode:
			return &ConstraintError{Constraint: "customers_fiscal_code_key", Key: c.FiscalCode}
		case c.VATNumber != "" && other.VATNumber == c.VATNumber:
			return &ConstraintError{Constraint: "customers_vat_number_key", Key: c.VATNumber}
		case c.CustomerCode != "" && other.CustomerCode == c.CustomerCode:
			return &ConstraintError{Constraint: "customers_customer_code_key", Key: c.CustomerCode}
		}
	}
	return nil
}

func checkCustomerNotNull(c *CustomerRecord) error {
	switch {
	case c.Kind == KindPrivateCustomer && c.FiscalCode == "":
		return &ConstraintError{Constraint: "customers_private_fiscal_code_check"}
	case c.Kind == KindCompanyCustomer && c.VATNumber == "":
		return &ConstraintError{Constraint: "customers_company_vat_number_check"}
	case !c.Kind.IsCustomer():
		return &ConstraintError{Constraint: "customers_kind_check", Key: string(c.Kind)}
	}
	return nil
}

// sameCustomerKey reports whether c targets existing through its natural key.
// Kinds are not compared; InsertCustomer rejects a mismatch.
func sameCustomerKey(existing CustomerRecord, c *CustomerRecord) bool {
	switch c.Kind {
	case KindPrivateCustomer:
		return c.FiscalCode != "" && existing.FiscalCode == c.FiscalCode
	case KindCompanyCustomer:
		return c.VATNumber != "" && existing.VATNumber == c.VATNumber
	}
	return false
}

// ----------------------------------------------------------------------------
// Runs
// ----------------------------------------------------------------------------

// SaveRun implements RunStore.
func (s *MemoryStore) SaveRun(ctx context.Context, run *ImportRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[run.ID] = run.Clone()
	return nil
}

// GetRun implements RunStore.
func (s *MemoryStore) GetRun(ctx context.Context, id string) (*ImportRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[id]
	if !ok {
		return nil, ErrRunNotFound
	}
	return run.Clone(), nil
}

// ListRuns implements RunStore.
func (s *MemoryStore) ListRuns(ctx context.Context, limit int) ([]*ImportRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*ImportRun, 0, len(s.runs))
	for _, r := range s.runs {
		c := r.Clone()
		c.Outcomes = nil
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// DeleteRunsBefore implements RunStore.
func (s *MemoryStore) DeleteRunsBefore(ctx context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, r := range s.runs {
		if r.Status.Finished() && r.StartedAt.Before(before) {
			delete(s.runs, id)
			n++
		}
	}
	return n, nil
}

// MarkInterrupted implements RunStore.
func (s *MemoryStore) MarkInterrupted(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, r := range s.runs {
		if r.Status == RunRunning {
			r.Status = RunInterrupted
			n++
		}
	}
	return n, nil
}

// ----------------------------------------------------------------------------
// Helpers shared with the other stores
// ----------------------------------------------------------------------------

// mergeCustomer applies the non-empty fields of src over dst.
func mergeCustomer(dst CustomerRecord, src *CustomerRecord) CustomerRecord {
	out := cloneCustomer(dst)
	setStr := func(d *string, s string) {
		if s != "" {
			*d = s
		}
	}
	setStr(&out.FiscalCode, src.FiscalCode)
	setStr(&out.VATNumber, src.VATNumber)
	setStr(&out.CustomerCode, src.CustomerCode)
	setStr(&out.Email, src.Email)
	setStr(&out.FirstName, src.FirstName)
	setStr(&out.LastName, src.LastName)
	setStr(&out.CompanyName, src.CompanyName)
	setStr(&out.Phone, src.Phone)
	setStr(&out.Address, src.Address)
	setStr(&out.City, src.City)
	setStr(&out.Province, src.Province)
	setStr(&out.PostalCode, src.PostalCode)
	setStr(&out.RunID, src.RunID)
	if src.BirthDate != nil {
		out.BirthDate = src.BirthDate
	}
	if src.PrivacyConsent != nil {
		out.PrivacyConsent = src.PrivacyConsent
	}
	if len(src.Extra) > 0 {
		if out.Extra == nil {
			out.Extra = make(map[string]string, len(src.Extra))
		}
		maps.Copy(out.Extra, src.Extra)
	}
	return out
}

// mergeContract applies the non-empty fields of src over dst. The owner
// always follows src.
func mergeContract(dst ContractRecord, src *ContractRecord) ContractRecord {
	out := cloneContract(dst)
	out.CustomerID = src.CustomerID
	if src.Kind.IsContract() {
		out.Kind = src.Kind
	}
	if src.ActivationDate != nil {
		out.ActivationDate = src.ActivationDate
	}
	if src.EndDate != nil {
		out.EndDate = src.EndDate
	}
	if src.Supplier != "" {
		out.Supplier = src.Supplier
	}
	if src.OfferName != "" {
		out.OfferName = src.OfferName
	}
	if src.AnnualConsumption.Valid {
		out.AnnualConsumption = src.AnnualConsumption
	}
	if src.ContractedPower.Valid {
		out.ContractedPower = src.ContractedPower
	}
	if src.SupplyUse != "" {
		out.SupplyUse = src.SupplyUse
	}
	if src.GreenEnergy != nil {
		out.GreenEnergy = src.GreenEnergy
	}
	if src.RunID != "" {
		out.RunID = src.RunID
	}
	if len(src.Extra) > 0 {
		if out.Extra == nil {
			out.Extra = make(map[string]string, len(src.Extra))
		}
		maps.Copy(out.Extra, src.Extra)
	}
	return out
}

func cloneCustomer(c CustomerRecord) CustomerRecord {
	c.Extra = maps.Clone(c.Extra)
	return c
}

func cloneContract(c ContractRecord) ContractRecord {
	c.Extra = maps.Clone(c.Extra)
	return c
}

func refLookup(ref CustomerRef) CustomerLookup {
	var q CustomerLookup
	if ref.CustomerCode != "" {
		q.CustomerCodes = []string{ref.CustomerCode}
	}
	if ref.FiscalCode != "" {
		q.FiscalCodes = []string{ref.FiscalCode}
		// An 11-digit fiscal code is a company's VAT number.
		if IsVATNumber(ref.FiscalCode) {
			q.VATNumbers = append(q.VATNumbers, ref.FiscalCode)
		}
	}
	if ref.VATNumber != "" {
		q.VATNumbers = append(q.VATNumbers, ref.VATNumber)
	}
	if ref.Email != "" {
		q.Emails = []string{ref.Email}
	}
	return q
}

func findCustomerIDs(matches []CustomerRecord) []uuid.UUID {
	seen := make(map[uuid.UUID]bool, len(matches))
	var ids []uuid.UUID
	for _, m := range matches {
		if !seen[m.ID] {
			seen[m.ID] = true
			ids = append(ids, m.ID)
		}
	}
	return ids
}

func toSet(vals []string) map[string]bool {
	set := make(map[string]bool, len(vals))
	for _, v := range vals {
		if v != "" {
			set[v] = true
		}
	}
	return set
}

func sortCustomers(cs []CustomerRecord) {
	sort.Slice(cs, func(i, j int) bool { return cs[i].ID.String() < cs[j].ID.String() })
}

func sortContracts(cs []ContractRecord) {
	sort.Slice(cs, func(i, j int) bool { return cs[i].ID.String() < cs[j].ID.String() })
}

package core

// commit.go writes resolved records in transactional batches.
//
// Each batch is one transaction. With savepoint support every record runs
// inside its own savepoint, so a rejected record is rolled back alone.
// Without it, the first rejection rolls back the whole batch and every
// record in it is reported failed.
//
// Pending ids assigned inside a batch are promoted to the run only after
// the batch commits; a contract never points at an uncommitted customer.

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"

	"github.com/google/uuid"
)

// Committer writes resolved records to a Store.
type Committer struct {
	store     Store
	batchSize int
	dryRun    bool
	proj      *projection // dry-run state, shared across batches
}

// NewCommitter returns a committer. batchSize <= 0 selects DefaultBatchSize.
func NewCommitter(store Store, batchSize int, dryRun bool) *Committer {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	c := &Committer{store: store, batchSize: batchSize, dryRun: dryRun}
	if dryRun {
		c.proj = newProjection(store)
	}
	return c
}

// rowResult is the staged outcome of one record inside a batch.
type rowResult struct {
	row     int
	outcome RowOutcome
}

// Commit writes resolved in batches. Cancellation is honoured between
// batches only: remaining records are reported skipped and ErrCancelled is
// returned. Any other error is an infrastructure failure of the run.
func (c *Committer) Commit(ctx context.Context, run *runState, resolved []Resolved) error {
	for start := 0; start < len(resolved); start += c.batchSize {
		if ctx.Err() != nil || run.cancelRequested() {
			rest := make([]rowResult, 0, len(resolved)-start)
			for _, r := range resolved[start:] {
				rest = append(rest, rowResult{row: r.Row, outcome: skippedOutcome(r,
					warning(CodeRunCancelled, "", "run cancelled before this record was committed"))})
			}
			run.finishRows(rest)
			return ErrCancelled
		}

		end := min(start+c.batchSize, len(resolved))
		batch := resolved[start:end]

		// A started batch always runs to completion.
		results, err := c.commitBatch(context.WithoutCancel(ctx), run, batch)
		if err != nil {
			return fmt.Errorf("batch %d-%d: %w", start, end, err)
		}
		run.finishRows(results)
		run.batchDone(ctx, end)
	}
	return nil
}

func (c *Committer) begin(ctx context.Context) (StoreTx, error) {
	if c.dryRun {
		return c.proj.begin(), nil
	}
	return c.store.Begin(ctx)
}

func (c *Committer) commitBatch(ctx context.Context, run *runState, batch []Resolved) ([]rowResult, error) {
	tx, err := c.begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	savepoints := c.dryRun || c.store.SupportsSavepoints()
	local := make(map[int]uuid.UUID)
	results := make([]rowResult, 0, len(batch))

	for i, r := range batch {
		if !savepoints {
			out, werr := c.commitOne(ctx, tx, run, local, r)
			if werr != nil {
				return c.failBatch(ctx, tx, batch, i, werr)
			}
			results = append(results, rowResult{row: r.Row, outcome: out})
			continue
		}

		sp := fmt.Sprintf("sp_%d", i)
		if err := tx.Savepoint(ctx, sp); err != nil {
			return nil, fmt.Errorf("savepoint: %w", err)
		}
		staged := maps.Clone(local)
		out, werr := c.commitOne(ctx, tx, run, local, r)
		if werr != nil {
			if err := tx.RollbackTo(ctx, sp); err != nil {
				return nil, fmt.Errorf("rollback to savepoint: %w (after %v)", err, werr)
			}
			local = staged
			out = failedOutcome(r, writeIssue(werr))
		}
		if err := tx.Release(ctx, sp); err != nil {
			return nil, fmt.Errorf("release savepoint: %w", err)
		}
		results = append(results, rowResult{row: r.Row, outcome: out})
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	for temp, id := range local {
		run.pendingIDs[temp] = id
	}
	return results, nil
}

// failBatch rolls back a batch after a rejection when savepoints are
// unavailable. The rejected record gets the store's reason; the others are
// failed with a reference to it.
func (c *Committer) failBatch(ctx context.Context, tx StoreTx, batch []Resolved, failedAt int, werr error) ([]rowResult, error) {
	if err := tx.Rollback(ctx); err != nil {
		return nil, fmt.Errorf("rollback: %w (after %v)", err, werr)
	}
	cause := writeIssue(werr)
	results := make([]rowResult, 0, len(batch))
	for i, r := range batch {
		is := cause
		if i != failedAt {
			is = issue(cause.Code, "", "batch rolled back: line %d: %s", batch[failedAt].Record.SourceLine, cause.Message)
		}
		results = append(results, rowResult{row: r.Row, outcome: failedOutcome(r, is)})
	}
	slog.Warn("batch rolled back", "records", len(batch), "line", batch[failedAt].Record.SourceLine, "error", werr)
	return results, nil
}

// errOrphan marks a contract whose owner cannot be resolved at commit time.
type errOrphan struct{ issue Issue }

func (e *errOrphan) Error() string { return e.issue.Message }

// commitOne writes one record. Returned errors are record-level; an
// errOrphan is turned into a skipped outcome here.
func (c *Committer) commitOne(ctx context.Context, tx StoreTx, run *runState, local map[int]uuid.UUID, r Resolved) (RowOutcome, error) {
	pendingID := func(temp int) (uuid.UUID, bool) {
		if id, ok := local[temp]; ok {
			return id, true
		}
		id, ok := run.pendingIDs[temp]
		return id, ok
	}

	var (
		res WriteResult
		err error
	)
	switch {
	case r.Record.Kind.IsCustomer():
		rec := buildCustomer(r.Record, run.id)
		switch {
		case r.Entity.State == StateExisting:
			rec.ID = r.Entity.ID
			res, err = tx.UpdateCustomer(ctx, rec)
		default:
			if id, ok := pendingID(r.Entity.TempID); ok {
				rec.ID = id
				res, err = tx.UpdateCustomer(ctx, rec)
			} else {
				res, err = tx.InsertCustomer(ctx, rec)
				if err == nil {
					local[r.Entity.TempID] = res.ID
				}
			}
		}

	case r.Record.Kind.IsContract():
		owner, oerr := c.resolveOwner(ctx, tx, r, pendingID)
		if oerr != nil {
			var orphanErr *errOrphan
			if errors.As(oerr, &orphanErr) {
				return skippedOutcome(r, orphanErr.issue), nil
			}
			return RowOutcome{}, oerr
		}
		rec := buildContract(r.Record, owner, run.id)
		res, err = tx.UpsertContract(ctx, rec)
		if err == nil && r.Entity.State == StatePending {
			if _, ok := pendingID(r.Entity.TempID); !ok {
				local[r.Entity.TempID] = res.ID
			}
		}

	default:
		return RowOutcome{}, fmt.Errorf("cannot commit record kind %q", r.Record.Kind)
	}
	if err != nil {
		return RowOutcome{}, err
	}

	out := RowOutcome{
		SourceLine: r.Record.SourceLine,
		Kind:       r.Record.Kind,
		Status:     StatusUpdated,
		Warnings:   r.Warnings,
	}
	if res.Inserted {
		out.Status = StatusInserted
	}
	if res.ID != uuid.Nil && !(c.dryRun && c.proj.projected(res.ID)) {
		out.EntityID = res.ID.String()
	}
	return out, nil
}

// resolveOwner returns the customer id a contract links to.
func (c *Committer) resolveOwner(ctx context.Context, tx StoreTx, r Resolved, pendingID func(int) (uuid.UUID, bool)) (uuid.UUID, error) {
	if r.Customer != nil {
		if r.Customer.State == StateExisting {
			return r.Customer.ID, nil
		}
		if id, ok := pendingID(r.Customer.TempID); ok {
			return id, nil
		}
		return uuid.Nil, &errOrphan{warning(CodeOrphanContract, "", "owning customer was not committed")}
	}

	ids, err := tx.FindCustomer(ctx, r.CustomerRef)
	if err != nil {
		return uuid.Nil, err
	}
	switch len(ids) {
	case 0:
		return uuid.Nil, &errOrphan{warning(CodeOrphanContract, "", "no stored customer matches the contract's customer fields")}
	case 1:
		return ids[0], nil
	default:
		return uuid.Nil, &ConstraintError{Constraint: "customer_reference", Key: r.CustomerRef.String(),
			Err: fmt.Errorf("%d customers match", len(ids))}
	}
}

// writeIssue converts a record-level write error into an Issue.
func writeIssue(err error) Issue {
	var ce *ConstraintError
	if errors.As(err, &ce) {
		if ce.Constraint == "customer_reference" {
			return issue(CodeConflictingID, "", "%s", ce.Error())
		}
		return issue(CodeConstraint, "", "%s", ce.Error())
	}
	return issue(CodeInternal, "", "%s", err.Error())
}

func failedOutcome(r Resolved, is Issue) RowOutcome {
	return RowOutcome{
		SourceLine: r.Record.SourceLine,
		Kind:       r.Record.Kind,
		Status:     StatusFailed,
		Errors:     []Issue{is},
		Warnings:   r.Warnings,
	}
}

func skippedOutcome(r Resolved, w Issue) RowOutcome {
	return RowOutcome{
		SourceLine: r.Record.SourceLine,
		Kind:       r.Record.Kind,
		Status:     StatusSkipped,
		Warnings:   append(append([]Issue(nil), r.Warnings...), w),
	}
}

// ----------------------------------------------------------------------------
// Record building
// ----------------------------------------------------------------------------

// buildCustomer copies the fields the record's kind accepts. Values that
// failed coercion are dropped (they only reach here with validation skipped).
func buildCustomer(rec *NormalizedRecord, runID string) *CustomerRecord {
	def, _ := Get(rec.Kind)
	c := &CustomerRecord{Kind: rec.Kind, RunID: runID, Extra: extrasCopy(rec.Extras)}
	text := func(f Field) string {
		if !def.Accepts(f) {
			return ""
		}
		return rec.Text(f)
	}
	c.FiscalCode = text(FieldFiscalCode)
	c.VATNumber = text(FieldVATNumber)
	c.CustomerCode = text(FieldCustomerCode)
	c.Email = text(FieldEmail)
	c.FirstName = text(FieldFirstName)
	c.LastName = text(FieldLastName)
	c.CompanyName = text(FieldCompanyName)
	c.Phone = text(FieldPhone)
	c.Address = text(FieldAddress)
	c.City = text(FieldCity)
	c.Province = text(FieldProvince)
	c.PostalCode = text(FieldPostalCode)
	if v, ok := rec.Fields[FieldBirthDate]; ok && v.Coerced && def.Accepts(FieldBirthDate) {
		d := v.Date
		c.BirthDate = &d
	}
	if v, ok := rec.Fields[FieldPrivacyConsent]; ok && v.Coerced && def.Accepts(FieldPrivacyConsent) {
		b := v.Bool
		c.PrivacyConsent = &b
	}
	return c
}

func buildContract(rec *NormalizedRecord, customerID uuid.UUID, runID string) *ContractRecord {
	def, _ := Get(rec.Kind)
	c := &ContractRecord{
		Kind:        rec.Kind,
		SupplyPoint: rec.Text(supplyPointField(rec.Kind)),
		CustomerID:  customerID,
		Supplier:    rec.Text(FieldSupplier),
		OfferName:   rec.Text(FieldOfferName),
		RunID:       runID,
		Extra:       extrasCopy(rec.Extras),
	}
	if v, ok := rec.Fields[FieldSupplyUse]; ok && v.Coerced {
		c.SupplyUse = v.Text
	}
	if v, ok := rec.Fields[FieldActivationDate]; ok && v.Coerced {
		d := v.Date
		c.ActivationDate = &d
	}
	if v, ok := rec.Fields[FieldEndDate]; ok && v.Coerced {
		d := v.Date
		c.EndDate = &d
	}
	if v, ok := rec.Fields[FieldAnnualConsumption]; ok && v.Coerced {
		c.AnnualConsumption.Decimal, c.AnnualConsumption.Valid = v.Decimal, true
	}
	if v, ok := rec.Fields[FieldContractedPower]; ok && v.Coerced && def.Accepts(FieldContractedPower) {
		c.ContractedPower.Decimal, c.ContractedPower.Valid = v.Decimal, true
	}
	if v, ok := rec.Fields[FieldGreenEnergy]; ok && v.Coerced {
		b := v.Bool
		c.GreenEnergy = &b
	}
	return c
}

func extrasCopy(m map[string]string) map[string]string {
	if len(m) == 0 {
		return nil
	}
	return maps.Clone(m)
}

// ----------------------------------------------------------------------------
// Dry-run projection
// ----------------------------------------------------------------------------

// projection is the write-free view used by dry runs: reads go to the
// store, writes land in an in-memory overlay that later batches can see.
type projection struct {
	store Store
	data  memData
}

func newProjection(store Store) *projection {
	return &projection{
		store: store,
		data: memData{
			customers: make(map[uuid.UUID]CustomerRecord),
			contracts: make(map[uuid.UUID]ContractRecord),
		},
	}
}

// projected reports whether id was invented by the projection.
func (p *projection) projected(id uuid.UUID) bool {
	_, cust := p.data.customers[id]
	_, contr := p.data.contracts[id]
	return cust || contr
}

func (p *projection) begin() StoreTx {
	return &projectingTx{p: p}
}

type projectingTx struct {
	p *projection
}

func (t *projectingTx) InsertCustomer(ctx context.Context, c *CustomerRecord) (WriteResult, error) {
	var q CustomerLookup
	switch c.Kind {
	case KindPrivateCustomer:
		q.FiscalCodes = []string{c.FiscalCode}
	case KindCompanyCustomer:
		q.VATNumbers = []string{c.VATNumber}
	}
	if !q.Empty() {
		for _, m := range append(lookupCustomers(t.p.data, q), t.storeMatches(ctx, q)...) {
			if sameCustomerKey(m, c) {
				return WriteResult{ID: m.ID}, nil
			}
		}
	}
	rec := cloneCustomer(*c)
	rec.ID = uuid.New()
	t.p.data.customers[rec.ID] = rec
	return WriteResult{ID: rec.ID, Inserted: true}, nil
}

func (t *projectingTx) storeMatches(ctx context.Context, q CustomerLookup) []CustomerRecord {
	found, err := t.p.store.LookupCustomers(ctx, q)
	if err != nil {
		slog.Warn("dry run lookup failed", "error", err)
		return nil
	}
	return found
}

func (t *projectingTx) UpdateCustomer(ctx context.Context, c *CustomerRecord) (WriteResult, error) {
	if existing, ok := t.p.data.customers[c.ID]; ok {
		t.p.data.customers[c.ID] = mergeCustomer(existing, c)
	}
	return WriteResult{ID: c.ID}, nil
}

func (t *projectingTx) UpsertContract(ctx context.Context, c *ContractRecord) (WriteResult, error) {
	for id, existing := range t.p.data.contracts {
		if existing.SupplyPoint == c.SupplyPoint {
			return WriteResult{ID: id}, nil
		}
	}
	found, err := t.p.store.LookupContracts(ctx, []string{c.SupplyPoint})
	if err != nil {
		return WriteResult{}, err
	}
	if len(found) > 0 {
		return WriteResult{ID: found[0].ID}, nil
	}
	rec := cloneContract(*c)
	rec.ID = uuid.New()
	t.p.data.contracts[rec.ID] = rec
	return WriteResult{ID: rec.ID, Inserted: true}, nil
}

func (t *projectingTx) FindCustomer(ctx context.Context, ref CustomerRef) ([]uuid.UUID, error) {
	q := refLookup(ref)
	found, err := t.p.store.LookupCustomers(ctx, q)
	if err != nil {
		return nil, err
	}
	return findCustomerIDs(append(found, lookupCustomers(t.p.data, q)...)), nil
}

func (t *projectingTx) Savepoint(context.Context, string) error  { return nil }
func (t *projectingTx) RollbackTo(context.Context, string) error { return nil }
func (t *projectingTx) Release(context.Context, string) error    { return nil }
func (t *projectingTx) Commit(context.Context) error              { return nil }
func (t *projectingTx) Rollback(context.Context) error            { return nil }

package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	db "github.com/JonMunkholm/energyimport/internal/database"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgreSQL error codes mapped to ConstraintError.
const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
	pgNotNullViolation    = "23502"
	pgCheckViolation      = "23514"
)

// PostgresStore is the Store and RunStore backed by PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore returns a store using pool.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// SupportsSavepoints implements Store.
func (s *PostgresStore) SupportsSavepoints() bool { return true }

// LookupCustomers implements Store.
func (s *PostgresStore) LookupCustomers(ctx context.Context, q CustomerLookup) ([]CustomerRecord, error) {
	return lookupPgCustomers(ctx, db.New(s.pool), q)
}

func lookupPgCustomers(ctx context.Context, q *db.Queries, l CustomerLookup) ([]CustomerRecord, error) {
	if l.Empty() {
		return nil, nil
	}
	rows, err := q.LookupCustomers(ctx, db.LookupCustomersParams{
		FiscalCodes:   l.FiscalCodes,
		VatNumbers:    l.VATNumbers,
		Emails:        l.Emails,
		CustomerCodes: l.CustomerCodes,
	})
	if err != nil {
		return nil, fmt.Errorf("lookup customers: %w", err)
	}
	out := make([]CustomerRecord, 0, len(rows))
	for _, r := range rows {
		out = append(out, customerFromRow(r))
	}
	return out, nil
}

// LookupContracts implements Store.
func (s *PostgresStore) LookupContracts(ctx context.Context, supplyPoints []string) ([]ContractRecord, error) {
	if len(supplyPoints) == 0 {
		return nil, nil
	}
	rows, err := db.New(s.pool).LookupContracts(ctx, supplyPoints)
	if err != nil {
		return nil, fmt.Errorf("lookup contracts: %w", err)
	}
	out := make([]ContractRecord, 0, len(rows))
	for _, r := range rows {
		out = append(out, contractFromRow(r))
	}
	return out, nil
}

// Begin implements Store.
func (s *PostgresStore) Begin(ctx context.Context) (StoreTx, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return &pgTx{tx: tx, q: db.New(tx)}, nil
}

type pgTx struct {
	tx pgx.Tx
	q  *db.Queries
}

func (t *pgTx) InsertCustomer(ctx context.Context, c *CustomerRecord) (WriteResult, error) {
	params := customerParams(c)
	var (
		row db.UpsertCustomerRow
		err error
	)
	switch c.Kind {
	case KindPrivateCustomer:
		row, err = t.q.UpsertCustomerByFiscalCode(ctx, params)
	case KindCompanyCustomer:
		row, err = t.q.UpsertCustomerByVatNumber(ctx, params)
	default:
		return WriteResult{}, &ConstraintError{Constraint: "customers_kind_check", Key: string(c.Kind)}
	}
	if errors.Is(err, pgx.ErrNoRows) {
		// The natural key belongs to a customer of the other kind.
		return WriteResult{}, kindMismatch(c)
	}
	if err != nil {
		return WriteResult{}, mapPgError(err)
	}
	return WriteResult{ID: FromPgUUID(row.ID), Inserted: row.Inserted}, nil
}

func (t *pgTx) UpdateCustomer(ctx context.Context, c *CustomerRecord) (WriteResult, error) {
	id, err := t.q.UpdateCustomer(ctx, db.UpdateCustomerParams{
		ID:                   ToPgUUID(c.ID),
		UpsertCustomerParams: customerParams(c),
	})
	if errors.Is(err, pgx.ErrNoRows) {
		return WriteResult{}, &ConstraintError{Constraint: "customers_pkey", Key: c.ID.String(), Err: errCustomerMissing}
	}
	if err != nil {
		return WriteResult{}, mapPgError(err)
	}
	return WriteResult{ID: FromPgUUID(id)}, nil
}

func (t *pgTx) UpsertContract(ctx context.Context, c *ContractRecord) (WriteResult, error) {
	row, err := t.q.UpsertContract(ctx, db.UpsertContractParams{
		Kind:              string(c.Kind),
		SupplyPoint:       c.SupplyPoint,
		CustomerID:        ToPgUUID(c.CustomerID),
		ActivationDate:    ToPgDate(c.ActivationDate),
		EndDate:           ToPgDate(c.EndDate),
		Supplier:          ToPgText(c.Supplier),
		OfferName:         ToPgText(c.OfferName),
		AnnualConsumption: ToPgNumeric(c.AnnualConsumption),
		ContractedPower:   ToPgNumeric(c.ContractedPower),
		SupplyUse:         ToPgText(c.SupplyUse),
		GreenEnergy:       ToPgBool(c.GreenEnergy),
		Extra:             marshalExtra(c.Extra),
		RunID:             ToPgText(c.RunID),
	})
	if err != nil {
		return WriteResult{}, mapPgError(err)
	}
	return WriteResult{ID: FromPgUUID(row.ID), Inserted: row.Inserted}, nil
}

func (t *pgTx) FindCustomer(ctx context.Context, ref CustomerRef) ([]uuid.UUID, error) {
	found, err := lookupPgCustomers(ctx, t.q, refLookup(ref))
	if err != nil {
		return nil, err
	}
	return findCustomerIDs(found), nil
}

func (t *pgTx) Savepoint(ctx context.Context, name string) error {
	_, err := t.tx.Exec(ctx, "SAVEPOINT "+pgx.Identifier{name}.Sanitize())
	return err
}

func (t *pgTx) RollbackTo(ctx context.Context, name string) error {
	_, err := t.tx.Exec(ctx, "ROLLBACK TO SAVEPOINT "+pgx.Identifier{name}.Sanitize())
	return err
}

func (t *pgTx) Release(ctx context.Context, name string) error {
	_, err := t.tx.Exec(ctx, "RELEASE SAVEPOINT "+pgx.Identifier{name}.Sanitize())
	return err
}

func (t *pgTx) Commit(ctx context.Context) error {
	return t.tx.Commit(ctx)
}

// Rollback implements StoreTx. Safe to call after Commit.
func (t *pgTx) Rollback(ctx context.Context) error {
	if err := t.tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return err
	}
	return nil
}

// mapPgError converts integrity violations into *ConstraintError.
func mapPgError(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case pgUniqueViolation, pgForeignKeyViolation, pgCheckViolation:
		return &ConstraintError{Constraint: pgErr.ConstraintName, Key: pgErr.Detail, Err: err}
	case pgNotNullViolation:
		return &ConstraintError{Constraint: pgErr.TableName + "_" + pgErr.ColumnName + "_not_null", Err: err}
	}
	return err
}

func customerParams(c *CustomerRecord) db.UpsertCustomerParams {
	return db.UpsertCustomerParams{
		Kind:           string(c.Kind),
		FiscalCode:     ToPgText(c.FiscalCode),
		VatNumber:      ToPgText(c.VATNumber),
		CustomerCode:   ToPgText(c.CustomerCode),
		Email:          ToPgText(c.Email),
		FirstName:      ToPgText(c.FirstName),
		LastName:       ToPgText(c.LastName),
		CompanyName:    ToPgText(c.CompanyName),
		BirthDate:      ToPgDate(c.BirthDate),
		Phone:          ToPgText(c.Phone),
		Address:        ToPgText(c.Address),
		City:           ToPgText(c.City),
		Province:       ToPgText(c.Province),
		PostalCode:     ToPgText(c.PostalCode),
		PrivacyConsent: ToPgBool(c.PrivacyConsent),
		Extra:          marshalExtra(c.Extra),
		RunID:          ToPgText(c.RunID),
	}
}

func customerFromRow(r db.Customer) CustomerRecord {
	return CustomerRecord{
		ID:             FromPgUUID(r.ID),
		Kind:           EntityKind(r.Kind),
		FiscalCode:     r.FiscalCode.String,
		VATNumber:      r.VatNumber.String,
		CustomerCode:   r.CustomerCode.String,
		Email:          r.Email.String,
		FirstName:      r.FirstName.String,
		LastName:       r.LastName.String,
		CompanyName:    r.CompanyName.String,
		BirthDate:      FromPgDate(r.BirthDate),
		Phone:          r.Phone.String,
		Address:        r.Address.String,
		City:           r.City.String,
		Province:       r.Province.String,
		PostalCode:     r.PostalCode.String,
		PrivacyConsent: FromPgBool(r.PrivacyConsent),
		Extra:          unmarshalExtra(r.Extra),
		RunID:          r.RunID.String,
	}
}

func contractFromRow(r db.Contract) ContractRecord {
	return ContractRecord{
		ID:                FromPgUUID(r.ID),
		Kind:              EntityKind(r.Kind),
		SupplyPoint:       r.SupplyPoint,
		CustomerID:        FromPgUUID(r.CustomerID),
		ActivationDate:    FromPgDate(r.ActivationDate),
		EndDate:           FromPgDate(r.EndDate),
		Supplier:          r.Supplier.String,
		OfferName:         r.OfferName.String,
		AnnualConsumption: FromPgNumeric(r.AnnualConsumption),
		ContractedPower:   FromPgNumeric(r.ContractedPower),
		SupplyUse:         r.SupplyUse.String,
		GreenEnergy:       FromPgBool(r.GreenEnergy),
		Extra:             unmarshalExtra(r.Extra),
		RunID:             r.RunID.String,
	}
}

func marshalExtra(m map[string]string) []byte {
	if len(m) == 0 {
		return nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil
	}
	return b
}

func unmarshalExtra(b []byte) map[string]string {
	if len(b) == 0 {
		return nil
	}
	var m map[string]string
	if err := json.Unmarshal(b, &m); err != nil {
		return nil
	}
	return m
}

// ----------------------------------------------------------------------------
// Runs
// ----------------------------------------------------------------------------

// SaveRun implements RunStore.
func (s *PostgresStore) SaveRun(ctx context.Context, run *ImportRun) error {
	params, err := runParams(run)
	if err != nil {
		return err
	}
	if err := db.New(s.pool).UpsertImportRun(ctx, params); err != nil {
		return fmt.Errorf("save run %s: %w", run.ID, err)
	}
	return nil
}

// runParams flattens a run into its import_runs row. The error report is
// stored alongside the outcomes so SQL can aggregate by code.
func runParams(run *ImportRun) (db.UpsertImportRunParams, error) {
	params := db.UpsertImportRunParams{
		ID:              run.ID,
		FileName:        run.FileName,
		ClientIP:        run.ClientIP,
		UserAgent:       run.UserAgent,
		Status:          string(run.Status),
		Stage:           string(run.Stage),
		DryRun:          run.Options.DryRun,
		TotalRows:       int32(run.TotalRows),
		ProcessedRows:   int32(run.ProcessedRows),
		InsertedRows:    int32(run.InsertedRows),
		UpdatedRows:     int32(run.UpdatedRows),
		SkippedRows:     int32(run.SkippedRows),
		ErrorRows:       int32(run.ErrorRows),
		StartedAt:       pgtype.Timestamptz{Time: run.StartedAt, Valid: true},
		DurationSeconds: run.DurationSeconds,
	}
	if run.FinishedAt != nil {
		params.FinishedAt = pgtype.Timestamptz{Time: *run.FinishedAt, Valid: true}
	}

	var err error
	if params.Options, err = json.Marshal(run.Options); err != nil {
		return params, fmt.Errorf("marshal options: %w", err)
	}
	if params.Mapping, err = marshalOptional(run.Mapping); err != nil {
		return params, fmt.Errorf("marshal mapping: %w", err)
	}
	if params.Failure, err = marshalOptional(run.Failure); err != nil {
		return params, fmt.Errorf("marshal failure: %w", err)
	}
	if params.ErrorReport, err = json.Marshal(run.ErrorReport()); err != nil {
		return params, fmt.Errorf("marshal error report: %w", err)
	}
	if params.Outcomes, err = json.Marshal(run.Outcomes); err != nil {
		return params, fmt.Errorf("marshal outcomes: %w", err)
	}
	return params, nil
}

func marshalOptional[T any](v *T) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}

// GetRun implements RunStore.
func (s *PostgresStore) GetRun(ctx context.Context, id string) (*ImportRun, error) {
	row, err := db.New(s.pool).GetImportRun(ctx, id)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get run %s: %w", id, err)
	}
	return runFromRow(row)
}

// runFromRow rebuilds a run, outcomes included, from its import_runs row.
func runFromRow(row db.ImportRun) (*ImportRun, error) {
	run := &ImportRun{
		ID:              row.ID,
		FileName:        row.FileName,
		ClientIP:        row.ClientIP,
		UserAgent:       row.UserAgent,
		Status:          RunStatus(row.Status),
		Stage:           Stage(row.Stage),
		TotalRows:       int(row.TotalRows),
		ProcessedRows:   int(row.ProcessedRows),
		InsertedRows:    int(row.InsertedRows),
		UpdatedRows:     int(row.UpdatedRows),
		SkippedRows:     int(row.SkippedRows),
		ErrorRows:       int(row.ErrorRows),
		StartedAt:       row.StartedAt.Time,
		FinishedAt:      timePtr(row.FinishedAt),
		DurationSeconds: row.DurationSeconds,
	}
	if err := unmarshalRunJSON(run, row.Options, row.Mapping, row.Failure); err != nil {
		return nil, fmt.Errorf("decode run %s: %w", row.ID, err)
	}
	if len(row.Outcomes) > 0 {
		if err := json.Unmarshal(row.Outcomes, &run.Outcomes); err != nil {
			return nil, fmt.Errorf("decode run %s outcomes: %w", row.ID, err)
		}
	}
	return run, nil
}

// ListRuns implements RunStore.
func (s *PostgresStore) ListRuns(ctx context.Context, limit int) ([]*ImportRun, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.New(s.pool).ListImportRuns(ctx, int32(limit))
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	out := make([]*ImportRun, 0, len(rows))
	for _, row := range rows {
		run := &ImportRun{
			ID:              row.ID,
			FileName:        row.FileName,
			ClientIP:        row.ClientIP,
			UserAgent:       row.UserAgent,
			Status:          RunStatus(row.Status),
			Stage:           Stage(row.Stage),
			TotalRows:       int(row.TotalRows),
			ProcessedRows:   int(row.ProcessedRows),
			InsertedRows:    int(row.InsertedRows),
			UpdatedRows:     int(row.UpdatedRows),
			SkippedRows:     int(row.SkippedRows),
			ErrorRows:       int(row.ErrorRows),
			StartedAt:       row.StartedAt.Time,
			FinishedAt:      timePtr(row.FinishedAt),
			DurationSeconds: row.DurationSeconds,
		}
		if err := unmarshalRunJSON(run, row.Options, row.Mapping, row.Failure); err != nil {
			return nil, fmt.Errorf("decode run %s: %w", row.ID, err)
		}
		out = append(out, run)
	}
	return out, nil
}

func unmarshalRunJSON(run *ImportRun, options, mapping, failure []byte) error {
	if len(options) > 0 {
		if err := json.Unmarshal(options, &run.Options); err != nil {
			return err
		}
	}
	if len(mapping) > 0 {
		run.Mapping = &MappingReport{}
		if err := json.Unmarshal(mapping, run.Mapping); err != nil {
			return err
		}
	}
	if len(failure) > 0 {
		run.Failure = &ReportEntry{}
		if err := json.Unmarshal(failure, run.Failure); err != nil {
			return err
		}
	}
	return nil
}

func timePtr(ts pgtype.Timestamptz) *time.Time {
	if !ts.Valid {
		return nil
	}
	t := ts.Time
	return &t
}

// DeleteRunsBefore implements RunStore.
func (s *PostgresStore) DeleteRunsBefore(ctx context.Context, before time.Time) (int64, error) {
	n, err := db.New(s.pool).DeleteImportRunsBefore(ctx, pgtype.Timestamptz{Time: before, Valid: true})
	if err != nil {
		return 0, fmt.Errorf("delete runs: %w", err)
	}
	return n, nil
}

// MarkInterrupted implements RunStore.
func (s *PostgresStore) MarkInterrupted(ctx context.Context) (int64, error) {
	n, err := db.New(s.pool).MarkRunsInterrupted(ctx)
	if err != nil {
		return 0, fmt.Errorf("mark interrupted: %w", err)
	}
	return n, nil
}

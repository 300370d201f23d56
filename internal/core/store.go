package core

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// CustomerRecord is a customer row as written to and read from a Store.
// Empty strings and nil pointers mean "no value": writes never blank a
// stored field with them.
type CustomerRecord struct {
	ID             uuid.UUID
	Kind           EntityKind
	FiscalCode     string
	VATNumber      string
	CustomerCode   string
	Email          string
	FirstName      string
	LastName       string
	CompanyName    string
	BirthDate      *time.Time
	Phone          string
	Address        string
	City           string
	Province       string
	PostalCode     string
	PrivacyConsent *bool
	Extra          map[string]string
	RunID          string
}

// ContractRecord is a contract row as written to and read from a Store.
type ContractRecord struct {
	ID                uuid.UUID
	Kind              EntityKind
	SupplyPoint       string // POD or PDR
	CustomerID        uuid.UUID
	ActivationDate    *time.Time
	EndDate           *time.Time
	Supplier          string
	OfferName         string
	AnnualConsumption decimal.NullDecimal
	ContractedPower   decimal.NullDecimal
	SupplyUse         string
	GreenEnergy       *bool
	Extra             map[string]string
	RunID             string
}

// CustomerLookup is a batched query for customers matching any listed key.
type CustomerLookup struct {
	FiscalCodes   []string
	VATNumbers    []string
	Emails        []string
	CustomerCodes []string
}

// Empty reports whether the lookup has no keys.
func (l CustomerLookup) Empty() bool {
	return len(l.FiscalCodes)+len(l.VATNumbers)+len(l.Emails)+len(l.CustomerCodes) == 0
}

// WriteResult reports the id of a written row and whether it was created.
type WriteResult struct {
	ID       uuid.UUID
	Inserted bool
}

// Store is the persistence boundary of the committer and associator.
type Store interface {
	// LookupCustomers returns every customer matching at least one key.
	LookupCustomers(ctx context.Context, q CustomerLookup) ([]CustomerRecord, error)
	// LookupContracts returns the contracts with the given supply points.
	LookupContracts(ctx context.Context, supplyPoints []string) ([]ContractRecord, error)
	Begin(ctx context.Context) (StoreTx, error)
	SupportsSavepoints() bool
}

// StoreTx is one transaction. Write methods return *ConstraintError when the
// store rejects a record.
type StoreTx interface {
	// InsertCustomer upserts on the customer's natural key (fiscal code for
	// private customers, VAT number for companies).
	InsertCustomer(ctx context.Context, c *CustomerRecord) (WriteResult, error)
	// UpdateCustomer merges c into the customer with id c.ID.
	UpdateCustomer(ctx context.Context, c *CustomerRecord) (WriteResult, error)
	// UpsertContract upserts on the supply point.
	UpsertContract(ctx context.Context, c *ContractRecord) (WriteResult, error)
	// FindCustomer returns the distinct ids of customers matching any field of ref.
	FindCustomer(ctx context.Context, ref CustomerRef) ([]uuid.UUID, error)

	Savepoint(ctx context.Context, name string) error
	RollbackTo(ctx context.Context, name string) error
	Release(ctx context.Context, name string) error
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// RunStore persists ImportRuns for later retrieval and audit.
type RunStore interface {
	SaveRun(ctx context.Context, run *ImportRun) error
	// GetRun returns ErrRunNotFound for unknown ids.
	GetRun(ctx context.Context, id string) (*ImportRun, error)
	// ListRuns returns the newest runs first, without per-row outcomes.
	ListRuns(ctx context.Context, limit int) ([]*ImportRun, error)
	DeleteRunsBefore(ctx context.Context, before time.Time) (int64, error)
	// MarkInterrupted flags runs left in the running state by a previous process.
	MarkInterrupted(ctx context.Context) (int64, error)
}

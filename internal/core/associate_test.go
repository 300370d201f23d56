package core

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedCustomer(t *testing.T, store *MemoryStore, c CustomerRecord) uuid.UUID {
	t.Helper()
	ctx := context.Background()
	tx, err := store.Begin(ctx)
	require.NoError(t, err)
	res, err := tx.InsertCustomer(ctx, &c)
	require.NoError(t, err)
	require.NoError(t, tx.Commit(ctx))
	return res.ID
}

func seedContract(t *testing.T, store *MemoryStore, c ContractRecord) uuid.UUID {
	t.Helper()
	ctx := context.Background()
	tx, err := store.Begin(ctx)
	require.NoError(t, err)
	res, err := tx.UpsertContract(ctx, &c)
	require.NoError(t, err)
	require.NoError(t, tx.Commit(ctx))
	return res.ID
}

func inputs(recs ...*NormalizedRecord) []Resolved {
	out := make([]Resolved, len(recs))
	for i, r := range recs {
		out[i] = Resolved{Row: i, Record: r}
	}
	return out
}

func resolvedRow(t *testing.T, a *Association, row int) Resolved {
	t.Helper()
	for _, r := range a.Resolved {
		if r.Row == row {
			return r
		}
	}
	require.Failf(t, "not resolved", "row %d was not resolved (rejected: %+v)", row, a.Rejected)
	return Resolved{}
}

func rejectedRow(t *testing.T, a *Association, row int) Rejection {
	t.Helper()
	for _, r := range a.Rejected {
		if r.Row == row {
			return r
		}
	}
	require.Failf(t, "not rejected", "row %d was not rejected", row)
	return Rejection{}
}

var (
	mario = map[Field]string{FieldFiscalCode: "RSSMRA80A01H501Z", FieldFirstName: "Mario", FieldLastName: "Rossi"}
	pod   = map[Field]string{FieldPOD: "IT001E12345678", FieldFiscalCode: "RSSMRA80A01H501Z"}
)

// ============================================================================
// Within one file
// ============================================================================

func TestAssociate_ContractBeforeCustomer(t *testing.T) {
	a, err := NewAssociator(NewMemoryStore()).Associate(context.Background(), inputs(
		record(KindElectricityContract, 2, pod),
		record(KindPrivateCustomer, 3, mario),
	), false)
	require.NoError(t, err)
	require.Empty(t, a.Rejected)

	// Customers come first in commit order.
	require.Len(t, a.Resolved, 2)
	assert.Equal(t, 1, a.Resolved[0].Row)
	assert.Equal(t, 0, a.Resolved[1].Row)

	customer := resolvedRow(t, a, 1)
	contract := resolvedRow(t, a, 0)
	assert.Equal(t, StatePending, customer.Entity.State)
	require.NotNil(t, contract.Customer)
	assert.Equal(t, customer.Entity, *contract.Customer)
}

func TestAssociate_RepeatedCustomerSharesEntity(t *testing.T) {
	a, err := NewAssociator(NewMemoryStore()).Associate(context.Background(), inputs(
		record(KindPrivateCustomer, 2, mario),
		record(KindPrivateCustomer, 3, map[Field]string{FieldFiscalCode: "RSSMRA80A01H501Z", FieldEmail: "m@example.it"}),
		record(KindPrivateCustomer, 4, map[Field]string{FieldEmail: "m@example.it"}),
	), false)
	require.NoError(t, err)
	require.Empty(t, a.Rejected)

	first := resolvedRow(t, a, 0).Entity
	assert.Equal(t, first, resolvedRow(t, a, 1).Entity)
	assert.Equal(t, first, resolvedRow(t, a, 2).Entity, "email learned from row 3 identifies row 4")
}

func TestAssociate_ContractLinks(t *testing.T) {
	tests := []struct {
		name     string
		customer map[Field]string
		kind     EntityKind
		contract map[Field]string
	}{
		{
			name:     "by customer code",
			customer: map[Field]string{FieldFiscalCode: "RSSMRA80A01H501Z", FieldCustomerCode: "c-42"},
			kind:     KindPrivateCustomer,
			contract: map[Field]string{FieldPOD: "IT001E12345678", FieldCustomerCode: "C-42"},
		},
		{
			name:     "by email",
			customer: map[Field]string{FieldFiscalCode: "RSSMRA80A01H501Z", FieldEmail: "Mario@Example.it"},
			kind:     KindPrivateCustomer,
			contract: map[Field]string{FieldPDR: "01234567890123", FieldEmail: "mario@example.it"},
		},
		{
			name:     "company by vat number",
			customer: map[Field]string{FieldVATNumber: "01234567897"},
			kind:     KindCompanyCustomer,
			contract: map[Field]string{FieldPOD: "IT001E12345678", FieldVATNumber: "IT01234567897"},
		},
		{
			name:     "company by vat in fiscal code column",
			customer: map[Field]string{FieldVATNumber: "01234567897"},
			kind:     KindCompanyCustomer,
			contract: map[Field]string{FieldPOD: "IT001E12345678", FieldFiscalCode: "01234567897"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			contractKind := KindElectricityContract
			if tt.contract[FieldPDR] != "" {
				contractKind = KindGasContract
			}
			a, err := NewAssociator(NewMemoryStore()).Associate(context.Background(), inputs(
				record(tt.kind, 2, tt.customer),
				record(contractKind, 3, tt.contract),
			), false)
			require.NoError(t, err)
			require.Empty(t, a.Rejected)

			contract := resolvedRow(t, a, 1)
			require.NotNil(t, contract.Customer)
			assert.Equal(t, resolvedRow(t, a, 0).Entity, *contract.Customer)
		})
	}
}

func TestAssociate_Orphans(t *testing.T) {
	a, err := NewAssociator(NewMemoryStore()).Associate(context.Background(), inputs(
		record(KindElectricityContract, 2, map[Field]string{FieldPOD: "IT001E12345678"}),
		record(KindElectricityContract, 3, pod),
	), false)
	require.NoError(t, err)
	require.Len(t, a.Rejected, 2)

	for _, row := range []int{0, 1} {
		rej := rejectedRow(t, a, row)
		assert.Equal(t, StatusSkipped, rej.Status)
		assert.Equal(t, CodeOrphanContract, rej.Issue.Code)
		assert.Equal(t, SeverityWarning, rej.Issue.Severity)
	}
	assert.Contains(t, rejectedRow(t, a, 1).Issue.Message, "RSSMRA80A01H501Z")
}

func TestAssociate_ConflictingKeysInFile(t *testing.T) {
	a, err := NewAssociator(NewMemoryStore()).Associate(context.Background(), inputs(
		record(KindPrivateCustomer, 2, map[Field]string{FieldFiscalCode: "RSSMRA80A01H501Z", FieldCustomerCode: "C1"}),
		record(KindPrivateCustomer, 3, map[Field]string{FieldFiscalCode: "VRDLGU75C12F205X", FieldCustomerCode: "C2"}),
		// Fiscal code of the first, customer code of the second.
		record(KindPrivateCustomer, 4, map[Field]string{FieldFiscalCode: "RSSMRA80A01H501Z", FieldCustomerCode: "C2"}),
	), false)
	require.NoError(t, err)

	rej := rejectedRow(t, a, 2)
	assert.Equal(t, StatusFailed, rej.Status)
	assert.Equal(t, CodeConflictingID, rej.Issue.Code)
}

// ============================================================================
// Against the store
// ============================================================================

func TestAssociate_ExistingEntities(t *testing.T) {
	store := NewMemoryStore()
	customerID := seedCustomer(t, store, CustomerRecord{Kind: KindPrivateCustomer, FiscalCode: "RSSMRA80A01H501Z", Email: "mario@example.it"})
	contractID := seedContract(t, store, ContractRecord{Kind: KindElectricityContract, SupplyPoint: "IT001E12345678", CustomerID: customerID})

	a, err := NewAssociator(store).Associate(context.Background(), inputs(
		record(KindPrivateCustomer, 2, mario),
		record(KindElectricityContract, 3, map[Field]string{FieldPOD: "IT001E12345678", FieldEmail: "mario@example.it"}),
	), false)
	require.NoError(t, err)
	require.Empty(t, a.Rejected)

	assert.Equal(t, Existing(customerID), resolvedRow(t, a, 0).Entity)
	contract := resolvedRow(t, a, 1)
	assert.Equal(t, Existing(contractID), contract.Entity)
	require.NotNil(t, contract.Customer)
	assert.Equal(t, Existing(customerID), *contract.Customer)
}

func TestAssociate_ConflictsWithStore(t *testing.T) {
	store := NewMemoryStore()
	seedCustomer(t, store, CustomerRecord{Kind: KindPrivateCustomer, FiscalCode: "RSSMRA80A01H501Z", CustomerCode: "C1"})
	seedCustomer(t, store, CustomerRecord{Kind: KindPrivateCustomer, FiscalCode: "VRDLGU75C12F205X", CustomerCode: "C2"})
	seedCustomer(t, store, CustomerRecord{Kind: KindCompanyCustomer, VATNumber: "01234567897", CustomerCode: "C3"})
	seedCustomer(t, store, CustomerRecord{Kind: KindCompanyCustomer, VATNumber: "09876543217", FiscalCode: "BNCLRA70A41F205K"})

	tests := []struct {
		name   string
		kind   EntityKind
		fields map[Field]string
	}{
		{
			name:   "keys match different customers",
			kind:   KindPrivateCustomer,
			fields: map[Field]string{FieldFiscalCode: "RSSMRA80A01H501Z", FieldCustomerCode: "C2"},
		},
		{
			name:   "customer code of another kind",
			kind:   KindPrivateCustomer,
			fields: map[Field]string{FieldFiscalCode: "BNCNNA90A41F205Y", FieldCustomerCode: "C3"},
		},
		{
			name:   "same customer code, different fiscal code",
			kind:   KindPrivateCustomer,
			fields: map[Field]string{FieldFiscalCode: "BNCNNA90A41F205Y", FieldCustomerCode: "C1"},
		},
		{
			name:   "fiscal code of a company",
			kind:   KindPrivateCustomer,
			fields: map[Field]string{FieldFiscalCode: "BNCLRA70A41F205K"},
		},
		{
			name:   "company with a private fiscal code",
			kind:   KindCompanyCustomer,
			fields: map[Field]string{FieldVATNumber: "05555555555", FieldFiscalCode: "RSSMRA80A01H501Z"},
		},
		{
			name:   "company vat with another fiscal code",
			kind:   KindCompanyCustomer,
			fields: map[Field]string{FieldVATNumber: "09876543217", FieldFiscalCode: "01234567897"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, err := NewAssociator(store).Associate(context.Background(), inputs(record(tt.kind, 2, tt.fields)), false)
			require.NoError(t, err)
			rej := rejectedRow(t, a, 0)
			assert.Equal(t, StatusFailed, rej.Status)
			assert.Equal(t, CodeConflictingID, rej.Issue.Code)
		})
	}
}

func TestAssociate_FiscalCodeSharedAcrossKinds(t *testing.T) {
	a, err := NewAssociator(NewMemoryStore()).Associate(context.Background(), inputs(
		record(KindCompanyCustomer, 2, map[Field]string{FieldVATNumber: "01234567897", FieldFiscalCode: "RSSMRA80A01H501Z"}),
		record(KindPrivateCustomer, 3, mario),
		record(KindElectricityContract, 4, pod),
	), false)
	require.NoError(t, err)

	company := resolvedRow(t, a, 0)
	rej := rejectedRow(t, a, 1)
	assert.Equal(t, StatusFailed, rej.Status)
	assert.Equal(t, CodeConflictingID, rej.Issue.Code)
	assert.Equal(t, FieldFiscalCode, rej.Issue.Field)

	// The contract's fiscal code reaches the company that holds it.
	contract := resolvedRow(t, a, 2)
	require.NotNil(t, contract.Customer)
	assert.Equal(t, company.Entity, *contract.Customer)
}

func TestAssociate_ContractWithoutSupplyPoint(t *testing.T) {
	for _, skipIndex := range []bool{false, true} {
		t.Run(fmt.Sprintf("skipIndex=%v", skipIndex), func(t *testing.T) {
			a, err := NewAssociator(NewMemoryStore()).Associate(context.Background(), inputs(
				record(KindPrivateCustomer, 2, mario),
				record(KindElectricityContract, 3, map[Field]string{FieldFiscalCode: "RSSMRA80A01H501Z"}),
				record(KindGasContract, 4, map[Field]string{FieldFiscalCode: "RSSMRA80A01H501Z"}),
			), skipIndex)
			require.NoError(t, err)

			for row, field := range map[int]Field{1: FieldPOD, 2: FieldPDR} {
				rej := rejectedRow(t, a, row)
				assert.Equal(t, StatusFailed, rej.Status)
				assert.Equal(t, CodeFieldValidation, rej.Issue.Code)
				assert.Equal(t, field, rej.Issue.Field)
			}
			assert.Len(t, a.Resolved, 1)
		})
	}
}

func TestAssociate_SkipIndex(t *testing.T) {
	a, err := NewAssociator(NewMemoryStore()).Associate(context.Background(), inputs(
		record(KindPrivateCustomer, 2, mario),
		record(KindPrivateCustomer, 3, mario),
		record(KindElectricityContract, 4, pod),
		record(KindElectricityContract, 5, map[Field]string{FieldPOD: "IT001E99999999"}),
	), true)
	require.NoError(t, err)

	// Without the index every row stands alone.
	assert.NotEqual(t, resolvedRow(t, a, 0).Entity, resolvedRow(t, a, 1).Entity)

	contract := resolvedRow(t, a, 2)
	assert.Nil(t, contract.Customer)
	assert.Equal(t, CustomerRef{FiscalCode: "RSSMRA80A01H501Z"}, contract.CustomerRef)

	assert.Equal(t, CodeOrphanContract, rejectedRow(t, a, 3).Issue.Code)
}

type failingLookupStore struct {
	*MemoryStore
	err error
}

func (s *failingLookupStore) LookupCustomers(context.Context, CustomerLookup) ([]CustomerRecord, error) {
	return nil, s.err
}

func TestAssociate_LookupFailure(t *testing.T) {
	boom := errors.New("connection refused")
	_, err := NewAssociator(&failingLookupStore{MemoryStore: NewMemoryStore(), err: boom}).
		Associate(context.Background(), inputs(record(KindPrivateCustomer, 2, mario)), false)
	assert.ErrorIs(t, err, boom)
}

func TestChunkLookup(t *testing.T) {
	q := CustomerLookup{
		FiscalCodes: []string{"a", "b", "c", "d", "e"},
		Emails:      []string{"x"},
	}
	chunks := chunkLookup(q, 2)
	require.Len(t, chunks, 3)
	assert.Equal(t, []string{"a", "b"}, chunks[0].FiscalCodes)
	assert.Equal(t, []string{"x"}, chunks[0].Emails)
	assert.Equal(t, []string{"e"}, chunks[2].FiscalCodes)
	assert.Empty(t, chunks[2].Emails)

	assert.Empty(t, chunkLookup(CustomerLookup{}, 2))
}

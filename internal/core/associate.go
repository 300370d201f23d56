package core

// associate.go resolves record identity across the whole run.
//
// Association is a barrier: it runs after every row is validated, because a
// contract may appear before the customer that owns it. The identity index
// is seeded from the store with one batched lookup per key chunk, then
// customers are resolved in file order, then contracts.

import (
	"context"
	"fmt"
	"slices"
	"strings"
)

// lookupChunk bounds the number of keys sent in one store lookup.
const lookupChunk = 500

// Rejection is a record the associator refused to resolve.
type Rejection struct {
	Row    int
	Status RowStatus
	Issue  Issue
}

// Association is the associator's output. Resolved is in commit order:
// customers in file order, then contracts in file order.
type Association struct {
	Resolved []Resolved
	Rejected []Rejection
}

// Associator resolves records against a Store.
type Associator struct {
	store Store
}

// NewAssociator returns an associator reading from store.
func NewAssociator(store Store) *Associator {
	return &Associator{store: store}
}

type customerEntry struct {
	entity ResolvedEntity
	kind   EntityKind
	keys   map[Field]string
}

type contractEntry struct {
	entity ResolvedEntity
	kind   EntityKind
}

// identityIndex is the run-scoped map from natural keys to entities.
type identityIndex struct {
	customers map[AssociationKey][]*customerEntry
	contracts map[string]*contractEntry
	nextTemp  int
}

func newIdentityIndex() *identityIndex {
	return &identityIndex{
		customers: make(map[AssociationKey][]*customerEntry),
		contracts: make(map[string]*contractEntry),
	}
}

func (ix *identityIndex) pending() ResolvedEntity {
	ix.nextTemp++
	return Pending(ix.nextTemp)
}

func (ix *identityIndex) register(e *customerEntry, key AssociationKey) {
	for _, existing := range ix.customers[key] {
		if existing == e {
			return
		}
	}
	ix.customers[key] = append(ix.customers[key], e)
}

// customerKeys lists the association keys of a customer.
func customerKeys(kind EntityKind, keys map[Field]string) []AssociationKey {
	var out []AssociationKey
	add := func(k EntityKind, f Field) {
		if v := keys[f]; v != "" {
			out = append(out, AssociationKey{Kind: k, Field: f, Value: v})
		}
	}
	switch kind {
	case KindPrivateCustomer:
		add(KindPrivateCustomer, FieldEmail)
	case KindCompanyCustomer:
		add(KindCompanyCustomer, FieldVATNumber)
	}
	// Fiscal codes are unique across both kinds, like customer codes.
	add("", FieldFiscalCode)
	add("", FieldCustomerCode)
	return out
}

// primaryField is the identity-defining key of a customer kind.
func primaryField(kind EntityKind) Field {
	if kind == KindCompanyCustomer {
		return FieldVATNumber
	}
	return FieldFiscalCode
}

// ownerKeys lists the keys a contract row can use to find its customer,
// in resolution order.
func ownerKeys(rec *NormalizedRecord) []AssociationKey {
	var out []AssociationKey
	if v := rec.Text(FieldCustomerCode); v != "" {
		out = append(out, AssociationKey{Field: FieldCustomerCode, Value: v})
	}
	if v := rec.Text(FieldFiscalCode); v != "" {
		out = append(out, AssociationKey{Field: FieldFiscalCode, Value: v})
		if IsVATNumber(v) {
			out = append(out, AssociationKey{Kind: KindCompanyCustomer, Field: FieldVATNumber, Value: v})
		}
	}
	if v := rec.Text(FieldVATNumber); v != "" {
		out = append(out, AssociationKey{Kind: KindCompanyCustomer, Field: FieldVATNumber, Value: v})
	}
	if v := rec.Text(FieldEmail); v != "" {
		out = append(out, AssociationKey{Kind: KindPrivateCustomer, Field: FieldEmail, Value: v})
	}
	return out
}

func recordCustomerKeys(rec *NormalizedRecord) map[Field]string {
	return map[Field]string{
		FieldFiscalCode:   rec.Text(FieldFiscalCode),
		FieldVATNumber:    rec.Text(FieldVATNumber),
		FieldEmail:        rec.Text(FieldEmail),
		FieldCustomerCode: rec.Text(FieldCustomerCode),
	}
}

// Associate resolves every input. Inputs carry Row, Record and Warnings;
// the associator fills in the entities. With skipIndex set, records are
// matched against the store only and contracts carry a CustomerRef for the
// committer to resolve.
func (a *Associator) Associate(ctx context.Context, inputs []Resolved, skipIndex bool) (*Association, error) {
	ix := newIdentityIndex()
	if err := a.seed(ctx, ix, inputs); err != nil {
		return nil, err
	}

	out := &Association{}
	var contracts []Resolved
	for _, in := range inputs {
		switch {
		case in.Record.Kind.IsCustomer():
			res, rej := a.resolveCustomer(ix, in, skipIndex)
			if rej != nil {
				out.Rejected = append(out.Rejected, *rej)
				continue
			}
			out.Resolved = append(out.Resolved, res)
		case in.Record.Kind.IsContract():
			contracts = append(contracts, in)
		default:
			out.Rejected = append(out.Rejected, Rejection{
				Row:    in.Row,
				Status: StatusFailed,
				Issue:  issue(CodeFieldValidation, "", "unknown record kind %q", in.Record.Kind),
			})
		}
	}

	for _, in := range contracts {
		res, rej := a.resolveContract(ix, in, skipIndex)
		if rej != nil {
			out.Rejected = append(out.Rejected, *rej)
			continue
		}
		out.Resolved = append(out.Resolved, res)
	}
	return out, nil
}

// seed loads every stored customer and contract matching a key seen in the run.
func (a *Associator) seed(ctx context.Context, ix *identityIndex, inputs []Resolved) error {
	var q CustomerLookup
	var supplyPoints []string
	seen := make(map[AssociationKey]bool)
	addKey := func(k AssociationKey) {
		lk := AssociationKey{Field: k.Field, Value: k.Value}
		if k.Value == "" || seen[lk] {
			return
		}
		seen[lk] = true
		switch k.Field {
		case FieldFiscalCode:
			q.FiscalCodes = append(q.FiscalCodes, k.Value)
		case FieldVATNumber:
			q.VATNumbers = append(q.VATNumbers, k.Value)
		case FieldEmail:
			q.Emails = append(q.Emails, k.Value)
		case FieldCustomerCode:
			q.CustomerCodes = append(q.CustomerCodes, k.Value)
		}
	}

	for _, in := range inputs {
		rec := in.Record
		switch {
		case rec.Kind.IsCustomer():
			for _, k := range customerKeys(rec.Kind, recordCustomerKeys(rec)) {
				addKey(k)
			}
		case rec.Kind.IsContract():
			for _, k := range ownerKeys(rec) {
				addKey(k)
			}
			if sp := rec.Text(supplyPointField(rec.Kind)); sp != "" {
				supplyPoints = append(supplyPoints, sp)
			}
		}
	}

	byID := make(map[string]bool)
	for _, chunk := range chunkLookup(q, lookupChunk) {
		found, err := a.store.LookupCustomers(ctx, chunk)
		if err != nil {
			return fmt.Errorf("lookup customers: %w", err)
		}
		for _, c := range found {
			if byID[c.ID.String()] {
				continue
			}
			byID[c.ID.String()] = true
			e := &customerEntry{
				entity: Existing(c.ID),
				kind:   c.Kind,
				keys: map[Field]string{
					FieldFiscalCode:   c.FiscalCode,
					FieldVATNumber:    c.VATNumber,
					FieldEmail:        NormalizeEmail(c.Email),
					FieldCustomerCode: c.CustomerCode,
				},
			}
			for _, k := range customerKeys(c.Kind, e.keys) {
				ix.register(e, k)
			}
		}
	}

	for chunk := range slices.Chunk(supplyPoints, lookupChunk) {
		found, err := a.store.LookupContracts(ctx, chunk)
		if err != nil {
			return fmt.Errorf("lookup contracts: %w", err)
		}
		for _, c := range found {
			ix.contracts[c.SupplyPoint] = &contractEntry{entity: Existing(c.ID), kind: c.Kind}
		}
	}
	return nil
}

// chunkLookup splits a lookup so that no list exceeds n keys.
func chunkLookup(q CustomerLookup, n int) []CustomerLookup {
	var out []CustomerLookup
	for i := 0; ; i += n {
		part := CustomerLookup{
			FiscalCodes:   window(q.FiscalCodes, i, n),
			VATNumbers:    window(q.VATNumbers, i, n),
			Emails:        window(q.Emails, i, n),
			CustomerCodes: window(q.CustomerCodes, i, n),
		}
		if part.Empty() {
			return out
		}
		out = append(out, part)
	}
}

func window(s []string, from, n int) []string {
	if from >= len(s) {
		return nil
	}
	return s[from:min(from+n, len(s))]
}

// candidates returns the distinct entities reached through keys, or a
// conflict issue when a key is ambiguous.
func (ix *identityIndex) candidates(keys []AssociationKey) ([]*customerEntry, map[*customerEntry]AssociationKey, *Issue) {
	var found []*customerEntry
	via := make(map[*customerEntry]AssociationKey)
	for _, k := range keys {
		entries := ix.customers[k]
		if len(entries) > 1 {
			is := issue(CodeConflictingID, k.Field, "%s %s matches %d different customers", k.Field, k.Value, len(entries))
			return nil, nil, &is
		}
		if len(entries) == 1 {
			e := entries[0]
			if _, ok := via[e]; !ok {
				via[e] = k
				found = append(found, e)
			}
		}
	}
	return found, via, nil
}

func (a *Associator) resolveCustomer(ix *identityIndex, in Resolved, skipIndex bool) (Resolved, *Rejection) {
	rec := in.Record
	keys := recordCustomerKeys(rec)
	reject := func(is Issue) (Resolved, *Rejection) {
		return Resolved{}, &Rejection{Row: in.Row, Status: StatusFailed, Issue: is}
	}

	found, via, conflict := ix.candidates(customerKeys(rec.Kind, keys))
	if conflict != nil {
		return reject(*conflict)
	}
	if len(found) > 1 {
		k0, k1 := via[found[0]], via[found[1]]
		return reject(issue(CodeConflictingID, k1.Field,
			"%s %s and %s %s identify different customers", k0.Field, k0.Value, k1.Field, k1.Value))
	}

	if len(found) == 1 {
		e := found[0]
		k := via[e]
		if e.kind != rec.Kind {
			return reject(issue(CodeConflictingID, k.Field,
				"%s %s belongs to a %s, row is a %s", k.Field, k.Value, e.kind, rec.Kind))
		}
		// Identity keys must agree; a differing email is an update.
		for _, f := range []Field{primaryField(rec.Kind), FieldFiscalCode, FieldCustomerCode} {
			if have, want := e.keys[f], keys[f]; have != "" && want != "" && have != want {
				return reject(issue(CodeConflictingID, f,
					"%s %s matches a customer whose %s is %s, not %s", k.Field, k.Value, f, have, want))
			}
		}
		if !skipIndex {
			for f, v := range keys {
				if v != "" && e.keys[f] == "" {
					e.keys[f] = v
				}
			}
			for _, key := range customerKeys(rec.Kind, keys) {
				ix.register(e, key)
			}
		}
		in.Entity = e.entity
		return in, nil
	}

	e := &customerEntry{entity: ix.pending(), kind: rec.Kind, keys: keys}
	if !skipIndex {
		for _, key := range customerKeys(rec.Kind, keys) {
			ix.register(e, key)
		}
	}
	in.Entity = e.entity
	return in, nil
}

func (a *Associator) resolveContract(ix *identityIndex, in Resolved, skipIndex bool) (Resolved, *Rejection) {
	rec := in.Record
	spField := supplyPointField(rec.Kind)
	sp := rec.Text(spField)
	if sp == "" {
		// Reachable when validation is skipped; an empty key would merge
		// every such row into one contract.
		return Resolved{}, &Rejection{Row: in.Row, Status: StatusFailed,
			Issue: issue(CodeFieldValidation, spField, "%s is required to identify the contract", spField)}
	}

	if ce, ok := ix.contracts[sp]; ok {
		if ce.kind != rec.Kind {
			return Resolved{}, &Rejection{Row: in.Row, Status: StatusFailed,
				Issue: issue(CodeConflictingID, spField, "supply point %s is already a %s", sp, ce.kind)}
		}
		in.Entity = ce.entity
	} else {
		ce := &contractEntry{entity: ix.pending(), kind: rec.Kind}
		if !skipIndex {
			ix.contracts[sp] = ce
		}
		in.Entity = ce.entity
	}

	if skipIndex {
		in.CustomerRef = CustomerRef{
			CustomerCode: rec.Text(FieldCustomerCode),
			FiscalCode:   rec.Text(FieldFiscalCode),
			VATNumber:    rec.Text(FieldVATNumber),
			Email:        rec.Text(FieldEmail),
		}
		if in.CustomerRef.IsZero() {
			return Resolved{}, orphan(in.Row, "contract has no customer-identifying field")
		}
		return in, nil
	}

	keys := ownerKeys(rec)
	if len(keys) == 0 {
		return Resolved{}, orphan(in.Row, "contract has no customer-identifying field")
	}
	found, via, conflict := ix.candidates(keys)
	if conflict != nil {
		return Resolved{}, &Rejection{Row: in.Row, Status: StatusFailed, Issue: *conflict}
	}
	switch len(found) {
	case 0:
		return Resolved{}, orphan(in.Row, "no customer matches %s", describeKeys(keys))
	case 1:
		owner := found[0].entity
		in.Customer = &owner
		return in, nil
	default:
		k0, k1 := via[found[0]], via[found[1]]
		return Resolved{}, &Rejection{Row: in.Row, Status: StatusFailed,
			Issue: issue(CodeConflictingID, k1.Field, "%s %s and %s %s identify different customers", k0.Field, k0.Value, k1.Field, k1.Value)}
	}
}

func orphan(row int, format string, args ...any) *Rejection {
	return &Rejection{Row: row, Status: StatusSkipped, Issue: warning(CodeOrphanContract, "", format, args...)}
}

func describeKeys(keys []AssociationKey) string {
	parts := make([]string, 0, len(keys))
	seen := make(map[string]bool)
	for _, k := range keys {
		s := fmt.Sprintf("%s %s", k.Field, k.Value)
		if !seen[s] {
			seen[s] = true
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, ", ")
}

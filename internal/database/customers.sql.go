package database

import (
	"context"

	"github.com/jackc/pgx/v5/pgtype"
)

const customerColumns = `id, kind, fiscal_code, vat_number, customer_code, email, first_name, last_name,
    company_name, birth_date, phone, address, city, province, postal_code, privacy_consent,
    extra, run_id, created_at, updated_at`

// customerMergeSet applies non-null incoming values over the stored row.
// A row of another kind is left untouched and no row is returned.
const customerMergeSet = `
    fiscal_code     = COALESCE(EXCLUDED.fiscal_code, customers.fiscal_code),
    vat_number      = COALESCE(EXCLUDED.vat_number, customers.vat_number),
    customer_code   = COALESCE(EXCLUDED.customer_code, customers.customer_code),
    email           = COALESCE(EXCLUDED.email, customers.email),
    first_name      = COALESCE(EXCLUDED.first_name, customers.first_name),
    last_name       = COALESCE(EXCLUDED.last_name, customers.last_name),
    company_name    = COALESCE(EXCLUDED.company_name, customers.company_name),
    birth_date      = COALESCE(EXCLUDED.birth_date, customers.birth_date),
    phone           = COALESCE(EXCLUDED.phone, customers.phone),
    address         = COALESCE(EXCLUDED.address, customers.address),
    city            = COALESCE(EXCLUDED.city, customers.city),
    province        = COALESCE(EXCLUDED.province, customers.province),
    postal_code     = COALESCE(EXCLUDED.postal_code, customers.postal_code),
    privacy_consent = COALESCE(EXCLUDED.privacy_consent, customers.privacy_consent),
    extra           = CASE WHEN EXCLUDED.extra IS NULL THEN customers.extra
                           ELSE COALESCE(customers.extra, '{}'::jsonb) || EXCLUDED.extra END,
    run_id          = COALESCE(EXCLUDED.run_id, customers.run_id),
    updated_at      = now()
WHERE customers.kind = EXCLUDED.kind
RETURNING id, (xmax = 0) AS inserted
`

const customerInsert = `
INSERT INTO customers (
    kind, fiscal_code, vat_number, customer_code, email, first_name, last_name, company_name,
    birth_date, phone, address, city, province, postal_code, privacy_consent, extra, run_id
) VALUES (
    $1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17
)`

const upsertCustomerByFiscalCode = `-- name: UpsertCustomerByFiscalCode :one` +
	customerInsert + `
ON CONFLICT (fiscal_code) DO UPDATE SET` + customerMergeSet

const upsertCustomerByVatNumber = `-- name: UpsertCustomerByVatNumber :one` +
	customerInsert + `
ON CONFLICT (vat_number) DO UPDATE SET` + customerMergeSet

type UpsertCustomerParams struct {
	Kind           string
	FiscalCode     pgtype.Text
	VatNumber      pgtype.Text
	CustomerCode   pgtype.Text
	Email          pgtype.Text
	FirstName      pgtype.Text
	LastName       pgtype.Text
	CompanyName    pgtype.Text
	BirthDate      pgtype.Date
	Phone          pgtype.Text
	Address        pgtype.Text
	City           pgtype.Text
	Province       pgtype.Text
	PostalCode     pgtype.Text
	PrivacyConsent pgtype.Bool
	Extra          []byte
	RunID          pgtype.Text
}

func (arg UpsertCustomerParams) args() []interface{} {
	return []interface{}{
		arg.Kind,
		arg.FiscalCode,
		arg.VatNumber,
		arg.CustomerCode,
		arg.Email,
		arg.FirstName,
		arg.LastName,
		arg.CompanyName,
		arg.BirthDate,
		arg.Phone,
		arg.Address,
		arg.City,
		arg.Province,
		arg.PostalCode,
		arg.PrivacyConsent,
		arg.Extra,
		arg.RunID,
	}
}

type UpsertCustomerRow struct {
	ID       pgtype.UUID
	Inserted bool
}

func (q *Queries) UpsertCustomerByFiscalCode(ctx context.Context, arg UpsertCustomerParams) (UpsertCustomerRow, error) {
	row := q.db.QueryRow(ctx, upsertCustomerByFiscalCode, arg.args()...)
	var i UpsertCustomerRow
	err := row.Scan(&i.ID, &i.Inserted)
	return i, err
}

func (q *Queries) UpsertCustomerByVatNumber(ctx context.Context, arg UpsertCustomerParams) (UpsertCustomerRow, error) {
	row := q.db.QueryRow(ctx, upsertCustomerByVatNumber, arg.args()...)
	var i UpsertCustomerRow
	err := row.Scan(&i.ID, &i.Inserted)
	return i, err
}

const updateCustomer = `-- name: UpdateCustomer :one
UPDATE customers SET
    fiscal_code     = COALESCE($2, fiscal_code),
    vat_number      = COALESCE($3, vat_number),
    customer_code   = COALESCE($4, customer_code),
    email           = COALESCE($5, email),
    first_name      = COALESCE($6, first_name),
    last_name       = COALESCE($7, last_name),
    company_name    = COALESCE($8, company_name),
    birth_date      = COALESCE($9, birth_date),
    phone           = COALESCE($10, phone),
    address         = COALESCE($11, address),
    city            = COALESCE($12, city),
    province        = COALESCE($13, province),
    postal_code     = COALESCE($14, postal_code),
    privacy_consent = COALESCE($15, privacy_consent),
    extra           = CASE WHEN $16::jsonb IS NULL THEN extra
                           ELSE COALESCE(extra, '{}'::jsonb) || $16::jsonb END,
    run_id          = COALESCE($17, run_id),
    updated_at      = now()
WHERE id = $1
RETURNING id
`

type UpdateCustomerParams struct {
	ID pgtype.UUID
	UpsertCustomerParams
}

func (q *Queries) UpdateCustomer(ctx context.Context, arg UpdateCustomerParams) (pgtype.UUID, error) {
	args := arg.UpsertCustomerParams.args()
	args[0] = arg.ID // kind is immutable; $1 is the id
	row := q.db.QueryRow(ctx, updateCustomer, args...)
	var id pgtype.UUID
	err := row.Scan(&id)
	return id, err
}

const lookupCustomers = `-- name: LookupCustomers :many
SELECT ` + customerColumns + `
FROM customers
WHERE fiscal_code = ANY($1::text[])
   OR vat_number = ANY($2::text[])
   OR email = ANY($3::text[])
   OR customer_code = ANY($4::text[])
`

type LookupCustomersParams struct {
	FiscalCodes   []string
	VatNumbers    []string
	Emails        []string
	CustomerCodes []string
}

func (q *Queries) LookupCustomers(ctx context.Context, arg LookupCustomersParams) ([]Customer, error) {
	rows, err := q.db.Query(ctx, lookupCustomers,
		arg.FiscalCodes,
		arg.VatNumbers,
		arg.Emails,
		arg.CustomerCodes,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Customer
	for rows.Next() {
		var i Customer
		if err := rows.Scan(
			&i.ID,
			&i.Kind,
			&i.FiscalCode,
			&i.VatNumber,
			&i.CustomerCode,
			&i.Email,
			&i.FirstName,
			&i.LastName,
			&i.CompanyName,
			&i.BirthDate,
			&i.Phone,
			&i.Address,
			&i.City,
			&i.Province,
			&i.PostalCode,
			&i.PrivacyConsent,
			&i.Extra,
			&i.RunID,
			&i.CreatedAt,
			&i.UpdatedAt,
		); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

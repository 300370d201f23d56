package database

import (
	"context"

	"github.com/jackc/pgx/v5/pgtype"
)

const upsertContract = `-- name: UpsertContract :one
INSERT INTO contracts (
    kind, supply_point, customer_id, activation_date, end_date, supplier, offer_name,
    annual_consumption, contracted_power, supply_use, green_energy, extra, run_id
) VALUES (
    $1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13
)
ON CONFLICT (supply_point) DO UPDATE SET
    kind               = EXCLUDED.kind,
    customer_id        = EXCLUDED.customer_id,
    activation_date    = COALESCE(EXCLUDED.activation_date, contracts.activation_date),
    end_date           = COALESCE(EXCLUDED.end_date, contracts.end_date),
    supplier           = COALESCE(EXCLUDED.supplier, contracts.supplier),
    offer_name         = COALESCE(EXCLUDED.offer_name, contracts.offer_name),
    annual_consumption = COALESCE(EXCLUDED.annual_consumption, contracts.annual_consumption),
    contracted_power   = COALESCE(EXCLUDED.contracted_power, contracts.contracted_power),
    supply_use         = COALESCE(EXCLUDED.supply_use, contracts.supply_use),
    green_energy       = COALESCE(EXCLUDED.green_energy, contracts.green_energy),
    extra              = CASE WHEN EXCLUDED.extra IS NULL THEN contracts.extra
                              ELSE COALESCE(contracts.extra, '{}'::jsonb) || EXCLUDED.extra END,
    run_id             = COALESCE(EXCLUDED.run_id, contracts.run_id),
    updated_at         = now()
RETURNING id, (xmax = 0) AS inserted
`

type UpsertContractParams struct {
	Kind              string
	SupplyPoint       string
	CustomerID        pgtype.UUID
	ActivationDate    pgtype.Date
	EndDate           pgtype.Date
	Supplier          pgtype.Text
	OfferName         pgtype.Text
	AnnualConsumption pgtype.Numeric
	ContractedPower   pgtype.Numeric
	SupplyUse         pgtype.Text
	GreenEnergy       pgtype.Bool
	Extra             []byte
	RunID             pgtype.Text
}

type UpsertContractRow struct {
	ID       pgtype.UUID
	Inserted bool
}

func (q *Queries) UpsertContract(ctx context.Context, arg UpsertContractParams) (UpsertContractRow, error) {
	row := q.db.QueryRow(ctx, upsertContract,
		arg.Kind,
		arg.SupplyPoint,
		arg.CustomerID,
		arg.ActivationDate,
		arg.EndDate,
		arg.Supplier,
		arg.OfferName,
		arg.AnnualConsumption,
		arg.ContractedPower,
		arg.SupplyUse,
		arg.GreenEnergy,
		arg.Extra,
		arg.RunID,
	)
	var i UpsertContractRow
	err := row.Scan(&i.ID, &i.Inserted)
	return i, err
}

const lookupContracts = `-- name: LookupContracts :many
SELECT id, kind, supply_point, customer_id, activation_date, end_date, supplier, offer_name,
    annual_consumption, contracted_power, supply_use, green_energy, extra, run_id,
    created_at, updated_at
FROM contracts
WHERE supply_point = ANY($1::text[])
`

func (q *Queries) LookupContracts(ctx context.Context, supplyPoints []string) ([]Contract, error) {
	rows, err := q.db.Query(ctx, lookupContracts, supplyPoints)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Contract
	for rows.Next() {
		var i Contract
		if err := rows.Scan(
			&i.ID,
			&i.Kind,
			&i.SupplyPoint,
			&i.CustomerID,
			&i.ActivationDate,
			&i.EndDate,
			&i.Supplier,
			&i.OfferName,
			&i.AnnualConsumption,
			&i.ContractedPower,
			&i.SupplyUse,
			&i.GreenEnergy,
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

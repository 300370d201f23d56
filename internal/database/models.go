package database

import (
	"github.com/jackc/pgx/v5/pgtype"
)

type Customer struct {
	ID             pgtype.UUID
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
	CreatedAt      pgtype.Timestamptz
	UpdatedAt      pgtype.Timestamptz
}

type Contract struct {
	ID                pgtype.UUID
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
	CreatedAt         pgtype.Timestamptz
	UpdatedAt         pgtype.Timestamptz
}

type ImportRun struct {
	ID              string
	FileName        string
	ClientIP        string
	UserAgent       string
	Status          string
	Stage           string
	DryRun          bool
	TotalRows       int32
	ProcessedRows   int32
	InsertedRows    int32
	UpdatedRows     int32
	SkippedRows     int32
	ErrorRows       int32
	Options         []byte
	Mapping         []byte
	Failure         []byte
	ErrorReport     []byte
	Outcomes        []byte
	StartedAt       pgtype.Timestamptz
	FinishedAt      pgtype.Timestamptz
	DurationSeconds float64
}

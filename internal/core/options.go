package core

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
)

// DefaultBatchSize is the number of records committed per transaction.
const DefaultBatchSize = 100

// Options controls one import run.
type Options struct {
	DryRun              bool             `json:"dry_run"`
	AutoDetectType      bool             `json:"auto_detect_type"`
	FixedKind           EntityKind       `json:"fixed_kind,omitempty"` // used when AutoDetectType is false
	SkipValidation      bool             `json:"skip_validation"`
	SkipAssociation     bool             `json:"skip_association"`
	BatchSize           int              `json:"batch_size" validate:"gte=1,lte=10000"`
	ConfidenceThreshold float64          `json:"confidence_threshold" validate:"gte=0,lte=1"`
	ColumnMapping       map[string]Field `json:"column_mapping,omitempty"` // source header -> canonical field
	FileKind            FileKind         `json:"file_kind,omitempty" validate:"omitempty,oneof=csv xlsx"`
}

// DefaultOptions returns the documented defaults: auto-detection on,
// batches of 100, confidence threshold 0.3, writes enabled.
func DefaultOptions() Options {
	return Options{
		AutoDetectType:      true,
		BatchSize:           DefaultBatchSize,
		ConfidenceThreshold: DefaultConfThreshold,
	}
}

var optionsValidate = validator.New()

// Validate checks the options. The returned error wraps ErrInvalidOptions.
func (o Options) Validate() error {
	var errs []error
	if err := optionsValidate.Struct(o); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			for _, fe := range verrs {
				errs = append(errs, fmt.Errorf("%s: failed %s=%s", fe.Field(), fe.Tag(), fe.Param()))
			}
		} else {
			errs = append(errs, err)
		}
	}
	if !o.AutoDetectType {
		if _, ok := Get(o.FixedKind); !ok {
			errs = append(errs, fmt.Errorf("fixed kind %q is not a known record kind", o.FixedKind))
		}
	}
	for src, f := range o.ColumnMapping {
		if f == "" {
			continue
		}
		if _, ok := fieldCatalog[f]; !ok {
			errs = append(errs, fmt.Errorf("column %q maps to unknown field %q", src, f))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidOptions, errors.Join(errs...))
	}
	return nil
}

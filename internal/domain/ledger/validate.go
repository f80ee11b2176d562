package ledger

import (
	"errors"
	"reflect"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"pharmaledger/internal/core/apperror"
)

var recordValidator = newRecordValidator()

func newRecordValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Compare decimals numerically so gte/gt tags apply to prices and rates.
	v.RegisterCustomTypeFunc(func(field reflect.Value) any {
		if d, ok := field.Interface().(decimal.Decimal); ok {
			return d.InexactFloat64()
		}
		return nil
	}, decimal.Decimal{})
	return v
}

// validateRecord applies the field constraints of an allocation record.
func validateRecord(r AllocationRecord) error {
	err := recordValidator.Struct(r)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		fe := fieldErrs[0]
		return apperror.NewValidation("allocation record is invalid").
			WithDetail("field", fe.Field()).
			WithDetail("rule", fe.Tag()).
			WithDetail("batchId", r.BatchID.String()).
			WithDetail("lineNo", r.LineNo)
	}
	return apperror.NewValidation("allocation record is invalid").WithCause(err)
}

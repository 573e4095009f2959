package service

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"

	"koperasi/backend/internal/store"
)

var quantityFields = map[string]bool{
	"Quantity":        true,
	"CountedQuantity": true,
}

// checkRequest runs struct validation. Failures on quantity fields surface as
// ErrInvalidQuantity, everything else as ErrInvalidTransaction.
func checkRequest(v *validator.Validate, req any) error {
	err := v.Struct(req)
	if err == nil {
		return nil
	}

	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		return fmt.Errorf("%w: %v", store.ErrInvalidTransaction, err)
	}

	fields := make([]string, 0, len(validationErrors))
	quantity := false
	for _, fe := range validationErrors {
		fields = append(fields, fmt.Sprintf("%s(%s)", fe.Field(), fe.Tag()))
		if quantityFields[fe.Field()] {
			quantity = true
		}
	}
	sort.Strings(fields)

	kind := store.ErrInvalidTransaction
	if quantity {
		kind = store.ErrInvalidQuantity
	}
	return fmt.Errorf("%w: %s", kind, strings.Join(fields, ", "))
}

package api

import (
	"errors"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/warp/stock-ledger/ledger"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	// report JSON names, not Go field names
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	v.RegisterValidation("bizdate", func(fl validator.FieldLevel) bool {
		_, err := ledger.ParseDate(fl.Field().String())
		return err == nil
	})
	return v
}

// validationFields maps each failing field to the tag it failed.
func validationFields(err error) map[string]string {
	var ves validator.ValidationErrors
	if !errors.As(err, &ves) {
		return nil
	}
	out := make(map[string]string, len(ves))
	for _, ve := range ves {
		out[fieldPath(ve.Namespace())] = ve.Tag()
	}
	return out
}

// fieldPath drops the struct name from a namespace such as
// "CreateAdjustmentRequest.items[0].product_id".
func fieldPath(ns string) string {
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		return ns[i+1:]
	}
	return ns
}

// validateStruct checks v's tags and returns a ledger.ValidationError naming
// the first failing field, so the handler error path treats it as bad input.
func validateStruct(v any) (map[string]string, error) {
	err := validate.Struct(v)
	if err == nil {
		return nil, nil
	}
	fields := validationFields(err)
	if len(fields) == 0 {
		return nil, &ledger.ValidationError{Reason: err.Error()}
	}
	var ves validator.ValidationErrors
	errors.As(err, &ves)
	first := ves[0]
	return fields, &ledger.ValidationError{Field: fieldPath(first.Namespace()), Reason: "failed " + first.Tag()}
}

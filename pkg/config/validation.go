package config

import (
	"reflect"

	kerr "github.com/StricklySoft/stricklysoft-faultcore/pkg/errors"
)

// Validator is implemented by configuration structs that check their own
// invariants. [Loader.Load] calls Validate after required-field checks
// pass. Errors already in the taxonomy are returned unchanged; anything
// else is wrapped as PARAM_001.
type Validator interface {
	Validate() error
}

func validate(cfg any, rv reflect.Value) error {
	if err := validateRequired(rv, ""); err != nil {
		return err
	}
	v, ok := cfg.(Validator)
	if !ok {
		return nil
	}
	if err := v.Validate(); err != nil {
		if _, isKerr := kerr.AsError(err); isKerr {
			return err
		}
		return kerr.Wrap(err, kerr.CodeInvalidParam, "config: validation failed")
	}
	return nil
}

// validateRequired walks nested structs and reports the first field
// tagged `required:"true"` that is still zero, by dotted path.
func validateRequired(rv reflect.Value, path string) error {
	rt := rv.Type()
	for i := 0; i < rt.NumField(); i++ {
		field, sf := rv.Field(i), rt.Field(i)
		if !field.CanSet() {
			continue
		}
		fieldPath := sf.Name
		if path != "" {
			fieldPath = path + "." + sf.Name
		}
		if nested(field) {
			if err := validateRequired(field, fieldPath); err != nil {
				return err
			}
			continue
		}
		if sf.Tag.Get("required") == "true" && field.IsZero() {
			return kerr.Newf(kerr.CodeInvalidParam, "config: required field %q is empty", fieldPath).
				WithDetail("field", fieldPath)
		}
	}
	return nil
}

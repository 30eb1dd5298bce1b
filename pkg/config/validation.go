package config

import (
	"reflect"
	"strings"

	sserr "github.com/StricklySoft/authgate/pkg/errors"
)

// Validator is implemented by configuration structs with cross-field
// rules. [Loader.Load] calls Validate after the required-tag check passes.
// An *sserr.Error is returned unchanged; any other error is wrapped with
// [sserr.CodeValidation].
//
//	func (c *Config) Validate() error {
//	    if c.MinInterval <= 0 {
//	        return sserr.New(sserr.CodeValidation, "replay: min interval must be positive")
//	    }
//	    return nil
//	}
type Validator interface {
	Validate() error
}

// validate runs the required-tag check and then the optional Validator.
// Every empty required field is named in one error so a misconfigured
// deployment can be fixed in a single pass.
func validate(cfg any, rv reflect.Value) error {
	if missing := missingRequired(rv, "", nil); len(missing) > 0 {
		if len(missing) == 1 {
			return sserr.Newf(sserr.CodeValidationRequired,
				"config: required field %q is empty", missing[0])
		}
		return sserr.Newf(sserr.CodeValidationRequired,
			"config: required fields are empty: %s", strings.Join(missing, ", "))
	}

	v, ok := cfg.(Validator)
	if !ok {
		return nil
	}
	err := v.Validate()
	if err == nil {
		return nil
	}
	if _, isSSErr := sserr.AsError(err); isSSErr {
		return err
	}
	return sserr.Wrap(err, sserr.CodeValidation, "config: custom validation failed")
}

// missingRequired appends the dotted path (e.g. "Postgres.URI") of every
// zero-valued `required:"true"` field under rv.
func missingRequired(rv reflect.Value, path string, missing []string) []string {
	rt := rv.Type()
	for i := 0; i < rt.NumField(); i++ {
		field := rv.Field(i)
		sf := rt.Field(i)
		if !field.CanSet() {
			continue
		}

		fieldPath := sf.Name
		if path != "" {
			fieldPath = path + "." + sf.Name
		}

		if field.Kind() == reflect.Struct && sf.Type != durationType {
			missing = missingRequired(field, fieldPath, missing)
			continue
		}
		if sf.Tag.Get("required") == "true" && field.IsZero() {
			missing = append(missing, fieldPath)
		}
	}
	return missing
}

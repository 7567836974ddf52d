package backend

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"
)

const optionTag = "option"

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(optionName)
	return v
}

// DecodeOptions decodes string options into the struct pointed to by target.
// Fields are matched by their `option` tag, values are converted to the field
// type, unknown keys are rejected and `validate` tags are checked. Fields not
// present in options keep their current value, so defaults are set on target
// before decoding.
func DecodeOptions(backend string, options map[string]string, target any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           target,
		TagName:          optionTag,
		WeaklyTypedInput: true,
		ErrorUnused:      true,
	})
	if err != nil {
		return ConfigurationFault(backend, "configure", err)
	}

	if err := dec.Decode(options); err != nil {
		return ConfigurationFault(backend, "configure", err)
	}

	if err := validate.Struct(target); err != nil {
		return ConfigurationFault(backend, "configure", describeValidation(err))
	}
	return nil
}

func describeValidation(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}

	problems := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		switch fe.Tag() {
		case "required":
			problems = append(problems, fmt.Sprintf("option %q is required", fe.Field()))
		case "oneof":
			problems = append(problems, fmt.Sprintf("option %q must be one of [%s]", fe.Field(), fe.Param()))
		default:
			problems = append(problems, fmt.Sprintf("option %q failed %q check", fe.Field(), fe.Tag()))
		}
	}
	return errors.New(strings.Join(problems, "; "))
}

func optionName(fld reflect.StructField) string {
	name, _, _ := strings.Cut(fld.Tag.Get(optionTag), ",")
	if name == "" || name == "-" {
		return fld.Name
	}
	return name
}

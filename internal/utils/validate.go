package utils

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

var Validate = validator.New()

func init() {
	// Report fields by their JSON name.
	Validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
}

// DecodeAndValidate reads a JSON body into dst and runs its validate tags.
// An empty body decodes to the zero value. The returned error is safe to
// show to the caller.
func DecodeAndValidate(r *http.Request, dst interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("invalid JSON format: %w", err)
	}

	err := Validate.Struct(dst)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}

	errMessages := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := strings.ReplaceAll(fe.Field(), "_", " ")
		switch fe.Tag() {
		case "required":
			errMessages = append(errMessages, field+" is required")
		case "max":
			errMessages = append(errMessages, field+" is too long")
		default:
			errMessages = append(errMessages, field+" is invalid")
		}
	}
	return errors.New(strings.Join(errMessages, "; "))
}

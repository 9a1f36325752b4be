package httpapi

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"dwell/internal/platform/hostname"
	"dwell/internal/platform/localday"
)

var validate *validator.Validate

// A single validator instance is shared because it caches struct parsing.
// Field names follow json tags so errors address wire fields such as
// "sessions[1].endTime".
func init() {
	validate = validator.New()
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	mustRegister("localdate", func(fl validator.FieldLevel) bool {
		str, ok := fl.Field().Interface().(string)
		if !ok {
			return false
		}
		_, err := localday.ParseDate(str)
		return err == nil
	})
	mustRegister("domainname", func(fl validator.FieldLevel) bool {
		str, ok := fl.Field().Interface().(string)
		return ok && hostname.Valid(str)
	})
}

func mustRegister(tag string, fn validator.Func) {
	if err := validate.RegisterValidation(tag, fn); err != nil {
		panic(err)
	}
}

// Response represents a generic HTTP response.
type Response struct {
	Message string  `json:"message"`
	Code    string  `json:"code,omitempty"`
	Errors  []Error `json:"errors,omitempty"`
}

// Error represents a scoped error to a user input.
type Error struct {
	Field  string `json:"field"`
	Detail string `json:"detail"`
}

// Validate checks value against its validate tags. A nil result means the
// value is valid.
func Validate(value any) ([]Error, error) {
	err := validate.Struct(value)
	if err == nil {
		return nil, nil
	}
	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		return nil, err
	}
	apiErrors := make([]Error, 0, len(validationErrors))
	for _, validationError := range validationErrors {
		apiErrors = append(apiErrors, Error{
			Field:  fieldPath(validationError.Namespace()),
			Detail: fmt.Sprintf("Validation failed for tag %q with value: \"%v\"", validationError.Tag(), validationError.Value()),
		})
	}
	return apiErrors, nil
}

// fieldPath drops the root struct name from a validator namespace.
func fieldPath(namespace string) string {
	if _, rest, ok := strings.Cut(namespace, "."); ok {
		return rest
	}
	return namespace
}

// Write outputs a standardized format to an HTTP response body.
func Write(rw http.ResponseWriter, status int, response any) {
	buf := &bytes.Buffer{}
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(true)
	if err := enc.Encode(response); err != nil {
		http.Error(rw, err.Error(), http.StatusInternalServerError)
		return
	}
	rw.Header().Set("Content-Type", "application/json; charset=utf-8")
	rw.WriteHeader(status)
	_, _ = rw.Write(buf.Bytes())
}

// Read decodes JSON from the request into value and validates it. On
// failure the response has already been written.
func Read(rw http.ResponseWriter, r *http.Request, value any) bool {
	if err := json.NewDecoder(r.Body).Decode(value); err != nil {
		Write(rw, http.StatusBadRequest, Response{
			Message: fmt.Sprintf("read body: %s", err.Error()),
			Code:    "invalid_body",
		})
		return false
	}
	apiErrors, err := Validate(value)
	if err != nil {
		Write(rw, http.StatusInternalServerError, Response{
			Message: fmt.Sprintf("validation: %s", err.Error()),
		})
		return false
	}
	if len(apiErrors) > 0 {
		Write(rw, http.StatusBadRequest, Response{
			Message: "Validation failed",
			Code:    "validation_failed",
			Errors:  apiErrors,
		})
		return false
	}
	return true
}

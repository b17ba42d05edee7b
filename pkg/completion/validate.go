package completion

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrInvalidArguments means the model called the function with arguments
// that do not fit its schema.
var ErrInvalidArguments = errors.New("completion: function arguments do not match schema")

// Validation error codes.
const (
	CodeRequired      = "required"
	CodeTypeMismatch  = "type_mismatch"
	CodeEnumViolation = "enum_violation"
)

type ValidationError struct {
	Field   string
	Message string
	Code    string
	Value   any
}

func (e ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s", e.Field, e.Message)
	}
	return e.Message
}

type ValidationErrors []ValidationError

func (errs ValidationErrors) Error() string {
	messages := make([]string, 0, len(errs))
	for _, e := range errs {
		messages = append(messages, e.Error())
	}
	return strings.Join(messages, "; ")
}

// Fatal reports whether any error makes the arguments unusable. Enum
// violations are not fatal; the offending field is dropped instead.
func (errs ValidationErrors) Fatal() bool {
	for _, e := range errs {
		if e.Code != CodeEnumViolation {
			return true
		}
	}
	return false
}

// ValidateArguments checks args against a JSON schema object as used in
// Function.Parameters. Scalars are coerced where the conversion is lossless
// and fields with out-of-enum values are left out of the result.
func ValidateArguments(schema map[string]any, args map[string]any) (map[string]any, ValidationErrors) {
	var errs ValidationErrors
	result := make(map[string]any, len(args))
	properties, _ := schema["properties"].(map[string]any)

	for _, name := range stringList(schema["required"]) {
		if _, ok := args[name]; !ok {
			errs = append(errs, ValidationError{Field: name, Message: "required field is missing", Code: CodeRequired})
		}
	}

	for key, value := range args {
		prop, ok := properties[key].(map[string]any)
		if !ok {
			result[key] = value
			continue
		}
		validated, propErrs := validateProperty(key, value, prop)
		errs = append(errs, propErrs...)
		if validated != nil {
			result[key] = validated
		}
	}
	return result, errs
}

func validateProperty(path string, value any, schema map[string]any) (any, ValidationErrors) {
	typ, _ := schema["type"].(string)
	switch typ {
	case "string":
		str, ok := value.(string)
		if !ok {
			switch v := value.(type) {
			case float64, bool:
				str = fmt.Sprint(v)
			default:
				return nil, ValidationErrors{mismatch(path, "string", value)}
			}
		}
		if enum := stringList(schema["enum"]); len(enum) > 0 && !contains(enum, str) {
			return nil, ValidationErrors{{
				Field:   path,
				Message: fmt.Sprintf("value must be one of: %s", strings.Join(enum, ", ")),
				Code:    CodeEnumViolation,
				Value:   str,
			}}
		}
		return str, nil
	case "number", "integer":
		switch v := value.(type) {
		case float64:
			return v, nil
		case string:
			f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
			if err != nil {
				return nil, ValidationErrors{mismatch(path, typ, value)}
			}
			return f, nil
		}
		return nil, ValidationErrors{mismatch(path, typ, value)}
	case "boolean":
		switch v := value.(type) {
		case bool:
			return v, nil
		case string:
			b, err := strconv.ParseBool(v)
			if err != nil {
				return nil, ValidationErrors{mismatch(path, typ, value)}
			}
			return b, nil
		}
		return nil, ValidationErrors{mismatch(path, typ, value)}
	case "array":
		items, ok := value.([]any)
		if !ok {
			return nil, ValidationErrors{mismatch(path, typ, value)}
		}
		itemSchema, _ := schema["items"].(map[string]any)
		if itemSchema == nil {
			return items, nil
		}
		var errs ValidationErrors
		out := make([]any, 0, len(items))
		for i, item := range items {
			v, itemErrs := validateProperty(fmt.Sprintf("%s[%d]", path, i), item, itemSchema)
			errs = append(errs, itemErrs...)
			if v != nil {
				out = append(out, v)
			}
		}
		return out, errs
	case "object":
		obj, ok := value.(map[string]any)
		if !ok {
			return nil, ValidationErrors{mismatch(path, typ, value)}
		}
		return obj, nil
	}
	return value, nil
}

func mismatch(path, want string, value any) ValidationError {
	return ValidationError{
		Field:   path,
		Message: fmt.Sprintf("expected %s, got %s", want, typeName(value)),
		Code:    CodeTypeMismatch,
		Value:   value,
	}
}

func typeName(value any) string {
	switch value.(type) {
	case nil:
		return "null"
	case string:
		return "string"
	case float64:
		return "number"
	case bool:
		return "boolean"
	case []any:
		return "array"
	case map[string]any:
		return "object"
	}
	return fmt.Sprintf("%T", value)
}

func stringList(v any) []string {
	switch list := v.(type) {
	case []string:
		return list
	case []any:
		out := make([]string, 0, len(list))
		for _, item := range list {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func contains(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}

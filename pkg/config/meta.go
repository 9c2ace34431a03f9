package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

type FieldType string

const (
	FieldTypeNumber   FieldType = "number"
	FieldTypeText     FieldType = "text"
	FieldTypeDuration FieldType = "duration"
	FieldTypeCheckbox FieldType = "checkbox"
	FieldTypeList     FieldType = "list"
)

var ErrMissingField = errors.New("missing required field")

type Field struct {
	Name         string    `json:"name"`
	Type         FieldType `json:"type"`
	Label        string    `json:"label"`
	DefaultValue string    `json:"defaultValue,omitempty"`
	HelpText     string    `json:"helpText,omitempty"`
	Required     bool      `json:"required,omitempty"`
}

type FieldGroup struct {
	Name   string  `json:"name"`
	Label  string  `json:"label"`
	Fields []Field `json:"fields"`
}

// Resolve validates raw against fields and returns a copy with defaults
// filled in. Unknown keys are kept as they are.
func Resolve(fields []Field, raw map[string]string) (map[string]string, error) {
	resolved := make(map[string]string, len(raw)+len(fields))
	for k, v := range raw {
		resolved[k] = strings.TrimSpace(v)
	}

	var errs []error
	for _, f := range fields {
		v := resolved[f.Name]
		if v == "" && f.DefaultValue != "" {
			v = f.DefaultValue
			resolved[f.Name] = v
		}
		if v == "" {
			if f.Required {
				errs = append(errs, fmt.Errorf("%w: %s", ErrMissingField, f.Name))
			}
			continue
		}

		switch f.Type {
		case FieldTypeNumber:
			if _, err := strconv.Atoi(v); err != nil {
				errs = append(errs, fmt.Errorf("field %s: %q is not a number", f.Name, v))
			}
		case FieldTypeDuration:
			if _, err := time.ParseDuration(v); err != nil {
				errs = append(errs, fmt.Errorf("field %s: %q is not a duration", f.Name, v))
			}
		case FieldTypeCheckbox:
			if _, err := strconv.ParseBool(v); err != nil {
				errs = append(errs, fmt.Errorf("field %s: %q is not a boolean", f.Name, v))
			}
		}
	}

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return resolved, nil
}

// List splits a comma separated value, dropping empty entries.
func List(v string) []string {
	var list []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			list = append(list, item)
		}
	}
	return list
}

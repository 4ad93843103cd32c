package domain

import (
	"sort"
	"time"
	"unicode/utf8"
)

// FieldType describes the accepted shape of a field value.
type FieldType string

const (
	FieldString FieldType = "string"
	// FieldDate is an ISO-8601 calendar date (YYYY-MM-DD) carried as a string.
	FieldDate FieldType = "date"
)

const dateLayout = "2006-01-02"

// FieldSpec declares one field of a record schema.
type FieldSpec struct {
	Name      string
	Type      FieldType
	Required  bool
	MaxLength int
	// Unique fields may not share a value between two active records.
	Unique bool
}

// Schema is the set of fields a record may carry.
type Schema struct {
	Name   string
	fields map[string]FieldSpec
}

// NewSchema builds a schema from field specs.
func NewSchema(name string, specs ...FieldSpec) Schema {
	s := Schema{Name: name, fields: make(map[string]FieldSpec, len(specs))}
	for _, spec := range specs {
		if spec.Type == "" {
			spec.Type = FieldString
		}
		s.fields[spec.Name] = spec
	}
	return s
}

// PessoaSchema is the default person record.
var PessoaSchema = NewSchema("pessoa",
	FieldSpec{Name: "nome", Type: FieldString, Required: true, MaxLength: 120},
	FieldSpec{Name: "cpf", Type: FieldString, Required: true, MaxLength: 14, Unique: true},
	FieldSpec{Name: "data_nascimento", Type: FieldDate, Required: true},
)

// UniqueFields returns the names of unique fields, sorted.
func (s Schema) UniqueFields() []string {
	var out []string
	for name, spec := range s.fields {
		if spec.Unique {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// Validate checks changes against the schema. On create every required field must be present.
// A schema without fields accepts anything.
func (s Schema) Validate(changes Fields, create bool) error {
	if len(s.fields) == 0 {
		return nil
	}

	names := make([]string, 0, len(changes))
	for name := range changes {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		spec, ok := s.fields[name]
		if !ok {
			return ValidationError(name, "unknown field")
		}
		if err := spec.check(changes[name]); err != nil {
			return err
		}
	}

	if create {
		required := make([]string, 0, len(s.fields))
		for name, spec := range s.fields {
			if spec.Required {
				required = append(required, name)
			}
		}
		sort.Strings(required)
		for _, name := range required {
			if _, ok := changes[name]; !ok {
				return ValidationError(name, "required")
			}
		}
	}
	return nil
}

func (f FieldSpec) check(value any) error {
	if value == nil {
		if f.Required {
			return ValidationError(f.Name, "must not be null")
		}
		return nil
	}
	str, ok := value.(string)
	if !ok {
		return ValidationError(f.Name, "must be a string")
	}
	if f.Required && str == "" {
		return ValidationError(f.Name, "must not be empty")
	}
	if f.MaxLength > 0 && utf8.RuneCountInString(str) > f.MaxLength {
		return ValidationError(f.Name, "too long")
	}
	if f.Type == FieldDate {
		if _, err := time.Parse(dateLayout, str); err != nil {
			return ValidationError(f.Name, "must be a date in YYYY-MM-DD format")
		}
	}
	return nil
}

package attr

import (
	"fmt"
)

// FieldType defines the expected data type of an attribute field.
type FieldType uint8

const (
	FieldTypeAny FieldType = iota
	FieldTypeInt
	FieldTypeFloat
	FieldTypeString
	FieldTypeBool
	FieldTypeArray
)

// String returns the string representation of the FieldType.
func (t FieldType) String() string {
	switch t {
	case FieldTypeAny:
		return "Any"
	case FieldTypeInt:
		return "Int"
	case FieldTypeFloat:
		return "Float"
	case FieldTypeString:
		return "String"
	case FieldTypeBool:
		return "Bool"
	case FieldTypeArray:
		return "Array"
	default:
		return "Unknown"
	}
}

// Schema defines the expected structure of an attribute document.
//
// Fields absent from the schema are accepted with any kind; a nil Schema
// accepts everything.
type Schema map[string]FieldType

// Validate checks if the given document conforms to the schema.
func (s Schema) Validate(doc Document) error {
	if s == nil {
		return nil
	}
	for k, v := range doc {
		expectedType, ok := s[k]
		if !ok {
			continue
		}

		if !checkKind(v.Kind, expectedType) {
			return fmt.Errorf("field %q has invalid type %s, expected %s", k, v.Kind, expectedType)
		}
	}
	return nil
}

func checkKind(k Kind, expected FieldType) bool {
	if k == KindNull {
		// Null is accepted for any declared field type.
		return true
	}
	switch expected {
	case FieldTypeAny:
		return true
	case FieldTypeInt:
		return k == KindInt
	case FieldTypeFloat:
		return k == KindFloat || k == KindInt
	case FieldTypeString:
		return k == KindString
	case FieldTypeBool:
		return k == KindBool
	case FieldTypeArray:
		return k == KindArray
	default:
		return false
	}
}

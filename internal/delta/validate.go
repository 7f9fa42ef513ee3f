package delta

import "fmt"

// ValidationError reports a structurally malformed delta. The server
// maps it to HTTP 400.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("delta: invalid %s: %s", e.Field, e.Reason)
}

// Validator is one pure per-delta check. Validators must not mutate
// the delta.
type Validator func(d *RowDelta) error

// Pipeline composes validators into one; the first failure wins.
func Pipeline(validators ...Validator) Validator {
	return func(d *RowDelta) error {
		for _, v := range validators {
			if err := v(d); err != nil {
				return err
			}
		}

		return nil
	}
}

// IdentifierSafety rejects deltas whose table or column names cannot be
// safely spliced into SQL statements and object keys.
func IdentifierSafety() Validator {
	return func(d *RowDelta) error {
		if !SafeIdentifier(d.Table) {
			return &ValidationError{Field: "table", Reason: fmt.Sprintf("unsafe identifier %q", d.Table)}
		}
		for i := range d.Columns {
			if !SafeIdentifier(d.Columns[i].Column) {
				return &ValidationError{
					Field:  "columns",
					Reason: fmt.Sprintf("unsafe column identifier %q", d.Columns[i].Column),
				}
			}
		}

		return nil
	}
}

// Shape rejects deltas missing required identity fields. Column
// content is the schema manager's concern, not shape's.
func Shape() Validator {
	return func(d *RowDelta) error {
		switch d.Op {
		case OpInsert, OpUpdate, OpDelete:
		default:
			return &ValidationError{Field: "op", Reason: fmt.Sprintf("unknown operation %q", d.Op)}
		}
		if d.Table == "" {
			return &ValidationError{Field: "table", Reason: "empty"}
		}
		if d.RowID == "" {
			return &ValidationError{Field: "rowId", Reason: "empty"}
		}
		if d.ClientID == "" {
			return &ValidationError{Field: "clientId", Reason: "empty"}
		}
		if d.HLC == 0 {
			return &ValidationError{Field: "hlc", Reason: "zero timestamp"}
		}

		return nil
	}
}

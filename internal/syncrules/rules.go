// Package syncrules filters delta streams by bucket definitions: each
// bucket names the tables a client may see and row-level predicates
// over column values, with operands resolvable from JWT claims.
package syncrules

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	"github.com/lakegate/lakegate/internal/delta"
)

// FilterOp enumerates the comparison operators a bucket filter may use.
type FilterOp string

// Filter operators as written in rules documents.
const (
	OpEq  FilterOp = "eq"
	OpNeq FilterOp = "neq"
	OpIn  FilterOp = "in"
	OpGt  FilterOp = "gt"
	OpLt  FilterOp = "lt"
	OpGte FilterOp = "gte"
	OpLte FilterOp = "lte"
)

// claimPrefix marks a filter operand that resolves from the caller's
// JWT claims at evaluation time.
const claimPrefix = "jwt:"

// Filter is one row-level predicate. Value holds either a literal or
// a "jwt:<claim>" reference.
type Filter struct {
	Column string   `yaml:"column" json:"column"`
	Op     FilterOp `yaml:"op" json:"op"`
	Value  any      `yaml:"value" json:"value"`
}

// Bucket is a named subset of tables and predicates a client is
// authorised to see. An empty table list covers every table.
type Bucket struct {
	Name    string   `yaml:"name" json:"name"`
	Tables  []string `yaml:"tables" json:"tables"`
	Filters []Filter `yaml:"filters" json:"filters"`
}

// Rules is a full bucket document.
type Rules struct {
	Buckets []Bucket `yaml:"buckets" json:"buckets"`
}

// Context pairs a rules document with one caller's claims for
// evaluation.
type Context struct {
	Claims map[string]any `json:"claims"`
	Rules  Rules          `json:"rules"`
}

// Validate checks the document's operators and identifiers.
func (r *Rules) Validate() error {
	for _, b := range r.Buckets {
		if b.Name == "" {
			return fmt.Errorf("syncrules: bucket without a name")
		}
		for _, table := range b.Tables {
			if !delta.SafeIdentifier(table) {
				return fmt.Errorf("syncrules: bucket %q: unsafe table %q", b.Name, table)
			}
		}
		for _, f := range b.Filters {
			if !delta.SafeIdentifier(f.Column) {
				return fmt.Errorf("syncrules: bucket %q: unsafe column %q", b.Name, f.Column)
			}
			switch f.Op {
			case OpEq, OpNeq, OpIn, OpGt, OpLt, OpGte, OpLte:
			default:
				return fmt.Errorf("syncrules: bucket %q: unknown operator %q", b.Name, f.Op)
			}
		}
	}

	return nil
}

// FilterDeltas returns the deltas the context's caller may see. A nil
// context or empty rules document passes everything through.
// A delta passes when at least one bucket admits it: the bucket covers
// the table and every filter matches. Deletes carry no columns, so
// table coverage alone decides them; clients need the tombstone to
// drop rows they once saw.
func FilterDeltas(in []delta.RowDelta, ctx *Context) []delta.RowDelta {
	if ctx == nil || len(ctx.Rules.Buckets) == 0 {
		return in
	}

	out := make([]delta.RowDelta, 0, len(in))
	for i := range in {
		if admits(&in[i], ctx) {
			out = append(out, in[i])
		}
	}

	return out
}

func admits(d *delta.RowDelta, ctx *Context) bool {
	for bi := range ctx.Rules.Buckets {
		b := &ctx.Rules.Buckets[bi]
		if len(b.Tables) > 0 && !slices.Contains(b.Tables, d.Table) {
			continue
		}
		if d.Op == delta.OpDelete && len(d.Columns) == 0 {
			return true
		}
		if matchesAll(d, b.Filters, ctx.Claims) {
			return true
		}
	}

	return false
}

func matchesAll(d *delta.RowDelta, filters []Filter, claims map[string]any) bool {
	for fi := range filters {
		if !matches(d, &filters[fi], claims) {
			return false
		}
	}

	return true
}

func matches(d *delta.RowDelta, f *Filter, claims map[string]any) bool {
	var got delta.Value
	found := false
	for i := range d.Columns {
		if d.Columns[i].Column == f.Column {
			got = d.Columns[i].Value
			found = true
			break
		}
	}
	if !found {
		return false
	}

	operand, ok := resolveOperand(f.Value, claims)
	if !ok {
		return false
	}

	switch f.Op {
	case OpEq:
		return valueEquals(got, operand)
	case OpNeq:
		return !valueEquals(got, operand)
	case OpIn:
		list, ok := operand.([]any)
		if !ok {
			return false
		}
		for _, item := range list {
			if valueEquals(got, item) {
				return true
			}
		}
		return false
	case OpGt, OpLt, OpGte, OpLte:
		cmp, ok := valueCompare(got, operand)
		if !ok {
			return false
		}
		switch f.Op {
		case OpGt:
			return cmp > 0
		case OpLt:
			return cmp < 0
		case OpGte:
			return cmp >= 0
		default:
			return cmp <= 0
		}
	default:
		return false
	}
}

// resolveOperand swaps "jwt:<claim>" references for the caller's claim
// value. A missing claim fails the filter rather than matching
// everything.
func resolveOperand(v any, claims map[string]any) (any, bool) {
	s, isString := v.(string)
	if !isString || !strings.HasPrefix(s, claimPrefix) {
		return v, true
	}

	claim, ok := claims[strings.TrimPrefix(s, claimPrefix)]

	return claim, ok
}

// valueEquals compares a column value with a filter operand across the
// tagged variants and the loosely typed YAML/JSON operand forms.
func valueEquals(v delta.Value, operand any) bool {
	switch v.Kind() {
	case delta.KindNull:
		return operand == nil
	case delta.KindBool:
		b, ok := operand.(bool)
		return ok && v.BoolVal() == b
	case delta.KindInt:
		n, ok := operandNumber(operand)
		return ok && float64(v.IntVal()) == n
	case delta.KindFloat:
		n, ok := operandNumber(operand)
		return ok && v.FloatVal() == n
	case delta.KindString:
		s, ok := operand.(string)
		return ok && v.StringVal() == s
	case delta.KindJSON:
		raw, err := json.Marshal(operand)
		if err != nil {
			return false
		}
		return v.Equal(delta.JSON(raw))
	default:
		return false
	}
}

// valueCompare orders a column value against an operand. Numbers order
// numerically, strings lexicographically; everything else is
// incomparable.
func valueCompare(v delta.Value, operand any) (int, bool) {
	switch v.Kind() {
	case delta.KindInt, delta.KindFloat:
		var left float64
		if v.Kind() == delta.KindInt {
			left = float64(v.IntVal())
		} else {
			left = v.FloatVal()
		}
		right, ok := operandNumber(operand)
		if !ok {
			return 0, false
		}
		switch {
		case left < right:
			return -1, true
		case left > right:
			return 1, true
		default:
			return 0, true
		}
	case delta.KindString:
		s, ok := operand.(string)
		if !ok {
			return 0, false
		}
		return strings.Compare(v.StringVal(), s), true
	default:
		return 0, false
	}
}

// operandNumber coerces the numeric forms YAML and JSON decoders
// produce into a float64.
func operandNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

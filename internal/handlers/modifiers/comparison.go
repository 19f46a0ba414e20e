// Package modifiers implements the modifier handlers: units that take a
// stream's post slice and return a (possibly filtered or mutated) slice in
// its place, applied in configured order before dedup.
package modifiers

import (
	"context"
	"fmt"
	"strconv"

	"go.feedmesh.dev/internal/handler"
	"go.feedmesh.dev/internal/post"
)

// Operator is one of the comparison operators the comparison modifier
// supports.
type Operator string

const (
	OperatorEqual       Operator = "="
	OperatorNotEqual    Operator = "!="
	OperatorGreaterThan Operator = ">"
	OperatorLessThan    Operator = "<"
)

// ValueType selects how ComparisonOptions.Value is interpreted before
// comparing against the post's field.
type ValueType string

const (
	ValueTypeString  ValueType = "string"
	ValueTypeInteger ValueType = "integer"
)

// ComparisonOptions filters posts whose Field, compared against Value
// using Operator, does not hold.
type ComparisonOptions struct {
	Field     string    `mapstructure:"field"`
	Operator  Operator  `mapstructure:"operator"`
	Value     string    `mapstructure:"value"`
	FieldType ValueType `mapstructure:"field_type"`
}

func (o *ComparisonOptions) Validate() error {
	if o.Field == "" {
		return fmt.Errorf("field is required")
	}
	switch o.Operator {
	case OperatorEqual, OperatorNotEqual, OperatorGreaterThan, OperatorLessThan:
	default:
		return fmt.Errorf("unknown operator %q", o.Operator)
	}
	if o.FieldType == "" {
		o.FieldType = ValueTypeString
	}
	switch o.FieldType {
	case ValueTypeString, ValueTypeInteger:
	default:
		return fmt.Errorf("unknown field_type %q", o.FieldType)
	}
	if o.FieldType == ValueTypeInteger {
		if _, err := strconv.ParseInt(o.Value, 10, 64); err != nil {
			return fmt.Errorf("value %q is not an integer: %w", o.Value, err)
		}
	}
	return nil
}

type comparisonModifier struct{}

func (comparisonModifier) Call(_ context.Context, callOptions handler.Options, payload any) (any, error) {
	opts, ok := callOptions.(*ComparisonOptions)
	if !ok {
		return nil, fmt.Errorf("modifiers/comparison: unexpected options type %T", callOptions)
	}
	posts, ok := payload.([]*post.Post)
	if !ok {
		return nil, fmt.Errorf("modifiers/comparison: unexpected payload type %T", payload)
	}

	kept := make([]*post.Post, 0, len(posts))
	for _, p := range posts {
		match, err := compare(p.TemplateKwargs()[opts.Field], opts)
		if err != nil {
			return nil, fmt.Errorf("modifiers/comparison: post %q: %w", p.PostID, err)
		}
		if match {
			kept = append(kept, p)
		}
	}
	return kept, nil
}

func compare(fieldValue any, opts *ComparisonOptions) (bool, error) {
	if opts.FieldType == ValueTypeInteger {
		return compareInt(fieldValue, opts)
	}
	return compareString(fmt.Sprint(fieldValue), opts)
}

func compareString(actual string, opts *ComparisonOptions) (bool, error) {
	switch opts.Operator {
	case OperatorEqual:
		return actual == opts.Value, nil
	case OperatorNotEqual:
		return actual != opts.Value, nil
	case OperatorGreaterThan:
		return actual > opts.Value, nil
	case OperatorLessThan:
		return actual < opts.Value, nil
	default:
		return false, fmt.Errorf("unknown operator %q", opts.Operator)
	}
}

func compareInt(fieldValue any, opts *ComparisonOptions) (bool, error) {
	actual, err := toInt64(fieldValue)
	if err != nil {
		return false, fmt.Errorf("field value %v is not an integer: %w", fieldValue, err)
	}
	want, err := strconv.ParseInt(opts.Value, 10, 64)
	if err != nil {
		return false, fmt.Errorf("value %q is not an integer: %w", opts.Value, err)
	}
	switch opts.Operator {
	case OperatorEqual:
		return actual == want, nil
	case OperatorNotEqual:
		return actual != want, nil
	case OperatorGreaterThan:
		return actual > want, nil
	case OperatorLessThan:
		return actual < want, nil
	default:
		return false, fmt.Errorf("unknown operator %q", opts.Operator)
	}
}

func toInt64(v any) (int64, error) {
	switch n := v.(type) {
	case int64:
		return n, nil
	case int:
		return int64(n), nil
	case float64:
		return int64(n), nil
	case string:
		return strconv.ParseInt(n, 10, 64)
	default:
		return 0, fmt.Errorf("unsupported type %T", v)
	}
}

func init() {
	handler.Register(handler.Registration{
		Kind:           handler.KindModifier,
		Name:           "comparison",
		NewFunc:        func() handler.Handler { return comparisonModifier{} },
		NewCallOptions: func() handler.Options { return &ComparisonOptions{} },
	})
}

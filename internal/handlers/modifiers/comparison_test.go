package modifiers

import (
	"context"
	"testing"

	"go.feedmesh.dev/internal/post"
)

func samplePosts() []*post.Post {
	return []*post.Post{
		{PostID: "p1", Fields: map[string]any{"score": 12, "title": "alpha"}},
		{PostID: "p2", Fields: map[string]any{"score": 3, "title": "beta"}},
		{PostID: "p3", Fields: map[string]any{"score": 12, "title": "gamma"}},
	}
}

func runComparison(t *testing.T, opts *ComparisonOptions) []*post.Post {
	t.Helper()
	if err := opts.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	out, err := comparisonModifier{}.Call(context.Background(), opts, samplePosts())
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	return out.([]*post.Post)
}

func TestComparisonFiltersByIntegerGreaterThan(t *testing.T) {
	kept := runComparison(t, &ComparisonOptions{Field: "score", Operator: OperatorGreaterThan, Value: "10", FieldType: ValueTypeInteger})
	if len(kept) != 2 {
		t.Fatalf("expected 2 posts kept, got %d", len(kept))
	}
}

func TestComparisonFiltersByStringEquals(t *testing.T) {
	kept := runComparison(t, &ComparisonOptions{Field: "title", Operator: OperatorEqual, Value: "beta"})
	if len(kept) != 1 || kept[0].PostID != "p2" {
		t.Fatalf("unexpected result: %+v", kept)
	}
}

func TestComparisonNotEqualExcludesMatch(t *testing.T) {
	kept := runComparison(t, &ComparisonOptions{Field: "title", Operator: OperatorNotEqual, Value: "beta"})
	if len(kept) != 2 {
		t.Fatalf("expected 2 posts kept, got %d", len(kept))
	}
}

func TestComparisonOptionsValidateRejectsBadOperator(t *testing.T) {
	opts := &ComparisonOptions{Field: "x", Operator: "regex", Value: "y"}
	if opts.Validate() == nil {
		t.Fatal("expected error for unknown operator")
	}
}

func TestComparisonOptionsValidateRejectsNonIntegerValue(t *testing.T) {
	opts := &ComparisonOptions{Field: "score", Operator: OperatorEqual, Value: "abc", FieldType: ValueTypeInteger}
	if opts.Validate() == nil {
		t.Fatal("expected error for non-integer value")
	}
}

func TestComparisonOptionsDefaultsFieldTypeToString(t *testing.T) {
	opts := &ComparisonOptions{Field: "title", Operator: OperatorEqual, Value: "beta"}
	if err := opts.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if opts.FieldType != ValueTypeString {
		t.Fatalf("expected default field_type string, got %q", opts.FieldType)
	}
}

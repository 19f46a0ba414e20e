package parsers

import (
	"context"
	"testing"

	"go.feedmesh.dev/internal/post"
)

const sampleJSONFlat = `[
	{"id": "p1", "title": "First"},
	{"id": "p2", "title": "Second"}
]`

const sampleJSONNested = `{
	"data": {
		"children": [
			{"id": "c1", "score": 12},
			{"id": "c2", "score": 3}
		]
	}
}`

func parseJSONFeed(t *testing.T, text string, opts *JSONFeedOptions) []*post.Post {
	t.Helper()
	out, err := jsonFeedParser{}.Call(context.Background(), opts, text)
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	return out.([]*post.Post)
}

func TestJSONFeedParsesFlatArray(t *testing.T) {
	posts := parseJSONFeed(t, sampleJSONFlat, &JSONFeedOptions{IDField: "id"})
	if len(posts) != 2 {
		t.Fatalf("expected 2 posts, got %d", len(posts))
	}
	if posts[0].PostID != "p1" || posts[0].Fields["title"] != "First" {
		t.Fatalf("unexpected post: %+v", posts[0])
	}
}

func TestJSONFeedParsesNestedPath(t *testing.T) {
	posts := parseJSONFeed(t, sampleJSONNested, &JSONFeedOptions{ItemsPath: "data.children", IDField: "id"})
	if len(posts) != 2 {
		t.Fatalf("expected 2 posts, got %d", len(posts))
	}
	if posts[0].PostID != "c1" || posts[1].Fields["score"] != float64(3) {
		t.Fatalf("unexpected posts: %+v", posts)
	}
}

func TestJSONFeedMissingIDFieldErrors(t *testing.T) {
	_, err := jsonFeedParser{}.Call(context.Background(), &JSONFeedOptions{IDField: "missing"}, sampleJSONFlat)
	if err == nil {
		t.Fatal("expected error for missing id field")
	}
}

func TestJSONFeedEmptyTextReturnsNoPosts(t *testing.T) {
	posts := parseJSONFeed(t, "", &JSONFeedOptions{IDField: "id"})
	if len(posts) != 0 {
		t.Fatalf("expected no posts, got %d", len(posts))
	}
}

func TestJSONFeedOptionsValidate(t *testing.T) {
	if (&JSONFeedOptions{}).Validate() == nil {
		t.Fatal("expected error for missing id_field")
	}
}

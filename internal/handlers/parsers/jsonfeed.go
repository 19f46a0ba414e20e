package parsers

import (
	"context"
	"encoding/json"
	"fmt"

	"go.feedmesh.dev/internal/handler"
	"go.feedmesh.dev/internal/post"
)

// JSONFeedOptions tells the generic JSON-array parser which key holds the
// array of entries (the source document's top-level value if empty) and
// which entry field to use as the post's stable id.
type JSONFeedOptions struct {
	ItemsPath string `mapstructure:"items_path"`
	IDField   string `mapstructure:"id_field"`
}

func (o *JSONFeedOptions) Validate() error {
	if o.IDField == "" {
		return fmt.Errorf("id_field is required")
	}
	return nil
}

type jsonFeedParser struct{}

func (jsonFeedParser) Call(_ context.Context, callOptions handler.Options, payload any) (any, error) {
	opts, ok := callOptions.(*JSONFeedOptions)
	if !ok {
		return nil, fmt.Errorf("parsers/jsonfeed: unexpected options type %T", callOptions)
	}
	text, _ := payload.(string)
	if text == "" {
		return []*post.Post{}, nil
	}

	var raw any
	if err := json.Unmarshal([]byte(text), &raw); err != nil {
		return nil, fmt.Errorf("parsers/jsonfeed: %w", err)
	}

	items, err := navigate(raw, opts.ItemsPath)
	if err != nil {
		return nil, fmt.Errorf("parsers/jsonfeed: %w", err)
	}

	posts := make([]*post.Post, 0, len(items))
	for i, item := range items {
		fields, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("parsers/jsonfeed: entry %d is not an object", i)
		}
		id, ok := fields[opts.IDField]
		if !ok {
			return nil, fmt.Errorf("parsers/jsonfeed: entry %d has no %q field", i, opts.IDField)
		}
		posts = append(posts, &post.Post{
			PostID: fmt.Sprint(id),
			Fields: fields,
		})
	}
	return posts, nil
}

// navigate walks a dot-separated path of object keys (e.g. "data.children")
// down to the array of entries. An empty path means raw is already that
// array.
func navigate(raw any, path string) ([]any, error) {
	if path == "" {
		arr, ok := raw.([]any)
		if !ok {
			return nil, fmt.Errorf("top-level document is not an array")
		}
		return arr, nil
	}

	cur := raw
	for _, key := range splitPath(path) {
		obj, ok := cur.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("path %q: expected object at %q", path, key)
		}
		cur, ok = obj[key]
		if !ok {
			return nil, fmt.Errorf("path %q: missing key %q", path, key)
		}
	}
	arr, ok := cur.([]any)
	if !ok {
		return nil, fmt.Errorf("path %q: value is not an array", path)
	}
	return arr, nil
}

func splitPath(path string) []string {
	var parts []string
	start := 0
	for i := 0; i < len(path); i++ {
		if path[i] == '.' {
			parts = append(parts, path[start:i])
			start = i + 1
		}
	}
	parts = append(parts, path[start:])
	return parts
}

func init() {
	handler.Register(handler.Registration{
		Kind:           handler.KindParser,
		Name:           "jsonfeed",
		NewFunc:        func() handler.Handler { return jsonFeedParser{} },
		NewCallOptions: func() handler.Options { return &JSONFeedOptions{} },
		ReturnsPosts:   true,
	})
}

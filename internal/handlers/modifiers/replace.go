package modifiers

import (
	"context"
	"fmt"
	"strings"

	"go.feedmesh.dev/internal/handler"
	"go.feedmesh.dev/internal/post"
)

// ReplaceOptions substitutes every occurrence of Old with New in Field of
// every post.
type ReplaceOptions struct {
	Field string `mapstructure:"field"`
	Old   string `mapstructure:"old"`
	New   string `mapstructure:"new"`
}

func (o *ReplaceOptions) Validate() error {
	if o.Field == "" {
		return fmt.Errorf("field is required")
	}
	if o.Old == "" {
		return fmt.Errorf("old is required")
	}
	return nil
}

type replaceModifier struct{}

func (replaceModifier) Call(_ context.Context, callOptions handler.Options, payload any) (any, error) {
	opts, ok := callOptions.(*ReplaceOptions)
	if !ok {
		return nil, fmt.Errorf("modifiers/replace: unexpected options type %T", callOptions)
	}
	posts, ok := payload.([]*post.Post)
	if !ok {
		return nil, fmt.Errorf("modifiers/replace: unexpected payload type %T", payload)
	}

	for _, p := range posts {
		value, _ := p.Fields[opts.Field].(string)
		p.Fields[opts.Field] = strings.ReplaceAll(value, opts.Old, opts.New)
	}
	return posts, nil
}

func init() {
	handler.Register(handler.Registration{
		Kind:           handler.KindModifier,
		Name:           "replace",
		NewFunc:        func() handler.Handler { return replaceModifier{} },
		NewCallOptions: func() handler.Options { return &ReplaceOptions{} },
	})
}

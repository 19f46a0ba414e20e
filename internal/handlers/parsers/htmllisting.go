package parsers

import (
	"context"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"go.feedmesh.dev/internal/handler"
	"go.feedmesh.dev/internal/post"
)

// HTMLListingOptions selects the repeated element that constitutes one
// post, and the relative selectors to read its fields from. A selector left
// empty reads from the item element itself; markup a selector does not find
// yields an empty field rather than an error.
type HTMLListingOptions struct {
	ItemSelector  string `mapstructure:"item_selector"`
	TitleSelector string `mapstructure:"title_selector"`
	LinkSelector  string `mapstructure:"link_selector"`
	LinkAttr      string `mapstructure:"link_attr"`
	IDSelector    string `mapstructure:"id_selector"`
	IDAttr        string `mapstructure:"id_attr"`
}

func (o *HTMLListingOptions) Validate() error {
	if o.ItemSelector == "" {
		return fmt.Errorf("item_selector is required")
	}
	if o.LinkAttr == "" {
		o.LinkAttr = "href"
	}
	return nil
}

type htmlListingParser struct{}

func (htmlListingParser) Call(_ context.Context, callOptions handler.Options, payload any) (any, error) {
	opts, ok := callOptions.(*HTMLListingOptions)
	if !ok {
		return nil, fmt.Errorf("parsers/html_listing: unexpected options type %T", callOptions)
	}
	text, _ := payload.(string)
	if text == "" {
		return []*post.Post{}, nil
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(text))
	if err != nil {
		return nil, fmt.Errorf("parsers/html_listing: %w", err)
	}

	var posts []*post.Post
	doc.Find(opts.ItemSelector).Each(func(_ int, sel *goquery.Selection) {
		title := selectText(sel, opts.TitleSelector)
		link := selectAttr(sel, opts.LinkSelector, opts.LinkAttr)

		id := ""
		if opts.IDAttr != "" {
			id = selectAttr(sel, opts.IDSelector, opts.IDAttr)
		} else if opts.IDSelector != "" {
			id = selectText(sel, opts.IDSelector)
		}
		if id == "" {
			id = cleanPostID(link)
		}
		if id == "" {
			return
		}

		posts = append(posts, &post.Post{
			PostID: id,
			Fields: map[string]any{
				"title": title,
				"url":   link,
			},
		})
	})

	if posts == nil {
		posts = []*post.Post{}
	}
	return posts, nil
}

func selectText(sel *goquery.Selection, selector string) string {
	if selector == "" {
		return strings.TrimSpace(sel.Text())
	}
	return strings.TrimSpace(sel.Find(selector).First().Text())
}

func selectAttr(sel *goquery.Selection, selector, attr string) string {
	target := sel
	if selector != "" {
		target = sel.Find(selector).First()
	}
	val, _ := target.Attr(attr)
	return val
}

func init() {
	handler.Register(handler.Registration{
		Kind:           handler.KindParser,
		Name:           "html_listing",
		NewFunc:        func() handler.Handler { return htmlListingParser{} },
		NewCallOptions: func() handler.Options { return &HTMLListingOptions{} },
		ReturnsPosts:   true,
	})
}

// Package parsers implements the parser handlers: units that turn a
// fetched document's raw text into a slice of posts.
package parsers

import (
	"context"
	"encoding/xml"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"go.feedmesh.dev/internal/handler"
	"go.feedmesh.dev/internal/post"
)

// rssFeed is a deliberately loose mapping over RSS 2.0 and Atom: Atom puts
// <entry> elements directly under the root, RSS puts <item> elements inside
// <channel>. Mapping both into slices of the same item type lets one parser
// cover both formats without sniffing.
type rssFeed struct {
	Channel struct {
		Items []rssItem `xml:"item"`
	} `xml:"channel"`
	Entries []rssItem `xml:"entry"`
}

type rssItem struct {
	GUID       rssGUID  `xml:"guid"`
	ID         string   `xml:"id"`
	Title      string   `xml:"title"`
	Link       rssLink  `xml:"link"`
	Comments   string   `xml:"comments"`
	Categories []string `xml:"category"`
}

// rssLink handles both RSS's plain-text <link> and Atom's <link href="...">.
type rssLink struct {
	Href string `xml:"href,attr"`
	Text string `xml:",chardata"`
}

func (l rssLink) value() string {
	if l.Href != "" {
		return l.Href
	}
	return strings.TrimSpace(l.Text)
}

type rssGUID struct {
	Value string `xml:",chardata"`
}

type rssParser struct{}

func (rssParser) Call(_ context.Context, _ handler.Options, payload any) (any, error) {
	text, _ := payload.(string)
	if text == "" {
		return []*post.Post{}, nil
	}

	var feed rssFeed
	if err := xml.Unmarshal([]byte(text), &feed); err != nil {
		return nil, fmt.Errorf("parsers/rss: %w", err)
	}

	items := feed.Channel.Items
	items = append(items, feed.Entries...)

	posts := make([]*post.Post, 0, len(items))
	for _, item := range items {
		link := item.Link.value()
		id := item.GUID.Value
		if id == "" {
			id = item.ID
		}
		if id == "" {
			id = cleanPostID(link)
		}
		if id == "" {
			slog.Warn("parsers/rss: skipping entry with no usable id", "title", item.Title)
			continue
		}

		posts = append(posts, &post.Post{
			PostID: id,
			Fields: map[string]any{
				"title":          item.Title,
				"url":            link,
				"comments_url":   item.Comments,
				"post_tags":      strings.Join(item.Categories, "; "),
				"post_hash_tags": strings.Join(hashTags(item.Categories), " "),
			},
		})
	}

	return posts, nil
}

var nonWordRE = regexp.MustCompile(`[^\p{L}\p{N}_]+`)

// hashTags mirrors the source system's make_hash_tags: each tag becomes a
// single #-prefixed token with whitespace and punctuation stripped.
func hashTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	for _, tag := range tags {
		cleaned := nonWordRE.ReplaceAllString(tag, "")
		if cleaned == "" {
			continue
		}
		out = append(out, "#"+cleaned)
	}
	return out
}

func cleanPostID(link string) string {
	link = strings.TrimPrefix(link, "https://")
	link = strings.TrimPrefix(link, "http://")
	return link
}

func init() {
	handler.Register(handler.Registration{
		Kind:         handler.KindParser,
		Name:         "rss",
		NewFunc:      func() handler.Handler { return rssParser{} },
		ReturnsPosts: true,
	})
}

package parsers

import (
	"context"
	"testing"

	"go.feedmesh.dev/internal/post"
)

const sampleRSS = `<?xml version="1.0"?>
<rss version="2.0">
  <channel>
    <title>Example Feed</title>
    <item>
      <title>Hello World</title>
      <link>https://example.com/posts/1</link>
      <guid>tag:example.com,2026:post-1</guid>
      <comments>https://example.com/posts/1#comments</comments>
      <category>go lang</category>
      <category>news</category>
    </item>
    <item>
      <title>No GUID</title>
      <link>https://example.com/posts/2</link>
    </item>
  </channel>
</rss>`

const sampleAtom = `<?xml version="1.0"?>
<feed xmlns="http://www.w3.org/2005/Atom">
  <entry>
    <title>Atom Post</title>
    <id>urn:uuid:abc-123</id>
    <link href="https://example.com/atom/1"/>
  </entry>
</feed>`

func parseRSS(t *testing.T, text string) []*post.Post {
	t.Helper()
	out, err := rssParser{}.Call(context.Background(), nil, text)
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	return out.([]*post.Post)
}

func TestRSSParserExtractsGUIDAndTags(t *testing.T) {
	posts := parseRSS(t, sampleRSS)
	if len(posts) != 2 {
		t.Fatalf("expected 2 posts, got %d", len(posts))
	}
	if posts[0].PostID != "tag:example.com,2026:post-1" {
		t.Fatalf("expected guid as post id, got %q", posts[0].PostID)
	}
	if posts[0].Fields["post_tags"] != "go lang; news" {
		t.Fatalf("unexpected post_tags: %v", posts[0].Fields["post_tags"])
	}
	if posts[0].Fields["post_hash_tags"] != "#golang #news" {
		t.Fatalf("unexpected post_hash_tags: %v", posts[0].Fields["post_hash_tags"])
	}
}

func TestRSSParserFallsBackToCleanedLink(t *testing.T) {
	posts := parseRSS(t, sampleRSS)
	if posts[1].PostID != "example.com/posts/2" {
		t.Fatalf("expected cleaned link as post id, got %q", posts[1].PostID)
	}
}

func TestRSSParserHandlesAtomEntries(t *testing.T) {
	posts := parseRSS(t, sampleAtom)
	if len(posts) != 1 {
		t.Fatalf("expected 1 post, got %d", len(posts))
	}
	if posts[0].PostID != "urn:uuid:abc-123" {
		t.Fatalf("unexpected post id: %q", posts[0].PostID)
	}
	if posts[0].Fields["url"] != "https://example.com/atom/1" {
		t.Fatalf("unexpected url: %v", posts[0].Fields["url"])
	}
}

func TestRSSParserEmptyTextReturnsNoPosts(t *testing.T) {
	posts := parseRSS(t, "")
	if len(posts) != 0 {
		t.Fatalf("expected no posts, got %d", len(posts))
	}
}

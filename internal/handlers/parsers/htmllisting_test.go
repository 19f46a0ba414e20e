package parsers

import (
	"context"
	"testing"

	"go.feedmesh.dev/internal/post"
)

const sampleListingHTML = `
<html><body>
<ul class="posts">
  <li class="post" data-id="a1">
    <a class="title" href="/posts/a1">First Post</a>
  </li>
  <li class="post" data-id="a2">
    <a class="title" href="/posts/a2">Second Post</a>
  </li>
</ul>
</body></html>`

func parseHTMLListing(t *testing.T, opts *HTMLListingOptions) []*post.Post {
	t.Helper()
	out, err := htmlListingParser{}.Call(context.Background(), opts, sampleListingHTML)
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	return out.([]*post.Post)
}

func TestHTMLListingExtractsTitleAndLink(t *testing.T) {
	posts := parseHTMLListing(t, &HTMLListingOptions{
		ItemSelector:  "li.post",
		TitleSelector: "a.title",
		LinkSelector:  "a.title",
		LinkAttr:      "href",
		IDAttr:        "data-id",
	})
	if len(posts) != 2 {
		t.Fatalf("expected 2 posts, got %d", len(posts))
	}
	if posts[0].PostID != "a1" || posts[0].Fields["title"] != "First Post" {
		t.Fatalf("unexpected post: %+v", posts[0])
	}
	if posts[0].Fields["url"] != "/posts/a1" {
		t.Fatalf("unexpected url: %v", posts[0].Fields["url"])
	}
}

func TestHTMLListingFallsBackToLinkWhenNoIDSelector(t *testing.T) {
	posts := parseHTMLListing(t, &HTMLListingOptions{
		ItemSelector:  "li.post",
		TitleSelector: "a.title",
		LinkSelector:  "a.title",
		LinkAttr:      "href",
	})
	if posts[0].PostID != "/posts/a1" {
		t.Fatalf("expected link as fallback id, got %q", posts[0].PostID)
	}
}

func TestHTMLListingOptionsValidateRequiresItemSelector(t *testing.T) {
	if (&HTMLListingOptions{}).Validate() == nil {
		t.Fatal("expected error for missing item_selector")
	}
}

func TestHTMLListingEmptyTextReturnsNoPosts(t *testing.T) {
	out, err := htmlListingParser{}.Call(context.Background(), &HTMLListingOptions{ItemSelector: "li"}, "")
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if len(out.([]*post.Post)) != 0 {
		t.Fatal("expected no posts for empty text")
	}
}

// Package post defines the parser-output record shared by every handler stage.
package post

// Post is the single record shape every parser produces, regardless of feed
// format. Parser-specific data lives in Fields and is only ever read back
// through TemplateKwargs.
type Post struct {
	PostID     string
	SourceTags []string
	Fields     map[string]any
}

// TemplateKwargs returns the scalar bag a receiver's template renderer draws
// from: post_id and source_tags alongside every parser-specific field.
func (p *Post) TemplateKwargs() map[string]any {
	kwargs := make(map[string]any, len(p.Fields)+2)
	for k, v := range p.Fields {
		kwargs[k] = v
	}
	kwargs["post_id"] = p.PostID
	kwargs["source_tags"] = p.SourceTags
	return kwargs
}

// Clone deep-copies the post so independent stream modifier chains can
// mutate their own copy without affecting siblings sharing the same parse.
func (p *Post) Clone() *Post {
	tags := make([]string, len(p.SourceTags))
	copy(tags, p.SourceTags)
	fields := make(map[string]any, len(p.Fields))
	for k, v := range p.Fields {
		fields[k] = v
	}
	return &Post{PostID: p.PostID, SourceTags: tags, Fields: fields}
}

// ClonePosts deep-copies an entire slice, the unit of work handed to a
// stream's modifier chain.
func ClonePosts(posts []*Post) []*Post {
	out := make([]*Post, len(posts))
	for i, p := range posts {
		out[i] = p.Clone()
	}
	return out
}

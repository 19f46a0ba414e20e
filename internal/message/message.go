// Package message defines the rendering-ready record a receiver sends.
package message

// Message is a rendering-ready tuple; rendering the template against the
// kwargs is the receiver's responsibility, not the pipeline's.
type Message struct {
	PostID         string         `json:"post_id"`
	Template       string         `json:"template"`
	TemplateKwargs map[string]any `json:"template_kwargs"`
}

// Package receivers implements the receiver handlers: units that render
// and deliver a stream's prepared messages to an external destination.
package receivers

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"text/template"

	"go.feedmesh.dev/internal/handler"
	"go.feedmesh.dev/internal/message"
)

const consoleDelimiter = "\n-----\n"

// consolePrinter renders each message's template and writes the joined
// result to an io.Writer, stdout by default. It takes neither init nor
// call options.
type consolePrinter struct {
	out io.Writer
}

func (c *consolePrinter) Call(_ context.Context, _ handler.Options, payload any) (any, error) {
	messages, ok := payload.([]message.Message)
	if !ok {
		return nil, fmt.Errorf("receivers/console: unexpected payload type %T", payload)
	}
	if len(messages) == 0 {
		return nil, nil
	}

	var buf bytes.Buffer
	for i, msg := range messages {
		rendered, err := renderTemplate(msg)
		if err != nil {
			return nil, fmt.Errorf("receivers/console: %w", err)
		}
		if i > 0 {
			buf.WriteString(consoleDelimiter)
		}
		buf.WriteString(rendered)
	}

	_, err := fmt.Fprintln(c.out, buf.String())
	return nil, err
}

func renderTemplate(msg message.Message) (string, error) {
	tmpl, err := template.New("message").Parse(msg.Template)
	if err != nil {
		return "", fmt.Errorf("parsing template: %w", err)
	}
	var out bytes.Buffer
	if err := tmpl.Execute(&out, msg.TemplateKwargs); err != nil {
		return "", fmt.Errorf("executing template: %w", err)
	}
	return out.String(), nil
}

func init() {
	handler.Register(handler.Registration{
		Kind:    handler.KindReceiver,
		Name:    "console",
		NewFunc: func() handler.Handler { return &consolePrinter{out: os.Stdout} },
	})
}

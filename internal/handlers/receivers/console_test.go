package receivers

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"go.feedmesh.dev/internal/message"
)

func TestConsolePrinterJoinsMessagesWithDelimiter(t *testing.T) {
	var buf bytes.Buffer
	c := &consolePrinter{out: &buf}

	messages := []message.Message{
		{PostID: "p1", Template: "{{.title}}", TemplateKwargs: map[string]any{"title": "First"}},
		{PostID: "p2", Template: "{{.title}}", TemplateKwargs: map[string]any{"title": "Second"}},
	}
	if _, err := c.Call(context.Background(), nil, messages); err != nil {
		t.Fatalf("Call: %v", err)
	}

	out := buf.String()
	if !strings.Contains(out, "First"+consoleDelimiter+"Second") {
		t.Fatalf("unexpected output: %q", out)
	}
}

func TestConsolePrinterNoOutputForEmptyMessages(t *testing.T) {
	var buf bytes.Buffer
	c := &consolePrinter{out: &buf}
	if _, err := c.Call(context.Background(), nil, []message.Message{}); err != nil {
		t.Fatalf("Call: %v", err)
	}
	if buf.Len() != 0 {
		t.Fatalf("expected no output, got %q", buf.String())
	}
}

package worker

import (
	"errors"
	"strings"
	"testing"
)

func TestParseStructuredResponseToolCommand(t *testing.T) {
	text := "```yaml\nuseTool: yes\ntoolCommand: {name: echo, arguments: {x: \"hi\"}}\n```"
	resp, structured, err := ParseStructuredResponse(text)
	if err != nil {
		t.Fatalf("ParseStructuredResponse() error = %v", err)
	}
	if !structured {
		t.Fatalf("structured = false, want true")
	}
	if !resp.UseTool {
		t.Fatalf("UseTool = false, want true (yes must resolve to a bool)")
	}
	if resp.ToolCommand == nil || resp.ToolCommand.Name != "echo" {
		t.Fatalf("ToolCommand = %+v, want echo", resp.ToolCommand)
	}
	if resp.ToolCommand.Arguments["x"] != "hi" {
		t.Fatalf("arguments = %v, want x=hi", resp.ToolCommand.Arguments)
	}
}

func TestParseStructuredResponseAnswer(t *testing.T) {
	text := "```yaml\nuseTool: false\nanswer: just talk to them\n```"
	resp, structured, err := ParseStructuredResponse(text)
	if err != nil {
		t.Fatalf("ParseStructuredResponse() error = %v", err)
	}
	if !structured || resp.UseTool {
		t.Fatalf("parse = (%+v, %v), want plain answer", resp, structured)
	}
	if resp.Answer != "just talk to them" {
		t.Fatalf("Answer = %q", resp.Answer)
	}
}

func TestParseStructuredResponseFreeProse(t *testing.T) {
	_, structured, err := ParseStructuredResponse("I would simply reply with a friendly greeting.")
	if err != nil {
		t.Fatalf("ParseStructuredResponse() error = %v for prose", err)
	}
	if structured {
		t.Fatalf("structured = true for free prose, want false")
	}
}

func TestParseStructuredResponseBareYAML(t *testing.T) {
	resp, structured, err := ParseStructuredResponse("useTool: true\ntoolCommand:\n  name: sum\n")
	if err != nil {
		t.Fatalf("ParseStructuredResponse() error = %v", err)
	}
	if !structured || resp.ToolCommand == nil || resp.ToolCommand.Name != "sum" {
		t.Fatalf("parse = (%+v, %v), want unfenced tool command", resp, structured)
	}
}

func TestParseStructuredResponseInvalidFence(t *testing.T) {
	text := "```yaml\nuseTool: true\n```"
	_, _, err := ParseStructuredResponse(text)
	if !errors.Is(err, ErrInvalidStructuredResponse) {
		t.Fatalf("error = %v, want ErrInvalidStructuredResponse", err)
	}
	if !strings.Contains(err.Error(), "useTool: true") {
		t.Fatalf("error should embed the offending text, got %q", err)
	}
}

func TestParseStructuredResponseMalformedYAMLFence(t *testing.T) {
	_, _, err := ParseStructuredResponse("```yaml\n{unbalanced\n```")
	if !errors.Is(err, ErrInvalidStructuredResponse) {
		t.Fatalf("error = %v, want ErrInvalidStructuredResponse", err)
	}
}

func TestParseStructuredResponseGreedyFence(t *testing.T) {
	text := "```yaml\nanswer: |\n  use ``` fences like this\n```"
	resp, structured, err := ParseStructuredResponse(text)
	if err != nil {
		t.Fatalf("ParseStructuredResponse() error = %v", err)
	}
	if !structured || !strings.Contains(resp.Answer, "fences") {
		t.Fatalf("parse = (%+v, %v), want inner fence kept", resp, structured)
	}
}

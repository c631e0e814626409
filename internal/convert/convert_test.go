package convert

import (
	"context"
	"strings"
	"testing"

	"github.com/hyperjump/kura/internal/models"
)

func TestPlainConverter(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"passthrough", "Hello world\nLine 2", "Hello world\nLine 2"},
		{"utf8", "caf\xc3\xa9", "café"},
		{"invalid utf8", "hello\x80world", "hello\uFFFDworld"},
		{"crlf and trailing spaces", "a  \r\nb\t\r\n", "a\nb"},
		{"blank runs collapsed", "a\n\n\n\nb", "a\n\nb"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := PlainConverter{}.Convert(context.Background(), []byte(tt.in))
			if err != nil {
				t.Fatalf("Convert: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestHTMLConverter_basic(t *testing.T) {
	in := `<html><body><!-- secret note --><h1>Title</h1><p>Some <b>bold</b> text and <custom-tag>kept words</custom-tag>.</p></body></html>`
	got, err := NewHTMLConverter().Convert(context.Background(), []byte(in))
	if err != nil {
		t.Fatalf("Convert: %v", err)
	}
	if !strings.HasPrefix(got, "# Title") {
		t.Errorf("expected ATX heading, got %q", got)
	}
	if !strings.Contains(got, "**bold**") {
		t.Errorf("expected bold markup, got %q", got)
	}
	if !strings.Contains(got, "kept words") {
		t.Errorf("unknown tag content should be kept, got %q", got)
	}
	if strings.Contains(got, "secret note") {
		t.Errorf("comments should be stripped, got %q", got)
	}
}

func TestHTMLConverter_tableWithoutHeader(t *testing.T) {
	in := `<table><tr><td>a</td><td>b</td></tr><tr><td>c</td><td>d</td></tr></table>`
	got, err := NewHTMLConverter().Convert(context.Background(), []byte(in))
	if err != nil {
		t.Fatalf("Convert: %v", err)
	}
	lines := strings.Split(got, "\n")
	sep := -1
	for i, line := range lines {
		if strings.Contains(line, "---") {
			sep = i
			break
		}
	}
	if sep < 1 {
		t.Fatalf("expected a header row above the separator, got %q", got)
	}
	if strings.ContainsAny(lines[sep-1], "abcd") {
		t.Errorf("header row should be the synthesized empty one, got %q", lines[sep-1])
	}
	rest := strings.Join(lines[sep+1:], "\n")
	if !strings.Contains(rest, "a") || !strings.Contains(rest, "d") {
		t.Errorf("data rows should follow the separator: %q", got)
	}
}

func TestMarkdownConverter_roundTrip(t *testing.T) {
	in := "Title\n=====\n\nSome *emphasis* and a [link](http://example.com).\n\n\n\n* one\n* two\n"
	got, err := NewMarkdownConverter().Convert(context.Background(), []byte(in))
	if err != nil {
		t.Fatalf("Convert: %v", err)
	}
	if !strings.HasPrefix(got, "# Title") {
		t.Errorf("setext heading should normalize to ATX, got %q", got)
	}
	for _, want := range []string{"emphasis", "[link](http://example.com)", "one", "two"} {
		if !strings.Contains(got, want) {
			t.Errorf("missing %q in %q", want, got)
		}
	}
}

func TestFor(t *testing.T) {
	for _, ct := range []models.ContentType{models.ContentTypePlain, models.ContentTypeMarkdown, models.ContentTypeHTML} {
		if _, ok := For(ct); !ok {
			t.Errorf("For(%s) should return a converter", ct)
		}
	}
	if _, ok := For(models.ContentTypeJSON); ok {
		t.Error("JSON is handled by the structured converters")
	}
}

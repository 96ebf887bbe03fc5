package htmltext

import (
	"strings"
	"testing"
)

func TestStripBasicMarkup(t *testing.T) {
	html := `<html><head><style>p{color:red}</style></head><body><p>Hello <b>there</b>,</p><p>When is the scholarship deadline?</p></body></html>`

	text, err := Strip(html)
	if err != nil {
		t.Fatalf("Strip: %v", err)
	}
	if strings.Contains(text, "<") || strings.Contains(text, "color:red") {
		t.Errorf("markup leaked into output: %q", text)
	}
	if !strings.Contains(text, "Hello there,") {
		t.Errorf("inline text lost: %q", text)
	}
	if !strings.Contains(text, "When is the scholarship deadline?") {
		t.Errorf("paragraph text lost: %q", text)
	}
}

func TestStripKeepsBlockStructure(t *testing.T) {
	html := `<div>line one</div><div>line two</div>`

	text, err := Strip(html)
	if err != nil {
		t.Fatalf("Strip: %v", err)
	}
	if text != "line one\nline two" {
		t.Errorf("got %q", text)
	}
}

func TestStripEmpty(t *testing.T) {
	text, err := Strip("")
	if err != nil || text != "" {
		t.Errorf("got %q, %v", text, err)
	}
}

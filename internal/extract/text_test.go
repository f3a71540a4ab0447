package extract

import (
	"strings"
	"testing"
)

func TestHTMLToTextInlinesLinks(t *testing.T) {
	html := `<html><head><title>ignored</title></head><body>
		<p>Read <a href="https://news.example.com/story">the big story</a> today.</p>
	</body></html>`

	got := HTMLToText(html)

	if !strings.Contains(got, "the big story (https://news.example.com/story)") {
		t.Errorf("expected inline link target, got %q", got)
	}
	if strings.Contains(got, "ignored") {
		t.Errorf("head content leaked into text: %q", got)
	}
}

func TestHTMLToTextUnwrapsTracking(t *testing.T) {
	html := `<p><a href="https://links.substack.com/c?url=https%3A%2F%2Fnews.example.com%2Freal">read this</a></p>`

	got := HTMLToText(html)
	if !strings.Contains(got, "(https://news.example.com/real)") {
		t.Errorf("expected tracking link unwrapped in text, got %q", got)
	}
	if strings.Contains(got, "links.substack.com") {
		t.Errorf("redirector host leaked into text: %q", got)
	}
}

func TestHTMLToTextStripsNoise(t *testing.T) {
	html := `<body>
		<script>var x = "script junk";</script>
		<style>.a { color: red }</style>
		<img src="pixel.gif" alt="tracking pixel">
		<p>Actual content.</p>
	</body>`

	got := HTMLToText(html)
	if strings.Contains(got, "script junk") || strings.Contains(got, "color: red") {
		t.Errorf("script/style content leaked: %q", got)
	}
	if !strings.Contains(got, "Actual content.") {
		t.Errorf("real content missing: %q", got)
	}
}

func TestHTMLToTextCollapsesWhitespace(t *testing.T) {
	html := "<p>a    lot\t\tof\n\n\nspace</p><p></p><p></p><p>next</p>"

	got := HTMLToText(html)
	if strings.Contains(got, "  ") {
		t.Errorf("runs of spaces survived: %q", got)
	}
	if strings.Contains(got, "\n\n") {
		t.Errorf("blank lines survived: %q", got)
	}
}

func TestHTMLToTextSkipsUselessAnchors(t *testing.T) {
	html := `<p><a href="#top">top</a> <a href="mailto:x@e.com">mail</a> &mdash; done</p>`

	got := HTMLToText(html)
	if strings.Contains(got, "#top") || strings.Contains(got, "mailto:") {
		t.Errorf("fragment/mailto targets leaked: %q", got)
	}
	// The anchor text itself stays.
	if !strings.Contains(got, "top") || !strings.Contains(got, "mail") {
		t.Errorf("anchor text lost: %q", got)
	}
}

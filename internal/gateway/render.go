// ABOUTME: Markdown rendering for message content
// ABOUTME: Converts message markdown to HTML with goldmark; raw HTML in the source is escaped

package gateway

import (
	"bytes"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"
)

var markdown = goldmark.New(
	goldmark.WithExtensions(extension.GFM),
	goldmark.WithRendererOptions(html.WithHardWraps()),
)

// renderMarkdown converts message content to an HTML fragment.
func renderMarkdown(content string) (string, error) {
	var buf bytes.Buffer
	if err := markdown.Convert([]byte(content), &buf); err != nil {
		return "", err
	}
	return buf.String(), nil
}

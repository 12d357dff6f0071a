// Package render turns stored markdown into sanitized HTML. Plugins extend
// both halves through the registry: markdown extensions feed the parser and
// whitelist additions widen the sanitizer.
package render

import (
	"bytes"
	"context"
	"fmt"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"go-wiki-engine/internal/plugin"
	"go-wiki-engine/internal/wiki"
)

// Renderer converts markdown to HTML and sanitizes the result. Both the
// goldmark instance and the bluemonday policy are built once from the plugin
// registry and are safe for concurrent use.
type Renderer struct {
	md     goldmark.Markdown
	policy *bluemonday.Policy
}

// New builds a Renderer from the registry's collected extensions, tag
// whitelist and attribute additions. GitHub-flavored markdown is always on;
// plugins only add to it.
func New(reg *plugin.Registry) *Renderer {
	extenders := append([]goldmark.Extender{extension.GFM}, reg.MarkdownExtensions()...)
	md := goldmark.New(goldmark.WithExtensions(extenders...))

	policy := bluemonday.UGCPolicy()
	if tags := reg.HTMLWhitelist(); len(tags) > 0 {
		policy.AllowElements(tags...)
	}
	for tag, attrs := range reg.HTMLAttributes() {
		policy.AllowAttrs(attrs...).OnElements(tag)
	}
	return &Renderer{md: md, policy: policy}
}

// Render implements wiki.Renderer. Sanitization always runs last so no plugin
// extension can smuggle markup past the policy.
func (r *Renderer) Render(ctx context.Context, content string, rc wiki.RenderContext) (string, error) {
	var buf bytes.Buffer
	if err := r.md.Convert([]byte(content), &buf); err != nil {
		return "", fmt.Errorf("failed to render markdown: %w", err)
	}
	return r.policy.Sanitize(buf.String()), nil
}

// Package normalize flattens chat-platform message element trees into the
// single line of text that crosses the relay socket.
package normalize

import (
	"context"
	"fmt"
	"regexp"
	"strings"
)

// Element is one segment of a platform message. Text segments carry Text,
// image segments carry Src, emoji-flavored segments may nest children.
type Element struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	Src      string    `json:"src,omitempty"`
	Children []Element `json:"children,omitempty"`
}

// Resolver turns a URL into its replacement token (shortened, redacted, or
// the URL itself depending on configuration).
type Resolver interface {
	Resolve(ctx context.Context, url string) (string, error)
}

// Matches, in order of preference: a markdown [label](url) link, an
// http/https URL, a www.-prefixed bare domain, or a bare path ending in a
// known media extension.
var linkPattern = regexp.MustCompile(`\[[^\]\n]*\]\((https?://[^\s)]+)\)|https?://\S+|www\.\S+|\S+\.(?:html|jpg|png|gif|mp3|mp4)\b`)

type Normalizer struct {
	resolver Resolver
}

func New(resolver Resolver) *Normalizer {
	return &Normalizer{resolver: resolver}
}

// Flatten walks the element tree depth-first and produces one line of text.
// Unrecognized element types contribute nothing. With stripPrefix the first
// space-delimited token is removed; the caller is expected to have checked
// that token against the configured trigger command already.
func (n *Normalizer) Flatten(ctx context.Context, elements []Element, stripPrefix bool) (string, error) {
	var b strings.Builder
	if err := n.walk(ctx, elements, &b); err != nil {
		return "", err
	}
	out := b.String()
	if stripPrefix {
		idx := strings.Index(out, " ")
		if idx < 0 {
			return "", nil
		}
		out = out[idx+1:]
	}
	return out, nil
}

func (n *Normalizer) walk(ctx context.Context, elements []Element, b *strings.Builder) error {
	for _, el := range elements {
		switch {
		case el.Type == "text":
			replaced, err := n.replaceLinks(ctx, el.Text)
			if err != nil {
				return err
			}
			b.WriteString(replaced)
		case el.Type == "img":
			resolved, err := n.resolver.Resolve(ctx, el.Src)
			if err != nil {
				return fmt.Errorf("resolve image source: %w", err)
			}
			b.WriteString(" [表情/图片] ")
			b.WriteString(resolved)
			b.WriteString(" ")
		case strings.Contains(el.Type, "emoji"):
			b.WriteString(" /")
			b.WriteString(el.Type)
			b.WriteString(" ")
			if err := n.walk(ctx, el.Children, b); err != nil {
				return err
			}
		}
	}
	return nil
}

// replaceLinks substitutes every URL-like match with " [链接] <resolved> ".
// Each occurrence is resolved independently; a URL appearing twice is
// resolved twice.
func (n *Normalizer) replaceLinks(ctx context.Context, text string) (string, error) {
	matches := linkPattern.FindAllStringSubmatchIndex(text, -1)
	if len(matches) == 0 {
		return text, nil
	}
	var b strings.Builder
	last := 0
	for _, m := range matches {
		start, end := m[0], m[1]
		target := text[start:end]
		// Markdown links resolve the URL inside the parentheses.
		if m[2] >= 0 {
			target = text[m[2]:m[3]]
		}
		resolved, err := n.resolver.Resolve(ctx, target)
		if err != nil {
			return "", fmt.Errorf("resolve link %q: %w", target, err)
		}
		b.WriteString(text[last:start])
		b.WriteString(" [链接] ")
		b.WriteString(resolved)
		b.WriteString(" ")
		last = end
	}
	b.WriteString(text[last:])
	return b.String(), nil
}

package normalize

import (
	"context"
	"errors"
	"strings"
	"testing"
)

// stubResolver records what it resolves and returns a fixed replacement.
type stubResolver struct {
	out   string
	err   error
	calls []string
}

func (r *stubResolver) Resolve(ctx context.Context, url string) (string, error) {
	r.calls = append(r.calls, url)
	if r.err != nil {
		return "", r.err
	}
	if r.out != "" {
		return r.out, nil
	}
	return url, nil
}

func TestFlattenPlainText(t *testing.T) {
	n := New(&stubResolver{})
	out, err := n.Flatten(context.Background(), []Element{
		{Type: "text", Text: "hello "},
		{Type: "text", Text: "world"},
	}, false)
	if err != nil {
		t.Fatalf("Flatten: %v", err)
	}
	if out != "hello world" {
		t.Fatalf("expected concatenation, got %q", out)
	}
}

func TestFlattenReplacesBareDomain(t *testing.T) {
	r := &stubResolver{out: "https://s.io/a1"}
	n := New(r)
	out, err := n.Flatten(context.Background(), []Element{
		{Type: "text", Text: "see www.example.com/x please"},
	}, false)
	if err != nil {
		t.Fatalf("Flatten: %v", err)
	}
	if out != "see  [链接] https://s.io/a1  please" {
		t.Fatalf("unexpected output %q", out)
	}
	if len(r.calls) != 1 || r.calls[0] != "www.example.com/x" {
		t.Fatalf("unexpected resolver calls %v", r.calls)
	}
}

func TestFlattenResolvesEachOccurrence(t *testing.T) {
	r := &stubResolver{out: "s"}
	n := New(r)
	if _, err := n.Flatten(context.Background(), []Element{
		{Type: "text", Text: "http://a.cn/x and http://a.cn/x"},
	}, false); err != nil {
		t.Fatalf("Flatten: %v", err)
	}
	if len(r.calls) != 2 {
		t.Fatalf("expected the link resolved twice, got %v", r.calls)
	}
}

func TestFlattenMarkdownLinkResolvesInnerURL(t *testing.T) {
	r := &stubResolver{out: "s"}
	n := New(r)
	out, err := n.Flatten(context.Background(), []Element{
		{Type: "text", Text: "read [docs](https://docs.example.com/a)"},
	}, false)
	if err != nil {
		t.Fatalf("Flatten: %v", err)
	}
	if len(r.calls) != 1 || r.calls[0] != "https://docs.example.com/a" {
		t.Fatalf("expected inner url resolved, got %v", r.calls)
	}
	if !strings.Contains(out, "[链接] s") {
		t.Fatalf("unexpected output %q", out)
	}
}

func TestFlattenImageAndEmoji(t *testing.T) {
	r := &stubResolver{out: "s"}
	n := New(r)
	out, err := n.Flatten(context.Background(), []Element{
		{Type: "img", Src: "https://cdn.example.com/p.png"},
		{Type: "face.emoji", Children: []Element{{Type: "text", Text: "yo"}}},
		{Type: "mystery"},
	}, false)
	if err != nil {
		t.Fatalf("Flatten: %v", err)
	}
	if out != " [表情/图片] s  /face.emoji yo" {
		t.Fatalf("unexpected output %q", out)
	}
}

func TestFlattenStripsCommandPrefix(t *testing.T) {
	n := New(&stubResolver{})
	out, err := n.Flatten(context.Background(), []Element{
		{Type: "text", Text: "mc hello world"},
	}, true)
	if err != nil {
		t.Fatalf("Flatten: %v", err)
	}
	if out != "hello world" {
		t.Fatalf("expected prefix stripped, got %q", out)
	}

	out, err = n.Flatten(context.Background(), []Element{
		{Type: "text", Text: "mc"},
	}, true)
	if err != nil {
		t.Fatalf("Flatten: %v", err)
	}
	if out != "" {
		t.Fatalf("expected empty result without a space, got %q", out)
	}
}

func TestFlattenResolverFailurePropagates(t *testing.T) {
	boom := errors.New("shortlink down")
	n := New(&stubResolver{err: boom})
	_, err := n.Flatten(context.Background(), []Element{
		{Type: "text", Text: "see https://example.com/a"},
	}, false)
	if err == nil || !errors.Is(err, boom) {
		t.Fatalf("expected resolver error, got %v", err)
	}
}

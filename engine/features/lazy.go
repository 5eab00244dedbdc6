package features

import (
	"context"
	"fmt"
	"sync"
)

// TextEncoder turns a phrase into a dense vector.
type TextEncoder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// ImageEncoder turns raw image bytes into a dense vector.
type ImageEncoder interface {
	EmbedImage(ctx context.Context, img []byte) ([]float32, error)
}

// LazyText builds the text encoder on first use and shares it afterwards.
// A failed build is not cached; the next call retries it.
type LazyText struct {
	build func(ctx context.Context) (TextEncoder, error)

	mu  sync.Mutex
	enc TextEncoder
}

// NewLazyText wraps a constructor.
func NewLazyText(build func(ctx context.Context) (TextEncoder, error)) *LazyText {
	return &LazyText{build: build}
}

// StaticText wraps an already built encoder.
func StaticText(enc TextEncoder) *LazyText {
	return &LazyText{enc: enc}
}

// Get returns the shared encoder, building it if needed.
func (l *LazyText) Get(ctx context.Context) (TextEncoder, error) {
	if l == nil {
		return nil, fmt.Errorf("features: no text encoder configured")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.enc != nil {
		return l.enc, nil
	}
	if l.build == nil {
		return nil, fmt.Errorf("features: no text encoder configured")
	}
	enc, err := l.build(ctx)
	if err != nil {
		return nil, fmt.Errorf("features: init text encoder: %w", err)
	}
	l.enc = enc
	return enc, nil
}

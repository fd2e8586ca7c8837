package usecase

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
)

type countingEmbedder struct {
	calls int32
	err   error
}

func (e *countingEmbedder) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	atomic.AddInt32(&e.calls, 1)
	if e.err != nil {
		return nil, e.err
	}
	return []float32{float32(len(text))}, nil
}

func TestCachingEmbedderMemoizesByContent(t *testing.T) {
	inner := &countingEmbedder{}
	cached := NewCachingEmbedder(inner, 16)

	first, err := cached.EmbedQuery(context.Background(), "what changed in Q3?")
	if err != nil {
		t.Fatalf("EmbedQuery() error = %v", err)
	}
	second, err := cached.EmbedQuery(context.Background(), "what changed in Q3?")
	if err != nil {
		t.Fatalf("EmbedQuery() error = %v", err)
	}
	if atomic.LoadInt32(&inner.calls) != 1 {
		t.Fatalf("expected a single inner call for identical text, got %d", inner.calls)
	}
	if first[0] != second[0] {
		t.Fatalf("cache returned a different vector")
	}

	if _, err := cached.EmbedQuery(context.Background(), "different question"); err != nil {
		t.Fatalf("EmbedQuery() error = %v", err)
	}
	if atomic.LoadInt32(&inner.calls) != 2 {
		t.Fatalf("distinct text must reach the inner embedder, got %d calls", inner.calls)
	}
}

func TestCachingEmbedderDoesNotCacheErrors(t *testing.T) {
	inner := &countingEmbedder{err: errors.New("timeout")}
	cached := NewCachingEmbedder(inner, 16)

	if _, err := cached.EmbedQuery(context.Background(), "q"); err == nil {
		t.Fatalf("expected inner error to propagate")
	}

	inner.err = nil
	if _, err := cached.EmbedQuery(context.Background(), "q"); err != nil {
		t.Fatalf("EmbedQuery() after recovery error = %v", err)
	}
	if atomic.LoadInt32(&inner.calls) != 2 {
		t.Fatalf("failed lookups must not be cached, got %d calls", inner.calls)
	}
}

func TestCachingEmbedderConcurrentSameKeySingleCall(t *testing.T) {
	inner := &countingEmbedder{}
	cached := NewCachingEmbedder(inner, 16)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := cached.EmbedQuery(context.Background(), "same question"); err != nil {
				t.Errorf("EmbedQuery() error = %v", err)
			}
		}()
	}
	wg.Wait()

	if atomic.LoadInt32(&inner.calls) != 1 {
		t.Fatalf("expected singleflight to collapse concurrent lookups to 1 call, got %d", inner.calls)
	}
}

func TestCachingEmbedderBoundsEntries(t *testing.T) {
	inner := &countingEmbedder{}
	cached := NewCachingEmbedder(inner, 4)

	for i := 0; i < 10; i++ {
		text := string(rune('a' + i))
		if _, err := cached.EmbedQuery(context.Background(), text); err != nil {
			t.Fatalf("EmbedQuery() error = %v", err)
		}
	}
	if len(cached.cache) > 4 {
		t.Fatalf("cache exceeded its bound: %d entries", len(cached.cache))
	}
}

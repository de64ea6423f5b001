package rag

import (
	"context"
	"errors"
	"sync"
	"time"
)

type fakeVector struct {
	mu      sync.Mutex
	matches []VectorMatch
	err     error
	delay   time.Duration
	topKs   []int
	filters []Filter
}

func (f *fakeVector) Search(ctx context.Context, vec []float32, topK int, filter Filter) ([]VectorMatch, error) {
	f.mu.Lock()
	f.topKs = append(f.topKs, topK)
	f.filters = append(f.filters, filter)
	f.mu.Unlock()
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	if len(f.matches) > topK {
		return f.matches[:topK], nil
	}
	return f.matches, nil
}

type fakeLexical struct {
	mu    sync.Mutex
	docs  []Document
	err   error
	topKs []int
	texts []string
}

func (f *fakeLexical) SearchLexical(ctx context.Context, text string, topK int, filter Filter) ([]Document, error) {
	f.mu.Lock()
	f.topKs = append(f.topKs, topK)
	f.texts = append(f.texts, text)
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	out := make([]Document, 0, len(f.docs))
	for _, d := range f.docs {
		if filter.Source != "" && d.Source != filter.Source {
			continue
		}
		out = append(out, d)
	}
	if len(out) > topK {
		out = out[:topK]
	}
	return out, nil
}

type fakeLookup struct {
	docs map[string]Document
	err  error
}

func (f *fakeLookup) LookupEntities(ctx context.Context, ids []string) (map[string]Document, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make(map[string]Document, len(ids))
	for _, id := range ids {
		if d, ok := f.docs[id]; ok {
			out[id] = d
		}
	}
	return out, nil
}

type fakeGraph struct {
	text  string
	err   error
	seeds []string
}

func (f *fakeGraph) Traverse(ctx context.Context, seed string) (string, error) {
	f.seeds = append(f.seeds, seed)
	return f.text, f.err
}

// blockingGraph 直到 ctx 结束才返回
type blockingGraph struct{}

func (blockingGraph) Traverse(ctx context.Context, seed string) (string, error) {
	<-ctx.Done()
	return "", ctx.Err()
}

type fakeWriter struct {
	mu      sync.Mutex
	records []VectorRecord
	err     error
	failFor map[string]bool
}

func (f *fakeWriter) Upsert(ctx context.Context, rec VectorRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	if f.failFor[rec.EntityID] {
		return errors.New("upsert rejected")
	}
	f.records = append(f.records, rec)
	return nil
}

func (f *fakeWriter) Delete(ctx context.Context, entityID string) error { return nil }

type mapCache struct {
	mu     sync.Mutex
	values map[string]string
	setErr error
}

func newMapCache() *mapCache { return &mapCache{values: map[string]string{}} }

func (c *mapCache) Get(ctx context.Context, key string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.values[key]
	if !ok {
		return "", errCacheMiss
	}
	return v, nil
}

func (c *mapCache) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.setErr != nil {
		return c.setErr
	}
	c.values[key] = value
	return nil
}

type cacheMissError struct{}

func (cacheMissError) Error() string { return "cache miss" }

var errCacheMiss error = cacheMissError{}

package domain

import (
	"context"
	"encoding/json"
	"fmt"
)

// Get reads key and decodes it into T. A missing key yields (nil, nil).
func Get[T any](ctx context.Context, s Store, key string) (*T, error) {
	doc, err := s.Read(ctx, key)
	if err != nil || doc == nil {
		return nil, err
	}
	var out T
	if err := json.Unmarshal(doc.Body, &out); err != nil {
		return nil, fmt.Errorf("decode %s: %w", key, err)
	}
	return &out, nil
}

func Put(ctx context.Context, s Store, key string, value any) error {
	return s.Write(ctx, key, value)
}

// ListAs decodes every document under prefix. Undecodable documents are skipped
// and reported through the second return value.
func ListAs[T any](ctx context.Context, s Store, prefix string, opts ...ListOption) ([]T, []string, error) {
	docs, err := s.List(ctx, prefix, opts...)
	if err != nil {
		return nil, nil, err
	}
	out := make([]T, 0, len(docs))
	var corrupt []string
	for _, doc := range docs {
		var item T
		if err := json.Unmarshal(doc.Body, &item); err != nil {
			corrupt = append(corrupt, doc.Key)
			continue
		}
		out = append(out, item)
	}
	return out, corrupt, nil
}

package domain

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/datatypes"
)

var (
	ErrUnavailable = errors.New("document_store_unavailable")
	ErrInvalidKey  = errors.New("invalid_document_key")
)

// Document is one JSON body addressed by a slash-separated key.
type Document struct {
	Key       string
	Body      datatypes.JSON
	UpdatedAt time.Time
}

// Store is the key/value document collaborator every engine component persists through.
// Read returns (nil, nil) when the key is absent. Writes are last-writer-wins per key.
type Store interface {
	Read(ctx context.Context, key string) (*Document, error)
	Write(ctx context.Context, key string, body any) error
	List(ctx context.Context, prefix string, opts ...ListOption) ([]Document, error)
	Delete(ctx context.Context, key string) error
}

// ListOptions bounds a prefix scan. Results are ordered by key.
type ListOptions struct {
	Limit      int
	Descending bool
}

type ListOption func(*ListOptions)

func WithLimit(limit int) ListOption {
	return func(o *ListOptions) { o.Limit = limit }
}

func Descending() ListOption {
	return func(o *ListOptions) { o.Descending = true }
}

func ApplyListOptions(opts []ListOption) ListOptions {
	var out ListOptions
	for _, opt := range opts {
		if opt != nil {
			opt(&out)
		}
	}
	if out.Limit < 0 {
		out.Limit = 0
	}
	return out
}

func ValidateKey(key string) error {
	key = strings.TrimSpace(key)
	if key == "" || strings.HasPrefix(key, "/") || strings.HasSuffix(key, "/") || strings.Contains(key, "//") {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return nil
}

// EncodeBody JSON-encodes a value unless it already is raw JSON.
func EncodeBody(body any) (datatypes.JSON, error) {
	switch v := body.(type) {
	case nil:
		return nil, errors.New("document body is required")
	case datatypes.JSON:
		return cloneJSON(v), nil
	case json.RawMessage:
		return cloneJSON(datatypes.JSON(v)), nil
	case []byte:
		if !json.Valid(v) {
			return nil, errors.New("document body is not valid json")
		}
		return cloneJSON(datatypes.JSON(v)), nil
	default:
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("encode document: %w", err)
		}
		return datatypes.JSON(raw), nil
	}
}

func cloneJSON(in datatypes.JSON) datatypes.JSON {
	out := make(datatypes.JSON, len(in))
	copy(out, in)
	return out
}

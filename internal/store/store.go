package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrNotFound is returned when no document exists at a path.
	ErrNotFound = errors.New("document not found")
	// ErrAlreadyExists is returned by Create when the path is taken.
	ErrAlreadyExists = errors.New("document already exists")
	// ErrInvalidPath is returned for paths that do not address a document.
	ErrInvalidPath = errors.New("invalid document path")
)

// Store is the document store contract. Every operation is independently
// fallible and no operation spans more than one document.
type Store interface {
	Get(ctx context.Context, path string) (Document, error)
	// Create writes a new document and fails with ErrAlreadyExists if one is
	// already present.
	Create(ctx context.Context, path string, fields map[string]any) error
	// Set writes fields. With merge only the given top-level fields are
	// replaced; without it the document is overwritten.
	Set(ctx context.Context, path string, fields map[string]any, merge bool) error
	// Update merges fields into an existing document, failing with
	// ErrNotFound otherwise.
	Update(ctx context.Context, path string, fields map[string]any) error
	Delete(ctx context.Context, path string) error
	// Query returns the documents of collection matching all filters,
	// ordered by document id.
	Query(ctx context.Context, collection string, filters ...Filter) ([]Document, error)
}

// ArrayUnion, used as a field value in a write, appends its elements to the
// stored array, skipping elements already present.
type ArrayUnion []any

// Document is a stored document.
type Document struct {
	Path   string
	ID     string
	Fields map[string]any
}

// Has reports whether the document carries field.
func (d Document) Has(field string) bool {
	_, ok := d.Fields[field]
	return ok
}

// Float returns a numeric field.
func (d Document) Float(field string) (float64, bool) {
	return toFloat(d.Fields[field])
}

// Int64 returns a numeric field truncated to an integer.
func (d Document) Int64(field string) (int64, bool) {
	f, ok := toFloat(d.Fields[field])
	if !ok {
		return 0, false
	}
	return int64(f), true
}

func (d Document) Bool(field string) (bool, bool) {
	b, ok := d.Fields[field].(bool)
	return b, ok
}

func (d Document) String(field string) (string, bool) {
	s, ok := d.Fields[field].(string)
	return s, ok
}

// Slice returns an array field.
func (d Document) Slice(field string) ([]any, bool) {
	s, ok := d.Fields[field].([]any)
	return s, ok
}

// Op is a Filter comparison operator.
type Op string

const (
	OpLess         Op = "<"
	OpLessEqual    Op = "<="
	OpEqual        Op = "=="
	OpGreaterEqual Op = ">="
	OpGreater      Op = ">"
)

// Filter restricts a Query to documents whose Field compares to Value. A
// document without the field never matches.
type Filter struct {
	Field string
	Op    Op
	Value any
}

// Where builds a Filter.
func Where(field string, op Op, value any) Filter {
	return Filter{Field: field, Op: op, Value: value}
}

// Match reports whether fields satisfy the filter.
func (f Filter) Match(fields map[string]any) bool {
	v, ok := fields[f.Field]
	if !ok || v == nil {
		return false
	}

	cmp, ok := compare(v, f.Value)
	if !ok {
		return false
	}

	switch f.Op {
	case OpLess:
		return cmp < 0
	case OpLessEqual:
		return cmp <= 0
	case OpEqual:
		return cmp == 0
	case OpGreaterEqual:
		return cmp >= 0
	case OpGreater:
		return cmp > 0
	default:
		return false
	}
}

func matchAll(fields map[string]any, filters []Filter) bool {
	for _, f := range filters {
		if !f.Match(fields) {
			return false
		}
	}
	return true
}

// compare orders two values of the same kind. Mixed kinds are incomparable.
func compare(a, b any) (int, bool) {
	if fa, ok := toFloat(a); ok {
		fb, ok := toFloat(b)
		if !ok {
			return 0, false
		}
		switch {
		case fa < fb:
			return -1, true
		case fa > fb:
			return 1, true
		default:
			return 0, true
		}
	}

	switch av := a.(type) {
	case string:
		bv, ok := b.(string)
		if !ok {
			return 0, false
		}
		return strings.Compare(av, bv), true
	case bool:
		bv, ok := b.(bool)
		if !ok {
			return 0, false
		}
		if av == bv {
			return 0, true
		}
		if !av {
			return -1, true
		}
		return 1, true
	}
	return 0, false
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

// Path joins segments into a document or collection path.
func Path(segments ...string) string {
	return strings.Join(segments, "/")
}

// SplitPath splits a document path into its collection and id.
func SplitPath(path string) (collection, id string, err error) {
	segments := strings.Split(path, "/")
	if len(segments) < 2 || len(segments)%2 != 0 {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidPath, path)
	}
	for _, s := range segments {
		if s == "" {
			return "", "", fmt.Errorf("%w: %q", ErrInvalidPath, path)
		}
	}
	return strings.Join(segments[:len(segments)-1], "/"), segments[len(segments)-1], nil
}

// mergeFields applies patch on top of existing, resolving ArrayUnion values.
// existing is not modified.
func mergeFields(existing, patch map[string]any) map[string]any {
	out := make(map[string]any, len(existing)+len(patch))
	for k, v := range existing {
		out[k] = v
	}
	for k, v := range patch {
		if u, ok := v.(ArrayUnion); ok {
			out[k] = unionInto(out[k], u)
			continue
		}
		out[k] = v
	}
	return out
}

func unionInto(current any, add ArrayUnion) []any {
	list, _ := current.([]any)
	res := make([]any, 0, len(list)+len(add))
	res = append(res, list...)
	for _, v := range add {
		if !containsValue(res, v) {
			res = append(res, v)
		}
	}
	return res
}

func containsValue(list []any, v any) bool {
	for _, item := range list {
		if equalValues(item, v) {
			return true
		}
	}
	return false
}

func equalValues(a, b any) bool {
	if cmp, ok := compare(a, b); ok {
		return cmp == 0
	}
	am, aok := a.(map[string]any)
	bm, bok := b.(map[string]any)
	if aok && bok {
		if len(am) != len(bm) {
			return false
		}
		for k, av := range am {
			bv, ok := bm[k]
			if !ok || !equalValues(av, bv) {
				return false
			}
		}
		return true
	}
	al, aok := a.([]any)
	bl, bok := b.([]any)
	if aok && bok {
		if len(al) != len(bl) {
			return false
		}
		for i := range al {
			if !equalValues(al[i], bl[i]) {
				return false
			}
		}
		return true
	}
	return a == nil && b == nil
}

// cloneValue deep-copies maps and slices so callers never share storage.
func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return cloneFields(t)
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = cloneValue(item)
		}
		return out
	case ArrayUnion:
		out := make(ArrayUnion, len(t))
		for i, item := range t {
			out[i] = cloneValue(item)
		}
		return out
	default:
		return v
	}
}

func cloneFields(fields map[string]any) map[string]any {
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		out[k] = cloneValue(v)
	}
	return out
}

func sortDocuments(docs []Document) {
	sort.Slice(docs, func(i, j int) bool { return docs[i].ID < docs[j].ID })
}

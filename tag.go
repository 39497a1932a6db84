package arbor

import (
	"errors"
	"fmt"
)

// ErrTagNotFound is returned by Tag.Get when no value is bound on the source
// and the tag declares no default.
var ErrTagNotFound = errors.New("arbor: tag not found")

// anyTag is the type-erased view of a Tag, used as the identity key in tag
// tables and dependency specs.
type anyTag interface {
	tagLabel() string
	convertRaw(raw any) (any, error)
	defaultRaw() (any, bool)
}

// Tag is a typed metadata key. Tags are compared by identity: two tags
// created with the same label are distinct keys.
//
// Values are bound with Of and looked up with Get, Find, or Collect against
// any tag source (scope, execution context, atom, resource, or flow).
// Lookups on an execution context scan in precedence order: the values set
// at the Exec call, then the ancestor contexts, then the scope, then the
// declaration-time tags of the flow or atom being executed. The first match
// wins; values are never merged.
type Tag[T any] struct {
	label string
	parse func(any) (T, error)
	def   *T
}

// NewTag creates a tag with the given label. The label is diagnostic only
// and does not participate in identity.
func NewTag[T any](label string) *Tag[T] {
	return &Tag[T]{label: label}
}

// WithParse sets a synchronous parse function applied to every raw value
// found for this tag. Parse failures surface as ParseError with phase "tag";
// values are never silently coerced.
func (t *Tag[T]) WithParse(fn func(any) (T, error)) *Tag[T] {
	t.parse = fn
	return t
}

// WithDefault sets the value returned by Get and Find when no source binds
// the tag.
func (t *Tag[T]) WithDefault(v T) *Tag[T] {
	t.def = &v
	return t
}

// Label returns the tag's diagnostic label.
func (t *Tag[T]) Label() string { return t.label }

// Of binds a value to the tag, producing a Tagged pair for attachment to
// scopes, contexts, atoms, resources, or flows.
func (t *Tag[T]) Of(v T) Tagged {
	return Tagged{key: t, value: v}
}

// Get returns the first value bound to the tag in precedence order. A miss
// falls back to the declared default; without one, Get reports
// ErrTagNotFound.
func (t *Tag[T]) Get(src TagSource) (T, error) {
	raw, ok := src.findTagRaw(t)
	if !ok {
		if t.def != nil {
			return *t.def, nil
		}
		var zero T
		return zero, fmt.Errorf("%w: %q", ErrTagNotFound, t.label)
	}
	return t.convert(raw)
}

// Find is like Get but reports a miss with the ok flag instead of an error.
// A declared default counts as a hit.
func (t *Tag[T]) Find(src TagSource) (T, bool, error) {
	raw, ok := src.findTagRaw(t)
	if !ok {
		if t.def != nil {
			return *t.def, true, nil
		}
		var zero T
		return zero, false, nil
	}
	v, err := t.convert(raw)
	if err != nil {
		var zero T
		return zero, false, err
	}
	return v, true, nil
}

// Collect gathers every value bound to the tag, in precedence order. The
// default, if any, is not included.
func (t *Tag[T]) Collect(src TagSource) ([]T, error) {
	raws := src.collectTagRaw(t)
	if len(raws) == 0 {
		return nil, nil
	}
	out := make([]T, 0, len(raws))
	for _, raw := range raws {
		v, err := t.convert(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func (t *Tag[T]) convert(raw any) (T, error) {
	if t.parse != nil {
		v, err := t.parse(raw)
		if err != nil {
			var zero T
			return zero, &ParseError{Phase: PhaseTag, Label: t.label, Cause: err}
		}
		return v, nil
	}
	v, ok := raw.(T)
	if !ok {
		var zero T
		return zero, &ParseError{
			Phase: PhaseTag,
			Label: t.label,
			Cause: fmt.Errorf("unexpected value type %T", raw),
		}
	}
	return v, nil
}

func (t *Tag[T]) tagLabel() string { return t.label }

func (t *Tag[T]) convertRaw(raw any) (any, error) {
	return t.convert(raw)
}

func (t *Tag[T]) defaultRaw() (any, bool) {
	if t.def == nil {
		return nil, false
	}
	return *t.def, true
}

// Tagged is a tag key bound to a value.
type Tagged struct {
	key   anyTag
	value any
}

// Label returns the label of the underlying tag.
func (tv Tagged) Label() string { return tv.key.tagLabel() }

// TagSource is anything tag values can be looked up on: a Scope, an
// ExecutionContext, or a declared node (atom, resource, flow).
type TagSource interface {
	findTagRaw(key anyTag) (any, bool)
	collectTagRaw(key anyTag) []any
}

// findInTagged scans a tag list in order and returns the first match.
func findInTagged(tags []Tagged, key anyTag) (any, bool) {
	for _, tv := range tags {
		if tv.key == key {
			return tv.value, true
		}
	}
	return nil, false
}

func collectInTagged(dst []any, tags []Tagged, key anyTag) []any {
	for _, tv := range tags {
		if tv.key == key {
			dst = append(dst, tv.value)
		}
	}
	return dst
}

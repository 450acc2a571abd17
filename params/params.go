// Package params provides an order-preserving, allocation-light view over
// flat key=value selector strings of the form "a=b;c=d|e;f=g". The grammar
// deliberately avoids characters the substrate's key-expression machinery
// reserves, so an encoded selector survives round-tripping through it.
package params

import "strings"

const (
	// ListSeparator separates key=value pairs.
	ListSeparator = ';'
	// FieldSeparator separates a key from its value.
	FieldSeparator = '='
	// ValueSeparator separates individual values within a value list.
	ValueSeparator = '|'
)

// Pair is a single decoded key/value entry.
type Pair struct {
	Key   string
	Value string
}

func splitOnce(s string, c byte) (string, string) {
	if idx := strings.IndexByte(s, c); idx >= 0 {
		return s[:idx], s[idx+1:]
	}
	return s, ""
}

// Iter decodes s into its ordered key/value pairs. Empty segments (from a
// leading, trailing, or doubled separator) are skipped. The returned slice
// preserves encounter order; it is not deduplicated.
func Iter(s string) []Pair {
	if s == "" {
		return nil
	}
	segments := strings.Split(s, string(ListSeparator))
	out := make([]Pair, 0, len(segments))
	for _, seg := range segments {
		if seg == "" {
			continue
		}
		k, v := splitOnce(seg, FieldSeparator)
		out = append(out, Pair{Key: k, Value: v})
	}
	return out
}

// Get returns the first value associated with k, and whether it was found.
func Get(s string, k string) (string, bool) {
	for _, p := range Iter(s) {
		if p.Key == k {
			return p.Value, true
		}
	}
	return "", false
}

// Values returns the `|`-separated value list for k. A missing key yields nil.
func Values(s string, k string) []string {
	v, ok := Get(s, k)
	if !ok {
		return nil
	}
	if v == "" {
		return []string{""}
	}
	return strings.Split(v, string(ValueSeparator))
}

// Concat re-encodes pairs in the order given, without sorting.
func Concat(pairs []Pair) string {
	var b strings.Builder
	extendInto(&b, pairs)
	return b.String()
}

// FromIter re-encodes pairs in canonical (key-sorted, stable) form. This is
// the form queryable selectors should use so two equivalent selectors
// compare equal as strings.
func FromIter(pairs []Pair) string {
	sorted := make([]Pair, len(pairs))
	copy(sorted, pairs)
	stableSortByKey(sorted)
	return Concat(sorted)
}

func extendInto(b *strings.Builder, pairs []Pair) {
	first := b.Len() == 0
	for _, p := range pairs {
		if !first {
			b.WriteByte(ListSeparator)
		}
		b.WriteString(p.Key)
		if p.Value != "" {
			b.WriteByte(FieldSeparator)
			b.WriteString(p.Value)
		}
		first = false
	}
}

// Insert returns a new encoded string with k=v inserted (replacing any prior
// value for k), along with the previous value if one existed.
func Insert(s string, k, v string) (string, string, bool) {
	pairs := Iter(s)
	var prev string
	found := false
	out := make([]Pair, 0, len(pairs)+1)
	for _, p := range pairs {
		if p.Key == k {
			prev = p.Value
			found = true
			continue
		}
		out = append(out, p)
	}
	out = append(out, Pair{Key: k, Value: v})
	return Concat(out), prev, found
}

// Remove returns a new encoded string with k removed, along with the
// removed value if one existed.
func Remove(s string, k string) (string, string, bool) {
	pairs := Iter(s)
	var prev string
	found := false
	out := make([]Pair, 0, len(pairs))
	for _, p := range pairs {
		if p.Key == k {
			prev = p.Value
			found = true
			continue
		}
		out = append(out, p)
	}
	return Concat(out), prev, found
}

// IsSorted reports whether s's keys are already in canonical (sorted) order.
func IsSorted(s string) bool {
	pairs := Iter(s)
	for i := 1; i < len(pairs); i++ {
		if pairs[i].Key < pairs[i-1].Key {
			return false
		}
	}
	return true
}

// stableSortByKey is a small insertion sort: selector parameter lists are
// short (single digits of entries) so this avoids pulling in sort.Slice's
// interface-boxing overhead for the hot encode path.
func stableSortByKey(pairs []Pair) {
	for i := 1; i < len(pairs); i++ {
		for j := i; j > 0 && pairs[j].Key < pairs[j-1].Key; j-- {
			pairs[j], pairs[j-1] = pairs[j-1], pairs[j]
		}
	}
}

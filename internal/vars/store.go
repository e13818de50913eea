// Package vars implements the typed variable store: scalar slots, sparse
// auto-dimensioned arrays, and the DEF-type letter table.
package vars

import (
	"fmt"
	"sort"
	"strings"

	"github.com/retrobasic/basic64k/internal/lang"
	"github.com/retrobasic/basic64k/internal/value"
)

// Store holds every scalar and array variable for one run.
type Store struct {
	scalars    map[string]value.Val
	dims       map[string][]int // upper bound per axis, as dimensioned
	defaultKind [26]value.Kind
}

func New() *Store {
	s := &Store{
		scalars: make(map[string]value.Val),
		dims:    make(map[string][]int),
	}
	for i := range s.defaultKind {
		s.defaultKind[i] = value.Single
	}
	return s
}

// Clear wipes all scalar and array storage, preserving the DEF-type table
// (matches CLEAR's behavior: it resets values, not type declarations).
func (s *Store) Clear() {
	s.scalars = make(map[string]value.Val)
	s.dims = make(map[string][]int)
}

// SetDefaultType implements DEFINT/DEFSNG/DEFDBL/DEFSTR from-TO-to: it
// rewrites the default type for every starting letter in range, and
// drops any existing plain-named scalar whose stored type no longer
// matches, forcing it to be re-created under the new type on next use.
// Array elements and sigiled scalars are kept.
func (s *Store) SetDefaultType(from, to byte, k value.Kind) {
	from, to = upper(from), upper(to)
	if to < from {
		from, to = to, from
	}
	for c := from; c <= to; c++ {
		idx := int(c - 'A')
		if idx < 0 || idx > 25 {
			continue
		}
		s.defaultKind[idx] = k
	}
	for name, v := range s.scalars {
		if _, sigiled := resolvedSigilKind(name); strings.ContainsRune(name, ',') || sigiled {
			continue // array element or explicitly sigiled: unaffected
		}
		if len(name) == 0 || v.Kind == k {
			continue
		}
		first := upper(name[0])
		if first >= from && first <= to {
			delete(s.scalars, name)
		}
	}
}

func upper(b byte) byte {
	if b >= 'a' && b <= 'z' {
		return b - 'a' + 'A'
	}
	return b
}

// ResolveKind determines a name's effective Kind: an explicit sigil wins;
// otherwise the first letter's DEF-type table entry applies.
func (s *Store) ResolveKind(name string, sigilKind value.Kind, hasSigil bool) value.Kind {
	if hasSigil {
		return sigilKind
	}
	if len(name) == 0 {
		return value.Single
	}
	c := upper(name[0])
	if c < 'A' || c > 'Z' {
		return value.Single
	}
	return s.defaultKind[c-'A']
}

// KindForKey resolves a storage key's effective type after the fact: the
// trailing sigil character storageKey appended wins, otherwise the
// DEF-type table applies. NEXT uses this to re-type a FOR counter whose
// frame marker carries only the key.
func (s *Store) KindForKey(key string) value.Kind {
	if k, ok := resolvedSigilKind(key); ok {
		return k
	}
	return s.ResolveKind(key, 0, false)
}

func resolvedSigilKind(name string) (value.Kind, bool) {
	if len(name) == 0 {
		return 0, false
	}
	switch name[len(name)-1] {
	case '$':
		return value.String, true
	case '!':
		return value.Single, true
	case '#':
		return value.Double, true
	case '%':
		return value.Integer, true
	}
	return 0, false
}

// Fetch reads a scalar; an unassigned name returns the type-specific
// zero without creating a slot. A zero numeric or empty string is never
// stored, so fetch-of-default and fetch-after-zero-store agree.
func (s *Store) Fetch(name string, k value.Kind) value.Val {
	if v, ok := s.scalars[name]; ok {
		return v
	}
	return value.Zero(k)
}

// Store writes a scalar, applying sigil coercion/range checks, and
// "zero not stored" identity: storing the zero value deletes any
// existing slot instead of writing it.
func (s *Store) Store(name string, k value.Kind, v value.Val) error {
	coerced, err := coerce(v, k)
	if err != nil {
		return err
	}
	if coerced.IsZero() {
		delete(s.scalars, name)
		return nil
	}
	if err := s.checkPool(name); err != nil {
		return err
	}
	s.scalars[name] = coerced
	return nil
}

// poolLimit is the soft cap on distinct stored slots; exceeding it raises
// OutOfMemory rather than growing without bound.
const poolLimit = 65536

func (s *Store) checkPool(key string) error {
	if _, exists := s.scalars[key]; !exists && len(s.scalars) >= poolLimit {
		return lang.NewError(lang.OutOfMemory)
	}
	return nil
}

func coerce(v value.Val, target value.Kind) (value.Val, error) {
	switch target {
	case value.String:
		if v.Kind != value.String {
			return value.Val{}, lang.NewError(lang.TypeMismatch)
		}
		if len(v.Str) > 255 {
			return value.Val{}, lang.NewError(lang.StringTooLong)
		}
		return v, nil
	case value.Integer:
		if !v.Numeric() {
			return value.Val{}, lang.NewError(lang.TypeMismatch)
		}
		f := v.AsF64()
		r := roundHalfAwayFromZero(f)
		if r > 32767 || r < -32768 {
			return value.Val{}, lang.NewError(lang.Overflow)
		}
		return value.NewInteger(int16(r)), nil
	case value.Single:
		if !v.Numeric() {
			return value.Val{}, lang.NewError(lang.TypeMismatch)
		}
		return value.NewSingle(float32(v.AsF64())), nil
	case value.Double:
		if !v.Numeric() {
			return value.Val{}, lang.NewError(lang.TypeMismatch)
		}
		return value.NewDouble(v.AsF64()), nil
	default:
		return value.Val{}, lang.NewError(lang.TypeMismatch)
	}
}

func roundHalfAwayFromZero(f float64) float64 {
	if f >= 0 {
		return float64(int64(f + 0.5))
	}
	return float64(int64(f - 0.5))
}

// Names returns every stored slot key in sorted order. The debugger's
// watch table iterates this; an empty store means every variable still
// holds its default.
func (s *Store) Names() []string {
	names := make([]string, 0, len(s.scalars))
	for k := range s.scalars {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Peek reads a slot by raw storage key without default substitution.
func (s *Store) Peek(key string) (value.Val, bool) {
	v, ok := s.scalars[key]
	return v, ok
}

// --- arrays ---

const defaultBound = 10

// Dimension explicitly dimensions an array (DIM). Re-dimensioning an
// already-dimensioned array is an error unless it was previously erased.
func (s *Store) Dimension(name string, bounds []int) error {
	if _, ok := s.dims[name]; ok {
		return lang.NewError(lang.RedimensionedArray)
	}
	s.dims[name] = append([]int(nil), bounds...)
	return nil
}

// Erase removes an array's dimension entry and all of its elements, so
// a subsequent DIM may redimension it, even with a different rank.
func (s *Store) Erase(name string) {
	delete(s.dims, name)
	prefix := name + ","
	for k := range s.scalars {
		if strings.HasPrefix(k, prefix) && strings.HasSuffix(k, ","+name) {
			delete(s.scalars, k)
		}
	}
}

func (s *Store) autoDim(name string, rank int) []int {
	bounds := make([]int, rank)
	for i := range bounds {
		bounds[i] = defaultBound
	}
	s.dims[name] = bounds
	return bounds
}

func (s *Store) boundsFor(name string, rank int) ([]int, error) {
	b, ok := s.dims[name]
	if !ok {
		return s.autoDim(name, rank), nil
	}
	if len(b) != rank {
		return nil, lang.NewError(lang.SubscriptOutOfRange)
	}
	return b, nil
}

func arrayKey(name string, idx []int) string {
	var sb strings.Builder
	sb.WriteString(name)
	for _, i := range idx {
		fmt.Fprintf(&sb, ",%d", i)
	}
	sb.WriteString(",")
	sb.WriteString(name)
	return sb.String()
}

func checkIndices(idx []int, bounds []int) error {
	for i, v := range idx {
		if v < 0 || v > bounds[i] {
			return lang.NewError(lang.SubscriptOutOfRange)
		}
	}
	return nil
}

// FetchArray reads an array element, auto-dimensioning to 10-per-axis on
// first reference.
func (s *Store) FetchArray(name string, k value.Kind, idx []int) (value.Val, error) {
	bounds, err := s.boundsFor(name, len(idx))
	if err != nil {
		return value.Val{}, err
	}
	if err := checkIndices(idx, bounds); err != nil {
		return value.Val{}, err
	}
	key := arrayKey(name, idx)
	if v, ok := s.scalars[key]; ok {
		return v, nil
	}
	return value.Zero(k), nil
}

// StoreArray writes an array element, auto-dimensioning as FetchArray
// does, applying the same coercion and "zero not stored" rules.
func (s *Store) StoreArray(name string, k value.Kind, idx []int, v value.Val) error {
	bounds, err := s.boundsFor(name, len(idx))
	if err != nil {
		return err
	}
	if err := checkIndices(idx, bounds); err != nil {
		return err
	}
	coerced, err := coerce(v, k)
	if err != nil {
		return err
	}
	key := arrayKey(name, idx)
	if coerced.IsZero() {
		delete(s.scalars, key)
		return nil
	}
	if err := s.checkPool(key); err != nil {
		return err
	}
	s.scalars[key] = coerced
	return nil
}

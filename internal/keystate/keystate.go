// Package keystate models the set of keys held down at a point in a keylog.
package keystate

import (
	"sort"
	"strconv"
	"strings"
)

// Key names a physical or logical key. Its text is never interpreted.
type Key = string

// State is an immutable set of held keys.
//
// The zero value is the empty state. States are comparable with == and can be
// used directly as map keys: two States are equal iff they hold the same keys.
type State struct {
	// enc is the sorted key set, each key written as "<len>:<key>".
	enc string
}

// Empty returns the state with no keys held.
func Empty() State {
	return State{}
}

// Of builds a state holding the given keys. Duplicates are ignored.
func Of(keys ...Key) State {
	if len(keys) == 0 {
		return State{}
	}
	sorted := append([]Key(nil), keys...)
	sort.Strings(sorted)
	out := sorted[:0]
	for i, k := range sorted {
		if i > 0 && k == sorted[i-1] {
			continue
		}
		out = append(out, k)
	}
	return State{enc: encode(out)}
}

// Change returns the state with key added (push) or removed (release).
// Pressing a held key or releasing an unheld key returns an equal state.
func (s State) Change(key Key, push bool) State {
	keys := s.Keys()
	idx := sort.SearchStrings(keys, key)
	held := idx < len(keys) && keys[idx] == key
	switch {
	case push && !held:
		keys = append(keys, "")
		copy(keys[idx+1:], keys[idx:])
		keys[idx] = key
	case !push && held:
		keys = append(keys[:idx], keys[idx+1:]...)
	default:
		return s
	}
	return State{enc: encode(keys)}
}

// Has reports whether key is held.
func (s State) Has(key Key) bool {
	keys := s.Keys()
	idx := sort.SearchStrings(keys, key)
	return idx < len(keys) && keys[idx] == key
}

// Keys returns the held keys in sorted order.
func (s State) Keys() []Key {
	if s.enc == "" {
		return nil
	}
	var keys []Key
	rest := s.enc
	for rest != "" {
		sep := strings.IndexByte(rest, ':')
		n, err := strconv.Atoi(rest[:sep])
		if err != nil {
			// enc is only ever produced by encode.
			panic("keystate: corrupt encoding")
		}
		keys = append(keys, rest[sep+1:sep+1+n])
		rest = rest[sep+1+n:]
	}
	return keys
}

// Len returns the number of held keys.
func (s State) Len() int {
	return len(s.Keys())
}

// IsEmpty reports whether no keys are held.
func (s State) IsEmpty() bool {
	return s.enc == ""
}

// String renders the state as {A,B}.
func (s State) String() string {
	return "{" + strings.Join(s.Keys(), ",") + "}"
}

// Compare orders states by number of held keys, then by sorted keys.
// The empty state sorts first.
func Compare(a, b State) int {
	ak, bk := a.Keys(), b.Keys()
	if len(ak) != len(bk) {
		if len(ak) < len(bk) {
			return -1
		}
		return 1
	}
	for i := range ak {
		if c := strings.Compare(ak[i], bk[i]); c != 0 {
			return c
		}
	}
	return 0
}

// Sort orders states in place using Compare.
func Sort(states []State) {
	sort.Slice(states, func(i, j int) bool {
		return Compare(states[i], states[j]) < 0
	})
}

func encode(sorted []Key) string {
	var b strings.Builder
	for _, k := range sorted {
		b.WriteString(strconv.Itoa(len(k)))
		b.WriteByte(':')
		b.WriteString(k)
	}
	return b.String()
}

// Package session implements the immutable PoolState snapshot of spec.md
// §3.4: a default module, alias table, config variables, and global
// variables, each mutation producing a new snapshot by structural sharing.
// Grounded on the teacher's Router (internal/router/router.go): the same
// clone-on-write-under-a-write-mutex shape that lets reads stay lock-free,
// reused here for a different payload (session state instead of a tenant
// routing table).
package session

import (
	"sort"
	"strings"
	"sync/atomic"

	"github.com/geldb/gelclient/internal/descriptor"
)

// State is an immutable snapshot of session state, spec.md §3.4. The zero
// value is the default session: no default module, no aliases, no config,
// no globals.
type State struct {
	module    string
	hasModule bool
	aliases   map[string]string
	config    map[string]descriptor.Value
	globals   map[string]descriptor.Value

	// cache memoizes this exact snapshot's encoding against the most
	// recently seen state-descriptor id, per spec.md §3.4 "the first
	// encoding against a given state-descriptor id is memoized and reused
	// on subsequent queries until the descriptor id changes". Each new
	// snapshot produced by a With* method starts with a fresh (nil) cache
	// since its content differs from its parent and must be re-encoded
	// regardless of descriptor id.
	cache *atomic.Pointer[encodedState]
}

type encodedState struct {
	descID [16]byte
	data   []byte
}

// New returns the default (empty) session state.
func New() State {
	return State{cache: new(atomic.Pointer[encodedState])}
}

// DefaultModule reports the currently set default module, if any.
func (s State) DefaultModule() (string, bool) {
	return s.module, s.hasModule
}

// WithDefaultModule returns a new snapshot with the default module changed.
// The aliases/config/globals maps are reused verbatim (structural sharing:
// they are unaffected by this mutation).
func (s State) WithDefaultModule(name string) State {
	next := s
	next.module = name
	next.hasModule = true
	next.cache = new(atomic.Pointer[encodedState])
	return next
}

// WithAliases merges overrides into the alias table, returning a new
// snapshot. Only the aliases map is copied; module/config/globals are
// reused by reference.
func (s State) WithAliases(overrides map[string]string) State {
	next := s
	next.aliases = mergeStrings(s.aliases, overrides)
	next.cache = new(atomic.Pointer[encodedState])
	return next
}

// WithConfig merges overrides into the config-variable table.
func (s State) WithConfig(overrides map[string]descriptor.Value) State {
	next := s
	next.config = mergeValues(s.config, overrides)
	next.cache = new(atomic.Pointer[encodedState])
	return next
}

// WithGlobals merges overrides into the global-variable table. Names are
// canonicalized against the *current* default module and alias map at set
// time, per spec.md §3.4 — a later WithDefaultModule call does not
// retroactively requalify globals set before it.
func (s State) WithGlobals(overrides map[string]descriptor.Value) State {
	canon := make(map[string]descriptor.Value, len(overrides))
	for name, v := range overrides {
		canon[s.canonicalizeGlobalName(name)] = v
	}
	next := s
	next.globals = mergeValues(s.globals, canon)
	next.cache = new(atomic.Pointer[encodedState])
	return next
}

// canonicalizeGlobalName qualifies an unqualified global name with the
// default module (falling back to "default"), resolving the leading
// component through the alias table first.
func (s State) canonicalizeGlobalName(name string) string {
	if strings.Contains(name, "::") {
		parts := strings.SplitN(name, "::", 2)
		if full, ok := s.aliases[parts[0]]; ok {
			return full + "::" + parts[1]
		}
		return name
	}
	module := s.module
	if !s.hasModule || module == "" {
		module = "default"
	}
	return module + "::" + name
}

// Aliases/Config/Globals return read-only snapshots of the corresponding
// table (copied, since Go has no const map view).
func (s State) Aliases() map[string]string { return copyStrings(s.aliases) }

func (s State) Config() map[string]descriptor.Value { return copyValues(s.config) }

func (s State) Globals() map[string]descriptor.Value { return copyValues(s.globals) }

func mergeStrings(base, overrides map[string]string) map[string]string {
	out := make(map[string]string, len(base)+len(overrides))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range overrides {
		out[k] = v
	}
	return out
}

func copyStrings(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func mergeValues(base, overrides map[string]descriptor.Value) map[string]descriptor.Value {
	out := make(map[string]descriptor.Value, len(base)+len(overrides))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range overrides {
		out[k] = v
	}
	return out
}

func copyValues(m map[string]descriptor.Value) map[string]descriptor.Value {
	out := make(map[string]descriptor.Value, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// sortedKeys is a small helper shared with encode.go to make map encoding
// deterministic (wire bytes used as a cache key must be stable).
func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

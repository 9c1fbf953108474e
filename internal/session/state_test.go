package session

import (
	"testing"

	"github.com/geldb/gelclient/internal/descriptor"
)

func TestWithDefaultModuleLeavesOtherFieldsShared(t *testing.T) {
	base := New().WithAliases(map[string]string{"foo": "std"})
	next := base.WithDefaultModule("mymod")

	if module, ok := next.DefaultModule(); !ok || module != "mymod" {
		t.Fatalf("DefaultModule() = %q, %v, want mymod, true", module, ok)
	}
	if _, ok := base.DefaultModule(); ok {
		t.Fatal("base snapshot must be unaffected by the derived snapshot's mutation")
	}
	if got := next.Aliases()["foo"]; got != "std" {
		t.Fatalf("aliases not carried over: got %q", got)
	}
}

func TestWithAliasesMerges(t *testing.T) {
	base := New().WithAliases(map[string]string{"foo": "std"})
	next := base.WithAliases(map[string]string{"bar": "math"})

	aliases := next.Aliases()
	if aliases["foo"] != "std" || aliases["bar"] != "math" {
		t.Fatalf("Aliases() = %+v, want both foo and bar present", aliases)
	}
	if len(base.Aliases()) != 1 {
		t.Fatal("earlier snapshot must not see the later merge")
	}
}

func TestWithGlobalsCanonicalizesAgainstCurrentModule(t *testing.T) {
	s := New().WithDefaultModule("app").WithGlobals(map[string]descriptor.Value{
		"user_id": {Kind: descriptor.VInt64, Int64: 7},
	})
	globals := s.Globals()
	v, ok := globals["app::user_id"]
	if !ok {
		t.Fatalf("Globals() = %+v, want key app::user_id", globals)
	}
	if v.Int64 != 7 {
		t.Fatalf("globals[app::user_id].Int64 = %d, want 7", v.Int64)
	}
}

func TestWithGlobalsDefaultsToDefaultModuleWhenUnset(t *testing.T) {
	s := New().WithGlobals(map[string]descriptor.Value{"x": {Kind: descriptor.VBool, Bool: true}})
	if _, ok := s.Globals()["default::x"]; !ok {
		t.Fatalf("Globals() = %+v, want key default::x", s.Globals())
	}
}

func TestWithGlobalsDoesNotRequalifyOnLaterModuleChange(t *testing.T) {
	withGlobal := New().WithGlobals(map[string]descriptor.Value{"x": {Kind: descriptor.VBool, Bool: true}})
	later := withGlobal.WithDefaultModule("app")

	if _, ok := later.Globals()["default::x"]; !ok {
		t.Fatal("a global set before a module change must keep its original qualification")
	}
	if _, ok := later.Globals()["app::x"]; ok {
		t.Fatal("a later WithDefaultModule must not retroactively requalify earlier globals")
	}
}

func TestWithGlobalsResolvesQualifiedNameThroughAliases(t *testing.T) {
	s := New().WithAliases(map[string]string{"m": "myapp"}).WithGlobals(map[string]descriptor.Value{
		"m::x": {Kind: descriptor.VStr, Str: "v"},
	})
	if _, ok := s.Globals()["myapp::x"]; !ok {
		t.Fatalf("Globals() = %+v, want key myapp::x", s.Globals())
	}
}

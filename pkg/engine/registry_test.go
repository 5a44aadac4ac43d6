package engine

import (
	"errors"
	"testing"
)

func noop(*Invocation) error { return nil }

func TestRegisterRejectsDuplicatePrefixAndPattern(t *testing.T) {
	r := NewRegistry()
	if err := r.Register("system", Descriptor{Name: "git_pull", Run: noop}); err != nil {
		t.Fatalf("register: %v", err)
	}

	err := r.Register("system", Descriptor{Name: "pull_again", Prefix: "Git  Pull", Run: noop})
	var dup *DuplicateCommandError
	if !errors.As(err, &dup) {
		t.Fatalf("expected DuplicateCommandError, got %v", err)
	}
	if dup.Namespace != "system" || dup.Prefix != "git pull" {
		t.Fatalf("unexpected duplicate details: %+v", dup)
	}
}

func TestRegisterRejectsDuplicateName(t *testing.T) {
	r := NewRegistry()
	if err := r.Register("system", Descriptor{Name: "sysinfo", Run: noop}); err != nil {
		t.Fatalf("register: %v", err)
	}

	err := r.Register("system", Descriptor{Name: "sysinfo", Prefix: "status", Run: noop})
	var dup *DuplicateCommandError
	if !errors.As(err, &dup) {
		t.Fatalf("expected DuplicateCommandError, got %v", err)
	}
}

func TestRegisterAllowsSamePrefixWithDifferentPattern(t *testing.T) {
	r := NewRegistry()
	if err := r.Register("system", Descriptor{Name: "checkout", Prefix: "git checkout", Pattern: `(?P<branch>\S+)`, Run: noop}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := r.Register("system", Descriptor{Name: "checkout_new", Prefix: "git checkout", Pattern: `-b (?P<branch>\S+)`, Run: noop}); err != nil {
		t.Fatalf("register different pattern: %v", err)
	}
}

func TestRegisterAllowsSamePrefixInOtherNamespace(t *testing.T) {
	r := NewRegistry()
	if err := r.Register("system", Descriptor{Name: "status", Run: noop}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := r.Register("devtest", Descriptor{Name: "status", Run: noop}); err != nil {
		t.Fatalf("register in other namespace: %v", err)
	}
	if got := len(r.Commands()); got != 2 {
		t.Fatalf("commands = %d, want 2", got)
	}
}

func TestRegisterValidatesDescriptor(t *testing.T) {
	tests := []struct {
		name      string
		namespace string
		desc      Descriptor
	}{
		{name: "missing namespace", namespace: "", desc: Descriptor{Name: "x", Run: noop}},
		{name: "missing name", namespace: "system", desc: Descriptor{Run: noop}},
		{name: "dotted name", namespace: "system", desc: Descriptor{Name: "a.b", Run: noop}},
		{name: "missing handler", namespace: "system", desc: Descriptor{Name: "x"}},
		{name: "bad pattern", namespace: "system", desc: Descriptor{Name: "x", Pattern: "(", Run: noop}},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			if err := NewRegistry().Register(tc.namespace, tc.desc); err == nil {
				t.Fatal("expected registration error")
			}
		})
	}
}

func TestSealedRegistryRejectsRegistration(t *testing.T) {
	r := NewRegistry()
	r.Seal()

	if err := r.Register("system", Descriptor{Name: "late", Run: noop}); !errors.Is(err, ErrRegistrySealed) {
		t.Fatalf("expected ErrRegistrySealed, got %v", err)
	}
	if err := r.RegisterAmbient("system", Ambient{Name: "late", Run: noop}); !errors.Is(err, ErrRegistrySealed) {
		t.Fatalf("expected ErrRegistrySealed for ambient, got %v", err)
	}
}

func TestInstallWrapsPluginName(t *testing.T) {
	r := NewRegistry()
	plugin := testPlugin{name: "system", commands: []Descriptor{
		{Name: "restart", Run: noop},
		{Name: "restart", Run: noop},
	}}

	err := r.Install(plugin)
	var dup *DuplicateCommandError
	if !errors.As(err, &dup) {
		t.Fatalf("expected DuplicateCommandError, got %v", err)
	}
	if got, want := err.Error(), `install plugin system: duplicate command "restart" in namespace "system" (prefix "restart")`; got != want {
		t.Fatalf("error = %q, want %q", got, want)
	}
}

func TestLookupResolvesQualifiedNames(t *testing.T) {
	r := NewRegistry()
	if err := r.Register("system", Descriptor{Name: "sysinfo", Run: noop}); err != nil {
		t.Fatalf("register: %v", err)
	}

	if _, ok := r.lookup("system", "sysinfo"); !ok {
		t.Fatal("expected unqualified lookup inside namespace")
	}
	if _, ok := r.lookup("devtest", "system.sysinfo"); !ok {
		t.Fatal("expected qualified lookup across namespaces")
	}
	if _, ok := r.lookup("devtest", "sysinfo"); ok {
		t.Fatal("unqualified lookup must not leave the namespace")
	}
}

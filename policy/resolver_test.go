package policy

import (
	"testing"
	"time"

	"github.com/Keksclan/tiercache/validator"
)

type slowLink bool

func (s slowLink) IsSlowConnection() bool { return bool(s) }

func TestResolve_ExactMatch(t *testing.T) {
	r := NewResolver(
		Group("home").Exact("feed:home").Class(validator.Feed),
	)
	name, pol, ok := r.Resolve("feed:home")
	if !ok {
		t.Fatal("expected a match")
	}
	if name != "home" {
		t.Fatalf("got group %q, want %q", name, "home")
	}
	if pol.Class != validator.Feed {
		t.Fatalf("got class %q, want feed", pol.Class)
	}
}

func TestResolve_RegexMatch(t *testing.T) {
	r := NewResolver(
		Group("thread").Regex(`^post:\d+:replies$`).Class(validator.Computed),
	)
	if _, _, ok := r.Resolve("post:42:replies"); !ok {
		t.Fatal("expected a regex match")
	}
	if _, _, ok := r.Resolve("post:abc:replies"); ok {
		t.Fatal("unexpected match")
	}
}

func TestResolve_NoMatch(t *testing.T) {
	r := NewResolver(Group("profile").Prefix("profile:").Class(validator.Profile))
	if _, _, ok := r.Resolve("settings"); ok {
		t.Fatal("expected no match")
	}
	var nilResolver *Resolver
	if _, _, ok := nilResolver.Resolve("profile:1"); ok {
		t.Fatal("nil resolver matched")
	}
}

func TestResolve_Priority(t *testing.T) {
	r := NewResolver(
		Group("regex").Regex(`^profile:`).Class(validator.Static),
		Group("short").Prefix("profile:").Class(validator.Profile),
		Group("long").Prefix("profile:me").Class(validator.Computed),
		Group("exact").Exact("profile:me:avatar").Class(validator.Avatar),
	)
	tests := map[string]string{
		"profile:42":        "short",
		"profile:me:bio":    "long",
		"profile:me:avatar": "exact",
	}
	for key, want := range tests {
		name, _, ok := r.Resolve(key)
		if !ok || name != want {
			t.Errorf("Resolve(%q) = %q, %v; want %q", key, name, ok, want)
		}
	}
}

func TestResolve_StableFallback(t *testing.T) {
	r := NewResolver(
		Group("first").Prefix("feed:").Class(validator.Feed),
		Group("second").Prefix("feed:").Class(validator.Static),
	)
	name, _, _ := r.Resolve("feed:home")
	if name != "first" {
		t.Fatalf("first-registered group should win: got %q", name)
	}
}

func TestResolve_GroupWithoutPolicy(t *testing.T) {
	r := NewResolver(Group("bare").Prefix("x:"))
	if _, _, ok := r.Resolve("x:1"); ok {
		t.Fatal("group without a policy should not resolve")
	}
}

func TestTTL(t *testing.T) {
	r := NewResolver(
		Group("session").Prefix("session:").Policy(Policy{TTL: 2 * time.Minute}),
		Group("profile").Prefix("profile:").Class(validator.Profile),
	)
	tests := []struct {
		key  string
		slow bool
		want time.Duration
		ok   bool
	}{
		{"profile:1", false, 15 * time.Minute, true},
		{"profile:1", true, 45 * time.Minute, true},
		{"session:abc", false, 2 * time.Minute, true},
		{"session:abc", true, 6 * time.Minute, true},
		{"other", false, 0, false},
	}
	for _, tt := range tests {
		got, ok := r.TTL(tt.key, slowLink(tt.slow))
		if got != tt.want || ok != tt.ok {
			t.Errorf("TTL(%q, slow=%v) = %v, %v; want %v, %v", tt.key, tt.slow, got, ok, tt.want, tt.ok)
		}
	}
}

func TestDefault_CoversClasses(t *testing.T) {
	r := Default()
	tests := map[string]validator.Class{
		"follow-status:7": validator.Relationship,
		"follow-counts:7": validator.FollowCounts,
		"posts:7":         validator.Feed,
		"profile:7":       validator.Profile,
		"avatar:7":        validator.Avatar,
		"static:logo":     validator.Static,
		"computed:trends": validator.Computed,
	}
	for key, want := range tests {
		_, pol, ok := r.Resolve(key)
		if !ok || pol.Class != want {
			t.Errorf("Resolve(%q) = %v, %v; want %q", key, pol, ok, want)
		}
	}
}

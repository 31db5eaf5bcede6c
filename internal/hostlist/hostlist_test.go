package hostlist

import (
	"reflect"
	"testing"
)

func TestContains(t *testing.T) {
	tests := []struct {
		expr string
		host string
		want bool
	}{
		{"tux3", "tux3", true},
		{"tux3", "tux4", false},
		{"tux[1-3]", "tux1", true},
		{"tux[1-3]", "tux2", true},
		{"tux[1-3]", "tux3", true},
		{"tux[1-3]", "tux4", false},
		{"tux[1-3]", "tux", false},
		{"tux[1-3]", "flux2", false},
		{"a[0-15,20,22-24]", "a0", true},
		{"a[0-15,20,22-24]", "a15", true},
		{"a[0-15,20,22-24]", "a16", false},
		{"a[0-15,20,22-24]", "a20", true},
		{"a[0-15,20,22-24]", "a21", false},
		{"a[0-15,20,22-24]", "a23", true},
		{"rack[01-04]a", "rack02a", true},
		{"rack[01-04]a", "rack2a", false},
		{"rack[01-04]a", "rack02", false},
		{"n1,n[5-7],front", "n6", true},
		{"n1,n[5-7],front", "front", true},
		{"n1,n[5-7],front", "n2", false},
	}
	for _, tt := range tests {
		hl, err := Parse(tt.expr)
		if err != nil {
			t.Fatalf("Parse(%q): %v", tt.expr, err)
		}
		if got := hl.Contains(tt.host); got != tt.want {
			t.Errorf("%q.Contains(%q) = %v, want %v", tt.expr, tt.host, got, tt.want)
		}
	}
}

func TestExpand(t *testing.T) {
	hl, err := Parse("tux[1-3],login,r[08-10]b")
	if err != nil {
		t.Fatal(err)
	}
	got, err := hl.Expand()
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"tux1", "tux2", "tux3", "login", "r08b", "r09b", "r10b"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Expand = %q, want %q", got, want)
	}
}

func TestExpandBounded(t *testing.T) {
	hl, err := Parse("n[0-4000000000]")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := hl.Expand(); err == nil {
		t.Error("runaway expansion not rejected")
	}
}

func TestParseErrors(t *testing.T) {
	for _, expr := range []string{
		"tux[1-3", "tux1-3]", "tux[]", "tux[a-b]", "tux[3-1]", "a,,b", "",
	} {
		if _, err := Parse(expr); err == nil {
			t.Errorf("Parse(%q) succeeded, want error", expr)
		}
	}
}

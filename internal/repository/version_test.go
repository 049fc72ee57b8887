package repository

import "testing"

func TestCompareVersion(t *testing.T) {
	cases := []struct {
		a, b string
		want int
	}{
		{"1.2.3", "1.2.3", 0},
		{"1.3.0", "1.2.9", 1},
		{"1.2.0", "1.10.0", -1},
		{"2.0.0", "1.99.99", 1},
		{"v1.2.3", "1.2.3", 0},
	}
	for _, c := range cases {
		if got := compareVersion(c.a, c.b); got != c.want {
			t.Errorf("compareVersion(%q, %q) = %d, want %d", c.a, c.b, got, c.want)
		}
	}
}

func TestSatisfiesConstraint(t *testing.T) {
	if !satisfiesConstraint("1.2.3", "") {
		t.Error("expected empty constraint to match anything")
	}
	if !satisfiesConstraint("1.2.3", ">=1.0.0") {
		t.Error("expected 1.2.3 to satisfy >=1.0.0")
	}
	if satisfiesConstraint("1.2.3", ">=2.0.0") {
		t.Error("expected 1.2.3 to not satisfy >=2.0.0")
	}
	if !satisfiesConstraint("1.2.3", "=1.2.3") {
		t.Error("expected exact match to satisfy =1.2.3")
	}
	if satisfiesConstraint("1.2.4", "=1.2.3") {
		t.Error("expected non-exact match to fail =1.2.3")
	}
	if !satisfiesConstraint("1.2.3", "1.2.3") {
		t.Error("expected bare version to be treated as exact")
	}
}

func TestHighestSatisfying(t *testing.T) {
	candidates := []string{"1.0.0", "1.5.0", "2.0.0", "1.9.9"}
	if got := highestSatisfying(candidates, ">=1.0.0"); got != "2.0.0" {
		t.Errorf("expected 2.0.0, got %q", got)
	}
	if got := highestSatisfying(candidates, ">=3.0.0"); got != "" {
		t.Errorf("expected no match above 3.0.0, got %q", got)
	}
	if got := highestSatisfying(candidates, "=1.5.0"); got != "1.5.0" {
		t.Errorf("expected exact match 1.5.0, got %q", got)
	}
}

package repository

import "testing"

func TestParseReferenceInternal(t *testing.T) {
	ref, err := ParseReference("//pkg/foo:bar")
	if err != nil {
		t.Fatalf("ParseReference: %v", err)
	}
	if ref.External || ref.Path != "pkg/foo" || ref.Target != "bar" {
		t.Errorf("unexpected parse: %+v", ref)
	}
	if got := ref.String(); got != "//pkg/foo:bar" {
		t.Errorf("String() = %q", got)
	}
}

func TestParseReferenceExternal(t *testing.T) {
	ref, err := ParseReference("@deps//pkg/foo:bar")
	if err != nil {
		t.Fatalf("ParseReference: %v", err)
	}
	if !ref.External || ref.Name != "deps" || ref.Path != "pkg/foo" || ref.Target != "bar" {
		t.Errorf("unexpected parse: %+v", ref)
	}
	if got := ref.String(); got != "@deps//pkg/foo:bar" {
		t.Errorf("String() = %q", got)
	}
}

func TestParseReferenceExternalRootOnly(t *testing.T) {
	ref, err := ParseReference("@deps")
	if err != nil {
		t.Fatalf("ParseReference: %v", err)
	}
	if !ref.External || ref.Name != "deps" || ref.Path != "" || ref.Target != "" {
		t.Errorf("unexpected parse: %+v", ref)
	}
}

func TestParseReferenceRejectsMalformed(t *testing.T) {
	cases := []string{"", "pkg/foo:bar", "//pkg/foo", "@//pkg:bar", "//pkg:"}
	for _, c := range cases {
		if _, err := ParseReference(c); err == nil {
			t.Errorf("expected ParseReference(%q) to fail", c)
		}
	}
}

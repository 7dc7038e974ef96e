package utmc

import (
	"errors"
	"testing"
)

func TestResolve(t *testing.T) {
	tests := []struct {
		name      string
		oid       string
		direction Direction
		function  string
		kind      Kind
		known     bool
		preIndex  int
		site      string
	}{
		{
			name:      "control bitmask with site code",
			oid:       "1.3.6.1.4.1.13267.3.2.4.2.1.4.1.3.65.66.67",
			direction: In, function: "Dn", kind: Bitmask, known: true, preIndex: 1, site: "ABC",
		},
		{
			name:      "reply scalar without site code",
			oid:       "1.3.6.1.4.1.13267.3.2.5.1.1.4.0",
			direction: Out, function: "GX", kind: Scalar, known: true, preIndex: 0,
		},
		{
			name:      "leading and trailing dots",
			oid:       ".1.3.6.1.4.1.13267.3.2.5.1.1.3.0.",
			direction: Out, function: "Gn", kind: Bitmask, known: true,
		},
		{
			name:      "unknown reply path",
			oid:       "1.3.6.1.4.1.13267.3.2.5.1.1.99.0",
			direction: Out, function: "UNK(5.1.1.99)",
		},
		{
			name:      "unknown control path",
			oid:       "1.3.6.1.4.1.13267.3.2.4.9.9.9.1",
			direction: In, function: "UNK(4.9.9.9)", preIndex: 1,
		},
		{
			name:      "declared site length longer than available",
			oid:       "1.3.6.1.4.1.13267.3.2.4.2.1.3.1.5.88.89",
			direction: In, function: "DX", kind: Scalar, known: true, preIndex: 1, site: "XY",
		},
		{
			name:      "invalid character code voids site",
			oid:       "1.3.6.1.4.1.13267.3.2.4.2.1.3.1.2.65.99999999",
			direction: In, function: "DX", kind: Scalar, known: true, preIndex: 1, site: "",
		},
		{
			name:      "zero length site",
			oid:       "1.3.6.1.4.1.13267.3.2.4.2.1.3.1.0.65",
			direction: In, function: "DX", kind: Scalar, known: true, preIndex: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := Resolve(tt.oid)
			if err != nil {
				t.Fatalf("Resolve(%q): %v", tt.oid, err)
			}
			if res.Direction != tt.direction {
				t.Errorf("direction = %s, want %s", res.Direction, tt.direction)
			}
			if res.Function != tt.function {
				t.Errorf("function = %s, want %s", res.Function, tt.function)
			}
			if res.Known != tt.known {
				t.Errorf("known = %v, want %v", res.Known, tt.known)
			}
			if tt.known && res.Kind != tt.kind {
				t.Errorf("kind = %s, want %s", res.Kind, tt.kind)
			}
			if res.PreIndex != tt.preIndex {
				t.Errorf("preIndex = %d, want %d", res.PreIndex, tt.preIndex)
			}
			if res.SiteCode != tt.site {
				t.Errorf("site = %q, want %q", res.SiteCode, tt.site)
			}
		})
	}
}

func TestResolveNotApplicable(t *testing.T) {
	for _, oid := range []string{
		"",
		"1.3.6.1.2.1.1.1.0",
		"1.3.6.1.4.1.13267.3.2.5.1.1",
		"1.3.6.1.4.1.13267.3.2.5.1.1.4",
		"1.3.6.1.4.1.13267.3.2.5.x.1.4.0",
		"1.3.6",
	} {
		if _, err := Resolve(oid); !errors.Is(err, ErrNotApplicable) {
			t.Errorf("Resolve(%q) error = %v, want ErrNotApplicable", oid, err)
		}
	}
}

func TestEncodeResolveRoundTrip(t *testing.T) {
	for _, fn := range append(Functions(In), Functions(Out)...) {
		pre := 0
		if fn.Direction == In {
			pre = 1
		}
		oid, err := Encode(fn.Path, pre, "J01")
		if err != nil {
			t.Fatalf("Encode(%s): %v", fn.Path, err)
		}
		res, err := Resolve(oid)
		if err != nil {
			t.Fatalf("Resolve(%s): %v", oid, err)
		}
		if res.Function != fn.Mnemonic || res.Direction != fn.Direction || res.SiteCode != "J01" || res.PreIndex != pre {
			t.Errorf("round trip of %s gave %+v", fn.Mnemonic, res)
		}
	}
}

func TestEncodeRejectsBadPath(t *testing.T) {
	if _, err := Encode("4.2.1", 1, ""); err == nil {
		t.Fatal("expected error for short path")
	}
	if _, err := Encode("4.2.a.3", 1, ""); err == nil {
		t.Fatal("expected error for non-numeric path")
	}
}

func TestLookupMnemonic(t *testing.T) {
	fn, ok := LookupMnemonic(In, "SFn")
	if !ok || fn.Path != "4.2.1.6" || fn.Kind != Bitmask {
		t.Fatalf("LookupMnemonic(SFn) = %+v, %v", fn, ok)
	}
	if _, ok := LookupMnemonic(Out, "DX"); ok {
		t.Fatal("DX is a control function, not a reply")
	}
	if got := len(Functions(In)); got != 19 {
		t.Fatalf("control table has %d entries", got)
	}
	if got := len(Functions(Out)); got != 41 {
		t.Fatalf("reply table has %d entries", got)
	}
}

package names

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/wippyai/vlsim/errors"
)

func TestDecode(t *testing.T) {
	tests := []struct {
		raw  string
		want Path
	}{
		{"clk", Path{"clk"}},
		{"counter__DOT__q", Path{"counter", "q"}},
		{"top__DOT__u_alu__DOT__acc", Path{"top", "u_alu", "acc"}},
		{"a__DOT__b__DOT__c__DOT__d", Path{"a", "b", "c", "d"}},
		{"top__DOT__sig__024x", Path{"top", "sig$x"}},
		{"top__DOT__a___05Fb", Path{"top", "a__b"}},
		{"top__DOT___x", Path{"top", "_x"}},
		{"top__DOT_____05F", Path{"top", "__"}},
		{"top__DOT____030abc", Path{"top", "0abc"}},
		{"top__DOT___0abc", Path{"top", "_0abc"}},
		{"__031st", Path{"1st"}},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := Decode(tt.raw)
			if err != nil {
				t.Fatalf("Decode(%q) error: %v", tt.raw, err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Decode(%q) mismatch (-want +got):\n%s", tt.raw, diff)
			}
		})
	}
}

func TestDecode_DropTop(t *testing.T) {
	got, err := Decode("counter__DOT__sub__DOT__r", DropTop())
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(Path{"sub", "r"}, got); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}

	got, err = Decode("clk", DropTop())
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Errorf("DropTop of single segment = %v, want empty", got)
	}
}

func TestDecode_Errors(t *testing.T) {
	tests := []struct {
		raw  string
		kind errors.Kind
	}{
		{"mem__BRA__3__KET__", errors.KindUnsupportedName},
		{"top__DOT__mem__BRA__0", errors.KindUnsupportedName},
		{"top__DOT__x__KET__", errors.KindUnsupportedName},
		{"", errors.KindInvalidData},
		{"top__DOT__a__0", errors.KindInvalidData},
		{"top__DOT__a__0zz", errors.KindInvalidData},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			_, err := Decode(tt.raw)
			if err == nil {
				t.Fatalf("Decode(%q) expected error", tt.raw)
			}
			if !errors.HasKind(err, tt.kind) {
				t.Errorf("Decode(%q) = %v, want kind %s", tt.raw, err, tt.kind)
			}
		})
	}
}

func TestEncode(t *testing.T) {
	tests := []struct {
		seg  string
		want string
	}{
		{"clk", "clk"},
		{"u_alu", "u_alu"},
		{"a__b", "a___05Fb"},
		{"sig$x", "sig__024x"},
		{"1st", "__031st"},
		{"_x", "_x"},
		{"a.b", "a__02Eb"},
	}

	for _, tt := range tests {
		t.Run(tt.seg, func(t *testing.T) {
			if got := Encode(tt.seg); got != tt.want {
				t.Errorf("Encode(%q) = %q, want %q", tt.seg, got, tt.want)
			}
		})
	}
}

func TestRoundtrip(t *testing.T) {
	paths := []Path{
		{"top", "q"},
		{"top", "a__b", "c"},
		{"top", "sig$x", "9lives"},
		{"top", "___", "x_"},
		{"top", "weird name!", "#"},
		{"m", "\\escaped"},
	}

	for _, p := range paths {
		t.Run(p.Dotted(), func(t *testing.T) {
			raw := p.Raw()
			got, err := Decode(raw)
			if err != nil {
				t.Fatalf("Decode(%q) error: %v", raw, err)
			}
			if diff := cmp.Diff(p, got); diff != "" {
				t.Errorf("roundtrip via %q (-want +got):\n%s", raw, diff)
			}
			if back := got.Raw(); back != raw {
				t.Errorf("Raw() = %q, want %q", back, raw)
			}
		})
	}
}

func TestPath_Accessors(t *testing.T) {
	p := Path{"top", "sub", "r"}
	if p.Dotted() != "top.sub.r" {
		t.Errorf("Dotted = %q", p.Dotted())
	}
	if p.Leaf() != "r" {
		t.Errorf("Leaf = %q", p.Leaf())
	}
	if (Path{}).Leaf() != "" {
		t.Error("empty Leaf should be empty")
	}
}

package checksum

import "testing"

func TestSumStable(t *testing.T) {
	a := Sum([]byte("userdata"))
	b := Sum([]byte("userdata"))
	if a != b {
		t.Fatalf("Sum not deterministic: %q vs %q", a, b)
	}
	if len(a) != 64 {
		t.Errorf("len = %d, want 64", len(a))
	}
	if Sum([]byte("other")) == a {
		t.Error("different input produced same digest")
	}
}

func TestMatchETag(t *testing.T) {
	tag := ETag([]byte("cover"))
	cases := []struct {
		header string
		want   bool
	}{
		{"", false},
		{tag, true},
		{"W/" + tag, true},
		{`"nope", ` + tag, true},
		{"*", true},
		{`"nope"`, false},
	}
	for _, c := range cases {
		if got := MatchETag(c.header, tag); got != c.want {
			t.Errorf("MatchETag(%q) = %v, want %v", c.header, got, c.want)
		}
	}
}

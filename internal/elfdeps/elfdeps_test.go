package elfdeps

import "testing"

func TestLddLineParsesResolvedPath(t *testing.T) {
	cases := []struct {
		line string
		want string
		ok   bool
	}{
		{"\tlibc.so.7 => /lib/libc.so.7 (0x800a00000)", "/lib/libc.so.7", true},
		{"\tlibcrypto.so.30 => /usr/local/lib/libcrypto.so.30 (0x800c00000)", "/usr/local/lib/libcrypto.so.30", true},
		{"\tldd not found", "", false},
		{"", "", false},
	}
	for _, c := range cases {
		m := lddLine.FindStringSubmatch(c.line)
		if c.ok && m == nil {
			t.Errorf("line %q: expected match", c.line)
			continue
		}
		if !c.ok {
			if m != nil {
				t.Errorf("line %q: expected no match, got %v", c.line, m)
			}
			continue
		}
		if m[1] != c.want {
			t.Errorf("line %q: got %q, want %q", c.line, m[1], c.want)
		}
	}
}

func TestExcludePrefix(t *testing.T) {
	f := ExcludePrefix("/usr/local/")
	if f("/usr/local/lib/libssl.so.3") {
		t.Error("expected /usr/local path to be excluded")
	}
	if !f("/lib/libc.so.7") {
		t.Error("expected base path to be kept")
	}
}

func TestAnyAcceptsEverything(t *testing.T) {
	if !Any("/anything/at/all") {
		t.Error("Any should accept all paths")
	}
}

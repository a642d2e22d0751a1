package specmodel

import (
	"testing"

	"gopkg.in/yaml.v3"
)

func TestOrderedStringMapPreservesOrder(t *testing.T) {
	var m OrderedStringMap
	data := []byte("zebra: 1\napple: 2\nmango: 3\n")
	if err := yaml.Unmarshal(data, &m); err != nil {
		t.Fatal(err)
	}
	want := []string{"zebra", "apple", "mango"}
	got := m.Keys()
	if len(got) != len(want) {
		t.Fatalf("Keys() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Keys()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestOrderedStringMapSetOverwritesInPlace(t *testing.T) {
	m := OrderedStringMap{{Key: "a", Value: "1"}, {Key: "b", Value: "2"}}
	m.Set("a", "99")
	if v, _ := m.Get("a"); v != "99" {
		t.Errorf("Get(a) = %q, want 99", v)
	}
	if len(m.Keys()) != 2 {
		t.Errorf("Set on existing key should not grow the map, got %v", m.Keys())
	}
}

func TestShareListOrderRoundTrip(t *testing.T) {
	var s ShareList
	data := []byte(`
- /home/user/Downloads: /home/crate/Downloads
- /home/user/.config/app: /home/crate/.config/app
`)
	if err := yaml.Unmarshal(data, &s); err != nil {
		t.Fatal(err)
	}
	if len(s) != 2 {
		t.Fatalf("len(s) = %d, want 2", len(s))
	}
	if s[0].Host != "/home/user/Downloads" || s[1].Host != "/home/user/.config/app" {
		t.Errorf("order not preserved: %+v", s)
	}

	out, err := yaml.Marshal(s)
	if err != nil {
		t.Fatal(err)
	}
	var roundTripped ShareList
	if err := yaml.Unmarshal(out, &roundTripped); err != nil {
		t.Fatal(err)
	}
	if len(roundTripped) != 2 || roundTripped[0].Host != s[0].Host {
		t.Errorf("round trip mismatch: %+v", roundTripped)
	}
}

package ids

import (
	"sort"
	"testing"
)

func TestNewIsMonotonicWithinProcess(t *testing.T) {
	const n = 64
	out := make([]string, n)
	for i := range out {
		out[i] = New()
	}
	if !sort.StringsAreSorted(out) {
		t.Fatalf("ids drawn in sequence must sort in draw order")
	}
	seen := make(map[string]struct{}, n)
	for _, id := range out {
		if len(id) != 26 {
			t.Fatalf("unexpected id length: %q", id)
		}
		if _, dup := seen[id]; dup {
			t.Fatalf("duplicate id %q", id)
		}
		seen[id] = struct{}{}
	}
}

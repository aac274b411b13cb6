package main

import "testing"

func TestHistoryBuffer(t *testing.T) {
	h := newHistory(3)
	for _, line := range []string{"a", "a", " ", "b", "c", "d"} {
		h.Append(line)
	}
	got := h.Entries()
	want := []string{"b", "c", "d"}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
	if newHistory(0).max != defaultHistoryMax {
		t.Fatalf("expected default max")
	}
}

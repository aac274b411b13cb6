package main

import "strings"

const defaultHistoryMax = 200

// historyBuffer keeps the most recent console lines, skipping blanks and
// immediate repeats.
type historyBuffer struct {
	entries []string
	max     int
}

func newHistory(max int) *historyBuffer {
	if max <= 0 {
		max = defaultHistoryMax
	}
	return &historyBuffer{max: max}
}

func (h *historyBuffer) Append(entry string) bool {
	if strings.TrimSpace(entry) == "" {
		return false
	}
	if len(h.entries) > 0 && h.entries[len(h.entries)-1] == entry {
		return false
	}
	h.entries = append(h.entries, entry)
	if len(h.entries) > h.max {
		h.entries = h.entries[len(h.entries)-h.max:]
	}
	return true
}

func (h *historyBuffer) Entries() []string {
	return append([]string(nil), h.entries...)
}

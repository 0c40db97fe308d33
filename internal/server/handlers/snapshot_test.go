package handlers

import "testing"

func TestETagMatches(t *testing.T) {
	data := []struct {
		header string
		want   bool
	}{
		{`"abc"`, true},
		{`W/"abc"`, true},
		{`"x", "abc"`, true},
		{`*`, true},
		{`"abcd"`, false},
		{`abc`, false},
	}
	for _, line := range data {
		if got := etagMatches(line.header, `"abc"`); got != line.want {
			t.Errorf("etagMatches(%q) = %v, want %v", line.header, got, line.want)
		}
	}
}

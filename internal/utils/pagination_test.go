package utils

import "testing"

func TestAtoiDefault(t *testing.T) {
	cases := []struct {
		s    string
		def  int
		want int
	}{
		// empty -> default
		{"", 10, 10},
		// valid ints
		{"42", 0, 42},
		{"-13", 1, -13},
		{"0012", 99, 12},
		// invalid -> default (no trim)
		{"x", 5, 5},
		{" 42", 7, 7},
		// overflow -> default
		{"999999999999999999999999", -1, -1},
	}

	for _, tc := range cases {
		if got := AtoiDefault(tc.s, tc.def); got != tc.want {
			t.Fatalf("AtoiDefault(%q, %d) = %d; want %d", tc.s, tc.def, got, tc.want)
		}
	}
}

func TestNewPage_Clamps(t *testing.T) {
	cases := []struct {
		number, size int
		want         Page
		offset       int
	}{
		{0, 0, Page{1, DefaultPageSize}, 0},
		{-3, 10, Page{1, 10}, 0},
		{3, 10, Page{3, 10}, 20},
		{2, 1000, Page{2, MaxPageSize}, MaxPageSize},
	}
	for _, tc := range cases {
		got := NewPage(tc.number, tc.size)
		if got != tc.want {
			t.Fatalf("NewPage(%d, %d) = %+v; want %+v", tc.number, tc.size, got, tc.want)
		}
		if got.Offset() != tc.offset {
			t.Fatalf("Offset() = %d; want %d", got.Offset(), tc.offset)
		}
	}
}

func TestParsePage(t *testing.T) {
	if got := ParsePage("", ""); got != (Page{1, DefaultPageSize}) {
		t.Fatalf("ParsePage defaults = %+v", got)
	}
	if got := ParsePage("4", "x"); got != (Page{4, DefaultPageSize}) {
		t.Fatalf("ParsePage(4, x) = %+v", got)
	}
}

func TestPage_TotalPages(t *testing.T) {
	p := NewPage(1, 10)
	for total, want := range map[int64]int{0: 1, 1: 1, 10: 1, 11: 2, 95: 10} {
		if got := p.TotalPages(total); got != want {
			t.Fatalf("TotalPages(%d) = %d; want %d", total, got, want)
		}
	}
}

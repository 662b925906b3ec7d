package entity

import (
	"errors"
	"testing"
)

func TestLogCursor_RoundTrip(t *testing.T) {
	tests := []LogCursor{
		{BlockNumber: 0, LogIndex: 0},
		{BlockNumber: 5, LogIndex: 1},
		{BlockNumber: 19000000, LogIndex: 271},
	}

	for _, c := range tests {
		t.Run(c.String(), func(t *testing.T) {
			got, err := ParseLogCursor(c.String())
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != c {
				t.Errorf("expected %+v, got %+v", c, got)
			}
		})
	}
}

func TestLogCursor_String(t *testing.T) {
	c := LogCursor{BlockNumber: 255, LogIndex: 16}
	if got := c.String(); got != "0xff:0x10" {
		t.Errorf("expected 0xff:0x10, got %s", got)
	}
}

func TestParseLogCursor_Invalid(t *testing.T) {
	tests := []string{
		"",
		"0x10",
		"10:1",
		"0x10:zz",
		"0xzz:0x1",
	}

	for _, s := range tests {
		t.Run(s, func(t *testing.T) {
			_, err := ParseLogCursor(s)
			if !errors.Is(err, ErrInvalidCursor) {
				t.Errorf("expected ErrInvalidCursor, got %v", err)
			}
		})
	}
}

func TestLogCursor_Includes(t *testing.T) {
	c := LogCursor{BlockNumber: 5, LogIndex: 1}

	tests := []struct {
		name string
		r    LogRecord
		want bool
	}{
		{"older block", rec(4, 9), true},
		{"same block lower index", rec(5, 0), true},
		{"same position", rec(5, 1), false},
		{"same block higher index", rec(5, 2), false},
		{"newer block", rec(6, 0), false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := c.Includes(tc.r); got != tc.want {
				t.Errorf("Includes(%s) = %v, want %v", tc.r.Key(), got, tc.want)
			}
		})
	}
}

func TestCursorBeforeBlock_ExcludesWholeBlock(t *testing.T) {
	c := CursorBeforeBlock(10)
	if c.Includes(rec(10, 0)) {
		t.Error("expected block 10 to be excluded")
	}
	if !c.Includes(rec(9, 500)) {
		t.Error("expected block 9 to be included")
	}
}

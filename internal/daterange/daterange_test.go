package daterange

import (
	"errors"
	"testing"
)

func TestSplit_EvenWindows(t *testing.T) {
	ranges, err := Split("2022-01", "2022-06", 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []Range{
		{Start: "2022-01", End: "2022-03"},
		{Start: "2022-04", End: "2022-06"},
	}
	assertRanges(t, ranges, want)
}

func TestSplit_PartialTail(t *testing.T) {
	ranges, err := Split("2022-01", "2022-04", 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []Range{
		{Start: "2022-01", End: "2022-03"},
		{Start: "2022-04", End: "2022-04"},
	}
	assertRanges(t, ranges, want)
}

func TestSplit_SingleWindow(t *testing.T) {
	ranges, err := Split("2022-01", "2022-02", 6)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	assertRanges(t, ranges, []Range{{Start: "2022-01", End: "2022-02"}})
}

func TestSplit_SingleMonth(t *testing.T) {
	ranges, err := Split("2022-05", "2022-05", 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	assertRanges(t, ranges, []Range{{Start: "2022-05", End: "2022-05"}})
}

func TestSplit_YearBoundary(t *testing.T) {
	ranges, err := Split("2021-11", "2022-02", 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []Range{
		{Start: "2021-11", End: "2022-01"},
		{Start: "2022-02", End: "2022-02"},
	}
	assertRanges(t, ranges, want)
}

func TestSplit_InvertedRange(t *testing.T) {
	if _, err := Split("2022-06", "2022-01", 3); !errors.Is(err, ErrInvalidRange) {
		t.Fatalf("expected ErrInvalidRange, got %v", err)
	}
}

func TestSplit_MalformedDate(t *testing.T) {
	for _, input := range []string{"2022", "202201", "2022-13", "2022-1"} {
		if _, err := Split(input, "2022-06", 3); !errors.Is(err, ErrInvalidRange) {
			t.Errorf("Split(%q, ...): expected ErrInvalidRange, got %v", input, err)
		}
	}
}

func TestSplit_NonPositiveWindow(t *testing.T) {
	if _, err := Split("2022-01", "2022-06", 0); !errors.Is(err, ErrInvalidRange) {
		t.Fatalf("expected ErrInvalidRange, got %v", err)
	}
}

func TestCompact(t *testing.T) {
	if got := Compact("2022-01"); got != "202201" {
		t.Fatalf("Compact(2022-01) = %q", got)
	}
	if got := Compact("202201"); got != "202201" {
		t.Fatalf("Compact(202201) = %q", got)
	}
}

func assertRanges(t *testing.T, got, want []Range) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("expected %d ranges, got %d: %v", len(want), len(got), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("range %d: expected %v, got %v", i, want[i], got[i])
		}
	}
}

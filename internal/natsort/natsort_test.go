package natsort

import (
	"slices"
	"testing"
)

func TestSortNumericRuns(t *testing.T) {
	names := []string{"page10.png", "page2.png", "page1.png"}
	Sort(names)
	want := []string{"page1.png", "page2.png", "page10.png"}
	if !slices.Equal(names, want) {
		t.Errorf("got %v, want %v", names, want)
	}
}

func TestCaseInsensitiveKeys(t *testing.T) {
	if c := Compare("Page1", "page1"); c != 0 {
		t.Errorf("Compare(Page1, page1) = %d, want 0", c)
	}
	if !Less("apple", "Banana") {
		t.Error("apple should sort before Banana")
	}
}

func TestLeadingZerosIgnored(t *testing.T) {
	if !Less("page2", "page010") {
		t.Error("page2 should sort before page010")
	}
	if c := Compare("p007", "p7"); c != 0 {
		t.Errorf("Compare(p007, p7) = %d, want 0", c)
	}
}

func TestStableForEqualKeys(t *testing.T) {
	names := []string{"b", "Page1", "a", "page1", "PAGE01"}
	Sort(names)
	want := []string{"a", "b", "Page1", "page1", "PAGE01"}
	if !slices.Equal(names, want) {
		t.Errorf("got %v, want %v", names, want)
	}
}

func TestNoDigitsDegradesToLexical(t *testing.T) {
	names := []string{"delta", "Charlie", "alpha", "Bravo"}
	Sort(names)
	want := []string{"alpha", "Bravo", "Charlie", "delta"}
	if !slices.Equal(names, want) {
		t.Errorf("got %v, want %v", names, want)
	}
}

func TestEmptyInput(t *testing.T) {
	var names []string
	Sort(names)
	if len(names) != 0 {
		t.Errorf("len = %d, want 0", len(names))
	}
	if Compare("", "") != 0 {
		t.Error("empty strings should compare equal")
	}
	if !Less("", "a") {
		t.Error("empty string should sort first")
	}
}

func TestHugeNumbersDoNotOverflow(t *testing.T) {
	a := "vol99999999999999999999999.jpg"
	b := "vol100000000000000000000000.jpg"
	if !Less(a, b) {
		t.Errorf("%s should sort before %s", a, b)
	}
}

func TestMixedRuns(t *testing.T) {
	names := []string{"ch2-p10.jpg", "ch10-p1.jpg", "ch2-p9.jpg", "cover.jpg", "ch1.jpg"}
	Sort(names)
	want := []string{"ch1.jpg", "ch2-p9.jpg", "ch2-p10.jpg", "ch10-p1.jpg", "cover.jpg"}
	if !slices.Equal(names, want) {
		t.Errorf("got %v, want %v", names, want)
	}
}

func TestSortFunc(t *testing.T) {
	type page struct{ name string }
	pages := []page{{"10.png"}, {"9.png"}, {"1.png"}}
	SortFunc(pages, func(p page) string { return p.name })
	got := []string{pages[0].name, pages[1].name, pages[2].name}
	want := []string{"1.png", "9.png", "10.png"}
	if !slices.Equal(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

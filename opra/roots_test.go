package opra

import (
	"math/rand"
	"sort"
	"testing"
)

func TestRootCatalogSortedUnique(t *testing.T) {
	c := &RootCatalog{}

	input := []string{"SPY", "AAPL", "SPY", "MSFT", "AAPL", "F", "ZZZ", "F"}
	for _, root := range input {
		c.Add(root)
	}

	want := []string{"AAPL", "F", "MSFT", "SPY", "ZZZ"}
	got := c.Roots()
	if len(got) != len(want) {
		t.Fatalf("catalog has %d roots, want %d: %v", len(got), len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("roots[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestRootCatalogAddReportsDuplicates(t *testing.T) {
	c := &RootCatalog{}
	if !c.Add("SPY") {
		t.Error("first Add returned false")
	}
	if c.Add("SPY") {
		t.Error("duplicate Add returned true")
	}
	if c.Len() != 1 {
		t.Errorf("Len = %d, want 1", c.Len())
	}
	if !c.Contains("SPY") || c.Contains("AAPL") {
		t.Error("Contains misreports membership")
	}
}

func TestRootCatalogOrderInvariant(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	c := &RootCatalog{}
	for i := 0; i < 1000; i++ {
		root := string(rune('A'+rng.Intn(26))) + string(rune('A'+rng.Intn(26)))
		c.Add(root)
	}

	roots := c.Roots()
	if !sort.StringsAreSorted(roots) {
		t.Error("catalog is not sorted")
	}
	for i := 1; i < len(roots); i++ {
		if roots[i] == roots[i-1] {
			t.Errorf("duplicate root %q", roots[i])
		}
	}
}

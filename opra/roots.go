package opra

import "sort"

// RootCatalog is a byte-ordered, duplicate-free list of root symbols. The
// universe of optionable roots is small (~7000) and insertions tail off as a
// definition replay completes, so a sorted slice with shifting inserts
// holds up fine.
type RootCatalog struct {
	roots []string
}

// Add inserts root in sorted position, returning false if it was already
// present.
func (c *RootCatalog) Add(root string) bool {
	i := sort.SearchStrings(c.roots, root)
	if i < len(c.roots) && c.roots[i] == root {
		return false
	}
	c.roots = append(c.roots, "")
	copy(c.roots[i+1:], c.roots[i:])
	c.roots[i] = root
	return true
}

// Contains reports whether root is in the catalog.
func (c *RootCatalog) Contains(root string) bool {
	i := sort.SearchStrings(c.roots, root)
	return i < len(c.roots) && c.roots[i] == root
}

// Len returns the number of roots.
func (c *RootCatalog) Len() int {
	return len(c.roots)
}

// Roots returns the sorted roots. The slice is shared; callers must not
// modify it.
func (c *RootCatalog) Roots() []string {
	return c.roots
}

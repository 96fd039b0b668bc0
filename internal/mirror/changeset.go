package mirror

import "sort"

// ChangeSet holds the disjoint sets of repository-relative paths that
// changed between two revisions.
//
// Added and Modified together form the set of files requiring re-chunking;
// Modified and Deleted together form the set of files whose existing chunks
// must be purged before new chunks are written.
type ChangeSet struct {
	Added    []string
	Modified []string
	Deleted  []string
}

// Empty reports whether no paths changed.
func (c *ChangeSet) Empty() bool {
	return len(c.Added) == 0 && len(c.Modified) == 0 && len(c.Deleted) == 0
}

// ToChunk returns added ∪ modified, sorted.
func (c *ChangeSet) ToChunk() []string {
	out := make([]string, 0, len(c.Added)+len(c.Modified))
	out = append(out, c.Added...)
	out = append(out, c.Modified...)
	sort.Strings(out)
	return out
}

// ToPurge returns modified ∪ deleted, sorted.
func (c *ChangeSet) ToPurge() []string {
	out := make([]string, 0, len(c.Modified)+len(c.Deleted))
	out = append(out, c.Modified...)
	out = append(out, c.Deleted...)
	sort.Strings(out)
	return out
}

func (c *ChangeSet) sorted() {
	sort.Strings(c.Added)
	sort.Strings(c.Modified)
	sort.Strings(c.Deleted)
}

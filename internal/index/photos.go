package index

import (
	"sort"
	"time"
)

// NewPhotoIndex builds a photo index from items. Items are sorted by name
// and de-duplicated (the last occurrence of a name wins); the cover is the
// first item.
func NewPhotoIndex(items []PhotoItem, now time.Time) *PhotoIndex {
	p := &PhotoIndex{
		Header: Header{Kind: KindPhotos, Version: SchemaVersion},
		Limit:  PhotoLimit,
	}
	p.Merge(items)
	p.UpdatedAt = now.UTC()
	return p
}

// normalize restores the derived fields after Items changed.
func (p *PhotoIndex) normalize() {
	byName := make(map[string]PhotoItem, len(p.Items))
	for _, it := range p.Items {
		byName[it.Name] = it
	}
	items := make([]PhotoItem, 0, len(byName))
	for _, it := range byName {
		items = append(items, it)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Name < items[j].Name })

	p.Items = items
	p.Count = len(items)
	p.Limit = PhotoLimit
	p.Used = p.Count > 0
	p.Cover = ""
	if p.Count > 0 {
		p.Cover = items[0].Name
	}
}

// Has reports whether name is indexed.
func (p *PhotoIndex) Has(name string) bool {
	for _, it := range p.Items {
		if it.Name == name {
			return true
		}
	}
	return false
}

// Names returns the indexed file names in order.
func (p *PhotoIndex) Names() []string {
	out := make([]string, len(p.Items))
	for i, it := range p.Items {
		out[i] = it.Name
	}
	return out
}

// TotalSize sums the item sizes.
func (p *PhotoIndex) TotalSize() int64 {
	var n int64
	for _, it := range p.Items {
		n += it.Size
	}
	return n
}

// Merge adds items by name. An item whose name is already indexed replaces
// the existing entry instead of adding a second one.
func (p *PhotoIndex) Merge(items []PhotoItem) {
	p.Items = append(p.Items, items...)
	p.normalize()
}

// Remove drops the named items. It returns how many were present.
func (p *PhotoIndex) Remove(names ...string) int {
	drop := make(map[string]bool, len(names))
	for _, n := range names {
		drop[n] = true
	}
	kept := p.Items[:0]
	removed := 0
	for _, it := range p.Items {
		if drop[it.Name] {
			removed++
			continue
		}
		kept = append(kept, it)
	}
	p.Items = kept
	p.normalize()
	return removed
}

// Truncate keeps the first n items in name order and returns the names of
// the items it dropped.
func (p *PhotoIndex) Truncate(n int) []string {
	if n < 0 || len(p.Items) <= n {
		return nil
	}
	dropped := make([]string, 0, len(p.Items)-n)
	for _, it := range p.Items[n:] {
		dropped = append(dropped, it.Name)
	}
	p.Items = p.Items[:n]
	p.normalize()
	return dropped
}

// Rename changes the name of one item. It reports false when oldName is
// not indexed.
func (p *PhotoIndex) Rename(oldName, newName string, modified time.Time) bool {
	for i, it := range p.Items {
		if it.Name == oldName {
			p.Items[i].Name = newName
			if !modified.IsZero() {
				p.Items[i].Modified = modified.UTC()
			}
			p.normalize()
			return true
		}
	}
	return false
}

// Summary derives the slot summary.
func (p *PhotoIndex) Summary(now time.Time) *SlotSummary {
	return &SlotSummary{
		Header:    Header{Kind: KindSummary, Version: SchemaVersion},
		UpdatedAt: now.UTC(),
		Count:     p.Count,
		Cover:     p.Cover,
		TotalSize: p.TotalSize(),
		Used:      p.Used,
		PublicURL: p.PublicURL,
	}
}

// Clone returns a deep copy.
func (p *PhotoIndex) Clone() *PhotoIndex {
	c := *p
	c.Items = append([]PhotoItem(nil), p.Items...)
	if c.Items == nil {
		c.Items = []PhotoItem{}
	}
	return &c
}

package bloom

import "encoding/json"

// MultiFilter bundles the two independent filters the index summary keeps:
// one over all known keywords, one over all known categories.
type MultiFilter struct {
	Keywords   *Filter
	Categories *Filter
}

// NewMulti creates a MultiFilter sized for the given expected cardinalities.
func NewMulti(expectedKeywords, expectedCategories uint, falsePositiveRate float64) *MultiFilter {
	return &MultiFilter{
		Keywords:   New(expectedKeywords, falsePositiveRate),
		Categories: New(expectedCategories, falsePositiveRate),
	}
}

func (m *MultiFilter) AddKeyword(keyword string)   { m.Keywords.Add(keyword) }
func (m *MultiFilter) AddCategory(category string) { m.Categories.Add(category) }

func (m *MultiFilter) KeywordMightExist(keyword string) bool   { return m.Keywords.MightContain(keyword) }
func (m *MultiFilter) CategoryMightExist(category string) bool { return m.Categories.MightContain(category) }

type multiSnapshot struct {
	Version string `json:"version"`
	Filters struct {
		Keywords   *Filter `json:"keywords"`
		Categories *Filter `json:"categories"`
	} `json:"filters"`
}

// MarshalJSON serializes both filters under a "filters" envelope, the shape
// the index builder writes to _index/bloom.json.
func (m *MultiFilter) MarshalJSON() ([]byte, error) {
	var snap multiSnapshot
	snap.Version = "1.0"
	snap.Filters.Keywords = m.Keywords
	snap.Filters.Categories = m.Categories
	return json.Marshal(snap)
}

// UnmarshalJSON restores a MultiFilter previously produced by MarshalJSON.
func (m *MultiFilter) UnmarshalJSON(data []byte) error {
	var snap multiSnapshot
	snap.Filters.Keywords = &Filter{}
	snap.Filters.Categories = &Filter{}
	if err := json.Unmarshal(data, &snap); err != nil {
		return err
	}
	m.Keywords = snap.Filters.Keywords
	m.Categories = snap.Filters.Categories
	return nil
}

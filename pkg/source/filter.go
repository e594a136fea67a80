package source

import "strings"

// Filter holds a subscription's keyword list.
type Filter struct {
	keywords []string
}

// NewFilter creates a filter matching any of keywords, case-insensitively.
func NewFilter(keywords []string) *Filter {
	lower := make([]string, 0, len(keywords))
	for _, kw := range keywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw != "" {
			lower = append(lower, kw)
		}
	}
	return &Filter{keywords: lower}
}

// Matches returns true if text contains any keyword. A filter without
// keywords matches everything.
func (f *Filter) Matches(text string) bool {
	if len(f.keywords) == 0 {
		return true
	}
	lower := strings.ToLower(text)
	for _, kw := range f.keywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// IndexKeyword returns the position of kw in keywords ignoring case, or -1.
func IndexKeyword(keywords []string, kw string) int {
	for i, k := range keywords {
		if strings.EqualFold(k, kw) {
			return i
		}
	}
	return -1
}

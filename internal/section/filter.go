package section

import (
	"net/url"
	"strings"

	"figmapedia/kbservice/internal/domain"
)

// Filter narrows a section's items. Keyword and category-match lists are
// alternatives: an item passes when either matches. Required and excluded
// keywords always apply. Categories is an exact-name filter.
type Filter struct {
	TitleKeywords    []string
	TitleAllRequired []string
	TitleExclude     []string
	CategoryMatch    []string
	Categories       []string
}

func (f Filter) IsZero() bool {
	return len(f.TitleKeywords) == 0 && len(f.TitleAllRequired) == 0 &&
		len(f.TitleExclude) == 0 && len(f.CategoryMatch) == 0 && len(f.Categories) == 0
}

// FilterFromQuery reads repeated or comma-separated query parameters:
// keyword, require, exclude, categoryMatch and category.
func FilterFromQuery(q url.Values) Filter {
	return Filter{
		TitleKeywords:    splitValues(q["keyword"]),
		TitleAllRequired: splitValues(q["require"]),
		TitleExclude:     splitValues(q["exclude"]),
		CategoryMatch:    splitValues(q["categoryMatch"]),
		Categories:       splitValues(q["category"]),
	}
}

func splitValues(values []string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// Apply returns the matching items in their original order.
func (f Filter) Apply(items []domain.Item) []domain.Item {
	out := make([]domain.Item, 0, len(items))
	if f.IsZero() {
		return append(out, items...)
	}
	for _, item := range items {
		if f.matches(item) {
			out = append(out, item)
		}
	}
	return out
}

func (f Filter) matches(item domain.Item) bool {
	title := strings.ToLower(item.Title)

	for _, kw := range f.TitleAllRequired {
		if !strings.Contains(title, strings.ToLower(kw)) {
			return false
		}
	}
	for _, kw := range f.TitleExclude {
		if strings.Contains(title, strings.ToLower(kw)) {
			return false
		}
	}
	if len(f.Categories) > 0 && !hasExactCategory(item, f.Categories) {
		return false
	}

	if len(f.TitleKeywords) == 0 && len(f.CategoryMatch) == 0 {
		return true
	}
	for _, kw := range f.TitleKeywords {
		if strings.Contains(title, strings.ToLower(kw)) {
			return true
		}
	}
	for _, want := range f.CategoryMatch {
		want = strings.ToLower(want)
		for _, c := range item.Categories {
			if strings.Contains(strings.ToLower(c), want) {
				return true
			}
		}
	}
	return false
}

func hasExactCategory(item domain.Item, names []string) bool {
	for _, want := range names {
		for _, c := range item.Categories {
			if c == want {
				return true
			}
		}
	}
	return false
}

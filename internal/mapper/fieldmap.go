package mapper

// Kind selects the field map a collection is normalized with.
type Kind string

const (
	KindQA       Kind = "qa"
	KindPrompt   Kind = "prompt"
	KindKiosk    Kind = "kiosk"
	KindArticle  Kind = "article"
	KindTerm     Kind = "term"
	KindShortcut Kind = "shortcut"
	KindPlugin   Kind = "plugin"
)

// FieldMap names the store properties that feed each Item field.
// An empty property name leaves the field at its empty value.
type FieldMap struct {
	Title           string   `yaml:"title"`
	Categories      string   `yaml:"categories"`
	Author          string   `yaml:"author"`
	Link            string   `yaml:"link"`
	Date            string   `yaml:"date"`
	Shortcut        string   `yaml:"shortcut"`
	FixedCategories []string `yaml:"fixedCategories"`
	// Section labels every item produced with this map.
	Section string `yaml:"-"`
}

// DefaultFieldMaps reflects the property names used by the Figmapedia workspace.
// Several names carry invisible characters (a trailing space, a leading BOM)
// that are part of the property name in the store.
func DefaultFieldMaps() map[Kind]FieldMap {
	return map[Kind]FieldMap{
		KindQA: {
			Title:      "글 제목 ",
			Categories: "질문 카테고리",
			Author:     "해결자 닉네임",
			Link:       "링크",
			Date:       "글 작성일",
		},
		KindPrompt: {
			Title:      "이름",
			Categories: "프롬프트 타입",
		},
		KindKiosk: {
			Title:      "키오스크명",
			Categories: "키워드",
			Author:     "담당자",
			Date:       "날짜",
		},
		KindArticle: {
			Title:  "제목",
			Author: "지식 공유자",
			Link:   "링크",
			Date:   "날짜",
		},
		KindTerm: {
			Title: "키오스크명",
			Date:  "날짜",
		},
		KindShortcut: {
			Title:      "항목",
			Categories: "카테고리",
			Shortcut:   "단축키",
		},
		KindPlugin: {
			Title:           "\uFEFF테마별 플러그인",
			Author:          "작성자",
			Date:            "진행일자",
			FixedCategories: []string{"플러그인"},
		},
	}
}

func (m FieldMap) merge(override FieldMap) FieldMap {
	if override.Title != "" {
		m.Title = override.Title
	}
	if override.Categories != "" {
		m.Categories = override.Categories
	}
	if override.Author != "" {
		m.Author = override.Author
	}
	if override.Link != "" {
		m.Link = override.Link
	}
	if override.Date != "" {
		m.Date = override.Date
	}
	if override.Shortcut != "" {
		m.Shortcut = override.Shortcut
	}
	if len(override.FixedCategories) > 0 {
		m.FixedCategories = append([]string(nil), override.FixedCategories...)
	}
	return m
}

package mapper

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"figmapedia/kbservice/internal/domain"
	"figmapedia/kbservice/internal/source"
)

// Collection describes one store collection and how to normalize it.
type Collection struct {
	Key        domain.SectionKey `yaml:"key"`
	Label      string            `yaml:"label"`
	Kind       Kind              `yaml:"kind"`
	DatabaseID string            `yaml:"databaseId"`
	Sorts      []source.SortSpec `yaml:"sorts"`
}

// Catalog is the static collection table, resolved once at startup.
type Catalog struct {
	Primary   Collection
	Sections  []Collection
	fieldMaps map[Kind]FieldMap
}

// DefaultCatalog returns the built-in table. Sections are listed in the
// order they win ties during index dedup.
func DefaultCatalog(primaryDatabaseID string) Catalog {
	return Catalog{
		Primary: Collection{
			Key:        "qa",
			Label:      "Q&A",
			Kind:       KindQA,
			DatabaseID: strings.TrimSpace(primaryDatabaseID),
			Sorts:      []source.SortSpec{{Property: "글 작성일", Direction: "descending"}},
		},
		Sections: []Collection{
			{Key: domain.SectionPrompt, Label: "프롬프트", Kind: KindPrompt, DatabaseID: "287fdea8-0034-81e6-87b8-ce36c9329d55"},
			{Key: domain.SectionKiosk, Label: "키오스크", Kind: KindKiosk, DatabaseID: "78378389-9edb-4721-9763-1d38d8881654"},
			{Key: domain.SectionUXUIArticles, Label: "UXUI 아티클", Kind: KindArticle, DatabaseID: "f3eab373-ff92-4bb8-8e99-6a89c8373f60"},
			{Key: domain.SectionTechBlogs, Label: "기술 & 디자인 블로그", Kind: KindArticle, DatabaseID: "7c751f06-80b9-4a72-b769-b1d20a843691"},
			{Key: domain.SectionUXUITerms, Label: "UXUI 용어정리", Kind: KindTerm, DatabaseID: "c042287e-f2d1-4ee6-bac9-062e5fc338a4"},
			{Key: domain.SectionMacShortcuts, Label: "Mac 단축키", Kind: KindShortcut, DatabaseID: "11a4cfa7-90a1-4291-aa1c-646286b7b53d"},
			{Key: domain.SectionWinShortcuts, Label: "Windows 단축키", Kind: KindShortcut, DatabaseID: "df06f1d5-fca8-45bb-873f-c52ba79dd5bb"},
			{Key: domain.SectionPlugins, Label: "피그마 플러그인", Kind: KindPlugin, DatabaseID: "ddc8b180-7f6c-439a-ac53-3f51868d34db"},
		},
		fieldMaps: DefaultFieldMaps(),
	}
}

type catalogFile struct {
	Sections  []Collection      `yaml:"sections"`
	FieldMaps map[Kind]FieldMap `yaml:"fieldMaps"`
}

// LoadCatalog overlays a YAML file on the default table. Listed sections
// replace the default section list; field maps are merged per kind.
func LoadCatalog(path, primaryDatabaseID string) (Catalog, error) {
	catalog := DefaultCatalog(primaryDatabaseID)
	path = strings.TrimSpace(path)
	if path == "" {
		return catalog, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return Catalog{}, fmt.Errorf("read catalog: %w", err)
	}
	return parseCatalog(raw, catalog)
}

func parseCatalog(raw []byte, base Catalog) (Catalog, error) {
	var file catalogFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return Catalog{}, fmt.Errorf("parse catalog: %w", err)
	}

	for kind, override := range file.FieldMaps {
		base.fieldMaps[kind] = base.fieldMaps[kind].merge(override)
	}
	if len(file.Sections) > 0 {
		seen := make(map[domain.SectionKey]struct{}, len(file.Sections))
		for _, col := range file.Sections {
			if col.Key == "" || col.DatabaseID == "" {
				return Catalog{}, fmt.Errorf("parse catalog: section requires key and databaseId")
			}
			if _, ok := base.fieldMaps[col.Kind]; !ok {
				return Catalog{}, fmt.Errorf("parse catalog: section %s has unknown kind %q", col.Key, col.Kind)
			}
			if _, dup := seen[col.Key]; dup {
				return Catalog{}, fmt.Errorf("parse catalog: duplicate section %s", col.Key)
			}
			seen[col.Key] = struct{}{}
		}
		base.Sections = file.Sections
	}
	return base, nil
}

// FieldMap returns the map for c with its section label applied.
// The primary collection carries no section label.
func (c Catalog) FieldMap(col Collection) FieldMap {
	fm := c.fieldMaps[col.Kind]
	if col.Key != c.Primary.Key {
		fm.Section = col.Label
	}
	return fm
}

// Section looks up a section by key.
func (c Catalog) Section(key domain.SectionKey) (Collection, bool) {
	for _, col := range c.Sections {
		if col.Key == key {
			return col, true
		}
	}
	return Collection{}, false
}

// SourceCollection converts c into a fetchable store collection.
func (c Collection) SourceCollection() source.Collection {
	return source.Collection{
		Name:    string(c.Key),
		ID:      c.DatabaseID,
		Options: source.QueryOptions{Sorts: c.Sorts},
	}
}

// ByDatabaseID finds the collection whose store id matches id, ignoring
// case and hyphens. The primary collection is checked first.
func (c Catalog) ByDatabaseID(id string) (Collection, bool) {
	want := canonicalID(id)
	if want == "" {
		return Collection{}, false
	}
	if canonicalID(c.Primary.DatabaseID) == want {
		return c.Primary, true
	}
	for _, col := range c.Sections {
		if canonicalID(col.DatabaseID) == want {
			return col, true
		}
	}
	return Collection{}, false
}

func canonicalID(id string) string {
	return strings.ToLower(strings.ReplaceAll(strings.TrimSpace(id), "-", ""))
}

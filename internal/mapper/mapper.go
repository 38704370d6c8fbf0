package mapper

import (
	"strings"

	"figmapedia/kbservice/internal/domain"
	"figmapedia/kbservice/internal/source"
)

// Map normalizes a raw record with fm. Optional fields that are absent or
// malformed become empty values; only a missing title property is an error.
func Map(record source.Record, fm FieldMap) (domain.Item, error) {
	id := strings.TrimSpace(record.ID)
	if id == "" {
		return domain.Item{}, &domain.MappingError{Reason: "missing record id"}
	}
	if fm.Title == "" {
		return domain.Item{}, &domain.MappingError{RecordID: id, Reason: "field map has no title property"}
	}
	titleProp, ok := record.Properties[fm.Title]
	if !ok {
		return domain.Item{}, &domain.MappingError{RecordID: id, Field: fm.Title, Reason: "missing required title field"}
	}

	item := domain.Item{
		ID:         id,
		Title:      strings.TrimSpace(propertyText(titleProp)),
		Categories: categories(record, fm),
		Section:    fm.Section,
		Thumbnail:  record.Cover.Resolve(),
	}
	if fm.Author != "" {
		item.Author = strings.TrimSpace(propertyText(record.Properties[fm.Author]))
	}
	if fm.Link != "" {
		item.Link = domain.StringPtr(strings.TrimSpace(propertyURL(record.Properties[fm.Link])))
	}
	if fm.Date != "" {
		if date := record.Properties[fm.Date].Date; date != nil {
			item.PublishedDate = domain.StringPtr(strings.TrimSpace(date.Start))
		}
	}
	if fm.Shortcut != "" {
		item.Shortcut = strings.TrimSpace(propertyText(record.Properties[fm.Shortcut]))
	}
	return item, nil
}

// MapEntry normalizes a record together with its body.
func MapEntry(record source.Record, fm FieldMap, blocks []source.RawBlock) (domain.EntryDetail, error) {
	item, err := Map(record, fm)
	if err != nil {
		return domain.EntryDetail{}, err
	}
	return domain.EntryDetail{
		Item:           item,
		LastEditedTime: record.LastEditedTime,
		Blocks:         MapBlocks(blocks),
	}, nil
}

func categories(record source.Record, fm FieldMap) []string {
	if len(fm.FixedCategories) > 0 {
		return append([]string(nil), fm.FixedCategories...)
	}
	out := []string{}
	if fm.Categories == "" {
		return out
	}
	prop := record.Properties[fm.Categories]
	for _, opt := range prop.MultiSelect {
		if name := strings.TrimSpace(opt.Name); name != "" {
			out = append(out, name)
		}
	}
	if prop.Select != nil {
		if name := strings.TrimSpace(prop.Select.Name); name != "" {
			out = append(out, name)
		}
	}
	return out
}

// propertyText reads a property as text regardless of its declared type.
func propertyText(p source.Property) string {
	switch {
	case len(p.Title) > 0:
		return source.PlainText(p.Title)
	case len(p.RichText) > 0:
		return source.PlainText(p.RichText)
	case p.Select != nil:
		return p.Select.Name
	case len(p.People) > 0:
		names := make([]string, 0, len(p.People))
		for _, person := range p.People {
			if person.Name != "" {
				names = append(names, person.Name)
			}
		}
		return strings.Join(names, ", ")
	case p.URL != nil:
		return *p.URL
	}
	return ""
}

func propertyURL(p source.Property) string {
	if p.URL != nil {
		return *p.URL
	}
	return propertyText(p)
}

// MapBlocks normalizes body blocks, keeping document order.
func MapBlocks(raw []source.RawBlock) []domain.Block {
	blocks := make([]domain.Block, 0, len(raw))
	for _, rb := range raw {
		blocks = append(blocks, MapBlock(rb))
	}
	return blocks
}

func MapBlock(rb source.RawBlock) domain.Block {
	payload := rb.Payload()
	block := domain.Block{
		ID:      rb.ID,
		Type:    rb.Type,
		Content: source.PlainText(payload.RichText),
	}
	switch rb.Type {
	case "image", "video", "file", "pdf":
		block.MediaURL = mediaURL(payload)
		block.Caption = source.PlainText(payload.Caption)
	case "embed", "bookmark":
		block.MediaURL = strings.TrimSpace(payload.URL)
		block.Caption = source.PlainText(payload.Caption)
	case "code":
		block.Language = payload.Language
	}
	if len(rb.Children) > 0 {
		block.Children = MapBlocks(rb.Children)
	}
	return block
}

func mediaURL(p source.BlockPayload) string {
	ref := source.FileRef{Type: p.Type, File: p.File, External: p.External}
	return ref.Resolve()
}

// FirstImage returns the first image URL in document order, descending into
// children already attached to the blocks.
func FirstImage(blocks []domain.Block) string {
	for _, b := range blocks {
		if b.Type == "image" && b.MediaURL != "" {
			return b.MediaURL
		}
		if url := FirstImage(b.Children); url != "" {
			return url
		}
	}
	return ""
}

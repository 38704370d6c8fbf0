package mapper

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"figmapedia/kbservice/internal/domain"
	"figmapedia/kbservice/internal/source"
)

func decodeRecord(t *testing.T, raw string) source.Record {
	t.Helper()
	var r source.Record
	require.NoError(t, json.Unmarshal([]byte(raw), &r))
	return r
}

func TestMapPrimaryRecord(t *testing.T) {
	record := decodeRecord(t, `{
		"id": "page-1",
		"cover": {"type": "external", "external": {"url": "https://img.example/cover.png"}},
		"properties": {
			"글 제목 ": {"type": "title", "title": [{"plain_text": "오토 "}, {"plain_text": "레이아웃 기초"}]},
			"질문 카테고리": {"type": "multi_select", "multi_select": [{"name": "레이아웃"}, {"name": "기초"}]},
			"해결자 닉네임": {"type": "rich_text", "rich_text": [{"plain_text": "민지"}]},
			"링크": {"type": "url", "url": "https://example.com/q/1"},
			"글 작성일": {"type": "date", "date": {"start": "2024-03-01"}}
		}
	}`)

	item, err := Map(record, DefaultFieldMaps()[KindQA])
	require.NoError(t, err)

	assert.Equal(t, "page-1", item.ID)
	assert.Equal(t, "오토 레이아웃 기초", item.Title)
	assert.Equal(t, []string{"레이아웃", "기초"}, item.Categories)
	assert.Equal(t, "민지", item.Author)
	require.NotNil(t, item.Link)
	assert.Equal(t, "https://example.com/q/1", *item.Link)
	require.NotNil(t, item.PublishedDate)
	assert.Equal(t, "2024-03-01", *item.PublishedDate)
	assert.Equal(t, "https://img.example/cover.png", item.Thumbnail)
	assert.Empty(t, item.Section)
}

func TestMapMissingOptionalFieldsYieldsEmptyValues(t *testing.T) {
	record := decodeRecord(t, `{
		"id": "page-2",
		"properties": {
			"글 제목 ": {"type": "title", "title": []},
			"링크": {"type": "url", "url": null}
		}
	}`)

	item, err := Map(record, DefaultFieldMaps()[KindQA])
	require.NoError(t, err)

	assert.Equal(t, "", item.Title)
	assert.NotNil(t, item.Categories)
	assert.Empty(t, item.Categories)
	assert.Equal(t, "", item.Author)
	assert.Nil(t, item.Link)
	assert.Nil(t, item.PublishedDate)
}

func TestMapMissingTitleFails(t *testing.T) {
	record := decodeRecord(t, `{"id": "page-3", "properties": {"이름": {"type": "title", "title": []}}}`)

	_, err := Map(record, DefaultFieldMaps()[KindQA])
	require.Error(t, err)

	var mappingErr *domain.MappingError
	require.True(t, errors.As(err, &mappingErr))
	assert.Equal(t, "page-3", mappingErr.RecordID)
	assert.Equal(t, "글 제목 ", mappingErr.Field)
}

func TestMapPluginUsesFixedCategoryAndBOMTitle(t *testing.T) {
	record := decodeRecord(t, `{
		"id": "plugin-1",
		"properties": {
			"\ufeff테마별 플러그인": {"type": "title", "title": [{"plain_text": "Autoflow"}]},
			"작성자": {"type": "rich_text", "rich_text": [{"plain_text": "준호"}]},
			"진행일자": {"type": "date", "date": {"start": "2024-05-05"}}
		}
	}`)

	catalog := DefaultCatalog("primary")
	col, ok := catalog.Section(domain.SectionPlugins)
	require.True(t, ok)

	item, err := Map(record, catalog.FieldMap(col))
	require.NoError(t, err)
	assert.Equal(t, "Autoflow", item.Title)
	assert.Equal(t, []string{"플러그인"}, item.Categories)
	assert.Equal(t, "준호", item.Author)
	assert.Equal(t, col.Label, item.Section)
}

func TestMapShortcutEmptyIsAbsent(t *testing.T) {
	fm := DefaultFieldMaps()[KindShortcut]
	withKey := decodeRecord(t, `{"id": "s1", "properties": {
		"항목": {"type": "title", "title": [{"plain_text": "복사"}]},
		"단축키": {"type": "rich_text", "rich_text": [{"plain_text": "⌘ C"}]},
		"카테고리": {"type": "multi_select", "multi_select": [{"name": "편집"}]}
	}}`)
	withoutKey := decodeRecord(t, `{"id": "s2", "properties": {
		"항목": {"type": "title", "title": [{"plain_text": "붙여넣기"}]},
		"단축키": {"type": "rich_text", "rich_text": []}
	}}`)

	a, err := Map(withKey, fm)
	require.NoError(t, err)
	assert.Equal(t, "⌘ C", a.Shortcut)

	b, err := Map(withoutKey, fm)
	require.NoError(t, err)
	assert.Equal(t, "", b.Shortcut)

	encoded, err := json.Marshal(b)
	require.NoError(t, err)
	assert.NotContains(t, string(encoded), "shortcut")
}

func TestMapBlocks(t *testing.T) {
	var raw []source.RawBlock
	require.NoError(t, json.Unmarshal([]byte(`[
		{"id":"b1","type":"heading_2","heading_2":{"rich_text":[{"plain_text":"제목"}]}},
		{"id":"b2","type":"code","code":{"rich_text":[{"plain_text":"fmt.Println()"}],"language":"go"}},
		{"id":"b3","type":"image","image":{"type":"file","file":{"url":"https://files.example/x.png"},"caption":[{"plain_text":"캡션"}]}},
		{"id":"b4","type":"bookmark","bookmark":{"url":"https://example.com"}},
		{"id":"b5","type":"divider","divider":{}}
	]`), &raw))

	blocks := MapBlocks(raw)
	require.Len(t, blocks, 5)
	assert.Equal(t, "제목", blocks[0].Content)
	assert.Equal(t, "go", blocks[1].Language)
	assert.Equal(t, "https://files.example/x.png", blocks[2].MediaURL)
	assert.Equal(t, "캡션", blocks[2].Caption)
	assert.Equal(t, "https://example.com", blocks[3].MediaURL)
	assert.Equal(t, "divider", blocks[4].Type)
	assert.Equal(t, "https://files.example/x.png", FirstImage(blocks))
}

func TestParseCatalogOverrides(t *testing.T) {
	catalog, err := parseCatalog([]byte(`
sections:
  - key: prompt
    label: Prompts
    kind: prompt
    databaseId: db-prompt
fieldMaps:
  prompt:
    title: Name
`), DefaultCatalog("primary"))
	require.NoError(t, err)

	require.Len(t, catalog.Sections, 1)
	col := catalog.Sections[0]
	fm := catalog.FieldMap(col)
	assert.Equal(t, "Name", fm.Title)
	assert.Equal(t, "프롬프트 타입", fm.Categories)
	assert.Equal(t, "Prompts", fm.Section)
}

func TestParseCatalogRejectsUnknownKind(t *testing.T) {
	_, err := parseCatalog([]byte(`
sections:
  - key: prompt
    kind: nope
    databaseId: db
`), DefaultCatalog("primary"))
	require.Error(t, err)
}

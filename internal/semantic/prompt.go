package semantic

import (
	"strings"

	"figmapedia/kbservice/internal/domain"
)

const promptHeader = `당신은 Figmapedia의 검색 어시스턴트입니다. 피그마(Figma) 디자인 도구에 관한 한국어 지식 베이스에서 관련 항목을 찾아주세요.

아래 항목 목록에서 검색어와 의미적으로 관련된 항목의 ID를 찾아주세요.
각 항목은 "ID|제목|카테고리|섹션" 형식이며 섹션은 없을 수 있습니다.

고려사항:
1. 제목 키워드 매칭
2. 카테고리 관련성 (예: "정렬" → "오토 레이아웃")
3. 개념적 관련성 (예: "디자인 시스템" → "컴포넌트", "베리어블")
4. 한국어 유의어/줄임말 (예: "컴포" = "컴포넌트")

관련성 순으로 최대 20개의 ID와 한두 문장의 요약을 JSON 객체로 반환하세요. 관련 없으면 ids는 [].
다른 텍스트 없이 JSON 객체만 응답:
{"summary": "...", "ids": ["id1", "id2"]}
`

// Listing renders one candidate per line as id|title|categories, with the
// section appended when the item has one.
func Listing(items []domain.Item) string {
	var b strings.Builder
	for i, it := range items {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(it.ID)
		b.WriteByte('|')
		b.WriteString(oneLine(it.Title))
		b.WriteByte('|')
		b.WriteString(oneLine(strings.Join(it.Categories, ",")))
		if it.Section != "" {
			b.WriteByte('|')
			b.WriteString(it.Section)
		}
	}
	return b.String()
}

// BuildPrompt asks the oracle to pick ids from candidates for query.
func BuildPrompt(candidates []domain.Item, query string) string {
	var b strings.Builder
	b.WriteString(promptHeader)
	b.WriteString("\n=== 항목 목록 ===\n")
	b.WriteString(Listing(candidates))
	b.WriteString("\n\n=== 검색어 ===\n")
	b.WriteString(query)
	return b.String()
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(strings.ReplaceAll(s, "|", "/")), " ")
}

package domain

import "time"

// SectionKey identifies one of the curated section collections.
type SectionKey string

const (
	SectionPrompt       SectionKey = "prompt"
	SectionKiosk        SectionKey = "kiosk"
	SectionUXUIArticles SectionKey = "uxui-articles"
	SectionTechBlogs    SectionKey = "uxui-blogs"
	SectionUXUITerms    SectionKey = "uxui-terms"
	SectionMacShortcuts SectionKey = "mac-shortcuts"
	SectionWinShortcuts SectionKey = "win-shortcuts"
	SectionPlugins      SectionKey = "plugins"
)

// Item is the normalized searchable record shared by every collection.
type Item struct {
	ID            string   `json:"id"`
	Title         string   `json:"title"`
	Categories    []string `json:"categories"`
	Author        string   `json:"author"`
	Link          *string  `json:"link"`
	PublishedDate *string  `json:"publishedDate"`
	Shortcut      string   `json:"shortcut,omitempty"`
	Thumbnail     string   `json:"thumbnail,omitempty"`
	Section       string   `json:"section,omitempty"`
}

// IndexSnapshot is an immutable view of the unified index at build time.
type IndexSnapshot struct {
	Items       []Item    `json:"items"`
	TotalCount  int       `json:"totalCount"`
	GeneratedAt time.Time `json:"generatedAt"`
}

// Block is one normalized unit of a record's body.
type Block struct {
	ID       string  `json:"id"`
	Type     string  `json:"type"`
	Content  string  `json:"content"`
	MediaURL string  `json:"mediaUrl,omitempty"`
	Caption  string  `json:"caption,omitempty"`
	Language string  `json:"language,omitempty"`
	Children []Block `json:"children,omitempty"`
}

// EntryDetail is a single record with its body blocks.
type EntryDetail struct {
	Item
	LastEditedTime string  `json:"lastEditedTime,omitempty"`
	Blocks         []Block `json:"blocks"`
}

// AISearchResponse is the outcome of a semantic search.
type AISearchResponse struct {
	Results    []Item `json:"results"`
	Query      string `json:"query"`
	IsAIResult bool   `json:"isAIResult"`
	Summary    string `json:"summary,omitempty"`
}

// SourceDiagnostics reports the health of one content collection.
type SourceDiagnostics struct {
	Name         string     `json:"name"`
	Available    bool       `json:"available"`
	FailureCount int        `json:"failureCount"`
	BlockedUntil *time.Time `json:"blockedUntil,omitempty"`
	LastError    string     `json:"lastError,omitempty"`
	LastSuccess  *time.Time `json:"lastSuccess,omitempty"`
	LastFailure  *time.Time `json:"lastFailure,omitempty"`
	LastLatency  int64      `json:"lastLatencyMs,omitempty"`
	LastCount    int        `json:"lastCount,omitempty"`
}

// Event is pushed to websocket subscribers.
type Event struct {
	Type      string    `json:"type"`
	Tags      []string  `json:"tags,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// StringPtr returns a pointer to s, or nil when s is empty.
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

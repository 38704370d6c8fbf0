package source

import (
	"encoding/json"
	"strings"
)

// Record is a raw page as returned by the content store.
type Record struct {
	ID             string              `json:"id"`
	CreatedTime    string              `json:"created_time"`
	LastEditedTime string              `json:"last_edited_time"`
	URL            string              `json:"url"`
	Parent         Parent              `json:"parent"`
	Cover          *FileRef            `json:"cover"`
	Properties     map[string]Property `json:"properties"`
}

// Parent locates the collection a record belongs to.
type Parent struct {
	Type       string `json:"type"`
	DatabaseID string `json:"database_id,omitempty"`
}

// Property is a typed page property. Only the member matching Type is set.
type Property struct {
	Type        string     `json:"type"`
	Title       []RichText `json:"title,omitempty"`
	RichText    []RichText `json:"rich_text,omitempty"`
	MultiSelect []Option   `json:"multi_select,omitempty"`
	Select      *Option    `json:"select,omitempty"`
	URL         *string    `json:"url,omitempty"`
	Date        *DateValue `json:"date,omitempty"`
	People      []Person   `json:"people,omitempty"`
}

type RichText struct {
	PlainText string `json:"plain_text"`
}

type Option struct {
	Name string `json:"name"`
}

type DateValue struct {
	Start string `json:"start"`
	End   string `json:"end,omitempty"`
}

type Person struct {
	Name string `json:"name"`
}

// FileRef points at hosted or external media.
type FileRef struct {
	Type     string   `json:"type"`
	File     *FileURL `json:"file,omitempty"`
	External *FileURL `json:"external,omitempty"`
}

type FileURL struct {
	URL string `json:"url"`
}

// Resolve returns the URL of whichever variant is populated.
func (f *FileRef) Resolve() string {
	if f == nil {
		return ""
	}
	if f.File != nil && strings.TrimSpace(f.File.URL) != "" {
		return strings.TrimSpace(f.File.URL)
	}
	if f.External != nil {
		return strings.TrimSpace(f.External.URL)
	}
	return ""
}

// PlainText concatenates rich text fragments.
func PlainText(parts []RichText) string {
	var b strings.Builder
	for _, part := range parts {
		b.WriteString(part.PlainText)
	}
	return b.String()
}

// RawBlock is a body block whose type-specific payload is kept undecoded.
type RawBlock struct {
	ID          string
	Type        string
	HasChildren bool
	Data        json.RawMessage
	Children    []RawBlock
}

func (b *RawBlock) UnmarshalJSON(data []byte) error {
	var head struct {
		ID          string `json:"id"`
		Type        string `json:"type"`
		HasChildren bool   `json:"has_children"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return err
	}
	b.ID = head.ID
	b.Type = head.Type
	b.HasChildren = head.HasChildren
	b.Data = nil
	if head.Type == "" {
		return nil
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	b.Data = fields[head.Type]
	return nil
}

// BlockPayload is the union of the type-specific block fields the mapper reads.
type BlockPayload struct {
	RichText []RichText `json:"rich_text"`
	Caption  []RichText `json:"caption"`
	Language string     `json:"language"`
	URL      string     `json:"url"`
	Type     string     `json:"type"`
	File     *FileURL   `json:"file"`
	External *FileURL   `json:"external"`
	Checked  *bool      `json:"checked"`
}

// Payload decodes the type-specific data. Unknown shapes yield an empty payload.
func (b RawBlock) Payload() BlockPayload {
	var p BlockPayload
	if len(b.Data) == 0 {
		return p
	}
	_ = json.Unmarshal(b.Data, &p)
	return p
}

// Package story holds the dataset's domain types: the published story record
// and the sighting used to recognise reposts across days.
package story

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
)

// Metadata keys written by the pipeline.
const (
	MetaSourceDate  = "source_date"
	MetaSourceFile  = "source_file"
	MetaIngestedAt  = "ingested_at"
	MetaRunID       = "run_id"
	MetaPosition    = "position"
	MetaStoryCount  = "story_count"
	MetaPages       = "pages"
	MetaHasHeading  = "has_heading"
	MetaDuplicate   = "duplicate"
	MetaFirstSeen   = "first_seen"
	MetaDuplicateOf = "duplicate_of"
)

// Record is one structured news item of a daily dataset file.
//
// RawText is write-once: nothing after the structurer may change it. ImageURL
// and ImagePrompt are the only fields the enrichment pass touches.
type Record struct {
	ID              string
	Title           string
	Summary         string
	EngagementScore float64
	Categories      []string
	People          []string
	Companies       []string
	RawText         string
	Metadata        map[string]any
	ImageURL        string
	ImagePrompt     string

	// extra keeps top-level fields this version does not know about, so a
	// rewrite does not drop them.
	extra map[string]json.RawMessage
}

// Sighting records where a story id was first published.
type Sighting struct {
	ID       string
	Day      string // DD_MM_YY
	Title    string
	ImageURL string
}

type recordJSON struct {
	ID              string         `json:"id"`
	Title           string         `json:"title"`
	Summary         string         `json:"summary"`
	EngagementScore float64        `json:"engagement_score"`
	Categories      []string       `json:"categories"`
	People          []string       `json:"people"`
	Companies       []string       `json:"companies"`
	RawText         string         `json:"raw_text"`
	Metadata        map[string]any `json:"metadata"`
	ImageURL        string         `json:"image_url,omitempty"`
	ImagePrompt     string         `json:"image_prompt,omitempty"`
}

var knownFields = []string{
	"id", "title", "summary", "engagement_score", "categories", "people",
	"companies", "raw_text", "metadata", "image_url", "image_prompt",
}

// MarshalJSON writes the record with set fields as arrays (never null) and
// appends preserved unknown fields in key order.
func (r Record) MarshalJSON() ([]byte, error) {
	out := recordJSON{
		ID:              r.ID,
		Title:           r.Title,
		Summary:         r.Summary,
		EngagementScore: r.EngagementScore,
		Categories:      nonNil(r.Categories),
		People:          nonNil(r.People),
		Companies:       nonNil(r.Companies),
		RawText:         r.RawText,
		Metadata:        r.Metadata,
		ImageURL:        r.ImageURL,
		ImagePrompt:     r.ImagePrompt,
	}
	if out.Metadata == nil {
		out.Metadata = map[string]any{}
	}

	body, err := marshalNoEscape(out)
	if err != nil {
		return nil, err
	}
	if len(r.extra) == 0 {
		return body, nil
	}

	keys := make([]string, 0, len(r.extra))
	for k := range r.extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var buf bytes.Buffer
	buf.Write(body[:len(body)-1])
	for _, k := range keys {
		name, err := marshalNoEscape(k)
		if err != nil {
			return nil, err
		}
		buf.WriteByte(',')
		buf.Write(name)
		buf.WriteByte(':')
		buf.Write(r.extra[k])
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON reads a record, keeping unknown fields for the next write.
func (r *Record) UnmarshalJSON(data []byte) error {
	var in recordJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	var all map[string]json.RawMessage
	if err := json.Unmarshal(data, &all); err != nil {
		return err
	}
	for _, k := range knownFields {
		delete(all, k)
	}

	*r = Record{
		ID:              in.ID,
		Title:           in.Title,
		Summary:         in.Summary,
		EngagementScore: in.EngagementScore,
		Categories:      in.Categories,
		People:          in.People,
		Companies:       in.Companies,
		RawText:         in.RawText,
		Metadata:        in.Metadata,
		ImageURL:        in.ImageURL,
		ImagePrompt:     in.ImagePrompt,
	}
	if len(all) > 0 {
		r.extra = all
	}
	return nil
}

// Clone returns a copy whose slices and metadata map can be changed freely.
func (r Record) Clone() Record {
	c := r
	c.Categories = cloneStrings(r.Categories)
	c.People = cloneStrings(r.People)
	c.Companies = cloneStrings(r.Companies)
	if r.Metadata != nil {
		c.Metadata = make(map[string]any, len(r.Metadata))
		for k, v := range r.Metadata {
			c.Metadata[k] = v
		}
	}
	if r.extra != nil {
		c.extra = make(map[string]json.RawMessage, len(r.extra))
		for k, v := range r.extra {
			c.extra[k] = v
		}
	}
	return c
}

// SetMeta sets a metadata key, allocating the map on first use.
func (r *Record) SetMeta(key string, value any) {
	if r.Metadata == nil {
		r.Metadata = make(map[string]any)
	}
	r.Metadata[key] = value
}

// MetaString returns a string metadata value.
func (r Record) MetaString(key string) (string, bool) {
	v, ok := r.Metadata[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// MetaInt returns an integer metadata value. Values decoded from JSON arrive
// as float64 and are accepted when integral.
func (r Record) MetaInt(key string) (int, bool) {
	return toInt(r.Metadata[key])
}

// MetaBool returns a boolean metadata value.
func (r Record) MetaBool(key string) bool {
	b, _ := r.Metadata[key].(bool)
	return b
}

// Entities returns people followed by companies.
func (r Record) Entities() []string {
	out := make([]string, 0, len(r.People)+len(r.Companies))
	out = append(out, r.People...)
	return append(out, r.Companies...)
}

// Validate checks the fields every published record must carry.
func (r Record) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("record id is required")
	}
	if r.Title == "" {
		return fmt.Errorf("record %s: title is required", r.ID)
	}
	if r.RawText == "" {
		return fmt.Errorf("record %s: raw_text is required", r.ID)
	}
	return nil
}

func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		if n == float64(int(n)) {
			return int(n), true
		}
	case json.Number:
		i, err := n.Int64()
		if err == nil {
			return int(i), true
		}
	}
	return 0, false
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func cloneStrings(s []string) []string {
	if s == nil {
		return nil
	}
	return append([]string(nil), s...)
}

func marshalNoEscape(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

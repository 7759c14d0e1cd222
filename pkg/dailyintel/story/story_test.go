package story

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestRecordMarshalEmptySetsAsArrays(t *testing.T) {
	data, err := json.Marshal(Record{ID: "abc", Title: "T", RawText: "body"})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	s := string(data)
	for _, want := range []string{`"categories":[]`, `"people":[]`, `"companies":[]`, `"metadata":{}`} {
		if !strings.Contains(s, want) {
			t.Errorf("expected %s in %s", want, s)
		}
	}
	if strings.Contains(s, "image_url") {
		t.Errorf("image_url should be omitted when empty: %s", s)
	}
}

func TestRecordPreservesUnknownFields(t *testing.T) {
	in := `{"id":"abc","title":"T","summary":"S","engagement_score":1.5,"categories":["AI"],"people":[],"companies":["Nvidia"],"raw_text":"a <b> & c","metadata":{"position":2},"source_url":"https://example.com","zeta":{"k":1}}`

	var r Record
	if err := json.Unmarshal([]byte(in), &r); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if pos, ok := r.MetaInt(MetaPosition); !ok || pos != 2 {
		t.Errorf("position = %v, %v", pos, ok)
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(r); err != nil {
		t.Fatalf("Encode: %v", err)
	}
	s := strings.TrimSpace(buf.String())
	if !strings.HasSuffix(s, `,"source_url":"https://example.com","zeta":{"k":1}}`) {
		t.Errorf("unknown fields not preserved in order: %s", s)
	}
	if !strings.Contains(s, `"raw_text":"a <b> & c"`) {
		t.Errorf("raw_text should not be HTML-escaped: %s", s)
	}
}

func TestRecordCloneIsIndependent(t *testing.T) {
	r := Record{ID: "a", Categories: []string{"AI"}, Metadata: map[string]any{"k": "v"}}
	c := r.Clone()
	c.Categories[0] = "Chips"
	c.SetMeta("k", "changed")

	if r.Categories[0] != "AI" {
		t.Error("clone shares categories slice")
	}
	if v, _ := r.MetaString("k"); v != "v" {
		t.Error("clone shares metadata map")
	}
}

func TestRecordValidate(t *testing.T) {
	if err := (Record{Title: "t", RawText: "x"}).Validate(); err == nil {
		t.Error("missing id should fail")
	}
	if err := (Record{ID: "a", RawText: "x"}).Validate(); err == nil {
		t.Error("missing title should fail")
	}
	if err := (Record{ID: "a", Title: "t"}).Validate(); err == nil {
		t.Error("missing raw_text should fail")
	}
	if err := (Record{ID: "a", Title: "t", RawText: "x"}).Validate(); err != nil {
		t.Errorf("valid record rejected: %v", err)
	}
}

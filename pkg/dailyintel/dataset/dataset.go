// Package dataset reads and atomically publishes the per-day dataset files
// (DD_MM_YY.json, a JSON array of story records).
package dataset

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path"
	"strings"

	"github.com/cognicore/dailyintel/pkg/dailyintel/internalerr"
	"github.com/cognicore/dailyintel/pkg/dailyintel/story"
)

// Ext is the dataset file extension.
const Ext = ".json"

// ImagesDir is the directory, relative to the dataset directory, that holds
// one sub-directory of images per day.
const ImagesDir = "images"

// FileName returns the dataset file name for day.
func FileName(day string) string {
	return day + Ext
}

// DayFromFile returns the day encoded in a dataset file name, or false when
// name is not a dataset file.
func DayFromFile(name string) (string, bool) {
	name = path.Base(strings.ReplaceAll(name, "\\", "/"))
	if !strings.HasSuffix(name, Ext) {
		return "", false
	}
	day := strings.TrimSuffix(name, Ext)
	if _, err := story.ParseDay(day); err != nil {
		return "", false
	}
	return day, true
}

// ImagePath returns the relative image_url for a record's asset.
func ImagePath(day, id, ext string) string {
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return path.Join(ImagesDir, day, id+ext)
}

// Read loads a dataset file.
func Read(file string) ([]story.Record, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("read dataset %s: %w", file, err)
	}
	return Decode(data)
}

// Decode parses the contents of a dataset file.
func Decode(data []byte) ([]story.Record, error) {
	var records []story.Record
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("%w: decode dataset: %v", internalerr.ErrInvalidInput, err)
	}
	return records, nil
}

// Encode renders records as a dataset file: a two-space indented JSON array
// without HTML escaping, ending in a newline. Every record must validate and
// ids must be unique.
func Encode(records []story.Record) ([]byte, error) {
	if err := Check(records); err != nil {
		return nil, err
	}
	if records == nil {
		records = []story.Record{}
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(records); err != nil {
		return nil, fmt.Errorf("encode dataset: %w", err)
	}
	return buf.Bytes(), nil
}

// Check validates records and the uniqueness of their ids.
func Check(records []story.Record) error {
	seen := make(map[string]int, len(records))
	for i, rec := range records {
		if err := rec.Validate(); err != nil {
			return fmt.Errorf("%w: record %d: %v", internalerr.ErrInvalidInput, i, err)
		}
		if j, dup := seen[rec.ID]; dup {
			return fmt.Errorf("%w: id %s at positions %d and %d", internalerr.ErrDuplicate, rec.ID, j, i)
		}
		seen[rec.ID] = i
	}
	return nil
}

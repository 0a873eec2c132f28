// Package trigger starts the training pipeline over the two most recent spans.
package trigger

import (
	"encoding/json"
	"fmt"
	"path"
	"strconv"
)

// SpanGlob returns a pattern matching the directories of spans latest-1 and latest:
// "span-0" for the first span, a character class when only the last digit changes
// ("span-[12]", "span-1[12]") and a brace alternation across a decade ("span-{9,10}").
func SpanGlob(latest int) string {
	if latest <= 0 {
		return "span-0"
	}
	prev := latest - 1
	if latest%10 == 0 {
		return fmt.Sprintf("span-{%d,%d}", prev, latest)
	}
	s := strconv.Itoa(latest)
	head, last := s[:len(s)-1], s[len(s)-1:]
	return fmt.Sprintf("span-%s[%d%s]", head, prev%10, last)
}

type split struct {
	Name    string `json:"name"`
	Pattern string `json:"pattern"`
}

type inputConfig struct {
	Splits []split `json:"splits"`
}

// Parameters returns the "input-config" and "output-config" run parameters for latest.
func Parameters(latest int, trainDir, validationDir string) (map[string]string, error) {
	glob := SpanGlob(latest)
	in, err := json.Marshal(inputConfig{Splits: []split{
		{Name: "train", Pattern: path.Join(glob, trainDir, "*.tfrecord")},
		{Name: "val", Pattern: path.Join(glob, validationDir, "*.tfrecord")},
	}})
	if err != nil {
		return nil, err
	}
	return map[string]string{
		"input-config":  string(in),
		"output-config": "{}",
	}, nil
}

// Package layout names the per-crawl frontier tables and the joined column encodings
// shared by every relational frontier backend.
package layout

import (
	"fmt"
	"regexp"
	"slices"
	"strings"

	"github.com/tisorlawan/indonesian-media-crawler/internal/crawler"
)

var validName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

const (
	keywordSep   = "|"
	paragraphSep = "\n"
)

// Tables holds the table names for one crawl namespace.
type Tables struct {
	Name    string
	Results string
	states  map[crawler.State]string
}

// New validates name and derives `{name}_{state}` and `{name}_results`.
func New(name string) (Tables, error) {
	if !validName.MatchString(name) {
		return Tables{}, fmt.Errorf("invalid crawl name %q", name)
	}
	t := Tables{
		Name:    name,
		Results: name + "_results",
		states:  make(map[crawler.State]string, len(crawler.States)),
	}
	for _, s := range crawler.States {
		t.states[s] = name + "_" + string(s)
	}
	return t, nil
}

// For returns the table backing state.
func (t Tables) For(state crawler.State) (string, error) {
	name, ok := t.states[state]
	if !ok {
		return "", fmt.Errorf("unknown frontier state %q", state)
	}
	return name, nil
}

// URLTables lists the four membership tables in lifecycle order.
func (t Tables) URLTables() []string {
	out := make([]string, 0, len(crawler.States))
	for _, s := range crawler.States {
		out = append(out, t.states[s])
	}
	return out
}

// Except lists the membership tables other than those backing states, in
// lifecycle order.
func (t Tables) Except(states ...crawler.State) []string {
	out := make([]string, 0, len(crawler.States))
	for _, s := range crawler.States {
		if slices.Contains(states, s) {
			continue
		}
		out = append(out, t.states[s])
	}
	return out
}

// JoinKeywords encodes keywords for the results table.
func JoinKeywords(keywords []string) string {
	return strings.Join(keywords, keywordSep)
}

// SplitKeywords reverses JoinKeywords. An empty column yields nil.
func SplitKeywords(raw string) []string {
	if raw == "" {
		return nil
	}
	return strings.Split(raw, keywordSep)
}

// JoinParagraphs encodes paragraphs for the results table.
func JoinParagraphs(paragraphs []string) string {
	return strings.Join(paragraphs, paragraphSep)
}

// SplitParagraphs reverses JoinParagraphs. An empty column yields nil.
func SplitParagraphs(raw string) []string {
	if raw == "" {
		return nil
	}
	return strings.Split(raw, paragraphSep)
}

// Package crawler defines core types shared across subsystems.
package crawler

import (
	"fmt"
	"net/http"
	"time"

	"github.com/PuerkitoBio/goquery"
)

// State identifies one of the frontier membership sets.
type State string

// Frontier states. Visited and Warned are terminal; Running reverts to Queued on restart.
const (
	StateQueued  State = "queued"
	StateRunning State = "running"
	StateVisited State = "visited"
	StateWarned  State = "warned"
)

// States lists every frontier state in lifecycle order.
var States = []State{StateQueued, StateRunning, StateVisited, StateWarned}

// Valid reports whether s names a known frontier state.
func (s State) Valid() bool {
	switch s {
	case StateQueued, StateRunning, StateVisited, StateWarned:
		return true
	default:
		return false
	}
}

// ParseState converts a user supplied name into a State.
func ParseState(raw string) (State, error) {
	s := State(raw)
	if !s.Valid() {
		return "", fmt.Errorf("unknown frontier state %q", raw)
	}
	return s, nil
}

// Article is the structured record extracted from a content page.
type Article struct {
	URL           string    `json:"url"`
	Title         string    `json:"title"`
	Author        string    `json:"author"`
	PublishedDate time.Time `json:"published_date"`
	Description   string    `json:"description"`
	ThumbnailURL  string    `json:"thumbnail_url"`
	Keywords      []string  `json:"keywords"`
	Paragraphs    []string  `json:"paragraphs"`
	CreatedAt     time.Time `json:"created_at"`
}

// Response is the raw outcome of a successful fetch.
type Response struct {
	URL        string
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
}

// Page is a fetched document handed to an Extractor.
type Page struct {
	URL      string
	Document *goquery.Document
}

// ExtractionKind classifies what an Extractor found on a page.
type ExtractionKind int

// Extraction kinds.
const (
	// LinksOnly pages are out of scope for structured extraction but still yield links.
	LinksOnly ExtractionKind = iota
	// DocumentAndLinks pages carry an Article (possibly empty) plus links.
	DocumentAndLinks
)

func (k ExtractionKind) String() string {
	switch k {
	case LinksOnly:
		return "links_only"
	case DocumentAndLinks:
		return "document_and_links"
	default:
		return "unknown"
	}
}

// Extraction is the result of classifying and extracting a page.
type Extraction struct {
	Kind    ExtractionKind
	Article Article
	Links   []string
}

// FrontierStats is a point-in-time snapshot of the frontier sizes.
type FrontierStats struct {
	Queued   uint `json:"queued"`
	Running  uint `json:"running"`
	Visited  uint `json:"visited"`
	Warned   uint `json:"warned"`
	Articles uint `json:"articles"`
}

// Count returns the cardinality recorded for a state.
func (s FrontierStats) Count(state State) uint {
	switch state {
	case StateQueued:
		return s.Queued
	case StateRunning:
		return s.Running
	case StateVisited:
		return s.Visited
	case StateWarned:
		return s.Warned
	default:
		return 0
	}
}

package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestSanitizeSite(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{"standard http", "http://news.detik.com/path", "news.detik.com"},
		{"standard https", "https://News.Detik.com/path", "news.detik.com"},
		{"no scheme", "detik.com/path", "detik.com"},
		{"just host", "detik.com", "detik.com"},
		{"host with port", "detik.com:8080", "detik.com"},
		{"ip address", "192.168.1.1", "192.168.1.1"},
		{"invalid url", "http://%", "unknown"},
		{"empty string", "", "unknown"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := SanitizeSite(tc.input); got != tc.expected {
				t.Errorf("SanitizeSite(%q) = %q; want %q", tc.input, got, tc.expected)
			}
		})
	}
}

func TestInitIsIdempotent(t *testing.T) {
	Init()
	first := crawlerPagesTotal
	Init()

	if first == nil || crawlerPagesTotal != first || crawlerFrontierURLs == nil ||
		crawlerRateLimitDelaysSeconds == nil || httpRequestsTotal == nil {
		t.Fatal("Init() did not initialize metrics collectors once")
	}
}

func TestObservePage(t *testing.T) {
	Init()
	counter := crawlerPagesTotal.WithLabelValues("sport.detik.com", OutcomeWarned)
	before := testutil.ToFloat64(counter)

	ObservePage("https://sport.detik.com/sepakbola/d-1", OutcomeWarned)
	ObservePage("https://sport.detik.com/sepakbola/d-2", OutcomeWarned)

	if got := testutil.ToFloat64(counter) - before; got != 2 {
		t.Errorf("expected 2 warned pages, got %f", got)
	}
}

func TestFrontierGaugesAndCounters(t *testing.T) {
	SetFrontierSize("queued", 42)
	if got := testutil.ToFloat64(crawlerFrontierURLs.WithLabelValues("queued")); got != 42 {
		t.Errorf("expected queued gauge 42, got %f", got)
	}

	before := testutil.ToFloat64(crawlerArticlesExtracted)
	IncArticlesExtracted()
	if got := testutil.ToFloat64(crawlerArticlesExtracted) - before; got != 1 {
		t.Errorf("expected one extracted article, got %f", got)
	}

	ObserveFetch("https://www.detik.com", 512, 20*time.Millisecond)
	if got := testutil.ToFloat64(crawlerBytesTotal.WithLabelValues("www.detik.com")); got < 512 {
		t.Errorf("expected bytes counter >= 512, got %f", got)
	}
	ObserveRateLimitDelay(10 * time.Millisecond)
	if got := testutil.CollectAndCount(crawlerRateLimitDelaysSeconds); got != 1 {
		t.Errorf("expected rate limit histogram to be collected, got %d", got)
	}
}

// Fuzz test for SanitizeSite.
func FuzzSanitizeSite(f *testing.F) {
	testcases := []string{"http://detik.com", "https://news.detik.com", "ftp://detik.com"}
	for _, tc := range testcases {
		f.Add(tc)
	}
	f.Fuzz(func(t *testing.T, orig string) {
		sanitized := SanitizeSite(orig)
		if sanitized == "" {
			t.Errorf("SanitizeSite(%q) returned an empty string", orig)
		}
	})
}

// Package detik extracts articles and outbound links from detik.com pages.
package detik

import (
	"errors"
	"net/url"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/tisorlawan/indonesian-media-crawler/internal/crawler"
)

// ContentTypeArticle marks a single-page news article in dtk:contenttype.
const ContentTypeArticle = "singlepagenews"

const publishDateLayout = "2006/01/02 15:04:05"

// wib is Western Indonesian Time, the zone detik publishes dates in.
var wib = time.FixedZone("WIB", 7*60*60)

// bodySelectors cover the news, sport, inet and travel layouts, in that order.
var bodySelectors = []string{
	`div[class="detail__body-text itp_bodycontent"]`,
	`div[class="detail_text"]`,
	`div[class="itp_bodycontent detail__body-text"]`,
	`div[id="detikdetailtext"]`,
}

var (
	reSpace      = regexp.MustCompile(`\s+`)
	reEmphasis   = regexp.MustCompile(`(<em>|</em>)`)
	reLineBreak  = regexp.MustCompile(`<br\s*/?>`)
	reAnchor     = regexp.MustCompile(`<a.*?>(?P<text>.*?)</a>`)
	reStrongDash = regexp.MustCompile(`<strong>-+</strong>`)
)

// entityFixer undoes the quote escaping of the Go HTML serializer so stored
// paragraphs carry literal quotes.
var entityFixer = strings.NewReplacer("&#39;", "'", "&#34;", `"`)

// Extractor implements crawler.Extractor for detik.com.
type Extractor struct{}

// New returns a detik Extractor.
func New() *Extractor {
	return &Extractor{}
}

// Extract classifies the page and returns its links and, for articles, the
// structured record. Articles may come back with zero paragraphs.
func (e *Extractor) Extract(page crawler.Page) (crawler.Extraction, error) {
	if page.Document == nil {
		return crawler.Extraction{}, &crawler.ExtractionError{URL: page.URL, Err: errors.New("nil document")}
	}
	doc := page.Document
	links := Links(doc)
	if !IsArticle(doc) {
		return crawler.Extraction{Kind: crawler.LinksOnly, Links: links}, nil
	}

	article := crawler.Article{
		Title:        metaContent(doc, `meta[property="og:title"]`),
		Description:  metaContent(doc, `meta[property="og:description"]`),
		ThumbnailURL: metaContent(doc, `meta[name="thumbnailUrl"]`),
		Author:       metaContent(doc, `meta[name="dtk:author"]`),
		Keywords:     keywords(metaContent(doc, `meta[name="dtk:keywords"]`)),
		Paragraphs:   Paragraphs(doc),
	}
	if raw := metaContent(doc, `meta[name="dtk:publishdate"]`); raw != "" {
		if published, err := time.ParseInLocation(publishDateLayout, strings.TrimSpace(raw), wib); err == nil {
			article.PublishedDate = published
		}
	}
	return crawler.Extraction{Kind: crawler.DocumentAndLinks, Article: article, Links: links}, nil
}

// IsArticle reports whether the page declares itself a single-page news article.
func IsArticle(doc *goquery.Document) bool {
	content, ok := doc.Find(`meta[name="dtk:contenttype"]`).First().Attr("content")
	return ok && content == ContentTypeArticle
}

func metaContent(doc *goquery.Document, selector string) string {
	content, _ := doc.Find(selector).First().Attr("content")
	return content
}

func keywords(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		out = append(out, strings.TrimSpace(p))
	}
	return out
}

// Paragraphs collects the cleaned article body paragraphs.
func Paragraphs(doc *goquery.Document) []string {
	var paragraphs []string
	for _, selector := range bodySelectors {
		doc.Find(selector).Each(func(_ int, body *goquery.Selection) {
			body.Find("p").Each(func(_ int, p *goquery.Selection) {
				if _, styled := p.Attr("style"); styled {
					return
				}
				inner, err := p.Html()
				if err != nil {
					return
				}
				if text, ok := cleanParagraph(inner); ok {
					paragraphs = append(paragraphs, text)
				}
			})
		})
	}
	paragraphs = dedupConsecutive(paragraphs)
	if n := len(paragraphs); n > 0 && paragraphs[n-1] == "" {
		paragraphs = paragraphs[:n-1]
	}
	return paragraphs
}

func cleanParagraph(inner string) (string, bool) {
	p := strings.ReplaceAll(strings.TrimSpace(inner), "\n", " ")
	if strings.HasPrefix(p, "<strong>Lihat juga") {
		return "", false
	}
	if strings.HasPrefix(p, "<a") && strings.HasSuffix(p, "</a>") && strings.Contains(p, "embed") {
		return "", false
	}

	p = reSpace.ReplaceAllString(p, " ")
	p = reEmphasis.ReplaceAllString(p, "")
	p = reLineBreak.ReplaceAllString(p, "\n")
	p = reAnchor.ReplaceAllString(p, "${text}")
	p = reStrongDash.ReplaceAllString(p, " ")
	p = strings.TrimSpace(strings.TrimLeft(p, "\n"))
	p = entityFixer.Replace(p)

	if strings.HasPrefix(p, "<strong>Artikel ini telah naik") {
		return "", false
	}
	return p, p != ""
}

func dedupConsecutive(in []string) []string {
	if len(in) < 2 {
		return in
	}
	out := in[:1]
	for _, s := range in[1:] {
		if s != out[len(out)-1] {
			out = append(out, s)
		}
	}
	return out
}

// Links returns the sorted, deduplicated https detik.com links on the page
// with trailing slashes removed.
func Links(doc *goquery.Document) []string {
	seen := make(map[string]struct{})
	doc.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
		href, _ := a.Attr("href")
		href = strings.TrimSpace(href)
		if href == "" || strings.HasPrefix(href, "#") {
			return
		}
		if !strings.Contains(href, "detik.com") || !strings.HasPrefix(href, "https://") {
			return
		}
		u, err := url.Parse(href)
		if err != nil || !strings.Contains(u.Hostname(), "detik.com") {
			return
		}
		seen[strings.TrimRight(href, "/")] = struct{}{}
	})
	if len(seen) == 0 {
		return nil
	}
	links := make([]string, 0, len(seen))
	for l := range seen {
		links = append(links, l)
	}
	sort.Strings(links)
	return links
}

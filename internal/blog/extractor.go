package blog

import (
	"bytes"
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"

	"github.com/webmemo-code/flickr-to-instagram-automation/internal/domain"
	"github.com/webmemo-code/flickr-to-instagram-automation/internal/logger"
	"github.com/webmemo-code/flickr-to-instagram-automation/pkg/httpclient"
)

const (
	maxHTMLBodyBytes = 1 << 20 // 1 MiB

	// maxContextChars caps the snippet handed to the caption model.
	maxContextChars = 1000
)

// Content is the structured text pulled from one blog post.
type Content struct {
	URL             string
	Title           string
	MetaDescription string
	Headings        []string
	Paragraphs      []string
}

// ContextMatch is the blog snippet judged most relevant to a photo.
type ContextMatch struct {
	URL          string
	Context      string
	Score        int
	MatchedTerms []string
}

// Extractor fetches blog posts and pulls editorial text for caption
// enrichment. Fetched pages are cached per URL for the lifetime of a run so
// an album whose photos share one post hits the site once.
type Extractor struct {
	client httpclient.Client
	log    logger.Logger

	mu    sync.Mutex
	cache map[string]*Content
}

func NewExtractor(client httpclient.Client, log logger.Logger) *Extractor {
	if client == nil {
		client = httpclient.NewRestyClient(30 * time.Second)
	}
	if log == nil {
		log = logger.NopLogger{}
	}
	return &Extractor{
		client: client,
		log:    log,
		cache:  make(map[string]*Content),
	}
}

// Extract fetches and parses one blog post. A nil Content with nil error is
// never returned; fetch and parse problems surface as errors so the caller
// can fall back to captioning without context.
func (e *Extractor) Extract(ctx context.Context, url string) (*Content, error) {
	e.mu.Lock()
	if cached, ok := e.cache[url]; ok {
		e.mu.Unlock()
		return cached, nil
	}
	e.mu.Unlock()

	resp, err := e.client.Get(ctx, url, map[string]string{
		"Accept": "text/html,application/xhtml+xml",
	})
	if err != nil {
		return nil, fmt.Errorf("fetch blog post: %w", err)
	}
	if resp.StatusCode() != 200 {
		return nil, fmt.Errorf("blog post returned status %d", resp.StatusCode())
	}

	body := resp.Body()
	if len(body) > maxHTMLBodyBytes {
		body = body[:maxHTMLBodyBytes]
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse blog html: %w", err)
	}

	content := parseDocument(url, doc)
	e.log.DebugObj("blog content extracted", "blog_content", map[string]any{
		"url":        url,
		"paragraphs": len(content.Paragraphs),
		"headings":   len(content.Headings),
	})

	e.mu.Lock()
	e.cache[url] = content
	e.mu.Unlock()
	return content, nil
}

func parseDocument(url string, doc *goquery.Document) *Content {
	content := &Content{URL: url}

	content.Title = cleanText(doc.Find("h1").First().Text())
	if content.Title == "" {
		if og, ok := doc.Find(`meta[property="og:title"]`).Attr("content"); ok {
			content.Title = cleanText(og)
		}
	}
	if content.Title == "" {
		content.Title = cleanText(doc.Find("title").First().Text())
	}

	if desc, ok := doc.Find(`meta[name="description"]`).Attr("content"); ok {
		content.MetaDescription = cleanText(desc)
	}

	doc.Find("h2, h3").Each(func(_ int, s *goquery.Selection) {
		if h := cleanText(s.Text()); h != "" {
			content.Headings = append(content.Headings, h)
		}
	})

	// Prefer the article body; fall back to all paragraphs for themes
	// without semantic markup.
	scope := doc.Find("article p, .entry-content p, .post-content p")
	if scope.Length() == 0 {
		scope = doc.Find("p")
	}
	scope.Each(func(_ int, s *goquery.Selection) {
		text := cleanText(s.Text())
		if len(text) >= 40 {
			content.Paragraphs = append(content.Paragraphs, text)
		}
	})

	return content
}

// FindRelevantContext scores the post's paragraphs against keywords derived
// from the photo and returns the best snippet, or nil when nothing matches.
func FindRelevantContext(content *Content, photo domain.Photo) *ContextMatch {
	if content == nil {
		return nil
	}
	terms := photoKeywords(photo)
	if len(terms) == 0 {
		return nil
	}

	type scored struct {
		score   int
		text    string
		matched []string
	}
	var hits []scored
	for _, p := range append(append([]string(nil), content.Paragraphs...), content.Headings...) {
		score, matched := scoreText(p, terms)
		if score > 0 {
			hits = append(hits, scored{score, p, matched})
		}
	}
	if len(hits) == 0 {
		return nil
	}

	sort.SliceStable(hits, func(i, j int) bool { return hits[i].score > hits[j].score })
	if len(hits) > 3 {
		hits = hits[:3]
	}

	var texts []string
	total := 0
	matchedSet := make(map[string]bool)
	for _, h := range hits {
		texts = append(texts, h.text)
		total += h.score
		for _, m := range h.matched {
			matchedSet[m] = true
		}
	}

	combined := strings.Join(texts, " ")
	combined = whitespacePattern.ReplaceAllString(combined, " ")
	if len(combined) > maxContextChars {
		// Back up to a rune start so multibyte text is not split.
		cut := maxContextChars
		for cut > 0 && !utf8.RuneStart(combined[cut]) {
			cut--
		}
		combined = combined[:cut] + "..."
	}

	matched := make([]string, 0, len(matchedSet))
	for m := range matchedSet {
		matched = append(matched, m)
	}
	sort.Strings(matched)

	return &ContextMatch{
		URL:          content.URL,
		Context:      combined,
		Score:        total,
		MatchedTerms: matched,
	}
}

// keyword weighting: multi-word phrases from the title are the strongest
// signal, geo names next, single tag words weakest.
type keyword struct {
	term   string
	weight int
}

func photoKeywords(photo domain.Photo) []keyword {
	var terms []keyword
	seen := make(map[string]bool)
	add := func(raw string, weight int) {
		t := strings.ToLower(cleanText(raw))
		if t == "" || seen[t] {
			return
		}
		seen[t] = true
		terms = append(terms, keyword{term: t, weight: weight})
	}

	if photo.Title != "" {
		add(photo.Title, 5)
		for _, word := range strings.Fields(photo.Title) {
			if len(word) > 3 {
				add(word, 1)
			}
		}
	}
	if photo.Geo != nil {
		add(photo.Geo.Locality, 3)
		add(photo.Geo.Region, 2)
		add(photo.Geo.Country, 1)
	}
	for _, tag := range strings.Fields(photo.Hashtags) {
		add(strings.TrimPrefix(tag, "#"), 1)
	}
	return terms
}

func scoreText(text string, terms []keyword) (int, []string) {
	lower := strings.ToLower(text)
	score := 0
	var matched []string
	for _, kw := range terms {
		if strings.Contains(lower, kw.term) {
			score += kw.weight
			matched = append(matched, kw.term)
		}
	}
	return score, matched
}

var whitespacePattern = regexp.MustCompile(`\s+`)

func cleanText(s string) string {
	return strings.TrimSpace(whitespacePattern.ReplaceAllString(s, " "))
}

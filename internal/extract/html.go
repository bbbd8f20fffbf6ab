package extract

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/sells-group/leakscan/internal/model"
)

// HTMLExtractor reads anchor hrefs from HTML markup and then scans the
// visible text for links, for sources that carry post bodies as HTML.
type HTMLExtractor struct{}

// NewHTMLExtractor returns an HTML-aware extractor.
func NewHTMLExtractor() *HTMLExtractor {
	return &HTMLExtractor{}
}

// Extract implements Extractor. Unparseable markup falls back to plain text.
func (HTMLExtractor) Extract(text string) []model.Candidate {
	c := newCollector()

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(text))
	if err != nil {
		zap.L().Debug("extract: html parse failed, scanning as text", zap.Error(err))
		c.addText(text)
		return c.out
	}

	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		href = strings.TrimSpace(href)
		lower := strings.ToLower(href)
		if strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://") || strings.HasPrefix(lower, "//") {
			c.add(href)
		}
	})
	c.addText(doc.Text())
	return c.out
}

// New returns the extractor for the named kind ("text" or "html").
func New(kind string) Extractor {
	if strings.EqualFold(kind, "html") {
		return NewHTMLExtractor()
	}
	return NewRegexExtractor()
}

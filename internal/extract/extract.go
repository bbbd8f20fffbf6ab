// Package extract pulls candidate domains out of free text.
package extract

import (
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/sells-group/leakscan/internal/domain"
	"github.com/sells-group/leakscan/internal/model"
)

// Extractor returns the candidate domains found in text, de-duplicated by
// canonical domain in first-seen order.
type Extractor interface {
	Extract(text string) []model.Candidate
}

// linkPattern matches absolute http(s) links and bare www. hosts.
var linkPattern = regexp.MustCompile(`(?i)(?:https?://|\bwww\.)[^\s<>"'()\[\]{}|\\^` + "`" + `]+`)

// RegexExtractor finds links with a regular expression.
type RegexExtractor struct{}

// NewRegexExtractor returns the default link extractor.
func NewRegexExtractor() *RegexExtractor {
	return &RegexExtractor{}
}

// Extract implements Extractor.
func (RegexExtractor) Extract(text string) []model.Candidate {
	c := newCollector()
	c.addText(text)
	return c.out
}

// Links returns the raw link strings matched in text.
func Links(text string) []string {
	return linkPattern.FindAllString(norm.NFKC.String(text), -1)
}

// collector de-duplicates candidates by canonical domain.
type collector struct {
	seen map[string]struct{}
	out  []model.Candidate
}

func newCollector() *collector {
	return &collector{seen: make(map[string]struct{})}
}

func (c *collector) addText(text string) {
	for _, link := range Links(text) {
		c.add(link)
	}
}

func (c *collector) add(raw string) {
	raw = strings.TrimSpace(raw)
	d, ok := domain.Normalize(raw)
	if !ok {
		return
	}
	if _, dup := c.seen[d]; dup {
		return
	}
	c.seen[d] = struct{}{}
	c.out = append(c.out, model.Candidate{RawText: raw, CanonicalDomain: d})
}

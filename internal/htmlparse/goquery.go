// Package htmlparse provides the Parser plugins. The default
// implementation extracts title, text, links and images via goquery
// CSS selectors; the alternate evaluates config.ParseRule entries of
// type "xpath" via antchfx/htmlquery.
package htmlparse

import (
	"context"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/myh0420/crawlerframework/internal/config"
	"github.com/myh0420/crawlerframework/internal/crawltypes"
)

// GoqueryParser is the default Parser plugin. It always produces a
// ParseResult (title, text, links, images) regardless of whether
// config.ParseRule entries are configured, then layers any configured
// "css" rules into ExtractedData.
type GoqueryParser struct {
	logger *slog.Logger
}

func NewGoqueryParser(logger *slog.Logger) *GoqueryParser {
	return &GoqueryParser{logger: logger.With("component", "goquery_parser")}
}

func (p *GoqueryParser) Name() string  { return "goquery" }
func (p *GoqueryParser) Priority() int { return 0 }

func (p *GoqueryParser) Initialize(ctx context.Context) error { return nil }

func (p *GoqueryParser) Parse(ctx context.Context, req *crawltypes.CrawlRequest, dl *crawltypes.DownloadResult) (*crawltypes.ParseResult, error) {
	start := time.Now()

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(dl.Content))
	if err != nil {
		return nil, &crawltypes.ParseError{URL: dl.URL, Err: err}
	}

	result := &crawltypes.ParseResult{
		URL:         dl.URL,
		ContentType: dl.ContentType,
		Title:       strings.TrimSpace(doc.Find("title").First().Text()),
		TextContent: strings.TrimSpace(doc.Find("body").Text()),
		Links:       extractLinks(doc, dl.URL),
		Images:      extractImages(doc, dl.URL),
	}
	result.DiscoveredURLs = len(result.Links)

	var rules []config.ParseRule
	if req.Config != nil {
		rules = req.Config.Parser.Rules
	}
	if extracted := applyCSSRules(doc, rules); len(extracted) > 0 {
		result.ExtractedData = extracted
	}

	result.ParseTimeMS = time.Since(start).Milliseconds()
	return result, nil
}

func (p *GoqueryParser) Shutdown() error { return nil }

func applyCSSRules(doc *goquery.Document, rules []config.ParseRule) map[string]any {
	if len(rules) == 0 {
		return nil
	}
	extracted := make(map[string]any)
	for _, rule := range rules {
		if rule.Type != "css" && rule.Type != "" {
			continue
		}
		values := extractCSSRule(doc, rule)
		switch len(values) {
		case 0:
		case 1:
			extracted[rule.Name] = values[0]
		default:
			extracted[rule.Name] = values
		}
	}
	return extracted
}

func extractCSSRule(doc *goquery.Document, rule config.ParseRule) []string {
	var values []string
	doc.Find(rule.Selector).Each(func(i int, sel *goquery.Selection) {
		var val string
		switch rule.Attribute {
		case "", "text":
			val = strings.TrimSpace(sel.Text())
		case "html", "innerHTML":
			val, _ = sel.Html()
		case "outerHTML":
			val, _ = goquery.OuterHtml(sel)
		default:
			val, _ = sel.Attr(rule.Attribute)
		}
		if val != "" {
			values = append(values, val)
		}
	})
	return values
}

func extractLinks(doc *goquery.Document, rawBaseURL string) []string {
	base, err := url.Parse(rawBaseURL)
	if err != nil {
		return nil
	}

	seen := make(map[string]bool)
	var links []string

	doc.Find("a[href]").Each(func(i int, sel *goquery.Selection) {
		href, exists := sel.Attr("href")
		if !exists {
			return
		}
		if resolved := resolveLink(base, href); resolved != "" && !seen[resolved] {
			seen[resolved] = true
			links = append(links, resolved)
		}
	})
	return links
}

func extractImages(doc *goquery.Document, rawBaseURL string) []string {
	base, err := url.Parse(rawBaseURL)
	if err != nil {
		return nil
	}

	seen := make(map[string]bool)
	var images []string

	doc.Find("img[src]").Each(func(i int, sel *goquery.Selection) {
		src, exists := sel.Attr("src")
		if !exists {
			return
		}
		if resolved := resolveLink(base, src); resolved != "" && !seen[resolved] {
			seen[resolved] = true
			images = append(images, resolved)
		}
	})
	return images
}

func resolveLink(base *url.URL, href string) string {
	href = strings.TrimSpace(href)
	if href == "" ||
		strings.HasPrefix(href, "#") ||
		strings.HasPrefix(href, "javascript:") ||
		strings.HasPrefix(href, "mailto:") ||
		strings.HasPrefix(href, "tel:") ||
		strings.HasPrefix(href, "data:") {
		return ""
	}

	parsed, err := url.Parse(href)
	if err != nil {
		return ""
	}
	resolved := base.ResolveReference(parsed)
	if resolved.Scheme != "http" && resolved.Scheme != "https" {
		return ""
	}
	resolved.Fragment = ""
	return resolved.String()
}

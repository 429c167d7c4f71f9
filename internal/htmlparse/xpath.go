package htmlparse

import (
	"context"
	"errors"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/antchfx/htmlquery"
	"golang.org/x/net/html"

	"github.com/myh0420/crawlerframework/internal/config"
	"github.com/myh0420/crawlerframework/internal/crawltypes"
)

// errNoXPathRules signals that this request carries no xpath rules,
// which the dispatcher treats as "this stage declines, try the next
// one" rather than a hard failure.
var errNoXPathRules = errors.New("no xpath rules configured")

// XPathParser is the alternate Parser plugin: it evaluates
// config.ParseRule entries of type "xpath" via antchfx/htmlquery,
// backed by x/net/html's parse tree. It sorts ahead of GoqueryParser
// so a job with xpath rules configured gets them evaluated first, and
// it declines (errNoXPathRules) when none are configured so the
// dispatcher falls through to the default. Because the dispatcher
// stops at the first successful parser, XPathParser carries the same
// title/text/link/image extraction as the default on top of its rule
// evaluation.
type XPathParser struct {
	logger *slog.Logger
}

func NewXPathParser(logger *slog.Logger) *XPathParser {
	return &XPathParser{logger: logger.With("component", "xpath_parser")}
}

func (p *XPathParser) Name() string  { return "xpath" }
func (p *XPathParser) Priority() int { return 10 }

func (p *XPathParser) Initialize(ctx context.Context) error { return nil }

// Parse returns errNoXPathRules when the request carries no xpath
// rules, deferring the whole page to the next parser in the chain.
func (p *XPathParser) Parse(ctx context.Context, req *crawltypes.CrawlRequest, dl *crawltypes.DownloadResult) (*crawltypes.ParseResult, error) {
	var rules []config.ParseRule
	if req.Config != nil {
		rules = req.Config.Parser.Rules
	}

	var xpathRules []config.ParseRule
	for _, r := range rules {
		if r.Type == "xpath" {
			xpathRules = append(xpathRules, r)
		}
	}
	if len(xpathRules) == 0 {
		return nil, errNoXPathRules
	}

	start := time.Now()
	doc, err := html.Parse(strings.NewReader(dl.Content))
	if err != nil {
		return nil, &crawltypes.ParseError{URL: dl.URL, Err: err}
	}

	extracted := make(map[string]any)
	for _, rule := range xpathRules {
		values := p.extractXPath(doc, rule)
		switch len(values) {
		case 0:
		case 1:
			extracted[rule.Name] = values[0]
		default:
			extracted[rule.Name] = values
		}
	}

	result := &crawltypes.ParseResult{
		URL:           dl.URL,
		ContentType:   dl.ContentType,
		Title:         p.nodeText(doc, "//title"),
		TextContent:   p.nodeText(doc, "//body"),
		Links:         p.resolveAll(doc, "//a/@href", dl.URL),
		Images:        p.resolveAll(doc, "//img/@src", dl.URL),
		ExtractedData: extracted,
	}
	result.DiscoveredURLs = len(result.Links)
	result.ParseTimeMS = time.Since(start).Milliseconds()
	return result, nil
}

func (p *XPathParser) Shutdown() error { return nil }

func (p *XPathParser) extractXPath(doc *html.Node, rule config.ParseRule) []string {
	nodes, err := htmlquery.QueryAll(doc, rule.Selector)
	if err != nil {
		p.logger.Warn("invalid xpath", "selector", rule.Selector, "error", err)
		return nil
	}

	var values []string
	for _, node := range nodes {
		var val string
		switch rule.Attribute {
		case "", "text":
			val = strings.TrimSpace(htmlquery.InnerText(node))
		case "html", "innerHTML":
			val = htmlquery.OutputHTML(node, false)
		case "outerHTML":
			val = htmlquery.OutputHTML(node, true)
		default:
			val = htmlquery.SelectAttr(node, rule.Attribute)
		}
		if val != "" {
			values = append(values, val)
		}
	}
	return values
}

func (p *XPathParser) nodeText(doc *html.Node, expr string) string {
	node, err := htmlquery.Query(doc, expr)
	if err != nil || node == nil {
		return ""
	}
	return strings.TrimSpace(htmlquery.InnerText(node))
}

// resolveAll evaluates an attribute xpath and resolves every hit
// against the page URL, with the same scheme filtering and fragment
// stripping as the default parser.
func (p *XPathParser) resolveAll(doc *html.Node, expr, rawBaseURL string) []string {
	base, err := url.Parse(rawBaseURL)
	if err != nil {
		return nil
	}
	nodes, err := htmlquery.QueryAll(doc, expr)
	if err != nil {
		return nil
	}

	seen := make(map[string]bool)
	var out []string
	for _, node := range nodes {
		if resolved := resolveLink(base, htmlquery.InnerText(node)); resolved != "" && !seen[resolved] {
			seen[resolved] = true
			out = append(out, resolved)
		}
	}
	return out
}

// Package summary extracts page-level context from rendered markup: the
// document title, declared language, and a short readable overview of the
// main content. The overview gives report readers a sense of what was
// audited without storing the whole page.
package summary

import (
	"log/slog"
	nurl "net/url"
	"strings"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"
	"github.com/PuerkitoBio/goquery"
	readability "github.com/go-shiori/go-readability"
)

// minContentLength is the minimum readability TextContent length for the
// extraction to be considered valid. Below it the raw HTML is converted
// instead, since the base plugin strips scripts and styles anyway.
const minContentLength = 50

// defaultMaxLen bounds the overview when the caller passes no limit.
const defaultMaxLen = 1200

// Info is the page context extracted from rendered markup.
type Info struct {
	Title    string
	Language string
	Overview string
}

// Builder turns rendered HTML into an Info. The markdown converter is
// goroutine-safe, so one Builder serves all concurrent scans.
type Builder struct {
	conv   *converter.Converter
	maxLen int
}

// NewBuilder creates a builder. maxLen bounds the overview in runes;
// zero or negative selects the default.
func NewBuilder(maxLen int) *Builder {
	if maxLen <= 0 {
		maxLen = defaultMaxLen
	}
	return &Builder{
		conv: converter.NewConverter(
			converter.WithPlugins(
				base.NewBasePlugin(),
				commonmark.NewCommonmarkPlugin(),
				table.NewTablePlugin(
					table.WithCellPaddingBehavior(table.CellPaddingBehaviorMinimal),
				),
			),
		),
		maxLen: maxLen,
	}
}

// Describe extracts title, language, and overview from rendered HTML.
// It never fails: unparsable markup yields an empty Info.
func (b *Builder) Describe(rawHTML, sourceURL string) Info {
	var info Info

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(rawHTML))
	if err == nil {
		info.Title = strings.TrimSpace(doc.Find("title").First().Text())
		if info.Title == "" {
			if og, ok := doc.Find(`meta[property="og:title"]`).Attr("content"); ok {
				info.Title = strings.TrimSpace(og)
			}
		}
		if lang, ok := doc.Find("html").Attr("lang"); ok {
			info.Language = strings.TrimSpace(lang)
		}
	}

	info.Overview = b.overview(rawHTML, sourceURL)
	return info
}

// overview runs the Mozilla Readability algorithm and converts the main
// content to markdown. When readability cannot locate main content the
// whole page is converted instead, so the overview is never lost to a
// finicky layout.
func (b *Builder) overview(rawHTML, sourceURL string) string {
	content := rawHTML

	if parsedURL, err := nurl.Parse(sourceURL); err == nil {
		article, err := readability.FromReader(strings.NewReader(rawHTML), parsedURL)
		if err != nil {
			slog.Debug("summary: readability extraction failed, converting full page",
				"url", sourceURL, "error", err,
			)
		} else if len(strings.TrimSpace(article.TextContent)) >= minContentLength {
			content = article.Content
		}
	}

	md, err := b.conv.ConvertString(content, converter.WithDomain(sourceURL))
	if err != nil {
		slog.Warn("summary: markdown conversion failed", "url", sourceURL, "error", err)
		return ""
	}
	return truncate(strings.TrimSpace(md), b.maxLen)
}

// truncate cuts s to max runes, appending an ellipsis when it cut.
func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return strings.TrimSpace(string(runes[:max])) + "…"
}

package utils

import (
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/net/html"
)

var (
	// StrictPolicy removes all markup
	StrictPolicy *bluemonday.Policy
	// MailPolicy keeps the markup commonly found in HTML mail
	MailPolicy *bluemonday.Policy
)

func init() {
	StrictPolicy = bluemonday.StrictPolicy()

	MailPolicy = bluemonday.UGCPolicy()
	MailPolicy.AllowElements("p", "br", "div", "span", "h1", "h2", "h3", "h4", "h5", "h6")
	MailPolicy.AllowElements("strong", "em", "u", "s", "code", "pre", "font", "center")
	MailPolicy.AllowElements("ul", "ol", "li", "blockquote", "hr")
	MailPolicy.AllowElements("table", "thead", "tbody", "tr", "th", "td")
	MailPolicy.AllowAttrs("href").OnElements("a")
	MailPolicy.AllowAttrs("src", "alt", "title", "width", "height").OnElements("img")
	MailPolicy.AllowAttrs("style").OnElements("span", "div", "p", "td", "table")
	MailPolicy.AllowAttrs("align", "bgcolor", "colspan", "rowspan").OnElements("td", "th", "tr", "table")

	// inline images reference their part with cid:
	MailPolicy.RequireParseableURLs(true)
	MailPolicy.AllowURLSchemes("http", "https", "mailto", "cid")
}

// SanitizeHTML strips scripts, handlers and unsafe URLs from a mail body
func SanitizeHTML(s string) string {
	return MailPolicy.Sanitize(s)
}

// StripHTML removes all HTML tags and decodes entities
func StripHTML(s string) string {
	return html.UnescapeString(StrictPolicy.Sanitize(s))
}

// Snippet returns a whitespace-normalized preview of at most n runes, cut at a word boundary.
func Snippet(text string, n int) string {
	text = strings.Join(strings.Fields(text), " ")
	runes := []rune(text)
	if len(runes) <= n {
		return text
	}
	cut := string(runes[:n])
	if idx := strings.LastIndex(cut, " "); idx > 0 {
		return cut[:idx] + "..."
	}
	return cut + "..."
}

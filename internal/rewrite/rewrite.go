// Package rewrite adapts HTML emitted by a dev server so that it keeps
// working when served from the preview proxy path inside an iframe.
//
// A dev server assumes it owns "/" of its origin, so markup such as
// <script src="/app.js"> would resolve against the dashboard instead of the
// session. Root-relative URLs in href, src, action and srcset attributes are
// routed back through the proxy with the original path carried in the "path"
// query parameter, and an interceptor script applies the same scheme to
// fetch and XMLHttpRequest calls made at runtime.
//
// Rewriting is regex based and best effort: attributes split across lines or
// quoted unusually are left alone.
package rewrite

import (
	"net/url"
	"regexp"
	"strconv"
	"strings"
)

// ProxyPath is the gateway route that serves previews.
const ProxyPath = "/api/preview/proxy"

// Context carries the per-document parameters of a rewrite.
type Context struct {
	SessionID string
	Port      int
}

// ProxyBase returns the URL prefix that, followed by an encoded path, routes
// a request for that path through the proxy.
func (c Context) ProxyBase() string {
	return ProxyPath + "?sessionId=" + url.QueryEscape(c.SessionID) +
		"&port=" + strconv.Itoa(c.Port) + "&path="
}

// URLRewriter rewrites the URL-bearing attributes of an HTML document.
type URLRewriter interface {
	RewriteURLs(html string, rc Context) string
}

var (
	doubleQuotedAttr = regexp.MustCompile(`(href|src|action)="/([^"]*)"`)
	singleQuotedAttr = regexp.MustCompile(`(href|src|action)='/([^']*)'`)
	srcsetAttr       = regexp.MustCompile(`srcset="([^"]*)"`)
)

// AttributeRewriter is the regex-based URLRewriter.
type AttributeRewriter struct{}

// RewriteURLs implements URLRewriter.
func (AttributeRewriter) RewriteURLs(html string, rc Context) string {
	base := rc.ProxyBase()
	html = rewriteAttr(html, doubleQuotedAttr, `"`, base)
	html = rewriteAttr(html, singleQuotedAttr, `'`, base)
	return rewriteSrcset(html, base)
}

// rewriteAttr rewrites attributes matched by re. The leading "/" is consumed
// by the pattern; rest is what follows it.
func rewriteAttr(html string, re *regexp.Regexp, quote, base string) string {
	return re.ReplaceAllStringFunc(html, func(match string) string {
		sub := re.FindStringSubmatch(match)
		attr, rest := sub[1], sub[2]
		if !rewritable(rest) {
			return match
		}
		return attr + "=" + quote + base + EncodeURIComponent("/"+rest) + quote
	})
}

// rewritable reports whether a root-relative value, minus its leading "/",
// should go through the proxy. "/" alone and protocol-relative "//host"
// values resolve against the real origin.
func rewritable(rest string) bool {
	if rest == "" || strings.HasPrefix(rest, "/") {
		return false
	}
	for _, prefix := range []string{"data:", "http:", "https:"} {
		if strings.HasPrefix(rest, prefix) {
			return false
		}
	}
	return true
}

func rewriteSrcset(html, base string) string {
	return srcsetAttr.ReplaceAllStringFunc(html, func(match string) string {
		candidates := strings.Split(srcsetAttr.FindStringSubmatch(match)[1], ",")
		for i, candidate := range candidates {
			fields := strings.Fields(candidate)
			if len(fields) == 0 {
				candidates[i] = ""
				continue
			}
			if u := fields[0]; strings.HasPrefix(u, "/") && !strings.HasPrefix(u, "//") {
				fields[0] = base + EncodeURIComponent(u)
			}
			candidates[i] = strings.Join(fields, " ")
		}
		return `srcset="` + strings.Join(candidates, ", ") + `"`
	})
}

var (
	headTag = regexp.MustCompile(`(?i)<head(\s[^>]*)?>`)
	htmlTag = regexp.MustCompile(`(?i)<html(\s[^>]*)?>`)
)

// InjectScript inserts script right after the opening <head> tag, falling
// back to a <head> with attributes, then the <html> tag, then the start of
// the document. The script therefore runs before any other inline script.
func InjectScript(html, script string) string {
	if i := strings.Index(html, "<head>"); i >= 0 {
		return insertAt(html, i+len("<head>"), script)
	}
	if loc := headTag.FindStringIndex(html); loc != nil {
		return insertAt(html, loc[1], script)
	}
	if loc := htmlTag.FindStringIndex(html); loc != nil {
		return insertAt(html, loc[1], script)
	}
	return script + html
}

func insertAt(s string, at int, insert string) string {
	var b strings.Builder
	b.Grow(len(s) + len(insert))
	b.WriteString(s[:at])
	b.WriteString(insert)
	b.WriteString(s[at:])
	return b.String()
}

// Document rewrites html with r and injects the interceptor script.
func Document(html string, rc Context, r URLRewriter) string {
	return InjectScript(r.RewriteURLs(html, rc), InterceptorScript(rc))
}

var uriComponentUnescaper = strings.NewReplacer(
	"+", "%20",
	"%21", "!",
	"%27", "'",
	"%28", "(",
	"%29", ")",
	"%2A", "*",
)

// EncodeURIComponent escapes s like the JavaScript function of the same
// name, so paths encoded here and by the interceptor script agree.
func EncodeURIComponent(s string) string {
	return uriComponentUnescaper.Replace(url.QueryEscape(s))
}

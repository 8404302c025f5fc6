// Package analysis extracts structure, technologies, and sensitive-pattern
// findings from fetched page content.
package analysis

import (
	"encoding/json"
	"net/url"
	"regexp"
	"strings"

	"reconpipe/internal/models"

	"github.com/PuerkitoBio/goquery"
)

var commentRe = regexp.MustCompile(`(?s)<!--(.*?)-->`)

// Document is the structural extraction of one HTML page.
type Document struct {
	Title    string
	Forms    []models.Form
	Links    []models.Link
	Scripts  []models.ScriptRef
	Comments []models.HTMLComment
	MetaTags []models.MetaTag
	Iframes  []models.Iframe
}

// ExtractStructure parses the body and pulls out title, forms, links,
// scripts, comments, meta tags, and iframes. Link and form targets are
// resolved to absolute URLs against the final fetched URL.
func ExtractStructure(body, finalURL string) (*Document, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		return nil, err
	}

	base, _ := url.Parse(finalURL)
	out := &Document{}

	out.Title = strings.TrimSpace(doc.Find("title").First().Text())

	doc.Find("form").Each(func(_ int, s *goquery.Selection) {
		action, _ := s.Attr("action")
		method, _ := s.Attr("method")
		if method == "" {
			method = "GET"
		}

		var inputs []map[string]string
		s.Find("input, select, textarea").Each(func(_ int, in *goquery.Selection) {
			name, _ := in.Attr("name")
			typ, _ := in.Attr("type")
			inputs = append(inputs, map[string]string{"name": name, "type": typ})
		})
		encoded, _ := json.Marshal(inputs)

		out.Forms = append(out.Forms, models.Form{
			Action: resolveURL(base, action),
			Method: strings.ToUpper(method),
			Inputs: string(encoded),
		})
	})

	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		if href == "" || strings.HasPrefix(href, "javascript:") || strings.HasPrefix(href, "#") {
			return
		}
		resolved := resolveURL(base, href)
		out.Links = append(out.Links, models.Link{
			Href:     resolved,
			Text:     strings.TrimSpace(s.Text()),
			External: isExternal(base, resolved),
		})
	})

	doc.Find("script").Each(func(_ int, s *goquery.Selection) {
		if src, ok := s.Attr("src"); ok && src != "" {
			out.Scripts = append(out.Scripts, models.ScriptRef{Src: resolveURL(base, src)})
			return
		}
		content := strings.TrimSpace(s.Text())
		if content != "" {
			out.Scripts = append(out.Scripts, models.ScriptRef{Inline: true, Content: content})
		}
	})

	for _, m := range commentRe.FindAllStringSubmatch(body, -1) {
		content := strings.TrimSpace(m[1])
		if content != "" {
			out.Comments = append(out.Comments, models.HTMLComment{Content: content})
		}
	}

	doc.Find("meta").Each(func(_ int, s *goquery.Selection) {
		name, _ := s.Attr("name")
		if name == "" {
			name, _ = s.Attr("property")
		}
		content, _ := s.Attr("content")
		if name != "" || content != "" {
			out.MetaTags = append(out.MetaTags, models.MetaTag{Name: name, Content: content})
		}
	})

	doc.Find("iframe[src]").Each(func(_ int, s *goquery.Selection) {
		src, _ := s.Attr("src")
		if src != "" {
			out.Iframes = append(out.Iframes, models.Iframe{Src: resolveURL(base, src)})
		}
	})

	return out, nil
}

func resolveURL(base *url.URL, ref string) string {
	if base == nil {
		return ref
	}
	parsed, err := url.Parse(strings.TrimSpace(ref))
	if err != nil {
		return ref
	}
	return base.ResolveReference(parsed).String()
}

func isExternal(base *url.URL, resolved string) bool {
	if base == nil {
		return false
	}
	parsed, err := url.Parse(resolved)
	if err != nil {
		return false
	}
	return parsed.Hostname() != "" && !strings.EqualFold(parsed.Hostname(), base.Hostname())
}

// Package extract turns a parsed listing page into an ordered, deduplicated
// list of cover images and the captions of the entries they link to.
package extract

import (
	"net/url"
	"strings"
)

type Extractor struct {
	sel Selectors
}

func New(sel Selectors) *Extractor {
	return &Extractor{sel: sel.WithDefaults()}
}

// Extract returns the images of doc not yet in seen, in document order, and
// the captions found for entry links. Every image URL observed is added to
// seen, so running it twice over the same page yields nothing the second time.
func (e *Extractor) Extract(doc Document, seen *SeenSet) ([]ImageRecord, CaptionIndex) {
	base := doc.BaseURL()
	captions := CaptionIndex{}

	for _, a := range doc.QueryAll(e.sel.EntryLink) {
		href, ok := absoluteHref(base, a)
		if !ok {
			continue
		}

		text := ""
		if spans := a.Find(e.sel.Caption); len(spans) > 0 {
			text = strings.TrimSpace(spans[0].Text())
		} else {
			text = strings.TrimSpace(a.Text())
		}
		if text == "" {
			continue
		}

		captions.Add(href, text)
	}

	var records []ImageRecord
	for _, img := range doc.QueryAll(e.sel.Image) {
		src, ok := e.imageSource(base, img)
		if !ok {
			continue
		}

		// Add reports false for URLs seen earlier, including in this document.
		if !seen.Add(src) {
			continue
		}

		rec := ImageRecord{ImageURL: src}
		if a, ok := img.Closest("a[href]"); ok {
			rec.LinkURL, _ = absoluteHref(base, a)
		}
		records = append(records, rec)
	}

	return records, captions
}

// ExtractSearch reads the result anchors of a search page. Each needs an
// inner image, a title and an href; the title becomes the caption.
func (e *Extractor) ExtractSearch(doc Document, seen *SeenSet) ([]ImageRecord, CaptionIndex) {
	base := doc.BaseURL()
	captions := CaptionIndex{}

	var records []ImageRecord
	for _, a := range doc.QueryAll(e.sel.SearchResult) {
		href, ok := absoluteHref(base, a)
		if !ok {
			continue
		}

		title, _ := a.Attr("title")
		title = strings.TrimSpace(title)
		if title == "" {
			title = strings.TrimSpace(a.Text())
		}
		if title == "" {
			continue
		}

		imgs := a.Find("img")
		if len(imgs) == 0 {
			continue
		}
		src, ok := e.imageSource(base, imgs[0])
		if !ok {
			continue
		}

		if !seen.Add(src) {
			continue
		}

		records = append(records, ImageRecord{ImageURL: src, LinkURL: href})
		captions.Add(href, title)
	}

	return records, captions
}

func (e *Extractor) imageSource(base string, img Node) (string, bool) {
	for _, attr := range e.sel.ImageAttrs {
		v, ok := img.Attr(attr)
		if !ok {
			continue
		}

		if attr == "srcset" {
			v = firstSrcsetCandidate(v)
		}

		if u, ok := resolve(base, v); ok {
			return u, true
		}
	}

	return "", false
}

func firstSrcsetCandidate(srcset string) string {
	for p := range strings.SplitSeq(srcset, ",") {
		if parts := strings.Fields(p); len(parts) > 0 {
			return parts[0]
		}
	}
	return ""
}

func absoluteHref(base string, n Node) (string, bool) {
	href, ok := n.Attr("href")
	if !ok {
		return "", false
	}
	return resolve(base, href)
}

// resolve makes raw absolute against base and keeps only http(s) and data
// URLs.
func resolve(base, raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false
	}

	lower := strings.ToLower(raw)
	if strings.HasPrefix(lower, "data:image/") {
		return raw, true
	}
	if strings.HasPrefix(lower, "javascript:") || strings.HasPrefix(lower, "#") {
		return "", false
	}

	u, err := url.Parse(raw)
	if err != nil || u == nil {
		return "", false
	}

	if !u.IsAbs() {
		b, err := url.Parse(base)
		if err != nil || b == nil || !b.IsAbs() {
			return "", false
		}
		u = b.ResolveReference(u)
	}

	if u.Scheme != "http" && u.Scheme != "https" {
		return "", false
	}

	return u.String(), true
}

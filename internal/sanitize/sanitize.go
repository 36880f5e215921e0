// Package sanitize turns an authored HTML fragment into an email-safe
// document. Authored content (classes, inline styles, style blocks) is
// preserved verbatim; editor scaffolding, scripts and event handlers are
// removed; inline image references are rewritten to cid: form. The
// transformation is idempotent, so running it again over its own output
// is safe.
package sanitize

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// BlobKeyAttr is the one data-* attribute that survives sanitation. The
// editor stamps it on inline images to name the attachment blob the
// image bytes live in.
const BlobKeyAttr = "data-blob-key"

// editorStyleMarker tags the injected stylesheet so a second pass can
// recognize it instead of injecting another copy.
const editorStyleMarker = "editor-base-styles"

// editorStylesheet gives the editor's semantic classes meaning without
// the editor: alignment, indent levels, size and font presets.
const editorStylesheet = `
.ql-align-center { text-align: center; }
.ql-align-right { text-align: right; }
.ql-align-justify { text-align: justify; }
.ql-indent-1 { padding-left: 3em; }
.ql-indent-2 { padding-left: 6em; }
.ql-indent-3 { padding-left: 9em; }
.ql-indent-4 { padding-left: 12em; }
.ql-indent-5 { padding-left: 15em; }
.ql-size-small { font-size: 0.75em; }
.ql-size-large { font-size: 1.5em; }
.ql-size-huge { font-size: 2.5em; }
.ql-font-serif { font-family: Georgia, 'Times New Roman', serif; }
.ql-font-monospace { font-family: Monaco, 'Courier New', monospace; }
`

// editingAttrs are editor-session attributes that mean nothing to a mail
// client.
var editingAttrs = map[string]bool{
	"contenteditable": true,
	"spellcheck":      true,
	"autocorrect":     true,
	"autocapitalize":  true,
}

// InlineImage maps an attachment blob to the content-id its MIME part
// will carry.
type InlineImage struct {
	BlobKey   string
	ContentID string
}

// Sanitize transforms an authored HTML fragment into an email-safe
// document. It never fails; input that cannot be parsed is returned
// unchanged.
func Sanitize(htmlIn string, images []InlineImage) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(htmlIn))
	if err != nil {
		return htmlIn
	}
	body := doc.Find("body")

	// Editor scratch containers never belong in the outgoing message.
	doc.Find(".ql-clipboard, .ql-tooltip, .ql-hidden").Remove()

	doc.Find("script").Remove()

	doc.Find("*").Each(func(_ int, sel *goquery.Selection) {
		node := sel.Get(0)
		var drop []string
		for _, attr := range node.Attr {
			name := strings.ToLower(attr.Key)
			switch {
			case editingAttrs[name]:
				drop = append(drop, attr.Key)
			case strings.HasPrefix(name, "on"):
				drop = append(drop, attr.Key)
			case strings.HasPrefix(name, "data-") && name != BlobKeyAttr:
				drop = append(drop, attr.Key)
			}
		}
		for _, key := range drop {
			sel.RemoveAttr(key)
		}
	})

	// Blank paragraphs collapse to a &nbsp; so mail clients keep the
	// author's intentional spacing; truly empty ones are dropped.
	body.Find("p").Each(func(_ int, p *goquery.Selection) {
		inner, err := p.Html()
		if err != nil {
			return
		}
		trimmed := strings.TrimSpace(inner)
		switch {
		case inner == "":
			p.Remove()
		case trimmed == "" || trimmed == "<br>" || trimmed == "<br/>" || trimmed == "<br />":
			p.SetHtml("&nbsp;")
		}
	})

	// Rewrite inline image references to the content-id of the MIME
	// part that will carry the bytes. Images with no mapping stay as
	// the author wrote them.
	mapping := make(map[string]string, len(images))
	for _, img := range images {
		mapping[img.BlobKey] = img.ContentID
	}
	body.Find("img").Each(func(_ int, img *goquery.Selection) {
		key, ok := img.Attr(BlobKeyAttr)
		if !ok {
			return
		}
		cid, ok := mapping[key]
		if !ok {
			return
		}
		img.SetAttr("src", "cid:"+cid)
	})

	if doc.Find("style."+editorStyleMarker).Length() == 0 {
		body.PrependHtml(`<style class="` + editorStyleMarker + `">` + editorStylesheet + `</style>`)
	}

	return render(doc, body, htmlIn)
}

// render emits head-hoisted style blocks followed by the body fragment.
// The HTML parser moves style tags at the head of a fragment into
// <head>; emitting them first keeps author stylesheets and the injected
// one in the output, in their original order.
func render(doc *goquery.Document, body *goquery.Selection, fallback string) string {
	var sb strings.Builder
	doc.Find("head style").Each(func(_ int, s *goquery.Selection) {
		if out, err := goquery.OuterHtml(s); err == nil {
			sb.WriteString(out)
		}
	})

	inner, err := body.Html()
	if err != nil {
		return fallback
	}
	sb.WriteString(inner)

	// The parser turns &nbsp; into U+00A0; put the entity back so the
	// output survives transports that are not UTF-8 clean.
	return strings.ReplaceAll(sb.String(), "\u00a0", "&nbsp;")
}

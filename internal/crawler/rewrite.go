package crawler

import (
	"context"
	"fmt"
	"net/url"
	"path"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"
	"golang.org/x/net/html"
)

// resourceTag describes one element/attribute pair that embeds a resource.
type resourceTag struct {
	selector  string
	attr      string
	subfolder string
	fullOnly  bool
}

var resourceTags = []resourceTag{
	{selector: "img", attr: "src", subfolder: SubfolderImages},
	{selector: "video", attr: "src", subfolder: SubfolderVideos},
	{selector: "source", attr: "src", subfolder: SubfolderVideos},
	{selector: "script", attr: "src", subfolder: SubfolderJS, fullOnly: true},
	{selector: "link", attr: "href", subfolder: SubfolderCSS, fullOnly: true},
}

// collectRefs lists the embedded resources of doc in tag-table order, then
// document order. data: references and non-http(s) targets are skipped.
func collectRefs(doc *goquery.Document, base *url.URL, mode Mode) []ResourceRef {
	var refs []ResourceRef
	for _, tag := range resourceTags {
		if tag.fullOnly && mode != ModeFull {
			continue
		}
		doc.Find(tag.selector).Each(func(_ int, sel *goquery.Selection) {
			raw, ok := sel.Attr(tag.attr)
			if !ok {
				return
			}
			abs, ok := resolveReference(base, raw)
			if !ok {
				return
			}
			refs = append(refs, ResourceRef{
				URL:       abs,
				Category:  Classify(abs),
				Subfolder: tag.subfolder,
				Element:   sel,
				Attr:      tag.attr,
			})
		})
	}
	return refs
}

// applyOutcomes is the inline rewrite: every fetched resource replaces the
// attribute it came from. Failed entries keep their remote value.
func applyOutcomes(refs []ResourceRef, outcomes []Outcome) {
	for i, ref := range refs {
		if i >= len(outcomes) || ref.Element == nil || !outcomes[i].Fetched() {
			continue
		}
		ref.Element.SetAttr(ref.Attr, outcomes[i].Path)
	}
}

func renderDocument(doc *goquery.Document) (string, error) {
	markup, err := goquery.OuterHtml(doc.Selection)
	if err != nil {
		return "", fmt.Errorf("render markup: %w", err)
	}
	return markup, nil
}

// Rewriter runs the post-pass over markup produced by the inline phase.
type Rewriter struct {
	cfg        Config
	store      OutputStore
	namer      *Namer
	downloader *Downloader
	report     *reporter
	logger     *zap.Logger
}

// PostProcess re-parses markup, points script and stylesheet references at
// local copies (fetching any that are still missing) and localizes url(...)
// references inside <style> blocks. Any failure returns markup unchanged.
func (r *Rewriter) PostProcess(ctx context.Context, markup string, pageURL string) (out string) {
	defer func() {
		if rec := recover(); rec != nil {
			r.report.warn(fmt.Sprintf("post-processing failed, keeping inline result: %v", rec), pageURL)
			out = markup
		}
	}()
	result, err := r.postProcess(ctx, markup, pageURL)
	if err != nil {
		r.report.warn(fmt.Sprintf("post-processing failed, keeping inline result: %v", err), pageURL)
		return markup
	}
	return result
}

func (r *Rewriter) postProcess(ctx context.Context, markup string, pageURL string) (string, error) {
	base, err := url.Parse(pageURL)
	if err != nil {
		return "", fmt.Errorf("parse page url: %w", err)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(markup))
	if err != nil {
		return "", fmt.Errorf("parse markup: %w", err)
	}

	r.repairReferences(ctx, doc, base, "script[src]", "src", SubfolderJS)
	r.repairReferences(ctx, doc, base, "link[href]", "href", SubfolderCSS)
	r.localizeStyleBlocks(ctx, doc, base)

	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("post-process canceled: %w", err)
	}
	return renderDocument(doc)
}

func (r *Rewriter) repairReferences(
	ctx context.Context,
	doc *goquery.Document,
	base *url.URL,
	selector string,
	attr string,
	subfolder string,
) {
	doc.Find(selector).Each(func(_ int, sel *goquery.Selection) {
		raw, _ := sel.Attr(attr)
		abs, ok := resolveReference(base, raw)
		if !ok {
			return
		}
		rel := path.Join(subfolder, r.namer.NameFor(abs))
		if r.store.Exists(rel) {
			if raw != rel {
				sel.SetAttr(attr, rel)
				r.logger.Debug("repaired reference", zap.String("url", abs), zap.String("path", rel))
			}
			return
		}
		outcome := r.downloader.Download(ctx, ResourceRef{
			URL:       abs,
			Category:  Classify(abs),
			Subfolder: subfolder,
		})
		if outcome.Fetched() {
			sel.SetAttr(attr, outcome.Path)
		}
	})
}

func (r *Rewriter) localizeStyleBlocks(ctx context.Context, doc *goquery.Document, base *url.URL) {
	fetch := r.downloader.DownloadUnfiltered
	if r.cfg.StyleURLsRespectFilters {
		fetch = r.downloader.Download
	}
	doc.Find("style").Each(func(_ int, sel *goquery.Selection) {
		for _, node := range sel.Nodes {
			for child := node.FirstChild; child != nil; child = child.NextSibling {
				if child.Type != html.TextNode {
					continue
				}
				child.Data = rewriteCSSURLs(child.Data, func(ref string) (string, bool) {
					abs, ok := resolveReference(base, ref)
					if !ok {
						return "", false
					}
					outcome := fetch(ctx, ResourceRef{
						URL:       abs,
						Category:  Classify(abs),
						Subfolder: SubfolderImages,
					})
					return outcome.Path, outcome.Fetched()
				})
			}
		}
	})
}

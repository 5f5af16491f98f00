package dash

import (
	"cmp"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"mediaproxy/work/logger"
	"mediaproxy/work/patterns"
	"mediaproxy/work/utils"

	"github.com/beevik/etree"
)

// ErrNoMPD is returned when the document parses but has no MPD root.
var ErrNoMPD = errors.New("document has no MPD root element")

// segmentAttributes are processed on every SegmentTemplate and SegmentURL,
// in this order.
var segmentAttributes = []string{"initialization", "media"}

// Result is a rewritten manifest and the segment addressing state derived
// from it.
type Result struct {
	Body        []byte
	BaseURLs    []string
	Definitions []*patterns.Definition
	VideoSets   int
}

// Rewrite transforms an MPD fetched from originURL so every sub-resource
// routes back through proxyPath. Callers forward the original body when an
// error is returned.
func Rewrite(body []byte, originURL, proxyPath string) (*Result, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(body); err != nil {
		return nil, fmt.Errorf("parsing MPD: %w", err)
	}

	root := doc.Root()
	if root == nil || root.Tag != "MPD" {
		return nil, ErrNoMPD
	}

	res := &Result{BaseURLs: rewriteBaseURLs(root, originURL, proxyPath)}

	if root.RemoveAttr("availabilityStartTime") != nil {
		logger.Debug("{dash/rewriter - Rewrite} Removed availabilityStartTime")
	}

	res.VideoSets = sortVideoSets(root)
	res.Definitions = rewriteSegments(root, proxyPath)

	out, err := doc.WriteToBytes()
	if err != nil {
		return nil, fmt.Errorf("serializing MPD: %w", err)
	}
	res.Body = out
	return res, nil
}

// rewriteBaseURLs proxies the MPD-level BaseURL elements and returns their
// resolved origins as the fallback list. Only the first element stays in the
// document. Without any BaseURL the manifest URL itself is the only base.
func rewriteBaseURLs(root *etree.Element, originURL, proxyPath string) []string {
	var bases []string
	var elems []*etree.Element
	for _, child := range root.ChildElements() {
		if child.Tag == "BaseURL" {
			elems = append(elems, child)
		}
	}

	if len(elems) == 0 {
		return []string{originURL}
	}

	for i, el := range elems {
		resolved := strings.TrimSpace(el.Text())
		if !utils.IsAbsolute(resolved) {
			resolved = utils.ResolveURL(originURL, resolved)
		}
		if !slices.Contains(bases, resolved) {
			bases = append(bases, resolved)
		}
		if i == 0 {
			el.SetText(utils.ProxyURL(proxyPath, resolved))
			continue
		}
		root.RemoveChild(el)
	}

	if len(elems) > 1 {
		logger.Debug("{dash/rewriter - rewriteBaseURLs} Kept 1 of %d BaseURL elements, %d fallback bases", len(elems), len(bases))
	}
	return bases
}

type videoSet struct {
	peak   int64
	elem   *etree.Element
	parent *etree.Element
}

// sortVideoSets moves every video AdaptationSet to the end of its parent,
// highest peak bandwidth first. Ties keep document order.
func sortVideoSets(root *etree.Element) int {
	var sets []videoSet
	walk(root, func(el *etree.Element) {
		if el.Tag != "AdaptationSet" || !isVideo(el) {
			return
		}
		var peak int64
		for _, rep := range el.ChildElements() {
			if rep.Tag != "Representation" {
				continue
			}
			bw, _ := strconv.ParseInt(rep.SelectAttrValue("bandwidth", "0"), 10, 64)
			peak = max(peak, bw)
		}
		sets = append(sets, videoSet{peak: peak, elem: el, parent: el.Parent()})
	})

	slices.SortStableFunc(sets, func(a, b videoSet) int {
		return cmp.Compare(b.peak, a.peak)
	})

	for _, s := range sets {
		s.parent.RemoveChild(s.elem)
		s.parent.AddChild(s.elem)
	}

	if len(sets) > 1 {
		logger.Debug("{dash/rewriter - sortVideoSets} Sorted %d video adaptation sets", len(sets))
	}
	return len(sets)
}

// isVideo checks contentType, falling back to mimeType when the set does not
// declare one.
func isVideo(el *etree.Element) bool {
	if ct := el.SelectAttr("contentType"); ct != nil {
		return strings.EqualFold(ct.Value, "video")
	}
	return strings.HasPrefix(el.SelectAttrValue("mimeType", ""), "video/")
}

// rewriteSegments proxies absolute segment URLs and derives a definition for
// each distinct attribute value, SegmentTemplate elements first.
func rewriteSegments(root *etree.Element, proxyPath string) []*patterns.Definition {
	var elems []*etree.Element
	for _, tag := range []string{"SegmentTemplate", "SegmentURL"} {
		walk(root, func(el *etree.Element) {
			if el.Tag == tag {
				elems = append(elems, el)
			}
		})
	}

	var defs []*patterns.Definition
	seen := make(map[string]bool)
	for _, el := range elems {
		for _, key := range segmentAttributes {
			attr := el.SelectAttr(key)
			if attr == nil {
				continue
			}
			raw := attr.Value
			if utils.IsAbsolute(raw) {
				attr.Value = utils.ProxyURL(proxyPath, raw)
			}
			if seen[raw] {
				continue
			}
			seen[raw] = true

			def, err := patterns.Compile(raw)
			if err != nil {
				logger.Warn("{dash/rewriter - rewriteSegments} Skipping %s=%q: %v", key, raw, err)
				continue
			}
			defs = append(defs, def)
		}
	}
	return defs
}

func walk(el *etree.Element, fn func(*etree.Element)) {
	for _, child := range el.ChildElements() {
		fn(child)
		walk(child, fn)
	}
}

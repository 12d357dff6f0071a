package handler

import (
	"encoding/xml"
	"fmt"
	"net/http"

	"go-wiki-engine/internal/wiki"
)

// SeoHandler holds dependencies for SEO-related handlers.
type SeoHandler struct {
	tree    *wiki.TreeService
	baseURL string
}

// NewSeoHandler creates a new SeoHandler. baseURL is the externally visible
// origin, without a trailing slash.
func NewSeoHandler(tree *wiki.TreeService, baseURL string) *SeoHandler {
	return &SeoHandler{tree: tree, baseURL: baseURL}
}

// robotsHandler serves a static robots.txt file.
func (h *SeoHandler) robotsHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	fmt.Fprintln(w, "User-agent: *")
	fmt.Fprintln(w, "Allow: /")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Sitemap: "+h.baseURL+"/sitemap.xml")
}

type sitemapURL struct {
	XMLName xml.Name `xml:"url"`
	Loc     string   `xml:"loc"`
}

type urlSet struct {
	XMLName xml.Name     `xml:"urlset"`
	Xmlns   string       `xml:"xmlns,attr"`
	URLs    []sitemapURL `xml:"url"`
}

// sitemapHandler generates a sitemap.xml from the live part of the path
// tree. Deleted subtrees are skipped.
func (h *SeoHandler) sitemapHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	root, err := h.tree.Root(ctx)
	if err != nil {
		http.Error(w, "Failed to resolve wiki root", http.StatusInternalServerError)
		return
	}
	nodes, err := h.tree.Descendants(ctx, root.ID)
	if err != nil {
		http.Error(w, "Failed to walk wiki tree for sitemap", http.StatusInternalServerError)
		return
	}

	sitemap := urlSet{
		Xmlns: "http://www.sitemaps.org/schemas/sitemap/0.9",
		URLs:  []sitemapURL{{Loc: h.baseURL + "/wiki/"}},
	}
	for _, node := range nodes {
		if deleted, err := h.tree.FirstDeletedAncestor(ctx, node); err != nil || deleted != nil {
			continue
		}
		path, err := h.tree.Path(ctx, node)
		if err != nil {
			continue
		}
		sitemap.URLs = append(sitemap.URLs, sitemapURL{Loc: h.baseURL + "/wiki/" + path})
	}

	w.Header().Set("Content-Type", "application/xml")
	w.Write([]byte(xml.Header))
	encoder := xml.NewEncoder(w)
	encoder.Indent("", "  ")
	if err := encoder.Encode(sitemap); err != nil {
		http.Error(w, "Failed to generate sitemap XML", http.StatusInternalServerError)
		return
	}
}

// Package content defines the wire format shared between the build-time
// reconciler and the runtime reaction client: discussion titles, rendered
// discussion/comment bodies, and the machine-parseable image marker that
// joins a local image to its remote comment.
package content

import (
	"fmt"
	"path"
	"regexp"
	"strings"

	"github.com/gallerist/gallerist/internal/manifest"
)

// markerPrefix is a versioned wire format. The marker is a visible inline
// code span rather than an HTML comment: the read path consumes a rendered
// body representation that strips HTML comments but preserves code spans.
const markerPrefix = "masonry-image:"

var markerRe = regexp.MustCompile("`" + markerPrefix + "([^`\\s]+)`")

// Marker renders the trailing machine-parseable marker for an image id.
func Marker(imageID string) string {
	return "`" + markerPrefix + imageID + "`"
}

// ParseMarker extracts the image id embedded in a comment body. When more
// than one marker is present the last one wins, since the marker is
// appended as the final line of the body we author.
func ParseMarker(body string) (string, bool) {
	matches := markerRe.FindAllStringSubmatch(body, -1)
	if len(matches) == 0 {
		return "", false
	}
	return matches[len(matches)-1][1], true
}

// DiscussionTitle builds the reserved discussion title for a page path.
// The title is the sole lookup key for discovery, so it must be exact.
func DiscussionTitle(prefix, pagePath string) string {
	return prefix + pagePath
}

// Site carries the site metadata templated into discussion bodies.
type Site struct {
	Title  string
	Author string
	URL    string
}

// PageURL is the canonical URL of a gallery page.
func (s Site) PageURL(pagePath string) string {
	return strings.TrimRight(s.URL, "/") + "/" + pagePath + "/"
}

// Previews maps image ids to publicly reachable preview URLs.
type Previews struct {
	BaseURL string
	// LossyWebP mirrors the build pipeline: when set, jpeg/png sources are
	// served as .webp and preview URLs must point at the converted file.
	LossyWebP bool
}

// URL returns the absolute preview URL for an image id.
func (p Previews) URL(imageID string) string {
	name := imageID
	if p.LossyWebP && hasLossyExt(name) {
		name = swapExt(name, ".webp")
	}
	return strings.TrimRight(p.BaseURL, "/") + "/" + name
}

func hasLossyExt(name string) bool {
	switch strings.ToLower(path.Ext(name)) {
	case ".jpg", ".jpeg", ".png":
		return true
	}
	return false
}

func swapExt(name, ext string) string {
	return strings.TrimSuffix(name, path.Ext(name)) + ext
}

// DiscussionBody renders the body for a gallery page's discussion.
func DiscussionBody(site Site, page manifest.Page) string {
	var b strings.Builder
	fmt.Fprintf(&b, "### %s\n\n", page.Title)
	fmt.Fprintf(&b, "Reactions for [%s](%s).\n\n", page.Title, site.PageURL(page.PagePath))
	fmt.Fprintf(&b, "%d photos.\n\n", len(page.Images))
	fmt.Fprintf(&b, "— [%s](%s) · %s\n", site.Title, site.URL, site.Author)
	return b.String()
}

// DiscussionCurrent reports whether a stored discussion body still matches
// what the manifest implies. Checks are substring-based rather than exact
// equality: the remote renderer may reformat the body.
func DiscussionCurrent(body string, site Site, page manifest.Page) bool {
	return strings.Contains(body, site.PageURL(page.PagePath)) &&
		strings.Contains(body, page.Title) &&
		strings.Contains(body, fmt.Sprintf("%d photos", len(page.Images)))
}

// CommentBody renders the body for one image's comment: preview, optional
// title/description, attribute table, trailing marker.
func CommentBody(p Previews, img manifest.Image) string {
	var b strings.Builder
	alt := img.Title
	if alt == "" {
		alt = path.Base(img.ID)
	}
	fmt.Fprintf(&b, "![%s](%s)\n", alt, p.URL(img.ID))

	if img.Title != "" {
		fmt.Fprintf(&b, "\n**%s**\n", img.Title)
	}
	if img.Description != "" {
		fmt.Fprintf(&b, "\n%s\n", img.Description)
	}

	if len(img.Attrs) > 0 {
		b.WriteString("\n| | |\n|---|---|\n")
		for _, attr := range img.Attrs {
			fmt.Fprintf(&b, "| %s | %s |\n", attr.Key, attr.Value)
		}
	}

	fmt.Fprintf(&b, "\n%s\n", Marker(img.ID))
	return b.String()
}

// attrRowRe matches one attribute table data row. The header and separator
// rows never contain a space-padded key cell, so they do not match.
var attrRowRe = regexp.MustCompile(`(?m)^\| [^|]+ \| [^|]* \|\s*$`)

// CommentCurrent reports whether a stored comment body matches the current
// manifest entry. Expected fields are checked as substrings, plus a
// structural check that the attribute row count matches, so stale rows are
// caught even when every current row is still present.
func CommentCurrent(body string, p Previews, img manifest.Image) bool {
	if !strings.Contains(body, p.URL(img.ID)) {
		return false
	}
	if img.Title != "" && !strings.Contains(body, "**"+img.Title+"**") {
		return false
	}
	if img.Description != "" && !strings.Contains(body, img.Description) {
		return false
	}
	for _, attr := range img.Attrs {
		if !strings.Contains(body, fmt.Sprintf("| %s | %s |", attr.Key, attr.Value)) {
			return false
		}
	}
	if len(attrRowRe.FindAllString(body, -1)) != len(img.Attrs) {
		return false
	}
	return true
}

// MatchImageID resolves a rendered image URL back to a manifest image id.
// The rendered URL is stripped of query and fragment, and a .webp rendition
// of a jpeg/png source still matches its original id.
func MatchImageID(renderedURL string, ids []string) (string, bool) {
	u := renderedURL
	if i := strings.IndexAny(u, "?#"); i >= 0 {
		u = u[:i]
	}

	for _, id := range ids {
		if pathMatches(u, id) {
			return id, true
		}
		if hasLossyExt(id) && pathMatches(u, swapExt(id, ".webp")) {
			return id, true
		}
	}
	return "", false
}

func pathMatches(u, name string) bool {
	return u == name || strings.HasSuffix(u, "/"+name)
}

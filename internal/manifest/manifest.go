// Package manifest loads the gallery manifest: the ordered list of gallery
// pages and their images that drives reconciliation.
package manifest

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Attr is one EXIF-like key/value attribute of an image, in manifest order.
type Attr struct {
	Key   string
	Value string
}

// Image is one photo in a gallery page. ID is the manifest-relative image
// path and must never change across builds: it is embedded verbatim in
// remote comment bodies as the only durable cross-reference.
type Image struct {
	ID          string
	Title       string
	Description string
	Attrs       []Attr
}

// Page is one gallery page. PagePath is the stable per-build identifier
// derived from the slug (or the title when no slug is given).
type Page struct {
	Title    string
	PagePath string
	Images   []Image
}

type rawPage struct {
	Title  string      `yaml:"title"`
	Slug   string      `yaml:"slug"`
	Images []yaml.Node `yaml:"images"`
}

// reserved image keys; everything else becomes an ordered Attr
const (
	keyImage       = "image"
	keyTitle       = "title"
	keyDescription = "description"
)

// Load reads and validates a gallery manifest file.
func Load(path string) ([]Page, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	return Parse(data)
}

// Parse decodes manifest YAML. Pages without images are dropped; a duplicate
// image id within one page is an error since ids are the join key against
// remote comments.
func Parse(data []byte) ([]Page, error) {
	var raw []rawPage
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}

	var pages []Page
	for i, rp := range raw {
		if rp.Title == "" && rp.Slug == "" {
			return nil, fmt.Errorf("manifest page %d has neither title nor slug", i)
		}

		page := Page{
			Title:    rp.Title,
			PagePath: rp.Slug,
		}
		if page.PagePath == "" {
			page.PagePath = Slugify(rp.Title)
		}

		seen := make(map[string]bool)
		for j := range rp.Images {
			img, err := decodeImage(&rp.Images[j])
			if err != nil {
				return nil, fmt.Errorf("page %q image %d: %w", page.PagePath, j, err)
			}
			if seen[img.ID] {
				return nil, fmt.Errorf("page %q: duplicate image id %q", page.PagePath, img.ID)
			}
			seen[img.ID] = true
			page.Images = append(page.Images, img)
		}

		// Pages with no images produce no output page and no discussion.
		if len(page.Images) == 0 {
			continue
		}
		pages = append(pages, page)
	}

	return pages, nil
}

// decodeImage decodes one image mapping, preserving the document order of
// any non-reserved keys as EXIF-like attributes.
func decodeImage(node *yaml.Node) (Image, error) {
	if node.Kind != yaml.MappingNode {
		// A bare string entry is shorthand for {image: <path>}.
		if node.Kind == yaml.ScalarNode && node.Value != "" {
			return Image{ID: node.Value}, nil
		}
		return Image{}, fmt.Errorf("image entry must be a mapping or a path string")
	}

	var img Image
	for i := 0; i+1 < len(node.Content); i += 2 {
		key := node.Content[i].Value
		value := node.Content[i+1].Value

		switch key {
		case keyImage:
			img.ID = value
		case keyTitle:
			img.Title = value
		case keyDescription:
			img.Description = value
		default:
			img.Attrs = append(img.Attrs, Attr{Key: key, Value: value})
		}
	}

	if img.ID == "" {
		return Image{}, fmt.Errorf("image entry missing %q key", keyImage)
	}
	return img, nil
}

// Slugify derives a stable page path component from a title.
func Slugify(title string) string {
	var b strings.Builder
	lastDash := true
	for _, r := range strings.ToLower(title) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastDash = false
		default:
			if !lastDash {
				b.WriteByte('-')
				lastDash = true
			}
		}
	}
	return strings.TrimRight(b.String(), "-")
}

package manifest

import (
	"testing"
)

func TestParse(t *testing.T) {
	data := []byte(`
- title: Iceland 2024
  images:
    - image: iceland/sunset.jpg
      title: Sunset
      description: Long exposure at the black beach.
      camera: X100V
      aperture: f/8
    - image: iceland/glacier.jpg
- title: Empty Page
  images: []
- slug: city-nights
  images:
    - city/neon.jpg
`)

	pages, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if len(pages) != 2 {
		t.Fatalf("expected 2 pages (empty page dropped), got %d", len(pages))
	}

	first := pages[0]
	if first.PagePath != "iceland-2024" {
		t.Errorf("PagePath = %q, want iceland-2024", first.PagePath)
	}
	if len(first.Images) != 2 {
		t.Fatalf("expected 2 images, got %d", len(first.Images))
	}

	sunset := first.Images[0]
	if sunset.ID != "iceland/sunset.jpg" {
		t.Errorf("ID = %q", sunset.ID)
	}
	if sunset.Title != "Sunset" {
		t.Errorf("Title = %q", sunset.Title)
	}
	if len(sunset.Attrs) != 2 {
		t.Fatalf("expected 2 attrs, got %d", len(sunset.Attrs))
	}
	// Attribute order must follow the document order.
	if sunset.Attrs[0].Key != "camera" || sunset.Attrs[1].Key != "aperture" {
		t.Errorf("attrs out of order: %+v", sunset.Attrs)
	}

	second := pages[1]
	if second.PagePath != "city-nights" {
		t.Errorf("PagePath = %q, want city-nights", second.PagePath)
	}
	if second.Images[0].ID != "city/neon.jpg" {
		t.Errorf("shorthand image id = %q", second.Images[0].ID)
	}
}

func TestParseDuplicateImageID(t *testing.T) {
	data := []byte(`
- title: Dupes
  images:
    - image: a.jpg
    - image: a.jpg
`)
	if _, err := Parse(data); err == nil {
		t.Fatal("expected error for duplicate image id")
	}
}

func TestParseMissingImageKey(t *testing.T) {
	data := []byte(`
- title: Broken
  images:
    - title: No path
`)
	if _, err := Parse(data); err == nil {
		t.Fatal("expected error for image entry without path")
	}
}

func TestSlugify(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Iceland 2024", "iceland-2024"},
		{"  Hello,  World!  ", "hello-world"},
		{"already-slugged", "already-slugged"},
		{"Ünïcode Tïtle", "n-code-t-tle"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := Slugify(tt.in); got != tt.want {
				t.Errorf("Slugify(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

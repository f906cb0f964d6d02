package extract

import (
	"fmt"

	"github.com/andybalholm/cascadia"
)

// Selectors describe where the target site keeps its content. They are
// configuration, so a layout change on the site is a config edit.
type Selectors struct {
	Image        string   `yaml:"image"`
	EntryLink    string   `yaml:"entry_link"`
	Caption      string   `yaml:"caption"`
	ImageAttrs   []string `yaml:"image_attrs"`
	SearchResult string   `yaml:"search_result"`
}

func DefaultSelectors() Selectors {
	return Selectors{
		Image:        `img[loading="lazy"][decoding="async"].alignnone`,
		EntryLink:    `h3 > a[href], a[href]:has(h3)`,
		Caption:      `span[style="color: #ff6600;"]`,
		ImageAttrs:   []string{"src", "data-src", "data-lazy-src", "srcset"},
		SearchResult: `a[rel="bookmark"]`,
	}
}

// WithDefaults fills every empty field from DefaultSelectors.
func (s Selectors) WithDefaults() Selectors {
	d := DefaultSelectors()
	if s.Image == "" {
		s.Image = d.Image
	}
	if s.EntryLink == "" {
		s.EntryLink = d.EntryLink
	}
	if s.Caption == "" {
		s.Caption = d.Caption
	}
	if len(s.ImageAttrs) == 0 {
		s.ImageAttrs = d.ImageAttrs
	}
	if s.SearchResult == "" {
		s.SearchResult = d.SearchResult
	}
	return s
}

// ValidateSelectors compiles every selector so a typo in the config fails
// at startup instead of silently matching nothing.
func ValidateSelectors(s Selectors) error {
	for _, f := range []struct{ name, sel string }{
		{"image", s.Image},
		{"entry_link", s.EntryLink},
		{"caption", s.Caption},
		{"search_result", s.SearchResult},
	} {
		if f.sel == "" {
			return fmt.Errorf("selector %s is empty", f.name)
		}
		if _, err := cascadia.ParseGroup(f.sel); err != nil {
			return fmt.Errorf("selector %s (%q): %w", f.name, f.sel, err)
		}
	}

	if len(s.ImageAttrs) == 0 {
		return fmt.Errorf("selector image_attrs is empty")
	}

	return nil
}

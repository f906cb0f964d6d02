package extract

import "sync"

// ImageRecord is one cover. ImageURL is its identity; LinkURL may be empty.
type ImageRecord struct {
	ImageURL string
	LinkURL  string
}

// CaptionIndex maps a link URL to every caption seen for it, in insertion
// order. Captions accumulate across passes and are never overwritten.
type CaptionIndex map[string][]string

func (c CaptionIndex) Add(link, caption string) {
	c[link] = append(c[link], caption)
}

func (c CaptionIndex) Merge(delta CaptionIndex) {
	for link, caps := range delta {
		c[link] = append(c[link], caps...)
	}
}

// First returns the earliest caption recorded for link.
func (c CaptionIndex) First(link string) string {
	if caps := c[link]; len(caps) > 0 {
		return caps[0]
	}
	return ""
}

// SeenSet holds every image URL already merged into the working list.
type SeenSet struct {
	mu   sync.Mutex
	urls map[string]struct{}
}

func NewSeenSet() *SeenSet {
	return &SeenSet{urls: make(map[string]struct{})}
}

func (s *SeenSet) Has(u string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.urls[u]
	return ok
}

// Add records u and reports whether it was new.
func (s *SeenSet) Add(u string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.urls[u]; ok {
		return false
	}
	s.urls[u] = struct{}{}
	return true
}

func (s *SeenSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.urls)
}

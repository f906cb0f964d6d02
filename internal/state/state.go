// Package state holds everything one browsing session knows: the working
// image list, the seen set, captions, the batch cursor and the guard flags
// that keep loads, searches and the panel from stepping on each other.
package state

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/brogergvhs/coverd/internal/extract"
)

// Flag is a guard taken before an operation starts and released in a defer.
type Flag struct {
	v atomic.Bool
}

// TryAcquire sets the flag and reports whether it was previously clear.
func (f *Flag) TryAcquire() bool { return f.v.CompareAndSwap(false, true) }

func (f *Flag) Release() { f.v.Store(false) }

func (f *Flag) Active() bool { return f.v.Load() }

func (f *Flag) Set(on bool) { f.v.Store(on) }

// Toggle flips the flag and returns the new value.
func (f *Flag) Toggle() bool {
	for {
		old := f.v.Load()
		if f.v.CompareAndSwap(old, !old) {
			return !old
		}
	}
}

// ErrStale is returned by the commit methods once the generation they were
// given has been replaced.
var ErrStale = errors.New("list replaced")

type Session struct {
	Loading   Flag
	Searching Flag
	Panel     Flag

	mu       sync.Mutex
	images   []extract.ImageRecord
	captions extract.CaptionIndex
	seen     *extract.SeenSet
	cursor   int
	gen      uint64
}

func New() *Session {
	return &Session{
		captions: extract.CaptionIndex{},
		seen:     extract.NewSeenSet(),
	}
}

func (s *Session) Seen() *extract.SeenSet { return s.seen }

// Merge appends freshly extracted records to the working list and folds
// their captions into the index.
func (s *Session) Merge(records []extract.ImageRecord, captions extract.CaptionIndex) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.images = append(s.images, records...)
	s.captions.Merge(captions)
}

// Replace swaps the working list wholesale. The cursor returns to zero and
// the generation moves on so batches started against the old list are
// discarded.
func (s *Session) Replace(records []extract.ImageRecord, captions extract.CaptionIndex) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.images = append([]extract.ImageRecord(nil), records...)
	s.captions.Merge(captions)
	s.cursor = 0
	s.gen++

	return s.gen
}

func (s *Session) Images() []extract.ImageRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]extract.ImageRecord(nil), s.images...)
}

func (s *Session) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.images)
}

func (s *Session) Cursor() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursor
}

func (s *Session) Generation() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen
}

func (s *Session) Caption(link string) string {
	if link == "" {
		return ""
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.captions.First(link)
}

func (s *Session) Captions(link string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.captions[link]...)
}

// Window returns the records of the batch at the cursor, its start offset
// and the generation it belongs to. ok is false once the list is exhausted.
func (s *Session) Window(batchSize int) (records []extract.ImageRecord, start int, gen uint64, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	start = s.cursor * batchSize
	if start >= len(s.images) {
		return nil, start, s.gen, false
	}

	end := min(start+batchSize, len(s.images))
	return append([]extract.ImageRecord(nil), s.images[start:end]...), start, s.gen, true
}

// CommitBatch runs apply and moves the cursor one batch forward. Both
// happen under the session lock, so a Replace lands either before the
// check or after the cursor moved. apply must not call back into s.
func (s *Session) CommitBatch(gen uint64, apply func() error) error {
	return s.commit(gen, apply, func() { s.cursor++ })
}

// CommitAll is CommitBatch for callers that render the whole list at once:
// the cursor moves past the end.
func (s *Session) CommitAll(gen uint64, batchSize int, apply func() error) error {
	if batchSize < 1 {
		batchSize = 1
	}
	return s.commit(gen, apply, func() {
		s.cursor = (len(s.images) + batchSize - 1) / batchSize
	})
}

func (s *Session) commit(gen uint64, apply func() error, advance func()) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if gen != s.gen {
		return ErrStale
	}
	if apply != nil {
		if err := apply(); err != nil {
			return err
		}
	}
	advance()
	return nil
}

// Exhausted reports whether every batch of the current list was rendered.
func (s *Session) Exhausted(batchSize int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursor*batchSize >= len(s.images)
}

func (s *Session) Current(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return gen == s.gen
}

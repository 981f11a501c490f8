package breakpoint

import "sync"

type fitKey struct {
	SubjectID string
	Channel   string
	Degree    int
}

// FitCache memoises trend fits per (subject, channel, degree). A cache is
// owned by a single analysis run and dropped with it; it is safe for the
// concurrent per-subject workers of that run. A nil *FitCache disables
// caching.
type FitCache struct {
	mu     sync.Mutex
	fits   map[fitKey]*PolyFit
	hits   int
	misses int
}

// NewFitCache returns an empty cache.
func NewFitCache() *FitCache {
	return &FitCache{fits: make(map[fitKey]*PolyFit)}
}

// Get returns the cached fit, if any.
func (c *FitCache) Get(subjectID, channel string, degree int) (*PolyFit, bool) {
	if c == nil {
		return nil, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	f, ok := c.fits[fitKey{subjectID, channel, degree}]
	if ok {
		c.hits++
	} else {
		c.misses++
	}
	return f, ok
}

// Put stores a fit. Existing entries are never replaced.
func (c *FitCache) Put(subjectID, channel string, f *PolyFit) {
	if c == nil || f == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	k := fitKey{subjectID, channel, f.Degree}
	if _, ok := c.fits[k]; !ok {
		c.fits[k] = f
	}
}

// Len returns the number of cached fits.
func (c *FitCache) Len() int {
	if c == nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.fits)
}

// Stats returns the hit and miss counters.
func (c *FitCache) Stats() (hits, misses int) {
	if c == nil {
		return 0, 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses
}

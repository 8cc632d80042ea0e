package sid

import (
	"fmt"
	"net/url"
	"sync"
)

// Location is the visible address of the embedding page.
type Location interface {
	URL() *url.URL
	// Replace swaps the current history entry for u without navigating and
	// without growing the history stack.
	Replace(u *url.URL)
}

// AddressBar is an in-memory Location with a history stack. The local bridge
// uses it to model the page address handed over on startup.
type AddressBar struct {
	mu      sync.RWMutex
	entries []*url.URL
}

// NewAddressBar creates an address bar showing raw.
func NewAddressBar(raw string) (*AddressBar, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parsing address %q: %w", raw, err)
	}
	return &AddressBar{entries: []*url.URL{u}}, nil
}

// URL returns a copy of the current address.
func (a *AddressBar) URL() *url.URL {
	a.mu.RLock()
	defer a.mu.RUnlock()
	u := *a.entries[len(a.entries)-1]
	return &u
}

// Replace swaps the current entry.
func (a *AddressBar) Replace(u *url.URL) {
	a.mu.Lock()
	defer a.mu.Unlock()
	cp := *u
	a.entries[len(a.entries)-1] = &cp
}

// Push navigates to u, adding a history entry.
func (a *AddressBar) Push(u *url.URL) {
	a.mu.Lock()
	defer a.mu.Unlock()
	cp := *u
	a.entries = append(a.entries, &cp)
}

// Len returns the history length.
func (a *AddressBar) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.entries)
}

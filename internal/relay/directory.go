package relay

import "sync"

// Directory maps identity keys to the connection ref of the identity's
// currently open session, if any. It is owned by the service runtime and
// injected into everything that resolves identities; writes are serialized
// by a single mutex and rebinding follows last-connect-wins.
type Directory struct {
	mu       sync.RWMutex
	bindings map[string]string
}

// NewDirectory creates an empty directory.
func NewDirectory() *Directory {
	return &Directory{bindings: make(map[string]string)}
}

// Bind records ref as the live connection for key, overwriting any prior
// binding. Rebinding is never an error.
func (d *Directory) Bind(key, ref string) {
	d.mu.Lock()
	d.bindings[key] = ref
	d.mu.Unlock()
}

// Unbind clears the binding for key unconditionally.
func (d *Directory) Unbind(key string) {
	d.mu.Lock()
	delete(d.bindings, key)
	d.mu.Unlock()
}

// UnbindRef clears the binding for key only if it still points at ref, and
// reports whether it did. Disconnect paths use this so a stale connection
// tearing down cannot clobber a newer binding for the same identity.
func (d *Directory) UnbindRef(key, ref string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.bindings[key] != ref {
		return false
	}
	delete(d.bindings, key)
	return true
}

// Resolve returns the connection ref bound to key. A missing binding means
// the identity is offline, not an error.
func (d *Directory) Resolve(key string) (string, bool) {
	d.mu.RLock()
	ref, ok := d.bindings[key]
	d.mu.RUnlock()
	if ref == "" {
		return "", false
	}
	return ref, ok
}

// Package directory implements the RoutingName -> RoutingPublic lookup a
// client builder's World consults (the node router rejects Contact and
// Greeting commands without a lookup): an in-memory map for tests and small
// deployments, and a
// goleveldb-backed adapter for a long-running node that needs its
// directory to survive a restart. Dissemination (how a certificate gets
// from an issuer to a directory) is out of scope; both implementations are
// passive stores.
package directory

import (
	"sync"

	"github.com/syndtr/goleveldb/leveldb"

	"github.com/xolotlmix/xolotl/keys"
	"github.com/xolotlmix/xolotl/xerr"
)

// MemDirectory is an in-memory RoutingName -> RoutingPublic map, safe for
// concurrent use.
type MemDirectory struct {
	mu sync.RWMutex
	m  map[keys.RoutingName]keys.RoutingPublic
}

// NewMemDirectory returns an empty MemDirectory.
func NewMemDirectory() *MemDirectory {
	return &MemDirectory{m: make(map[keys.RoutingName]keys.RoutingPublic)}
}

// Lookup returns the routing certificate published under name.
func (d *MemDirectory) Lookup(name keys.RoutingName) (keys.RoutingPublic, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	rp, ok := d.m[name]
	if !ok {
		return keys.RoutingPublic{}, xerr.Internal("directory: no certificate for routing name")
	}
	return rp, nil
}

// Publish records rp under its own derived RoutingName, verifying the
// issuer's signature first; an unverifiable certificate is never stored.
func (d *MemDirectory) Publish(rp keys.RoutingPublic, variant keys.RoutingNameVariant) error {
	if !rp.Verify() {
		return xerr.Internal("directory: certificate signature does not verify")
	}
	name := keys.RoutingNameOf(rp, variant)
	d.mu.Lock()
	defer d.mu.Unlock()
	d.m[name] = rp
	return nil
}

// Remove deletes any certificate published under name.
func (d *MemDirectory) Remove(name keys.RoutingName) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.m, name)
}

// LevelDirectory is a goleveldb-backed RoutingName -> RoutingPublic store,
// for a node whose directory should outlive a process restart. Certificates
// are stored as their 144-byte wire encoding; leveldb's own write path
// serializes concurrent access, so no additional lock is held here.
type LevelDirectory struct {
	db *leveldb.DB
}

// OpenLevelDirectory opens (creating if absent) a goleveldb database at path
// as a LevelDirectory.
func OpenLevelDirectory(path string) (*LevelDirectory, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, xerr.Internal("directory: opening leveldb at %s: %v", path, err)
	}
	return &LevelDirectory{db: db}, nil
}

// Close releases the underlying database handle.
func (d *LevelDirectory) Close() error {
	return d.db.Close()
}

// Lookup returns the routing certificate published under name.
func (d *LevelDirectory) Lookup(name keys.RoutingName) (keys.RoutingPublic, error) {
	v, err := d.db.Get(name[:], nil)
	if err == leveldb.ErrNotFound {
		return keys.RoutingPublic{}, xerr.Internal("directory: no certificate for routing name")
	}
	if err != nil {
		return keys.RoutingPublic{}, xerr.Internal("directory: leveldb get: %v", err)
	}
	if len(v) != keys.RoutingPublicLength {
		return keys.RoutingPublic{}, xerr.Internal("directory: corrupt record length %d", len(v))
	}
	var b [keys.RoutingPublicLength]byte
	copy(b[:], v)
	return keys.RoutingPublicFromBytes(b), nil
}

// Publish verifies rp's signature and writes it under its own derived
// RoutingName.
func (d *LevelDirectory) Publish(rp keys.RoutingPublic, variant keys.RoutingNameVariant) error {
	if !rp.Verify() {
		return xerr.Internal("directory: certificate signature does not verify")
	}
	name := keys.RoutingNameOf(rp, variant)
	b := rp.Bytes()
	if err := d.db.Put(name[:], b[:], nil); err != nil {
		return xerr.Internal("directory: leveldb put: %v", err)
	}
	return nil
}

// Remove deletes any certificate published under name.
func (d *LevelDirectory) Remove(name keys.RoutingName) error {
	if err := d.db.Delete(name[:], nil); err != nil {
		return xerr.Internal("directory: leveldb delete: %v", err)
	}
	return nil
}

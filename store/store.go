// Package store provides a goleveldb-backed implementation of the ratchet
// package's Storage interfaces, so a node's branch/parent/twig maps can
// survive a restart. Every record is sealed before it touches disk with
// treewrap, the teacher's own tree-parallel AEAD, keyed by a wrapping key
// local to the node — the one place in this repository the tag-appending
// primitive gets used for what it is (an AEAD over short records) rather
// than as a stream or a body cipher, since it cannot serve as Lioness's
// length-preserving wide-block transform.
package store

import (
	"crypto/subtle"
	"fmt"

	"github.com/syndtr/goleveldb/leveldb"

	"github.com/xolotlmix/xolotl/hazmat/transcript"
	"github.com/xolotlmix/xolotl/hazmat/treewrap"
	"github.com/xolotlmix/xolotl/ratchet"
	"github.com/xolotlmix/xolotl/xerr"
)

// WrappingKeySize is the size of the node-local key every sealed record is
// encrypted under.
const WrappingKeySize = treewrap.KeySize

// seal encrypts plaintext under key, returning ciphertext ∥ tag ready to
// write to leveldb. The key must be unique per (table, record-key) pair;
// callers derive it by mixing the wrapping key with the record's own
// address, so no two records ever reuse a key even though they share one
// node-local secret.
func seal(key *[WrappingKeySize]byte, plaintext []byte) []byte {
	ct, tag := treewrap.EncryptAndMAC(nil, key, plaintext)
	return append(ct, tag[:]...)
}

// unseal reverses seal, failing with a corrupt-record error if the trailing
// tag does not match.
func unseal(key *[WrappingKeySize]byte, sealed []byte) ([]byte, error) {
	if len(sealed) < treewrap.TagSize {
		return nil, xerr.Internal("store: sealed record too short")
	}
	ct := sealed[:len(sealed)-treewrap.TagSize]
	var wantTag [treewrap.TagSize]byte
	copy(wantTag[:], sealed[len(sealed)-treewrap.TagSize:])

	pt, gotTag := treewrap.DecryptAndMAC(nil, key, ct)
	if subtle.ConstantTimeCompare(wantTag[:], gotTag[:]) != 1 {
		return nil, xerr.Internal("store: sealed record failed authentication")
	}
	return pt, nil
}

// recordKey derives the unique per-record key the wrapping key is diluted
// into, by hashing the wrapping key together with the record's own address
// bytes — record addresses never repeat within a table, so neither does
// this key.
func recordKey(wrapping *[WrappingKeySize]byte, table byte, addr []byte) *[WrappingKeySize]byte {
	e := transcript.New("store/record-key")
	e.Mix("wrapping-key", wrapping[:])
	e.Mix("table", []byte{table})
	e.Mix("addr", addr)
	out := e.Derive("record-key", WrappingKeySize)
	var k [WrappingKeySize]byte
	copy(k[:], out)
	return &k
}

func encodeBranchId(id ratchet.BranchId) [18]byte {
	var b [18]byte
	copy(b[0:16], id.Family[:])
	fb := id.Berry.ToBytes()
	copy(b[16:18], fb[:])
	return b
}

func encodeTwigId(id ratchet.TwigId) [20]byte {
	var b [20]byte
	bid := encodeBranchId(id.Branch)
	copy(b[0:18], bid[:])
	ib := id.Idx.ToBytes()
	copy(b[18:20], ib[:])
	return b
}

const (
	tableBranch byte = 1
	tableParent byte = 2
	tableTwig   byte = 3
)

// BranchStorage is a goleveldb-backed ratchet.BranchStorage.
type BranchStorage struct {
	db       *leveldb.DB
	wrapping [WrappingKeySize]byte
}

// NewBranchStorage wraps db as a BranchStorage sealed under wrapping.
func NewBranchStorage(db *leveldb.DB, wrapping [WrappingKeySize]byte) *BranchStorage {
	return &BranchStorage{db: db, wrapping: wrapping}
}

func (s *BranchStorage) Get(id ratchet.BranchId) (ratchet.Branch, bool) {
	addr := encodeBranchId(id)
	key := append([]byte{tableBranch}, addr[:]...)
	v, err := s.db.Get(key, nil)
	if err != nil {
		return ratchet.Branch{}, false
	}
	pt, err := unseal(recordKey(&s.wrapping, tableBranch, addr[:]), v)
	if err != nil || len(pt) != 34 {
		return ratchet.Branch{}, false
	}
	var b ratchet.Branch
	copy(b.Extra[:], pt[0:32])
	var ib [2]byte
	copy(ib[:], pt[32:34])
	b.Chain = ratchet.TwigIdxFromBytes(ib)
	return b, true
}

func (s *BranchStorage) Insert(id ratchet.BranchId, b ratchet.Branch) {
	addr := encodeBranchId(id)
	pt := make([]byte, 0, 34)
	pt = append(pt, b.Extra[:]...)
	ib := b.Chain.ToBytes()
	pt = append(pt, ib[:]...)

	key := append([]byte{tableBranch}, addr[:]...)
	sealed := seal(recordKey(&s.wrapping, tableBranch, addr[:]), pt)
	if err := s.db.Put(key, sealed, nil); err != nil {
		panic(fmt.Sprintf("store: branch put failed: %v", err))
	}
}

// ParentStorage is a goleveldb-backed ratchet.ParentStorage.
type ParentStorage struct {
	db       *leveldb.DB
	wrapping [WrappingKeySize]byte
}

// NewParentStorage wraps db as a ParentStorage sealed under wrapping.
func NewParentStorage(db *leveldb.DB, wrapping [WrappingKeySize]byte) *ParentStorage {
	return &ParentStorage{db: db, wrapping: wrapping}
}

func (s *ParentStorage) Get(name ratchet.BranchName) (ratchet.BranchId, bool) {
	key := append([]byte{tableParent}, name[:]...)
	v, err := s.db.Get(key, nil)
	if err != nil {
		return ratchet.BranchId{}, false
	}
	pt, err := unseal(recordKey(&s.wrapping, tableParent, name[:]), v)
	if err != nil || len(pt) != 18 {
		return ratchet.BranchId{}, false
	}
	var family ratchet.BranchName
	copy(family[:], pt[0:16])
	var ib [2]byte
	copy(ib[:], pt[16:18])
	return ratchet.BranchId{Family: family, Berry: ratchet.TwigIdxFromBytes(ib)}, true
}

func (s *ParentStorage) Insert(name ratchet.BranchName, id ratchet.BranchId) {
	addr := encodeBranchId(id)
	pt := addr[:]

	key := append([]byte{tableParent}, name[:]...)
	sealed := seal(recordKey(&s.wrapping, tableParent, name[:]), pt)
	if err := s.db.Put(key, sealed, nil); err != nil {
		panic(fmt.Sprintf("store: parent put failed: %v", err))
	}
}

// TwigStorage is a goleveldb-backed ratchet.TwigStorage.
type TwigStorage struct {
	db       *leveldb.DB
	wrapping [WrappingKeySize]byte
}

// NewTwigStorage wraps db as a TwigStorage sealed under wrapping.
func NewTwigStorage(db *leveldb.DB, wrapping [WrappingKeySize]byte) *TwigStorage {
	return &TwigStorage{db: db, wrapping: wrapping}
}

func (s *TwigStorage) Get(id ratchet.TwigId) (ratchet.TwigKey, bool) {
	addr := encodeTwigId(id)
	key := append([]byte{tableTwig}, addr[:]...)
	v, err := s.db.Get(key, nil)
	if err != nil {
		return ratchet.TwigKey{}, false
	}
	pt, err := unseal(recordKey(&s.wrapping, tableTwig, addr[:]), v)
	if err != nil || len(pt) != ratchet.TwigKeySize {
		return ratchet.TwigKey{}, false
	}
	var k ratchet.TwigKey
	copy(k[:], pt)
	return k, true
}

func (s *TwigStorage) Insert(id ratchet.TwigId, k ratchet.TwigKey) {
	addr := encodeTwigId(id)
	key := append([]byte{tableTwig}, addr[:]...)
	sealed := seal(recordKey(&s.wrapping, tableTwig, addr[:]), k[:])
	if err := s.db.Put(key, sealed, nil); err != nil {
		panic(fmt.Sprintf("store: twig put failed: %v", err))
	}
}

func (s *TwigStorage) Remove(id ratchet.TwigId) {
	addr := encodeTwigId(id)
	key := append([]byte{tableTwig}, addr[:]...)
	if err := s.db.Delete(key, nil); err != nil {
		panic(fmt.Sprintf("store: twig delete failed: %v", err))
	}
}

// OpenState opens a goleveldb database at path and returns a ratchet.State
// backed by it, all three maps sharing one database and one wrapping key
// (each record's actual encryption key is still diluted with its own
// address, so the sharing never reuses a key).
func OpenState(path string, wrapping [WrappingKeySize]byte) (*ratchet.State, *leveldb.DB, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, nil, xerr.Internal("store: opening leveldb at %s: %v", path, err)
	}
	st := ratchet.NewStateWith(
		NewBranchStorage(db, wrapping),
		NewParentStorage(db, wrapping),
		NewTwigStorage(db, wrapping),
	)
	return st, db, nil
}

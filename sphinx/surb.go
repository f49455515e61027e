package sphinx

import (
	"crypto/cipher"
	"sync"

	"golang.org/x/crypto/chacha20"

	"github.com/xolotlmix/xolotl/config"
	"github.com/xolotlmix/xolotl/hazmat/lioness"
	"github.com/xolotlmix/xolotl/internal/mem"
	"github.com/xolotlmix/xolotl/ratchet"
	"github.com/xolotlmix/xolotl/xerr"
)

// SURBHopKey is one hop's unwinding material, recorded by the client
// builder at construction time and replayed in reverse on arrival.
type SURBHopKey struct {
	Nonce      [12]byte
	Key        [32]byte
	BerryTwig  *ratchet.TwigId
}

// DeliverySURB is everything needed to unwind a single-use reply block:
// the protocol identity it was built for, an opaque metadata tag chosen by
// the application, and the ordered hop keys the matching forward SURB will
// traverse.
type DeliverySURB struct {
	ProtocolID uint16
	Metadata   []byte
	Hops       []SURBHopKey
}

// ArrivalSURBStore and DeliverySURBStore are the two maps, keyed by
// PacketName, that an originator maintains between constructing a SURB and
// the moment a reply carrying it arrives.
type ArrivalSURBStore struct {
	mu sync.Mutex
	m  map[[16]byte][16]byte
}

func NewArrivalSURBStore() *ArrivalSURBStore {
	return &ArrivalSURBStore{m: make(map[[16]byte][16]byte)}
}

// Put records that arrival packet name -> deliveryName.
func (s *ArrivalSURBStore) Put(packetName, deliveryName [16]byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[packetName] = deliveryName
}

// TakeDeliveryName atomically removes and returns the delivery name for
// packetName, failing with BadPacketName if absent.
func (s *ArrivalSURBStore) TakeDeliveryName(packetName [16]byte) ([16]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	dn, ok := s.m[packetName]
	if !ok {
		return [16]byte{}, xerr.ErrBadPacketName
	}
	delete(s.m, packetName)
	return dn, nil
}

type DeliverySURBStore struct {
	mu sync.Mutex
	m  map[[16]byte]DeliverySURB
}

func NewDeliverySURBStore() *DeliverySURBStore {
	return &DeliverySURBStore{m: make(map[[16]byte]DeliverySURB)}
}

// Put records the hop chain for deliveryName.
func (s *DeliverySURBStore) Put(deliveryName [16]byte, d DeliverySURB) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[deliveryName] = d
}

// TakeEntry atomically removes and returns the delivery entry for
// deliveryName, failing with BadPacketName if absent.
func (s *DeliverySURBStore) TakeEntry(deliveryName [16]byte) (DeliverySURB, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.m[deliveryName]
	if !ok {
		return DeliverySURB{}, xerr.ErrBadPacketName
	}
	delete(s.m, deliveryName)
	return d, nil
}

// UnwoundArrival is the plaintext result of unwinding a chain of SURBs: each
// chained reply contributes one metadata entry, in the order encountered.
type UnwoundArrival struct {
	Metadata [][]byte
	Body     []byte
}

// Unwind consumes the arrival packet named by decision.PacketName: it walks
// the delivery chain starting from the recorded delivery name, and for each
// recorded hop (innermost first, so iterated in reverse of construction
// order) re-derives that hop's stream and re-encrypts the body and the
// surb-log exactly as the hop itself would have on the way out, undoing the
// accumulated onion peeling. It continues to the next chained SURB, if any,
// by reading a further PacketName off the front of the unwound surb-log,
// until it reads sixteen zero bytes or the delivery store has no entry for
// the name read.
//
// Ratchet berries attached to a hop for an advance-on-return are deleted
// eagerly from state's twig storage as each hop unwinds, rather than
// batched; no branch lock is taken for the removal.
func Unwind(arrivals *ArrivalSURBStore, deliveries *DeliverySURBStore, state *ratchet.State, p config.Params, decision *ArrivalSURBDecision) (*UnwoundArrival, error) {
	deliveryName, err := arrivals.TakeDeliveryName(decision.PacketName)
	if err != nil {
		return nil, err
	}

	hdr, err := WrapHeader(decision.Header, p)
	if err != nil {
		return nil, err
	}
	body := decision.Body

	out := &UnwoundArrival{}

	first := true
	for {
		entry, err := deliveries.TakeEntry(deliveryName)
		if err != nil {
			if first {
				return nil, err
			}
			break
		}
		first = false
		out.Metadata = append(out.Metadata, entry.Metadata)

		for i := len(entry.Hops) - 1; i >= 0; i-- {
			hop := entry.Hops[i]

			mask, bodyKey, err := unwindHopMasks(hop, p)
			if err != nil {
				return nil, err
			}

			mem.XORInPlace(hdr.SURBLog(), mask)
			if err := lioness.Encrypt(&bodyKey, body); err != nil {
				return nil, err
			}

			if hop.BerryTwig != nil {
				state.Twigs.Remove(*hop.BerryTwig)
			}
		}

		var next [16]byte
		copy(next[:], hdr.SURBLog()[:16])
		if next == ([16]byte{}) {
			break
		}
		deliveryName = next
	}

	out.Body = body
	return out, nil
}

// unwindHopMasks re-derives the surb-log mask and body key a recorded hop
// used, directly from its stored ChaCha20 nonce/key rather than the full
// hop-keying derivation. The stream is the same one DeriveHopKeyingWithSeed
// expands and partitions as
// [64-byte preamble][BetaMask][BetaTailMask][SURBLogMask][BodyKey]…, so the
// surb-log mask and body key only begin after skipping the preamble, beta
// mask and beta-tail mask regions a node's own forward-path derivation
// consumes first.
func unwindHopMasks(hop SURBHopKey, p config.Params) ([]byte, [lionessKeySize]byte, error) {
	skip := 64 + p.BetaLength + p.MaxBetaTailLength
	total := skip + p.SURBLogLength + lionessKeySize

	stream, err := newChaChaStream(hop.Key, hop.Nonce)
	if err != nil {
		return nil, [lionessKeySize]byte{}, err
	}

	buf := make([]byte, total)
	stream.XORKeyStream(buf, buf)

	mask := buf[skip : skip+p.SURBLogLength]
	var bodyKey [lionessKeySize]byte
	copy(bodyKey[:], buf[skip+p.SURBLogLength:])
	return mask, bodyKey, nil
}

// newChaChaStream constructs the IETF ChaCha20 stream a SURB hop key names,
// matching the construction side's partition of a hop's keying material so
// the unwinder can reproduce the same masks and body key without re-running
// the full hop-keying derivation (it no longer has the shared secret, only
// what the builder chose to keep).
func newChaChaStream(key [32]byte, nonce [12]byte) (cipher.Stream, error) {
	return chacha20.NewUnauthenticatedCipher(key[:], nonce[:])
}

package sphinx

import (
	"crypto/rand"
	"time"

	"github.com/gtank/ristretto255"

	"github.com/xolotlmix/xolotl/config"
	"github.com/xolotlmix/xolotl/hazmat/lioness"
	"github.com/xolotlmix/xolotl/internal/mem"
	"github.com/xolotlmix/xolotl/keys"
	"github.com/xolotlmix/xolotl/primitives"
	"github.com/xolotlmix/xolotl/ratchet"
	"github.com/xolotlmix/xolotl/xerr"
)

// Directory resolves a mix node's current routing certificate by name, the
// only thing the client builder needs from a directory service.
type Directory interface {
	Lookup(name keys.RoutingName) (keys.RoutingPublic, error)
}

// World bundles a directory reader with the ratchet states the builder may
// need to advance, one per issuer it holds correspondence with.
type World struct {
	Directory Directory
	Ratchets  map[keys.IssuerPublicKey]*ratchet.State
}

// RatchetState looks up the ratchet state for issuer, failing with
// IssuerHasNoRatchet if this World holds no correspondence with them.
func (w *World) RatchetState(issuer keys.IssuerPublicKey) (*ratchet.State, error) {
	st, ok := w.Ratchets[issuer]
	if !ok {
		return nil, xerr.ErrIssuerHasNoRatchet
	}
	return st, nil
}

// Orientation classifies what a finished PreHeader is for.
type Orientation int

const (
	OrientationSend Orientation = iota
	OrientationSURB
	OrientationSendAndSURB
)

// PreHeader is the fully-assembled first hop of an onion header, ready to
// be combined with a body and handed to a transport.
type PreHeader struct {
	Validity keys.ValidityPeriod
	First    keys.RoutingName
	Alpha    primitives.Alpha
	Gamma    [gammaSize]byte
	Beta     []byte
}

// BodyCipher encrypts (or decrypts, since Lioness is an involution of key
// schedule but not of direction) an outgoing body with one hop's key, in
// the order the hops were added.
type BodyCipher struct {
	Key [lionessKeySize]byte
}

// Encrypt applies this hop's Lioness transform to body in place, in
// sending direction (outermost hop last, i.e. callers apply the cipher
// list in reverse-add order to wrap the body once per hop).
func (c BodyCipher) Encrypt(body []byte) error {
	return lioness.Encrypt(&c.Key, body)
}

// pendingCommand is one queued-but-not-yet-written command, paired with the
// index of the cipher whose hop owns this onion layer. A ratchet subhop's
// terminal command shares its cipher with the preceding RatchetCommand,
// since the two are peeled in a single Process call; every other command
// is the sole occupant of its own cipher's layer.
type pendingCommand struct {
	cmd       Command
	cipherIdx int
}

// cipherEntry is one hop's derived keying, retained until Done so its beta
// mask, beta-tail mask and MAC key can be folded into the finished header.
// ss is the Sphinx shared secret the hop's keying was derived from, kept
// only long enough for an immediately-following AddRatchetSubHop to click
// the issuer's ratchet against it; every other caller ignores it.
type cipherEntry struct {
	hk        *HopKeying
	nonce     [12]byte
	key       [32]byte
	ss        primitives.SphinxSecret
	berryTwig *ratchet.TwigId
}

// Scaffold is the mutable state of one header under construction: the
// running blinding scalar, accumulated delay and validity, the queued
// commands, the per-hop ciphers backing them, and the in-flight
// orientation. It is reusable across many Hoist-wrapped instruction groups.
type Scaffold struct {
	world  *World
	params config.Params
	rand   func([]byte) error

	scalar      *ristretto255.Scalar
	alpha       primitives.Alpha
	delay       time.Duration
	validity    keys.ValidityPeriod
	haveHop     bool

	commands []pendingCommand
	ciphers  []cipherEntry
	bodies   []int // indices into ciphers that own an encrypted body
	surbKeys []SURBHopKey

	orientation Orientation

	advances []*ratchet.Transaction

	first keys.RoutingName
}

// NewScaffold starts a fresh header construction rooted at the given
// world. scalar is the ephemeral per-packet private scalar.
func NewScaffold(world *World, params config.Params, scalar *ristretto255.Scalar) *Scaffold {
	return &Scaffold{
		world:    world,
		params:   params,
		rand:     readRandom,
		scalar:   scalar,
		alpha:    primitives.EncodeElement(ristretto255.NewElement().ScalarBaseMult(scalar)),
		validity: keys.ValidityPeriod{Start: 0, End: ^uint64(0)},
	}
}

func readRandom(b []byte) error {
	_, err := rand.Read(b)
	return err
}

// snapshot is the state a Hoist restores on rollback.
type snapshot struct {
	scalar      *ristretto255.Scalar
	alpha       primitives.Alpha
	delay       time.Duration
	validity    keys.ValidityPeriod
	haveHop     bool
	commandsLen int
	ciphersLen  int
	bodiesLen   int
	surbKeysLen int
	advancesLen int
	orientation Orientation
}

// Hoist snapshots a Scaffold so a group of instructions can be applied
// atomically: if the group fails partway, releasing the Hoist without
// Approve rolls every field back, including dropping (abandoning) any
// ratchet transactions opened during the group.
type Hoist struct {
	s        *Scaffold
	snap     snapshot
	approved bool
}

// BeginHoist snapshots s.
func BeginHoist(s *Scaffold) *Hoist {
	return &Hoist{s: s, snap: snapshot{
		scalar:      s.scalar,
		alpha:       s.alpha,
		delay:       s.delay,
		validity:    s.validity,
		haveHop:     s.haveHop,
		commandsLen: len(s.commands),
		ciphersLen:  len(s.ciphers),
		bodiesLen:   len(s.bodies),
		surbKeysLen: len(s.surbKeys),
		advancesLen: len(s.advances),
		orientation: s.orientation,
	}}
}

// Approve marks the group as successful; Release becomes a no-op.
func (h *Hoist) Approve() { h.approved = true }

// Release rolls the scaffold back to the snapshot unless Approve was
// called, abandoning any ratchet transactions opened since the snapshot.
func (h *Hoist) Release() {
	if h.approved {
		return
	}
	s := h.s

	for i := h.snap.advancesLen; i < len(s.advances); i++ {
		s.advances[i].Drop()
	}

	s.scalar = h.snap.scalar
	s.alpha = h.snap.alpha
	s.delay = h.snap.delay
	s.validity = h.snap.validity
	s.haveHop = h.snap.haveHop
	s.commands = s.commands[:h.snap.commandsLen]
	s.ciphers = s.ciphers[:h.snap.ciphersLen]
	s.bodies = s.bodies[:h.snap.bodiesLen]
	s.surbKeys = s.surbKeys[:h.snap.surbKeysLen]
	s.advances = s.advances[:h.snap.advancesLen]
	s.orientation = h.snap.orientation
}

// addCipher appends a cipherEntry derived at this hop and, depending on
// the scaffold's orientation, records its index as a body owner or keeps
// its raw (nonce,key) and optional berry twig for the SURB's hop list.
func (s *Scaffold) addCipher(hk *HopKeying, nonce [12]byte, key [32]byte, ss primitives.SphinxSecret, berryTwig *ratchet.TwigId) int {
	idx := len(s.ciphers)
	s.ciphers = append(s.ciphers, cipherEntry{hk: hk, nonce: nonce, key: key, ss: ss, berryTwig: berryTwig})

	switch s.orientation {
	case OrientationSend, OrientationSendAndSURB:
		s.bodies = append(s.bodies, idx)
	}
	if s.orientation == OrientationSURB || s.orientation == OrientationSendAndSURB {
		s.surbKeys = append(s.surbKeys, SURBHopKey{Nonce: nonce, Key: key, BerryTwig: berryTwig})
	}
	return idx
}

// AddHop adds a plain forwarding hop at routing name rn, looked up in the
// world's directory, folding the hop's blinding scalar into the running
// private scalar one step late so only the current alpha, never a vector
// of scalars, need be retained.
func (s *Scaffold) AddHop(rn keys.RoutingName) error {
	rp, err := s.world.Directory.Lookup(rn)
	if err != nil {
		return err
	}

	el, ok := primitives.DecodeElement(rp.Public)
	if !ok {
		return xerr.ErrBadAlpha
	}
	ss := primitives.DiffieHellman(s.scalar, el)

	hk, nonce, key, err := DeriveHopKeyingWithSeed(s.params, ss, rn)
	if err != nil {
		return err
	}

	if !s.haveHop {
		s.first = rn
		s.haveHop = true
	} else {
		s.scalar = ristretto255.NewScalar().Multiply(s.scalar, hk.BlindingScalar)
	}

	validity, ok := intersectShifted(s.validity, rp.Validity, s.delay)
	if !ok {
		return xerr.NewBadPacket("validity windows do not intersect", 0)
	}
	s.validity = validity
	s.delay += hk.Delay

	idx := s.addCipher(hk, nonce, key, ss, nil)
	s.commands = append(s.commands, pendingCommand{
		cmd:       TransmitCommand{Route: rn},
		cipherIdx: idx,
	})
	return nil
}

// AddRatchetSubHop appends a Ratchet command addressed at twig, pre-computed
// against issuer's ratchet state via a click, and opens (but does not
// commit) the advance transaction the eventual Done will confirm. It pops
// the previous Sphinx sub-hop's cipher entry so that only the most-derived
// key (the one produced by the ratchet click) ends up handling the body
// and surb-log for this hop.
func (s *Scaffold) AddRatchetSubHop(issuer keys.IssuerPublicKey, branch ratchet.BranchId, rn keys.RoutingName, target ratchet.TwigIdx) error {
	st, err := s.world.RatchetState(issuer)
	if err != nil {
		return err
	}

	if len(s.ciphers) == 0 {
		return xerr.Internal("ratchet sub-hop with no preceding sphinx hop")
	}
	prev := s.ciphers[len(s.ciphers)-1]
	ss := prev.ss

	tx, err := ratchet.BeginAdvance(st, branch)
	if err != nil {
		return err
	}
	s.advances = append(s.advances, tx)

	msgKey, err := ratchet.Clicks(tx, ss, target)
	if err != nil {
		return err
	}

	hk, nonce, key, err := DeriveHopKeyingWithSeed(s.params, primitives.SphinxSecret(msgKey), rn)
	if err != nil {
		return err
	}

	s.ciphers = s.ciphers[:len(s.ciphers)-1]
	if len(s.bodies) > 0 && s.bodies[len(s.bodies)-1] == len(s.ciphers) {
		s.bodies = s.bodies[:len(s.bodies)-1]
	}
	if len(s.surbKeys) > 0 {
		s.surbKeys = s.surbKeys[:len(s.surbKeys)-1]
	}
	if len(s.commands) > 0 {
		s.commands = s.commands[:len(s.commands)-1]
	}

	twigID := ratchet.TwigId{Branch: branch, Idx: target}
	idx := s.addCipher(hk, nonce, key, primitives.SphinxSecret(msgKey), &twigID)
	s.commands = append(s.commands, pendingCommand{
		cmd:       RatchetCommand{Twig: twigID},
		cipherIdx: idx,
	})
	return nil
}

// AddDeliver appends a terminal Deliver command to mailbox.
func (s *Scaffold) AddDeliver(mailbox MailboxName) error {
	return s.setTerminal(DeliverCommand{Mailbox: mailbox})
}

// AddArrivalDirect appends a terminal ArrivalDirect command.
func (s *Scaffold) AddArrivalDirect() error {
	return s.setTerminal(ArrivalDirectCommand{})
}

// AddArrivalSURB appends a terminal ArrivalSURB command.
func (s *Scaffold) AddArrivalSURB() error {
	return s.setTerminal(ArrivalSURBCommand{})
}

// AddCrossOver appends a terminal CrossOver command that splices pre, a
// SURB built separately by DoneForCrossOver, into this hop's onion layer.
// The hop carrying the CrossOver does not see pre's contents; it only
// forwards pre.Alpha, pre.Gamma and pre.Beta inline, exactly as the node
// router re-derives and re-verifies them after splicing (node.go's
// CrossOverCommand case). It also switches this scaffold's orientation to
// OrientationSendAndSURB, since a header crossing over into a SURB still
// carries an outgoing body through every hop up to the crossover point.
func (s *Scaffold) AddCrossOver(pre *PreHeader) error {
	if len(pre.Beta) > s.params.MaxSURBBetaLength {
		return xerr.NewBadPacket("crossover surb-beta too long", 0)
	}
	if err := s.setTerminal(CrossOverCommand{
		Route:    pre.First,
		Alpha:    pre.Alpha,
		Gamma:    pre.Gamma,
		SURBBeta: append([]byte(nil), pre.Beta...),
	}); err != nil {
		return err
	}
	s.orientation = OrientationSendAndSURB
	return nil
}

// setTerminal attaches a terminal command (Deliver, ArrivalDirect,
// ArrivalSURB or CrossOver) to the most recently queued hop, under that
// hop's own cipher. A ratchet subhop's command is a node-router peel in its
// own right that always continues into a following command within the same
// Process call, so the terminal command is appended, still addressed by
// the ratchet-derived cipher. Every other hop's queued command is a bare
// Transmit placeholder that node-side dispatch never continues past, so
// the terminal command replaces it outright rather than stacking a
// second peel onto a cipher the router would only verify once.
func (s *Scaffold) setTerminal(cmd Command) error {
	if len(s.commands) == 0 {
		return xerr.Internal("terminal command with no preceding hop")
	}
	last := s.commands[len(s.commands)-1]
	if _, isRatchet := last.cmd.(RatchetCommand); isRatchet {
		s.commands = append(s.commands, pendingCommand{cmd: cmd, cipherIdx: last.cipherIdx})
		return nil
	}
	s.commands[len(s.commands)-1] = pendingCommand{cmd: cmd, cipherIdx: last.cipherIdx}
	return nil
}

// SetOrientation switches the scaffold's orientation before adding hops
// that should be recorded into a DeliverySURB rather than (or in addition
// to) an outgoing body cipher list.
func (s *Scaffold) SetOrientation(o Orientation) { s.orientation = o }

// intersectShifted intersects running with hop's validity after shifting
// hop's window forward by the delay already accumulated, so later hops'
// windows are compared on a common absolute timeline.
func intersectShifted(running, hop keys.ValidityPeriod, delay time.Duration) (keys.ValidityPeriod, bool) {
	shifted := hop.Shift(delay)
	return running.Intersect(shifted)
}

// Done finalizes the scaffold into a PreHeader and an orientation-specific
// payload, folding the queued commands into beta from the innermost hop
// outward. Each hop's own BetaLength-sized view is built by prepending its
// command to a truncated copy of the next hop's already-built (and
// already-masked) view, patching the bytes that truncation drops so the
// next hop's ShiftBeta reconstructs them with its own beta-tail mask, then
// masking the whole view with this hop's beta mask and computing its gamma
// over the masked result. That gamma is embedded in the preceding command
// so the hop forwarding it writes the right value into the wire gamma
// field; the outermost hop's gamma becomes the PreHeader's own Gamma. All
// queued ratchet transactions are committed only once every layer is
// folded; if the commit fails, the entire PreHeader is discarded and every
// transaction opened by this scaffold is abandoned instead.
func (s *Scaffold) Done() (*PreHeader, []BodyCipher, *DeliverySURB, error) {
	if !s.haveHop {
		return nil, nil, nil, xerr.Internal("empty instruction sequence")
	}

	p := s.params
	for _, pc := range s.commands {
		n := pc.cmd.commandLen()
		if _, isCrossOver := pc.cmd.(CrossOverCommand); isCrossOver {
			// A CrossOver command's own bytes replace the entire remainder of
			// beta at the node that splices it in (node.go's CrossOverCommand
			// case), rather than being reconstructed via ShiftBeta's beta-tail
			// mask, so it only needs to fit within one layer's plain buffer.
			if n > p.BetaLength {
				return nil, nil, nil, xerr.NewBadPacket("command too long to onion-wrap", 0)
			}
			continue
		}
		if n*2 > p.BetaLength || n > p.MaxBetaTailLength {
			return nil, nil, nil, xerr.NewBadPacket("command too long to onion-wrap", 0)
		}
	}

	cur := make([]byte, p.BetaLength)
	isSend := s.orientation == OrientationSend || s.orientation == OrientationSendAndSURB
	if isSend {
		if err := s.rand(cur); err != nil {
			return nil, nil, nil, xerr.Internal("reading randomness: %v", err)
		}
	}

	var leadGamma [gammaSize]byte
	var nextGamma [gammaSize]byte
	for i := len(s.commands) - 1; i >= 0; i-- {
		pc := s.commands[i]
		n := pc.cmd.commandLen()

		plain := make([]byte, p.BetaLength)
		WriteCommand(plain[:n], withGamma(pc.cmd, nextGamma))
		copy(plain[n:], cur[:p.BetaLength-n])

		if pc.cipherIdx < 0 {
			return nil, nil, nil, xerr.Internal("onion layer with no cipher")
		}
		hk := s.ciphers[pc.cipherIdx].hk

		if _, isCrossOver := pc.cmd.(CrossOverCommand); !isCrossOver {
			// The last n bytes of cur never made it into plain (truncated by
			// this layer's own command); patch plain's tail so this hop's
			// ShiftBeta, XORing with its own beta-tail mask, reconstructs
			// them. A CrossOver command's tail is discarded outright by the
			// splicing node (ZeroBetaTail) rather than reconstructed, and n
			// may exceed len(hk.BetaTailMask), so the patch is skipped.
			tail := plain[p.BetaLength-n:]
			for j := range tail {
				tail[j] = cur[p.BetaLength-n+j] ^ hk.BetaTailMask[j]
			}
		}

		mem.XORInPlace(plain, hk.BetaMask)
		gamma := hk.ComputeGamma(plain)

		nextGamma = gamma
		if i == 0 {
			leadGamma = gamma
		}
		cur = plain
	}

	if err := s.commitAdvances(); err != nil {
		for _, tx := range s.advances {
			tx.Drop()
		}
		return nil, nil, nil, err
	}

	pre := &PreHeader{
		Validity: s.validity,
		First:    s.first,
		Alpha:    s.alpha,
		Gamma:    leadGamma,
		Beta:     cur,
	}

	var bodyCiphers []BodyCipher
	for _, idx := range s.bodies {
		bodyCiphers = append(bodyCiphers, BodyCipher{Key: s.ciphers[idx].hk.BodyKey})
	}

	var surb *DeliverySURB
	if s.orientation == OrientationSURB || s.orientation == OrientationSendAndSURB {
		surb = &DeliverySURB{Hops: append([]SURBHopKey(nil), s.surbKeys...)}
	}

	return pre, bodyCiphers, surb, nil
}

// DoneForCrossOver finalizes a single-hop SURB meant to be embedded in a
// CrossOver command rather than transmitted as a top-level header. The
// scaffold must have queued exactly one hop (a plain AddHop followed by one
// terminal command, typically AddArrivalSURB) and be oriented as a pure
// SURB.
//
// A CrossOver splice only ever reconstructs the short SURBBeta prefix the
// embedding hop carries inline, zero-filling everything beyond it
// (node.go's CrossOverCommand case, ZeroBetaTail) rather than replaying the
// embedded SURB's own beta mask over the full header length. So unlike
// Done, which masks the entire BetaLength-sized view with this hop's beta
// mask, DoneForCrossOver masks only the command's own bytes and computes
// its gamma over a buffer whose remainder is left as the same raw zero the
// splice will later install — matching bit for bit what the crossover node
// re-verifies once it recurses into this hop's own processing. Only the
// meaningful prefix is kept in the returned PreHeader.Beta; the embedding
// side is responsible for checking it against MaxSURBBetaLength (AddCrossOver
// does this).
func (s *Scaffold) DoneForCrossOver() (*PreHeader, *DeliverySURB, error) {
	if !s.haveHop {
		return nil, nil, xerr.Internal("empty instruction sequence")
	}
	if len(s.commands) != 1 {
		return nil, nil, xerr.Internal("a crossover surb must have exactly one hop")
	}
	if s.orientation != OrientationSURB {
		return nil, nil, xerr.Internal("a crossover surb requires SURB orientation")
	}

	p := s.params
	pc := s.commands[0]
	n := pc.cmd.commandLen()
	if n > p.MaxSURBBetaLength {
		return nil, nil, xerr.NewBadPacket("crossover surb command too long", 0)
	}

	hk := s.ciphers[pc.cipherIdx].hk
	full := make([]byte, p.BetaLength)
	WriteCommand(full[:n], pc.cmd)
	mem.XORInPlace(full[:n], hk.BetaMask[:n])
	gamma := hk.ComputeGamma(full)

	if err := s.commitAdvances(); err != nil {
		for _, tx := range s.advances {
			tx.Drop()
		}
		return nil, nil, err
	}

	pre := &PreHeader{
		Validity: s.validity,
		First:    s.first,
		Alpha:    s.alpha,
		Gamma:    gamma,
		Beta:     full[:n],
	}

	surb := &DeliverySURB{Hops: append([]SURBHopKey(nil), s.surbKeys...)}
	return pre, surb, nil
}

func (s *Scaffold) commitAdvances() error {
	for _, tx := range s.advances {
		if err := tx.Confirm(); err != nil {
			return err
		}
	}
	return nil
}

// withGamma returns cmd with its gamma field set, for the commands that
// carry one. CrossOverCommand also has a Gamma field, but it is the embedded
// SURB's own construction-time gamma, fixed by AddCrossOver; the onion-fold
// loop driving Done must never overwrite it with the current layer's
// forwarding gamma, so CrossOverCommand falls through to the default case.
func withGamma(cmd Command, gamma [gammaSize]byte) Command {
	switch c := cmd.(type) {
	case TransmitCommand:
		c.Gamma = gamma
		return c
	case RatchetCommand:
		c.Gamma = gamma
		return c
	default:
		return cmd
	}
}

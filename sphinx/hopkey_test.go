package sphinx

import (
	"testing"

	"github.com/xolotlmix/xolotl/config"
	"github.com/xolotlmix/xolotl/keys"
	"github.com/xolotlmix/xolotl/primitives"
)

func testSecretSphinx(seed byte) primitives.SphinxSecret {
	var s primitives.SphinxSecret
	for i := range s {
		s[i] = seed + byte(i)
	}
	return s
}

func testRoutingName(seed byte) keys.RoutingName {
	var rn keys.RoutingName
	for i := range rn {
		rn[i] = seed + byte(i)
	}
	return rn
}

func TestDeriveHopKeyingIsDeterministic(t *testing.T) {
	p := config.Default()
	ss := testSecretSphinx(1)
	rn := testRoutingName(2)

	hk1, err := DeriveHopKeying(p, ss, rn)
	if err != nil {
		t.Fatalf("DeriveHopKeying: %v", err)
	}
	hk2, err := DeriveHopKeying(p, ss, rn)
	if err != nil {
		t.Fatalf("DeriveHopKeying: %v", err)
	}

	if hk1.PacketName != hk2.PacketName {
		t.Error("PacketName is not deterministic")
	}
	if hk1.ReplayCode != hk2.ReplayCode {
		t.Error("ReplayCode is not deterministic")
	}
	if hk1.MACKey != hk2.MACKey {
		t.Error("MACKey is not deterministic")
	}
	if hk1.BodyKey != hk2.BodyKey {
		t.Error("BodyKey is not deterministic")
	}
}

func TestDeriveHopKeyingDiffersByRoutingName(t *testing.T) {
	p := config.Default()
	ss := testSecretSphinx(1)

	hk1, err := DeriveHopKeying(p, ss, testRoutingName(2))
	if err != nil {
		t.Fatalf("DeriveHopKeying: %v", err)
	}
	hk2, err := DeriveHopKeying(p, ss, testRoutingName(3))
	if err != nil {
		t.Fatalf("DeriveHopKeying: %v", err)
	}

	if hk1.PacketName == hk2.PacketName {
		t.Error("different routing names produced the same packet name")
	}
}

func TestDeriveHopKeyingDiffersBySecret(t *testing.T) {
	p := config.Default()
	rn := testRoutingName(1)

	hk1, err := DeriveHopKeying(p, testSecretSphinx(1), rn)
	if err != nil {
		t.Fatalf("DeriveHopKeying: %v", err)
	}
	hk2, err := DeriveHopKeying(p, testSecretSphinx(9), rn)
	if err != nil {
		t.Fatalf("DeriveHopKeying: %v", err)
	}

	if hk1.MACKey == hk2.MACKey {
		t.Error("different shared secrets produced the same MAC key")
	}
}

func TestGammaRoundTrip(t *testing.T) {
	p := config.Default()
	hk, err := DeriveHopKeying(p, testSecretSphinx(5), testRoutingName(6))
	if err != nil {
		t.Fatalf("DeriveHopKeying: %v", err)
	}

	beta := make([]byte, p.BetaLength)
	for i := range beta {
		beta[i] = byte(i)
	}

	gamma := hk.ComputeGamma(beta)
	if !hk.VerifyGamma(beta, gamma) {
		t.Error("VerifyGamma rejected a gamma it just computed")
	}

	gamma[0] ^= 1
	if hk.VerifyGamma(beta, gamma) {
		t.Error("VerifyGamma accepted a tampered gamma")
	}
}

func TestDeriveHopKeyingWithSeedExposesNonceAndKey(t *testing.T) {
	p := config.Default()
	ss := testSecretSphinx(1)
	rn := testRoutingName(2)

	hk, nonce, key, err := DeriveHopKeyingWithSeed(p, ss, rn)
	if err != nil {
		t.Fatalf("DeriveHopKeyingWithSeed: %v", err)
	}
	if hk == nil {
		t.Fatal("nil HopKeying")
	}
	var zeroNonce [12]byte
	var zeroKey [32]byte
	if nonce == zeroNonce {
		t.Error("nonce should not be all zeros for nonzero input")
	}
	if key == zeroKey {
		t.Error("key should not be all zeros for nonzero input")
	}
}

func TestSampleDelayIsBounded(t *testing.T) {
	var seed [64]byte
	for i := range seed {
		seed[i] = byte(i)
	}
	d := sampleDelay(seed, 0.01)
	if d < 0 {
		t.Error("sampled delay should never be negative")
	}
}

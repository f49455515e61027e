package directory

import (
	"crypto/ed25519"
	"testing"

	"github.com/xolotlmix/xolotl/keys"
	"github.com/xolotlmix/xolotl/primitives"
)

func testCertificate(t *testing.T) (keys.RoutingPublic, ed25519.PublicKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	var public primitives.Alpha
	public[0] = 7

	rp, err := keys.Issue(priv, public, keys.ValidityPeriod{Start: 0, End: 1000})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	return rp, pub
}

func TestMemDirectoryPublishAndLookup(t *testing.T) {
	rp, _ := testCertificate(t)
	name := keys.RoutingNameOf(rp, keys.VariantDefault)

	d := NewMemDirectory()
	if err := d.Publish(rp, keys.VariantDefault); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	got, err := d.Lookup(name)
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if got.Public != rp.Public {
		t.Errorf("Lookup returned a different certificate")
	}

	d.Remove(name)
	if _, err := d.Lookup(name); err == nil {
		t.Error("Lookup after Remove should fail")
	}
}

func TestMemDirectoryRejectsBadSignature(t *testing.T) {
	rp, _ := testCertificate(t)
	rp.Signature[0] ^= 1

	d := NewMemDirectory()
	if err := d.Publish(rp, keys.VariantDefault); err == nil {
		t.Fatal("Publish should reject an invalid signature")
	}
}

func TestMemDirectoryUnknownName(t *testing.T) {
	d := NewMemDirectory()
	var name keys.RoutingName
	if _, err := d.Lookup(name); err == nil {
		t.Error("Lookup of an unpublished name should fail")
	}
}

func TestLevelDirectoryRoundTrip(t *testing.T) {
	rp, _ := testCertificate(t)
	name := keys.RoutingNameOf(rp, keys.VariantDefault)

	d, err := OpenLevelDirectory(t.TempDir())
	if err != nil {
		t.Fatalf("OpenLevelDirectory: %v", err)
	}
	defer d.Close()

	if err := d.Publish(rp, keys.VariantDefault); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	got, err := d.Lookup(name)
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if got.Public != rp.Public || got.Issuer != rp.Issuer {
		t.Error("Lookup returned a different certificate")
	}

	if err := d.Remove(name); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, err := d.Lookup(name); err == nil {
		t.Error("Lookup after Remove should fail")
	}
}

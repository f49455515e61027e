package config

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func TestDefaultValidates(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("Default() failed Validate: %v", err)
	}
}

func TestValidateRejectsLongSURBWindow(t *testing.T) {
	p := Default()
	p.MaxSURBBetaLength = p.BetaLength
	if err := p.Validate(); err == nil {
		t.Fatal("Validate accepted a SURB-beta length that enables a long-SURB attack")
	}
}

func TestValidateRejectsOversizedSURBBeta(t *testing.T) {
	p := Default()
	p.BetaLength = 1 << 20
	p.MaxSURBBetaLength = 1<<12 + 1
	if err := p.Validate(); err == nil {
		t.Fatal("Validate accepted a MaxSURBBetaLength exceeding 2^12")
	}
}

func TestLoadEnvMissingFileFallsBackToDefault(t *testing.T) {
	cfg, err := LoadEnv(filepath.Join(t.TempDir(), "does-not-exist.env"))
	if err != nil {
		t.Fatalf("LoadEnv: %v", err)
	}
	if !reflect.DeepEqual(cfg.Params, Default()) {
		t.Error("missing .env file should fall back to Default() parameters")
	}
}

func TestLoadEnvReadsDebugFlag(t *testing.T) {
	t.Setenv("XOLOTL_DEBUG", "true")
	defer os.Unsetenv("XOLOTL_DEBUG")

	cfg, err := LoadEnv(filepath.Join(t.TempDir(), "does-not-exist.env"))
	if err != nil {
		t.Fatalf("LoadEnv: %v", err)
	}
	if !cfg.Debug {
		t.Error("XOLOTL_DEBUG=true should set Debug")
	}
}

func TestLoadEnvRejectsInvalidDebugFlag(t *testing.T) {
	t.Setenv("XOLOTL_DEBUG", "not-a-bool")
	defer os.Unsetenv("XOLOTL_DEBUG")

	if _, err := LoadEnv(filepath.Join(t.TempDir(), "does-not-exist.env")); err == nil {
		t.Fatal("LoadEnv should reject an unparseable XOLOTL_DEBUG value")
	}
}

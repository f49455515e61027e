// Package config loads the protocol parameters and storage locations that
// shape a node's behavior. Parameters are carried as a plain value-typed
// struct passed by reference, never encoded into the type system, per the
// "Polymorphism over protocol parameters" guidance this module follows.
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Params holds the protocol constants referenced throughout the header
// layout, command codec, and hop keying. A deployment may run several
// independent protocols (e.g. a test network and a production network)
// side by side, each with its own Params value.
type Params struct {
	// ProtocolName is mixed into every hop-keying derivation.
	ProtocolName string

	// ProtocolID is stamped into every DeliverySURB.
	ProtocolID uint16

	BetaLength         int
	MaxBetaTailLength  int
	MaxSURBBetaLength  int
	SURBLogLength      int
	BodyLengths        []int
	DelayLambda        float64
}

// Default returns the reference parameter set used by the test suite and
// examples: small enough to exercise every code path without large buffers.
func Default() Params {
	return Params{
		ProtocolName:      "Xolotl-Sphinx-v1",
		ProtocolID:        1,
		BetaLength:        1024,
		MaxBetaTailLength: 256,
		MaxSURBBetaLength: 480,
		SURBLogLength:     160,
		BodyLengths:       []int{1024, 4096},
		DelayLambda:       0.01,
	}
}

// Validate rejects parameterizations that enable a long-SURB attack or
// exceed the maximum permitted SURB-beta length, per the header layout's
// construction-time checks.
func (p Params) Validate() error {
	if 2*p.MaxSURBBetaLength > p.BetaLength-48 {
		return fmt.Errorf("config: 2*MaxSURBBetaLength (%d) > BetaLength-48 (%d): long-SURB attack window",
			2*p.MaxSURBBetaLength, p.BetaLength-48)
	}
	if p.MaxSURBBetaLength > 1<<12 {
		return fmt.Errorf("config: MaxSURBBetaLength (%d) exceeds 2^12", p.MaxSURBBetaLength)
	}
	return nil
}

// NodeConfig holds a node's local deployment settings: where ratchet and
// directory state live on disk, and the logging verbosity.
type NodeConfig struct {
	Params        Params
	RatchetDBPath string
	DirectoryPath string
	Debug         bool
}

// LoadEnv loads a .env file (if present, ignoring a missing file) and
// returns a NodeConfig populated from environment variables, falling back
// to Default() parameters and in-memory-only storage paths.
func LoadEnv(path string) (NodeConfig, error) {
	if err := godotenv.Load(path); err != nil && !os.IsNotExist(err) {
		return NodeConfig{}, fmt.Errorf("config: loading %s: %w", path, err)
	}

	cfg := NodeConfig{
		Params:        Default(),
		RatchetDBPath: os.Getenv("XOLOTL_RATCHET_DB"),
		DirectoryPath: os.Getenv("XOLOTL_DIRECTORY_DB"),
	}

	if v := os.Getenv("XOLOTL_DEBUG"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return NodeConfig{}, fmt.Errorf("config: XOLOTL_DEBUG: %w", err)
		}
		cfg.Debug = b
	}

	return cfg, cfg.Params.Validate()
}

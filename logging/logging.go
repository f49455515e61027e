// Package logging provides the structured loggers used across the node
// router, ratchet, and client builder. Fields are chosen so that a dropped
// packet's opcode and length are visible while its replay code and MAC
// input never are, outside of test builds.
package logging

import (
	"sync"

	"go.uber.org/zap"
)

var (
	mu     sync.Mutex
	global *zap.Logger
)

// Configure installs the process-wide base logger. Nodes call this once at
// startup with a production or development zap.Config depending on
// environment; tests may call it with zap.NewNop() to silence output.
func Configure(l *zap.Logger) {
	mu.Lock()
	defer mu.Unlock()
	global = l
}

// L returns the process-wide base logger, defaulting to a no-op logger if
// Configure was never called (so library code never needs a nil check).
func L() *zap.Logger {
	mu.Lock()
	defer mu.Unlock()
	if global == nil {
		global = zap.NewNop()
	}
	return global
}

// Named returns a child logger scoped to one subsystem, mirroring the way
// the rest of the corpus scopes loggers per package (e.g. btclog's
// per-subsystem backends).
func Named(subsystem string) *zap.Logger {
	return L().Named(subsystem)
}

// DroppedPacket logs a packet rejection without the fields the error
// handling policy forbids from non-test logs (replay code, MAC key, MAC
// input). Callers pass the already-classified reason and opcode.
func DroppedPacket(logger *zap.Logger, reason string, opcode byte, length int) {
	logger.Warn("dropped packet",
		zap.String("reason", reason),
		zap.Uint8("opcode", opcode),
		zap.Int("length", length),
	)
}

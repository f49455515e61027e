package ratchet

import (
	"fmt"

	"github.com/xolotlmix/xolotl/xerr"
)

var (
	errBranchAlreadyLocked = xerr.ErrBranchAlreadyLocked
	errMissingTwig         = xerr.ErrMissingTwig
	errMissingBerry        = xerr.ErrMissingBerry
	errMissingBranch       = xerr.ErrMissingBranch
	errMissingParent       = xerr.ErrMissingParent
	errWrongTwigType       = xerr.ErrWrongTwigType
)

func missingBranch(id BranchId) error {
	return fmt.Errorf("%w: %s", errMissingBranch, id)
}

func missingParent(name BranchName) error {
	return fmt.Errorf("%w: %x", errMissingParent, name)
}

func missingTwig(id TwigId) error {
	return fmt.Errorf("%w: %s", errMissingTwig, id)
}

func missingBerry(idx TwigIdx, id TwigId) error {
	return fmt.Errorf("%w: berry %d at %s", errMissingBerry, idx, id)
}

func branchAlreadyLocked(id BranchId) error {
	return fmt.Errorf("%w: %s", errBranchAlreadyLocked, id)
}

func corruptBranch(id BranchId, reason string) error {
	return xerr.NewCorruptBranch(id.String(), reason)
}

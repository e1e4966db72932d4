package storage

import "fmt"

// CheckResult classifies the outcome of a storage validation probe.
type CheckResult int

const (
	// CheckOK means identity and integrity both verified.
	CheckOK CheckResult = iota
	// CheckNoStorage means the format magic did not match; the region does
	// not hold this layout at all. An expected probe outcome, not a fault.
	CheckNoStorage
	// CheckAnotherStorage means the format matched but the data identity
	// belongs to a different dataset. Also an expected probe outcome.
	CheckAnotherStorage
	// CheckDeviceError means an underlying device primitive failed; the
	// accompanying error carries the fault.
	CheckDeviceError
	// CheckStorageError means both identities matched but integrity or
	// bounds checks failed: corruption, never "not present".
	CheckStorageError
)

// String returns the string representation of the check result
func (r CheckResult) String() string {
	switch r {
	case CheckOK:
		return "ok"
	case CheckNoStorage:
		return "no storage"
	case CheckAnotherStorage:
		return "another storage"
	case CheckDeviceError:
		return "device error"
	case CheckStorageError:
		return "storage error"
	default:
		return fmt.Sprintf("result(%d)", r)
	}
}

package ceremony

import "fmt"

// Stage of a ceremony instance.
type Stage uint8

const (
	Uninitialized Stage = iota
	Initialized
	AwaitingContribution
	// Verifying is reported while a gated operation checks its candidate.
	// It is never persisted.
	Verifying
	AwaitingBeacon
	BeaconApplied
	Finalized
)

var stageNames = [...]string{
	Uninitialized:        "uninitialized",
	Initialized:          "initialized",
	AwaitingContribution: "awaiting-contribution",
	Verifying:            "verifying",
	AwaitingBeacon:       "awaiting-beacon",
	BeaconApplied:        "beacon-applied",
	Finalized:            "finalized",
}

func (s Stage) String() string {
	if int(s) < len(stageNames) {
		return stageNames[s]
	}
	return fmt.Sprintf("stage(%d)", uint8(s))
}

func (s Stage) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Stage) UnmarshalText(b []byte) error {
	for i, name := range stageNames {
		if name == string(b) {
			*s = Stage(i)
			return nil
		}
	}
	return fmt.Errorf("unknown stage %q", b)
}

// acceptsContributions reports whether contributions and challenges are
// allowed in s.
func (s Stage) acceptsContributions() bool {
	return s == Initialized || s == AwaitingContribution
}

// Package policy maps a malware probability to a verdict tier.
// Classification is pure: it reads only the thresholds fixed at construction.
package policy

import (
	"fmt"
	"strings"

	"github.com/cvalentine99/binscore/internal/models"
)

// Mode selects how many tiers a Policy produces.
type Mode string

const (
	// ModeThreeTier yields benign, suspicious and malicious.
	ModeThreeTier Mode = "three-tier"
	// ModeTwoTier yields benign and malicious only.
	ModeTwoTier Mode = "two-tier"
)

// Default thresholds.
const (
	DefaultMaliciousThreshold  = 0.8
	DefaultSuspiciousThreshold = 0.5
)

// Policy holds the decision thresholds. Both bounds are inclusive.
type Policy struct {
	Mode                Mode    `json:"mode"`
	MaliciousThreshold  float64 `json:"malicious_threshold"`
	SuspiciousThreshold float64 `json:"suspicious_threshold"`
}

// ThreeTier returns the default policy: >= 0.8 malicious, >= 0.5 suspicious.
func ThreeTier() Policy {
	return Policy{
		Mode:                ModeThreeTier,
		MaliciousThreshold:  DefaultMaliciousThreshold,
		SuspiciousThreshold: DefaultSuspiciousThreshold,
	}
}

// TwoTier returns the binary policy: >= 0.5 malicious, else benign.
func TwoTier() Policy {
	return Policy{
		Mode:                ModeTwoTier,
		MaliciousThreshold:  DefaultSuspiciousThreshold,
		SuspiciousThreshold: DefaultSuspiciousThreshold,
	}
}

// ParseMode converts a config string into a Mode. Empty means three-tier.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case "", ModeThreeTier:
		return ModeThreeTier, nil
	case ModeTwoTier:
		return ModeTwoTier, nil
	default:
		return "", fmt.Errorf("unknown policy mode %q", s)
	}
}

// New builds and validates a policy. A zero threshold falls back to the
// mode's default; a defaulted suspicious threshold never exceeds the malicious one.
func New(mode string, malicious, suspicious float64) (Policy, error) {
	m, err := ParseMode(mode)
	if err != nil {
		return Policy{}, err
	}

	p := ThreeTier()
	if m == ModeTwoTier {
		p = TwoTier()
	}
	if malicious != 0 {
		p.MaliciousThreshold = malicious
		if m == ModeTwoTier {
			p.SuspiciousThreshold = malicious
		}
	}
	if m == ModeThreeTier {
		if suspicious != 0 {
			p.SuspiciousThreshold = suspicious
		} else {
			p.SuspiciousThreshold = min(p.SuspiciousThreshold, p.MaliciousThreshold)
		}
	}

	if err := p.Validate(); err != nil {
		return Policy{}, err
	}
	return p, nil
}

// Validate checks 0 <= suspicious <= malicious <= 1.
func (p Policy) Validate() error {
	if _, err := ParseMode(string(p.Mode)); err != nil {
		return err
	}
	if p.MaliciousThreshold < 0 || p.MaliciousThreshold > 1 {
		return fmt.Errorf("malicious threshold %g outside [0, 1]", p.MaliciousThreshold)
	}
	if p.SuspiciousThreshold < 0 || p.SuspiciousThreshold > p.MaliciousThreshold {
		return fmt.Errorf("suspicious threshold %g outside [0, %g]", p.SuspiciousThreshold, p.MaliciousThreshold)
	}
	return nil
}

// Classify maps probability to a verdict. NaN is never malicious; callers are
// expected to reject it before it gets here.
func (p Policy) Classify(probability float64) models.Verdict {
	switch {
	case probability >= p.MaliciousThreshold:
		return models.VerdictMalicious
	case p.Mode != ModeTwoTier && probability >= p.SuspiciousThreshold:
		return models.VerdictSuspicious
	default:
		return models.VerdictBenign
	}
}

// Classify applies the default three-tier policy.
func Classify(probability float64) models.Verdict {
	return ThreeTier().Classify(probability)
}

func (p Policy) String() string {
	if p.Mode == ModeTwoTier {
		return fmt.Sprintf("%s(malicious>=%g)", p.Mode, p.MaliciousThreshold)
	}
	return fmt.Sprintf("%s(malicious>=%g, suspicious>=%g)", p.Mode, p.MaliciousThreshold, p.SuspiciousThreshold)
}

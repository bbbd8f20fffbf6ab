package model

import "github.com/rotisserie/eris"

// Verdict is the classifier's final opinion about a domain.
type Verdict string

const (
	VerdictLikelyAvailable  Verdict = "likely_available"
	VerdictLikelyRegistered Verdict = "likely_registered"
	VerdictUnknown          Verdict = "unknown"
)

// ParseVerdict converts a stored verdict string back into a Verdict.
func ParseVerdict(s string) (Verdict, error) {
	switch v := Verdict(s); v {
	case VerdictLikelyAvailable, VerdictLikelyRegistered, VerdictUnknown:
		return v, nil
	default:
		return "", eris.Errorf("model: unknown verdict %q", s)
	}
}

// Positive reports whether the verdict names a domain worth reporting.
func (v Verdict) Positive() bool {
	return v == VerdictLikelyAvailable
}

// Outcome is the opinion of a single liveness signal.
type Outcome int

const (
	// OutcomeError means the signal timed out, failed or could not decide.
	OutcomeError Outcome = iota
	// OutcomePresent means the domain resolves or is reachable.
	OutcomePresent
	// OutcomeAbsent means the domain does not resolve or is unreachable.
	OutcomeAbsent
)

func (o Outcome) String() string {
	switch o {
	case OutcomePresent:
		return "present"
	case OutcomeAbsent:
		return "absent"
	default:
		return "error"
	}
}

// Verdict maps a definitive outcome to a verdict. OutcomeError maps to Unknown.
func (o Outcome) Verdict() Verdict {
	switch o {
	case OutcomePresent:
		return VerdictLikelyRegistered
	case OutcomeAbsent:
		return VerdictLikelyAvailable
	default:
		return VerdictUnknown
	}
}

// Package models defines the core data structures for binscore.
// Values in this package are created once per scoring call and never mutated afterwards.
package models

import (
	"fmt"
	"time"
)

// Verdict is the discrete risk tier derived from a malware probability.
type Verdict string

const (
	VerdictBenign     Verdict = "benign"
	VerdictSuspicious Verdict = "suspicious"
	VerdictMalicious  Verdict = "malicious"
)

// IsThreat reports whether the verdict should be surfaced to an operator.
func (v Verdict) IsThreat() bool {
	return v == VerdictSuspicious || v == VerdictMalicious
}

// Severity maps the verdict onto the low/medium/high scale used by alerting collaborators.
func (v Verdict) Severity() string {
	switch v {
	case VerdictMalicious:
		return "high"
	case VerdictSuspicious:
		return "medium"
	default:
		return "low"
	}
}

// FileInfo identifies the raw file that was scored.
type FileInfo struct {
	Path     string `json:"path"`
	Size     int64  `json:"size"`
	BLAKE3   string `json:"blake3"`
	SHA256   string `json:"sha256"`
	MIMEType string `json:"mime_type,omitempty"`
}

// ScoreResult is the outcome of a single scoring call.
type ScoreResult struct {
	ID          string    `json:"id"`
	Probability float64   `json:"probability"`
	Verdict     Verdict   `json:"verdict"`
	File        *FileInfo `json:"file,omitempty"`

	// Format is the container format that was parsed ("pe"), empty when parsing failed
	// or the result came from a precomputed vector.
	Format string `json:"format,omitempty"`

	// Partial is set when the binary could not be parsed and structural
	// features were zero-filled. ParseError carries the reason.
	Partial    bool   `json:"partial"`
	ParseError string `json:"parse_error,omitempty"`

	FeatureVersion string        `json:"feature_version,omitempty"`
	ModelDigest    string        `json:"model_digest,omitempty"`
	Duration       time.Duration `json:"duration_ns"`
	ScoredAt       time.Time     `json:"scored_at"`
}

// Summary returns a one-line human readable description of the result.
func (r *ScoreResult) Summary() string {
	name := "<vector>"
	if r.File != nil {
		name = r.File.Path
	}
	s := fmt.Sprintf("%s: %s (p=%.4f)", name, r.Verdict, r.Probability)
	if r.Partial {
		s += " [structural features unavailable]"
	}
	return s
}

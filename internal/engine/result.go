package engine

import "github.com/example/lostfound/internal/features"

// Outcome is the terminal state of a match request.
type Outcome int

const (
	// OutcomeNoMatch means no candidate scored above the threshold.
	OutcomeNoMatch Outcome = iota
	// OutcomeMatched means the best candidate passed the threshold and was claimed by this request.
	OutcomeMatched
	// OutcomeAlreadyClaimed means the best candidate passed the threshold but a concurrent request claimed it first.
	OutcomeAlreadyClaimed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeMatched:
		return "matched"
	case OutcomeAlreadyClaimed:
		return "already_claimed"
	default:
		return "no_match"
	}
}

// Result describes one scan of the corpus.
type Result struct {
	Outcome Outcome
	// Entry is the winning candidate; nil for OutcomeNoMatch.
	Entry *Entry
	// Score is the best similarity observed, whether or not it passed the threshold.
	Score float64
	// Family is the descriptor family used for every comparison in the scan.
	Family         features.Family
	QueryKeypoints int
	Scanned        int
	Skipped        int
}

// Matched reports whether the scan found a candidate above the threshold.
func (r *Result) Matched() bool {
	return r != nil && (r.Outcome == OutcomeMatched || r.Outcome == OutcomeAlreadyClaimed)
}

// candidateScore is the transient per-candidate record discarded after the scan.
type candidateScore struct {
	entry   Entry
	score   float64
	skipped bool
	reason  string
}

package domain

// Outcome is the result of one pairwise comparison from the point of view
// of a tally: the winning origin, or Invalid when the judge made no usable
// choice.
type Outcome int

const (
	OutcomeInvalid Outcome = iota
	OutcomeHuman
	OutcomeLLM
)

// String returns the label used in JSON output and logs.
func (o Outcome) String() string {
	switch o {
	case OutcomeHuman:
		return string(OriginHuman)
	case OutcomeLLM:
		return string(OriginLLM)
	default:
		return "Invalid"
	}
}

// OutcomeOf maps a comparison winner to its outcome. A nil winner is
// OutcomeInvalid.
func OutcomeOf(winner *Description) Outcome {
	if winner == nil {
		return OutcomeInvalid
	}
	switch winner.Origin {
	case OriginHuman:
		return OutcomeHuman
	case OriginLLM:
		return OutcomeLLM
	default:
		return OutcomeInvalid
	}
}

// Tally counts comparison outcomes for one item or for a whole run.
// The zero value is an empty tally. Accumulation is plain addition, so
// merging tallies in any order gives the same result.
type Tally struct {
	Human   int `json:"Human"`
	LLM     int `json:"LLM"`
	Invalid int `json:"Invalid"`
}

// Record adds one outcome to the tally.
func (t *Tally) Record(o Outcome) {
	switch o {
	case OutcomeHuman:
		t.Human++
	case OutcomeLLM:
		t.LLM++
	default:
		t.Invalid++
	}
}

// Count returns the counter for o.
func (t Tally) Count(o Outcome) int {
	switch o {
	case OutcomeHuman:
		return t.Human
	case OutcomeLLM:
		return t.LLM
	default:
		return t.Invalid
	}
}

// Merge returns the sum of t and other.
func (t Tally) Merge(other Tally) Tally {
	return Tally{
		Human:   t.Human + other.Human,
		LLM:     t.LLM + other.LLM,
		Invalid: t.Invalid + other.Invalid,
	}
}

// Total is the number of comparisons recorded.
func (t Tally) Total() int { return t.Human + t.LLM + t.Invalid }

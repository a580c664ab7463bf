// Package mood implements the supervisor's mood engine: a pure, deterministic
// function from a signal record to one of eight moods. It has no
// dependencies on I/O, storage, or time, so it is trivially table-tested and
// safe to call from any layer.
package mood

// Mood is one of the eight governing moods the orchestrator and agent loop
// condition their behavior on.
type Mood string

const (
	Calm        Mood = "CALM"
	Curious     Mood = "CURIOUS"
	Skeptical   Mood = "SKEPTICAL"
	Paranoid    Mood = "PARANOID"
	Bold        Mood = "BOLD"
	Petty       Mood = "PETTY"
	Contrite    Mood = "CONTRITE"
	Deferential Mood = "DEFERENTIAL"
)

// Inputs is the signal record the mood engine reads. Every field defaults to
// its zero value meaning "signal absent" — callers only set what they know.
type Inputs struct {
	CrashDetected               bool
	HasDemo                     bool
	ConjecturesPresent          bool
	RepeatedVerifierFailures    bool
	AboutToCrossPrivilegeBound  bool
	PreferenceMissing           bool
	SuspectedRewardHack         bool
	AmbiguityBlocking           bool
	UserIDK                     bool
	VerifiersRegress            bool
	HyperthesisHigh             bool
	VerifiedAndBounded          bool
	MitigationsInstalled        bool
	StateConsistent             bool
	PreviousMood                Mood
}

// SelectInitial picks the mood a new run starts in.
func SelectInitial(in Inputs) Mood {
	if in.CrashDetected {
		return Contrite
	}
	if !in.HasDemo || !in.ConjecturesPresent {
		return Curious
	}
	if in.RepeatedVerifierFailures {
		return Skeptical
	}
	if in.AboutToCrossPrivilegeBound {
		if in.PreferenceMissing {
			return Deferential
		}
		return Paranoid
	}
	return Calm
}

// Transition computes the next mood from the current one and a fresh signal
// record. It mirrors the original supervisor's transition table exactly:
// a handful of signals override any current mood unconditionally, then each
// mood has its own small set of outgoing edges, and anything unmatched holds
// the current mood.
func Transition(current Mood, in Inputs) Mood {
	if in.CrashDetected {
		return Contrite
	}
	if in.SuspectedRewardHack {
		return Petty
	}
	if in.PreferenceMissing {
		return Deferential
	}

	switch current {
	case Calm:
		if in.AmbiguityBlocking || in.UserIDK {
			return Curious
		}
		if in.VerifiersRegress {
			return Skeptical
		}
	case Skeptical:
		if in.HyperthesisHigh {
			return Paranoid
		}
		if in.VerifiedAndBounded {
			return Calm
		}
	case Paranoid:
		if in.MitigationsInstalled {
			return Bold
		}
	case Contrite:
		if in.StateConsistent {
			if in.PreviousMood != "" {
				return in.PreviousMood
			}
			return Calm
		}
		return Contrite
	}
	return current
}

// Valid reports whether m is one of the eight defined moods.
func Valid(m Mood) bool {
	switch m {
	case Calm, Curious, Skeptical, Paranoid, Bold, Petty, Contrite, Deferential:
		return true
	}
	return false
}

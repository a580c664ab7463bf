package mood

import "testing"

func TestSelectInitial(t *testing.T) {
	cases := []struct {
		name string
		in   Inputs
		want Mood
	}{
		{"crash wins over everything", Inputs{CrashDetected: true, HasDemo: true, ConjecturesPresent: true}, Contrite},
		{"no demo yet", Inputs{HasDemo: false}, Curious},
		{"demo but no conjectures", Inputs{HasDemo: true, ConjecturesPresent: false}, Curious},
		{"repeated verifier failures", Inputs{HasDemo: true, ConjecturesPresent: true, RepeatedVerifierFailures: true}, Skeptical},
		{"privilege boundary, preference known", Inputs{HasDemo: true, ConjecturesPresent: true, AboutToCrossPrivilegeBound: true}, Paranoid},
		{"privilege boundary, preference missing", Inputs{HasDemo: true, ConjecturesPresent: true, AboutToCrossPrivilegeBound: true, PreferenceMissing: true}, Deferential},
		{"default calm", Inputs{HasDemo: true, ConjecturesPresent: true}, Calm},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := SelectInitial(tc.in); got != tc.want {
				t.Errorf("SelectInitial(%+v) = %s, want %s", tc.in, got, tc.want)
			}
		})
	}
}

func TestTransitionOverrides(t *testing.T) {
	cases := []struct {
		name    string
		current Mood
		in      Inputs
		want    Mood
	}{
		{"crash overrides bold", Bold, Inputs{CrashDetected: true}, Contrite},
		{"reward hack overrides calm", Calm, Inputs{SuspectedRewardHack: true}, Petty},
		{"preference missing overrides skeptical", Skeptical, Inputs{PreferenceMissing: true}, Deferential},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Transition(tc.current, tc.in); got != tc.want {
				t.Errorf("Transition(%s, %+v) = %s, want %s", tc.current, tc.in, got, tc.want)
			}
		})
	}
}

func TestTransitionFromCalm(t *testing.T) {
	if got := Transition(Calm, Inputs{AmbiguityBlocking: true}); got != Curious {
		t.Errorf("ambiguity blocking: got %s, want CURIOUS", got)
	}
	if got := Transition(Calm, Inputs{UserIDK: true}); got != Curious {
		t.Errorf("user idk: got %s, want CURIOUS", got)
	}
	if got := Transition(Calm, Inputs{VerifiersRegress: true}); got != Skeptical {
		t.Errorf("verifiers regress: got %s, want SKEPTICAL", got)
	}
	if got := Transition(Calm, Inputs{}); got != Calm {
		t.Errorf("no signal: got %s, want CALM (hold)", got)
	}
}

func TestTransitionFromSkeptical(t *testing.T) {
	if got := Transition(Skeptical, Inputs{HyperthesisHigh: true}); got != Paranoid {
		t.Errorf("hyperthesis high: got %s, want PARANOID", got)
	}
	if got := Transition(Skeptical, Inputs{VerifiedAndBounded: true}); got != Calm {
		t.Errorf("verified and bounded: got %s, want CALM", got)
	}
	if got := Transition(Skeptical, Inputs{}); got != Skeptical {
		t.Errorf("no signal: got %s, want SKEPTICAL (hold)", got)
	}
}

func TestTransitionFromParanoid(t *testing.T) {
	if got := Transition(Paranoid, Inputs{MitigationsInstalled: true}); got != Bold {
		t.Errorf("mitigations installed: got %s, want BOLD", got)
	}
	if got := Transition(Paranoid, Inputs{}); got != Paranoid {
		t.Errorf("no signal: got %s, want PARANOID (hold)", got)
	}
}

func TestTransitionFromContrite(t *testing.T) {
	if got := Transition(Contrite, Inputs{StateConsistent: true, PreviousMood: Bold}); got != Bold {
		t.Errorf("state consistent with previous: got %s, want BOLD", got)
	}
	if got := Transition(Contrite, Inputs{StateConsistent: true}); got != Calm {
		t.Errorf("state consistent, no previous: got %s, want CALM", got)
	}
	if got := Transition(Contrite, Inputs{}); got != Contrite {
		t.Errorf("state inconsistent: got %s, want CONTRITE (hold)", got)
	}
}

func TestTransitionHoldsOtherMoods(t *testing.T) {
	for _, m := range []Mood{Bold, Petty, Deferential} {
		if got := Transition(m, Inputs{}); got != m {
			t.Errorf("Transition(%s, no signal) = %s, want hold", m, got)
		}
	}
}

func TestValid(t *testing.T) {
	for _, m := range []Mood{Calm, Curious, Skeptical, Paranoid, Bold, Petty, Contrite, Deferential} {
		if !Valid(m) {
			t.Errorf("Valid(%s) = false, want true", m)
		}
	}
	if Valid(Mood("NOT_A_MOOD")) {
		t.Error("Valid(NOT_A_MOOD) = true, want false")
	}
}

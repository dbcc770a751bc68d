package dice

import (
	"testing"
)

func TestEvaluate_NaturalOverrides(t *testing.T) {
	modSets := [][]Modifier{
		nil,
		{{Source: "relationship", Value: -3}},
		{{Source: "relationship", Value: 3}, {Source: "skill:deception", Value: 10}},
		{{Source: "flag:deception_caught", Value: -30}},
		{{Source: "situational", Value: 40}},
	}
	for _, mods := range modSets {
		for _, target := range []int{1, 10, 20, 35} {
			out := Evaluate(CheckDeceive, 20, mods, target)
			if out.Degree != CriticalSuccess {
				t.Errorf("roll 20 mods=%v target=%d: degree = %s, want %s", mods, target, out.Degree, CriticalSuccess)
			}
			out = Evaluate(CheckDeceive, 1, mods, target)
			if out.Degree != CriticalFail {
				t.Errorf("roll 1 mods=%v target=%d: degree = %s, want %s", mods, target, out.Degree, CriticalFail)
			}
		}
	}
}

func TestEvaluate_TotalAgainstTarget(t *testing.T) {
	tests := []struct {
		name   string
		roll   int
		mods   []Modifier
		target int
		want   Degree
		total  int
	}{
		{"exactly meets target", 10, []Modifier{{"a", 2}}, 12, Success, 12},
		{"one short", 10, []Modifier{{"a", 1}}, 12, Fail, 11},
		{"negative modifiers", 15, []Modifier{{"a", -2}, {"b", -2}}, 12, Fail, 11},
		{"no modifiers", 13, nil, 13, Success, 13},
		{"roll 2 with huge bonus", 2, []Modifier{{"a", 30}}, 12, Success, 32},
		{"roll 19 with penalty", 19, []Modifier{{"a", -10}}, 12, Fail, 9},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := Evaluate(CheckPersuade, tt.roll, tt.mods, tt.target)
			if out.Degree != tt.want {
				t.Errorf("Degree = %s, want %s", out.Degree, tt.want)
			}
			if out.Total != tt.total {
				t.Errorf("Total = %d, want %d", out.Total, tt.total)
			}
			if out.Target != tt.target {
				t.Errorf("Target = %d, want %d", out.Target, tt.target)
			}
		})
	}
}

func TestEvaluate_CopiesModifiers(t *testing.T) {
	mods := []Modifier{{Source: "relationship", Value: 1}}
	out := Evaluate(CheckPersuade, 10, mods, 12)
	mods[0].Value = 99
	if out.Modifiers[0].Value != 1 {
		t.Errorf("outcome modifiers aliased caller slice: got %d", out.Modifiers[0].Value)
	}
}

func TestResolver_SeededIsDeterministic(t *testing.T) {
	a := NewResolver(NewSource(42), nil)
	b := NewResolver(NewSource(42), nil)
	for i := 0; i < 100; i++ {
		ra, rb := a.Roll(), b.Roll()
		if ra != rb {
			t.Fatalf("roll %d differs: %d vs %d", i, ra, rb)
		}
		if ra < 1 || ra > Sides {
			t.Fatalf("roll %d out of range: %d", i, ra)
		}
	}
}

func TestResolver_DrawsOncePerCheck(t *testing.T) {
	src := Fixed(7, 1, 20)
	r := NewResolver(src, nil)

	out := r.Resolve(CheckPersuade, []Modifier{{"relationship", 1}})
	if out.Roll != 7 || src.Draws() != 1 {
		t.Fatalf("roll=%d draws=%d, want 7 and 1", out.Roll, src.Draws())
	}

	out = r.Resolve(CheckDeceive, nil)
	if out.Degree != CriticalFail {
		t.Errorf("forced 1: degree = %s", out.Degree)
	}

	out = r.Resolve(CheckIntimidate, []Modifier{{"penalty", -50}})
	if out.Degree != CriticalSuccess {
		t.Errorf("forced 20: degree = %s", out.Degree)
	}
}

func TestResolver_NoCheckDoesNotRoll(t *testing.T) {
	src := Fixed(1)
	r := NewResolver(src, nil)
	out := r.Resolve(CheckNone, []Modifier{{"relationship", 2}})
	if out.CheckType != CheckNone || out.Degree != Success || out.Roll != 0 {
		t.Errorf("unexpected trivial outcome: %+v", out)
	}
	if src.Draws() != 0 {
		t.Errorf("CheckNone drew %d values", src.Draws())
	}
}

func TestResolver_Targets(t *testing.T) {
	r := NewResolver(Fixed(10), Targets{CheckPersuade: 15})
	if got := r.Target(CheckPersuade); got != 15 {
		t.Errorf("Target(persuade) = %d, want 15", got)
	}
	if got := r.Target(CheckStealth); got != DefaultTarget {
		t.Errorf("Target(stealth) = %d, want %d", got, DefaultTarget)
	}
}

func TestSeedFor(t *testing.T) {
	if SeedFor(1, "slot-a#3") != SeedFor(1, "slot-a#3") {
		t.Error("SeedFor is not deterministic")
	}
	if SeedFor(1, "slot-a#3") == SeedFor(1, "slot-a#4") {
		t.Error("SeedFor collides on adjacent turns")
	}
	if SeedFor(1, "slot-a#3") == SeedFor(2, "slot-a#3") {
		t.Error("SeedFor ignores the base seed")
	}
}

func TestOutcome_String(t *testing.T) {
	out := Evaluate(CheckPersuade, 14, []Modifier{{"relationship", 1}, {"flag", -2}}, 12)
	want := "persuade (14) +1 -2 = 13 vs 12 [success]"
	if got := out.String(); got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
	if got := NoCheck().String(); got != "no check [success]" {
		t.Errorf("NoCheck().String() = %q", got)
	}
}

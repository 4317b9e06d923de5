package bus

import (
	"math"
	"testing"

	"github.com/amplitude-audio/amplitude-go/internal/fade"
)

func newTestTree() (*Tree, *Bus, *Bus) {
	tree := NewTree()
	master := New(MasterID, MasterName)
	child := New(2, "sfx")
	master.AddChild(child)
	tree.AddBus(master)
	tree.AddBus(child)
	return tree, master, child
}

func TestBusFinalGainLaw(t *testing.T) {
	tree, master, child := newTestTree()
	master.SetUserGain(0.5)
	child.SetUserGain(0.8)

	tree.AdvanceFrame(1.0 / 60)

	want := 1.0 * 1.0 * 0.5 // master: parentFinal(1) x fade(1) x userGain(0.5) x duck(1)
	if math.Abs(master.FinalGain()-want) > 1e-6 {
		t.Fatalf("master final gain = %v, want %v", master.FinalGain(), want)
	}

	wantChild := master.FinalGain() * 1.0 * 0.8
	if math.Abs(child.FinalGain()-wantChild) > 1e-6 {
		t.Fatalf("child final gain = %v, want %v", child.FinalGain(), wantChild)
	}
}

func TestMuteForcesZeroFinalGain(t *testing.T) {
	tree, master, _ := newTestTree()
	master.SetMuted(true)
	tree.AdvanceFrame(1.0 / 60)
	if master.FinalGain() != 0 {
		t.Fatalf("muted bus must have zero final gain, got %v", master.FinalGain())
	}
}

func TestDuckingAttackAndRelease(t *testing.T) {
	// Scenario 6 (spec.md §8): bus A targets bus B with threshold 0.5 and
	// duck gain 0.25. Playing a sound on A at gain 1 should, within the
	// attack time, settle B's final gain at 0.25; after A quiets and the
	// release time elapses, B returns to 1.
	tree := NewTree()
	master := New(MasterID, MasterName)
	a := New(2, "a")
	b := New(3, "b")
	master.AddChild(a)
	master.AddChild(b)
	tree.AddBus(master)
	tree.AddBus(a)
	tree.AddBus(b)

	b.AddDuck(DuckTarget{TargetID: a.ID(), Threshold: 0.5, Attenuation: 0.25, Attack: 0.1, Release: 0.3})

	a.SetUserGain(1.0) // "playing a sound on A at gain 1": drives A's final gain to 1.

	const dt = 1.0 / 60
	steps := int(0.1/dt) + 5
	for i := 0; i < steps; i++ {
		tree.AdvanceFrame(dt)
	}
	if math.Abs(b.FinalGain()-0.25) > 0.02 {
		t.Fatalf("expected B to settle near 0.25 after attack, got %v", b.FinalGain())
	}

	a.SetUserGain(0) // sound stops on A
	steps = int(0.3/dt) + 5
	for i := 0; i < steps; i++ {
		tree.AdvanceFrame(dt)
	}
	if math.Abs(b.FinalGain()-1.0) > 0.02 {
		t.Fatalf("expected B to recover to 1.0 after release, got %v", b.FinalGain())
	}
}

func TestBusTreeLookup(t *testing.T) {
	tree, master, child := newTestTree()
	if got, ok := tree.ByID(MasterID); !ok || got != master {
		t.Fatal("expected to find master by id")
	}
	if got, ok := tree.ByName("sfx"); !ok || got != child {
		t.Fatal("expected to find child by name")
	}
	if tree.Master() != master {
		t.Fatal("expected Master() to return the registered master bus")
	}
}

func TestFaderCancellationReplacesTarget(t *testing.T) {
	f := fade.NewFader(0)
	f.SetTarget(1, 1.0, fade.Linear)
	f.Advance(0.5)
	if f.Current() <= 0 || f.Current() >= 1 {
		t.Fatalf("expected mid-fade value, got %v", f.Current())
	}
	// Reissuing a fade mid-flight cancels the previous one.
	f.SetTarget(0, 1.0, fade.Linear)
	if f.Target() != 0 {
		t.Fatal("new fade should replace target")
	}
}

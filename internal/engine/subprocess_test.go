//go:build !(js && wasm)

package engine

import "testing"

func TestExitCodeSuccessClassification(t *testing.T) {
	if ExitSpotless.Success() != true || ExitWarning.Success() != true {
		t.Fatalf("0 and 1 must both be Success")
	}
	if ExitError.Success() || ExitFatal.Success() {
		t.Fatalf("2 and 3 must not be Success")
	}
}

func TestSetIntVariableStoresKnobs(t *testing.T) {
	e := NewSubprocessEngine(t.TempDir())
	if err := e.SetIntVariable(KnobSynctexEnabled, 1); err != nil {
		t.Fatal(err)
	}
	if e.knobs[KnobSynctexEnabled] != 1 {
		t.Fatalf("expected knob to be recorded")
	}
}

func TestLastNonEmptyLineSkipsTrailingBlankLines(t *testing.T) {
	got := lastNonEmptyLine("first\nsecond\n\n")
	if got != "second" {
		t.Fatalf("lastNonEmptyLine = %q, want %q", got, "second")
	}
}

func TestCheckpointCallbackInvoked(t *testing.T) {
	e := NewSubprocessEngine(t.TempDir())
	var got CheckpointEvent
	e.SetCheckpointCallback(func(ev CheckpointEvent) { got = ev })
	// Simulate what RunXetex does on success without actually shelling
	// out to a real xelatex binary.
	if e.checkpoint != nil {
		e.checkpoint(CheckpointFormatLoaded)
	}
	if got != CheckpointFormatLoaded {
		t.Fatalf("checkpoint callback not invoked with expected event")
	}
}

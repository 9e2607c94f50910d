package worker

import "testing"

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		sum  Summary
		want int
	}{
		{"clean drain", Summary{State: StateDrained, Succeeded: 3}, ExitOK},
		{"empty backlog", Summary{State: StateDrained}, ExitOK},
		{"one failure", Summary{State: StateDrained, Succeeded: 2, Failed: 1}, ExitFailures},
		{"exhausted", Summary{State: StateExhausted, Exhausted: true}, ExitFailures},
		{"interrupted", Summary{State: StateInterrupted, Interrupted: true, Failed: 1}, ExitInterrupted},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.sum.ExitCode(); got != tt.want {
				t.Fatalf("ExitCode() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestStateString(t *testing.T) {
	if StateProcessing.String() != "processing" {
		t.Fatalf("unexpected %q", StateProcessing.String())
	}
	if State(0).String() != "unknown" {
		t.Fatalf("zero state should be unknown")
	}
}

package worker

import "testing"

func TestClassifyResult_Success(t *testing.T) {
	out := ClassifyResult(&InvocationResult{ExitCode: 0, ClaudeCompleted: true}, FileChanges{})
	if !out.Success || out.Note != "" {
		t.Errorf("got %+v, want success with no note", out)
	}
}

func TestClassifyResult_SuccessWithFilesNoTerminator(t *testing.T) {
	out := ClassifyResult(&InvocationResult{ExitCode: 0}, FileChanges{Created: []string{"a.go"}})
	if !out.Success {
		t.Error("expected success when files changed despite no completion terminator")
	}
	if out.Note == "" {
		t.Error("expected a note explaining the missing terminator")
	}
}

func TestClassifyResult_FailedNoFilesNoTerminator(t *testing.T) {
	out := ClassifyResult(&InvocationResult{ExitCode: 0}, FileChanges{})
	if out.Success {
		t.Error("expected failure when exit 0 but nothing changed and no terminator")
	}
}

func TestClassifyResult_Timeout(t *testing.T) {
	out := ClassifyResult(&InvocationResult{Timeout: true, ExitCode: -1}, FileChanges{})
	if out.Success {
		t.Error("expected failure on timeout")
	}
	if out.Note == "" {
		t.Error("expected a timeout note")
	}
}

func TestClassifyResult_NonZeroExit(t *testing.T) {
	out := ClassifyResult(&InvocationResult{ExitCode: 7}, FileChanges{})
	if out.Success {
		t.Error("expected failure on non-zero exit")
	}
	if out.Note == "" {
		t.Error("expected an exit-code note")
	}
}

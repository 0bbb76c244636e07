package voicecore

import "testing"

func TestResponseTracker_StartNewResponseIncrementsAndBecomesCurrent(t *testing.T) {
	tr := NewResponseTracker()
	if tr.Current() != 0 {
		t.Fatalf("expected no current response, got %d", tr.Current())
	}

	id1 := tr.StartNewResponse()
	id2 := tr.StartNewResponse()
	if id2 != id1+1 {
		t.Fatalf("expected monotonic ids, got %d then %d", id1, id2)
	}
	if !tr.IsCurrent(id2) {
		t.Fatal("newest response should be current")
	}
	if tr.IsCurrent(id1) {
		t.Fatal("older response should no longer be current")
	}
}

func TestResponseTracker_ConfirmPlaybackCompleteRejectsStaleID(t *testing.T) {
	tr := NewResponseTracker()
	id1 := tr.StartNewResponse()
	tr.StartNewResponse()

	if tr.ConfirmPlaybackComplete(id1) {
		t.Fatal("confirming a stale response id should fail")
	}
}

func TestResponseTracker_ConfirmPlaybackCompleteRejectsInterrupted(t *testing.T) {
	tr := NewResponseTracker()
	id := tr.StartNewResponse()
	tr.MarkInterrupted(id)

	if tr.ConfirmPlaybackComplete(id) {
		t.Fatal("confirming an interrupted response should fail")
	}
}

func TestResponseTracker_ConfirmPlaybackCompleteSucceedsForCurrentUninterrupted(t *testing.T) {
	tr := NewResponseTracker()
	id := tr.StartNewResponse()

	if !tr.ConfirmPlaybackComplete(id) {
		t.Fatal("expected confirmation to succeed for current, uninterrupted response")
	}
	// idempotent
	if !tr.ConfirmPlaybackComplete(id) {
		t.Fatal("expected repeated confirmation to still succeed")
	}
}

func TestResponseTracker_CancelCurrentMakesFollowUpChecksStale(t *testing.T) {
	tr := NewResponseTracker()
	id := tr.StartNewResponse()
	tr.CancelCurrent()

	if tr.ConfirmPlaybackComplete(id) {
		t.Fatal("expected cancelled response to fail confirmation")
	}
}

package domain

import (
	"testing"
	"time"
)

func TestCanTransition_AllowsValidMoves(t *testing.T) {
	valid := []struct{ from, to Status }{
		{StatusPending, StatusProcessing},
		{StatusPending, StatusFailed},
		{StatusProcessing, StatusProcessed},
		{StatusProcessing, StatusFailed},
	}
	for _, tr := range valid {
		if !CanTransition(tr.from, tr.to) {
			t.Errorf("CanTransition(%s, %s) = false, want true", tr.from, tr.to)
		}
	}
}

func TestCanTransition_RejectsInvalidMoves(t *testing.T) {
	invalid := []struct{ from, to Status }{
		{StatusPending, StatusProcessed},
		{StatusProcessing, StatusPending},
		{StatusProcessed, StatusFailed},
		{StatusProcessed, StatusProcessing},
		{StatusFailed, StatusProcessing},
		{StatusFailed, StatusPending},
	}
	for _, tr := range invalid {
		if CanTransition(tr.from, tr.to) {
			t.Errorf("CanTransition(%s, %s) = true, want false", tr.from, tr.to)
		}
	}
}

func TestStatus_InFlight(t *testing.T) {
	if !StatusPending.InFlight() {
		t.Error("pending should be in flight")
	}
	if !StatusProcessing.InFlight() {
		t.Error("processing should be in flight")
	}
	if StatusProcessed.InFlight() {
		t.Error("processed should not be in flight")
	}
	if StatusFailed.InFlight() {
		t.Error("failed should not be in flight")
	}
}

func TestStaleSince(t *testing.T) {
	created := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	claimed := created.Add(20 * time.Minute)

	// A pending record has no worker; a lost queue job leaves it pending
	// forever, so staleness runs from creation.
	pending := &Record{Status: StatusPending, CreatedAt: created}
	if got := pending.StaleSince(); !got.Equal(created) {
		t.Errorf("pending StaleSince() = %v, want creation time %v", got, created)
	}

	// A processing record is measured from the claim, so time spent queued
	// does not count against the execution window.
	processing := &Record{Status: StatusProcessing, CreatedAt: created, ProcessingStartedAt: &claimed}
	if got := processing.StaleSince(); !got.Equal(claimed) {
		t.Errorf("processing StaleSince() = %v, want claim time %v", got, claimed)
	}

	// A processing row without a claim stamp falls back to creation.
	legacy := &Record{Status: StatusProcessing, CreatedAt: created}
	if got := legacy.StaleSince(); !got.Equal(created) {
		t.Errorf("unstamped processing StaleSince() = %v, want creation time %v", got, created)
	}
}

func TestStatus_Terminal(t *testing.T) {
	if StatusPending.Terminal() || StatusProcessing.Terminal() {
		t.Error("in-flight statuses should not be terminal")
	}
	if !StatusProcessed.Terminal() || !StatusFailed.Terminal() {
		t.Error("processed and failed should be terminal")
	}
}

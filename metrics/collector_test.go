package metrics

import (
	"sync"
	"testing"
)

func TestCollector_IncrementMethods(t *testing.T) {
	c := NewCollector("coordinator", "echo", "fs", "run-001")

	c.IncActorAccepted()
	c.IncActorAccepted()
	c.IncActorCompleted()
	c.IncActorErrored("transport")
	c.IncActorErrored("protocol")
	c.IncActorErrored("protocol")
	c.IncHandshakeFailure()
	c.IncFrameError()
	c.AddMessages(10, 7)
	c.AddMessages(1, 1)
	c.IncFleetTimeout()
	c.AddLaunch(3, 1)
	c.IncStorageOp(true)
	c.IncStorageOp(true)
	c.IncStorageOp(false)
	c.IncRelayForwarded()
	c.IncRelayBuffered()
	c.AddRelayDelivered(2)
	c.AddRelayExpired(4)

	s := c.Snapshot()

	checks := []struct {
		name string
		got  int64
		want int64
	}{
		{"ActorsAccepted", s.ActorsAccepted, 2},
		{"ActorsCompleted", s.ActorsCompleted, 1},
		{"ActorsErrored", s.ActorsErrored, 3},
		{"HandshakeFailures", s.HandshakeFailures, 1},
		{"FrameErrors", s.FrameErrors, 1},
		{"MessagesIn", s.MessagesIn, 11},
		{"MessagesOut", s.MessagesOut, 8},
		{"FleetTimeouts", s.FleetTimeouts, 1},
		{"LaunchSuccess", s.LaunchSuccess, 3},
		{"LaunchFailure", s.LaunchFailure, 1},
		{"StorageOpSuccess", s.StorageOpSuccess, 2},
		{"StorageOpFailure", s.StorageOpFailure, 1},
		{"RelayForwarded", s.RelayForwarded, 1},
		{"RelayBuffered", s.RelayBuffered, 1},
		{"RelayDelivered", s.RelayDelivered, 2},
		{"RelayExpired", s.RelayExpired, 4},
		{"ErrorsByKind[protocol]", s.ErrorsByKind["protocol"], 2},
		{"ErrorsByKind[transport]", s.ErrorsByKind["transport"], 1},
	}
	for _, ck := range checks {
		if ck.got != ck.want {
			t.Errorf("%s = %d, want %d", ck.name, ck.got, ck.want)
		}
	}
}

func TestCollector_Dimensions(t *testing.T) {
	c := NewCollector("relay", "xcenc", "s3", "run-42")
	s := c.Snapshot()

	if s.Role != "relay" {
		t.Errorf("Role = %q, want %q", s.Role, "relay")
	}
	if s.Pipeline != "xcenc" {
		t.Errorf("Pipeline = %q, want %q", s.Pipeline, "xcenc")
	}
	if s.StorageBackend != "s3" {
		t.Errorf("StorageBackend = %q, want %q", s.StorageBackend, "s3")
	}
	if s.RunID != "run-42" {
		t.Errorf("RunID = %q, want %q", s.RunID, "run-42")
	}
}

func TestCollector_SnapshotImmutability(t *testing.T) {
	c := NewCollector("coordinator", "echo", "fs", "run-001")
	c.IncActorAccepted()
	c.IncActorErrored("frame")

	s1 := c.Snapshot()

	c.IncActorCompleted()
	c.IncActorErrored("frame")

	if s1.ActorsCompleted != 0 {
		t.Errorf("s1.ActorsCompleted = %d, want 0 (snapshot should be frozen)", s1.ActorsCompleted)
	}
	if s1.ErrorsByKind["frame"] != 1 {
		t.Errorf("s1.ErrorsByKind[frame] = %d, want 1 (snapshot should be frozen)", s1.ErrorsByKind["frame"])
	}

	// Mutating a snapshot's map does not reach the collector.
	s1.ErrorsByKind["injected"] = 1
	s2 := c.Snapshot()
	if _, exists := s2.ErrorsByKind["injected"]; exists {
		t.Error("ErrorsByKind should not contain key injected through a snapshot")
	}
	if s2.ErrorsByKind["frame"] != 2 {
		t.Errorf("s2.ErrorsByKind[frame] = %d, want 2", s2.ErrorsByKind["frame"])
	}
}

func TestCollector_NilReceiverSafety(t *testing.T) {
	var c *Collector

	// None of these should panic
	c.IncActorAccepted()
	c.IncActorCompleted()
	c.IncActorErrored("transport")
	c.IncHandshakeFailure()
	c.IncFrameError()
	c.AddMessages(1, 1)
	c.IncFleetTimeout()
	c.AddLaunch(1, 1)
	c.IncStorageOp(true)
	c.IncRelayForwarded()
	c.IncRelayBuffered()
	c.AddRelayDelivered(1)
	c.AddRelayExpired(1)

	s := c.Snapshot()
	if s.ActorsAccepted != 0 {
		t.Errorf("nil collector snapshot ActorsAccepted = %d, want 0", s.ActorsAccepted)
	}
	if s.ErrorsByKind != nil {
		t.Errorf("nil collector snapshot ErrorsByKind should be nil, got %v", s.ErrorsByKind)
	}
}

func TestCollector_ConcurrentAccess(t *testing.T) {
	c := NewCollector("worker", "echo", "memory", "run-001")
	const goroutines = 10
	const iterations = 1000

	var wg sync.WaitGroup
	wg.Add(goroutines)

	for range goroutines {
		go func() {
			defer wg.Done()
			for range iterations {
				c.IncStorageOp(true)
				c.IncRelayForwarded()
				c.AddMessages(1, 0)
			}
		}()
	}

	wg.Wait()

	s := c.Snapshot()
	want := int64(goroutines * iterations)

	if s.StorageOpSuccess != want {
		t.Errorf("StorageOpSuccess = %d, want %d", s.StorageOpSuccess, want)
	}
	if s.RelayForwarded != want {
		t.Errorf("RelayForwarded = %d, want %d", s.RelayForwarded, want)
	}
	if s.MessagesIn != want {
		t.Errorf("MessagesIn = %d, want %d", s.MessagesIn, want)
	}
}

package logging

import "testing"

func TestNew_UnknownLevelFallsBack(t *testing.T) {
	log, err := New("shouting", "progress")
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if !log.Core().Enabled(0) {
		t.Fatal("expected info level enabled")
	}
	if log.Core().Enabled(-1) {
		t.Fatal("expected debug level disabled")
	}
}

func TestNew_Debug(t *testing.T) {
	log, err := New("DEBUG")
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if !log.Core().Enabled(-1) {
		t.Fatal("expected debug level enabled")
	}
}

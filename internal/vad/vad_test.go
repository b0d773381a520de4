package vad

import (
	"testing"
	"time"
)

func loudFrame(n int) []float32 {
	frame := make([]float32, n)
	for i := range frame {
		frame[i] = 0.9
	}
	return frame
}

func quietFrame(n int) []float32 {
	return make([]float32, n)
}

func TestRMSDetectorRequiresConsecutiveFramesToConfirmSpeech(t *testing.T) {
	d := NewRMSDetector(0.4, 50*time.Millisecond, 3)

	for i := 0; i < 2; i++ {
		if _, fired := d.Process(loudFrame(160)); fired {
			t.Fatalf("frame %d: unexpected event before confirmation threshold", i)
		}
	}

	ev, fired := d.Process(loudFrame(160))
	if !fired || ev.Type != EventSpeechStart {
		t.Fatalf("expected SpeechStart on confirming frame, got fired=%v type=%v", fired, ev.Type)
	}
}

func TestRMSDetectorRejectsTransientSpike(t *testing.T) {
	d := NewRMSDetector(0.4, 50*time.Millisecond, 5)

	d.Process(loudFrame(160))
	d.Process(loudFrame(160))
	// Drop back to quiet before confirmation completes.
	d.Process(quietFrame(160))

	if d.IsSpeaking() {
		t.Fatalf("spike should not have confirmed speech")
	}
}

func TestRMSDetectorCommitsAfterSilenceLimit(t *testing.T) {
	d := NewRMSDetector(0.4, 10*time.Millisecond, 1)

	ev, fired := d.Process(loudFrame(160))
	if !fired || ev.Type != EventSpeechStart {
		t.Fatalf("expected immediate SpeechStart, got fired=%v", fired)
	}

	// Silence begins; must wait out silenceLimit before EventSpeechEnd.
	d.Process(quietFrame(160))
	time.Sleep(15 * time.Millisecond)
	ev, fired = d.Process(quietFrame(160))
	if !fired || ev.Type != EventSpeechEnd {
		t.Fatalf("expected SpeechEnd after silence limit elapsed, got fired=%v type=%v", fired, ev.Type)
	}
}

func TestFallbackDetectorHasNoConfirmationDelay(t *testing.T) {
	d := NewFallbackDetector(10 * time.Millisecond)
	ev, fired := d.Process(loudFrame(160))
	if !fired || ev.Type != EventSpeechStart {
		t.Fatalf("fallback detector should confirm speech on the first loud frame")
	}
}

func TestTrimSilenceDropsLeadingAndTrailingQuiet(t *testing.T) {
	var samples []float32
	samples = append(samples, quietFrame(1600)...)
	samples = append(samples, loudFrame(1600)...)
	samples = append(samples, quietFrame(1600)...)

	trimmed := TrimSilence(samples, 0.4)
	if len(trimmed) == 0 {
		t.Fatalf("expected the loud middle section to survive trimming")
	}
	if len(trimmed) >= len(samples) {
		t.Fatalf("trimmed length = %d, want less than input length %d", len(trimmed), len(samples))
	}
}

func TestTrimSilenceOnAllQuietReturnsEmpty(t *testing.T) {
	samples := quietFrame(3200)
	if got := TrimSilence(samples, 0.4); len(got) != 0 {
		t.Fatalf("TrimSilence(all quiet) length = %d, want 0", len(got))
	}
}

func TestResetClearsState(t *testing.T) {
	d := NewRMSDetector(0.4, 10*time.Millisecond, 1)
	d.Process(loudFrame(160))
	if !d.IsSpeaking() {
		t.Fatalf("expected speaking state before reset")
	}
	d.Reset()
	if d.IsSpeaking() {
		t.Fatalf("expected speaking state cleared after reset")
	}
}

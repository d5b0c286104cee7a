package logic

import (
	"testing"
	"time"
)

func TestDoorOpenHeldClose(t *testing.T) {
	start := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	d := NewDoorMonitor()
	th := Thresholds{DoorEnabled: true, DoorOpenMax: 3 * time.Minute}

	if ev := d.Observe(true, cold, start, th); len(ev) != 0 {
		t.Fatalf("expected no events before confirmation, got %v", ev)
	}
	ev := d.Observe(true, cold, start.Add(2*time.Second), th)
	if len(ev) != 1 || !ev[0].On || ev[0].HeldOpen {
		t.Fatalf("expected open event, got %+v", ev)
	}

	if ev := d.Observe(true, warm, start.Add(3*time.Minute), th); len(ev) != 0 {
		t.Errorf("expected nothing before the limit, got %+v", ev)
	}
	ev = d.Observe(true, warm, start.Add(3*time.Minute+2*time.Second), th)
	if len(ev) != 1 || !ev[0].HeldOpen || ev[0].Severity != SeverityWarning {
		t.Fatalf("expected held-open warning, got %+v", ev)
	}
	if ev := d.Observe(true, warm, start.Add(10*time.Minute), th); len(ev) != 0 {
		t.Errorf("held-open should be reported once, got %+v", ev)
	}

	d.Observe(false, warm, start.Add(12*time.Minute), th)
	ev = d.Observe(false, warm, start.Add(12*time.Minute+2*time.Second), th)
	if len(ev) != 1 || ev[0].On {
		t.Fatalf("expected close event, got %+v", ev)
	}
	if ev[0].Duration != 12*time.Minute {
		t.Errorf("expected 12m open, got %v", ev[0].Duration)
	}
	if ev[0].TempAtOpen != cold.Average {
		t.Errorf("expected temp at open %v, got %v", cold.Average, ev[0].TempAtOpen)
	}
	if d.State().Open {
		t.Error("expected door closed")
	}
}

func TestDoorBounceIgnored(t *testing.T) {
	start := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	d := NewDoorMonitor()
	th := Thresholds{DoorEnabled: true}

	d.Observe(true, cold, start, th)
	d.Observe(false, cold, start.Add(time.Second), th)
	if ev := d.Observe(true, cold, start.Add(2*time.Second), th); len(ev) != 0 {
		t.Errorf("bounce should restart the window, got %+v", ev)
	}
}

func TestDoorDisabled(t *testing.T) {
	start := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	d := NewDoorMonitor()
	th := Thresholds{DoorEnabled: false, DoorOpenMax: time.Minute}

	for i := 0; i < 100; i++ {
		if ev := d.Observe(true, cold, start.Add(time.Duration(i)*time.Second), th); len(ev) != 0 {
			t.Fatalf("disabled door produced events: %+v", ev)
		}
	}
}

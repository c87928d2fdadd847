package vm

import (
	"testing"
	"time"
)

func TestReclaimerGracePeriod(t *testing.T) {
	r := NewReclaimer(time.Minute, 0)
	now := time.Unix(1000, 0)
	r.now = func() time.Time { return now }

	r.Retire("first", []int{1})
	now = now.Add(30 * time.Second)
	r.Retire("second", []int{2})

	if stats := r.SweepNow(); stats.Released != 0 || stats.Pending != 2 {
		t.Errorf("early sweep = %+v", stats)
	}

	now = now.Add(31 * time.Second)
	if stats := r.SweepNow(); stats.Released != 1 || stats.Pending != 1 {
		t.Errorf("sweep after first grace = %+v", stats)
	}

	now = now.Add(time.Minute)
	r.SweepNow()
	retired, released := r.Totals()
	if retired != 2 || released != 2 || r.Pending() != 0 {
		t.Errorf("totals = %d/%d, pending %d", retired, released, r.Pending())
	}
	if r.SweepCount() != 3 {
		t.Errorf("SweepCount() = %d, want 3", r.SweepCount())
	}
}

func TestReclaimerKeepForever(t *testing.T) {
	r := NewReclaimer(-1, 0)
	r.Retire("kept", 1)
	if stats := r.SweepNow(); stats.Released != 0 || stats.Pending != 1 {
		t.Errorf("sweep = %+v", stats)
	}
}

func TestReclaimerStartStop(t *testing.T) {
	r := NewReclaimer(0, 5*time.Millisecond)
	r.Retire("x", 1)
	r.Start()
	r.Start() // no second loop

	deadline := time.Now().Add(5 * time.Second)
	for r.Pending() != 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	r.Stop()
	r.Stop()

	if r.Pending() != 0 {
		t.Error("background sweep did not release the retired value")
	}
	if r.LastStats() == nil {
		t.Error("LastStats() should be set after a sweep")
	}
}

func TestVMClassTableRetiresIntoReclaimer(t *testing.T) {
	vm := newTestVMWith(t, Config{ClassTableCapacity: 16, ReclaimGrace: -1})
	for i := range 64 {
		vm.LoadClass(NewClass(string(rune('A'+i%26))+string(rune('a'+i/26)), ""))
	}
	if vm.Reclaimer().Pending() == 0 {
		t.Error("class table growth should retire arrays to the VM reclaimer")
	}
}

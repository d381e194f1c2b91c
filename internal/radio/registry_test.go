package radio

import (
	"errors"
	"testing"
	"time"
)

func testRecord(id string) DiscoveryRecord {
	return DiscoveryRecord{
		Descriptor: Descriptor{
			ID:      id,
			Family:  FamilySocketRig,
			Model:   "AURORA-600",
			Serial:  "0042-1337",
			Address: "192.168.1.20:4992",
			Capabilities: []Capability{
				CapFrequency, CapMode, CapPTT,
			},
		},
		IntervalSec: 1,
		Payload:     map[string]string{"version": "2.4.1"},
	}
}

func TestRegistry_UpsertDeduplicates(t *testing.T) {
	r := NewRegistry(3)

	created := r.Upsert(testRecord("socketrig-0042-1337"))
	if !created {
		t.Error("first Upsert should report a new device")
	}

	// Repeated broadcasts inside the expiry window must never produce
	// a second descriptor.
	for i := 0; i < 5; i++ {
		if r.Upsert(testRecord("socketrig-0042-1337")) {
			t.Errorf("duplicate broadcast %d reported as new", i)
		}
	}

	if got := r.Count(); got != 1 {
		t.Errorf("Count() = %d after duplicate broadcasts, want 1", got)
	}
}

func TestRegistry_UpsertRefreshesLastSeen(t *testing.T) {
	r := NewRegistry(3)

	rec := testRecord("socketrig-0042-1337")
	rec.LastSeen = time.Now().UTC().Add(-10 * time.Second)
	r.Upsert(rec)

	fresh := testRecord("socketrig-0042-1337")
	fresh.LastSeen = time.Now().UTC()
	r.Upsert(fresh)

	got, err := r.Get("socketrig-0042-1337")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if time.Since(got.LastSeen) > 5*time.Second {
		t.Errorf("LastSeen = %v, want refreshed", got.LastSeen)
	}
}

func TestRegistry_ExpireStale(t *testing.T) {
	r := NewRegistry(3)

	rec := testRecord("socketrig-0042-1337")
	rec.LastSeen = time.Now().UTC().Add(-10 * time.Second)
	r.Upsert(rec)

	// 10s of silence against a 1s advertised interval and 3x multiplier
	// is well past the threshold.
	evicted := r.ExpireStale(time.Now().UTC())
	if len(evicted) != 1 {
		t.Fatalf("ExpireStale() evicted %d devices, want 1", len(evicted))
	}
	if evicted[0].ID != "socketrig-0042-1337" {
		t.Errorf("evicted id = %q, want socketrig-0042-1337", evicted[0].ID)
	}

	// A second sweep must not report the same device again.
	if again := r.ExpireStale(time.Now().UTC()); len(again) != 0 {
		t.Errorf("second ExpireStale() evicted %d devices, want 0", len(again))
	}

	if got := r.Count(); got != 0 {
		t.Errorf("Count() = %d after expiry, want 0", got)
	}
}

func TestRegistry_ExpireStale_WithinThreshold(t *testing.T) {
	r := NewRegistry(3)

	rec := testRecord("socketrig-0042-1337")
	rec.LastSeen = time.Now().UTC().Add(-2 * time.Second)
	r.Upsert(rec)

	if evicted := r.ExpireStale(time.Now().UTC()); len(evicted) != 0 {
		t.Errorf("ExpireStale() evicted a device still inside its window")
	}
}

func TestRegistry_ExpireStale_ManualExempt(t *testing.T) {
	r := NewRegistry(3)

	desc := Descriptor{
		ID:      "polledrig-shack",
		Family:  FamilyPolledRig,
		Address: "localhost:4532",
	}
	if err := r.AddManual(desc); err != nil {
		t.Fatalf("AddManual() error = %v", err)
	}

	// Far future: any discovered record would be long expired.
	future := time.Now().UTC().Add(24 * time.Hour)
	if evicted := r.ExpireStale(future); len(evicted) != 0 {
		t.Errorf("ExpireStale() evicted a manual device")
	}

	if got := r.Count(); got != 1 {
		t.Errorf("Count() = %d, want manual device retained", got)
	}
}

func TestRegistry_UpsertPreservesManualOrigin(t *testing.T) {
	r := NewRegistry(3)

	if err := r.AddManual(Descriptor{
		ID:      "socketrig-0042-1337",
		Family:  FamilySocketRig,
		Address: "192.168.1.20:4992",
	}); err != nil {
		t.Fatalf("AddManual() error = %v", err)
	}

	// The same radio also broadcasts; its announcements refresh the
	// record but must not make it expirable.
	r.Upsert(testRecord("socketrig-0042-1337"))

	got, err := r.Get("socketrig-0042-1337")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Descriptor.Origin != OriginManual {
		t.Errorf("Origin = %q after broadcast, want manual", got.Descriptor.Origin)
	}
}

func TestRegistry_AddManual_Duplicate(t *testing.T) {
	r := NewRegistry(3)

	desc := Descriptor{ID: "lineacc-sw-01", Family: FamilyLineAcc, Address: "10.0.0.5:9007"}
	if err := r.AddManual(desc); err != nil {
		t.Fatalf("AddManual() error = %v", err)
	}

	err := r.AddManual(desc)
	if !errors.Is(err, ErrDeviceExists) {
		t.Errorf("AddManual() duplicate error = %v, want ErrDeviceExists", err)
	}
}

func TestRegistry_GetNotFound(t *testing.T) {
	r := NewRegistry(3)

	_, err := r.Get("nope")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Get() error = %v, want ErrNotFound", err)
	}
}

func TestRegistry_RemoveReturnsDescriptor(t *testing.T) {
	r := NewRegistry(3)
	r.Upsert(testRecord("socketrig-0042-1337"))

	desc, err := r.Remove("socketrig-0042-1337")
	if err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	if desc.Model != "AURORA-600" {
		t.Errorf("removed descriptor model = %q, want AURORA-600", desc.Model)
	}

	if _, err := r.Remove("socketrig-0042-1337"); !errors.Is(err, ErrNotFound) {
		t.Errorf("second Remove() error = %v, want ErrNotFound", err)
	}
}

func TestRegistry_ListSorted(t *testing.T) {
	r := NewRegistry(3)
	r.Upsert(testRecord("socketrig-zzz"))
	r.Upsert(testRecord("socketrig-aaa"))
	r.Upsert(testRecord("socketrig-mmm"))

	list := r.List()
	if len(list) != 3 {
		t.Fatalf("List() returned %d records, want 3", len(list))
	}
	for i := 1; i < len(list); i++ {
		if list[i-1].Descriptor.ID > list[i].Descriptor.ID {
			t.Errorf("List() not sorted: %q before %q",
				list[i-1].Descriptor.ID, list[i].Descriptor.ID)
		}
	}
}

func TestRegistry_CopyIsolation(t *testing.T) {
	r := NewRegistry(3)
	r.Upsert(testRecord("socketrig-0042-1337"))

	got, err := r.Get("socketrig-0042-1337")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}

	// Mutating the returned copy must not touch the cached record.
	got.Payload["version"] = "tampered"
	got.Descriptor.Capabilities[0] = CapAntenna

	clean, err := r.Get("socketrig-0042-1337")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if clean.Payload["version"] != "2.4.1" {
		t.Error("registry payload mutated through a returned copy")
	}
	if clean.Descriptor.Capabilities[0] != CapFrequency {
		t.Error("registry capabilities mutated through a returned copy")
	}
}

func TestRegistry_GetStats(t *testing.T) {
	r := NewRegistry(3)
	r.Upsert(testRecord("socketrig-0042-1337"))
	if err := r.AddManual(Descriptor{
		ID: "polledrig-shack", Family: FamilyPolledRig, Address: "localhost:4532",
	}); err != nil {
		t.Fatalf("AddManual() error = %v", err)
	}

	stats := r.GetStats()
	if stats.Devices != 2 {
		t.Errorf("Stats.Devices = %d, want 2", stats.Devices)
	}
	if stats.ByFamily[FamilySocketRig] != 1 || stats.ByFamily[FamilyPolledRig] != 1 {
		t.Errorf("Stats.ByFamily = %v, want one of each", stats.ByFamily)
	}
	if stats.ByOrigin[OriginManual] != 1 {
		t.Errorf("Stats.ByOrigin = %v, want one manual", stats.ByOrigin)
	}
	if stats.UpsertsTotal != 1 {
		t.Errorf("Stats.UpsertsTotal = %d, want 1", stats.UpsertsTotal)
	}
}

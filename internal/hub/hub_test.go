package hub

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/log4ym/station-core/internal/radio"
)

func testDescriptor(id string) radio.Descriptor {
	return radio.Descriptor{
		ID:           id,
		Family:       radio.FamilySocketRig,
		Model:        "FLEX-6400",
		Serial:       "1234-5678",
		Address:      "192.168.1.50:4992",
		Capabilities: []radio.Capability{radio.CapFrequency, radio.CapMode},
		Origin:       radio.OriginDiscovered,
	}
}

func nextEvent(t *testing.T, sub *Subscriber) Event {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	ev, err := sub.Next(ctx)
	if err != nil {
		t.Fatalf("Next() error = %v", err)
	}
	return ev
}

func TestHub_PublishAndReceive(t *testing.T) {
	h := New(0)
	sub := h.Subscribe()
	defer h.Unsubscribe(sub.ID())

	h.PublishState("radio-1", radio.State{FrequencyHz: 14_250_000, Mode: "USB"})

	ev := nextEvent(t, sub)
	if ev.Type != EventStateChanged {
		t.Errorf("event type = %q, want %q", ev.Type, EventStateChanged)
	}
	if ev.DeviceID != "radio-1" {
		t.Errorf("device id = %q, want radio-1", ev.DeviceID)
	}
	st, ok := ev.Payload.(radio.State)
	if !ok {
		t.Fatalf("payload type = %T, want radio.State", ev.Payload)
	}
	if st.FrequencyHz != 14_250_000 || st.Mode != "USB" {
		t.Errorf("payload = %+v", st)
	}
}

func TestHub_FanOut(t *testing.T) {
	h := New(0)
	a := h.Subscribe()
	b := h.Subscribe()
	defer h.Unsubscribe(a.ID())
	defer h.Unsubscribe(b.ID())

	h.PublishState("radio-1", radio.State{FrequencyHz: 7_030_000, Mode: "CW"})

	for _, sub := range []*Subscriber{a, b} {
		ev := nextEvent(t, sub)
		if ev.DeviceID != "radio-1" {
			t.Errorf("subscriber %s got device %q", sub.ID(), ev.DeviceID)
		}
	}
}

func TestHub_SlowSubscriberDropsNotBlocks(t *testing.T) {
	h := New(4)
	sub := h.Subscribe()
	defer h.Unsubscribe(sub.ID())

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			h.PublishState("radio-1", radio.State{FrequencyHz: int64(i)})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publishing blocked on a slow subscriber")
	}

	if got := sub.Len(); got != 4 {
		t.Errorf("queue length = %d, want 4", got)
	}
	if got := sub.Dropped(); got != 96 {
		t.Errorf("dropped = %d, want 96", got)
	}
	if stats := h.GetStats(); stats.DroppedTotal != 96 {
		t.Errorf("hub dropped total = %d, want 96", stats.DroppedTotal)
	}
}

func TestHub_RehydrateOrder(t *testing.T) {
	h := New(0)

	// Two devices, deliberately published out of ID order.
	descB := testDescriptor("radio-b")
	descA := testDescriptor("radio-a")
	h.PublishDeviceDiscovered(descB)
	h.PublishDeviceDiscovered(descA)
	h.PublishConnectionState("radio-a", radio.ConnectionMonitoring, "")
	h.PublishState("radio-a", radio.State{FrequencyHz: 14_074_000, Mode: "DIGU"})

	sub := h.Subscribe()
	defer h.Unsubscribe(sub.ID())

	if err := h.Rehydrate(sub.ID()); err != nil {
		t.Fatalf("Rehydrate() error = %v", err)
	}

	// radio-a has a known state, radio-b does not: 3 + 2 events.
	wantTypes := []struct {
		typ      EventType
		deviceID string
	}{
		{EventDeviceDiscovered, "radio-a"},
		{EventConnectionStateChanged, "radio-a"},
		{EventStateChanged, "radio-a"},
		{EventDeviceDiscovered, "radio-b"},
		{EventConnectionStateChanged, "radio-b"},
	}

	for i, want := range wantTypes {
		ev, ok := sub.TryNext()
		if !ok {
			t.Fatalf("event %d: queue empty", i)
		}
		if ev.Type != want.typ || ev.DeviceID != want.deviceID {
			t.Errorf("event %d = (%s, %s), want (%s, %s)",
				i, ev.Type, ev.DeviceID, want.typ, want.deviceID)
		}
		if !ev.Snapshot {
			t.Errorf("event %d: snapshot flag not set", i)
		}
	}
	if _, ok := sub.TryNext(); ok {
		t.Error("unexpected extra event after snapshot")
	}
}

func TestHub_RehydrateReplacesQueuedEvents(t *testing.T) {
	h := New(0)
	sub := h.Subscribe()
	defer h.Unsubscribe(sub.ID())

	h.PublishDeviceDiscovered(testDescriptor("radio-1"))
	h.PublishState("radio-1", radio.State{FrequencyHz: 1})
	h.PublishState("radio-1", radio.State{FrequencyHz: 2})

	if err := h.Rehydrate(sub.ID()); err != nil {
		t.Fatalf("Rehydrate() error = %v", err)
	}

	// The snapshot replaces the three queued live events: descriptor,
	// connection, and only the latest state.
	var got []Event
	for {
		ev, ok := sub.TryNext()
		if !ok {
			break
		}
		got = append(got, ev)
	}
	if len(got) != 3 {
		t.Fatalf("queued events = %d, want 3", len(got))
	}
	st := got[2].Payload.(radio.State)
	if st.FrequencyHz != 2 {
		t.Errorf("snapshot state frequency = %d, want 2", st.FrequencyHz)
	}
}

func TestHub_RehydrateUnknownSubscriber(t *testing.T) {
	h := New(0)
	if err := h.Rehydrate("nope"); !errors.Is(err, ErrUnknownSubscriber) {
		t.Errorf("Rehydrate() error = %v, want ErrUnknownSubscriber", err)
	}
}

func TestHub_DisconnectSupersedesQueuedState(t *testing.T) {
	h := New(0)
	sub := h.Subscribe()
	defer h.Unsubscribe(sub.ID())

	h.PublishState("radio-1", radio.State{FrequencyHz: 14_250_000, Transmitting: true})
	h.PublishState("radio-2", radio.State{FrequencyHz: 7_030_000})
	h.PublishConnectionState("radio-1", radio.ConnectionDisconnected, "")

	var got []Event
	for {
		ev, ok := sub.TryNext()
		if !ok {
			break
		}
		got = append(got, ev)
	}

	if len(got) != 2 {
		t.Fatalf("queued events = %d, want 2 (radio-2 state + radio-1 disconnect)", len(got))
	}
	if got[0].Type != EventStateChanged || got[0].DeviceID != "radio-2" {
		t.Errorf("event 0 = (%s, %s), want stateChanged for radio-2", got[0].Type, got[0].DeviceID)
	}
	if got[1].Type != EventConnectionStateChanged || got[1].DeviceID != "radio-1" {
		t.Errorf("event 1 = (%s, %s), want connectionStateChanged for radio-1", got[1].Type, got[1].DeviceID)
	}
}

func TestHub_DisconnectMarksCachedStateStale(t *testing.T) {
	h := New(0)
	h.PublishDeviceDiscovered(testDescriptor("radio-1"))
	h.PublishState("radio-1", radio.State{FrequencyHz: 14_250_000, Transmitting: true})

	h.PublishConnectionState("radio-1", radio.ConnectionError, "read timeout")

	snap, err := h.Device("radio-1")
	if err != nil {
		t.Fatalf("Device() error = %v", err)
	}
	if snap.State == nil {
		t.Fatal("snapshot state missing")
	}
	if !snap.State.Stale {
		t.Error("cached state not marked stale after connection error")
	}
	if snap.Connection.State != radio.ConnectionError {
		t.Errorf("connection state = %q, want error", snap.Connection.State)
	}
	if snap.Connection.Error != "read timeout" {
		t.Errorf("connection error = %q", snap.Connection.Error)
	}
}

func TestHub_InitialConnectionDefaults(t *testing.T) {
	h := New(0)

	discovered := testDescriptor("radio-d")
	h.PublishDeviceDiscovered(discovered)

	manual := testDescriptor("radio-m")
	manual.Origin = radio.OriginManual
	h.PublishDeviceDiscovered(manual)

	if change, _ := h.ConnectionState("radio-d"); change.State != radio.ConnectionDiscovering {
		t.Errorf("discovered initial state = %q, want discovering", change.State)
	}
	if change, _ := h.ConnectionState("radio-m"); change.State != radio.ConnectionDisconnected {
		t.Errorf("manual initial state = %q, want disconnected", change.State)
	}
}

func TestHub_DeviceRemovedClearsCaches(t *testing.T) {
	h := New(0)
	desc := testDescriptor("radio-1")
	h.PublishDeviceDiscovered(desc)
	h.PublishState("radio-1", radio.State{FrequencyHz: 1})

	h.PublishDeviceRemoved(desc)

	if _, err := h.Device("radio-1"); !errors.Is(err, radio.ErrNotFound) {
		t.Errorf("Device() error = %v, want ErrNotFound", err)
	}
	if got := h.Devices(); len(got) != 0 {
		t.Errorf("Devices() length = %d, want 0", len(got))
	}
}

func TestHub_DevicesSortedByID(t *testing.T) {
	h := New(0)
	for _, id := range []string{"radio-c", "radio-a", "radio-b"} {
		h.PublishDeviceDiscovered(testDescriptor(id))
	}

	devices := h.Devices()
	if len(devices) != 3 {
		t.Fatalf("Devices() length = %d, want 3", len(devices))
	}
	want := []string{"radio-a", "radio-b", "radio-c"}
	for i, dev := range devices {
		if dev.Descriptor.ID != want[i] {
			t.Errorf("devices[%d] = %q, want %q", i, dev.Descriptor.ID, want[i])
		}
	}
}

func TestHub_UnsubscribeClosesSubscriber(t *testing.T) {
	h := New(0)
	sub := h.Subscribe()

	h.PublishState("radio-1", radio.State{FrequencyHz: 1})
	if err := h.Unsubscribe(sub.ID()); err != nil {
		t.Fatalf("Unsubscribe() error = %v", err)
	}

	// The queued event is still readable, then the closed error.
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err := sub.Next(ctx); err != nil {
		t.Fatalf("Next() before drain error = %v", err)
	}
	if _, err := sub.Next(ctx); !errors.Is(err, ErrSubscriberClosed) {
		t.Errorf("Next() after drain error = %v, want ErrSubscriberClosed", err)
	}

	if err := h.Unsubscribe(sub.ID()); !errors.Is(err, ErrUnknownSubscriber) {
		t.Errorf("second Unsubscribe() error = %v, want ErrUnknownSubscriber", err)
	}
}

func TestHub_NextHonoursContext(t *testing.T) {
	h := New(0)
	sub := h.Subscribe()
	defer h.Unsubscribe(sub.ID())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := sub.Next(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Next() error = %v, want deadline exceeded", err)
	}
}

func TestHub_PublishTimestampsDefaulted(t *testing.T) {
	h := New(0)
	sub := h.Subscribe()
	defer h.Unsubscribe(sub.ID())

	h.Publish(Event{Type: EventDigitalDecode, Payload: "decode"})

	ev := nextEvent(t, sub)
	if ev.Timestamp.IsZero() {
		t.Error("timestamp not defaulted")
	}
}

func TestHub_CloseDetachesAll(t *testing.T) {
	h := New(0)
	a := h.Subscribe()
	b := h.Subscribe()

	h.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	for _, sub := range []*Subscriber{a, b} {
		if _, err := sub.Next(ctx); !errors.Is(err, ErrSubscriberClosed) {
			t.Errorf("Next() error = %v, want ErrSubscriberClosed", err)
		}
	}
	if stats := h.GetStats(); stats.Subscribers != 0 {
		t.Errorf("subscribers after close = %d, want 0", stats.Subscribers)
	}
}

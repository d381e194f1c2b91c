package radio

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Logger defines the logging interface used by the Registry.
// This allows different logging implementations to be used.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Registry is the table of known devices, fed by passive discovery
// listeners and by manually configured radios.
//
// All public methods are thread-safe; records handed out are deep
// copies so callers can never mutate the cache. Discovered records age
// out when their broadcasts stop; manual records never do.
type Registry struct {
	mu      sync.RWMutex
	records map[string]*DiscoveryRecord

	// expiryMultiplier scales each record's advertised broadcast
	// interval into its silence threshold.
	expiryMultiplier float64

	logger Logger

	upsertsTotal atomic.Uint64
	expiredTotal atomic.Uint64
}

// NewRegistry creates an empty registry. The multiplier is clamped to a
// minimum of 1 so a misconfigured value can never expire a device that
// is still broadcasting on schedule.
func NewRegistry(expiryMultiplier float64) *Registry {
	if expiryMultiplier < 1 {
		expiryMultiplier = 1
	}
	return &Registry{
		records:          make(map[string]*DiscoveryRecord),
		expiryMultiplier: expiryMultiplier,
		logger:           noopLogger{},
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

// Upsert inserts or refreshes a discovery record, keyed by the
// descriptor's stable id. Returns true when the device was not
// previously known. A broadcast matching a manually configured device
// refreshes its liveness but never demotes its manual origin.
func (r *Registry) Upsert(rec DiscoveryRecord) bool {
	if rec.LastSeen.IsZero() {
		rec.LastSeen = time.Now().UTC()
	}
	if rec.Descriptor.Origin == "" {
		rec.Descriptor.Origin = OriginDiscovered
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.records[rec.Descriptor.ID]
	if ok && existing.Descriptor.Origin == OriginManual {
		rec.Descriptor.Origin = OriginManual
	}
	r.records[rec.Descriptor.ID] = rec.DeepCopy()
	r.upsertsTotal.Add(1)

	if !ok {
		r.logger.Info("device registered",
			"id", rec.Descriptor.ID,
			"family", rec.Descriptor.Family,
			"model", rec.Descriptor.Model,
			"address", rec.Descriptor.Address,
		)
	}
	return !ok
}

// AddManual registers a manually configured device. Manual devices are
// exempt from discovery-silence expiry and can only leave the registry
// through Remove.
func (r *Registry) AddManual(desc Descriptor) error {
	desc.Origin = OriginManual

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.records[desc.ID]; ok {
		return ErrDeviceExists
	}
	r.records[desc.ID] = &DiscoveryRecord{
		Descriptor: *desc.DeepCopy(),
		LastSeen:   time.Now().UTC(),
	}

	r.logger.Info("manual device registered",
		"id", desc.ID,
		"family", desc.Family,
		"address", desc.Address,
	)
	return nil
}

// Get retrieves a record by device id.
// The returned record is a deep copy; callers can safely modify it.
func (r *Registry) Get(id string) (*DiscoveryRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	return rec.DeepCopy(), nil
}

// List retrieves all records ordered by device id.
// The returned records are deep copies; callers can safely modify them.
func (r *Registry) List() []DiscoveryRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]DiscoveryRecord, 0, len(r.records))
	for _, rec := range r.records {
		out = append(out, *rec.DeepCopy())
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Descriptor.ID < out[j].Descriptor.ID
	})
	return out
}

// Remove deletes a record and returns its descriptor.
func (r *Registry) Remove(id string) (*Descriptor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	delete(r.records, id)

	r.logger.Info("device removed", "id", id)
	return rec.Descriptor.DeepCopy(), nil
}

// ExpireStale evicts every discovered record whose broadcasts have been
// silent for longer than the expiry threshold and returns the evicted
// descriptors, each at most once. Manual devices are never evicted.
func (r *Registry) ExpireStale(now time.Time) []Descriptor {
	r.mu.Lock()
	defer r.mu.Unlock()

	var evicted []Descriptor
	for id, rec := range r.records {
		if rec.Descriptor.Origin == OriginManual {
			continue
		}
		threshold := time.Duration(float64(rec.Interval()) * r.expiryMultiplier)
		if now.Sub(rec.LastSeen) > threshold {
			evicted = append(evicted, *rec.Descriptor.DeepCopy())
			delete(r.records, id)
			r.expiredTotal.Add(1)
			r.logger.Info("device expired",
				"id", id,
				"last_seen", rec.LastSeen,
				"threshold", threshold,
			)
		}
	}
	return evicted
}

// Count returns the number of registered devices.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.records)
}

// Stats holds registry statistics for monitoring.
type Stats struct {
	Devices      int               `json:"devices"`
	ByFamily     map[Family]int    `json:"by_family"`
	ByOrigin     map[Origin]int    `json:"by_origin"`
	UpsertsTotal uint64            `json:"upserts_total"`
	ExpiredTotal uint64            `json:"expired_total"`
}

// GetStats returns current registry statistics.
func (r *Registry) GetStats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := Stats{
		Devices:      len(r.records),
		ByFamily:     make(map[Family]int),
		ByOrigin:     make(map[Origin]int),
		UpsertsTotal: r.upsertsTotal.Load(),
		ExpiredTotal: r.expiredTotal.Load(),
	}

	for _, rec := range r.records {
		stats.ByFamily[rec.Descriptor.Family]++
		stats.ByOrigin[rec.Descriptor.Origin]++
	}

	return stats
}

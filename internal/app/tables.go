package app

import (
	"fmt"
	"sync"

	"github.com/huddlelabs/huddle/internal/core"
	"github.com/huddlelabs/huddle/internal/domain"
)

// MediaTables are the flat transport/producer/consumer tables, keyed by
// handle id. One mutex covers all three so cross-table operations (consumer
// back-references, remove-all on disconnect) are atomic.
type MediaTables struct {
	mu         sync.RWMutex
	transports map[string]*core.TransportRecord
	producers  map[string]*core.ProducerRecord
	consumers  map[string]*core.ConsumerRecord
}

func NewMediaTables() *MediaTables {
	return &MediaTables{
		transports: make(map[string]*core.TransportRecord),
		producers:  make(map[string]*core.ProducerRecord),
		consumers:  make(map[string]*core.ConsumerRecord),
	}
}

// AddTransport stores a record. A second send transport for the same
// connection is rejected deterministically.
func (t *MediaTables) AddTransport(rec core.TransportRecord) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !rec.ReceiveOnly {
		for _, existing := range t.transports {
			if existing.ConnID == rec.ConnID && !existing.ReceiveOnly {
				return fmt.Errorf("%w: connection %s already owns send transport %s", domain.ErrValidation, rec.ConnID, existing.Transport.ID())
			}
		}
	}
	t.transports[rec.Transport.ID()] = &rec
	return nil
}

// FindSendTransport locates the unique send transport of a connection.
// Zero matches is ErrNotFound; more than one is an invariant violation and
// fails fast instead of silently picking one.
func (t *MediaTables) FindSendTransport(connID core.ConnectionID) (core.TransportRecord, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var found *core.TransportRecord
	for _, rec := range t.transports {
		if rec.ConnID != connID || rec.ReceiveOnly {
			continue
		}
		if found != nil {
			return core.TransportRecord{}, fmt.Errorf("%w: multiple send transports for connection %s", domain.ErrInvariant, connID)
		}
		found = rec
	}
	if found == nil {
		return core.TransportRecord{}, fmt.Errorf("%w: no send transport for connection %s", domain.ErrNotFound, connID)
	}
	return *found, nil
}

func (t *MediaTables) FindReceiveTransport(connID core.ConnectionID, transportID string) (core.TransportRecord, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	rec, ok := t.transports[transportID]
	if !ok || rec.ConnID != connID || !rec.ReceiveOnly {
		return core.TransportRecord{}, fmt.Errorf("%w: no receive transport %s for connection %s", domain.ErrNotFound, transportID, connID)
	}
	return *rec, nil
}

func (t *MediaTables) AddProducer(rec core.ProducerRecord) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.producers[rec.Producer.ID()] = &rec
}

// AddConsumer stores the record and back-references it from its producer so
// a producer close cascades in a single traversal.
func (t *MediaTables) AddConsumer(rec core.ConsumerRecord) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.consumers[rec.Consumer.ID()] = &rec
	if prod, ok := t.producers[rec.ProducerID]; ok {
		prod.ConsumerIDs = append(prod.ConsumerIDs, rec.Consumer.ID())
	}
}

func (t *MediaTables) Producer(id string) (core.ProducerRecord, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	rec, ok := t.producers[id]
	if !ok {
		return core.ProducerRecord{}, false
	}
	return cloneProducer(rec), true
}

func (t *MediaTables) Consumer(id string) (core.ConsumerRecord, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	rec, ok := t.consumers[id]
	if !ok {
		return core.ConsumerRecord{}, false
	}
	return *rec, true
}

// ProducersInRoom snapshots every producer record of a room, excluding the
// given connection's own.
func (t *MediaTables) ProducersInRoom(room domain.RoomName, except core.ConnectionID) []core.ProducerRecord {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]core.ProducerRecord, 0, len(t.producers))
	for _, rec := range t.producers {
		if rec.Room == room && rec.ConnID != except {
			out = append(out, cloneProducer(rec))
		}
	}
	return out
}

// ProducersOfConnection snapshots every producer record a connection owns.
func (t *MediaTables) ProducersOfConnection(connID core.ConnectionID) []core.ProducerRecord {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]core.ProducerRecord, 0, 2)
	for _, rec := range t.producers {
		if rec.ConnID == connID {
			out = append(out, cloneProducer(rec))
		}
	}
	return out
}

// HasOtherProducers reports whether any producer exists in the room besides
// those of the given connection.
func (t *MediaTables) HasOtherProducers(room domain.RoomName, except core.ConnectionID) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, rec := range t.producers {
		if rec.Room == room && rec.ConnID != except {
			return true
		}
	}
	return false
}

// RemoveConsumer purges the record and its producer back-reference.
// Idempotent: a second call for the same id is a no-op.
func (t *MediaTables) RemoveConsumer(id string) (core.ConsumerRecord, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	rec, ok := t.consumers[id]
	if !ok {
		return core.ConsumerRecord{}, false
	}
	delete(t.consumers, id)
	if prod, ok := t.producers[rec.ProducerID]; ok {
		prod.ConsumerIDs = withoutID(prod.ConsumerIDs, id)
	}
	return *rec, true
}

// RemoveProducer purges the record. The returned record carries the ids of
// its dependent consumers for the caller's cascade.
func (t *MediaTables) RemoveProducer(id string) (core.ProducerRecord, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	rec, ok := t.producers[id]
	if !ok {
		return core.ProducerRecord{}, false
	}
	delete(t.producers, id)
	return cloneProducer(rec), true
}

// ConsumersOfTransport snapshots every consumer living on one receive
// transport.
func (t *MediaTables) ConsumersOfTransport(transportID string) []core.ConsumerRecord {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]core.ConsumerRecord, 0, 1)
	for _, rec := range t.consumers {
		if rec.TransportID == transportID {
			out = append(out, *rec)
		}
	}
	return out
}

func (t *MediaTables) RemoveTransport(id string) (core.TransportRecord, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	rec, ok := t.transports[id]
	if !ok {
		return core.TransportRecord{}, false
	}
	delete(t.transports, id)
	return *rec, true
}

// takeAllForConnection atomically removes and returns every record owned by
// a connection.
func (t *MediaTables) takeAllForConnection(connID core.ConnectionID) ([]core.TransportRecord, []core.ProducerRecord, []core.ConsumerRecord) {
	t.mu.Lock()
	defer t.mu.Unlock()
	var transports []core.TransportRecord
	var producers []core.ProducerRecord
	var consumers []core.ConsumerRecord
	for id, rec := range t.transports {
		if rec.ConnID == connID {
			transports = append(transports, *rec)
			delete(t.transports, id)
		}
	}
	for id, rec := range t.producers {
		if rec.ConnID == connID {
			producers = append(producers, cloneProducer(rec))
			delete(t.producers, id)
		}
	}
	for id, rec := range t.consumers {
		if rec.ConnID == connID {
			consumers = append(consumers, *rec)
			delete(t.consumers, id)
			if prod, ok := t.producers[rec.ProducerID]; ok {
				prod.ConsumerIDs = withoutID(prod.ConsumerIDs, id)
			}
		}
	}
	return transports, producers, consumers
}

// withoutID never shifts the backing array in place: snapshots handed out
// by the accessors may still be reading it outside the table lock.
func withoutID(ids []string, id string) []string {
	for i, v := range ids {
		if v == id {
			out := make([]string, 0, len(ids)-1)
			out = append(out, ids[:i]...)
			return append(out, ids[i+1:]...)
		}
	}
	return ids
}

// cloneProducer copies the record with its own ConsumerIDs array, so the
// caller can iterate it outside the table lock.
func cloneProducer(rec *core.ProducerRecord) core.ProducerRecord {
	out := *rec
	out.ConsumerIDs = append([]string(nil), rec.ConsumerIDs...)
	return out
}

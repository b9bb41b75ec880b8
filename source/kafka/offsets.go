package kafka

import (
	"sort"
	"sync"

	"github.com/twmb/franz-go/pkg/kgo"
)

type topicPartition struct {
	topic     string
	partition int32
}

type pendingRecord struct {
	record   *kgo.Record
	resolved bool
}

// partitionOffsets holds the records of one partition that were delivered and
// not yet resolved, in offset order. The head is always unresolved.
type partitionOffsets struct {
	pending []pendingRecord
	// epoch of the last rewind; fetches polled before it are stale
	rewoundAt uint64
}

// rewind asks the client to fetch a partition again from offset.
type rewind struct {
	tp     topicPartition
	offset int64
}

// offsetTracker decides which records may be committed. Kafka keeps a single
// committed offset per partition, so a record is only marked once every
// record before it on the partition was acknowledged or skipped. An ack that
// arrives while earlier records are still unresolved means those records
// belonged to a batch that was never acknowledged: the partition is rewound to
// the first of them and everything tracked from there on is forgotten.
type offsetTracker struct {
	mu         sync.Mutex
	epoch      uint64
	partitions map[topicPartition]*partitionOffsets
}

func newOffsetTracker() *offsetTracker {
	return &offsetTracker{partitions: make(map[topicPartition]*partitionOffsets)}
}

func keyOf(r *kgo.Record) topicPartition {
	return topicPartition{topic: r.Topic, partition: r.Partition}
}

// currentEpoch is read after each poll; see stale.
func (t *offsetTracker) currentEpoch() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.epoch
}

// stale reports whether r came from a fetch polled before its partition was
// rewound. Such records are fetched again and must not be delivered twice.
func (t *offsetTracker) stale(r *kgo.Record, polledAt uint64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.partitions[keyOf(r)]
	return ok && p.rewoundAt > polledAt
}

// deliver starts tracking r.
func (t *offsetTracker) deliver(r *kgo.Record) {
	t.mu.Lock()
	defer t.mu.Unlock()

	p := t.partition(keyOf(r))
	i := sort.Search(len(p.pending), func(i int) bool { return p.pending[i].record.Offset >= r.Offset })
	if i < len(p.pending) && p.pending[i].record.Offset == r.Offset {
		return
	}
	p.pending = append(p.pending, pendingRecord{})
	copy(p.pending[i+1:], p.pending[i:])
	p.pending[i] = pendingRecord{record: r}
}

// skip resolves r without acknowledging it, for records that are never handed
// to the sink. It returns the record to mark, if any.
func (t *offsetTracker) skip(r *kgo.Record) *kgo.Record {
	t.mu.Lock()
	defer t.mu.Unlock()

	p, ok := t.partitions[keyOf(r)]
	if !ok {
		return nil
	}
	i := p.index(r.Offset)
	if i < 0 {
		return nil
	}
	p.pending[i].resolved = true
	return p.compact()
}

// ack resolves an acknowledged record. It returns the record to mark, or a
// rewind when unresolved records precede r on its partition. Acks for records
// that are no longer tracked return neither.
func (t *offsetTracker) ack(r *kgo.Record) (*kgo.Record, *rewind) {
	t.mu.Lock()
	defer t.mu.Unlock()

	key := keyOf(r)
	p, ok := t.partitions[key]
	if !ok {
		return nil, nil
	}
	i := p.index(r.Offset)
	if i < 0 {
		return nil, nil
	}
	if i > 0 {
		t.epoch++
		rw := &rewind{tp: key, offset: p.pending[0].record.Offset}
		p.pending = nil
		p.rewoundAt = t.epoch
		return nil, rw
	}
	p.pending[0].resolved = true
	return p.compact(), nil
}

// forget drops the state of partitions this member no longer owns.
func (t *offsetTracker) forget(assigned map[string][]int32) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for topic, partitions := range assigned {
		for _, partition := range partitions {
			delete(t.partitions, topicPartition{topic: topic, partition: partition})
		}
	}
}

// unresolved returns the number of tracked records on a partition
func (t *offsetTracker) unresolved(topic string, partition int32) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.partitions[topicPartition{topic: topic, partition: partition}]
	if !ok {
		return 0
	}
	return len(p.pending)
}

func (t *offsetTracker) partition(key topicPartition) *partitionOffsets {
	p, ok := t.partitions[key]
	if !ok {
		p = &partitionOffsets{}
		t.partitions[key] = p
	}
	return p
}

func (p *partitionOffsets) index(offset int64) int {
	i := sort.Search(len(p.pending), func(i int) bool { return p.pending[i].record.Offset >= offset })
	if i < len(p.pending) && p.pending[i].record.Offset == offset {
		return i
	}
	return -1
}

// compact drops the resolved prefix and returns its last record.
func (p *partitionOffsets) compact() *kgo.Record {
	n := 0
	for n < len(p.pending) && p.pending[n].resolved {
		n++
	}
	if n == 0 {
		return nil
	}
	last := p.pending[n-1].record
	p.pending = append(p.pending[:0], p.pending[n:]...)
	return last
}

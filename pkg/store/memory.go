package store

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/exp/slices"

	"github.com/downfa11-org/packrat/pkg/offset"
	"github.com/downfa11-org/packrat/pkg/types"
	"github.com/downfa11-org/packrat/util"
)

// MemoryStore keeps namespaces, records and cursors in process memory.
type MemoryStore struct {
	*offset.OffsetManager

	mu         sync.RWMutex
	namespaces map[string]map[string]types.Record // topic -> unique key -> record
	logger     *zap.Logger
}

func NewMemoryStore(logger *zap.Logger, topics ...string) *MemoryStore {
	s := &MemoryStore{
		OffsetManager: offset.NewOffsetManager(logger),
		namespaces:    make(map[string]map[string]types.Record),
		logger:        util.Component(logger, "memory_store"),
	}
	for _, t := range topics {
		s.namespaces[t] = make(map[string]types.Record)
	}
	return s
}

func (s *MemoryStore) Provision(_ context.Context, topic string) error {
	if topic == "" || topic == OffsetsNamespace {
		return fmt.Errorf("invalid namespace name %q", topic)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.namespaces[topic]; !ok {
		s.namespaces[topic] = make(map[string]types.Record)
		s.logger.Info("provisioned namespace", zap.String("topic", topic))
	}
	return nil
}

func (s *MemoryStore) Persist(_ context.Context, topic string, header types.Header, payload any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ns, ok := s.namespaces[topic]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownTopic, topic)
	}
	key := header.UniqueKey()
	if _, exists := ns[key]; exists {
		return fmt.Errorf("%w: %s in %q", ErrDuplicateRecord, key, topic)
	}
	ns[key] = types.NewRecord(topic, header, payload)
	return nil
}

// Record looks up a single stored record.
func (s *MemoryStore) Record(topic, key string) (types.Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.namespaces[topic][key]
	return rec, ok
}

// Count returns the number of records stored for the topic.
func (s *MemoryStore) Count(topic string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.namespaces[topic])
}

func (s *MemoryStore) Namespaces(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.namespaces))
	for name := range s.namespaces {
		names = append(names, name)
	}
	slices.Sort(names)
	return names, nil
}

func (s *MemoryStore) namespace(topic string) (map[string]types.Record, error) {
	ns, ok := s.namespaces[topic]
	if !ok {
		return nil, fmt.Errorf("%w: topic '%s' doesn't exist", ErrUnknownTopic, topic)
	}
	return ns, nil
}

func (s *MemoryStore) Emitters(_ context.Context, topic string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ns, err := s.namespace(topic)
	if err != nil {
		return nil, err
	}
	return distinct(ns, func(r types.Record) (string, bool) { return r.EmitterID, true }), nil
}

func (s *MemoryStore) Sessions(_ context.Context, topic, emitterID string) ([]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ns, err := s.namespace(topic)
	if err != nil {
		return nil, err
	}
	return distinct(ns, func(r types.Record) (int64, bool) {
		return r.SessionTimestamp, r.EmitterID == emitterID
	}), nil
}

func (s *MemoryStore) SessionRecords(_ context.Context, topic, emitterID string, session int64) ([]types.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ns, err := s.namespace(topic)
	if err != nil {
		return nil, err
	}
	var out []types.Record
	for _, r := range ns {
		if r.EmitterID == emitterID && r.SessionTimestamp == session {
			out = append(out, r)
		}
	}
	slices.SortFunc(out, func(a, b types.Record) int {
		switch {
		case a.RecordTimestamp < b.RecordTimestamp:
			return -1
		case a.RecordTimestamp > b.RecordTimestamp:
			return 1
		}
		return 0
	})
	return out, nil
}

func (s *MemoryStore) Groups(_ context.Context) (map[string][]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string][]string, len(s.namespaces))
	for topic, ns := range s.namespaces {
		out[topic] = distinct(ns, func(r types.Record) (string, bool) { return r.GroupID, true })
	}
	return out, nil
}

func (s *MemoryStore) EmittersForGroup(_ context.Context, groupID string) (map[string][]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string][]string, len(s.namespaces))
	for topic, ns := range s.namespaces {
		out[topic] = distinct(ns, func(r types.Record) (string, bool) {
			return r.EmitterID, r.GroupID == groupID
		})
	}
	return out, nil
}

func (s *MemoryStore) Close(context.Context) error {
	return nil
}

// distinct collects the sorted set of values selected from the namespace.
func distinct[T string | int64](ns map[string]types.Record, pick func(types.Record) (T, bool)) []T {
	seen := make(map[T]struct{})
	for _, r := range ns {
		if v, ok := pick(r); ok {
			seen[v] = struct{}{}
		}
	}
	out := make([]T, 0, len(seen))
	for v := range seen {
		out = append(out, v)
	}
	slices.Sort(out)
	return out
}

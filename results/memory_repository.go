package results

import (
	"context"
	"fmt"
	"sync"
)

type competitionState struct {
	version       int64
	registrations map[string]Registration
	results       map[string]Result
	batches       []PublicationBatch
	reversed      map[string]bool
}

func newCompetitionState() *competitionState {
	return &competitionState{
		registrations: map[string]Registration{},
		results:       map[string]Result{},
		reversed:      map[string]bool{},
	}
}

// MemoryRepository keeps every competition in process. Writes stage into a
// copy of the result map and swap it in only when the whole batch applied,
// so readers never observe a partial batch.
type MemoryRepository struct {
	mu           sync.RWMutex
	competitions map[string]*competitionState
	changes      map[string][]Change

	stageHook func(staged int) error
}

type MemoryOption func(*MemoryRepository)

// WithStageHook runs after each change is staged. A non-nil error aborts the
// batch as a storage failure.
func WithStageHook(fn func(staged int) error) MemoryOption {
	return func(m *MemoryRepository) { m.stageHook = fn }
}

func NewMemoryRepository(opts ...MemoryOption) *MemoryRepository {
	m := &MemoryRepository{
		competitions: map[string]*competitionState{},
		changes:      map[string][]Change{},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *MemoryRepository) state(competition string) *competitionState {
	st, ok := m.competitions[competition]
	if !ok {
		st = newCompetitionState()
		m.competitions[competition] = st
	}
	return st
}

func (m *MemoryRepository) Snapshot(_ context.Context, competition string) (*Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	st, ok := m.competitions[competition]
	if !ok {
		return NewSnapshot(competition, 0, nil, nil, nil), nil
	}

	regs := make([]Registration, 0, len(st.registrations))
	for _, r := range st.registrations {
		regs = append(regs, r)
	}
	stored := make([]Result, 0, len(st.results))
	for _, r := range st.results {
		stored = append(stored, r)
	}
	reversed := make([]string, 0, len(st.reversed))
	for id := range st.reversed {
		reversed = append(reversed, id)
	}
	return NewSnapshot(competition, st.version, regs, stored, reversed), nil
}

// ApplyBatch stages the changes into a copy of the result map without holding
// the lock, then swaps the copy in if the version has not moved meanwhile.
// Snapshots taken during staging see the state before the batch.
func (m *MemoryRepository) ApplyBatch(_ context.Context, batch PublicationBatch, changes []Change) error {
	m.mu.RLock()
	var (
		version  int64
		base     map[string]Result
		reversed bool
	)
	if st, ok := m.competitions[batch.Competition]; ok {
		version, base, reversed = st.version, st.results, st.reversed[batch.Reverses]
	}
	m.mu.RUnlock()

	if err := checkBatch(batch, version, reversed); err != nil {
		return err
	}

	// Result maps are replaced, never written, once published, so base can be
	// read without the lock.
	staged := make(map[string]Result, len(base)+len(changes))
	for k, v := range base {
		staged[k] = v
	}
	for i, ch := range changes {
		switch ch.Action {
		case ActionInsert, ActionUpdate:
			if ch.After == nil {
				return fmt.Errorf("change %d for %s has no target value", i, ch.RegistrationID)
			}
			staged[ch.RegistrationID] = *ch.After
		case ActionDelete:
			delete(staged, ch.RegistrationID)
		default:
			return fmt.Errorf("unknown change action %q", ch.Action)
		}
		if m.stageHook != nil {
			if err := m.stageHook(i + 1); err != nil {
				return &StorageUnavailableError{Err: err}
			}
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	st := m.state(batch.Competition)
	if err := checkBatch(batch, st.version, st.reversed[batch.Reverses]); err != nil {
		return err
	}
	st.results = staged
	st.batches = append(st.batches, batch)
	if batch.Kind == BatchReversal {
		st.reversed[batch.Reverses] = true
	}
	st.version++
	m.changes[batch.ID] = append([]Change(nil), changes...)
	return nil
}

func checkBatch(batch PublicationBatch, version int64, alreadyReversed bool) error {
	if version != batch.BaseVersion {
		return &TransactionConflictError{
			Competition: batch.Competition,
			Err:         fmt.Errorf("base version %d, current %d", batch.BaseVersion, version),
		}
	}
	if batch.Kind == BatchReversal && alreadyReversed {
		return &AlreadyRolledBackError{BatchID: batch.Reverses}
	}
	return nil
}

func (m *MemoryRepository) History(_ context.Context, competition string) ([]PublicationBatch, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	st, ok := m.competitions[competition]
	if !ok {
		return []PublicationBatch{}, nil
	}
	out := make([]PublicationBatch, len(st.batches))
	copy(out, st.batches)
	return out, nil
}

func (m *MemoryRepository) Changes(_ context.Context, batchID string) ([]Change, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	changes, ok := m.changes[batchID]
	if !ok {
		return nil, fmt.Errorf("batch %s not found", batchID)
	}
	return append([]Change(nil), changes...), nil
}

func (m *MemoryRepository) SeedRegistrations(_ context.Context, competition string, regs []Registration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	st := m.state(competition)
	for _, r := range regs {
		st.registrations[r.ID] = r
	}
	// Roster changes can turn a Missing row into an Insert, so validations
	// taken before the seed must not publish.
	st.version++
	return nil
}

var _ Repository = (*MemoryRepository)(nil)

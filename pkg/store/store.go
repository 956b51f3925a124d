package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"market-pipeline/pkg/approval"
	"market-pipeline/pkg/types"
)

const (
	DefaultResultsFileName = ".market-pipeline-results.json"
)

// LoadingKey identifies one loading flag
type LoadingKey struct {
	Subject string
	Kind    types.Kind
}

// ApprovalView is what presentation layers need to render the approval dialog
type ApprovalView struct {
	Visible  bool            `json:"visible"`
	State    approval.State  `json:"state"`
	TicketID string          `json:"ticket_id,omitempty"`
	Kind     types.Kind      `json:"kind,omitempty"`
	Fee      decimal.Decimal `json:"fee"`
	Asset    string          `json:"asset,omitempty"`

	seq uint64
}

// ResultStorage represents the JSON structure of the results journal
type ResultStorage struct {
	Results map[string]*types.TransactionResult `json:"results"`
}

// Store is the passive projection of pipeline state read by presentation layers
type Store struct {
	filePath string
	writeMu  sync.Mutex

	mu        sync.RWMutex
	loading   map[LoadingKey]uint64
	results   map[string]*types.TransactionResult
	approvals map[string]ApprovalView
}

// New creates an in-memory store
func New() *Store {
	return &Store{
		loading:   make(map[LoadingKey]uint64),
		results:   make(map[string]*types.TransactionResult),
		approvals: make(map[string]ApprovalView),
	}
}

// NewPersistent creates a store that journals results to filePath
func NewPersistent(filePath string) (*Store, error) {
	if filePath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		filePath = filepath.Join(home, DefaultResultsFileName)
	}

	s := New()
	s.filePath = filePath

	if err := s.load(); err != nil {
		// A missing journal is created on first save
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to load results: %w", err)
		}
	}

	return s, nil
}

// BeginLoading sets the loading flag for key on behalf of owner
func (s *Store) BeginLoading(key LoadingKey, owner uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loading[key] = owner
}

// EndLoading clears the flag if owner still holds it. A newer owner keeps it set.
func (s *Store) EndLoading(key LoadingKey, owner uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if current, ok := s.loading[key]; !ok || current != owner {
		return false
	}
	delete(s.loading, key)
	return true
}

// IsLoading returns true while a step for subject and kind is running
func (s *Store) IsLoading(subject string, kind types.Kind) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.loading[LoadingKey{Subject: subject, Kind: kind}]
	return ok
}

// AnyLoading returns true while any step for subject is running
func (s *Store) AnyLoading(subject string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for key := range s.loading {
		if key.Subject == subject {
			return true
		}
	}
	return false
}

// SetResult records the latest result of a subject, replacing the previous one
func (s *Store) SetResult(r types.TransactionResult) error {
	s.mu.Lock()
	s.results[r.SubjectID] = &r
	s.mu.Unlock()

	if s.filePath == "" {
		return nil
	}
	return s.save()
}

// Result returns the latest result of a subject
func (s *Store) Result(subject string) (*types.TransactionResult, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.results[subject]
	if !ok {
		return nil, false
	}
	copied := *r
	return &copied, true
}

// Results returns every recorded result ordered by subject
func (s *Store) Results() []*types.TransactionResult {
	s.mu.RLock()
	defer s.mu.RUnlock()

	results := make([]*types.TransactionResult, 0, len(s.results))
	for _, r := range s.results {
		copied := *r
		results = append(results, &copied)
	}
	sort.Slice(results, func(i, j int) bool {
		return results[i].SubjectID < results[j].SubjectID
	})
	return results
}

// ApplyApproval projects a gate event. Events older than the last applied one
// for the subject are ignored.
func (s *Store) ApplyApproval(ev approval.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if prev, ok := s.approvals[ev.Subject]; ok && prev.seq >= ev.Seq {
		return
	}

	view := ApprovalView{
		Visible:  ev.Visible(),
		State:    ev.State,
		TicketID: ev.TicketID,
		Kind:     ev.Request.Kind,
		Fee:      ev.Estimate.FeeAmount,
		Asset:    ev.Estimate.AssetType,
		seq:      ev.Seq,
	}
	if ev.State == approval.StateIdle {
		view = ApprovalView{State: approval.StateIdle, seq: ev.Seq}
	}
	s.approvals[ev.Subject] = view
}

// Approval returns the dialog view of a subject
func (s *Store) Approval(subject string) (ApprovalView, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	view, ok := s.approvals[subject]
	return view, ok
}

// FilePath returns the results journal path, empty for in-memory stores
func (s *Store) FilePath() string {
	return s.filePath
}

// load reads results from the journal file
func (s *Store) load() error {
	data, err := os.ReadFile(s.filePath)
	if err != nil {
		return err
	}

	var rs ResultStorage
	if err := json.Unmarshal(data, &rs); err != nil {
		return fmt.Errorf("failed to unmarshal results: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for subject, r := range rs.Results {
		if r != nil {
			s.results[subject] = r
		}
	}
	return nil
}

// save writes results to the journal file
func (s *Store) save() error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.RLock()
	data, err := json.MarshalIndent(ResultStorage{Results: s.results}, "", "  ")
	s.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("failed to marshal results: %w", err)
	}

	dir := filepath.Dir(s.filePath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	// Write to a temporary file first, then rename for an atomic write
	tempFile := s.filePath + ".tmp"
	if err := os.WriteFile(tempFile, data, 0600); err != nil {
		return fmt.Errorf("failed to write results: %w", err)
	}
	if err := os.Rename(tempFile, s.filePath); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	return nil
}

package trail

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	DefaultChainID        = "main"
	DefaultMaxResults     = 100
	DefaultVerifyInterval = 24 * time.Hour
)

// PDFRenderer turns the HTML chain report into PDF bytes.
type PDFRenderer interface {
	RenderPDF(ctx context.Context, html string) ([]byte, error)
}

type Options struct {
	Keys              Keys
	Repository        ChainRepository
	Logger            *slog.Logger
	Observer          Observer
	PDFRenderer       PDFRenderer
	ReportLocation    *time.Location
	VerifyInterval    time.Duration
	DefaultMaxResults int
	Clock             func() time.Time
}

type chainState struct {
	mu    sync.RWMutex
	chain Chain
}

// Store holds named append-only hash chains. Appends are serialized per
// chain; reads of one chain run concurrently with each other.
type Store struct {
	mu     sync.RWMutex
	chains map[string]*chainState
	order  []string
	index  map[string]string

	keys           Keys
	repo           ChainRepository
	logger         *slog.Logger
	obs            Observer
	pdf            PDFRenderer
	reportLoc      *time.Location
	verifyInterval time.Duration
	maxResults     int
	now            func() time.Time
}

// NewStore replays chains from the repository, if any, and makes sure the
// default chain exists.
func NewStore(ctx context.Context, opts Options) (*Store, error) {
	keys := opts.Keys
	if len(keys.Signing) == 0 || len(keys.Encryption) == 0 {
		generated, err := randomKeys()
		if err != nil {
			return nil, err
		}
		keys = generated
	}
	s := &Store{
		chains:         map[string]*chainState{},
		index:          map[string]string{},
		keys:           keys,
		repo:           opts.Repository,
		logger:         opts.Logger,
		obs:            opts.Observer,
		pdf:            opts.PDFRenderer,
		reportLoc:      opts.ReportLocation,
		verifyInterval: opts.VerifyInterval,
		maxResults:     opts.DefaultMaxResults,
		now:            opts.Clock,
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.obs == nil {
		s.obs = nopObserver{}
	}
	if s.reportLoc == nil {
		s.reportLoc = time.UTC
	}
	if s.verifyInterval <= 0 {
		s.verifyInterval = DefaultVerifyInterval
	}
	if s.maxResults <= 0 {
		s.maxResults = DefaultMaxResults
	}
	if s.now == nil {
		s.now = time.Now
	}

	if s.repo != nil {
		chains, err := s.repo.LoadChains(ctx)
		if err != nil {
			return nil, fmt.Errorf("load chains: %w", err)
		}
		for _, c := range chains {
			s.install(c)
		}
		s.logger.Info("audit chains restored", "chains", len(chains))
	}
	if _, ok := s.chains[DefaultChainID]; !ok {
		_, err := s.CreateChain(ctx, ChainSpec{
			ID:                   DefaultChainID,
			Name:                 "Main Audit Chain",
			Description:          "Primary audit trail for all system events",
			ComplianceFrameworks: []Framework{GDPR, SOX, ISO27001, SOC2},
		})
		if err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *Store) install(c Chain) {
	if c.Events == nil {
		c.Events = []AuditEvent{}
	}
	s.chains[c.ID] = &chainState{chain: c}
	s.order = append(s.order, c.ID)
	for _, e := range c.Events {
		s.index[e.ID] = c.ID
	}
}

// CreateChain registers an empty chain.
func (s *Store) CreateChain(ctx context.Context, spec ChainSpec) (Chain, error) {
	if spec.ID == "" {
		return Chain{}, fmt.Errorf("%w: chain id is required", ErrInvalidInput)
	}
	name := spec.Name
	if name == "" {
		name = spec.ID
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.chains[spec.ID]; ok {
		return Chain{}, &ChainExistsError{ChainID: spec.ID}
	}
	chain := Chain{
		ID:          spec.ID,
		Name:        name,
		Description: spec.Description,
		CreatedAt:   s.timestamp(),
		Events:      []AuditEvent{},
		Metadata: ChainMetadata{
			IntegrityVerified:    true,
			ComplianceFrameworks: cloneStrings(spec.ComplianceFrameworks),
		},
	}
	if chain.Metadata.ComplianceFrameworks == nil {
		chain.Metadata.ComplianceFrameworks = []Framework{}
	}
	if s.repo != nil {
		if err := s.repo.SaveChain(ctx, chain); err != nil {
			return Chain{}, fmt.Errorf("save chain %s: %w", spec.ID, err)
		}
	}
	s.install(chain)
	s.logger.Info("audit chain initialized", "chain", chain.ID, "name", chain.Name)
	return cloneChain(chain), nil
}

// Chain returns a copy of the chain including its events.
func (s *Store) Chain(chainID string) (Chain, error) {
	st, err := s.state(chainID)
	if err != nil {
		return Chain{}, err
	}
	st.mu.RLock()
	defer st.mu.RUnlock()
	return cloneChain(st.chain), nil
}

// Chains lists chains in creation order with metadata only; Events is nil.
func (s *Store) Chains() []Chain {
	states := s.states()
	out := make([]Chain, 0, len(states))
	for _, st := range states {
		st.mu.RLock()
		c := st.chain
		c.Events = nil
		c.Metadata = cloneMetadata(st.chain.Metadata)
		st.mu.RUnlock()
		out = append(out, c)
	}
	return out
}

// Event looks an event up by id across all chains.
func (s *Store) Event(eventID string) (AuditEvent, string, error) {
	s.mu.RLock()
	chainID, ok := s.index[eventID]
	s.mu.RUnlock()
	if !ok {
		return AuditEvent{}, "", &EventNotFoundError{EventID: eventID}
	}
	st, err := s.state(chainID)
	if err != nil {
		return AuditEvent{}, "", err
	}
	st.mu.RLock()
	defer st.mu.RUnlock()
	for _, e := range st.chain.Events {
		if e.ID == eventID {
			return cloneEvent(e), chainID, nil
		}
	}
	return AuditEvent{}, "", &EventNotFoundError{EventID: eventID}
}

// CreateAuditEvent hashes, signs and appends one event, returning its id.
func (s *Store) CreateAuditEvent(ctx context.Context, in EventInput) (string, error) {
	chainID := in.ChainID
	if chainID == "" {
		chainID = DefaultChainID
	}
	st, err := s.state(chainID)
	if err != nil {
		return "", err
	}

	if err := validateInput(in); err != nil {
		return "", err
	}
	changes, err := detachChanges(in.Changes)
	if err != nil {
		return "", err
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	events := st.chain.Events
	previousHash := GenesisHash
	if len(events) > 0 {
		previousHash = events[len(events)-1].CurrentHash
	}
	ts := s.timestamp()
	event := cloneEvent(AuditEvent{
		ID:           uuid.NewString(),
		Sequence:     len(events) + 1,
		Timestamp:    ts,
		PreviousHash: previousHash,
		EventType:    in.EventType,
		Actor:        in.Actor,
		Resource:     in.Resource,
		Action:       in.Action,
		Changes:      changes,
		Compliance:   in.Compliance,
		Technical:    in.Technical,
		Evidence:     in.Evidence,
	})
	if event.Compliance.Frameworks == nil {
		event.Compliance.Frameworks = []Framework{}
	}

	hash, err := EventHash(event)
	if err != nil {
		return "", err
	}
	event.CurrentHash = hash

	leaves := make([]string, 0, len(events)+1)
	for _, e := range events {
		leaves = append(leaves, e.CurrentHash)
	}
	leaves = append(leaves, hash)
	event.Integrity = &Integrity{
		Signature:     sign(s.keys.Signing, []byte(hash)),
		WitnessHashes: []string{witnessHash(hash, s.now())},
		MerkleRoot:    MerkleRoot(leaves),
		Immutable:     true,
	}

	meta := cloneMetadata(st.chain.Metadata)
	meta.TotalEvents = len(events) + 1
	meta.LastEvent = &ts
	if meta.FirstEvent == nil {
		first := ts
		meta.FirstEvent = &first
	}

	if s.repo != nil {
		if err := s.repo.AppendEvent(ctx, chainID, event, meta); err != nil {
			return "", fmt.Errorf("persist event %s: %w", event.ID, err)
		}
	}

	st.chain.Events = append(events, event)
	st.chain.Metadata = meta

	s.mu.Lock()
	s.index[event.ID] = chainID
	s.mu.Unlock()

	s.obs.EventAppended(chainID, string(event.EventType))
	s.logCompliance(chainID, event)
	s.logger.Info("audit event created", "eventId", event.ID, "sequence", event.Sequence, "chain", chainID)
	return event.ID, nil
}

// validateInput rejects values outside the closed enumerations.
func validateInput(in EventInput) error {
	bad := func(field string, v any) error {
		return fmt.Errorf("%w: unknown %s %q", ErrInvalidInput, field, v)
	}
	switch {
	case !in.EventType.Valid():
		return bad("eventType", in.EventType)
	case !in.Actor.Type.Valid():
		return bad("actor.type", in.Actor.Type)
	case !in.Resource.Type.Valid():
		return bad("resource.type", in.Resource.Type)
	case !in.Resource.Classification.Valid():
		return bad("resource.classification", in.Resource.Classification)
	case !in.Action.Operation.Valid():
		return bad("action.operation", in.Action.Operation)
	case !in.Action.Category.Valid():
		return bad("action.category", in.Action.Category)
	case !in.Action.Outcome.Valid():
		return bad("action.outcome", in.Action.Outcome)
	}
	for _, c := range in.Changes {
		if !c.ChangeType.Valid() {
			return bad("changes.changeType", c.ChangeType)
		}
	}
	for _, f := range in.Compliance.Frameworks {
		if !f.Valid() {
			return bad("compliance.frameworks", f)
		}
	}
	return nil
}

// detachChanges copies change values out of caller-owned maps and slices.
func detachChanges(in []FieldChange) ([]FieldChange, error) {
	if in == nil {
		return nil, nil
	}
	out := make([]FieldChange, len(in))
	for i, c := range in {
		oldValue, err := detachValue(c.OldValue)
		if err != nil {
			return nil, fmt.Errorf("%w: change %q old value: %v", ErrInvalidInput, c.Field, err)
		}
		newValue, err := detachValue(c.NewValue)
		if err != nil {
			return nil, fmt.Errorf("%w: change %q new value: %v", ErrInvalidInput, c.Field, err)
		}
		c.OldValue, c.NewValue = oldValue, newValue
		out[i] = c
	}
	return out, nil
}

func (s *Store) logCompliance(chainID string, e AuditEvent) {
	if slices.Contains(e.Compliance.Frameworks, GDPR) {
		s.logger.Info("gdpr audit event", "chain", chainID, "eventId", e.ID, "description", e.Action.Description)
	}
	if slices.Contains(e.Compliance.Frameworks, SOX) {
		s.logger.Info("sox audit event", "chain", chainID, "eventId", e.ID, "description", e.Action.Description)
	}
}

func (s *Store) state(chainID string) (*chainState, error) {
	if chainID == "" {
		chainID = DefaultChainID
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.chains[chainID]
	if !ok {
		return nil, &ChainNotFoundError{ChainID: chainID}
	}
	return st, nil
}

func (s *Store) states() []*chainState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*chainState, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.chains[id])
	}
	return out
}

func (s *Store) timestamp() time.Time {
	return s.now().UTC().Truncate(time.Millisecond)
}

// CorrelationLogger scopes a logger to one chain and request.
func CorrelationLogger(logger *slog.Logger, chainID, corrID string) *slog.Logger {
	if logger == nil {
		logger = slog.Default()
	}
	return logger.With("chain", chainID, "corrId", corrID)
}

package trail

import "context"

// ChainRepository persists chains outside the process. The store calls it
// before an event becomes visible, so a failed write leaves the chain unchanged.
type ChainRepository interface {
	LoadChains(ctx context.Context) ([]Chain, error)
	SaveChain(ctx context.Context, chain Chain) error
	AppendEvent(ctx context.Context, chainID string, event AuditEvent, meta ChainMetadata) error
	UpdateChainMetadata(ctx context.Context, chainID string, meta ChainMetadata) error
}

// Observer receives counters from the store. Implementations must not block.
type Observer interface {
	EventAppended(chainID, eventType string)
	IntegrityFinding(chainID, severity string)
	ExportProduced(chainID, format string)
}

type nopObserver struct{}

func (nopObserver) EventAppended(string, string)    {}
func (nopObserver) IntegrityFinding(string, string) {}
func (nopObserver) ExportProduced(string, string)   {}

package election

import "sync"

// pendingSet remembers partial commits until reconciliation repairs their election.
type pendingSet struct {
	mu      sync.Mutex
	entries map[voteKey]PartialCommitError
}

func newPendingSet() *pendingSet {
	return &pendingSet{entries: make(map[voteKey]PartialCommitError)}
}

func (p *pendingSet) add(e *PartialCommitError) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.entries[voteKey{e.ElectionID, e.VoterID}] = *e
}

// lookup returns a copy marked Pending, for replies to retries.
func (p *pendingSet) lookup(electionID, voterID string) (*PartialCommitError, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.entries[voteKey{electionID, voterID}]
	if !ok {
		return nil, false
	}
	e.Pending = true
	return &e, true
}

func (p *pendingSet) keys(electionID string) []voteKey {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []voteKey
	for k := range p.entries {
		if k.electionID == electionID {
			out = append(out, k)
		}
	}
	return out
}

func (p *pendingSet) remove(keys []voteKey) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, k := range keys {
		delete(p.entries, k)
	}
}

func (p *pendingSet) hasElection(electionID string) bool {
	return len(p.keys(electionID)) > 0
}

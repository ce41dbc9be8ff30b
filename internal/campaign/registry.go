package campaign

import "sync"

// Progress is the latest per-account run snapshot, overwritten on
// every processed row.
type Progress struct {
	Processed int
	Total     int
	Percent   int
}

// StateSnapshot is one account's slice of the registry for hydration.
type StateSnapshot struct {
	Ready    bool
	Sending  bool
	Progress Progress
}

type accountState struct {
	ready           bool
	sending         bool
	cancelRequested bool
	cancelCh        chan struct{}
	progress        Progress
}

// Registry keys runtime state by account id. The ready flag is written
// by the channel lifecycle; sending/cancel/progress only by the owning
// runner. Accessors replace the ambient per-account globals of the
// original design, and TryBeginRun is the single entry gate that keeps
// at most one active run per account.
type Registry struct {
	mu       sync.Mutex
	accounts map[string]*accountState
}

func NewRegistry(accountIDs []string) *Registry {
	r := &Registry{accounts: map[string]*accountState{}}
	for _, id := range accountIDs {
		r.accounts[id] = &accountState{}
	}
	return r
}

func (r *Registry) stateLocked(id string) *accountState {
	st := r.accounts[id]
	if st == nil {
		st = &accountState{}
		r.accounts[id] = st
	}
	return st
}

// Known reports whether id was configured (or seen) at all.
func (r *Registry) Known(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.accounts[id] != nil
}

func (r *Registry) SetReady(id string, v bool) {
	r.mu.Lock()
	r.stateLocked(id).ready = v
	r.mu.Unlock()
}

func (r *Registry) Ready(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	st := r.accounts[id]
	return st != nil && st.ready
}

func (r *Registry) Sending(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	st := r.accounts[id]
	return st != nil && st.sending
}

// TryBeginRun atomically claims the sending flag. On success it clears
// any stale cancel request, zeroes progress to {0,total,0} and returns
// a fresh cancel channel that RequestCancel will close.
func (r *Registry) TryBeginRun(id string, total int) (<-chan struct{}, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st := r.accounts[id]
	if st == nil || st.sending {
		return nil, false
	}
	st.sending = true
	st.cancelRequested = false
	st.cancelCh = make(chan struct{})
	st.progress = Progress{Processed: 0, Total: total, Percent: 0}
	return st.cancelCh, true
}

// EndRun releases the sending flag. The cancel channel is dropped so a
// late RequestCancel cannot affect the next run.
func (r *Registry) EndRun(id string) {
	r.mu.Lock()
	st := r.stateLocked(id)
	st.sending = false
	st.cancelCh = nil
	r.mu.Unlock()
}

// RequestCancel flags a cancellation for an in-flight run and wakes its
// pacing sleeps. Returns false when the account is not sending.
func (r *Registry) RequestCancel(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	st := r.accounts[id]
	if st == nil || !st.sending {
		return false
	}
	if !st.cancelRequested {
		st.cancelRequested = true
		if st.cancelCh != nil {
			close(st.cancelCh)
		}
	}
	return true
}

func (r *Registry) CancelRequested(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	st := r.accounts[id]
	return st != nil && st.cancelRequested
}

// SendingIDs lists the accounts with an active run.
func (r *Registry) SendingIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for id, st := range r.accounts {
		if st.sending {
			out = append(out, id)
		}
	}
	return out
}

func (r *Registry) SetProgress(id string, p Progress) {
	r.mu.Lock()
	r.stateLocked(id).progress = p
	r.mu.Unlock()
}

func (r *Registry) ProgressOf(id string) Progress {
	r.mu.Lock()
	defer r.mu.Unlock()
	st := r.accounts[id]
	if st == nil {
		return Progress{}
	}
	return st.progress
}

// ResetRuntime clears every account's sending/cancel flags and
// progress. It never touches the ready flag (owned by the channel) and
// never touches the ledger.
func (r *Registry) ResetRuntime() {
	r.mu.Lock()
	for _, st := range r.accounts {
		st.sending = false
		st.cancelRequested = false
		st.cancelCh = nil
		st.progress = Progress{}
	}
	r.mu.Unlock()
}

// Snapshot returns every account's state for hydration.
func (r *Registry) Snapshot() map[string]StateSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]StateSnapshot, len(r.accounts))
	for id, st := range r.accounts {
		out[id] = StateSnapshot{Ready: st.ready, Sending: st.sending, Progress: st.progress}
	}
	return out
}

package destinations

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"nightshift/internal/logging"
	"nightshift/internal/services"
	"nightshift/internal/storage"
)

// Pool selects a destination per file from a once-per-run capacity snapshot.
type Pool struct {
	logger  *slog.Logger
	members []Member

	mu       sync.Mutex
	accounts map[int]*Account
}

// NewPool returns a Pool over members. Call Refresh before selecting.
func NewPool(members []Member, logger *slog.Logger) *Pool {
	sorted := append([]Member(nil), members...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })
	return &Pool{
		logger:   logging.NewComponentLogger(logger, "destinations"),
		members:  sorted,
		accounts: make(map[int]*Account),
	}
}

// Refresh queries every member's capacity and replaces the snapshot.
// Members whose query fails are kept but marked unhealthy so Select skips
// them for this run. An error is returned only when no member answered.
func (p *Pool) Refresh(ctx context.Context) ([]Account, error) {
	fresh, healthy, lastErr := p.query(ctx)

	p.mu.Lock()
	p.accounts = fresh
	p.mu.Unlock()

	if healthy == 0 && len(p.members) > 0 {
		return p.Accounts(), services.Wrap(services.ErrTransientIO, "destinations", "refresh", "no destination answered", lastErr)
	}
	return p.Accounts(), nil
}

// Probe queries every member's capacity without touching the snapshot used
// by Select, so it is safe to call while a run is in progress.
func (p *Pool) Probe(ctx context.Context) []Account {
	fresh, _, _ := p.query(ctx)
	return sortedAccounts(fresh)
}

// Members returns the configured destinations ordered by id.
func (p *Pool) Members() []Member {
	return append([]Member(nil), p.members...)
}

func (p *Pool) query(ctx context.Context) (map[int]*Account, int, error) {
	fresh := make(map[int]*Account, len(p.members))
	var lastErr error
	healthy := 0
	for _, m := range p.members {
		account := &Account{ID: m.ID, Name: m.Name, Provider: m.Provider}
		capacity, err := m.Client.QueryCapacity(ctx)
		if err != nil {
			lastErr = err
			account.Error = err.Error()
			logging.WarnWithContext(p.logger, "capacity query failed; destination skipped this run", "capacity_query_failed",
				logging.Int(logging.FieldAccount, m.ID),
				logging.String("name", m.Name),
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check the destination endpoint and credentials"),
				logging.String(logging.FieldImpact, "files are placed on the remaining destinations"),
			)
		} else {
			account.CapacityBytes = capacity.CapacityBytes
			account.UsedBytes = capacity.UsedBytes
			account.Healthy = true
			healthy++
			p.logger.Debug("capacity refreshed",
				logging.Int(logging.FieldAccount, m.ID),
				logging.Bytes("capacity", capacity.CapacityBytes),
				logging.Bytes("used", capacity.UsedBytes),
			)
		}
		fresh[m.ID] = account
	}
	return fresh, healthy, lastErr
}

// Accounts returns a copy of the current snapshot ordered by id.
func (p *Pool) Accounts() []Account {
	p.mu.Lock()
	defer p.mu.Unlock()
	return sortedAccounts(p.accounts)
}

func sortedAccounts(accounts map[int]*Account) []Account {
	out := make([]Account, 0, len(accounts))
	for _, account := range accounts {
		out = append(out, *account)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Select picks the healthy account with the largest available capacity that
// fits requiredBytes, breaking ties by lowest id, and reserves the bytes.
func (p *Pool) Select(requiredBytes int64) (*Reservation, error) {
	if requiredBytes < 0 {
		requiredBytes = 0
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	var best *Account
	for _, account := range p.accounts {
		if !account.Healthy || account.Available() < requiredBytes {
			continue
		}
		if best == nil || account.Available() > best.Available() ||
			(account.Available() == best.Available() && account.ID < best.ID) {
			best = account
		}
	}
	if best == nil {
		return nil, ErrAccountsExhausted
	}
	best.ReservedBytes += requiredBytes
	return &Reservation{pool: p, account: *best, bytes: requiredBytes, client: p.client(best.ID)}, nil
}

func (p *Pool) client(id int) storage.Client {
	for _, m := range p.members {
		if m.ID == id {
			return m.Client
		}
	}
	return nil
}

// Reservation holds bytes on one account until committed or released.
type Reservation struct {
	pool    *Pool
	account Account
	client  storage.Client
	bytes   int64
	once    sync.Once
}

// Account returns the selected account as it was at selection time.
func (r *Reservation) Account() Account { return r.account }

// Client returns the storage client of the selected account.
func (r *Reservation) Client() storage.Client { return r.client }

// Commit converts the reservation into usage after a successful upload.
// actualBytes replaces the estimate when positive.
func (r *Reservation) Commit(actualBytes int64) {
	r.once.Do(func() {
		r.pool.mu.Lock()
		defer r.pool.mu.Unlock()
		account, ok := r.pool.accounts[r.account.ID]
		if !ok {
			return
		}
		account.ReservedBytes -= r.bytes
		if actualBytes <= 0 {
			actualBytes = r.bytes
		}
		account.UsedBytes += actualBytes
	})
}

// Release returns the reserved bytes after a failed upload.
func (r *Reservation) Release() {
	r.once.Do(func() {
		r.pool.mu.Lock()
		defer r.pool.mu.Unlock()
		if account, ok := r.pool.accounts[r.account.ID]; ok {
			account.ReservedBytes -= r.bytes
		}
	})
}

package destinations_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"nightshift/internal/destinations"
	"nightshift/internal/logging"
	"nightshift/internal/services"
	"nightshift/internal/testsupport"
)

const (
	mb = int64(1_000_000)
	gb = 1000 * mb
)

func pool(t *testing.T, avail ...int64) (*destinations.Pool, []*testsupport.FakeStorage) {
	t.Helper()
	members := make([]destinations.Member, 0, len(avail))
	fakes := make([]*testsupport.FakeStorage, 0, len(avail))
	for i, a := range avail {
		fake := testsupport.NewFakeStorage(a)
		fakes = append(fakes, fake)
		members = append(members, destinations.Member{ID: i + 1, Name: string(rune('A' + i)), Provider: "fake", Client: fake})
	}
	p := destinations.NewPool(members, logging.NewNop())
	if _, err := p.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	return p, fakes
}

func TestSelectLargestAvailable(t *testing.T) {
	p, _ := pool(t, 5*gb, 1*gb)
	r, err := p.Select(2 * gb)
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if r.Account().Name != "A" {
		t.Fatalf("expected A, got %s", r.Account().Name)
	}
}

func TestSelectSkipsFullAccount(t *testing.T) {
	p, _ := pool(t, 0, 5*gb)
	r, err := p.Select(2 * gb)
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if r.Account().Name != "B" {
		t.Fatalf("expected B, got %s", r.Account().Name)
	}
}

func TestSelectExhausted(t *testing.T) {
	p, _ := pool(t, 0, 0)
	_, err := p.Select(2 * gb)
	if !errors.Is(err, destinations.ErrAccountsExhausted) || !errors.Is(err, services.ErrCapacityExhausted) {
		t.Fatalf("expected exhausted, got %v", err)
	}
}

func TestTiesBreakByLowestID(t *testing.T) {
	p, _ := pool(t, 3*gb, 3*gb, 3*gb)
	r, err := p.Select(mb)
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if r.Account().ID != 1 {
		t.Fatalf("expected id 1, got %d", r.Account().ID)
	}
}

func TestReservationsPreventOversubscription(t *testing.T) {
	p, _ := pool(t, 10*mb)
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		granted int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := p.Select(3 * mb); err == nil {
				mu.Lock()
				granted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if granted != 3 {
		t.Fatalf("expected 3 reservations of 3MB in 10MB, got %d", granted)
	}
}

func TestReleaseAndCommit(t *testing.T) {
	p, _ := pool(t, 10*mb)
	r, err := p.Select(6 * mb)
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if _, err := p.Select(6 * mb); err == nil {
		t.Fatal("expected second 6MB selection to fail while reserved")
	}
	r.Release()
	r.Release()
	r2, err := p.Select(6 * mb)
	if err != nil {
		t.Fatalf("Select after release: %v", err)
	}
	r2.Commit(5 * mb)
	accounts := p.Accounts()
	if accounts[0].UsedBytes != 5*mb || accounts[0].ReservedBytes != 0 || accounts[0].Available() != 5*mb {
		t.Fatalf("unexpected snapshot %+v", accounts[0])
	}
}

func TestRefreshSkipsFailingAccounts(t *testing.T) {
	p, fakes := pool(t, 5*gb, 1*gb)
	fakes[0].FailCapacity(testsupport.ErrFakeTransient)
	accounts, err := p.Refresh(context.Background())
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if accounts[0].Healthy || !accounts[1].Healthy {
		t.Fatalf("unexpected health %+v", accounts)
	}
	r, err := p.Select(mb)
	if err != nil || r.Account().ID != 2 {
		t.Fatalf("expected fallback to account 2, got %+v %v", r, err)
	}

	fakes[1].FailCapacity(testsupport.ErrFakeTransient)
	if _, err := p.Refresh(context.Background()); !errors.Is(err, services.ErrTransientIO) {
		t.Fatalf("expected transient error when all fail, got %v", err)
	}
}

func TestRefreshQueriesOncePerCall(t *testing.T) {
	p, fakes := pool(t, gb)
	for i := 0; i < 5; i++ {
		if _, err := p.Select(mb); err != nil {
			t.Fatalf("Select: %v", err)
		}
	}
	if calls := fakes[0].CapacityCalls(); calls != 1 {
		t.Fatalf("expected one capacity query, got %d", calls)
	}
}

func TestProbeLeavesSnapshotUntouched(t *testing.T) {
	p, fakes := pool(t, 5*gb)
	r, err := p.Select(1 * gb)
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	defer r.Release()
	fakes[0].SetUsed(4 * gb)

	probed := p.Probe(context.Background())
	if len(probed) != 1 || probed[0].Available() != 1*gb || probed[0].ReservedBytes != 0 {
		t.Fatalf("unexpected probe result: %+v", probed)
	}
	if got := p.Accounts()[0]; got.ReservedBytes != 1*gb || got.UsedBytes != 0 {
		t.Fatalf("probe must not replace the run snapshot: %+v", got)
	}
}

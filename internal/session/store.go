package session

import (
	"sync"
	"time"

	"github.com/hitoshi/sellerdesk/internal/model"
)

// Phase は利用側から観測されるセッションの状態。
type Phase string

const (
	PhaseBootstrapping   Phase = "bootstrapping"
	PhaseAuthenticated   Phase = "authenticated"
	PhaseUnauthenticated Phase = "unauthenticated"
)

// Snapshot はセッション状態のある時点のコピー。
type Snapshot struct {
	User          *model.UserProfile
	Shops         []model.Shop
	CurrentShop   *model.Shop
	Authenticated bool
	Loading       bool
	Reconciling   bool
	Version       uint64
	UpdatedAt     time.Time
}

// Phase はスナップショットが表す状態を返す。
func (s Snapshot) Phase() Phase {
	switch {
	case s.Authenticated:
		return PhaseAuthenticated
	case s.Loading:
		return PhaseBootstrapping
	default:
		return PhaseUnauthenticated
	}
}

// clone はスライスとポインタを共有しないコピーを返す。
func (s Snapshot) clone() Snapshot {
	dup := s
	if s.User != nil {
		u := *s.User
		dup.User = &u
	}
	dup.Shops = model.CloneShops(s.Shops)
	if s.CurrentShop != nil {
		c := s.CurrentShop.Clone()
		dup.CurrentShop = &c
	}
	return dup
}

// Store は最新のスナップショットを保持する。
// 書き込みはReconcilerのみが行い、状態遷移ごとにスナップショット全体を置き換える。
type Store struct {
	mu       sync.RWMutex
	snapshot Snapshot
	watchers []chan struct{}
}

// NewStore は起動直後の状態（Loading=true, Authenticated=false）のStoreを生成する。
func NewStore() *Store {
	return &Store{snapshot: Snapshot{Loading: true, UpdatedAt: time.Now()}}
}

// Snapshot は現在のスナップショットのコピーを返す。
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshot.clone()
}

// Changed は次の状態変更時にcloseされるチャネルを返す。
func (s *Store) Changed() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch := make(chan struct{})
	s.watchers = append(s.watchers, ch)
	return ch
}

// commit はスナップショットを置き換え、Versionを進めて待機者に通知する。
func (s *Store) commit(next Snapshot, now time.Time) Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	next = next.clone()
	next.Version = s.snapshot.Version + 1
	next.UpdatedAt = now
	s.snapshot = next

	for _, ch := range s.watchers {
		close(ch)
	}
	s.watchers = nil

	return next.clone()
}

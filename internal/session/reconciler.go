package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hitoshi/sellerdesk/internal/model"
)

const (
	triggerBootstrap = "bootstrap"
	triggerEvent     = "event"
	triggerLogin     = "login"
	triggerRegister  = "register"

	outcomeAuthenticated   = "authenticated"
	outcomeUnauthenticated = "unauthenticated"
	outcomePreserved       = "preserved"
	outcomeFailed          = "failed"
	outcomeStale           = "stale"
)

// ErrSuperseded は明示的な操作の結果が、より新しい状態遷移によって無効化されたことを示す。
var ErrSuperseded = errors.New("session changed while the request was in progress")

// ReconcilerConfig はReconcilerの設定。
type ReconcilerConfig struct {
	SessionCheckTimeout time.Duration // セッション確認の待機上限
	ProfileFetchTimeout time.Duration // プロフィール取得の待機上限
	AuthActionTimeout   time.Duration // サインイン・サインアップ・サインアウトの待機上限
	SuppressWindow      time.Duration // SIGNED_IN抑止トークンの有効期間
}

// DefaultReconcilerConfig はデフォルト設定を返す。
// セッション確認はバックグラウンドタブでの遅延を許容するため30秒、プロフィール取得は15秒。
func DefaultReconcilerConfig() ReconcilerConfig {
	return ReconcilerConfig{
		SessionCheckTimeout: 30 * time.Second,
		ProfileFetchTimeout: 15 * time.Second,
		AuthActionTimeout:   30 * time.Second,
		SuppressWindow:      10 * time.Second,
	}
}

// Reconciler はIdPの実際のセッション状態とローカルのセッション状態を一致させる。
//
// 不変条件:
//   - リコンサイルは同時に1つまで。実行中に届いた2つ目の契機は破棄する（キューイングしない）。
//   - 各リコンサイル・明示的操作は世代番号を持ち、完了時に世代が最新でなければ結果を適用しない。
//   - どの終了経路でもLoadingはfalseに戻る。
type Reconciler struct {
	provider IdentityProvider
	profiles ProfileService
	selector *ShopSelector
	store    *Store
	metrics  MetricsRecorder
	logger   *slog.Logger
	config   ReconcilerConfig
	now      func() time.Time

	mu         sync.Mutex
	state      Snapshot
	generation uint64
	inFlight   uint64 // ガードを保持している世代。0は実行中のリコンサイルなし
	suppress   *suppression
	closed     bool

	startOnce   sync.Once
	unsubscribe func()
	wg          sync.WaitGroup
}

// NewReconciler はReconcilerを生成する。metricsとloggerはnilでもよい。
func NewReconciler(
	provider IdentityProvider,
	profiles ProfileService,
	selector *ShopSelector,
	store *Store,
	metrics MetricsRecorder,
	logger *slog.Logger,
	config ReconcilerConfig,
) *Reconciler {
	defaults := DefaultReconcilerConfig()
	if config.SessionCheckTimeout <= 0 {
		config.SessionCheckTimeout = defaults.SessionCheckTimeout
	}
	if config.ProfileFetchTimeout <= 0 {
		config.ProfileFetchTimeout = defaults.ProfileFetchTimeout
	}
	if config.AuthActionTimeout <= 0 {
		config.AuthActionTimeout = defaults.AuthActionTimeout
	}
	if metrics == nil {
		metrics = nopMetrics{}
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Reconciler{
		provider: provider,
		profiles: profiles,
		selector: selector,
		store:    store,
		metrics:  metrics,
		logger:   logger,
		config:   config,
		now:      time.Now,
		state:    store.Snapshot(),
	}
}

// Snapshot は現在のセッション状態のコピーを返す。
func (r *Reconciler) Snapshot() Snapshot {
	return r.store.Snapshot()
}

// Changed は次の状態変更時にcloseされるチャネルを返す。
func (r *Reconciler) Changed() <-chan struct{} {
	return r.store.Changed()
}

// Start はIdPのセッション変更通知を購読し、起動時のリコンサイルを開始する。
// 2回目以降の呼び出しは何もしない。
func (r *Reconciler) Start(ctx context.Context) {
	r.startOnce.Do(func() {
		unsubscribe := r.provider.Subscribe(func(ev model.AuthEvent) {
			r.dispatch(ctx, ev)
		})

		r.mu.Lock()
		r.unsubscribe = unsubscribe
		r.wg.Add(1)
		r.mu.Unlock()

		go func() {
			defer r.wg.Done()
			r.Bootstrap(ctx)
		}()
	})
}

// Close は購読を解除し、実行中の処理の完了を待つ。
func (r *Reconciler) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	unsubscribe := r.unsubscribe
	r.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	r.wg.Wait()
	r.logger.Info("unsubscribed from provider session events")
}

// Bootstrap は現在のセッションを確認し、プロフィールとショップ一覧を取得して状態に反映する。
// 別のリコンサイルが実行中の場合は何もせずに戻る。
func (r *Reconciler) Bootstrap(ctx context.Context) {
	r.mu.Lock()
	gen, ok := r.beginLocked(triggerBootstrap, true)
	r.mu.Unlock()
	if !ok {
		return
	}
	defer r.finish(gen, triggerBootstrap)

	logger := r.logger.With(
		slog.String("trigger", triggerBootstrap),
		slog.String("attempt_id", uuid.NewString()),
	)

	sess, err := awaitWithin(ctx, r.config.SessionCheckTimeout, "get current session", r.provider.GetCurrentSession)
	if err != nil {
		if r.preserveOnSoftFailure(gen, err) {
			logger.Warn("session check inconclusive, keeping authenticated state",
				slog.String("error", err.Error()),
			)
			r.metrics.RecordReconcile(triggerBootstrap, outcomePreserved)
			return
		}
		logger.Error("session check failed", slog.String("error", err.Error()))
		r.resetIfCurrent(gen, triggerBootstrap)
		return
	}

	if sess == nil {
		logger.Info("no session found")
		r.resetIfCurrent(gen, triggerBootstrap)
		return
	}

	profile, err := r.fetchProfile(ctx, sess)
	if err != nil {
		if errors.Is(err, model.ErrProfileNotFound) {
			logger.Warn("session has no profile, signing out",
				slog.String("user_id", sess.User.ID),
			)
			// 古い世代の結果でIdPをサインアウトすると、後続のログインを取り消してしまう
			if r.resetIfCurrent(gen, triggerBootstrap) {
				r.signOutQuietly(ctx, logger)
			}
			return
		}
		logger.Warn("profile fetch inconclusive, keeping previous state",
			slog.String("error", err.Error()),
		)
		r.metrics.RecordReconcile(triggerBootstrap, outcomePreserved)
		return
	}

	if r.applyIfCurrent(gen, triggerBootstrap, profile) {
		logger.Info("session restored",
			slog.String("user_id", profile.User.ID),
			slog.Int("shops", len(profile.Shops)),
		)
	}
}

// OnProviderEvent はIdPからのセッション変更通知を処理し、完了まで待つ。
func (r *Reconciler) OnProviderEvent(ctx context.Context, ev model.AuthEvent) {
	if job := r.admit(ev, false); job != nil {
		job(ctx)
	}
}

// dispatch は購読コールバックから呼ばれる。
// 抑止判定とガード取得は通知の到着順に同期的に行い、ネットワーク処理のみ別goroutineで実行する。
func (r *Reconciler) dispatch(ctx context.Context, ev model.AuthEvent) {
	job := r.admit(ev, true)
	if job == nil {
		return
	}
	go func() {
		defer r.wg.Done()
		job(ctx)
	}()
}

// admit はイベントに対する状態遷移を行い、プロフィール取得が必要な場合はその処理を返す。
// trackがtrueで処理を返す場合はWaitGroupに登録済み。
func (r *Reconciler) admit(ev model.AuthEvent, track bool) func(context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.metrics.RecordEvent(ev.Kind.String())

	switch ev.Kind {
	case model.AuthEventSignedIn, model.AuthEventUserUpdated:
		if ev.Session == nil {
			return nil
		}
		if r.consumeSuppressionLocked(ev) {
			return nil
		}
		return r.admitReconcileLocked(ev, track)

	case model.AuthEventSignedOut:
		r.generation++
		r.inFlight = 0
		r.resetLocked()
		r.state.Loading = false
		r.commitLocked()
		r.logger.Info("provider signed out")
		return nil

	case model.AuthEventTokenRefreshed:
		if ev.Session == nil {
			return nil
		}
		if r.state.User == nil {
			// ユーザー未取得のまま認証済みにはできないため、プロフィールを取得する
			return r.admitReconcileLocked(ev, track)
		}
		r.state.Authenticated = true
		r.state.Loading = false
		r.commitLocked()
		r.logger.Debug("token refreshed")
		return nil

	case model.AuthEventOther:
		return nil

	default:
		return nil
	}
}

func (r *Reconciler) admitReconcileLocked(ev model.AuthEvent, track bool) func(context.Context) {
	gen, ok := r.beginLocked(triggerEvent, false)
	if !ok {
		return nil
	}
	if track {
		r.wg.Add(1)
	}
	return func(ctx context.Context) {
		r.reconcileFromEvent(ctx, gen, ev)
	}
}

// reconcileFromEvent はイベントを契機にプロフィールを取得する。
// 取得に失敗しても認証状態は変更しない（トークン更新との競合などによる誤ったログアウトを避ける）。
func (r *Reconciler) reconcileFromEvent(ctx context.Context, gen uint64, ev model.AuthEvent) {
	defer r.finish(gen, triggerEvent)

	logger := r.logger.With(
		slog.String("trigger", triggerEvent),
		slog.String("event", ev.Kind.String()),
		slog.String("attempt_id", uuid.NewString()),
	)

	profile, err := r.fetchProfile(ctx, ev.Session)
	if err != nil {
		logger.Warn("profile fetch on event failed, keeping state",
			slog.String("error", err.Error()),
		)
		r.metrics.RecordReconcile(triggerEvent, outcomeFailed)
		return
	}

	if r.applyIfCurrent(gen, triggerEvent, profile) {
		logger.Info("session reconciled from event",
			slog.String("user_id", profile.User.ID),
		)
	}
}

// consumeSuppressionLocked は抑止トークンを消費する。イベントを読み飛ばす場合はtrueを返す。
// 期限切れや別ユーザーのトークンは破棄し、イベントを通常どおり処理させる。
func (r *Reconciler) consumeSuppressionLocked(ev model.AuthEvent) bool {
	s := r.suppress
	if s == nil {
		return false
	}
	r.suppress = nil

	if s.expired(r.now(), r.config.SuppressWindow) {
		r.logger.Info("suppression token expired, processing event",
			slog.String("event", ev.Kind.String()),
		)
		return false
	}
	if !s.matches(ev.Session) {
		r.logger.Info("suppression token belongs to another user, processing event",
			slog.String("event", ev.Kind.String()),
		)
		return false
	}

	r.metrics.RecordEventSuppressed(ev.Kind.String())
	r.logger.Info("explicit sign-in already populated state, skipping profile fetch",
		slog.String("event", ev.Kind.String()),
	)
	if r.inFlight == 0 && r.state.Loading {
		r.state.Loading = false
		r.commitLocked()
	}
	return true
}

// Login はメールアドレスとパスワードでログインし、状態を反映する。
// 失敗時は原因を含む*model.APIErrorを返す。
func (r *Reconciler) Login(ctx context.Context, email, password string) error {
	gen := r.beginAction(email)
	defer r.finish(gen, triggerLogin)

	logger := r.logger.With(slog.String("op", triggerLogin), slog.String("email", email))

	sess, err := awaitWithin(ctx, r.config.AuthActionTimeout, "sign in", func(ctx context.Context) (*model.Session, error) {
		return r.provider.SignInWithPassword(ctx, email, password)
	})
	if err != nil {
		r.disarm(gen)
		logger.Warn("login failed", slog.String("error", err.Error()))
		r.metrics.RecordReconcile(triggerLogin, outcomeFailed)
		return model.NewLoginFailedError(err)
	}

	profile, err := r.fetchProfile(ctx, sess)
	if err != nil {
		logger.Error("profile fetch after login failed", slog.String("error", err.Error()))
		if !errors.Is(err, model.ErrProfileNotFound) {
			r.metrics.RecordReconcile(triggerLogin, outcomeFailed)
		}
		if errors.Is(err, model.ErrProfileNotFound) && r.resetIfCurrent(gen, triggerLogin) {
			r.signOutQuietly(ctx, logger)
		}
		return model.NewLoginFailedError(err)
	}

	if !r.applyIfCurrent(gen, triggerLogin, profile) {
		return model.NewLoginFailedError(ErrSuperseded)
	}

	logger.Info("login succeeded", slog.Int("shops", len(profile.Shops)))
	return nil
}

// Register は新しいIDとプロフィールレコードを作成し、状態を反映する。
// ショップは作成しない。
func (r *Reconciler) Register(ctx context.Context, reg model.Registration) error {
	gen := r.beginAction(reg.Email)
	defer r.finish(gen, triggerRegister)

	logger := r.logger.With(slog.String("op", triggerRegister), slog.String("email", reg.Email))

	sess, err := awaitWithin(ctx, r.config.AuthActionTimeout, "sign up", func(ctx context.Context) (*model.Session, error) {
		return r.provider.SignUp(ctx, reg)
	})
	if err != nil {
		r.disarm(gen)
		logger.Warn("sign up failed", slog.String("error", err.Error()))
		r.metrics.RecordReconcile(triggerRegister, outcomeFailed)
		return model.NewRegisterFailedError(err)
	}

	profile, err := awaitWithin(ctx, r.config.ProfileFetchTimeout, "create profile", func(ctx context.Context) (*model.Profile, error) {
		return r.profiles.CreateProfile(ctx, sess, reg)
	})
	if err != nil {
		logger.Error("profile record creation failed", slog.String("error", err.Error()))
		r.metrics.RecordReconcile(triggerRegister, outcomeFailed)
		return model.NewRegisterFailedError(err)
	}

	if sess.Pending() {
		r.disarm(gen)
		logger.Info("registration requires email confirmation")
		r.metrics.RecordReconcile(triggerRegister, outcomeUnauthenticated)
		return model.NewRegisterFailedError(model.ErrConfirmationRequired)
	}

	if !r.applyIfCurrent(gen, triggerRegister, profile) {
		return model.NewRegisterFailedError(ErrSuperseded)
	}

	logger.Info("registration succeeded", slog.String("user_id", profile.User.ID))
	return nil
}

// Logout はローカル状態と選択中ショップを必ず消去し、その後IdPのサインアウトを試みる。
// IdPのサインアウト失敗はエラーとして返すが、ローカル状態の消去は取り消さない。
func (r *Reconciler) Logout(ctx context.Context) error {
	r.mu.Lock()
	r.generation++
	r.inFlight = 0
	r.suppress = nil
	r.resetLocked()
	r.state.Loading = false
	if err := r.selector.Forget(); err != nil {
		r.logger.Error("failed to clear selected shop", slog.String("error", err.Error()))
	}
	r.commitLocked()
	r.mu.Unlock()

	_, err := awaitWithin(ctx, r.config.AuthActionTimeout, "sign out", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, r.provider.SignOut(ctx)
	})
	if err != nil {
		r.logger.Warn("provider sign out failed, local session cleared",
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("failed to sign out from provider: %w", err)
	}

	r.logger.Info("logout succeeded")
	return nil
}

// SelectShop は所有ショップの中から現在のショップを切り替える。
func (r *Reconciler) SelectShop(shopID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	shop, err := r.selector.Select(r.state.Shops, shopID)
	if err != nil {
		return err
	}
	r.state.CurrentShop = shop
	r.commitLocked()

	r.logger.Info("switched shop", slog.String("shop_id", shop.ID))
	return nil
}

// AddShop は作成済みのショップを一覧に追加する。
// 現在のショップが未設定であれば追加したショップを選択する。
func (r *Reconciler) AddShop(shop model.Shop) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	shops, current, err := r.selector.Add(r.state.Shops, r.state.CurrentShop, shop)
	r.state.Shops = shops
	r.state.CurrentShop = current
	r.commitLocked()

	if err != nil {
		return fmt.Errorf("failed to persist selected shop: %w", err)
	}
	return nil
}

// ReplaceShop は更新済みのショップで一覧内の同じIDのショップを置き換える。
func (r *Reconciler) ReplaceShop(shop model.Shop) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if model.FindShop(r.state.Shops, shop.ID) < 0 {
		return model.NewUnknownShopError(shop.ID)
	}
	r.state.Shops, r.state.CurrentShop = r.selector.Replace(r.state.Shops, r.state.CurrentShop, shop)
	r.commitLocked()
	return nil
}

// beginLocked はリコンサイルのガードを取得する。実行中のリコンサイルがあればfalseを返す。
func (r *Reconciler) beginLocked(trigger string, showLoading bool) (uint64, bool) {
	if r.inFlight != 0 {
		r.metrics.RecordReconcileSkipped(trigger)
		r.logger.Info("reconciliation already in progress, skipping",
			slog.String("trigger", trigger),
		)
		return 0, false
	}

	r.generation++
	r.inFlight = r.generation
	// 認証済みの状態ではローディング表示によるちらつきを避ける
	if showLoading && !r.state.Authenticated {
		r.state.Loading = true
	}
	r.commitLocked()
	return r.generation, true
}

// beginAction は明示的な操作を開始する。実行中のリコンサイルは無効化される。
// IdP呼び出しの前に抑止トークンを設定する（呼び出し中にSIGNED_INが届くことがあるため）。
func (r *Reconciler) beginAction(email string) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.generation++
	r.inFlight = r.generation
	r.suppress = newSuppression(email, r.now())
	r.suppress.generation = r.generation
	r.state.Loading = true
	r.commitLocked()
	return r.generation
}

// disarm は操作が設定した抑止トークンを取り消す。
func (r *Reconciler) disarm(gen uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.suppress != nil && r.suppress.generation == gen {
		r.suppress = nil
	}
}

// finish はガードを解放しLoadingをfalseに戻す。世代が古い場合は何もしない。
func (r *Reconciler) finish(gen uint64, trigger string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if gen != r.generation {
		r.metrics.RecordStaleResult(trigger)
		return
	}
	r.inFlight = 0
	r.state.Loading = false
	r.commitLocked()
}

// preserveOnSoftFailure は一時的な失敗かつ認証済みの場合にtrueを返す。
func (r *Reconciler) preserveOnSoftFailure(gen uint64, err error) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return gen == r.generation && model.IsSoftFailure(err) && r.state.Authenticated
}

// resetIfCurrent は世代が最新の場合のみ未認証状態に戻し、trueを返す。
// falseの場合、呼び出し側はIdPへの副作用も含めて結果を破棄すること。
func (r *Reconciler) resetIfCurrent(gen uint64, trigger string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if gen != r.generation {
		r.metrics.RecordReconcile(trigger, outcomeStale)
		r.logger.Info("discarding stale reconciliation failure",
			slog.String("trigger", trigger),
		)
		return false
	}
	r.resetLocked()
	r.commitLocked()
	r.metrics.RecordReconcile(trigger, outcomeUnauthenticated)
	return true
}

// applyIfCurrent は世代が最新の場合のみプロフィールを状態に反映する。
// 現在のショップはローカルストレージから復元し、復元結果を保存し直す。
func (r *Reconciler) applyIfCurrent(gen uint64, trigger string, profile *model.Profile) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if gen != r.generation {
		r.metrics.RecordReconcile(trigger, outcomeStale)
		r.logger.Info("discarding stale reconciliation result",
			slog.String("trigger", trigger),
		)
		return false
	}

	user := profile.User
	r.state.User = &user
	r.state.Shops = model.CloneShops(profile.Shops)
	r.state.CurrentShop = r.selector.Restore(r.state.Shops)
	r.state.Authenticated = true

	if cur := r.state.CurrentShop; cur != nil && r.selector.stored() != cur.ID {
		if err := r.selector.Remember(cur.ID); err != nil {
			r.logger.Error("failed to persist selected shop", slog.String("error", err.Error()))
		}
	}

	r.commitLocked()
	r.metrics.RecordReconcile(trigger, outcomeAuthenticated)
	return true
}

func (r *Reconciler) fetchProfile(ctx context.Context, sess *model.Session) (*model.Profile, error) {
	start := time.Now()
	profile, err := awaitWithin(ctx, r.config.ProfileFetchTimeout, "fetch profile", func(ctx context.Context) (*model.Profile, error) {
		return r.profiles.FetchProfileAndShops(ctx, sess)
	})
	r.metrics.RecordProfileFetch(time.Since(start), err)
	if err == nil && profile == nil {
		return nil, fmt.Errorf("fetch profile: %w", model.ErrProfileNotFound)
	}
	return profile, err
}

func (r *Reconciler) signOutQuietly(ctx context.Context, logger *slog.Logger) {
	_, err := awaitWithin(ctx, r.config.AuthActionTimeout, "sign out", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, r.provider.SignOut(ctx)
	})
	if err != nil {
		logger.Warn("provider sign out failed", slog.String("error", err.Error()))
	}
}

func (r *Reconciler) resetLocked() {
	r.state.User = nil
	r.state.Shops = nil
	r.state.CurrentShop = nil
	r.state.Authenticated = false
}

func (r *Reconciler) commitLocked() {
	r.state.Reconciling = r.inFlight != 0
	r.state = r.store.commit(r.state, r.now())
}

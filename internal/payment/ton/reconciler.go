package ton

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"vipgate/internal/access"
	"vipgate/internal/catalog"
	"vipgate/internal/settings"
	"vipgate/internal/subscription"
	"vipgate/internal/subscription/service"
)

var (
	ErrNotConfigured       = errors.New("ton payments are not configured")
	ErrInvalidPrice        = errors.New("plan has no valid ton price")
	ErrExplorerUnavailable = errors.New("ton explorers are unavailable, try again later")
)

type Status string

const (
	StatusConfirmed   Status = "confirmed"
	StatusNotFound    Status = "not_found"
	StatusAlreadyUsed Status = "already_used"
)

// Instructions: что пользователь должен отправить и куда.
type Instructions struct {
	PlanID     string `json:"plan_id"`
	PlanName   string `json:"plan_name"`
	Wallet     string `json:"wallet"`
	Memo       string `json:"memo"`
	Amount     string `json:"amount"`
	AmountNano int64  `json:"amount_nano"`
}

type ConfirmResult struct {
	Status       Status                     `json:"status"`
	TxHash       string                     `json:"tx_hash,omitempty"`
	Subscription *subscription.Subscription `json:"subscription,omitempty"`
	InviteLink   string                     `json:"invite_link,omitempty"`
	// AccessGranted: ссылка уже доставлена пользователю личным сообщением
	AccessGranted bool `json:"access_granted"`
}

type Subscriptions interface {
	Create(ctx context.Context, userID, channelID string, plan *catalog.Plan, ref service.PaymentRef) (*subscription.Subscription, error)
	GrantAccess(ctx context.Context, sub *subscription.Subscription) (access.Result, bool)
}

type TxLookup interface {
	FindByTonTxHash(ctx context.Context, hash string) (*subscription.Subscription, error)
}

type Notifier interface {
	NewPurchase(ctx context.Context, userID string, plan *catalog.Plan)
}

// apiKeyed: эксплорер, которому ключ передаётся из настроек на каждый запрос.
type apiKeyed interface {
	WithAPIKey(apiKey string) Explorer
}

type Reconciler struct {
	subs     Subscriptions
	txs      TxLookup
	plans    service.PlanCatalog
	notifier Notifier
	settings settings.Provider
	primary  Explorer
	fallback Explorer
	logger   zerolog.Logger
}

func NewReconciler(subs Subscriptions, txs TxLookup, plans service.PlanCatalog, n Notifier, provider settings.Provider, primary, fallback Explorer, logger zerolog.Logger) *Reconciler {
	return &Reconciler{
		subs:     subs,
		txs:      txs,
		plans:    plans,
		notifier: n,
		settings: provider,
		primary:  primary,
		fallback: fallback,
		logger:   logger.With().Str("component", "ton").Logger(),
	}
}

type quote struct {
	plan    *catalog.Plan
	cfg     settings.PaymentSettings
	memo    string
	minNano int64
}

func (r *Reconciler) quote(ctx context.Context, userID, planID string) (*quote, error) {
	cfg, err := r.settings.PaymentSettings(ctx)
	if err != nil {
		return nil, err
	}
	if !cfg.TonConfigured() {
		return nil, ErrNotConfigured
	}

	plan, err := r.plans.GetPlan(ctx, planID)
	if err != nil {
		return nil, err
	}
	if !plan.Price.IsPositive() {
		return nil, ErrInvalidPrice
	}

	return &quote{
		plan:    plan,
		cfg:     cfg,
		memo:    Memo(userID, plan.ID),
		minNano: ToNano(plan.Price),
	}, nil
}

// Initiate возвращает реквизиты оплаты. Ничего не записывает.
func (r *Reconciler) Initiate(ctx context.Context, userID, planID string) (*Instructions, error) {
	q, err := r.quote(ctx, userID, planID)
	if err != nil {
		return nil, err
	}

	return &Instructions{
		PlanID:     q.plan.ID,
		PlanName:   q.plan.Name,
		Wallet:     q.cfg.TonWalletAddress,
		Memo:       q.memo,
		Amount:     q.plan.Price.String(),
		AmountNano: q.minNano,
	}, nil
}

// Confirm ищет платёж в блокчейне и, если он найден и ещё не использован, создаёт подписку.
func (r *Reconciler) Confirm(ctx context.Context, userID, planID string) (*ConfirmResult, error) {
	q, err := r.quote(ctx, userID, planID)
	if err != nil {
		return nil, err
	}
	log := r.logger.With().Str("user_id", userID).Str("plan_id", q.plan.ID).Logger()

	candidates, err := r.findPayments(ctx, q)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		log.Info().Str("memo", q.memo).Msg("TON: payment not found yet")
		return &ConfirmResult{Status: StatusNotFound}, nil
	}

	for _, tx := range candidates {
		existing, err := r.txs.FindByTonTxHash(ctx, tx.Hash)
		if err != nil {
			return nil, fmt.Errorf("lookup tx hash: %w", err)
		}
		if existing != nil {
			continue
		}

		sub, err := r.subs.Create(ctx, userID, q.plan.Channel(), q.plan, service.PaymentRef{
			TonTxHash: subscription.StringPtr(tx.Hash),
		})
		if errors.Is(err, subscription.ErrTxHashUsed) {
			// параллельное подтверждение успело раньше
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("create subscription: %w", err)
		}

		log.Info().Str("tx_hash", tx.Hash).Int64("value_nano", tx.ValueNano).Msg("TON: payment confirmed")

		res := &ConfirmResult{Status: StatusConfirmed, TxHash: tx.Hash, Subscription: sub}
		if ar, ok := r.subs.GrantAccess(ctx, sub); ok {
			res.InviteLink = ar.InviteLink
			res.AccessGranted = ar.OK
			if !ar.OK {
				log.Warn().Err(ar.Err).Msg("TON: access not granted")
			}
		}
		r.notifier.NewPurchase(ctx, userID, q.plan)
		return res, nil
	}

	log.Warn().Msg("TON: matching transactions already used")
	return &ConfirmResult{Status: StatusAlreadyUsed, TxHash: candidates[0].Hash}, nil
}

// findPayments: сначала основной эксплорер, при ошибке или отсутствии совпадений: запасной.
// Ошибка только если оба эксплорера недоступны.
func (r *Reconciler) findPayments(ctx context.Context, q *quote) ([]Transaction, error) {
	primaryTxs, primaryErr := r.primary.Transactions(ctx, q.cfg.TonWalletAddress)
	if primaryErr == nil {
		if c := Candidates(primaryTxs, q.memo, q.minNano); len(c) > 0 {
			return c, nil
		}
	} else {
		r.logger.Warn().Err(primaryErr).Str("explorer", r.primary.Name()).Msg("TON: primary explorer failed")
	}

	fallback := r.fallback
	if k, ok := fallback.(apiKeyed); ok && q.cfg.ToncenterAPIKey != "" {
		fallback = k.WithAPIKey(q.cfg.ToncenterAPIKey)
	}

	fallbackTxs, fallbackErr := fallback.Transactions(ctx, q.cfg.TonWalletAddress)
	if fallbackErr != nil {
		r.logger.Warn().Err(fallbackErr).Str("explorer", fallback.Name()).Msg("TON: fallback explorer failed")
		if primaryErr != nil {
			return nil, fmt.Errorf("%w: %v; %v", ErrExplorerUnavailable, primaryErr, fallbackErr)
		}
		return nil, nil
	}
	return Candidates(fallbackTxs, q.memo, q.minNano), nil
}

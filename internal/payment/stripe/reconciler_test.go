package stripe

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	stripewebhook "github.com/stripe/stripe-go/v82/webhook"

	"vipgate/internal/access"
	"vipgate/internal/catalog"
	catalogrepo "vipgate/internal/catalog/repository"
	"vipgate/internal/settings"
	"vipgate/internal/subscription"
	"vipgate/internal/subscription/repository"
	"vipgate/internal/subscription/service"
)

const webhookSecret = "whsec_test_secret"

var t0 = time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

type fakeAccess struct {
	grants  []string
	release chan struct{} // если задан, Grant ждёт его закрытия
}

func (f *fakeAccess) Grant(ctx context.Context, userID, channelID string) access.Result {
	if f.release != nil {
		<-f.release
	}
	f.grants = append(f.grants, userID+"@"+channelID)
	return access.Result{OK: true}
}

func (f *fakeAccess) Revoke(ctx context.Context, userID, channelID string) access.Result {
	return access.Result{OK: true}
}

type fakeNotifier struct {
	events []string
}

func (f *fakeNotifier) NewPurchase(ctx context.Context, userID string, plan *catalog.Plan) {
	f.events = append(f.events, "purchase:"+userID)
}

func (f *fakeNotifier) Renewal(ctx context.Context, userID string, plan *catalog.Plan) {
	f.events = append(f.events, "renewal:"+userID)
}

func (f *fakeNotifier) Expired(ctx context.Context, sub *subscription.Subscription) {}

func (f *fakeNotifier) Kicked(ctx context.Context, userID, channelID string) {}

// flakyStore падает на записи, пока failWrites=true
type flakyStore struct {
	*repository.MemoryRepository
	failWrites bool
}

func (s *flakyStore) Create(ctx context.Context, spec subscription.CreateSpec) (*subscription.Subscription, error) {
	if s.failWrites {
		return nil, errors.New("connection refused")
	}
	return s.MemoryRepository.Create(ctx, spec)
}

func (s *flakyStore) Extend(ctx context.Context, userID, planID string, d time.Duration, now time.Time) (*subscription.Extension, error) {
	if s.failWrites {
		return nil, errors.New("connection refused")
	}
	return s.MemoryRepository.Extend(ctx, userID, planID, d, now)
}

type fixture struct {
	reconciler *Reconciler
	store      *flakyStore
	access     *fakeAccess
	notifier   *fakeNotifier
	now        time.Time
}

func newFixture(cfg settings.PaymentSettings) *fixture {
	f := &fixture{
		store:    &flakyStore{MemoryRepository: repository.NewMemoryRepository()},
		access:   &fakeAccess{},
		notifier: &fakeNotifier{},
		now:      t0,
	}
	plans := catalogrepo.NewMemoryCatalog(catalog.Plan{
		ID:           "p30",
		Name:         "Monthly",
		Price:        decimal.NewFromInt(10),
		Currency:     "USD",
		DurationDays: 30,
		ChannelID:    subscription.StringPtr("-1001"),
	})
	svc := service.NewService(f.store, plans, f.access, f.notifier, zerolog.Nop()).
		WithClock(func() time.Time { return f.now })
	f.reconciler = NewReconciler(svc, f.store, plans, f.notifier, settings.Static{Payment: cfg}, zerolog.Nop())
	return f
}

func configured() settings.PaymentSettings {
	return settings.PaymentSettings{StripeSecretKey: "sk_test_123", StripeWebhookSecret: webhookSecret}
}

func signed(payload string) ([]byte, string) {
	s := stripewebhook.GenerateTestSignedPayload(&stripewebhook.UnsignedPayload{
		Payload:   []byte(payload),
		Secret:    webhookSecret,
		Timestamp: time.Now(),
		Scheme:    "v1",
	})
	return s.Payload, s.Header
}

func checkoutEvent(id, metadata string) string {
	return fmt.Sprintf(`{"id":%q,"object":"event","type":"checkout.session.completed","data":{"object":{"id":"cs_1","customer":"cus_1","subscription":"sub_1","metadata":%s}}}`, id, metadata)
}

func invoiceEvent(id, billingReason string) string {
	return fmt.Sprintf(`{"id":%q,"object":"event","type":"invoice.payment_succeeded","data":{"object":{"id":"in_1","billing_reason":%q,"customer":"cus_1","subscription":"sub_1","metadata":{},"lines":{"data":[{"metadata":{"telegram_user_id":"42","plan_id":"p30"}}]}}}}`, id, billingReason)
}

func (f *fixture) deliver(payload string) Outcome {
	body, header := signed(payload)
	out := f.reconciler.Handle(context.Background(), body, header)
	f.reconciler.Wait()
	return out
}

func (f *fixture) subs(t *testing.T) []*subscription.Subscription {
	t.Helper()
	subs, err := f.store.ListAll(context.Background())
	require.NoError(t, err)
	return subs
}

func TestHandle_NotConfigured(t *testing.T) {
	f := newFixture(settings.PaymentSettings{StripeSecretKey: "sk_test_123"})

	out := f.deliver(checkoutEvent("evt_1", `{"telegram_user_id":"42","plan_id":"p30"}`))

	assert.Equal(t, Outcome{Status: http.StatusInternalServerError, Result: ResultNotConfigured}, out)
	assert.Empty(t, f.subs(t))
}

func TestHandle_InvalidSignatureLeavesStoreUntouched(t *testing.T) {
	f := newFixture(configured())
	body, _ := signed(checkoutEvent("evt_1", `{"telegram_user_id":"42","plan_id":"p30"}`))

	out := f.reconciler.Handle(context.Background(), body, "t=123,v1=deadbeef")

	assert.Equal(t, Outcome{Status: http.StatusBadRequest, Result: ResultInvalidSignature}, out)
	assert.Empty(t, f.subs(t))
	assert.Empty(t, f.access.grants)
}

func TestHandle_CheckoutCreatesSubscription(t *testing.T) {
	f := newFixture(configured())

	out := f.deliver(checkoutEvent("evt_1", `{"telegram_user_id":"42","plan_id":"p30","channel_id":"null"}`))
	require.Equal(t, Outcome{Status: http.StatusOK, Result: ResultProcessed}, out)

	subs := f.subs(t)
	require.Len(t, subs, 1)
	sub := subs[0]
	assert.Equal(t, "42", sub.UserID)
	assert.Equal(t, "-1001", sub.Channel())
	assert.True(t, sub.Active)
	assert.Equal(t, t0, sub.StartAt)
	assert.Equal(t, t0.Add(30*24*time.Hour), sub.EndAt)
	assert.Equal(t, "sub_1", *sub.StripeSubscriptionID)
	assert.Equal(t, subscription.OriginStripe, sub.Origin())

	assert.Equal(t, []string{"42@-1001"}, f.access.grants)
	assert.Equal(t, []string{"purchase:42"}, f.notifier.events)
}

func TestHandle_SlowAccessDoesNotDelayAck(t *testing.T) {
	f := newFixture(configured())
	f.access.release = make(chan struct{})
	body, header := signed(checkoutEvent("evt_1", `{"telegram_user_id":"42","plan_id":"p30"}`))

	done := make(chan Outcome, 1)
	go func() {
		done <- f.reconciler.Handle(context.Background(), body, header)
	}()

	select {
	case out := <-done:
		assert.Equal(t, Outcome{Status: http.StatusOK, Result: ResultProcessed}, out)
	case <-time.After(2 * time.Second):
		close(f.access.release)
		t.Fatal("Handle waited for the access grant")
	}
	assert.Len(t, f.subs(t), 1)

	close(f.access.release)
	f.reconciler.Wait()
	assert.Equal(t, []string{"42@-1001"}, f.access.grants)
	assert.Equal(t, []string{"purchase:42"}, f.notifier.events)
}

func TestHandle_CheckoutMetadataChannelWins(t *testing.T) {
	f := newFixture(configured())

	out := f.deliver(checkoutEvent("evt_1", `{"telegram_user_id":"42","plan_id":"p30","channel_id":"-2002"}`))
	require.Equal(t, ResultProcessed, out.Result)

	assert.Equal(t, "-2002", f.subs(t)[0].Channel())
}

func TestHandle_CheckoutBenignNoOps(t *testing.T) {
	tests := []struct {
		name     string
		metadata string
	}{
		{"missing user", `{"plan_id":"p30"}`},
		{"missing plan", `{"telegram_user_id":"42"}`},
		{"non numeric user", `{"telegram_user_id":"abc","plan_id":"p30"}`},
		{"unknown plan", `{"telegram_user_id":"42","plan_id":"gone"}`},
		{"no metadata", `null`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(configured())

			out := f.deliver(checkoutEvent("evt_1", tt.metadata))

			assert.Equal(t, Outcome{Status: http.StatusOK, Result: ResultIgnored}, out)
			assert.Empty(t, f.subs(t))
			assert.Empty(t, f.notifier.events)
		})
	}
}

func TestHandle_DuplicateInvoiceExtendsOnce(t *testing.T) {
	f := newFixture(configured())
	require.Equal(t, ResultProcessed, f.deliver(checkoutEvent("evt_checkout", `{"telegram_user_id":"42","plan_id":"p30"}`)).Result)

	f.now = t0.Add(29 * 24 * time.Hour)
	event := invoiceEvent("evt_invoice", "subscription_cycle")

	first := f.deliver(event)
	second := f.deliver(event)

	assert.Equal(t, Outcome{Status: http.StatusOK, Result: ResultProcessed}, first)
	assert.Equal(t, Outcome{Status: http.StatusOK, Result: ResultDuplicate}, second)

	subs := f.subs(t)
	require.Len(t, subs, 1)
	assert.Equal(t, t0.Add(60*24*time.Hour), subs[0].EndAt)
	assert.Equal(t, []string{"purchase:42", "renewal:42"}, f.notifier.events)
}

func TestHandle_FirstInvoiceIgnored(t *testing.T) {
	f := newFixture(configured())
	require.Equal(t, ResultProcessed, f.deliver(checkoutEvent("evt_checkout", `{"telegram_user_id":"42","plan_id":"p30"}`)).Result)

	out := f.deliver(invoiceEvent("evt_invoice", "subscription_create"))

	assert.Equal(t, ResultIgnored, out.Result)
	assert.Equal(t, t0.Add(30*24*time.Hour), f.subs(t)[0].EndAt)
}

func TestHandle_InvoiceWithoutRecordCreatesAndGrants(t *testing.T) {
	f := newFixture(configured())

	out := f.deliver(invoiceEvent("evt_invoice", "subscription_cycle"))
	require.Equal(t, ResultProcessed, out.Result)

	subs := f.subs(t)
	require.Len(t, subs, 1)
	assert.Equal(t, t0.Add(30*24*time.Hour), subs[0].EndAt)
	assert.Equal(t, []string{"42@-1001"}, f.access.grants)
}

func TestHandle_InvoiceSubscriptionDetailsMetadata(t *testing.T) {
	f := newFixture(configured())
	payload := `{"id":"evt_invoice","object":"event","type":"invoice.payment_succeeded","data":{"object":{"id":"in_1","billing_reason":"subscription_cycle","lines":{"data":[{"metadata":{}}]},"subscription_details":{"metadata":{"telegram_user_id":"7","plan_id":"p30"}}}}}`

	out := f.deliver(payload)
	require.Equal(t, ResultProcessed, out.Result)

	subs := f.subs(t)
	require.Len(t, subs, 1)
	assert.Equal(t, "7", subs[0].UserID)
}

func TestHandle_InvoiceParentSubscriptionDetails(t *testing.T) {
	f := newFixture(configured())
	payload := `{"id":"evt_invoice","object":"event","type":"invoice.payment_succeeded","data":{"object":{"id":"in_1","billing_reason":"subscription_cycle","customer":"cus_9","lines":{"data":[{"metadata":{}}]},"parent":{"type":"subscription_details","subscription_details":{"subscription":"sub_9","metadata":{"telegram_user_id":"9","plan_id":"p30"}}}}}}`

	out := f.deliver(payload)
	require.Equal(t, ResultProcessed, out.Result)

	subs := f.subs(t)
	require.Len(t, subs, 1)
	assert.Equal(t, "9", subs[0].UserID)
	require.NotNil(t, subs[0].StripeSubscriptionID)
	assert.Equal(t, "sub_9", *subs[0].StripeSubscriptionID)
}

func TestHandle_InvoiceUnknownPlanIgnored(t *testing.T) {
	f := newFixture(configured())
	payload := `{"id":"evt_invoice","object":"event","type":"invoice.payment_succeeded","data":{"object":{"id":"in_1","metadata":{"telegram_user_id":"42","plan_id":"gone"}}}}`

	out := f.deliver(payload)

	assert.Equal(t, Outcome{Status: http.StatusOK, Result: ResultIgnored}, out)
	assert.Empty(t, f.subs(t))
}

func TestHandle_UnhandledTypeIgnored(t *testing.T) {
	f := newFixture(configured())

	out := f.deliver(`{"id":"evt_x","object":"event","type":"customer.created","data":{"object":{"id":"cus_1"}}}`)

	assert.Equal(t, Outcome{Status: http.StatusOK, Result: ResultIgnored}, out)
}

func TestHandle_PersistenceFailureAllowsRetry(t *testing.T) {
	f := newFixture(configured())
	f.store.failWrites = true
	event := checkoutEvent("evt_1", `{"telegram_user_id":"42","plan_id":"p30"}`)

	out := f.deliver(event)
	assert.Equal(t, Outcome{Status: http.StatusInternalServerError, Result: ResultProcessingFailed}, out)
	assert.Empty(t, f.subs(t))

	// повторная доставка Stripe после восстановления базы
	f.store.failWrites = false
	out = f.deliver(event)
	assert.Equal(t, Outcome{Status: http.StatusOK, Result: ResultProcessed}, out)
	assert.Len(t, f.subs(t), 1)
}

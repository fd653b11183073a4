package services

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	domain "github.com/tanmay-mevada/Print-Stack-sub000/internal/domain"
	"github.com/tanmay-mevada/Print-Stack-sub000/internal/payments"
	"github.com/tanmay-mevada/Print-Stack-sub000/internal/repositories/memory"
)

var (
	requester = Actor{ID: "user_1", Role: ActorRequester}
	operator  = Actor{ID: "op_1", Role: ActorShop}
	stranger  = Actor{ID: "user_2", Role: ActorRequester}

	pickupCodePattern = regexp.MustCompile(`\b\d{6}\b`)
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type stubGateway struct {
	mu          sync.Mutex
	initiateFn  func(ctx context.Context, provider string, req payments.PaymentRequest) (payments.Initiation, error)
	statusFn    func(ctx context.Context, provider string, txnID string) (payments.PaymentOutcome, error)
	statusCalls int
	lastRequest payments.PaymentRequest
}

func (g *stubGateway) Resolve(name string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", payments.ProviderPhonePe:
		return payments.ProviderPhonePe, nil
	default:
		return "", payments.ErrUnknownProvider
	}
}

func (g *stubGateway) Initiate(ctx context.Context, provider string, req payments.PaymentRequest) (payments.Initiation, error) {
	g.mu.Lock()
	g.lastRequest = req
	g.mu.Unlock()
	if g.initiateFn != nil {
		return g.initiateFn(ctx, provider, req)
	}
	return payments.Initiation{Provider: provider, TransactionID: req.TransactionID, RedirectURL: "https://pay.example/" + req.TransactionID}, nil
}

func (g *stubGateway) CheckStatus(ctx context.Context, provider string, txnID string) (payments.PaymentOutcome, error) {
	g.mu.Lock()
	g.statusCalls++
	g.mu.Unlock()
	if g.statusFn != nil {
		return g.statusFn(ctx, provider, txnID)
	}
	return payments.PaymentOutcome{Kind: payments.OutcomePending, Code: payments.CodePaymentPending}, nil
}

func paidOutcome(amount int64) func(context.Context, string, string) (payments.PaymentOutcome, error) {
	return func(context.Context, string, string) (payments.PaymentOutcome, error) {
		return payments.PaymentOutcome{Kind: payments.OutcomePaid, Code: payments.CodePaymentSuccess, Amount: amount, AmountKnown: true}, nil
	}
}

type recordingDispatcher struct {
	mu     sync.Mutex
	sent   []Notification
	sendFn func(Notification) error
}

func (d *recordingDispatcher) Send(_ context.Context, n Notification) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.sendFn != nil {
		if err := d.sendFn(n); err != nil {
			return err
		}
	}
	d.sent = append(d.sent, n)
	return nil
}

func (d *recordingDispatcher) last(t *testing.T) Notification {
	t.Helper()
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.sent) == 0 {
		t.Fatalf("expected a notification to be sent")
	}
	return d.sent[len(d.sent)-1]
}

type recordingEvents struct {
	mu     sync.Mutex
	events []OrderEvent
}

func (r *recordingEvents) PublishOrderEvent(_ context.Context, event OrderEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *recordingEvents) count(eventType, status string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Type == eventType && e.CurrentStatus == status {
			n++
		}
	}
	return n
}

type recordingLogger struct {
	mu     sync.Mutex
	events []string
	fields []map[string]any
}

func (l *recordingLogger) log(_ context.Context, event string, fields map[string]any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, event)
	l.fields = append(l.fields, fields)
}

func (l *recordingLogger) has(event string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, e := range l.events {
		if e == event {
			return true
		}
	}
	return false
}

type stubLimiter struct {
	allowFn func(key string) (bool, error)
}

func (s stubLimiter) Allow(_ context.Context, key string) (bool, error) { return s.allowFn(key) }

type stubSigner struct {
	signFn func(path string, ttl time.Duration) (string, error)
}

func (s stubSigner) SignedDownloadURL(_ context.Context, path string, ttl time.Duration) (string, error) {
	return s.signFn(path, ttl)
}

type testHarness struct {
	svc        OrderService
	store      *memory.Store
	gateway    *stubGateway
	dispatcher *recordingDispatcher
	events     *recordingEvents
	logger     *recordingLogger
	clock      *testClock
	otp        *OTPHandoverManager
}

type harnessOption func(*OrderServiceDeps, *OTPHandoverManagerDeps)

func newHarness(t *testing.T, opts ...harnessOption) *testHarness {
	t.Helper()
	store := memory.NewStore()
	store.PutShop(domain.Shop{
		ID:          "shop_1",
		Name:        "Campus Prints",
		Pricing:     &PricingConfig{BWPricePerPage: 200, ColorPricePerPage: 1000, DuplexModifierBps: 8000},
		OperatorIDs: []string{"op_1"},
	})
	store.PutShop(domain.Shop{ID: "shop_unpriced", Name: "New Shop", OperatorIDs: []string{"op_2"}})

	h := &testHarness{
		store:      store,
		gateway:    &stubGateway{},
		dispatcher: &recordingDispatcher{},
		events:     &recordingEvents{},
		logger:     &recordingLogger{},
		clock:      &testClock{now: time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)},
	}

	otpDeps := OTPHandoverManagerDeps{
		Orders: store,
		Config: OTPConfig{HashKey: []byte("otp-test-key"), TTL: 24 * time.Hour},
		Clock:  h.clock.Now,
		Logger: h.logger.log,
	}
	var seq atomic.Int64
	deps := OrderServiceDeps{
		Orders:          store,
		Shops:           store,
		Payments:        h.gateway,
		Notifications:   h.dispatcher,
		Events:          h.events,
		CallbackBaseURL: "https://api.example/api/v1",
		Clock:           h.clock.Now,
		IDGenerator: func() string {
			return "01TEST" + string(rune('A'+seq.Add(1)))
		},
		Logger: h.logger.log,
	}
	for _, opt := range opts {
		opt(&deps, &otpDeps)
	}

	otp, err := NewOTPHandoverManager(otpDeps)
	if err != nil {
		t.Fatalf("new otp manager: %v", err)
	}
	deps.OTP = otp
	svc, err := NewOrderService(deps)
	if err != nil {
		t.Fatalf("new order service: %v", err)
	}
	h.svc = svc
	h.otp = otp
	return h
}

func (h *testHarness) submit(t *testing.T, job JobSpec) Order {
	t.Helper()
	order, err := h.svc.SubmitOrder(context.Background(), SubmitOrderCommand{
		Actor:        requester,
		ShopID:       "shop_1",
		FileRef:      "uploads/user_1/thesis.pdf",
		Instructions: "<b>Staple</b> top left",
		Job:          job,
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	return order
}

func (h *testHarness) submitPaid(t *testing.T) Order {
	t.Helper()
	order := h.submit(t, JobSpec{PageCount: 2, CopyCount: 1, ColorMode: domain.ColorModeMono, DuplexMode: domain.DuplexModeSingle})
	h.gateway.statusFn = paidOutcome(order.Total.Paise())
	if _, err := h.svc.ReconcilePayment(context.Background(), ReconcilePaymentCommand{OrderID: order.ID, TransactionID: order.PaymentTransactionID}); err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	return order
}

func (h *testHarness) advance(t *testing.T, orderID string, target OrderStatus) TransitionResult {
	t.Helper()
	result, err := h.svc.AdvanceOrder(context.Background(), AdvanceOrderCommand{OrderID: orderID, Target: target, Actor: operator})
	if err != nil {
		t.Fatalf("advance to %s: %v", target, err)
	}
	return result
}

func (h *testHarness) readyOrder(t *testing.T) (Order, string) {
	t.Helper()
	order := h.submitPaid(t)
	h.advance(t, order.ID, domain.OrderStatusPrinting)
	h.advance(t, order.ID, domain.OrderStatusReady)
	code := pickupCodePattern.FindString(h.dispatcher.last(t).Body)
	if code == "" {
		t.Fatalf("expected pickup code in notification body")
	}
	return order, code
}

func TestOrderServiceEndToEnd(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	order := h.submit(t, JobSpec{PageCount: 2, CopyCount: 1, ColorMode: domain.ColorModeMono, DuplexMode: domain.DuplexModeSingle})
	if order.Total.String() != "4.00" || order.Status != domain.OrderStatusCreated {
		t.Fatalf("expected 4.00 CREATED order, got %s %s", order.Total, order.Status)
	}
	if order.Instructions != "Staple top left" {
		t.Fatalf("expected sanitized instructions, got %q", order.Instructions)
	}
	if !strings.HasPrefix(order.ID, "ord_") || order.PaymentTransactionID != payments.TransactionID(order.ID) {
		t.Fatalf("unexpected ids %q %q", order.ID, order.PaymentTransactionID)
	}

	initiation, err := h.svc.InitiatePayment(ctx, InitiatePaymentCommand{OrderID: order.ID, Actor: requester})
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}
	if initiation.RedirectURL == "" || h.gateway.lastRequest.Amount != 400 {
		t.Fatalf("unexpected initiation %#v request %#v", initiation, h.gateway.lastRequest)
	}
	if !strings.Contains(h.gateway.lastRequest.RedirectURL, "orderId="+order.ID) ||
		!strings.Contains(h.gateway.lastRequest.CallbackURL, "txnId="+order.PaymentTransactionID) {
		t.Fatalf("expected callback urls to embed ids, got %#v", h.gateway.lastRequest)
	}

	h.gateway.statusFn = paidOutcome(400)
	paid, err := h.svc.ReconcilePayment(ctx, ReconcilePaymentCommand{OrderID: order.ID, TransactionID: order.PaymentTransactionID})
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if !paid.Paid || paid.AlreadyApplied || paid.Order.Status != domain.OrderStatusPaid {
		t.Fatalf("expected freshly paid order, got %#v", paid)
	}

	h.advance(t, order.ID, domain.OrderStatusPrinting)
	ready := h.advance(t, order.ID, domain.OrderStatusReady)
	if !ready.PickupCodeIssued || !ready.NotificationDelivered {
		t.Fatalf("expected issued and delivered code, got %#v", ready)
	}
	note := h.dispatcher.last(t)
	code := pickupCodePattern.FindString(note.Body)
	if note.Kind != NotificationPickupReady || note.RecipientID != requester.ID || code == "" {
		t.Fatalf("unexpected notification %#v", note)
	}

	stored, err := h.store.GetByID(ctx, order.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !stored.HasPickupCode() || stored.PickupCodeHash == code {
		t.Fatalf("expected hashed pickup code to be stored")
	}
	if !stored.PickupCodeExpiry.Equal(h.clock.Now().Add(24 * time.Hour)) {
		t.Fatalf("expected 24h expiry, got %v", stored.PickupCodeExpiry)
	}

	completed, err := h.svc.VerifyPickup(ctx, VerifyPickupCommand{OrderID: order.ID, Code: code, Actor: operator})
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if completed.Status != domain.OrderStatusCompleted || completed.HasPickupCode() {
		t.Fatalf("expected completed order without code, got %#v", completed)
	}
	stored, _ = h.store.GetByID(ctx, order.ID)
	if stored.Status != domain.OrderStatusCompleted || stored.PickupCodeHash != "" || stored.PickupCodeExpiry != nil {
		t.Fatalf("expected cleared code in store, got %#v", stored)
	}

	if _, err := h.svc.VerifyPickup(ctx, VerifyPickupCommand{OrderID: order.ID, Code: code, Actor: operator}); !errors.Is(err, ErrOTPNotIssued) {
		t.Fatalf("expected ErrOTPNotIssued on reuse, got %v", err)
	}
	if got := h.events.count(orderEventStatusChanged, string(domain.OrderStatusCompleted)); got != 1 {
		t.Fatalf("expected one completion event, got %d", got)
	}
}

func TestSubmitOrderValidation(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	job := JobSpec{PageCount: 1, CopyCount: 1, ColorMode: domain.ColorModeMono, DuplexMode: domain.DuplexModeSingle}

	_, err := h.svc.SubmitOrder(ctx, SubmitOrderCommand{Actor: requester, ShopID: "shop_unpriced", FileRef: "f.pdf", Job: job})
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for missing pricing, got %v", err)
	}
	_, err = h.svc.SubmitOrder(ctx, SubmitOrderCommand{Actor: requester, ShopID: "shop_missing", FileRef: "f.pdf", Job: job})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown shop, got %v", err)
	}
	_, err = h.svc.SubmitOrder(ctx, SubmitOrderCommand{Actor: requester, ShopID: "shop_1", FileRef: "f.pdf", Job: JobSpec{PageCount: 0, CopyCount: 1, ColorMode: "MONO", DuplexMode: "SINGLE"}})
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for zero pages, got %v", err)
	}
	_, err = h.svc.SubmitOrder(ctx, SubmitOrderCommand{Actor: requester, ShopID: "shop_1", FileRef: "f.pdf", Job: job, PaymentProvider: "cash"})
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for unknown provider, got %v", err)
	}
}

func TestSubmitOrderNormalisesModes(t *testing.T) {
	h := newHarness(t)
	order := h.submit(t, JobSpec{PageCount: 10, CopyCount: 2, ColorMode: "color", DuplexMode: " double "})
	if order.Total.String() != "160.00" {
		t.Fatalf("expected 160.00 got %s", order.Total)
	}
}

func TestInitiatePaymentAuthorization(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	order := h.submit(t, JobSpec{PageCount: 1, CopyCount: 1, ColorMode: domain.ColorModeMono, DuplexMode: domain.DuplexModeSingle})

	if _, err := h.svc.InitiatePayment(ctx, InitiatePaymentCommand{OrderID: order.ID, Actor: stranger}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for stranger, got %v", err)
	}
	if _, err := h.svc.InitiatePayment(ctx, InitiatePaymentCommand{OrderID: order.ID, Actor: operator}); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden for operator, got %v", err)
	}
}

func TestInitiatePaymentMapsGatewayErrors(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	order := h.submit(t, JobSpec{PageCount: 1, CopyCount: 1, ColorMode: domain.ColorModeMono, DuplexMode: domain.DuplexModeSingle})

	h.gateway.initiateFn = func(context.Context, string, payments.PaymentRequest) (payments.Initiation, error) {
		return payments.Initiation{}, &payments.GatewayError{Provider: "phonepe", Op: "initiate", StatusCode: 503, Temporary: true}
	}
	if _, err := h.svc.InitiatePayment(ctx, InitiatePaymentCommand{OrderID: order.ID, Actor: requester}); !errors.Is(err, ErrGateway) {
		t.Fatalf("expected ErrGateway, got %v", err)
	}
	h.gateway.initiateFn = func(context.Context, string, payments.PaymentRequest) (payments.Initiation, error) {
		return payments.Initiation{}, &payments.GatewayError{Provider: "phonepe", Op: "initiate", StatusCode: 400, Code: "BAD_REQUEST"}
	}
	if _, err := h.svc.InitiatePayment(ctx, InitiatePaymentCommand{OrderID: order.ID, Actor: requester}); !errors.Is(err, ErrGatewayRejected) {
		t.Fatalf("expected ErrGatewayRejected, got %v", err)
	}
	stored, _ := h.store.GetByID(ctx, order.ID)
	if stored.Status != domain.OrderStatusCreated {
		t.Fatalf("expected order to stay CREATED, got %s", stored.Status)
	}
}

func TestReconcileConcurrentCallsApplyOnce(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	order := h.submit(t, JobSpec{PageCount: 2, CopyCount: 1, ColorMode: domain.ColorModeMono, DuplexMode: domain.DuplexModeSingle})
	h.gateway.statusFn = paidOutcome(400)

	const callers = 12
	var wg sync.WaitGroup
	var fresh atomic.Int32
	errs := make(chan error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := h.svc.ReconcilePayment(ctx, ReconcilePaymentCommand{OrderID: order.ID, TransactionID: order.PaymentTransactionID})
			if err != nil {
				errs <- err
				return
			}
			if !result.Paid {
				errs <- errors.New("expected paid result")
				return
			}
			if !result.AlreadyApplied {
				fresh.Add(1)
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("reconcile: %v", err)
	}
	if fresh.Load() != 1 {
		t.Fatalf("expected exactly one applied reconcile, got %d", fresh.Load())
	}
	if got := h.events.count(orderEventStatusChanged, string(domain.OrderStatusPaid)); got != 1 {
		t.Fatalf("expected one PAID event, got %d", got)
	}
	stored, _ := h.store.GetByID(ctx, order.ID)
	if stored.Status != domain.OrderStatusPaid {
		t.Fatalf("expected PAID, got %s", stored.Status)
	}
}

func TestReconcileNotPaidLeavesOrder(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	order := h.submit(t, JobSpec{PageCount: 2, CopyCount: 1, ColorMode: domain.ColorModeMono, DuplexMode: domain.DuplexModeSingle})

	for _, kind := range []payments.OutcomeKind{payments.OutcomePending, payments.OutcomeFailed, payments.OutcomeUnknown} {
		h.gateway.statusFn = func(context.Context, string, string) (payments.PaymentOutcome, error) {
			return payments.PaymentOutcome{Kind: kind}, nil
		}
		result, err := h.svc.ReconcilePayment(ctx, ReconcilePaymentCommand{OrderID: order.ID, TransactionID: order.PaymentTransactionID})
		if err != nil {
			t.Fatalf("reconcile %s: %v", kind, err)
		}
		if result.Paid || result.Order.Status != domain.OrderStatusCreated {
			t.Fatalf("expected NotPaid for %s, got %#v", kind, result)
		}
	}
	stored, _ := h.store.GetByID(ctx, order.ID)
	if stored.Status != domain.OrderStatusCreated {
		t.Fatalf("expected CREATED, got %s", stored.Status)
	}
}

func TestReconcileAmountMismatchIsNotPaid(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	order := h.submit(t, JobSpec{PageCount: 2, CopyCount: 1, ColorMode: domain.ColorModeMono, DuplexMode: domain.DuplexModeSingle})
	h.gateway.statusFn = paidOutcome(1)

	result, err := h.svc.ReconcilePayment(ctx, ReconcilePaymentCommand{OrderID: order.ID, TransactionID: order.PaymentTransactionID})
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if result.Paid {
		t.Fatalf("expected NotPaid on amount mismatch")
	}
	if !h.logger.has("payment.amount_mismatch") {
		t.Fatalf("expected amount mismatch to be logged")
	}
}

func TestReconcileRejectsForeignTransaction(t *testing.T) {
	h := newHarness(t)
	order := h.submit(t, JobSpec{PageCount: 2, CopyCount: 1, ColorMode: domain.ColorModeMono, DuplexMode: domain.DuplexModeSingle})
	_, err := h.svc.ReconcilePayment(context.Background(), ReconcilePaymentCommand{OrderID: order.ID, TransactionID: "ordOTHER"})
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
	if h.gateway.statusCalls != 0 {
		t.Fatalf("expected no gateway call for mismatched transaction")
	}
}

func TestReconcileAfterCancelConflicts(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	order := h.submit(t, JobSpec{PageCount: 2, CopyCount: 1, ColorMode: domain.ColorModeMono, DuplexMode: domain.DuplexModeSingle})
	if _, err := h.svc.CancelOrder(ctx, CancelOrderCommand{OrderID: order.ID, Reason: "changed my mind", Actor: requester}); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	h.gateway.statusFn = paidOutcome(400)

	_, err := h.svc.ReconcilePayment(ctx, ReconcilePaymentCommand{OrderID: order.ID, TransactionID: order.PaymentTransactionID})
	if !errors.Is(err, ErrStateConflict) {
		t.Fatalf("expected ErrStateConflict, got %v", err)
	}
	if !h.logger.has("order.payment.after_cancel") {
		t.Fatalf("expected after_cancel log event")
	}
}

func TestReconcileGatewayErrors(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	order := h.submit(t, JobSpec{PageCount: 2, CopyCount: 1, ColorMode: domain.ColorModeMono, DuplexMode: domain.DuplexModeSingle})

	h.gateway.statusFn = func(context.Context, string, string) (payments.PaymentOutcome, error) {
		return payments.PaymentOutcome{}, &payments.GatewayError{Provider: "phonepe", Op: "status", Temporary: true}
	}
	if _, err := h.svc.ReconcilePayment(ctx, ReconcilePaymentCommand{OrderID: order.ID, TransactionID: order.PaymentTransactionID}); !errors.Is(err, ErrGateway) {
		t.Fatalf("expected ErrGateway, got %v", err)
	}
	stored, _ := h.store.GetByID(ctx, order.ID)
	if stored.Status != domain.OrderStatusCreated {
		t.Fatalf("gateway failure must not change the order, got %s", stored.Status)
	}
}

type stubVerifier struct {
	verifyFn func(body []byte, signature string) (string, error)
}

func (s stubVerifier) VerifyWebhook(body []byte, signature string) (string, error) {
	return s.verifyFn(body, signature)
}

func TestHandleGatewayCallback(t *testing.T) {
	ctx := context.Background()
	var txn string
	h := newHarness(t, func(deps *OrderServiceDeps, _ *OTPHandoverManagerDeps) {
		deps.Webhooks = map[string]payments.WebhookVerifier{
			payments.ProviderPhonePe: stubVerifier{verifyFn: func(body []byte, signature string) (string, error) {
				if signature != "good" {
					return "", payments.ErrInvalidCallback
				}
				return txn, nil
			}},
		}
	})
	order := h.submit(t, JobSpec{PageCount: 2, CopyCount: 1, ColorMode: domain.ColorModeMono, DuplexMode: domain.DuplexModeSingle})
	txn = order.PaymentTransactionID
	h.gateway.statusFn = paidOutcome(400)

	if _, err := h.svc.HandleGatewayCallback(ctx, GatewayCallbackCommand{Provider: "phonepe", Body: []byte(`{}`), Signature: "bad"}); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for bad signature, got %v", err)
	}
	result, err := h.svc.HandleGatewayCallback(ctx, GatewayCallbackCommand{Provider: "PhonePe", Body: []byte(`{}`), Signature: "good"})
	if err != nil {
		t.Fatalf("callback: %v", err)
	}
	if !result.Paid || result.Order.ID != order.ID {
		t.Fatalf("expected paid order, got %#v", result)
	}
	replay, err := h.svc.HandleGatewayCallback(ctx, GatewayCallbackCommand{Provider: "phonepe", Body: []byte(`{}`), Signature: "good"})
	if err != nil || !replay.AlreadyApplied {
		t.Fatalf("expected replay to be a no-op, got %#v err %v", replay, err)
	}
	if _, err := h.svc.HandleGatewayCallback(ctx, GatewayCallbackCommand{Provider: "other", Signature: "good"}); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for unknown provider, got %v", err)
	}
}

func TestAdvanceRejectsSkipAheadByDefault(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	order := h.submitPaid(t)

	_, err := h.svc.AdvanceOrder(ctx, AdvanceOrderCommand{OrderID: order.ID, Target: domain.OrderStatusReady, Actor: operator})
	if !errors.Is(err, ErrStateConflict) {
		t.Fatalf("expected ErrStateConflict, got %v", err)
	}
	if !h.logger.has("order.transition.skip_ahead") {
		t.Fatalf("expected skip-ahead warning to be logged")
	}
	stored, _ := h.store.GetByID(ctx, order.ID)
	if stored.Status != domain.OrderStatusPaid {
		t.Fatalf("expected PAID, got %s", stored.Status)
	}
}

func TestAdvanceAllowsSkipAheadWithWarnPolicy(t *testing.T) {
	h := newHarness(t, func(deps *OrderServiceDeps, _ *OTPHandoverManagerDeps) {
		deps.StateMachine = NewOrderStateMachine(nil, SkipAheadWarn)
	})
	order := h.submitPaid(t)
	result := h.advance(t, order.ID, domain.OrderStatusReady)
	if !result.SkippedAhead || !result.PickupCodeIssued || result.Order.Status != domain.OrderStatusReady {
		t.Fatalf("expected skipped READY with code, got %#v", result)
	}
	if !h.logger.has("order.transition.skip_ahead") {
		t.Fatalf("expected skip-ahead warning to be logged")
	}
}

func TestAdvanceRejectsPaidAndUnknownTargets(t *testing.T) {
	h := newHarness(t)
	order := h.submit(t, JobSpec{PageCount: 2, CopyCount: 1, ColorMode: domain.ColorModeMono, DuplexMode: domain.DuplexModeSingle})
	for _, target := range []OrderStatus{domain.OrderStatusPaid, domain.OrderStatusCancelled, "SHIPPED"} {
		_, err := h.svc.AdvanceOrder(context.Background(), AdvanceOrderCommand{OrderID: order.ID, Target: target, Actor: operator})
		if !errors.Is(err, ErrValidation) {
			t.Fatalf("expected ErrValidation for %s, got %v", target, err)
		}
	}
}

func TestAdvanceRequiresShopOperator(t *testing.T) {
	h := newHarness(t)
	order := h.submitPaid(t)
	other := Actor{ID: "op_2", Role: ActorShop}
	if _, err := h.svc.AdvanceOrder(context.Background(), AdvanceOrderCommand{OrderID: order.ID, Target: domain.OrderStatusPrinting, Actor: other}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for another shop's operator, got %v", err)
	}
	if _, err := h.svc.AdvanceOrder(context.Background(), AdvanceOrderCommand{OrderID: order.ID, Target: domain.OrderStatusPrinting, Actor: requester}); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden for requester, got %v", err)
	}
	admin := Actor{ID: "admin_1", Role: ActorAdmin}
	if _, err := h.svc.AdvanceOrder(context.Background(), AdvanceOrderCommand{OrderID: order.ID, Target: domain.OrderStatusPrinting, Actor: admin}); err != nil {
		t.Fatalf("expected admin to advance, got %v", err)
	}
}

func TestCompletedOrderIsTerminal(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	order, code := h.readyOrder(t)
	if _, err := h.svc.VerifyPickup(ctx, VerifyPickupCommand{OrderID: order.ID, Code: code, Actor: operator}); err != nil {
		t.Fatalf("verify: %v", err)
	}

	for _, target := range []OrderStatus{domain.OrderStatusPrinting, domain.OrderStatusReady, domain.OrderStatusCompleted} {
		if _, err := h.svc.AdvanceOrder(ctx, AdvanceOrderCommand{OrderID: order.ID, Target: target, Actor: operator}); !errors.Is(err, ErrStateConflict) {
			t.Fatalf("expected ErrStateConflict for %s, got %v", target, err)
		}
	}
	if _, err := h.svc.CancelOrder(ctx, CancelOrderCommand{OrderID: order.ID, Actor: operator}); !errors.Is(err, ErrStateConflict) {
		t.Fatalf("expected ErrStateConflict for cancel, got %v", err)
	}
}

func TestShopOverrideCompletionClearsCode(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	order, _ := h.readyOrder(t)
	result := h.advance(t, order.ID, domain.OrderStatusCompleted)
	if result.Order.Status != domain.OrderStatusCompleted {
		t.Fatalf("expected COMPLETED, got %s", result.Order.Status)
	}
	stored, _ := h.store.GetByID(ctx, order.ID)
	if stored.HasPickupCode() || stored.CompletedAt == nil {
		t.Fatalf("expected cleared code and completion time, got %#v", stored)
	}
}

func TestReadyDispatchFailureKeepsTransition(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.dispatcher.sendFn = func(Notification) error { return errors.New("pubsub down") }
	order := h.submitPaid(t)
	h.advance(t, order.ID, domain.OrderStatusPrinting)

	result := h.advance(t, order.ID, domain.OrderStatusReady)
	if !result.PickupCodeIssued || result.NotificationDelivered {
		t.Fatalf("expected issued but undelivered code, got %#v", result)
	}
	stored, _ := h.store.GetByID(ctx, order.ID)
	if stored.Status != domain.OrderStatusReady || !stored.HasPickupCode() {
		t.Fatalf("expected READY with code despite dispatch failure, got %#v", stored)
	}
	if !h.logger.has("order.notification.delivery_gap") {
		t.Fatalf("expected delivery gap log event")
	}

	h.dispatcher.sendFn = nil
	resent, err := h.svc.ResendPickupCode(ctx, order.ID, operator)
	if err != nil {
		t.Fatalf("resend: %v", err)
	}
	if !resent.NotificationDelivered {
		t.Fatalf("expected resend to deliver")
	}
	after, _ := h.store.GetByID(ctx, order.ID)
	if after.PickupCodeHash == stored.PickupCodeHash {
		t.Fatalf("expected resend to replace the stored hash")
	}
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("entropy unavailable") }

func TestReadyIssueFailureIsDeliveryGap(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, func(_ *OrderServiceDeps, otp *OTPHandoverManagerDeps) {
		otp.Random = failingReader{}
	})
	order := h.submitPaid(t)
	h.advance(t, order.ID, domain.OrderStatusPrinting)

	result := h.advance(t, order.ID, domain.OrderStatusReady)
	if result.PickupCodeIssued || result.NotificationDelivered {
		t.Fatalf("expected no code and no delivery, got %#v", result)
	}
	stored, _ := h.store.GetByID(ctx, order.ID)
	if stored.Status != domain.OrderStatusReady || stored.HasPickupCode() {
		t.Fatalf("expected READY without code, got %#v", stored)
	}
	if !h.logger.has("order.pickup_code.issue_failed") || !h.logger.has("order.notification.delivery_gap") {
		t.Fatalf("expected issue failure to be logged as a delivery gap")
	}
}

func TestVerifyPickupExpired(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	order, code := h.readyOrder(t)
	h.clock.Advance(24*time.Hour + time.Second)

	if _, err := h.svc.VerifyPickup(ctx, VerifyPickupCommand{OrderID: order.ID, Code: code, Actor: operator}); !errors.Is(err, ErrOTPExpired) {
		t.Fatalf("expected ErrOTPExpired, got %v", err)
	}
	stored, _ := h.store.GetByID(ctx, order.ID)
	if stored.Status != domain.OrderStatusReady {
		t.Fatalf("expected READY after expired verify, got %s", stored.Status)
	}
}

func TestVerifyPickupInvalidCode(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	order, code := h.readyOrder(t)
	wrong := "000000"
	if code == wrong {
		wrong = "111111"
	}
	if _, err := h.svc.VerifyPickup(ctx, VerifyPickupCommand{OrderID: order.ID, Code: wrong, Actor: operator}); !errors.Is(err, ErrOTPInvalid) {
		t.Fatalf("expected ErrOTPInvalid, got %v", err)
	}
	if _, err := h.svc.VerifyPickup(ctx, VerifyPickupCommand{OrderID: order.ID, Code: "12ab56", Actor: operator}); !errors.Is(err, ErrOTPInvalid) {
		t.Fatalf("expected ErrOTPInvalid for malformed code, got %v", err)
	}
	stored, _ := h.store.GetByID(ctx, order.ID)
	if stored.Status != domain.OrderStatusReady || !stored.HasPickupCode() {
		t.Fatalf("expected unchanged READY order, got %#v", stored)
	}
	if _, err := h.svc.VerifyPickup(ctx, VerifyPickupCommand{OrderID: order.ID, Code: code, Actor: requester}); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden for requester self-verify, got %v", err)
	}
}

func TestVerifyPickupConcurrentSingleSuccess(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	order, code := h.readyOrder(t)

	const callers = 10
	var wg sync.WaitGroup
	var wins, notIssued atomic.Int32
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.svc.VerifyPickup(ctx, VerifyPickupCommand{OrderID: order.ID, Code: code, Actor: operator})
			switch {
			case err == nil:
				wins.Add(1)
			case errors.Is(err, ErrOTPNotIssued):
				notIssued.Add(1)
			default:
				t.Errorf("unexpected error %v", err)
			}
		}()
	}
	wg.Wait()
	if wins.Load() != 1 || notIssued.Load() != callers-1 {
		t.Fatalf("expected one success and %d NotIssued, got %d and %d", callers-1, wins.Load(), notIssued.Load())
	}
}

func TestVerifyPickupTooManyAttempts(t *testing.T) {
	ctx := context.Background()
	var attempts atomic.Int32
	h := newHarness(t, func(_ *OrderServiceDeps, otp *OTPHandoverManagerDeps) {
		otp.Limiter = stubLimiter{allowFn: func(key string) (bool, error) {
			return attempts.Add(1) <= 2, nil
		}}
	})
	order, code := h.readyOrder(t)
	for i := 0; i < 2; i++ {
		if _, err := h.svc.VerifyPickup(ctx, VerifyPickupCommand{OrderID: order.ID, Code: "999999", Actor: operator}); err == nil {
			t.Fatalf("expected failure for wrong code")
		}
	}
	if _, err := h.svc.VerifyPickup(ctx, VerifyPickupCommand{OrderID: order.ID, Code: code, Actor: operator}); !errors.Is(err, ErrOTPTooManyAttempts) {
		t.Fatalf("expected ErrOTPTooManyAttempts, got %v", err)
	}
}

func TestCancelOrderRules(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	order := h.submitPaid(t)
	h.advance(t, order.ID, domain.OrderStatusPrinting)
	if _, err := h.svc.CancelOrder(ctx, CancelOrderCommand{OrderID: order.ID, Actor: requester}); !errors.Is(err, ErrStateConflict) {
		t.Fatalf("expected requester cancel of PRINTING to conflict, got %v", err)
	}
	cancelled, err := h.svc.CancelOrder(ctx, CancelOrderCommand{OrderID: order.ID, Reason: "printer jam <script>x</script>", Actor: operator})
	if err != nil {
		t.Fatalf("shop cancel: %v", err)
	}
	if cancelled.Status != domain.OrderStatusCancelled || strings.Contains(cancelled.CancelReason, "<") {
		t.Fatalf("unexpected cancelled order %#v", cancelled)
	}
	if note := h.dispatcher.last(t); note.Kind != NotificationStatusChanged {
		t.Fatalf("expected status notification, got %s", note.Kind)
	}
	if !h.logger.has("order.cancelled.after_payment") {
		t.Fatalf("expected paid cancellation to be logged")
	}
}

func TestGetOrderVisibility(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	order := h.submit(t, JobSpec{PageCount: 1, CopyCount: 1, ColorMode: domain.ColorModeMono, DuplexMode: domain.DuplexModeSingle})

	if _, err := h.svc.GetOrder(ctx, order.ID, requester); err != nil {
		t.Fatalf("requester get: %v", err)
	}
	if _, err := h.svc.GetOrder(ctx, order.ID, operator); err != nil {
		t.Fatalf("operator get: %v", err)
	}
	if _, err := h.svc.GetOrder(ctx, order.ID, stranger); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for stranger, got %v", err)
	}
	if _, err := h.svc.GetOrder(ctx, "ord_missing", requester); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for missing order, got %v", err)
	}
}

func TestListShopOrders(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	for i := 0; i < 3; i++ {
		h.submit(t, JobSpec{PageCount: 1, CopyCount: 1, ColorMode: domain.ColorModeMono, DuplexMode: domain.DuplexModeSingle})
		h.clock.Advance(time.Minute)
	}

	page, err := h.svc.ListShopOrders(ctx, ListShopOrdersCommand{ShopID: "shop_1", Statuses: []OrderStatus{"created"}, PageSize: 2, Actor: operator})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(page.Items) != 2 || page.NextPageToken == "" {
		t.Fatalf("expected two items and a next token, got %d %q", len(page.Items), page.NextPageToken)
	}
	if !page.Items[0].CreatedAt.After(page.Items[1].CreatedAt) {
		t.Fatalf("expected newest first")
	}

	if _, err := h.svc.ListShopOrders(ctx, ListShopOrdersCommand{ShopID: "shop_1", Actor: Actor{ID: "op_2", Role: ActorShop}}); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	if _, err := h.svc.ListShopOrders(ctx, ListShopOrdersCommand{ShopID: "shop_1", PageToken: "%%%", Actor: operator}); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for bad token, got %v", err)
	}
}

func TestDocumentURL(t *testing.T) {
	ctx := context.Background()
	var gotPath string
	var gotTTL time.Duration
	h := newHarness(t, func(deps *OrderServiceDeps, _ *OTPHandoverManagerDeps) {
		deps.Documents = stubSigner{signFn: func(path string, ttl time.Duration) (string, error) {
			gotPath, gotTTL = path, ttl
			return "https://storage.example/" + path + "?sig=1", nil
		}}
	})
	order := h.submit(t, JobSpec{PageCount: 1, CopyCount: 1, ColorMode: domain.ColorModeMono, DuplexMode: domain.DuplexModeSingle})

	link, err := h.svc.DocumentURL(ctx, order.ID, operator)
	if err != nil {
		t.Fatalf("document url: %v", err)
	}
	if gotPath != order.FileRef || gotTTL != 15*time.Minute {
		t.Fatalf("unexpected sign call %q %v", gotPath, gotTTL)
	}
	if !link.ExpiresAt.Equal(h.clock.Now().Add(15*time.Minute)) || link.URL == "" {
		t.Fatalf("unexpected link %#v", link)
	}
	if _, err := h.svc.DocumentURL(ctx, order.ID, stranger); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for stranger, got %v", err)
	}
}

func TestDocumentURLWithoutStorage(t *testing.T) {
	h := newHarness(t)
	order := h.submit(t, JobSpec{PageCount: 1, CopyCount: 1, ColorMode: domain.ColorModeMono, DuplexMode: domain.DuplexModeSingle})
	if _, err := h.svc.DocumentURL(context.Background(), order.ID, requester); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

func TestNewOrderServiceRequiresDependencies(t *testing.T) {
	if _, err := NewOrderService(OrderServiceDeps{}); err == nil {
		t.Fatalf("expected error for missing repositories")
	}
}

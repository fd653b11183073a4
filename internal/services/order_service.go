package services

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	domain "github.com/tanmay-mevada/Print-Stack-sub000/internal/domain"
	"github.com/tanmay-mevada/Print-Stack-sub000/internal/payments"
	"github.com/tanmay-mevada/Print-Stack-sub000/internal/platform/pagination"
	"github.com/tanmay-mevada/Print-Stack-sub000/internal/platform/textutil"
	"github.com/tanmay-mevada/Print-Stack-sub000/internal/repositories"
)

const (
	orderEventCreated       = "order.created"
	orderEventStatusChanged = "order.status.changed"

	orderIDPrefix = "ord_"

	maxInstructionsRunes = 1000
	maxCancelReasonRunes = 200
	defaultDocumentTTL   = 15 * time.Minute

	metricNamespace = "github.com/tanmay-mevada/Print-Stack-sub000/internal/services"
)

// OrderServiceDeps bundles collaborators required to construct the order service.
type OrderServiceDeps struct {
	Orders        repositories.OrderRepository
	Shops         repositories.ShopRepository
	Payments      PaymentGateway
	Webhooks      map[string]payments.WebhookVerifier
	OTP           *OTPHandoverManager
	StateMachine  *OrderStateMachine
	Notifications NotificationDispatcher
	Composer      *NotificationComposer
	Events        OrderEventPublisher
	Documents     DocumentSigner
	DocumentTTL   time.Duration
	// CallbackBaseURL is the public API base, e.g. https://api.example.com/api/v1.
	CallbackBaseURL string
	Clock           func() time.Time
	IDGenerator     func() string
	Meter           metric.Meter
	Logger          func(ctx context.Context, event string, fields map[string]any)
}

type orderService struct {
	orders        repositories.OrderRepository
	shops         repositories.ShopRepository
	payments      PaymentGateway
	webhooks      map[string]payments.WebhookVerifier
	otp           *OTPHandoverManager
	machine       *OrderStateMachine
	notifications NotificationDispatcher
	composer      *NotificationComposer
	events        OrderEventPublisher
	documents     DocumentSigner
	documentTTL   time.Duration
	callbackBase  string
	clock         func() time.Time
	newID         func() string
	logger        func(context.Context, string, map[string]any)

	notificationFailures metric.Int64Counter
}

// NewOrderService wires dependencies into a concrete OrderService implementation.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order service: order repository is required")
	}
	if deps.Shops == nil {
		return nil, errors.New("order service: shop repository is required")
	}
	if deps.Payments == nil {
		return nil, errors.New("order service: payment gateway is required")
	}
	if deps.OTP == nil {
		return nil, errors.New("order service: otp manager is required")
	}

	machine := deps.StateMachine
	if machine == nil {
		machine = NewOrderStateMachine(nil, SkipAheadReject)
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return ulid.Make().String()
		}
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	notifications := deps.Notifications
	if notifications == nil {
		notifications = NewLoggingNotificationDispatcher(logger)
	}

	composer := deps.Composer
	if composer == nil {
		composer = NewNotificationComposer(defaultNotificationLocale)
	}

	ttl := deps.DocumentTTL
	if ttl <= 0 {
		ttl = defaultDocumentTTL
	}

	webhooks := make(map[string]payments.WebhookVerifier, len(deps.Webhooks))
	for name, verifier := range deps.Webhooks {
		if verifier != nil {
			webhooks[strings.ToLower(strings.TrimSpace(name))] = verifier
		}
	}

	meter := deps.Meter
	if meter == nil {
		meter = otel.GetMeterProvider().Meter(metricNamespace)
	}
	failures, err := meter.Int64Counter(
		"orders.notification.failures",
		metric.WithDescription("Count of notifications that could not be handed to the dispatcher"),
	)
	if err != nil {
		return nil, fmt.Errorf("order service: register notification metric: %w", err)
	}

	return &orderService{
		orders:        deps.Orders,
		shops:         deps.Shops,
		payments:      deps.Payments,
		webhooks:      webhooks,
		otp:           deps.OTP,
		machine:       machine,
		notifications: notifications,
		composer:      composer,
		events:        deps.Events,
		documents:     deps.Documents,
		documentTTL:   ttl,
		callbackBase:  strings.TrimRight(strings.TrimSpace(deps.CallbackBaseURL), "/"),
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		logger: logger,

		notificationFailures: failures,
	}, nil
}

func (s *orderService) SubmitOrder(ctx context.Context, cmd SubmitOrderCommand) (Order, error) {
	requesterID := strings.TrimSpace(cmd.Actor.ID)
	if requesterID == "" {
		return Order{}, validationError("requester id is required")
	}
	shopID := strings.TrimSpace(cmd.ShopID)
	if shopID == "" {
		return Order{}, validationError("shop id is required")
	}
	fileRef := strings.TrimSpace(cmd.FileRef)
	if fileRef == "" {
		return Order{}, validationError("file reference is required")
	}

	provider, err := s.payments.Resolve(cmd.PaymentProvider)
	if err != nil {
		return Order{}, mapGatewayError(err)
	}

	shop, err := s.shops.FindShop(ctx, shopID)
	if err != nil {
		return Order{}, mapRepositoryError(err, "shop not found")
	}
	if shop.Pricing == nil {
		return Order{}, validationError("shop %s has no pricing configured", shopID)
	}

	job := cmd.Job
	job.ColorMode = domain.ColorMode(strings.ToUpper(strings.TrimSpace(string(job.ColorMode))))
	job.DuplexMode = domain.DuplexMode(strings.ToUpper(strings.TrimSpace(string(job.DuplexMode))))
	total, err := Price(shop.Pricing, job)
	if err != nil {
		return Order{}, err
	}

	now := s.now()
	orderID := s.nextOrderID()
	order := Order{
		ID:                   orderID,
		RequesterID:          requesterID,
		ShopID:               shopID,
		FileRef:              fileRef,
		Instructions:         textutil.PlainText(cmd.Instructions, maxInstructionsRunes),
		Job:                  job,
		Total:                total,
		Status:               domain.OrderStatusCreated,
		PaymentProvider:      provider,
		PaymentTransactionID: payments.TransactionID(orderID),
		CreatedAt:            now,
		UpdatedAt:            now,
	}

	if _, err := s.orders.Create(ctx, order); err != nil {
		return Order{}, mapRepositoryError(err, "order not found")
	}

	s.logger(ctx, "order.created", map[string]any{
		"orderId": order.ID,
		"shopId":  order.ShopID,
		"total":   order.Total.String(),
	})
	s.publish(ctx, OrderEvent{
		Type:          orderEventCreated,
		OrderID:       order.ID,
		ShopID:        order.ShopID,
		CurrentStatus: string(order.Status),
		ActorID:       requesterID,
		OccurredAt:    now,
		Metadata:      map[string]any{"total": order.Total.Paise()},
	})
	return order, nil
}

func (s *orderService) InitiatePayment(ctx context.Context, cmd InitiatePaymentCommand) (PaymentInitiation, error) {
	order, access, err := s.loadForActor(ctx, cmd.OrderID, cmd.Actor)
	if err != nil {
		return PaymentInitiation{}, err
	}
	if access.relation != relationRequester {
		return PaymentInitiation{}, fmt.Errorf("%w: only the requester can pay for an order", ErrForbidden)
	}
	if order.Status != domain.OrderStatusCreated {
		return PaymentInitiation{}, fmt.Errorf("%w: order is %s", ErrStateConflict, order.Status)
	}
	if order.Total <= 0 {
		return PaymentInitiation{}, validationError("order total must be positive to initiate payment")
	}

	req := payments.PaymentRequest{
		OrderID:       order.ID,
		TransactionID: order.PaymentTransactionID,
		RequesterID:   order.RequesterID,
		Amount:        order.Total.Paise(),
		RedirectURL:   s.callbackURL("/payments/callback", order),
		CallbackURL:   s.callbackURL("/webhooks/payments/"+order.PaymentProvider, order),
	}
	result, err := s.payments.Initiate(ctx, order.PaymentProvider, req)
	if err != nil {
		s.logger(ctx, "payment.initiate.failed", map[string]any{
			"orderId":  order.ID,
			"provider": order.PaymentProvider,
			"error":    err.Error(),
		})
		return PaymentInitiation{}, mapGatewayError(err)
	}

	s.logger(ctx, "payment.initiate.requested", map[string]any{
		"orderId":       order.ID,
		"provider":      result.Provider,
		"transactionId": result.TransactionID,
	})
	return PaymentInitiation{
		OrderID:       order.ID,
		Provider:      result.Provider,
		TransactionID: result.TransactionID,
		RedirectURL:   result.RedirectURL,
	}, nil
}

func (s *orderService) ReconcilePayment(ctx context.Context, cmd ReconcilePaymentCommand) (ReconcileResult, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return ReconcileResult{}, validationError("order id is required")
	}
	order, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return ReconcileResult{}, mapRepositoryError(err, "order not found")
	}
	txnID := textutil.AlphaNumeric(cmd.TransactionID)
	if txnID == "" || txnID != order.PaymentTransactionID {
		return ReconcileResult{}, validationError("transaction id does not match order")
	}

	if order.PaidAt != nil {
		return ReconcileResult{Order: order, Paid: true, AlreadyApplied: true, Outcome: payments.OutcomePaid}, nil
	}

	outcome, err := s.payments.CheckStatus(ctx, order.PaymentProvider, txnID)
	if err != nil {
		s.logger(ctx, "payment.reconcile.gateway_error", map[string]any{
			"orderId":       order.ID,
			"transactionId": txnID,
			"error":         err.Error(),
		})
		return ReconcileResult{}, mapGatewayError(err)
	}

	if !outcome.Paid() {
		s.logger(ctx, "payment.reconcile.not_paid", map[string]any{
			"orderId": order.ID,
			"outcome": string(outcome.Kind),
			"code":    outcome.Code,
		})
		return ReconcileResult{Order: order, Outcome: outcome.Kind}, nil
	}
	if outcome.AmountKnown && outcome.Amount != order.Total.Paise() {
		s.logger(ctx, "payment.amount_mismatch", map[string]any{
			"orderId":  order.ID,
			"expected": order.Total.Paise(),
			"reported": outcome.Amount,
		})
		return ReconcileResult{Order: order, Outcome: payments.OutcomeUnknown}, nil
	}

	return s.applyPayment(ctx, order, txnID)
}

func (s *orderService) applyPayment(ctx context.Context, order Order, txnID string) (ReconcileResult, error) {
	switch {
	case order.Status == domain.OrderStatusCancelled:
		return ReconcileResult{}, s.paymentAfterCancel(ctx, order)
	case order.Status != domain.OrderStatusCreated:
		return ReconcileResult{Order: order, Paid: true, AlreadyApplied: true, Outcome: payments.OutcomePaid}, nil
	}

	if _, err := s.machine.Check(order.Status, domain.OrderStatusPaid, OriginPayment); err != nil {
		return ReconcileResult{}, err
	}

	now := s.now()
	applied, err := s.orders.ConditionalUpdateStatus(ctx, order.ID, domain.OrderStatusCreated, domain.OrderStatusPaid, domain.StatusUpdate{
		PaymentTransactionID: txnID,
		PaidAt:               &now,
		UpdatedAt:            now,
	})
	if err != nil {
		return ReconcileResult{}, mapRepositoryError(err, "order not found")
	}
	if !applied {
		current, err := s.orders.GetByID(ctx, order.ID)
		if err != nil {
			return ReconcileResult{}, mapRepositoryError(err, "order not found")
		}
		if current.Status == domain.OrderStatusCancelled {
			return ReconcileResult{}, s.paymentAfterCancel(ctx, current)
		}
		s.logger(ctx, "payment.reconcile.already_applied", map[string]any{
			"orderId": current.ID,
			"status":  string(current.Status),
		})
		return ReconcileResult{Order: current, Paid: true, AlreadyApplied: true, Outcome: payments.OutcomePaid}, nil
	}

	previous := order.Status
	order.Status = domain.OrderStatusPaid
	order.PaidAt = &now
	order.UpdatedAt = now
	s.logger(ctx, "payment.reconcile.applied", map[string]any{
		"orderId":       order.ID,
		"transactionId": txnID,
	})
	s.transitioned(ctx, order, previous, "", map[string]any{"transactionId": txnID})
	return ReconcileResult{Order: order, Paid: true, Outcome: payments.OutcomePaid}, nil
}

func (s *orderService) paymentAfterCancel(ctx context.Context, order Order) error {
	s.logger(ctx, "order.payment.after_cancel", map[string]any{
		"orderId":       order.ID,
		"transactionId": order.PaymentTransactionID,
	})
	return fmt.Errorf("%w: payment confirmed for cancelled order", ErrStateConflict)
}

func (s *orderService) HandleGatewayCallback(ctx context.Context, cmd GatewayCallbackCommand) (ReconcileResult, error) {
	provider := strings.ToLower(strings.TrimSpace(cmd.Provider))
	verifier, ok := s.webhooks[provider]
	if !ok {
		return ReconcileResult{}, validationError("unsupported payment provider %q", cmd.Provider)
	}
	txnID, err := verifier.VerifyWebhook(cmd.Body, cmd.Signature)
	if err != nil {
		s.logger(ctx, "payment.webhook.rejected", map[string]any{"provider": provider, "error": err.Error()})
		return ReconcileResult{}, validationError("invalid payment callback")
	}
	order, err := s.orders.FindByTransactionID(ctx, txnID)
	if err != nil {
		return ReconcileResult{}, mapRepositoryError(err, "order not found")
	}
	return s.ReconcilePayment(ctx, ReconcilePaymentCommand{OrderID: order.ID, TransactionID: txnID})
}

func (s *orderService) GetOrder(ctx context.Context, orderID string, actor Actor) (Order, error) {
	order, _, err := s.loadForActor(ctx, orderID, actor)
	return order, err
}

func (s *orderService) ListShopOrders(ctx context.Context, cmd ListShopOrdersCommand) (OrderPage, error) {
	shopID := strings.TrimSpace(cmd.ShopID)
	if shopID == "" {
		return OrderPage{}, validationError("shop id is required")
	}
	shop, err := s.shops.FindShop(ctx, shopID)
	if err != nil {
		return OrderPage{}, mapRepositoryError(err, "shop not found")
	}
	if !cmd.Actor.IsAdmin() && !(cmd.Actor.Role == ActorShop && shop.HasOperator(cmd.Actor.ID)) {
		return OrderPage{}, fmt.Errorf("%w: not an operator of shop %s", ErrForbidden, shopID)
	}

	statuses := make([]OrderStatus, 0, len(cmd.Statuses))
	for _, status := range cmd.Statuses {
		status = OrderStatus(strings.ToUpper(strings.TrimSpace(string(status))))
		if !status.Valid() {
			return OrderPage{}, validationError("unknown status %q", status)
		}
		if !slices.Contains(statuses, status) {
			statuses = append(statuses, status)
		}
	}
	if _, err := pagination.DecodeToken(cmd.PageToken); err != nil {
		return OrderPage{}, validationError("invalid page token")
	}
	pageSize := cmd.PageSize
	switch {
	case pageSize <= 0:
		pageSize = pagination.DefaultPageSize
	case pageSize > pagination.DefaultMaxPageSize:
		pageSize = pagination.DefaultMaxPageSize
	}

	page, err := s.orders.ListByShop(ctx, domain.OrderListFilter{
		ShopID:   shopID,
		Statuses: statuses,
		Pagination: domain.Pagination{
			PageSize:  pageSize,
			PageToken: strings.TrimSpace(cmd.PageToken),
		},
	})
	if err != nil {
		return OrderPage{}, mapRepositoryError(err, "shop not found")
	}
	return page, nil
}

func (s *orderService) AdvanceOrder(ctx context.Context, cmd AdvanceOrderCommand) (TransitionResult, error) {
	target := OrderStatus(strings.ToUpper(strings.TrimSpace(string(cmd.Target))))
	switch target {
	case domain.OrderStatusPrinting, domain.OrderStatusReady, domain.OrderStatusCompleted:
	default:
		return TransitionResult{}, validationError("shops may only move orders to PRINTING, READY or COMPLETED")
	}

	order, access, err := s.loadForActor(ctx, cmd.OrderID, cmd.Actor)
	if err != nil {
		return TransitionResult{}, err
	}
	if !access.isShopSide() {
		return TransitionResult{}, fmt.Errorf("%w: only the shop can advance an order", ErrForbidden)
	}

	skipped, err := s.machine.Check(order.Status, target, OriginShop)
	if skipped {
		s.logger(ctx, "order.transition.skip_ahead", map[string]any{
			"orderId": order.ID,
			"from":    string(order.Status),
			"to":      string(target),
			"policy":  string(s.machine.Policy()),
			"allowed": err == nil,
			"actorId": cmd.Actor.ID,
		})
	}
	if err != nil {
		return TransitionResult{}, err
	}

	now := s.now()
	update := domain.StatusUpdate{UpdatedAt: now}
	if target == domain.OrderStatusCompleted {
		update.CompletedAt = &now
		update.ClearPickupCode = true
	}
	if err := s.conditionalTransition(ctx, order, target, update); err != nil {
		return TransitionResult{}, err
	}

	previous := order.Status
	order.Status = target
	order.UpdatedAt = now
	if target == domain.OrderStatusCompleted {
		order.CompletedAt = &now
		order.PickupCodeHash = ""
		order.PickupCodeExpiry = nil
	}
	s.transitioned(ctx, order, previous, cmd.Actor.ID, map[string]any{"skippedAhead": skipped})

	result := TransitionResult{Order: order, SkippedAhead: skipped}
	if target == domain.OrderStatusReady {
		code, err := s.otp.Issue(ctx, order)
		if err != nil {
			s.logger(ctx, "order.pickup_code.issue_failed", map[string]any{
				"orderId": order.ID,
				"error":   err.Error(),
			})
			// The requester gets no code either way, so monitoring sees it as a gap.
			s.deliveryGap(ctx, order.ID, NotificationPickupReady, err)
			return result, nil
		}
		result.Order = withPickupCode(order, code)
		result.PickupCodeIssued = true
		result.NotificationDelivered = s.dispatch(ctx, s.composer.PickupReady(order, access.shop.Name, code))
	}
	return result, nil
}

func (s *orderService) CancelOrder(ctx context.Context, cmd CancelOrderCommand) (Order, error) {
	order, access, err := s.loadForActor(ctx, cmd.OrderID, cmd.Actor)
	if err != nil {
		return Order{}, err
	}
	origin := OriginShop
	if access.relation == relationRequester {
		origin = OriginRequester
		if order.Status != domain.OrderStatusCreated && order.Status != domain.OrderStatusPaid {
			return Order{}, fmt.Errorf("%w: order is %s and can only be cancelled by the shop", ErrStateConflict, order.Status)
		}
	}
	if _, err := s.machine.Check(order.Status, domain.OrderStatusCancelled, origin); err != nil {
		return Order{}, err
	}

	now := s.now()
	reason := textutil.PlainText(cmd.Reason, maxCancelReasonRunes)
	update := domain.StatusUpdate{
		CancelledAt:     &now,
		CancelReason:    reason,
		ClearPickupCode: true,
		UpdatedAt:       now,
	}
	if err := s.conditionalTransition(ctx, order, domain.OrderStatusCancelled, update); err != nil {
		return Order{}, err
	}

	previous := order.Status
	order.Status = domain.OrderStatusCancelled
	order.CancelledAt = &now
	order.CancelReason = reason
	order.PickupCodeHash = ""
	order.PickupCodeExpiry = nil
	order.UpdatedAt = now
	if order.PaidAt != nil {
		s.logger(ctx, "order.cancelled.after_payment", map[string]any{
			"orderId":       order.ID,
			"transactionId": order.PaymentTransactionID,
			"total":         order.Total.String(),
		})
	}
	s.transitioned(ctx, order, previous, cmd.Actor.ID, map[string]any{"reason": reason})

	if origin == OriginShop {
		s.dispatch(ctx, s.composer.StatusChanged(order))
	}
	return order, nil
}

func (s *orderService) VerifyPickup(ctx context.Context, cmd VerifyPickupCommand) (Order, error) {
	order, access, err := s.loadForActor(ctx, cmd.OrderID, cmd.Actor)
	if err != nil {
		return Order{}, err
	}
	if !access.isShopSide() {
		return Order{}, fmt.Errorf("%w: pickup codes are verified at the shop counter", ErrForbidden)
	}

	completedAt, err := s.otp.Verify(ctx, order, cmd.Code)
	if err != nil {
		s.logger(ctx, "order.pickup.verify_failed", map[string]any{
			"orderId": order.ID,
			"reason":  err.Error(),
			"actorId": cmd.Actor.ID,
		})
		return Order{}, err
	}

	previous := order.Status
	order.Status = domain.OrderStatusCompleted
	order.CompletedAt = &completedAt
	order.UpdatedAt = completedAt
	order.PickupCodeHash = ""
	order.PickupCodeExpiry = nil
	s.logger(ctx, "order.pickup.verified", map[string]any{"orderId": order.ID, "actorId": cmd.Actor.ID})
	s.transitioned(ctx, order, previous, cmd.Actor.ID, map[string]any{"via": "pickup_code"})
	return order, nil
}

func (s *orderService) ResendPickupCode(ctx context.Context, orderID string, actor Actor) (TransitionResult, error) {
	order, access, err := s.loadForActor(ctx, orderID, actor)
	if err != nil {
		return TransitionResult{}, err
	}
	if !access.isShopSide() {
		return TransitionResult{}, fmt.Errorf("%w: only the shop can resend a pickup code", ErrForbidden)
	}
	if order.Status != domain.OrderStatusReady {
		return TransitionResult{}, fmt.Errorf("%w: order is %s", ErrStateConflict, order.Status)
	}

	code, err := s.otp.Issue(ctx, order)
	if err != nil {
		return TransitionResult{}, err
	}
	s.logger(ctx, "order.pickup_code.resent", map[string]any{"orderId": order.ID, "actorId": actor.ID})
	delivered := s.dispatch(ctx, s.composer.PickupReady(order, access.shop.Name, code))
	return TransitionResult{
		Order:                 withPickupCode(order, code),
		PickupCodeIssued:      true,
		NotificationDelivered: delivered,
	}, nil
}

func (s *orderService) DocumentURL(ctx context.Context, orderID string, actor Actor) (DocumentLink, error) {
	order, _, err := s.loadForActor(ctx, orderID, actor)
	if err != nil {
		return DocumentLink{}, err
	}
	if s.documents == nil {
		return DocumentLink{}, fmt.Errorf("%w: document storage is not configured", ErrUnavailable)
	}
	if strings.TrimSpace(order.FileRef) == "" {
		return DocumentLink{}, fmt.Errorf("%w: order has no document", ErrNotFound)
	}
	expires := s.now().Add(s.documentTTL)
	signed, err := s.documents.SignedDownloadURL(ctx, order.FileRef, s.documentTTL)
	if err != nil {
		s.logger(ctx, "order.document.sign_failed", map[string]any{"orderId": order.ID, "error": err.Error()})
		return DocumentLink{}, fmt.Errorf("%w: sign document url", ErrUnavailable)
	}
	return DocumentLink{URL: signed, ExpiresAt: expires}, nil
}

type actorRelation int

const (
	relationNone actorRelation = iota
	relationRequester
	relationOperator
	relationAdmin
)

type orderAccess struct {
	relation actorRelation
	shop     Shop
}

func (a orderAccess) isShopSide() bool {
	return a.relation == relationOperator || a.relation == relationAdmin
}

// loadForActor returns ErrNotFound for actors unrelated to the order so existence is not leaked.
func (s *orderService) loadForActor(ctx context.Context, orderID string, actor Actor) (Order, orderAccess, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return Order{}, orderAccess{}, validationError("order id is required")
	}
	if strings.TrimSpace(actor.ID) == "" {
		return Order{}, orderAccess{}, fmt.Errorf("%w: order not found", ErrNotFound)
	}
	order, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return Order{}, orderAccess{}, mapRepositoryError(err, "order not found")
	}

	access := orderAccess{shop: Shop{ID: order.ShopID}}
	if actor.Role != ActorRequester {
		shop, err := s.shops.FindShop(ctx, order.ShopID)
		if err != nil {
			var repoErr repositories.RepositoryError
			if !errors.As(err, &repoErr) || !repoErr.IsNotFound() {
				return Order{}, orderAccess{}, mapRepositoryError(err, "shop not found")
			}
		} else {
			access.shop = shop
		}
	}

	switch {
	case actor.IsAdmin():
		access.relation = relationAdmin
	case actor.Role == ActorShop && access.shop.HasOperator(actor.ID):
		access.relation = relationOperator
	case actor.Role == ActorRequester && actor.ID == order.RequesterID:
		access.relation = relationRequester
	default:
		return Order{}, orderAccess{}, fmt.Errorf("%w: order not found", ErrNotFound)
	}
	return order, access, nil
}

func (s *orderService) conditionalTransition(ctx context.Context, order Order, next OrderStatus, update domain.StatusUpdate) error {
	applied, err := s.orders.ConditionalUpdateStatus(ctx, order.ID, order.Status, next, update)
	if err != nil {
		return mapRepositoryError(err, "order not found")
	}
	if !applied {
		s.logger(ctx, "order.transition.lost_race", map[string]any{
			"orderId":  order.ID,
			"expected": string(order.Status),
			"to":       string(next),
		})
		return fmt.Errorf("%w: order changed since it was read", ErrStateConflict)
	}
	return nil
}

func (s *orderService) transitioned(ctx context.Context, order Order, previous OrderStatus, actorID string, metadata map[string]any) {
	s.logger(ctx, "order.transition.applied", map[string]any{
		"orderId": order.ID,
		"from":    string(previous),
		"to":      string(order.Status),
		"actorId": actorID,
	})
	s.publish(ctx, OrderEvent{
		Type:           orderEventStatusChanged,
		OrderID:        order.ID,
		ShopID:         order.ShopID,
		PreviousStatus: string(previous),
		CurrentStatus:  string(order.Status),
		ActorID:        actorID,
		OccurredAt:     order.UpdatedAt,
		Metadata:       metadata,
	})
}

func (s *orderService) publish(ctx context.Context, event OrderEvent) {
	if s.events == nil {
		return
	}
	if err := s.events.PublishOrderEvent(ctx, event); err != nil {
		s.logger(ctx, "order.event.publish_failed", map[string]any{
			"orderId": event.OrderID,
			"type":    event.Type,
			"error":   err.Error(),
		})
	}
}

// dispatch hands a notification to the dispatcher and reports whether it was accepted.
// Failures never propagate to the caller.
func (s *orderService) dispatch(ctx context.Context, n Notification) bool {
	if err := s.notifications.Send(ctx, n); err != nil {
		s.deliveryGap(ctx, n.OrderID, n.Kind, err)
		return false
	}
	return true
}

// deliveryGap records a notification the requester will not receive.
func (s *orderService) deliveryGap(ctx context.Context, orderID, kind string, err error) {
	s.notificationFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
	s.logger(ctx, "order.notification.delivery_gap", map[string]any{
		"orderId": orderID,
		"kind":    kind,
		"error":   err.Error(),
	})
}

func (s *orderService) callbackURL(path string, order Order) string {
	query := url.Values{}
	query.Set("orderId", order.ID)
	query.Set("txnId", order.PaymentTransactionID)
	return s.callbackBase + path + "?" + query.Encode()
}

func (s *orderService) nextOrderID() string {
	return orderIDPrefix + s.newID()
}

func (s *orderService) now() time.Time {
	return s.clock()
}

func withPickupCode(order Order, code PickupCode) Order {
	expiry := code.ExpiresAt
	order.PickupCodeHash = code.hash
	order.PickupCodeExpiry = &expiry
	return order
}

package service

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prohmpiriya/eventhub-booking/internal/broadcast"
	"github.com/prohmpiriya/eventhub-booking/internal/domain"
	"github.com/prohmpiriya/eventhub-booking/internal/gateway"
	"github.com/prohmpiriya/eventhub-booking/internal/notifier"
	"github.com/prohmpiriya/eventhub-booking/internal/repository"
)

// testClock is a settable clock
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
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

// memoryLedger gives the same atomicity as the real ledgers with one mutex per event
type memoryLedger struct {
	mu       sync.Mutex
	locks    map[string]*sync.Mutex
	total    map[string]int
	held     map[string]int
	releases atomic.Int64

	HoldFunc func(ctx context.Context, eventID string, n int) (int, error)
}

func newMemoryLedger() *memoryLedger {
	return &memoryLedger{
		locks: make(map[string]*sync.Mutex),
		total: make(map[string]int),
		held:  make(map[string]int),
	}
}

func (l *memoryLedger) seed(eventID string, total int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.locks[eventID] = &sync.Mutex{}
	l.total[eventID] = total
	l.held[eventID] = 0
}

func (l *memoryLedger) lockFor(eventID string) (*sync.Mutex, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	m, ok := l.locks[eventID]
	return m, ok
}

func (l *memoryLedger) Held(eventID string) int {
	m, _ := l.lockFor(eventID)
	m.Lock()
	defer m.Unlock()
	return l.held[eventID]
}

func (l *memoryLedger) Hold(ctx context.Context, eventID string, n int) (int, error) {
	if l.HoldFunc != nil {
		return l.HoldFunc(ctx, eventID, n)
	}
	m, ok := l.lockFor(eventID)
	if !ok {
		return 0, domain.ErrEventNotFound
	}
	m.Lock()
	defer m.Unlock()
	if l.held[eventID]+n > l.total[eventID] {
		return 0, domain.ErrInsufficientCapacity
	}
	l.held[eventID] += n
	return l.total[eventID] - l.held[eventID], nil
}

// Release fails on a done context the way a pgx or go-redis call does
func (l *memoryLedger) Release(ctx context.Context, eventID string, n int) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m, ok := l.lockFor(eventID)
	if !ok {
		return 0, domain.ErrEventNotFound
	}
	m.Lock()
	defer m.Unlock()
	l.releases.Add(1)
	l.held[eventID] -= n
	if l.held[eventID] < 0 {
		l.held[eventID] = 0
	}
	return l.total[eventID] - l.held[eventID], nil
}

func (l *memoryLedger) Available(ctx context.Context, eventID string) (int, error) {
	m, ok := l.lockFor(eventID)
	if !ok {
		return 0, domain.ErrEventNotFound
	}
	m.Lock()
	defer m.Unlock()
	return l.total[eventID] - l.held[eventID], nil
}

// memoryEventRepo stores events by id
type memoryEventRepo struct {
	mu     sync.Mutex
	events map[string]*domain.Event
}

func newMemoryEventRepo(events ...*domain.Event) *memoryEventRepo {
	r := &memoryEventRepo{events: make(map[string]*domain.Event)}
	for _, e := range events {
		r.events[e.ID] = e
	}
	return r
}

func (r *memoryEventRepo) GetByID(ctx context.Context, id string) (*domain.Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.events[id]
	if !ok {
		return nil, domain.ErrEventNotFound
	}
	cp := *e
	return &cp, nil
}

func (r *memoryEventRepo) Create(ctx context.Context, event *domain.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events[event.ID] = event
	return nil
}

// memoryBookingRepo applies every status change as a check-and-set under one mutex
type memoryBookingRepo struct {
	mu       sync.Mutex
	bookings map[string]*domain.Booking
	confirms atomic.Int64

	CreateFunc func(ctx context.Context, booking *domain.Booking) error
}

func newMemoryBookingRepo() *memoryBookingRepo {
	return &memoryBookingRepo{bookings: make(map[string]*domain.Booking)}
}

func copyBooking(b *domain.Booking) *domain.Booking {
	cp := *b
	if b.HoldExpiry != nil {
		t := *b.HoldExpiry
		cp.HoldExpiry = &t
	}
	if b.Payment.PaidAt != nil {
		t := *b.Payment.PaidAt
		cp.Payment.PaidAt = &t
	}
	return &cp
}

func (r *memoryBookingRepo) put(b *domain.Booking) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bookings[b.ID] = copyBooking(b)
}

func (r *memoryBookingRepo) get(id string) *domain.Booking {
	r.mu.Lock()
	defer r.mu.Unlock()
	return copyBooking(r.bookings[id])
}

func (r *memoryBookingRepo) Create(ctx context.Context, booking *domain.Booking) error {
	if r.CreateFunc != nil {
		return r.CreateFunc(ctx, booking)
	}
	r.put(booking)
	return nil
}

func (r *memoryBookingRepo) GetByID(ctx context.Context, id string) (*domain.Booking, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.bookings[id]
	if !ok {
		return nil, domain.ErrBookingNotFound
	}
	return copyBooking(b), nil
}

func (r *memoryBookingRepo) ListByUser(ctx context.Context, userID string, limit, offset int) ([]*domain.Booking, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.Booking
	for _, b := range r.bookings {
		if b.UserID == userID {
			out = append(out, copyBooking(b))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if offset >= len(out) {
		return []*domain.Booking{}, nil
	}
	end := offset + limit
	if end > len(out) {
		end = len(out)
	}
	return out[offset:end], nil
}

func (r *memoryBookingRepo) CountByUser(ctx context.Context, userID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, b := range r.bookings {
		if b.UserID == userID {
			n++
		}
	}
	return n, nil
}

func (r *memoryBookingRepo) Transition(ctx context.Context, id string, from []domain.BookingStatus, to domain.BookingStatus, reason domain.StatusReason) (*repository.TransitionResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.bookings[id]
	if !ok {
		return nil, domain.ErrBookingNotFound
	}
	for _, st := range from {
		if b.Status == st {
			b.Status = to
			b.StatusReason = reason
			b.HoldExpiry = nil
			if to == domain.BookingStatusRefunded {
				b.Payment.Status = domain.PaymentStatusRefunded
			}
			return &repository.TransitionResult{Applied: true, Booking: copyBooking(b)}, nil
		}
	}
	return &repository.TransitionResult{Applied: false, Booking: copyBooking(b)}, nil
}

func (r *memoryBookingRepo) Confirm(ctx context.Context, id string, p repository.ConfirmParams) (*repository.TransitionResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.bookings[id]
	if !ok {
		return nil, domain.ErrBookingNotFound
	}
	if b.Status != domain.BookingStatusPending || b.HoldExpiry == nil || !b.HoldExpiry.After(p.PaidAt) {
		return &repository.TransitionResult{Applied: false, Booking: copyBooking(b)}, nil
	}
	r.confirms.Add(1)
	paidAt := p.PaidAt
	priorOrderID := b.Payment.OrderID
	b.Status = domain.BookingStatusConfirmed
	b.StatusReason = domain.ReasonPaymentSettled
	b.HoldExpiry = nil
	b.Payment = domain.Payment{
		Provider:  p.Provider,
		PaymentID: p.PaymentID,
		OrderID:   p.OrderID,
		Method:    p.Method,
		Status:    domain.PaymentStatusCompleted,
		PaidAt:    &paidAt,
	}
	if p.OrderID == "" {
		b.Payment.OrderID = priorOrderID
	}
	if !p.Attendee.IsZero() {
		b.Attendee = p.Attendee
	}
	return &repository.TransitionResult{Applied: true, Booking: copyBooking(b)}, nil
}

func (r *memoryBookingRepo) AttachPaymentOrder(ctx context.Context, id, provider, orderID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.bookings[id]
	if !ok {
		return domain.ErrBookingNotFound
	}
	if b.Status != domain.BookingStatusPending {
		return domain.ErrBookingNotPending
	}
	b.Payment.Provider = provider
	b.Payment.OrderID = orderID
	b.Payment.Status = domain.PaymentStatusPending
	return nil
}

func (r *memoryBookingRepo) FindByPaymentOrder(ctx context.Context, provider, orderID string) (*domain.Booking, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, b := range r.bookings {
		if b.Payment.Provider == provider && b.Payment.OrderID == orderID {
			return copyBooking(b), nil
		}
	}
	return nil, domain.ErrBookingNotFound
}

func (r *memoryBookingRepo) MarkPaymentFailed(ctx context.Context, id, provider, paymentID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.bookings[id]
	if !ok {
		return domain.ErrBookingNotFound
	}
	if b.Status != domain.BookingStatusPending {
		return domain.ErrBookingNotPending
	}
	b.Payment.Provider = provider
	if paymentID != "" {
		b.Payment.PaymentID = paymentID
	}
	b.Payment.Status = domain.PaymentStatusFailed
	return nil
}

func (r *memoryBookingRepo) ListExpiredPending(ctx context.Context, now time.Time, limit int) ([]*domain.Booking, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.Booking
	for _, b := range r.bookings {
		if b.Status == domain.BookingStatusPending && b.HoldExpiry != nil && !b.HoldExpiry.After(now) {
			out = append(out, copyBooking(b))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].HoldExpiry.Before(*out[j].HoldExpiry) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// recordingPublisher counts published booking events by type
type recordingPublisher struct {
	mu     sync.Mutex
	events []domain.BookingEventType
}

func (p *recordingPublisher) add(t domain.BookingEventType) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, t)
	return nil
}

func (p *recordingPublisher) count(t domain.BookingEventType) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, e := range p.events {
		if e == t {
			n++
		}
	}
	return n
}

func (p *recordingPublisher) Publish(ctx context.Context, eventType domain.BookingEventType, b *domain.Booking) error {
	return p.add(eventType)
}
func (p *recordingPublisher) Close() error { return nil }

// recordingBroadcaster keeps every published message
type recordingBroadcaster struct {
	mu       sync.Mutex
	messages []*broadcast.Message
}

func (b *recordingBroadcaster) Publish(ctx context.Context, msg *broadcast.Message) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.messages = append(b.messages, msg)
	return nil
}

func (b *recordingBroadcaster) Close() error { return nil }

func (b *recordingBroadcaster) ofType(t string) []*broadcast.Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []*broadcast.Message
	for _, m := range b.messages {
		if m.Type == t {
			out = append(out, m)
		}
	}
	return out
}

// mockNotifier records confirmations
type mockNotifier struct {
	mu    sync.Mutex
	sent  []notifier.Confirmation
	Error error
}

func (n *mockNotifier) NotifyBookingConfirmed(ctx context.Context, c notifier.Confirmation) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, c)
	return n.Error
}

func (n *mockNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.sent)
}

// mockOrderGateway is a hand-written OrderGateway
type mockOrderGateway struct {
	CreateOrderFunc  func(ctx context.Context, req *gateway.OrderRequest) (*gateway.Order, error)
	FetchPaymentFunc func(ctx context.Context, paymentID string) (*gateway.PaymentInfo, error)
	VerifyFunc       func(orderID, paymentID, signature string) bool
	CreateQRCodeFunc func(ctx context.Context, req *gateway.QRCodeRequest) (*gateway.QRCode, error)
	RefundFunc       func(ctx context.Context, paymentID string, amount int64) error
	createCalls      atomic.Int64
	fetchCalls       atomic.Int64
	refundCalls      atomic.Int64
}

func (m *mockOrderGateway) Name() string  { return domain.ProviderRazorpay }
func (m *mockOrderGateway) KeyID() string { return "rzp_test_key" }

func (m *mockOrderGateway) CreateOrder(ctx context.Context, req *gateway.OrderRequest) (*gateway.Order, error) {
	m.createCalls.Add(1)
	if m.CreateOrderFunc != nil {
		return m.CreateOrderFunc(ctx, req)
	}
	return &gateway.Order{ID: "order_1", Amount: req.Amount, Currency: req.Currency, Receipt: req.Receipt, Status: "created"}, nil
}

func (m *mockOrderGateway) FetchPayment(ctx context.Context, paymentID string) (*gateway.PaymentInfo, error) {
	m.fetchCalls.Add(1)
	return m.FetchPaymentFunc(ctx, paymentID)
}

func (m *mockOrderGateway) VerifyPaymentSignature(orderID, paymentID, signature string) bool {
	if m.VerifyFunc != nil {
		return m.VerifyFunc(orderID, paymentID, signature)
	}
	return gateway.VerifyHex(testOrderSecret, []byte(orderID+"|"+paymentID), signature)
}

func (m *mockOrderGateway) CreateQRCode(ctx context.Context, req *gateway.QRCodeRequest) (*gateway.QRCode, error) {
	if m.CreateQRCodeFunc != nil {
		return m.CreateQRCodeFunc(ctx, req)
	}
	return &gateway.QRCode{ID: "qr_1", ImageURL: "https://rzp.io/i/qr1", PaymentAmount: req.Amount, Status: "active"}, nil
}

func (m *mockOrderGateway) Refund(ctx context.Context, paymentID string, amount int64) error {
	m.refundCalls.Add(1)
	if m.RefundFunc != nil {
		return m.RefundFunc(ctx, paymentID, amount)
	}
	return nil
}

func (m *mockOrderGateway) ParseWebhook(payload []byte, signature, eventID string) (*gateway.WebhookEvent, error) {
	return nil, gateway.ErrInvalidWebhookSignature
}

// mockIntentGateway is a hand-written IntentGateway
type mockIntentGateway struct {
	CreateIntentFunc func(ctx context.Context, req *gateway.IntentRequest) (*gateway.Intent, error)
	GetIntentFunc    func(ctx context.Context, intentID string) (*gateway.Intent, error)
	RefundFunc       func(ctx context.Context, intentID string, amount int64) error
	refundCalls      atomic.Int64
}

func (m *mockIntentGateway) Name() string           { return domain.ProviderStripe }
func (m *mockIntentGateway) PublishableKey() string { return "pk_test" }

func (m *mockIntentGateway) CreateIntent(ctx context.Context, req *gateway.IntentRequest) (*gateway.Intent, error) {
	if m.CreateIntentFunc != nil {
		return m.CreateIntentFunc(ctx, req)
	}
	return &gateway.Intent{ID: "pi_1", ClientSecret: "pi_1_secret", Amount: req.Amount, Currency: req.Currency, Status: gateway.IntentStatusRequiresPaymentMethod, Metadata: req.Metadata}, nil
}

func (m *mockIntentGateway) GetIntent(ctx context.Context, intentID string) (*gateway.Intent, error) {
	return m.GetIntentFunc(ctx, intentID)
}

func (m *mockIntentGateway) Refund(ctx context.Context, intentID string, amount int64) error {
	m.refundCalls.Add(1)
	if m.RefundFunc != nil {
		return m.RefundFunc(ctx, intentID, amount)
	}
	return nil
}

func (m *mockIntentGateway) ParseWebhook(payload []byte, signatureHeader string) (*gateway.WebhookEvent, error) {
	return nil, gateway.ErrInvalidWebhookSignature
}

const testOrderSecret = "rzp_test_secret"

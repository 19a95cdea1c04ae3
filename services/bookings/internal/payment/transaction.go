// Package payment drives one checkout attempt from method selection to a
// pass/fail outcome. A Transaction is user-paced: nothing advances unless the
// caller asks, and nothing is retried on its own.
package payment

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/diagnosis/campus-bookings/pkg/logger"
	"github.com/diagnosis/campus-bookings/services/bookings/internal/domain"
	"github.com/google/uuid"
)

type Method string

const (
	MethodMobileMoney Method = "mobile_money"
	MethodCard        Method = "card"
)

func ParseMethod(s string) (Method, bool) {
	switch Method(s) {
	case MethodMobileMoney, MethodCard:
		return Method(s), true
	}
	return "", false
}

type Step string

const (
	StepSelect      Step = "select"
	StepMomoDetails Step = "momo_details"
	StepCardDetails Step = "card_details"
	StepProcessing  Step = "processing"
	StepSuccess     Step = "success"
	StepFailed      Step = "failed"
)

func detailsStep(m Method) Step {
	if m == MethodCard {
		return StepCardDetails
	}
	return StepMomoDetails
}

var (
	ErrInvalidStep = errors.New("action not available at this payment step")
	ErrModal       = errors.New("payment in progress; finish or choose retry or another method first")
	ErrAbandoned   = errors.New("payment sheet was closed")
	ErrClosed      = errors.New("payment sheet is closed")
	ErrBusy        = errors.New("a payment for this booking is being processed")
)

type MomoDetails struct {
	Network string `json:"network"`
	Phone   string `json:"phone"`
}

type CardDetails struct {
	HolderName string `json:"holder_name"`
	Number     string `json:"number"`
	Expiry     string `json:"expiry"`
	CVV        string `json:"cvv"`
}

// Receipt is handed to the success callback once per Open.
type Receipt struct {
	SheetID   string
	Reference string
	Amount    float64
	Label     string
	Method    Method
	PaidAt    time.Time
}

type SuccessFunc func(ctx context.Context, r Receipt) error

type Option func(*Transaction)

// WithConfirmDelay sets the pause between showing success and calling back.
func WithConfirmDelay(d time.Duration) Option {
	return func(t *Transaction) { t.confirmDelay = d }
}

func WithCurrency(c string) Option {
	return func(t *Transaction) { t.currency = c }
}

func WithClock(now func() time.Time) Option {
	return func(t *Transaction) { t.now = now }
}

type Transaction struct {
	mu sync.Mutex

	id           string
	gateway      Gateway
	currency     string
	confirmDelay time.Duration
	now          func() time.Time

	amount    float64
	label     string
	onSuccess SuccessFunc
	metadata  map[string]string

	step      Step
	method    Method
	momo      MomoDetails
	card      CardDetails
	fieldErr  *domain.FieldError
	failure   string
	reference string
	attempts  int
	closed    bool
	// generation changes on every Open and Abandon so a gateway call that
	// resolves afterwards can tell its sheet is gone.
	generation uint64
}

func NewTransaction(gateway Gateway, opts ...Option) *Transaction {
	t := &Transaction{
		id:       uuid.NewString(),
		gateway:  gateway,
		currency: "GHS",
		now:      time.Now,
		step:     StepSelect,
		closed:   true,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *Transaction) ID() string {
	return t.id
}

// Open resets every field and shows method selection for amount and label.
// The amount is taken as given; pricing belongs to the caller.
func (t *Transaction) Open(amount float64, label string, metadata map[string]string, onSuccess SuccessFunc) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.amount = amount
	t.label = label
	t.metadata = metadata
	t.onSuccess = onSuccess
	t.step = StepSelect
	t.method = ""
	t.momo = MomoDetails{}
	t.card = CardDetails{}
	t.fieldErr = nil
	t.failure = ""
	t.reference = ""
	t.attempts = 0
	t.closed = false
	t.generation++
}

// ChooseMethod enters the details step for m. Picking a method drops any
// half-typed input for the other one.
func (t *Transaction) ChooseMethod(m Method) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return ErrClosed
	}
	switch t.step {
	case StepSelect, StepMomoDetails, StepCardDetails:
	default:
		return fmt.Errorf("%w: choose method from %s", ErrInvalidStep, t.step)
	}
	if _, ok := ParseMethod(string(m)); !ok {
		return domain.NewFieldError("method", "Choose a payment method")
	}

	if m != t.method {
		t.momo = MomoDetails{}
		t.card = CardDetails{}
	}
	t.method = m
	t.step = detailsStep(m)
	t.fieldErr = nil
	return nil
}

func (t *Transaction) SetMomoDetails(d MomoDetails) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return ErrClosed
	}
	if t.step != StepMomoDetails {
		return fmt.Errorf("%w: momo details at %s", ErrInvalidStep, t.step)
	}
	t.momo = MomoDetails{Network: d.Network, Phone: FormatPhone(d.Phone)}
	t.fieldErr = nil
	return nil
}

func (t *Transaction) SetCardDetails(d CardDetails) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return ErrClosed
	}
	if t.step != StepCardDetails {
		return fmt.Errorf("%w: card details at %s", ErrInvalidStep, t.step)
	}
	t.card = CardDetails{
		HolderName: d.HolderName,
		Number:     FormatCardNumber(d.Number),
		Expiry:     FormatExpiry(d.Expiry),
		CVV:        formatCVV(d.CVV),
	}
	t.fieldErr = nil
	return nil
}

// Submit validates the active details and, when they pass, runs one
// authorization attempt. Validation failures return a *domain.FieldError and
// leave the step unchanged. A declined attempt is not an error: the sheet
// moves to StepFailed and Snapshot carries the message.
//
// On approval the success callback runs once, after the confirm delay, and
// its error (if any) is returned wrapped. The sheet then closes itself.
func (t *Transaction) Submit(ctx context.Context) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return ErrClosed
	}
	if t.step != StepMomoDetails && t.step != StepCardDetails {
		step := t.step
		t.mu.Unlock()
		return fmt.Errorf("%w: submit at %s", ErrInvalidStep, step)
	}
	if fe := Validate(t.method, t.momo, t.card); fe != nil {
		t.fieldErr = fe
		t.mu.Unlock()
		return fe
	}

	t.fieldErr = nil
	t.failure = ""
	t.step = StepProcessing
	t.attempts++
	gen := t.generation
	charge := Charge{
		Amount:   t.amount,
		Currency: t.currency,
		Label:    t.label,
		Method:   t.method,
		Network:  t.momo.Network,
		Phone:    t.momo.Phone,
		Metadata: t.metadata,
	}
	t.mu.Unlock()

	// The caller cannot cancel an authorization; a result arriving after
	// Abandon is discarded below.
	res, err := t.gateway.Authorize(context.WithoutCancel(ctx), charge)

	t.mu.Lock()
	if gen != t.generation || t.closed {
		t.mu.Unlock()
		return ErrAbandoned
	}
	if err != nil || !res.Approved {
		t.step = StepFailed
		t.failure = failureMessage(charge.Method)
		t.mu.Unlock()
		if err != nil {
			logger.WarnContext(ctx, "Payment gateway error", "sheet_id", t.id, "error", err)
		} else {
			logger.InfoContext(ctx, "Payment declined", "sheet_id", t.id, "reason", res.Reason)
		}
		return nil
	}

	t.step = StepSuccess
	t.reference = res.Reference
	receipt := Receipt{
		SheetID:   t.id,
		Reference: res.Reference,
		Amount:    t.amount,
		Label:     t.label,
		Method:    t.method,
		PaidAt:    t.now(),
	}
	onSuccess := t.onSuccess
	delay := t.confirmDelay
	t.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}

	var cbErr error
	if onSuccess != nil {
		cbErr = onSuccess(context.WithoutCancel(ctx), receipt)
	}

	t.mu.Lock()
	if gen == t.generation {
		t.closed = true
	}
	t.mu.Unlock()

	if cbErr != nil {
		return fmt.Errorf("record payment %s: %w", receipt.Reference, cbErr)
	}
	return nil
}

func failureMessage(m Method) string {
	if m == MethodCard {
		return "Your card payment could not be completed. Check the card details or try another card."
	}
	return "Mobile money payment was not completed. Approve the prompt on your phone or check your balance and try again."
}

// Retry returns a failed sheet to the same details step with input intact.
func (t *Transaction) Retry() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return ErrClosed
	}
	if t.step != StepFailed {
		return fmt.Errorf("%w: retry at %s", ErrInvalidStep, t.step)
	}
	t.step = detailsStep(t.method)
	t.failure = ""
	return nil
}

// SwitchMethod returns a failed sheet to method selection.
func (t *Transaction) SwitchMethod() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return ErrClosed
	}
	if t.step != StepFailed {
		return fmt.Errorf("%w: switch method at %s", ErrInvalidStep, t.step)
	}
	t.step = StepSelect
	t.method = ""
	t.momo = MomoDetails{}
	t.card = CardDetails{}
	t.failure = ""
	return nil
}

// Close dismisses the sheet. Only method selection can be dismissed; every
// other step is modal until it reaches an outcome.
func (t *Transaction) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil
	}
	if t.step != StepSelect {
		return ErrModal
	}
	t.closed = true
	return nil
}

// Abandon drops the sheet regardless of step, as when the screen goes away.
// An authorization still in flight is not cancelled; its result is ignored.
func (t *Transaction) Abandon() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.closed = true
	t.generation++
}

// Discard closes the sheet so it can be replaced, unless a charge is in
// flight or an approved one has not been recorded yet. Those report ErrBusy
// and leave the sheet untouched.
func (t *Transaction) Discard() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.step == StepProcessing || (t.step == StepSuccess && !t.closed) {
		return ErrBusy
	}
	t.closed = true
	t.generation++
	return nil
}

// Snapshot is a read-only view safe to render or serialise. Card numbers are
// masked and the CVV is never included.
type Snapshot struct {
	ID         string             `json:"id"`
	Amount     float64            `json:"amount"`
	Label      string             `json:"label"`
	Step       Step               `json:"step"`
	Method     Method             `json:"method,omitempty"`
	Network    string             `json:"network,omitempty"`
	Phone      string             `json:"phone,omitempty"`
	CardHolder string             `json:"card_holder,omitempty"`
	CardNumber string             `json:"card_number,omitempty"`
	Expiry     string             `json:"expiry,omitempty"`
	FieldError *domain.FieldError `json:"field_error,omitempty"`
	Failure    string             `json:"failure,omitempty"`
	Reference  string             `json:"reference,omitempty"`
	Attempts   int                `json:"attempts"`
	Closed     bool               `json:"closed"`
}

func (t *Transaction) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	return Snapshot{
		ID:         t.id,
		Amount:     t.amount,
		Label:      t.label,
		Step:       t.step,
		Method:     t.method,
		Network:    t.momo.Network,
		Phone:      t.momo.Phone,
		CardHolder: t.card.HolderName,
		CardNumber: maskCard(t.card.Number),
		Expiry:     t.card.Expiry,
		FieldError: t.fieldErr,
		Failure:    t.failure,
		Reference:  t.reference,
		Attempts:   t.attempts,
		Closed:     t.closed,
	}
}

func (t *Transaction) Step() Step {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.step
}

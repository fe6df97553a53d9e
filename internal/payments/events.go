package payments

// EventKind is the closed set of payment-processor event types the bridge
// understands. Anything else parses to EventUnknown and is acknowledged
// without being applied.
type EventKind string

const (
	EventCheckoutCompleted   EventKind = "checkout.session.completed"
	EventPaymentSucceeded    EventKind = "payment_intent.succeeded"
	EventPaymentFailed       EventKind = "payment_intent.payment_failed"
	EventInvoiceSucceeded    EventKind = "invoice.payment_succeeded"
	EventInvoiceFailed       EventKind = "invoice.payment_failed"
	EventSubscriptionDeleted EventKind = "customer.subscription.deleted"
	EventPayoutPaid          EventKind = "payout.paid"
	EventPayoutFailed        EventKind = "payout.failed"
	EventUnknown             EventKind = ""
)

// ParseEventKind maps the wire type onto the closed enum.
func ParseEventKind(s string) EventKind {
	switch EventKind(s) {
	case EventCheckoutCompleted, EventPaymentSucceeded, EventPaymentFailed,
		EventInvoiceSucceeded, EventInvoiceFailed, EventSubscriptionDeleted,
		EventPayoutPaid, EventPayoutFailed:
		return EventKind(s)
	}
	return EventUnknown
}

// event is the envelope the processor delivers.
type event struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object eventObject `json:"object"`
	} `json:"data"`
}

// eventObject carries the fields the bridge consumes. Amount is in the
// currency's minor unit (cents).
type eventObject struct {
	ID             string            `json:"id"`
	Amount         int64             `json:"amount"`
	Currency       string            `json:"currency"`
	Metadata       map[string]string `json:"metadata"`
	FailureMessage string            `json:"failure_message"`
}

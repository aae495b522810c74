package events

// Topic constants for domain events emitted by the checkout flow.
const (
	TopicAuthorizationCreated = "authorization.created"
	TopicOrderPaid            = "order.paid"
	TopicPaymentFailed        = "payment.failed"
)

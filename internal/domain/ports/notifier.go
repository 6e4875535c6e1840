package ports

import "context"

// NotificationEvent identifies what happened to the subscription
type NotificationEvent string

const (
	EventSubscriptionCreated   NotificationEvent = "subscription_created"
	EventSubscriptionCancelled NotificationEvent = "subscription_cancelled"
	EventSubscriptionUpgraded  NotificationEvent = "subscription_upgraded"
	EventSubscriptionRenewed   NotificationEvent = "subscription_renewed"
	EventSubscriptionExpired   NotificationEvent = "subscription_expired"
	EventPaymentFailed         NotificationEvent = "payment_failed"
	EventPaymentRetryScheduled NotificationEvent = "payment_retry_scheduled"
	EventExpiringSoon          NotificationEvent = "subscription_expiring_soon"
	EventTrialEndingSoon       NotificationEvent = "trial_ending_soon"
	EventAdminAlert            NotificationEvent = "admin_alert"
)

// Notification is one message to a user or the admin channel
type Notification struct {
	Event  NotificationEvent
	UserID string
	Data   map[string]string
}

// Notifier delivers notifications. Delivery is fire-and-forget from the
// caller's point of view; failures must not fail the business operation.
type Notifier interface {
	Send(ctx context.Context, n Notification)
}

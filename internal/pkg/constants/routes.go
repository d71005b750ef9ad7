package constants

// Static route constants
const (
	WebhookRoute         = "/webhook"
	CheckoutSessionRoute = "/create-checkout-session"
	PingRoute            = "/ping"
	MetricsRoute         = "/metrics"
	AdminRoute           = "/admin"
	EntitlementRoute     = "/entitlements/:userId"
)

package eventstream

import "strings"

// SubscriptionPrefix starts every subscription name this package creates.
const SubscriptionPrefix = "sub_"

// normalize replaces the reserved ':' separator so DIDs are valid broker resource names.
func normalize(s string) string {
	return strings.ReplaceAll(s, ":", "_")
}

// TopicName returns the per-tenant topic name.
func TopicName(tenant string) string {
	return normalize(tenant + "_events")
}

// SubscriptionName returns the broker subscription name for one listener of a tenant.
func SubscriptionName(tenant, id string) string {
	return normalize(SubscriptionPrefix + tenant + "_" + id)
}

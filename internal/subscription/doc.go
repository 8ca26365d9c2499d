// Package subscription drives the per-monitor event subscription lifecycle:
// establishing subscriptions with reference-id callback addresses, renewing
// them on a fixed period strictly before the lease runs out, and tearing
// them down on shutdown.
package subscription

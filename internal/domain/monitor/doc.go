// Package monitor holds the registry data model: monitors, their event
// subscriptions, and alarm-event bookkeeping shared between the subscription
// manager and the alarm dispatcher.
package monitor

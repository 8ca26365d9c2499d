// Package notify mirrors motion transitions to external feeds.
//
// The only implementation is an MQTT notifier publishing per-monitor motion
// state and a retained last-motion timestamp. It plugs into the dispatcher's
// optional publisher hook and is entirely best-effort: a broker outage never
// delays or fails alarm handling.
package notify

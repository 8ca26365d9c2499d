// Package watcher assembles and runs the event watcher daemon: monitor
// registry, camera subscriptions, the notification listener, lease renewal,
// and the alarm dispatcher, torn down in order on shutdown.
package watcher

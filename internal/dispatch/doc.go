// Package dispatch turns parsed motion notifications into alarm transitions
// on the surveillance platform: open on motion start, close-then-cancel on
// motion stop with a race-safe, bounded wait for the platform to confirm the
// close was not superseded by a newer alarm.
package dispatch

// Package trigger implements the surveillance platform boundary: alarm
// open/close/cancel commands over ZoneMinder's zmtrigger TCP channel, alarm
// state reads over the ZoneMinder JSON API, and an alternate mode that hands
// transitions to an operator-supplied external script. The platform remains
// authoritative for the real alarm state; this package only forwards commands
// and reads.
package trigger

// Package onvif implements the slice of WS-BaseNotification this daemon
// needs: Subscribe/Renew/Unsubscribe envelopes with ISO-8601 lease durations,
// parsing of inbound Notify callbacks, and an HTTP client for camera event
// services. It is deliberately not a full SOAP stack.
package onvif

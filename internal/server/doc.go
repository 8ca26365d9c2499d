// Package server is the HTTP landing zone for camera event callbacks.
//
// Every subscription created for a monitor embeds a consumer address of the
// form /ref_<id>/ on this listener. The server maps the reference id back to
// the monitor, parses the WS-BaseNotification payload, and hands each motion
// transition to the dispatcher. Cameras always get a 200 back; anything
// unexpected is logged, never surfaced to the camera.
package server

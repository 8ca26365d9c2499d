// Package registry owns the active monitor set: it filters configured
// monitors to those with usable event endpoints and validated trigger
// channels, and resolves callback reference ids back to monitors.
package registry

// Package config loads, validates, and persists the daemon's YAML settings:
// the notification server socket, subscription lease parameters, the trigger
// delivery mode (zmtrigger + API, or an external script), an optional MQTT
// mirror, and the monitor list.
package config

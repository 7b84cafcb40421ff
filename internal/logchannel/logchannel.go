// Package logchannel holds the naming contract shared by build containers (publishers) and
// the relay (subscriber). A build with id X publishes every log line on channel "logs:X".
package logchannel

import "strings"

const (
	// Prefix starts every build log channel name.
	Prefix = "logs:"
	// Pattern matches every build log channel.
	Pattern = Prefix + "*"
)

// Name returns the channel a build publishes its logs on.
func Name(buildID string) string {
	return Prefix + buildID
}

// BuildID extracts the build identifier from a channel name.
func BuildID(channel string) (string, bool) {
	if !strings.HasPrefix(channel, Prefix) {
		return "", false
	}
	id := strings.TrimPrefix(channel, Prefix)
	if id == "" {
		return "", false
	}
	return id, true
}

package protocol

import (
	"strings"
)

// Compact-generation topics.
const (
	TopicCompactCommand   = "a/r/c"
	TopicCompactHeartbeat = "a/r/hb"
	TopicCompactAlert     = "a/r/al"
	TopicCompactStatus    = "a/r/st"
	TopicCompactResponse  = "a/r/rsp"
	TopicConfigSubmit     = "a/c/cs"
	TopicConfigQuery      = "a/c/cq"
	TopicConfigUpdate     = "a/c/cu"

	// TopicStatePrefix is followed by the numeric device id, e.g. "a/c/s/7".
	// Messages on it are retained by the broker.
	TopicStatePrefix = "a/c/s/"
)

// Legacy-generation topics.
const (
	TopicLegacyCommand   = "alimentador/remota/comando"
	TopicLegacyHeartbeat = "alimentador/remota/heartbeat"
	TopicLegacyAlert     = "alimentador/remota/alerta_racao"
	TopicLegacyStatus    = "alimentador/remota/status"
	TopicLegacyResponse  = "alimentador/remota/resposta"
)

// Topic roots accepted for manually published messages.
const (
	rootCompact = "a/"
	rootLegacy  = "alimentador/"
)

// =============================================================================
// Builders
// =============================================================================

// StateTopic returns the retained full-state topic for a device.
//
// Example: StateTopic("007") returns "a/c/s/7".
func StateTopic(deviceID string) string {
	n, err := DeviceNumber(deviceID)
	if err != nil {
		return TopicStatePrefix + deviceID
	}
	return TopicStatePrefix + itoa(n)
}

// CommandTopic returns the command topic for a protocol generation.
func CommandTopic(gen Generation) string {
	if gen == GenerationCompact {
		return TopicCompactCommand
	}
	return TopicLegacyCommand
}

// Subscriptions returns every inbound topic pattern of both generations.
// Command topics are outbound only and are not included.
func Subscriptions() []string {
	return []string{
		TopicCompactHeartbeat,
		TopicCompactAlert,
		TopicCompactStatus,
		TopicCompactResponse,
		TopicConfigUpdate,
		TopicStatePrefix + "+",
		TopicLegacyHeartbeat,
		TopicLegacyAlert,
		TopicLegacyStatus,
		TopicLegacyResponse,
	}
}

// IsFeederTopic reports whether topic belongs to either generation's tree.
func IsFeederTopic(topic string) bool {
	return strings.HasPrefix(topic, rootCompact) || strings.HasPrefix(topic, rootLegacy)
}

// stateTopicID extracts the id suffix from a full-state topic.
func stateTopicID(topic string) (string, bool) {
	if !strings.HasPrefix(topic, TopicStatePrefix) {
		return "", false
	}
	id := strings.TrimPrefix(topic, TopicStatePrefix)
	if id == "" || strings.Contains(id, "/") {
		return "", false
	}
	return id, true
}

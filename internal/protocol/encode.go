package protocol

import (
	"encoding/json"
	"fmt"
)

// Text command codes understood by both generations.
const (
	codeStatus = "STATUS"
	codeStop   = "STOP"
	codePing   = "PING"
)

// Message is an outbound bus message ready to publish.
type Message struct {
	Topic    string
	Payload  []byte
	Retained bool
}

type feedPayload struct {
	Action   string `json:"acao"`
	Seconds  int    `json:"tempo"`
	DeviceID int    `json:"remota_id"`
}

type configSubmitPayload struct {
	DeviceID int `json:"r"`
	Index    int `json:"i"`
	Hour     int `json:"h"`
	Minute   int `json:"m"`
	Portion  int `json:"q"`
}

type configQueryPayload struct {
	DeviceID int `json:"r"`
}

// Encode renders cmd for a device speaking gen.
//
// It returns ErrValidation for out-of-range fields and ErrUnsupported when
// the generation has no encoding for the command. Encode does not check
// whether the device exists or is connected.
func Encode(cmd Command, deviceID string, gen Generation) (Message, error) {
	if cmd == nil {
		return Message{}, fmt.Errorf("%w: nil command", ErrValidation)
	}
	if err := cmd.Validate(); err != nil {
		return Message{}, err
	}
	n, err := DeviceNumber(deviceID)
	if err != nil {
		return Message{}, err
	}
	if gen != GenerationCompact && gen != GenerationLegacy {
		return Message{}, fmt.Errorf("%w: generation %q", ErrUnsupported, gen)
	}

	switch c := cmd.(type) {
	case FeedNow:
		return encodeFeed(FeedSeconds(c.PortionGrams), n, gen)
	case TestActuator:
		return encodeFeed(1, n, gen)
	case RequestStatus:
		return textMessage(gen, codeStatus), nil
	case Stop:
		return textMessage(gen, codeStop), nil
	case Ping:
		return textMessage(gen, codePing), nil
	case UpdateSchedule:
		if gen != GenerationCompact {
			return Message{}, fmt.Errorf("%w: %s", ErrUnsupported, c.Name())
		}
		return jsonMessage(TopicConfigSubmit, configSubmitPayload{
			DeviceID: n,
			Index:    c.Index,
			Hour:     c.Hour,
			Minute:   c.Minute,
			Portion:  c.PortionGrams,
		})
	case QueryConfig:
		if gen != GenerationCompact {
			return Message{}, fmt.Errorf("%w: %s", ErrUnsupported, c.Name())
		}
		return jsonMessage(TopicConfigQuery, configQueryPayload{DeviceID: n})
	default:
		return Message{}, fmt.Errorf("%w: command %T", ErrUnsupported, cmd)
	}
}

func encodeFeed(seconds, deviceNumber int, gen Generation) (Message, error) {
	seconds = min(seconds, MaxFeedSeconds)
	if gen == GenerationLegacy {
		return textMessage(gen, "a"+itoa(seconds)), nil
	}
	return jsonMessage(TopicCompactCommand, feedPayload{
		Action:   "alimentar",
		Seconds:  seconds,
		DeviceID: deviceNumber,
	})
}

func textMessage(gen Generation, code string) Message {
	return Message{Topic: CommandTopic(gen), Payload: []byte(code)}
}

func jsonMessage(topic string, v any) (Message, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return Message{}, fmt.Errorf("marshalling %s payload: %w", topic, err)
	}
	return Message{Topic: topic, Payload: payload}, nil
}

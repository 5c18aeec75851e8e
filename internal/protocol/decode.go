package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// rawKey holds the text of a body that was not a JSON object.
const rawKey = "raw"

// Decode converts one bus message into a canonical Event.
//
// Decode never fails: anything it cannot interpret becomes Unrecognized.
// A body that is not a JSON object is wrapped as {"raw": <text>} and routed
// to the topic's decoder anyway, so a device sending text on a JSON topic
// is still seen.
func Decode(topic string, payload []byte) Event {
	f := parseFields(payload)

	switch topic {
	case TopicCompactHeartbeat:
		return decodeCompactHeartbeat(topic, payload, f)
	case TopicLegacyHeartbeat:
		return decodeLegacyHeartbeat(topic, payload, f)
	case TopicCompactAlert, TopicLegacyAlert:
		return decodeAlert(topic, payload, f)
	case TopicConfigUpdate:
		return decodeScheduleChanged(topic, payload, f)
	case TopicLegacyStatus:
		return decodeLegacyStatus(topic, payload, f)
	case TopicCompactStatus:
		return decodeCompactStatus(topic, payload, f)
	case TopicLegacyResponse:
		return decodeFeedResponse(topic, payload, f, GenerationLegacy)
	case TopicCompactResponse:
		return decodeFeedResponse(topic, payload, f, GenerationCompact)
	}

	if id, ok := stateTopicID(topic); ok {
		return decodeFullState(topic, payload, id, f)
	}

	return Unrecognized{Topic: topic, Raw: payload, Reason: ReasonUnknownTopic}
}

func malformed(topic string, payload []byte, format string, args ...any) Unrecognized {
	return Unrecognized{
		Topic:  topic,
		Raw:    payload,
		Reason: ReasonMalformed,
		Detail: fmt.Sprintf(format, args...),
	}
}

// =============================================================================
// Variant decoders
// =============================================================================

// decodeCompactHeartbeat handles {"s":1,"i":1,"r":-45,"a":0,"t":0}.
func decodeCompactHeartbeat(topic string, payload []byte, f fields) Event {
	id, err := f.deviceID("i")
	if err != nil {
		return malformed(topic, payload, "heartbeat id: %v", err)
	}
	hb := Heartbeat{
		DeviceID:   id,
		Generation: GenerationCompact,
		Feeding:    f.flag("a"),
		Locked:     f.flag("t"),
	}
	if rssi, ok := f.int("r"); ok {
		hb.RSSI = &rssi
	}
	return hb
}

// decodeLegacyHeartbeat handles {"remota_id":1,"wifi_rssi":-50,"status":"ALIVE"}.
func decodeLegacyHeartbeat(topic string, payload []byte, f fields) Event {
	id, err := f.deviceID("remota_id")
	if err != nil {
		return malformed(topic, payload, "heartbeat id: %v", err)
	}
	hb := Heartbeat{DeviceID: id, Generation: GenerationLegacy}
	if rssi, ok := f.int("wifi_rssi"); ok {
		hb.RSSI = &rssi
	}
	return hb
}

// decodeAlert handles both alert topics. The payload shape, not the topic,
// selects the format, matching what the central unit accepts.
//
//	compact: {"i":1,"n":1,"d":12.5}
//	legacy:  {"remota_id":1,"nivel":"BAIXO","distancia":12.5}
//	text:    RACAO_BAIXA | RACAO_OK
func decodeAlert(topic string, payload []byte, f fields) Event {
	switch {
	case f.has("i") || f.has("n"):
		id, err := f.deviceID("i")
		if err != nil {
			return malformed(topic, payload, "alert id: %v", err)
		}
		level, _ := f.int("n")
		distance, _ := f.float("d")
		return LowFoodAlert{DeviceID: id, Generation: GenerationCompact, Low: level == 1, DistanceCM: distance}

	case f.has("nivel"):
		id, err := f.deviceID("remota_id")
		if err != nil {
			return malformed(topic, payload, "alert id: %v", err)
		}
		distance, _ := f.float("distancia")
		return LowFoodAlert{
			DeviceID:   id,
			Generation: GenerationLegacy,
			Low:        strings.EqualFold(f.str("nivel"), "BAIXO"),
			DistanceCM: distance,
		}

	case f.isRaw():
		if low, ok := classifyAlertText(f.str(rawKey)); ok {
			return LegacyAlert{DeviceID: FallbackDeviceID, Low: low}
		}
	}
	return malformed(topic, payload, "alert payload has no level")
}

// classifyAlertText maps the plain-text alert codes.
func classifyAlertText(text string) (low bool, ok bool) {
	t := strings.TrimSpace(text)
	switch {
	case strings.EqualFold(t, "RACAO_BAIXA"), strings.Contains(strings.ToLower(t), "baixo"):
		return true, true
	case strings.EqualFold(t, "RACAO_OK"):
		return false, true
	}
	return false, false
}

// decodeScheduleChanged handles {"r":7,"i":0,"h":9,"m":15,"q":300,"o":"d"}.
// All numeric keys are required and range-checked.
func decodeScheduleChanged(topic string, payload []byte, f fields) Event {
	values := make(map[string]int, 5)
	for _, key := range []string{"r", "i", "h", "m", "q"} {
		v, ok := f.int(key)
		if !ok {
			return malformed(topic, payload, "change notification missing %q", key)
		}
		values[key] = v
	}

	id, err := FormatDeviceID(values["r"])
	if err != nil {
		return malformed(topic, payload, "change notification: %v", err)
	}
	if err := validateSlot(values["i"], values["h"], values["m"], values["q"]); err != nil {
		return malformed(topic, payload, "change notification: %v", err)
	}

	origin := OriginPanel
	if f.str("o") == "d" {
		origin = OriginDashboard
	}

	return ScheduleChanged{
		DeviceID:     id,
		Index:        values["i"],
		Hour:         values["h"],
		Minute:       values["m"],
		PortionGrams: values["q"],
		Origin:       origin,
	}
}

// decodeFullState handles {"o":1,"a":1,"f":[{"h":8,"m":0,"q":250,"u":"never"}]}.
// A missing or empty "f" is a device with no meals. One bad entry rejects
// the whole message so a schedule is never half-applied.
//
// A text body is routed as a presence-only state. An empty body is how a
// retained message is cleared and stays malformed.
func decodeFullState(topic string, payload []byte, rawID string, f fields) Event {
	id, err := NormalizeDeviceID(rawID)
	if err != nil {
		return malformed(topic, payload, "state topic: %v", err)
	}
	if f.isRaw() {
		if strings.TrimSpace(f.str(rawKey)) == "" {
			return malformed(topic, payload, "state payload is empty")
		}
		return FullState{DeviceID: id, Online: true, TextOnly: true}
	}

	state := FullState{
		DeviceID: id,
		Online:   f.flag("o"),
		Active:   f.flag("a"),
	}

	list, present := f["f"]
	if !present || list == nil {
		return state
	}
	items, ok := list.([]any)
	if !ok {
		return malformed(topic, payload, "state \"f\" is not a list")
	}

	state.Meals = make([]MealEntry, 0, len(items))
	for i, item := range items {
		obj, ok := item.(map[string]any)
		if !ok {
			return malformed(topic, payload, "meal %d is not an object", i)
		}
		entry, err := decodeMeal(fields(obj))
		if err != nil {
			return malformed(topic, payload, "meal %d: %v", i, err)
		}
		if err := validateSlot(i, entry.Hour, entry.Minute, entry.PortionGrams); err != nil {
			return malformed(topic, payload, "meal %d: %v", i, err)
		}
		state.Meals = append(state.Meals, entry)
	}
	return state
}

func decodeMeal(f fields) (MealEntry, error) {
	var entry MealEntry
	var ok bool
	if entry.Hour, ok = f.int("h"); !ok {
		return entry, fmt.Errorf("missing \"h\"")
	}
	if entry.Minute, ok = f.int("m"); !ok {
		return entry, fmt.Errorf("missing \"m\"")
	}
	if entry.PortionGrams, ok = f.int("q"); !ok {
		return entry, fmt.Errorf("missing \"q\"")
	}
	entry.LastExecuted = f.str("u")
	if entry.LastExecuted == "" {
		entry.LastExecuted = NeverExecuted
	}
	return entry, nil
}

// decodeLegacyStatus handles {"status":"DISPONIVEL","timestamp":..} or raw text.
func decodeLegacyStatus(topic string, payload []byte, f fields) Event {
	id, err := f.deviceID("remota_id")
	if err != nil {
		return malformed(topic, payload, "status id: %v", err)
	}
	status := f.str("status")
	if status == "" {
		status = strings.TrimSpace(f.str(rawKey))
	}
	return LegacyStatus{DeviceID: id, Generation: GenerationLegacy, Status: status}
}

// decodeCompactStatus handles {"online":true,"timestamp":..}. Remotes that
// still send a status word or raw text are accepted too.
func decodeCompactStatus(topic string, payload []byte, f fields) Event {
	id, err := f.deviceID("i", "remota_id")
	if err != nil {
		return malformed(topic, payload, "status id: %v", err)
	}
	st := LegacyStatus{DeviceID: id, Generation: GenerationCompact}
	switch {
	case f.has("online"):
		st.Offline = !f.flag("online")
		st.Status = "ONLINE"
		if st.Offline {
			st.Status = "OFFLINE"
		}
	case f.has("status"):
		st.Status = f.str("status")
	default:
		st.Status = strings.TrimSpace(f.str(rawKey))
	}
	return st
}

// decodeFeedResponse handles both response shapes on either response topic:
//
//	legacy:  {"concluido":true,"tempo_segundos":5,"comando_id":"..."}
//	compact: {"c":1,"ts":5,"id":"ALIMENTAR_123456","t":123456}
//
// In the compact shape "id" is the command id, so the device id comes from
// "i" or "remota_id" only.
func decodeFeedResponse(topic string, payload []byte, f fields, gen Generation) Event {
	id, err := f.deviceID("i", "remota_id")
	if err != nil {
		return malformed(topic, payload, "response id: %v", err)
	}
	resp := LegacyFeedResponse{DeviceID: id, Generation: gen}
	switch {
	case f.has("c"):
		resp.Completed = f.flag("c")
		resp.DurationSeconds, _ = f.int("ts")
		resp.CommandID = f.str("id")
	case f.has("concluido"):
		resp.Completed = f.flag("concluido")
		resp.DurationSeconds, _ = f.int("tempo_segundos")
		resp.CommandID = f.str("comando_id")
	}
	return resp
}

// =============================================================================
// Field access
// =============================================================================

// fields is a decoded JSON object with lenient typed accessors.
type fields map[string]any

// parseFields decodes payload as a JSON object, wrapping anything else as
// {"raw": <text>}.
func parseFields(payload []byte) fields {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		dec := json.NewDecoder(bytes.NewReader(trimmed))
		dec.UseNumber()
		var obj map[string]any
		if err := dec.Decode(&obj); err == nil && obj != nil {
			return fields(obj)
		}
	}
	return fields{rawKey: string(payload)}
}

func (f fields) has(key string) bool {
	_, ok := f[key]
	return ok
}

// isRaw reports whether the body was wrapped text rather than an object.
func (f fields) isRaw() bool {
	if len(f) != 1 {
		return false
	}
	_, ok := f[rawKey].(string)
	return ok
}

// int reads an integral number. Numeric strings and booleans are accepted
// because firmware revisions disagree on quoting.
func (f fields) int(key string) (int, bool) {
	switch v := f[key].(type) {
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return int(n), true
		}
		if fl, err := v.Float64(); err == nil && fl == math.Trunc(fl) {
			return int(fl), true
		}
	case float64:
		if v == math.Trunc(v) {
			return int(v), true
		}
	case string:
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return n, true
		}
	case bool:
		if v {
			return 1, true
		}
		return 0, true
	}
	return 0, false
}

func (f fields) float(key string) (float64, bool) {
	switch v := f[key].(type) {
	case json.Number:
		if fl, err := v.Float64(); err == nil {
			return fl, true
		}
	case float64:
		return v, true
	case string:
		if fl, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			return fl, true
		}
	}
	return 0, false
}

// flag reads a 0/1, true/false or "ALIVE"-style truthy value.
func (f fields) flag(key string) bool {
	if n, ok := f.int(key); ok {
		return n != 0
	}
	switch strings.ToLower(f.str(key)) {
	case "true", "alive", "online":
		return true
	}
	return false
}

func (f fields) str(key string) string {
	switch v := f[key].(type) {
	case string:
		return v
	case json.Number:
		return v.String()
	case bool:
		return strconv.FormatBool(v)
	}
	return ""
}

// deviceID reads and normalises the first present id field, falling back
// to FallbackDeviceID when none is present.
func (f fields) deviceID(keys ...string) (string, error) {
	for _, key := range keys {
		if !f.has(key) {
			continue
		}
		if n, ok := f.int(key); ok {
			return FormatDeviceID(n)
		}
		return NormalizeDeviceID(f.str(key))
	}
	return FallbackDeviceID, nil
}

// Package protocol translates between the feeder bus wire formats and
// canonical Go values.
//
// Two firmware generations share one broker. Legacy devices publish verbose
// JSON (or plain text) under alimentador/remota/*. Compact devices and the
// central unit publish short-keyed JSON under a/*. Decode accepts either and
// returns an Event; Encode renders a Command for the generation the target
// device speaks.
//
// # Decoding
//
// Decode is total. It returns Unrecognized instead of an error for unknown
// topics and malformed payloads, so one bad message never stops the intake
// loop:
//
//	ev := protocol.Decode("a/r/hb", []byte(`{"s":1,"i":7,"r":-45}`))
//	hb := ev.(protocol.Heartbeat) // DeviceID "007", GenerationCompact
//
// Payloads without an identifier are attributed to FallbackDeviceID.
//
// # Encoding
//
//	msg, err := protocol.Encode(protocol.FeedNow{PortionGrams: 50}, "007", protocol.GenerationCompact)
//	// msg.Topic "a/r/c", msg.Payload {"acao":"alimentar","tempo":5,"remota_id":7}
//
// Schedule edits and config queries exist only in the compact generation.
package protocol

// Package mqtt provides the bus transport for the feeder core.
//
// This package manages:
//   - Connection to the broker with auto-reconnect and backoff
//   - Publishing with QoS and a payload size cap
//   - Tracked subscriptions that are restored after every reconnect
//   - A Last Will on the core status topic for offline detection
//
// Feeders, the central unit and the core all meet on the broker:
//
//	remote feeders ↔ MQTT broker ↔ feeder core ↔ UI clients
//
// Connection callbacks are passed as options so that the first OnConnect
// is observed:
//
//	client, err := mqtt.Connect(cfg.MQTT,
//	    mqtt.WithOnConnect(engine.HandleConnect),
//	    mqtt.WithOnDisconnect(engine.HandleConnectionLost),
//	    mqtt.WithOnReconnecting(engine.HandleReconnecting),
//	    mqtt.WithLogger(log),
//	)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
// Anonymous access is for local development only; production brokers
// should use TLS and credentials issued by the auth layer.
package mqtt

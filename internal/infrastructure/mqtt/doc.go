// Package mqtt provides MQTT client connectivity for Pelorus.
//
// This package manages:
//   - Connection to Mosquitto broker with auto-reconnect
//   - Message publishing with QoS guarantees
//   - Topic subscriptions with wildcard support
//   - Last Will and Testament (LWT) for offline detection
//   - Connection health monitoring
//
// # Architecture
//
// Pelorus uses MQTT as an optional external surface: resolved readings are
// republished for other onboard consumers (displays, loggers, automations),
// and command requests can be submitted without speaking SignalK.
//
//	SignalK Server ↔ Pelorus ↔ MQTT Broker ↔ Other Consumers
//
// # Security Considerations
//
//   - TLS is required for shore-connected deployments (cfg.Broker.TLS=true)
//   - Credentials are validated against broker ACL
//   - Anonymous access is only for local development
//   - Message payloads are not encrypted beyond TLS transport
//
// # Performance Characteristics
//
//   - Connection: <1 second to local broker
//   - Publish latency: <10ms for QoS 1 to local broker
//   - Reconnect: Exponential backoff 1s-60s with jitter
//   - Message throughput: Broker-limited (typically 10K+ msg/sec)
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	// Subscribe to all command requests
//	err = client.Subscribe(mqtt.Topics{}.AllCommands(), 1,
//	    func(topic string, payload []byte) error {
//	        log.Printf("Received: %s = %s", topic, payload)
//	        return nil
//	    })
//
//	// Republish a reading
//	topic := mqtt.Topics{}.Telemetry("navigation.speedOverGround")
//	client.Publish(topic, []byte(`{"value":5.14,"formatted":"10.0 kn"}`), 1, true)
package mqtt

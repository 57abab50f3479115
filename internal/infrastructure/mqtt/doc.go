// Package mqtt is the application-facing MQTT client for Courier.
//
// It wraps the session manager with:
//   - Blocking Connect that waits for the first CONNACK
//   - Publish calls that wait for the broker's acknowledgement
//   - Per-filter message handlers with wildcard dispatch
//   - A retained online/offline status on courier/<client_id>/status,
//     backed by a last will for unexpected disconnects
//   - Connection health checks and connect/disconnect callbacks
//
// # Architecture
//
//	Client → manager.Manager → session.Session → transport (tcp/tls/ws)
//
// Reconnection, flow replay and subscription restore happen below this
// package; the Client only observes state changes.
//
// # Security Considerations
//
//   - Use ssl://, mqtts:// or wss:// URLs outside local development
//   - broker.tls selects CA bundle, client certificate and optional pinning
//   - Message payloads are not encrypted beyond TLS transport
//
// # Usage
//
//	client, err := mqtt.Connect(ctx, *cfg, mqtt.Deps{Store: store})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	err = client.Subscribe("sensors/+/temp", 1,
//	    func(topic string, payload []byte) error {
//	        log.Printf("Received: %s = %s", topic, payload)
//	        return nil
//	    })
//
//	client.Publish("lights/kitchen/set", []byte(`{"on":true}`), 1, false)
package mqtt

// Package mqtt connects the auth service to the MQTT event bus.
//
// The service publishes a retained presence message on graylogic/auth/status
// (with a Last Will for crashes), one message per auth event on
// graylogic/auth/events/{action}, and listens on graylogic/auth/command/revoke
// for remote token revocation.
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.Subscribe(mqtt.Topics{}.RevokeCommand(), 1, handler)
package mqtt

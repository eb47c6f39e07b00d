package mqtt

// TopicPrefix is the base of every topic this service uses.
const TopicPrefix = "graylogic/auth"

// Topics builds the auth service's MQTT topics.
//
//	mqtt.Topics{}.Event("login") // graylogic/auth/events/login
type Topics struct{}

// Status is the retained online/offline presence topic.
func (Topics) Status() string {
	return TopicPrefix + "/status"
}

// Event is the topic auth events with the given action are published on.
func (Topics) Event(action string) string {
	return TopicPrefix + "/events/" + action
}

// AllEvents matches every event topic.
func (Topics) AllEvents() string {
	return TopicPrefix + "/events/#"
}

// RevokeCommand carries {"user_id": "..."} requests to revoke every
// auto-login token of a user.
func (Topics) RevokeCommand() string {
	return TopicPrefix + "/command/revoke"
}

package relay

// Push-channel event names (server to client)
const (
	EventNameStatus            = "mqtt_status"
	EventNameMessage           = "mqtt_message"
	EventNameSubscribeResult   = "mqtt_subscribe_result"
	EventNameUnsubscribeResult = "mqtt_unsubscribe_result"
	EventNamePublishResult     = "mqtt_publish_result"
)

// Push-channel command names (client to server)
const (
	CommandNameSubscribe   = "mqtt_subscribe"
	CommandNameUnsubscribe = "mqtt_unsubscribe"
	CommandNamePublish     = "mqtt_publish"
)

// Event one push-channel event
type Event struct {
	Name string      `json:"event"`
	Data interface{} `json:"data"`
}

// StatusEventData payload of a broker connectivity event
type StatusEventData struct {
	Connected bool   `json:"connected"`
	Error     string `json:"error,omitempty"`
}

// MessageEventData payload of a relayed broker message
type MessageEventData struct {
	Topic     string      `json:"topic"`
	Data      interface{} `json:"data"`
	Timestamp string      `json:"timestamp"`
}

// CommandResultData acknowledgement of one client command, unicast to the
// requesting session only
type CommandResultData struct {
	Topic   string `json:"topic"`
	Success bool   `json:"success"`
}

// ClientCommand one client-originated push-channel command
type ClientCommand struct {
	// Command is the command name
	Command string `json:"command" validate:"required,oneof=mqtt_subscribe mqtt_unsubscribe mqtt_publish"`
	// Topic is the topic or topic filter the command operates on
	Topic string `json:"topic" validate:"required"`
	// Payload is the message body for mqtt_publish
	Payload string `json:"payload,omitempty"`
	// QOS is the optional delivery guarantee level, defaults to 0
	QOS *int `json:"qos,omitempty" validate:"omitempty,gte=0,lte=2"`
	// Retain is the optional retain flag for mqtt_publish, defaults to false
	Retain *bool `json:"retain,omitempty"`
}

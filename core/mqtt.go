package core

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/apex/log"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/ipnet-mesh/meshweb/common"
)

// ConnState state of the broker connection
type ConnState int

// Broker connection states
const (
	ConnStateDisconnected ConnState = iota
	ConnStateConnecting
	ConnStateConnected
	ConnStateFailed
)

// String toString function
func (s ConnState) String() string {
	switch s {
	case ConnStateDisconnected:
		return "Disconnected"
	case ConnStateConnecting:
		return "Connecting"
	case ConnStateConnected:
		return "Connected"
	case ConnStateFailed:
		return "Failed"
	}
	return "Unknown"
}

// SubscriptionOrigin records who requested a topic subscription
type SubscriptionOrigin int

// Subscription origins
const (
	// SubscriptionOriginDefault filters come from config and are re-issued on
	// every successful (re)connect
	SubscriptionOriginDefault SubscriptionOrigin = iota
	// SubscriptionOriginClient filters were requested by a push-channel client.
	// They are NOT restored after a reconnect.
	SubscriptionOriginClient
)

// TopicSubscription one active topic filter on the broker connection
type TopicSubscription struct {
	Filter string `json:"filter" validate:"required"`
	QOS    byte   `json:"qos" validate:"lte=2"`
	Origin SubscriptionOrigin
}

// ConnectionStatus broker connectivity report forwarded to the relay
type ConnectionStatus struct {
	Connected bool   `json:"connected"`
	Error     string `json:"error,omitempty"`
}

// InboundMessage one message received from the broker.
//
// Parsed holds the JSON decode of the payload when the payload is valid
// JSON, otherwise the payload as a plain string.
type InboundMessage struct {
	Topic      string
	RawPayload []byte
	Parsed     interface{}
	ReceivedAt time.Time
}

// StatusHandlerCB callback used to forward connectivity changes to the next stage
type StatusHandlerCB func(status ConnectionStatus)

// MessageHandlerCB callback used to forward inbound messages to the next stage
type MessageHandlerCB func(msg InboundMessage)

// BrokerClient maintains the one outbound MQTT broker connection of the process.
//
// Connect returns true once the connection attempt was initiated; the result
// of the handshake arrives asynchronously through the status callback. All
// other operations report expected failures as a false return, never an error.
type BrokerClient interface {
	// Connect start the connection attempt. Fails fast when no broker host
	// is configured.
	Connect() bool
	// Disconnect stop the network loop and close the connection. No-op when
	// not connected.
	Disconnect()
	// IsConnected whether the connection is currently established
	IsConnected() bool
	// State current connection state
	State() ConnState
	// Publish send a message to the broker. False when not connected or the
	// broker did not accept the publish.
	Publish(topic string, payload []byte, qos byte, retain bool) bool
	// Subscribe add a client-requested topic filter. False when not connected
	// or the broker rejected the filter.
	Subscribe(filter string, qos byte) bool
	// Unsubscribe remove a topic filter. False when not connected.
	Unsubscribe(filter string) bool
	// SetEventHandlers install the callbacks receiving connectivity changes
	// and inbound messages. Must be called before Connect.
	SetEventHandlers(onStatus StatusHandlerCB, onMessage MessageHandlerCB)
	// ActiveSubscriptions snapshot of the filters currently held on the connection
	ActiveSubscriptions() []TopicSubscription
}

// mqttBrokerClientImpl implements BrokerClient against paho
type mqttBrokerClientImpl struct {
	common.Component
	config       common.MQTTConfig
	clientID     string
	client       mqtt.Client
	state        ConnState
	subs         map[string]TopicSubscription
	onStatus     StatusHandlerCB
	onMessage    MessageHandlerCB
	lock         *sync.Mutex
	tokenTimeout time.Duration
	// seam for unit testing without a live broker
	newPahoClient func(opts *mqtt.ClientOptions) mqtt.Client
}

// GetMQTTBrokerClient define a new MQTT broker client
func GetMQTTBrokerClient(config common.MQTTConfig) (BrokerClient, error) {
	validate := validator.New()
	if err := validate.Struct(&config); err != nil {
		return nil, err
	}
	clientID := fmt.Sprintf("%s-%s", config.ClientIDBase, uuid.New().String()[:8])
	logTags := log.Fields{
		"module":    "core",
		"component": "mqtt-broker-link",
		"instance":  clientID,
	}
	instance := &mqttBrokerClientImpl{
		Component:    common.Component{LogTags: logTags},
		config:       config,
		clientID:     clientID,
		state:        ConnStateDisconnected,
		subs:         make(map[string]TopicSubscription),
		lock:         &sync.Mutex{},
		tokenTimeout: time.Second * 5,
		newPahoClient: func(opts *mqtt.ClientOptions) mqtt.Client {
			return mqtt.NewClient(opts)
		},
	}
	for _, topic := range config.DefaultTopics {
		instance.subs[topic.Filter] = TopicSubscription{
			Filter: topic.Filter, QOS: byte(topic.QOS), Origin: SubscriptionOriginDefault,
		}
	}
	return instance, nil
}

// SetEventHandlers install the callbacks receiving connectivity changes and
// inbound messages
func (c *mqttBrokerClientImpl) SetEventHandlers(
	onStatus StatusHandlerCB, onMessage MessageHandlerCB,
) {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.onStatus = onStatus
	c.onMessage = onMessage
}

// buildTLSConfig assemble the TLS context from the configured material
func (c *mqttBrokerClientImpl) buildTLSConfig() (*tls.Config, error) {
	tlsConfig := &tls.Config{}
	if c.config.TLS.CACert != "" {
		caPEM, err := os.ReadFile(c.config.TLS.CACert)
		if err != nil {
			return nil, err
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caPEM) {
			return nil, fmt.Errorf("no usable certificate in %s", c.config.TLS.CACert)
		}
		tlsConfig.RootCAs = pool
	}
	if c.config.TLS.ClientCert != "" && c.config.TLS.ClientKey != "" {
		cert, err := tls.LoadX509KeyPair(c.config.TLS.ClientCert, c.config.TLS.ClientKey)
		if err != nil {
			return nil, err
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}
	return tlsConfig, nil
}

// Connect start the connection attempt
func (c *mqttBrokerClientImpl) Connect() bool {
	c.lock.Lock()
	defer c.lock.Unlock()

	if c.config.BrokerHost == "" {
		log.WithFields(c.LogTags).Error("Broker host not configured")
		return false
	}
	if c.state == ConnStateConnecting || c.state == ConnStateConnected {
		log.WithFields(c.LogTags).Debugf("Ignoring connect request while %s", c.state)
		return true
	}

	scheme := "tcp"
	if c.config.TLS.Enabled {
		scheme = "ssl"
	}
	opts := mqtt.NewClientOptions().
		AddBroker(fmt.Sprintf("%s://%s:%d", scheme, c.config.BrokerHost, c.config.BrokerPort)).
		SetClientID(c.clientID).
		SetCleanSession(true).
		SetKeepAlive(time.Second * time.Duration(c.config.KeepAlive)).
		SetAutoReconnect(false).
		SetConnectRetry(false)
	if c.config.Username != "" && c.config.Password != "" {
		opts.SetUsername(c.config.Username)
		opts.SetPassword(c.config.Password)
		log.WithFields(c.LogTags).Info("Broker username/password authentication configured")
	}
	if c.config.TLS.Enabled {
		tlsConfig, err := c.buildTLSConfig()
		if err != nil {
			log.WithError(err).WithFields(c.LogTags).Error("Unable to assemble TLS context")
			return false
		}
		opts.SetTLSConfig(tlsConfig)
		log.WithFields(c.LogTags).Info("Broker TLS configuration enabled")
	}
	opts.SetOnConnectHandler(c.handleConnect)
	opts.SetConnectionLostHandler(c.handleConnectionLost)
	opts.SetDefaultPublishHandler(c.handleMessage)

	c.client = c.newPahoClient(opts)
	c.state = ConnStateConnecting
	token := c.client.Connect()

	// The handshake result arrives asynchronously. A true return only means
	// the attempt has started.
	go func() {
		token.Wait()
		if err := token.Error(); err != nil {
			log.WithError(err).WithFields(c.LogTags).Errorf(
				"Failed to connect to broker at %s:%d", c.config.BrokerHost, c.config.BrokerPort,
			)
			c.lock.Lock()
			c.state = ConnStateFailed
			onStatus := c.onStatus
			c.lock.Unlock()
			if onStatus != nil {
				onStatus(ConnectionStatus{
					Connected: false, Error: fmt.Sprintf("Connection failed: %s", err),
				})
			}
		}
	}()

	log.WithFields(c.LogTags).Infof(
		"Attempting to connect to broker at %s:%d", c.config.BrokerHost, c.config.BrokerPort,
	)
	return true
}

// handleConnect paho on-connect callback. Runs on the network loop.
func (c *mqttBrokerClientImpl) handleConnect(client mqtt.Client) {
	log.WithFields(c.LogTags).Info("Connected to broker")
	c.lock.Lock()
	c.state = ConnStateConnected
	defaults := make([]TopicSubscription, 0, len(c.subs))
	for _, sub := range c.subs {
		if sub.Origin == SubscriptionOriginDefault {
			defaults = append(defaults, sub)
		}
	}
	onStatus := c.onStatus
	c.lock.Unlock()

	// Each subscribe waits on the broker. Run them outside the lock so state
	// queries and publishes are not stalled behind a slow handshake.
	for _, sub := range defaults {
		token := client.Subscribe(sub.Filter, sub.QOS, nil)
		if !token.WaitTimeout(c.tokenTimeout) || token.Error() != nil {
			log.WithError(token.Error()).WithFields(c.LogTags).Errorf(
				"Failed to subscribe to default filter %s", sub.Filter,
			)
			continue
		}
		log.WithFields(c.LogTags).Debugf("Subscribed to default filter %s", sub.Filter)
	}
	if onStatus != nil {
		onStatus(ConnectionStatus{Connected: true})
	}
}

// handleConnectionLost paho connection-lost callback. Runs on the network loop.
func (c *mqttBrokerClientImpl) handleConnectionLost(client mqtt.Client, err error) {
	log.WithError(err).WithFields(c.LogTags).Warn("Disconnected from broker")
	c.lock.Lock()
	c.state = ConnStateDisconnected
	// Clean session: the broker forgot every filter. Default filters are
	// re-issued by handleConnect, client-requested ones are gone.
	for filter, sub := range c.subs {
		if sub.Origin == SubscriptionOriginClient {
			delete(c.subs, filter)
		}
	}
	onStatus := c.onStatus
	c.lock.Unlock()
	if onStatus != nil {
		onStatus(ConnectionStatus{Connected: false})
	}
}

// handleMessage paho message callback. Runs on the network loop, so failures
// processing one message must never propagate.
func (c *mqttBrokerClientImpl) handleMessage(client mqtt.Client, m mqtt.Message) {
	defer func() {
		if r := recover(); r != nil {
			log.WithFields(c.LogTags).Errorf(
				"Panic processing message on topic %s: %v", m.Topic(), r,
			)
		}
	}()
	payload := m.Payload()
	var parsed interface{}
	if err := json.Unmarshal(payload, &parsed); err != nil {
		// Lenient fallback, non-JSON payloads are forwarded as text
		parsed = string(payload)
	}
	log.WithFields(c.LogTags).Debugf("Received message on topic %s", m.Topic())
	c.lock.Lock()
	onMessage := c.onMessage
	c.lock.Unlock()
	if onMessage != nil {
		onMessage(InboundMessage{
			Topic:      m.Topic(),
			RawPayload: payload,
			Parsed:     parsed,
			ReceivedAt: time.Now().UTC(),
		})
	}
}

// IsConnected whether the connection is currently established
func (c *mqttBrokerClientImpl) IsConnected() bool {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.state == ConnStateConnected
}

// State current connection state
func (c *mqttBrokerClientImpl) State() ConnState {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.state
}

// Publish send a message to the broker
func (c *mqttBrokerClientImpl) Publish(topic string, payload []byte, qos byte, retain bool) bool {
	c.lock.Lock()
	client := c.client
	connected := c.state == ConnStateConnected
	c.lock.Unlock()
	if !connected {
		log.WithFields(c.LogTags).Errorf("Not connected, dropping publish to %s", topic)
		return false
	}
	token := client.Publish(topic, qos, retain, payload)
	if !token.WaitTimeout(c.tokenTimeout) {
		log.WithFields(c.LogTags).Errorf("Publish to topic %s timed out", topic)
		return false
	}
	if err := token.Error(); err != nil {
		log.WithError(err).WithFields(c.LogTags).Errorf("Failed to publish to topic %s", topic)
		return false
	}
	log.WithFields(c.LogTags).Debugf("Published message to topic %s", topic)
	return true
}

// Subscribe add a client-requested topic filter
func (c *mqttBrokerClientImpl) Subscribe(filter string, qos byte) bool {
	c.lock.Lock()
	client := c.client
	connected := c.state == ConnStateConnected
	c.lock.Unlock()
	if !connected {
		log.WithFields(c.LogTags).Errorf("Not connected, can't subscribe to %s", filter)
		return false
	}
	token := client.Subscribe(filter, qos, nil)
	if !token.WaitTimeout(c.tokenTimeout) {
		log.WithFields(c.LogTags).Errorf("Subscribe to filter %s timed out", filter)
		return false
	}
	if err := token.Error(); err != nil {
		log.WithError(err).WithFields(c.LogTags).Errorf("Failed to subscribe to filter %s", filter)
		return false
	}
	c.lock.Lock()
	// Re-subscribing an already held filter is allowed and keeps its origin
	if _, present := c.subs[filter]; !present {
		c.subs[filter] = TopicSubscription{
			Filter: filter, QOS: qos, Origin: SubscriptionOriginClient,
		}
	}
	c.lock.Unlock()
	log.WithFields(c.LogTags).Debugf("Subscribed to filter %s", filter)
	return true
}

// Unsubscribe remove a topic filter
func (c *mqttBrokerClientImpl) Unsubscribe(filter string) bool {
	c.lock.Lock()
	client := c.client
	connected := c.state == ConnStateConnected
	c.lock.Unlock()
	if !connected {
		log.WithFields(c.LogTags).Errorf("Not connected, can't unsubscribe from %s", filter)
		return false
	}
	token := client.Unsubscribe(filter)
	if !token.WaitTimeout(c.tokenTimeout) {
		log.WithFields(c.LogTags).Errorf("Unsubscribe from filter %s timed out", filter)
		return false
	}
	if err := token.Error(); err != nil {
		log.WithError(err).WithFields(c.LogTags).Errorf(
			"Failed to unsubscribe from filter %s", filter,
		)
		return false
	}
	c.lock.Lock()
	delete(c.subs, filter)
	c.lock.Unlock()
	log.WithFields(c.LogTags).Debugf("Unsubscribed from filter %s", filter)
	return true
}

// Disconnect stop the network loop and close the connection
func (c *mqttBrokerClientImpl) Disconnect() {
	c.lock.Lock()
	if c.client == nil || c.state != ConnStateConnected {
		c.lock.Unlock()
		return
	}
	client := c.client
	c.state = ConnStateDisconnected
	onStatus := c.onStatus
	c.lock.Unlock()
	client.Disconnect(250)
	log.WithFields(c.LogTags).Info("Disconnected from broker")
	if onStatus != nil {
		onStatus(ConnectionStatus{Connected: false})
	}
}

// ActiveSubscriptions snapshot of the filters currently held on the connection
func (c *mqttBrokerClientImpl) ActiveSubscriptions() []TopicSubscription {
	c.lock.Lock()
	defer c.lock.Unlock()
	result := make([]TopicSubscription, 0, len(c.subs))
	for _, sub := range c.subs {
		result = append(result, sub)
	}
	return result
}

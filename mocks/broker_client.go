package mocks

import (
	"github.com/ipnet-mesh/meshweb/core"
	"github.com/stretchr/testify/mock"
)

// BrokerClient is a mock type for core.BrokerClient
type BrokerClient struct {
	mock.Mock
}

// Connect provides a mock function with no arguments
func (m *BrokerClient) Connect() bool {
	args := m.Called()
	return args.Bool(0)
}

// Disconnect provides a mock function with no arguments
func (m *BrokerClient) Disconnect() {
	m.Called()
}

// IsConnected provides a mock function with no arguments
func (m *BrokerClient) IsConnected() bool {
	args := m.Called()
	return args.Bool(0)
}

// State provides a mock function with no arguments
func (m *BrokerClient) State() core.ConnState {
	args := m.Called()
	return args.Get(0).(core.ConnState)
}

// Publish provides a mock function with given fields: topic, payload, qos, retain
func (m *BrokerClient) Publish(topic string, payload []byte, qos byte, retain bool) bool {
	args := m.Called(topic, payload, qos, retain)
	return args.Bool(0)
}

// Subscribe provides a mock function with given fields: filter, qos
func (m *BrokerClient) Subscribe(filter string, qos byte) bool {
	args := m.Called(filter, qos)
	return args.Bool(0)
}

// Unsubscribe provides a mock function with given fields: filter
func (m *BrokerClient) Unsubscribe(filter string) bool {
	args := m.Called(filter)
	return args.Bool(0)
}

// SetEventHandlers provides a mock function with given fields: onStatus, onMessage
func (m *BrokerClient) SetEventHandlers(
	onStatus core.StatusHandlerCB, onMessage core.MessageHandlerCB,
) {
	m.Called(onStatus, onMessage)
}

// ActiveSubscriptions provides a mock function with no arguments
func (m *BrokerClient) ActiveSubscriptions() []core.TopicSubscription {
	args := m.Called()
	return args.Get(0).([]core.TopicSubscription)
}

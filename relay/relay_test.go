package relay

import (
	"sync"
	"testing"
	"time"

	"github.com/apex/log"
	"github.com/ipnet-mesh/meshweb/core"
	"github.com/ipnet-mesh/meshweb/mocks"
	"github.com/stretchr/testify/assert"
)

func intPtr(v int) *int {
	return &v
}

func boolPtr(v bool) *bool {
	return &v
}

func definedTestRelay(t *testing.T) (*bridgeRelayImpl, *mocks.BrokerClient, SessionRegistry) {
	assert := assert.New(t)
	mockBroker := new(mocks.BrokerClient)
	registry, err := GetSessionRegistry("ut-relay")
	assert.Nil(err)
	uut, err := GetBridgeRelay(mockBroker, registry, 4)
	assert.Nil(err)
	return uut.(*bridgeRelayImpl), mockBroker, registry
}

func TestBridgeRelayStatusFanOut(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	uut, _, registry := definedTestRelay(t)

	one := &recordingSession{id: "session-1"}
	two := &recordingSession{id: "session-2"}
	registry.Register(one)
	registry.Register(two)

	assert.Nil(uut.processBrokerStatus(brokerStatusTask{
		status: core.ConnectionStatus{Connected: true},
	}))
	assert.Len(one.events, 1)
	assert.Len(two.events, 1)
	assert.Equal(EventNameStatus, one.events[0].Name)
	assert.Equal(StatusEventData{Connected: true}, one.events[0].Data)

	assert.Nil(uut.processBrokerStatus(brokerStatusTask{
		status: core.ConnectionStatus{Connected: false, Error: "Connection failed: timeout"},
	}))
	assert.Len(two.events, 2)
	assert.Equal(
		StatusEventData{Connected: false, Error: "Connection failed: timeout"},
		two.events[1].Data,
	)
}

func TestBridgeRelayMessageFanOut(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	uut, _, registry := definedTestRelay(t)

	session := &recordingSession{id: "session-1"}
	registry.Register(session)

	receivedAt := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)

	// JSON payloads keep their decoded structure
	assert.Nil(uut.processBrokerMessage(brokerMessageTask{
		msg: core.InboundMessage{
			Topic:      "ipnet/node1/status",
			Parsed:     map[string]interface{}{"online": true},
			ReceivedAt: receivedAt,
		},
	}))
	assert.Len(session.events, 1)
	assert.Equal(EventNameMessage, session.events[0].Name)
	data, ok := session.events[0].Data.(MessageEventData)
	assert.True(ok)
	assert.Equal("ipnet/node1/status", data.Topic)
	assert.Equal(map[string]interface{}{"online": true}, data.Data)
	assert.Equal(receivedAt.Format(time.RFC3339Nano), data.Timestamp)

	// Text payloads pass through unchanged
	assert.Nil(uut.processBrokerMessage(brokerMessageTask{
		msg: core.InboundMessage{
			Topic:      "ipnet/node1/banner",
			Parsed:     "hello mesh",
			ReceivedAt: receivedAt,
		},
	}))
	assert.Len(session.events, 2)
	data, ok = session.events[1].Data.(MessageEventData)
	assert.True(ok)
	assert.Equal("hello mesh", data.Data)
}

func TestBridgeRelayStatusReplayOnSessionOpen(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	uut, _, registry := definedTestRelay(t)

	// Broker connected before any session arrived
	assert.Nil(uut.processBrokerStatus(brokerStatusTask{
		status: core.ConnectionStatus{Connected: true},
	}))

	late := &recordingSession{id: "late-session"}
	registry.Register(late)
	assert.Nil(uut.processSessionOpened(sessionOpenedTask{sessionID: "late-session"}))

	assert.Len(late.events, 1)
	assert.Equal(EventNameStatus, late.events[0].Name)
	assert.Equal(StatusEventData{Connected: true}, late.events[0].Data)
}

func TestBridgeRelayClientCommands(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	uut, mockBroker, registry := definedTestRelay(t)

	requester := &recordingSession{id: "requester"}
	bystander := &recordingSession{id: "bystander"}
	registry.Register(requester)
	registry.Register(bystander)

	// Case 1: subscribe while the broker link is down fails, and only the
	// requesting session hears about it
	{
		mockBroker.On("IsConnected").Return(false).Once()
		assert.Nil(uut.processClientCommand(clientCommandTask{
			sessionID: "requester",
			cmd:       ClientCommand{Command: CommandNameSubscribe, Topic: "ipnet/extra/#"},
		}))
		assert.Len(requester.events, 1)
		assert.Empty(bystander.events)
		assert.Equal(EventNameSubscribeResult, requester.events[0].Name)
		assert.Equal(
			CommandResultData{Topic: "ipnet/extra/#", Success: false},
			requester.events[0].Data,
		)
	}

	// Case 2: subscribe with the link up
	{
		mockBroker.On("IsConnected").Return(true).Once()
		mockBroker.On("Subscribe", "ipnet/extra/#", byte(1)).Return(true).Once()
		assert.Nil(uut.processClientCommand(clientCommandTask{
			sessionID: "requester",
			cmd: ClientCommand{
				Command: CommandNameSubscribe, Topic: "ipnet/extra/#", QOS: intPtr(1),
			},
		}))
		assert.Len(requester.events, 2)
		assert.Equal(
			CommandResultData{Topic: "ipnet/extra/#", Success: true},
			requester.events[1].Data,
		)
	}

	// Case 3: publish defaults to QOS 0 without retain
	{
		mockBroker.On("IsConnected").Return(true).Once()
		mockBroker.On(
			"Publish", "ipnet/cmd/identify", []byte("gw1"), byte(0), false,
		).Return(true).Once()
		assert.Nil(uut.processClientCommand(clientCommandTask{
			sessionID: "requester",
			cmd: ClientCommand{
				Command: CommandNamePublish, Topic: "ipnet/cmd/identify", Payload: "gw1",
			},
		}))
		assert.Len(requester.events, 3)
		assert.Equal(EventNamePublishResult, requester.events[2].Name)
	}

	// Case 4: explicit retained publish
	{
		mockBroker.On("IsConnected").Return(true).Once()
		mockBroker.On(
			"Publish", "ipnet/network/topology", []byte("{}"), byte(1), true,
		).Return(true).Once()
		assert.Nil(uut.processClientCommand(clientCommandTask{
			sessionID: "requester",
			cmd: ClientCommand{
				Command: CommandNamePublish,
				Topic:   "ipnet/network/topology",
				Payload: "{}",
				QOS:     intPtr(1),
				Retain:  boolPtr(true),
			},
		}))
		assert.Len(requester.events, 4)
		assert.Equal(
			CommandResultData{Topic: "ipnet/network/topology", Success: true},
			requester.events[3].Data,
		)
	}

	// Case 5: unsubscribe
	{
		mockBroker.On("IsConnected").Return(true).Once()
		mockBroker.On("Unsubscribe", "ipnet/extra/#").Return(true).Once()
		assert.Nil(uut.processClientCommand(clientCommandTask{
			sessionID: "requester",
			cmd:       ClientCommand{Command: CommandNameUnsubscribe, Topic: "ipnet/extra/#"},
		}))
		assert.Len(requester.events, 5)
		assert.Equal(EventNameUnsubscribeResult, requester.events[4].Name)
	}

	// Case 6: blank topic is rejected before touching the broker
	{
		assert.Nil(uut.processClientCommand(clientCommandTask{
			sessionID: "requester",
			cmd:       ClientCommand{Command: CommandNameSubscribe, Topic: ""},
		}))
		assert.Len(requester.events, 6)
		assert.Equal(
			CommandResultData{Topic: "", Success: false},
			requester.events[5].Data,
		)
	}

	// Case 7: unknown command name is rejected
	{
		assert.Nil(uut.processClientCommand(clientCommandTask{
			sessionID: "requester",
			cmd:       ClientCommand{Command: "mqtt_explode", Topic: "ipnet/extra/#"},
		}))
		assert.Len(requester.events, 7)
		data, ok := requester.events[6].Data.(CommandResultData)
		assert.True(ok)
		assert.False(data.Success)
	}

	assert.Empty(bystander.events)
	mockBroker.AssertExpectations(t)
}

func TestBridgeRelayEventLoop(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	mockBroker := new(mocks.BrokerClient)
	registry, err := GetSessionRegistry("ut-relay-loop")
	assert.Nil(err)
	uut, err := GetBridgeRelay(mockBroker, registry, 8)
	assert.Nil(err)

	delivered := make(chan Event, 8)
	registry.Register(&channelSession{id: "session-1", sink: delivered})

	wg := sync.WaitGroup{}
	assert.Nil(uut.StartEventLoop(&wg))

	// Events arrive in submission order
	uut.HandleBrokerStatus(core.ConnectionStatus{Connected: true})
	uut.HandleBrokerMessage(core.InboundMessage{
		Topic: "ipnet/node1/status", Parsed: "first", ReceivedAt: time.Now().UTC(),
	})
	uut.HandleBrokerMessage(core.InboundMessage{
		Topic: "ipnet/node1/status", Parsed: "second", ReceivedAt: time.Now().UTC(),
	})

	expected := []string{EventNameStatus, EventNameMessage, EventNameMessage}
	for _, name := range expected {
		select {
		case event := <-delivered:
			assert.Equal(name, event.Name)
		case <-time.After(time.Second):
			assert.FailNow("timed out waiting for event")
		}
	}

	assert.Nil(uut.StopEventLoop())
	wg.Wait()
}

// channelSession session forwarding events into a channel for loop tests
type channelSession struct {
	id   string
	sink chan Event
}

func (s *channelSession) SessionID() string {
	return s.id
}

func (s *channelSession) SendEvent(event Event) error {
	s.sink <- event
	return nil
}

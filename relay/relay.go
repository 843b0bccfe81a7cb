package relay

import (
	"reflect"
	"sync"
	"time"

	"github.com/apex/log"
	"github.com/go-playground/validator/v10"
	"github.com/ipnet-mesh/meshweb/common"
	"github.com/ipnet-mesh/meshweb/core"
)

// BridgeRelay bridges the broker link and the push-channel sessions.
//
// Broker events and client commands are funneled into one event loop, so
// events reach the sessions in the order the broker network loop delivered
// them. The only component speaking both vocabularies.
type BridgeRelay interface {
	// StartEventLoop start the dispatch loop
	StartEventLoop(wg *sync.WaitGroup) error
	// StopEventLoop stop the dispatch loop
	StopEventLoop() error
	// HandleBrokerStatus accept a connectivity change from the broker link
	HandleBrokerStatus(status core.ConnectionStatus)
	// HandleBrokerMessage accept an inbound message from the broker link
	HandleBrokerMessage(msg core.InboundMessage)
	// SessionOpened notify the relay of a newly established session, which
	// immediately receives the current connectivity status
	SessionOpened(sessionID string)
	// HandleClientCommand accept one client-originated command. The boolean
	// outcome is unicast back to the requesting session.
	HandleClientCommand(sessionID string, cmd ClientCommand)
}

// Task parameters of the relay event loop
type brokerStatusTask struct {
	status core.ConnectionStatus
}

type brokerMessageTask struct {
	msg core.InboundMessage
}

type sessionOpenedTask struct {
	sessionID string
}

type clientCommandTask struct {
	sessionID string
	cmd       ClientCommand
}

// bridgeRelayImpl implements BridgeRelay
type bridgeRelayImpl struct {
	common.Component
	broker   core.BrokerClient
	registry SessionRegistry
	tp       common.TaskProcessor
	validate *validator.Validate
	// touched only on the event loop goroutine
	lastStatus core.ConnectionStatus
}

// GetBridgeRelay define a new bridge relay
func GetBridgeRelay(
	broker core.BrokerClient, registry SessionRegistry, taskBuffer int,
) (BridgeRelay, error) {
	logTags := log.Fields{
		"module":    "relay",
		"component": "bridge-relay",
	}
	tp, err := common.GetNewTaskProcessorInstance("bridge-relay", taskBuffer)
	if err != nil {
		return nil, err
	}
	instance := &bridgeRelayImpl{
		Component:  common.Component{LogTags: logTags},
		broker:     broker,
		registry:   registry,
		tp:         tp,
		validate:   validator.New(),
		lastStatus: core.ConnectionStatus{Connected: false},
	}
	if err := tp.SetTaskExecutionMap(map[reflect.Type]common.TaskHandler{
		reflect.TypeOf(brokerStatusTask{}):  instance.processBrokerStatus,
		reflect.TypeOf(brokerMessageTask{}): instance.processBrokerMessage,
		reflect.TypeOf(sessionOpenedTask{}): instance.processSessionOpened,
		reflect.TypeOf(clientCommandTask{}): instance.processClientCommand,
	}); err != nil {
		return nil, err
	}
	return instance, nil
}

// StartEventLoop start the dispatch loop
func (r *bridgeRelayImpl) StartEventLoop(wg *sync.WaitGroup) error {
	return r.tp.StartEventLoop(wg)
}

// StopEventLoop stop the dispatch loop
func (r *bridgeRelayImpl) StopEventLoop() error {
	return r.tp.StopEventLoop()
}

// ==============================================================================
// Submission side. Called from broker and push-channel goroutines.

// HandleBrokerStatus accept a connectivity change from the broker link
func (r *bridgeRelayImpl) HandleBrokerStatus(status core.ConnectionStatus) {
	if err := r.tp.Submit(brokerStatusTask{status: status}); err != nil {
		log.WithError(err).WithFields(r.LogTags).Error("Failed to queue broker status")
	}
}

// HandleBrokerMessage accept an inbound message from the broker link
func (r *bridgeRelayImpl) HandleBrokerMessage(msg core.InboundMessage) {
	if err := r.tp.Submit(brokerMessageTask{msg: msg}); err != nil {
		log.WithError(err).WithFields(r.LogTags).Error("Failed to queue broker message")
	}
}

// SessionOpened notify the relay of a newly established session
func (r *bridgeRelayImpl) SessionOpened(sessionID string) {
	if err := r.tp.Submit(sessionOpenedTask{sessionID: sessionID}); err != nil {
		log.WithError(err).WithFields(r.LogTags).Error("Failed to queue session notice")
	}
}

// HandleClientCommand accept one client-originated command
func (r *bridgeRelayImpl) HandleClientCommand(sessionID string, cmd ClientCommand) {
	if err := r.tp.Submit(clientCommandTask{sessionID: sessionID, cmd: cmd}); err != nil {
		log.WithError(err).WithFields(r.LogTags).Error("Failed to queue client command")
	}
}

// ==============================================================================
// Processing side. Runs on the event loop goroutine.

// processBrokerStatus broadcast a connectivity change to all sessions
func (r *bridgeRelayImpl) processBrokerStatus(param interface{}) error {
	task, ok := param.(brokerStatusTask)
	if !ok {
		return nil
	}
	r.lastStatus = task.status
	r.registry.Broadcast(Event{
		Name: EventNameStatus,
		Data: StatusEventData{Connected: task.status.Connected, Error: task.status.Error},
	})
	return nil
}

// processBrokerMessage broadcast an inbound broker message to all sessions
func (r *bridgeRelayImpl) processBrokerMessage(param interface{}) error {
	task, ok := param.(brokerMessageTask)
	if !ok {
		return nil
	}
	r.registry.Broadcast(Event{
		Name: EventNameMessage,
		Data: MessageEventData{
			Topic:     task.msg.Topic,
			Data:      task.msg.Parsed,
			Timestamp: task.msg.ReceivedAt.Format(time.RFC3339Nano),
		},
	})
	return nil
}

// processSessionOpened replay the current connectivity status to a new
// session, so a page opening after the broker connected still learns the
// live state
func (r *bridgeRelayImpl) processSessionOpened(param interface{}) error {
	task, ok := param.(sessionOpenedTask)
	if !ok {
		return nil
	}
	r.registry.Unicast(task.sessionID, Event{
		Name: EventNameStatus,
		Data: StatusEventData{Connected: r.lastStatus.Connected, Error: r.lastStatus.Error},
	})
	return nil
}

// processClientCommand run one client command against the broker link and
// unicast the outcome to the requesting session
func (r *bridgeRelayImpl) processClientCommand(param interface{}) error {
	task, ok := param.(clientCommandTask)
	if !ok {
		return nil
	}
	cmd := task.cmd

	success := false
	resultEvent := ""
	if err := r.validate.Struct(&cmd); err != nil {
		log.WithError(err).WithFields(r.LogTags).Warnf(
			"Rejecting malformed command from session %s", task.sessionID,
		)
	} else {
		switch cmd.Command {
		case CommandNameSubscribe:
			resultEvent = EventNameSubscribeResult
			success = r.broker.IsConnected() && r.broker.Subscribe(cmd.Topic, commandQOS(cmd))
		case CommandNameUnsubscribe:
			resultEvent = EventNameUnsubscribeResult
			success = r.broker.IsConnected() && r.broker.Unsubscribe(cmd.Topic)
		case CommandNamePublish:
			resultEvent = EventNamePublishResult
			retain := cmd.Retain != nil && *cmd.Retain
			success = r.broker.IsConnected() &&
				r.broker.Publish(cmd.Topic, []byte(cmd.Payload), commandQOS(cmd), retain)
		}
	}
	if resultEvent == "" {
		// Malformed command, still acknowledge with a failure on the most
		// specific result type known
		resultEvent = resultEventFor(cmd.Command)
	}
	r.registry.Unicast(task.sessionID, Event{
		Name: resultEvent,
		Data: CommandResultData{Topic: cmd.Topic, Success: success},
	})
	return nil
}

// commandQOS the effective QoS of a command, defaulting to 0
func commandQOS(cmd ClientCommand) byte {
	if cmd.QOS == nil {
		return 0
	}
	return byte(*cmd.QOS)
}

// resultEventFor the acknowledgement event name matching a command name
func resultEventFor(command string) string {
	switch command {
	case CommandNameUnsubscribe:
		return EventNameUnsubscribeResult
	case CommandNamePublish:
		return EventNamePublishResult
	default:
		return EventNameSubscribeResult
	}
}

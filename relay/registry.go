package relay

import (
	"sync"

	"github.com/apex/log"
	"github.com/ipnet-mesh/meshweb/common"
)

// Session one connected push-channel client
type Session interface {
	// SessionID the opaque session identifier
	SessionID() string
	// SendEvent queue an event for delivery to this client
	SendEvent(event Event) error
}

// SessionRegistry membership tracking and fan-out for push-channel sessions.
// Holds no message state.
type SessionRegistry interface {
	// Register add a session
	Register(session Session)
	// Deregister remove a session by ID. No-op when unknown.
	Deregister(sessionID string)
	// Broadcast deliver an event to every registered session. A failure to
	// deliver to one session does not abort delivery to the rest.
	Broadcast(event Event)
	// Unicast deliver an event to exactly one session. No-op when the
	// session is no longer registered.
	Unicast(sessionID string, event Event)
	// SessionCount number of registered sessions
	SessionCount() int
}

// sessionRegistryImpl implements SessionRegistry
type sessionRegistryImpl struct {
	common.Component
	sessions map[string]Session
	lock     *sync.RWMutex
}

// GetSessionRegistry define a new session registry
func GetSessionRegistry(instance string) (SessionRegistry, error) {
	logTags := log.Fields{
		"module":    "relay",
		"component": "session-registry",
		"instance":  instance,
	}
	return &sessionRegistryImpl{
		Component: common.Component{LogTags: logTags},
		sessions:  make(map[string]Session),
		lock:      &sync.RWMutex{},
	}, nil
}

// Register add a session
func (r *sessionRegistryImpl) Register(session Session) {
	r.lock.Lock()
	r.sessions[session.SessionID()] = session
	total := len(r.sessions)
	r.lock.Unlock()
	log.WithFields(r.LogTags).Infof(
		"Session %s connected, %d active", session.SessionID(), total,
	)
}

// Deregister remove a session by ID
func (r *sessionRegistryImpl) Deregister(sessionID string) {
	r.lock.Lock()
	_, present := r.sessions[sessionID]
	delete(r.sessions, sessionID)
	total := len(r.sessions)
	r.lock.Unlock()
	if present {
		log.WithFields(r.LogTags).Infof("Session %s disconnected, %d active", sessionID, total)
	}
}

// snapshotSessions copy the current membership so delivery happens outside
// the lock and stays safe against concurrent (de)registration
func (r *sessionRegistryImpl) snapshotSessions() []Session {
	r.lock.RLock()
	defer r.lock.RUnlock()
	result := make([]Session, 0, len(r.sessions))
	for _, session := range r.sessions {
		result = append(result, session)
	}
	return result
}

// Broadcast deliver an event to every registered session
func (r *sessionRegistryImpl) Broadcast(event Event) {
	for _, session := range r.snapshotSessions() {
		if err := session.SendEvent(event); err != nil {
			log.WithError(err).WithFields(r.LogTags).Warnf(
				"Failed to deliver %s to session %s", event.Name, session.SessionID(),
			)
		}
	}
}

// Unicast deliver an event to exactly one session
func (r *sessionRegistryImpl) Unicast(sessionID string, event Event) {
	r.lock.RLock()
	session, present := r.sessions[sessionID]
	r.lock.RUnlock()
	if !present {
		log.WithFields(r.LogTags).Debugf(
			"Dropping %s for departed session %s", event.Name, sessionID,
		)
		return
	}
	if err := session.SendEvent(event); err != nil {
		log.WithError(err).WithFields(r.LogTags).Warnf(
			"Failed to deliver %s to session %s", event.Name, sessionID,
		)
	}
}

// SessionCount number of registered sessions
func (r *sessionRegistryImpl) SessionCount() int {
	r.lock.RLock()
	defer r.lock.RUnlock()
	return len(r.sessions)
}

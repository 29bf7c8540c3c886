package state

import (
	"fmt"
	"time"
)

// Signal mailbox entries are short-lived; WebRTC renegotiates when one is
// lost.
const SignalTTL = 120 * time.Second

func (s *Store) roomHashKey() string {
	return s.namespace + ":rooms"
}

func (s *Store) voiceHashKey() string {
	return s.namespace + ":voiceMessages"
}

func (s *Store) playerSetKey() string {
	return s.namespace + ":players"
}

func (s *Store) playerKey(id int64) string {
	return fmt.Sprintf("%s:player:%d", s.namespace, id)
}

func (s *Store) sessionKey(sessionID string) string {
	return fmt.Sprintf("%s:session:%s", s.namespace, sessionID)
}

func (s *Store) roomCreationKey(playerID int64) string {
	return fmt.Sprintf("%s:room-creations:%d", s.namespace, playerID)
}

func (s *Store) voiceCreationKey(playerID int64) string {
	return fmt.Sprintf("%s:voice-messages:%d", s.namespace, playerID)
}

func (s *Store) signalKey(targetID int64, signalID string) string {
	return fmt.Sprintf("%s:signal:%d:%s", s.namespace, targetID, signalID)
}

func (s *Store) clientCounterKey() string {
	return s.namespace + ":nextClientId"
}

func (s *Store) roomCounterKey() string {
	return s.namespace + ":nextRoomId"
}

func (s *Store) voiceCounterKey() string {
	return s.namespace + ":nextVoiceMessageId"
}

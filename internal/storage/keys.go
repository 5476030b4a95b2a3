package storage

import "fmt"

// Key names one stored value. Use the constructors below; each concern owns a
// disjoint key space.
type Key string

func SessionKey(sequenceID string) Key {
	return Key("test_session:" + sequenceID)
}

func TimerKey(sessionID, sequenceID string, module int) Key {
	return Key(fmt.Sprintf("timer:%s:%s:%d", sessionID, sequenceID, module))
}

func ModuleScoresKey(sequenceID string) Key {
	return Key("module_scores:" + sequenceID)
}

func ResultMarkerKey(sessionID, unitID string) Key {
	return Key("result_marker:" + sessionID + ":" + unitID)
}

// ScoreMarkerKey guards score accumulation for one unit of one session.
func ScoreMarkerKey(sessionID, unitID string) Key {
	return Key("score_marker:" + sessionID + ":" + unitID)
}

func TransitionKey(sequenceID, unitID string) Key {
	return Key("transition:" + sequenceID + ":" + unitID)
}

// CompletionKey holds the final summary of one session until it is acknowledged.
func CompletionKey(sequenceID, sessionID string) Key {
	return Key("completion:" + sequenceID + ":" + sessionID)
}

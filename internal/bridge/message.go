package bridge

import (
	"encoding/json"

	"mocktest-backend/internal/models"
)

// Message tags exchanged with the quiz surface.
const (
	TagReady       = "ready"
	TagSubmitStart = "submitStart"
	TagSubmitDone  = "submitDone"
	TagMeta        = "meta"
	TagAnswers     = "answers"
	TagGetAnswers  = "getAnswers"
	TagConfig      = "config"
)

// Message is the tagged envelope on the wire.
type Message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type GetAnswersPayload struct {
	UnitID string `json:"unitId,omitempty"`
}

type ConfigPayload struct {
	TotalQuestions int `json:"totalQuestions"`
}

type metaPayload struct {
	HasAudio *bool `json:"hasAudio"`
}

type wireAnswer struct {
	QuestionID *string         `json:"questionId"`
	UserAnswer json.RawMessage `json:"userAnswer"`
	IsCorrect  *bool           `json:"isCorrect"`
}

type answersPayload struct {
	Answers *[]wireAnswer `json:"answers"`
	UnitID  string        `json:"unitId"`
}

// inbound is a validated message from the quiz surface.
type inbound struct {
	tag      string
	hasAudio bool
	answers  []models.QuizAnswer
	unitID   string
}

// parse validates raw and reports false for anything that is not a
// well-formed inbound message.
func parse(raw []byte) (inbound, bool) {
	var msg Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		return inbound{}, false
	}

	switch msg.Type {
	case TagReady, TagSubmitStart, TagSubmitDone:
		return inbound{tag: msg.Type}, true

	case TagMeta:
		var p metaPayload
		if len(msg.Payload) == 0 || json.Unmarshal(msg.Payload, &p) != nil || p.HasAudio == nil {
			return inbound{}, false
		}
		return inbound{tag: TagMeta, hasAudio: *p.HasAudio}, true

	case TagAnswers:
		var p answersPayload
		if len(msg.Payload) == 0 || json.Unmarshal(msg.Payload, &p) != nil || p.Answers == nil {
			return inbound{}, false
		}
		answers := make([]models.QuizAnswer, 0, len(*p.Answers))
		for _, a := range *p.Answers {
			if a.QuestionID == nil || *a.QuestionID == "" || a.IsCorrect == nil {
				return inbound{}, false
			}
			answers = append(answers, models.QuizAnswer{
				QuestionID: *a.QuestionID,
				UserAnswer: a.UserAnswer,
				IsCorrect:  *a.IsCorrect,
			})
		}
		return inbound{tag: TagAnswers, answers: answers, unitID: p.UnitID}, true
	}
	return inbound{}, false
}

func encode(tag string, payload interface{}) (Message, error) {
	msg := Message{Type: tag}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return Message{}, err
		}
		msg.Payload = raw
	}
	return msg, nil
}

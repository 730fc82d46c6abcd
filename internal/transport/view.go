package transport

import (
	"github.com/lexiqai/voice-chat/internal/conversation"
	"github.com/lexiqai/voice-chat/internal/session"
)

// clientView renders session updates as protocol messages.
type clientView struct {
	client sender
}

func (v clientView) TurnAppended(turn conversation.Turn) {
	v.client.Send(TurnMessage{Type: TypeTurnAppended, Turn: turn})
}

func (v clientView) TurnUpdated(turn conversation.Turn) {
	v.client.Send(TurnMessage{Type: TypeTurnUpdated, Turn: turn})
}

func (v clientView) TranslationReady(turnID, text string) {
	v.client.Send(TranslationMessage{Type: TypeTranslationReady, TurnID: turnID, Text: text})
}

func (v clientView) StateChanged(state session.State) {
	v.client.Send(StateMessage{Type: TypeSessionState, State: state})
}

func (v clientView) Error(err error) {
	v.client.Send(ErrorMessage{Type: TypeError, Message: err.Error()})
}

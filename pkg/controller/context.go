package controller

import "github.com/google/uuid"

// ClientContext is the per-session state of a command client. Commands that
// omit fanout= consume with the session's fan-out id.
type ClientContext struct {
	FanoutID string
}

// NewClientContext returns a context consuming as fanoutID, or as a fresh
// random id when fanoutID is empty.
func NewClientContext(fanoutID string) *ClientContext {
	if fanoutID == "" {
		fanoutID = uuid.NewString()
	}
	return &ClientContext{FanoutID: fanoutID}
}

func (ctx *ClientContext) SetFanoutID(id string) {
	ctx.FanoutID = id
}

package rpc

import "encoding/json"

// request is an outbound message expecting exactly one correlated reply.
// The engine's wire protocol carries no version field.
type request struct {
	ID     uint64          `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

// notification is an outbound message expecting no reply.
type notification struct {
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

// inboundProbe classifies an inbound message. A message with an identifier
// and a result or error payload is a response; a message with a method is a
// notification; anything else is malformed.
type inboundProbe struct {
	ID     *uint64         `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
	Result json.RawMessage `json:"result"`
	Error  json.RawMessage `json:"error"`
}

func (p *inboundProbe) isResponse() bool {
	return p.ID != nil && p.Method == "" && (p.Result != nil || p.Error != nil)
}

func (p *inboundProbe) isNotification() bool {
	return p.Method != ""
}

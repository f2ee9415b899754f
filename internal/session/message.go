package session

import "encoding/json"

// Message is the deserialized shape of one client/server wire payload:
// a string `type`, an optional echoed `msg_id`, and whatever
// message-specific fields ride alongside. Using a bare map rather than
// a fixed struct matches the contract: the core only ever inspects
// `type`/`msg_id` itself and treats everything else as opaque payload
// for the (external) gameplay layer.
type Message map[string]any

// decodeMessage unmarshals a raw frame body into a Message.
func decodeMessage(body []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(body, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// Type returns the message's `type` field, or "" if absent/non-string.
func (m Message) Type() string {
	s, _ := m["type"].(string)
	return s
}

// MsgID returns the message's `msg_id` field and whether it was present.
func (m Message) MsgID() (any, bool) {
	v, ok := m["msg_id"]
	return v, ok
}

// WithMsgID returns a copy of m with msg_id set to id, echoing the
// request's msg_id back on the response.
func (m Message) WithMsgID(id any) Message {
	out := make(Message, len(m)+1)
	for k, v := range m {
		out[k] = v
	}
	if id != nil {
		out["msg_id"] = id
	}
	return out
}

// errorMessage builds the generic error response shape: same type,
// success:false, and a human-readable message field.
func errorMessage(msgType string, msgID any, err error) Message {
	m := Message{"type": msgType, "success": false, "message": err.Error()}
	if msgID != nil {
		m["msg_id"] = msgID
	}
	return m
}

// successMessage wraps result (nil becomes an empty payload) with the
// standard success envelope, echoing msg_id when present.
func successMessage(msgType string, msgID any, result Message) Message {
	m := Message{"type": msgType, "success": true}
	for k, v := range result {
		if k == "type" || k == "success" {
			continue
		}
		m[k] = v
	}
	if msgID != nil {
		m["msg_id"] = msgID
	}
	return m
}

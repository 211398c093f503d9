// Package realtime pushes board updates to connected clients. The registry
// tracks one connection per browser tab, keyed by course; writes publish a
// message after their transaction commits and the registry fans it out to
// every connection subscribed to that course. Delivery is best effort: a
// slow or dead connection is pruned, never waited on, and a message with no
// subscribers is dropped silently.
package realtime

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/cubetribe/klassenbuch-server/internal/domain/shared"
)

// Frame is one unit of delivery on a connection: either a data frame
// carrying an encoded broadcast message, or a comment frame used as a
// keepalive. Consumers must ignore comment frames rather than parse them.
type Frame struct {
	Comment bool
	Payload []byte
}

// DataFrame encodes a broadcast message into a data frame. The message is
// marshaled once here so a fan-out to N connections serializes once, not N
// times.
func DataFrame(msg shared.BroadcastMessage) (Frame, error) {
	payload, err := json.Marshal(msg)
	if err != nil {
		return Frame{}, fmt.Errorf("encode broadcast message: %w", err)
	}
	return Frame{Payload: payload}, nil
}

// KeepaliveFrame is the comment frame the registry sends on idle
// connections.
func KeepaliveFrame() Frame {
	return Frame{Comment: true, Payload: []byte("ping")}
}

// EncodeSSE renders the frame in server-sent-events wire format. Data
// frames become an "event: message" block; comment frames become a ":"
// comment line that SSE clients skip without parsing.
func (f Frame) EncodeSSE() []byte {
	var buf bytes.Buffer
	if f.Comment {
		buf.WriteString(": ")
		buf.Write(f.Payload)
		buf.WriteString("\n\n")
		return buf.Bytes()
	}
	buf.WriteString("event: message\n")
	buf.WriteString("data: ")
	buf.Write(f.Payload)
	buf.WriteString("\n\n")
	return buf.Bytes()
}

// DecodeData parses a data frame payload back into a broadcast message.
// Used by the consumer side of the stream.
func DecodeData(payload []byte) (shared.BroadcastMessage, error) {
	var msg shared.BroadcastMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return shared.BroadcastMessage{}, fmt.Errorf("decode broadcast message: %w", err)
	}
	return msg, nil
}

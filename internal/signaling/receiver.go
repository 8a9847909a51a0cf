package signaling

import (
	"github.com/1ureka/babymonitor/internal/protocol"
	"github.com/1ureka/babymonitor/internal/util"
)

// receive decodes frames until the connection's stream ends, handing each
// message to handle in arrival order. Undecodable frames and handler
// errors are logged and dropped.
func receive(conn Conn, codec *protocol.Codec, handle func(protocol.Message) error) {
	for frame := range conn.Frames() {
		msg, err := codec.Decode(frame.Data)
		if err != nil {
			util.Stats.AddDecodeFailure()
			util.LogWarning("[%s] dropping frame: %v", conn.ID(), err)
			continue
		}
		if err := handle(msg); err != nil {
			util.LogWarning("[%s] %s: %v", conn.ID(), msg.Kind, err)
		}
	}
}

// Package codec encodes room snapshots into the frames written to viewers.
package codec

import (
	"encoding/json"
	"sync"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

var heartbeatSSE = []byte(": heartbeat\n\n")

// Frame is one message for every subscriber of a room. It is encoded once per
// broadcast and shared read-only by all writers.
type Frame struct {
	heartbeat bool
	json      []byte

	protoOnce  sync.Once
	protoBytes []byte
	protoErr   error
}

var heartbeat = &Frame{heartbeat: true}

// Heartbeat is the keep-alive frame. SSE writers emit it as a comment line and
// WebSocket writers as a ping.
func Heartbeat() *Frame {
	return heartbeat
}

// Snapshot serializes v as the JSON payload of a frame.
func Snapshot(v any) (*Frame, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return &Frame{json: raw}, nil
}

// FromJSON wraps an already encoded payload.
func FromJSON(raw []byte) *Frame {
	return &Frame{json: append([]byte(nil), raw...)}
}

func (f *Frame) IsHeartbeat() bool {
	return f.heartbeat
}

// JSON returns the payload. It is nil for the heartbeat frame.
func (f *Frame) JSON() []byte {
	return f.json
}

// SSE returns the event-stream bytes of the frame.
func (f *Frame) SSE() []byte {
	if f.heartbeat {
		return heartbeatSSE
	}
	out := make([]byte, 0, len(f.json)+8)
	out = append(out, "data: "...)
	out = append(out, f.json...)
	out = append(out, '\n', '\n')
	return out
}

// Proto returns the payload as a marshaled google.protobuf.Struct. It is
// computed on first use, so rooms without binary subscribers never pay for it.
func (f *Frame) Proto() ([]byte, error) {
	f.protoOnce.Do(func() {
		if f.heartbeat {
			return
		}
		var fields map[string]any
		if err := json.Unmarshal(f.json, &fields); err != nil {
			f.protoErr = err
			return
		}
		st, err := structpb.NewStruct(fields)
		if err != nil {
			f.protoErr = err
			return
		}
		f.protoBytes, f.protoErr = proto.Marshal(st)
	})
	return f.protoBytes, f.protoErr
}

// DecodeProto parses a binary frame back into a generic map.
func DecodeProto(raw []byte) (map[string]any, error) {
	var st structpb.Struct
	if err := proto.Unmarshal(raw, &st); err != nil {
		return nil, err
	}
	return st.AsMap(), nil
}

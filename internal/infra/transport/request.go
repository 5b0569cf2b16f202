package transport

import (
	"encoding/json"
	"fmt"
	"sync/atomic"

	"github.com/modelcontextprotocol/go-sdk/jsonrpc"
)

// NewRequest builds a jsonrpc request wire payload with an explicit
// correlation id. The dispatcher owns id generation; session-internal calls
// use RequestBuilder instead.
func NewRequest(id, method string, params any) (json.RawMessage, error) {
	rpcID, err := jsonrpc.MakeID(id)
	if err != nil {
		return nil, fmt.Errorf("build request id: %w", err)
	}
	rawParams, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("marshal params: %w", err)
	}
	req := &jsonrpc.Request{ID: rpcID, Method: method, Params: rawParams}
	wire, err := jsonrpc.EncodeMessage(req)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	return json.RawMessage(wire), nil
}

// RequestBuilder mints sequence-scoped ids for protocol housekeeping calls
// (initialize, tools/list) that have no caller-supplied correlation id.
type RequestBuilder struct {
	seq atomic.Uint64
}

func (b *RequestBuilder) Build(method string, params any) (json.RawMessage, error) {
	seq := b.seq.Add(1)
	return NewRequest(fmt.Sprintf("agentd-%s-%d", method, seq), method, params)
}

// DecodeResult extracts the result of a jsonrpc response payload, surfacing
// a remote error verbatim.
func DecodeResult(payload json.RawMessage) (json.RawMessage, error) {
	msg, err := jsonrpc.DecodeMessage(payload)
	if err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	resp, ok := msg.(*jsonrpc.Response)
	if !ok {
		return nil, fmt.Errorf("unexpected message type %T", msg)
	}
	if resp.Error != nil {
		return nil, resp.Error
	}
	return resp.Result, nil
}

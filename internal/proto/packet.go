// Package proto defines every type that crosses the wire: request/response
// envelopes, the operation payload unions, the error taxonomy, filesystem
// change kinds, metadata, search queries, and the small shared value types
// (Map, Value, Version).
package proto

import (
	"fmt"

	logext "github.com/inconshreveable/log15/ext"
	"github.com/ugorji/go/codec"

	"github.com/chipsenkbeil/distant-go/internal/msgpack"
)

// IDLen is the number of random characters in request and response ids.
const IDLen = 16

// NewID produces a random id unique within a connection's lifetime.
func NewID() string {
	// RandId hex-encodes n random bytes into 2n characters.
	return logext.RandId(IDLen / 2)
}

// Request is the client-to-server envelope. Payload carries one tagged
// operation payload, or an array of them when batched.
type Request struct {
	ID         string    `codec:"id"`
	RawPayload codec.Raw `codec:"payload"`
}

// Response is the server-to-client envelope. OriginID names the request this
// response answers; one request may produce many responses.
type Response struct {
	ID         string    `codec:"id"`
	OriginID   string    `codec:"origin_id"`
	RawPayload codec.Raw `codec:"payload"`
}

// NewRequest builds a request carrying a single payload.
func NewRequest(payload RequestPayload) (Request, error) {
	raw, err := encodeTagged(payload.payloadType(), payload)
	if err != nil {
		return Request{}, err
	}
	return Request{ID: NewID(), RawPayload: raw}, nil
}

// NewBatchRequest builds a request whose payload is a batch of operations,
// sent as one frame and answered by one response per entry.
func NewBatchRequest(payloads ...RequestPayload) (Request, error) {
	raws := make([]codec.Raw, 0, len(payloads))
	for _, p := range payloads {
		raw, err := encodeTagged(p.payloadType(), p)
		if err != nil {
			return Request{}, err
		}
		raws = append(raws, raw)
	}
	batch, err := msgpack.Marshal(raws)
	if err != nil {
		return Request{}, err
	}
	return Request{ID: NewID(), RawPayload: batch}, nil
}

// Payloads decodes the envelope's payload into its operation payloads.
// batch reports whether the payload used the array (batch) form.
func (r Request) Payloads() (payloads []RequestPayload, batch bool, err error) {
	raws, batch, err := splitMsg(r.RawPayload)
	if err != nil {
		return nil, false, err
	}
	payloads = make([]RequestPayload, 0, len(raws))
	for _, raw := range raws {
		p, err := decodeRequestPayload(raw)
		if err != nil {
			return nil, batch, err
		}
		payloads = append(payloads, p)
	}
	return payloads, batch, nil
}

// NewResponse builds a response to the request with the given id.
func NewResponse(originID string, payload ResponsePayload) (Response, error) {
	raw, err := encodeTagged(payload.payloadType(), payload)
	if err != nil {
		return Response{}, err
	}
	return Response{ID: NewID(), OriginID: originID, RawPayload: raw}, nil
}

// Payloads decodes the envelope's payload into its response payloads.
func (r Response) Payloads() (payloads []ResponsePayload, batch bool, err error) {
	raws, batch, err := splitMsg(r.RawPayload)
	if err != nil {
		return nil, false, err
	}
	payloads = make([]ResponsePayload, 0, len(raws))
	for _, raw := range raws {
		p, err := decodeResponsePayload(raw)
		if err != nil {
			return nil, batch, err
		}
		payloads = append(payloads, p)
	}
	return payloads, batch, nil
}

// Payload decodes a single (non-batch) response payload.
func (r Response) Payload() (ResponsePayload, error) {
	payloads, batch, err := r.Payloads()
	if err != nil {
		return nil, err
	}
	if batch || len(payloads) != 1 {
		return nil, fmt.Errorf("expected single payload, got batch of %d", len(payloads))
	}
	return payloads[0], nil
}

// splitMsg separates the single-or-batch payload envelope: a msgpack array is
// a batch, anything else a single payload.
func splitMsg(raw []byte) (raws []codec.Raw, batch bool, err error) {
	if msgpack.IsArray(raw) {
		if err := msgpack.Unmarshal(raw, &raws); err != nil {
			return nil, true, err
		}
		return raws, true, nil
	}
	return []codec.Raw{codec.Raw(raw)}, false, nil
}

// taggedPayload is the adjacently-tagged union form used on the wire:
// {"type": ..., "data": {...}}.
type taggedPayload struct {
	Type string    `codec:"type"`
	Data codec.Raw `codec:"data,omitempty"`
}

func encodeTagged(typ string, payload any) (codec.Raw, error) {
	data, err := msgpack.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return msgpack.Marshal(taggedPayload{Type: typ, Data: data})
}

func unmarshalPayload(data []byte, v any) error {
	return msgpack.Unmarshal(data, v)
}

func decodeTagged(raw []byte) (typ string, data []byte, err error) {
	var t taggedPayload
	if err := msgpack.Unmarshal(raw, &t); err != nil {
		return "", nil, err
	}
	if t.Type == "" {
		return "", nil, fmt.Errorf("payload missing type tag")
	}
	return t.Type, t.Data, nil
}

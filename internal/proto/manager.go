package proto

import (
	"fmt"

	"github.com/ugorji/go/codec"

	"github.com/chipsenkbeil/distant-go/internal/msgpack"
)

// ChannelID identifies one logical channel multiplexed over a managed
// connection.
type ChannelID = uint32

// ConnectionID identifies a physical connection between a client or manager
// and a server.
type ConnectionID = uint32

// Manager message type tags.
const (
	TypeOpenChannel   = "open_channel"
	TypeChannelOpened = "channel_opened"
	TypeChannel       = "channel"
	TypeChannelClosed = "channel_closed"
	TypeKilled        = "killed"
	TypeManagerError  = "error"
)

// ManagerRequest is what a local client asks of the manager.
type ManagerRequest struct {
	// Exactly one of the following is set, per the type tag.
	OpenChannel   *OpenChannel
	Channel       *ChannelPayload
	ChannelClosed *ChannelClosed
}

// ManagerResponse is the manager's answer or forwarded traffic.
type ManagerResponse struct {
	ChannelOpened *ChannelOpened
	Channel       *ChannelPayload
	ChannelClosed *ChannelClosed
	Killed        *Killed
	Error         *ManagerError
}

// OpenChannel asks for a logical channel to the given upstream connection.
type OpenChannel struct {
	ConnectionID ConnectionID `codec:"connection_id"`
}

type ChannelOpened struct {
	ChannelID ChannelID `codec:"channel_id"`
}

// ChannelPayload carries one frame of channel traffic in either direction.
type ChannelPayload struct {
	ChannelID ChannelID `codec:"channel_id"`
	Data      []byte    `codec:"data"`
}

// ChannelClosed terminates one logical channel without affecting siblings.
type ChannelClosed struct {
	ChannelID ChannelID `codec:"channel_id"`
}

// Killed tells the local client the manager itself is going away.
type Killed struct{}

type ManagerError struct {
	Description string `codec:"description"`
}

func (m *ManagerRequest) CodecEncodeSelf(e *codec.Encoder) {
	var raw codec.Raw
	var err error
	switch {
	case m.OpenChannel != nil:
		raw, err = encodeTagged(TypeOpenChannel, m.OpenChannel)
	case m.Channel != nil:
		raw, err = encodeTagged(TypeChannel, m.Channel)
	case m.ChannelClosed != nil:
		raw, err = encodeTagged(TypeChannelClosed, m.ChannelClosed)
	default:
		err = fmt.Errorf("empty manager request")
	}
	if err != nil {
		panic(err)
	}
	e.MustEncode(raw)
}

func (m *ManagerRequest) CodecDecodeSelf(d *codec.Decoder) {
	var raw codec.Raw
	d.MustDecode(&raw)
	typ, data, err := decodeTagged(raw)
	if err != nil {
		panic(err)
	}
	switch typ {
	case TypeOpenChannel:
		m.OpenChannel = new(OpenChannel)
		err = msgpack.Unmarshal(data, m.OpenChannel)
	case TypeChannel:
		m.Channel = new(ChannelPayload)
		err = msgpack.Unmarshal(data, m.Channel)
	case TypeChannelClosed:
		m.ChannelClosed = new(ChannelClosed)
		err = msgpack.Unmarshal(data, m.ChannelClosed)
	default:
		err = fmt.Errorf("unknown manager request type %q", typ)
	}
	if err != nil {
		panic(err)
	}
}

func (m *ManagerResponse) CodecEncodeSelf(e *codec.Encoder) {
	var raw codec.Raw
	var err error
	switch {
	case m.ChannelOpened != nil:
		raw, err = encodeTagged(TypeChannelOpened, m.ChannelOpened)
	case m.Channel != nil:
		raw, err = encodeTagged(TypeChannel, m.Channel)
	case m.ChannelClosed != nil:
		raw, err = encodeTagged(TypeChannelClosed, m.ChannelClosed)
	case m.Killed != nil:
		raw, err = encodeTagged(TypeKilled, m.Killed)
	case m.Error != nil:
		raw, err = encodeTagged(TypeManagerError, m.Error)
	default:
		err = fmt.Errorf("empty manager response")
	}
	if err != nil {
		panic(err)
	}
	e.MustEncode(raw)
}

func (m *ManagerResponse) CodecDecodeSelf(d *codec.Decoder) {
	var raw codec.Raw
	d.MustDecode(&raw)
	typ, data, err := decodeTagged(raw)
	if err != nil {
		panic(err)
	}
	switch typ {
	case TypeChannelOpened:
		m.ChannelOpened = new(ChannelOpened)
		err = msgpack.Unmarshal(data, m.ChannelOpened)
	case TypeChannel:
		m.Channel = new(ChannelPayload)
		err = msgpack.Unmarshal(data, m.Channel)
	case TypeChannelClosed:
		m.ChannelClosed = new(ChannelClosed)
		err = msgpack.Unmarshal(data, m.ChannelClosed)
	case TypeKilled:
		m.Killed = new(Killed)
	case TypeManagerError:
		m.Error = new(ManagerError)
		err = msgpack.Unmarshal(data, m.Error)
	default:
		err = fmt.Errorf("unknown manager response type %q", typ)
	}
	if err != nil {
		panic(err)
	}
}

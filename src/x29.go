package xotpad

/*------------------------------------------------------------------
 *
 * Purpose:	X.29 PAD-message codec: qualified in-band messages for
 *		remote parameter Set/Read/Set-Read/Indicate and
 *		Clear-Invitation, plus the call user-data protocol wrapper.
 *
 *------------------------------------------------------------------*/

const (
	x29Indicate        byte = 0x00
	x29ClearInvitation byte = 0x01
	x29Set             byte = 0x02
	x29Read            byte = 0x04
	x29SetRead         byte = 0x06
)

// X29ParamResult pairs a parameter number with either its value or the
// X3ParamError that occurred reading/writing it.
type X29ParamResult struct {
	Param byte
	Value byte
	Err   *X3ParamError
}

// X29Message is any decoded X.29 PAD message.
type X29Message struct {
	Kind byte // one of x29Set, x29Read, x29SetRead, x29Indicate, x29ClearInvitation

	// Set/SetRead requests and Read's param list reuse Params; for Read
	// only Param is meaningful (Value is always 0 on the wire).
	Params []X29ParamResult
}

// NewX29Set builds a Set message for the given (param, value) pairs.
func NewX29Set(pairs []X29ParamResult) X29Message {
	return X29Message{Kind: x29Set, Params: pairs}
}

// NewX29Read builds a Read message requesting the given parameters.
func NewX29Read(params []byte) X29Message {
	pairs := make([]X29ParamResult, len(params))
	for i, p := range params {
		pairs[i] = X29ParamResult{Param: p}
	}
	return X29Message{Kind: x29Read, Params: pairs}
}

// NewX29SetRead builds a Set-Read message for the given (param, value) pairs.
func NewX29SetRead(pairs []X29ParamResult) X29Message {
	return X29Message{Kind: x29SetRead, Params: pairs}
}

// NewX29Indicate builds an Indicate response.
func NewX29Indicate(results []X29ParamResult) X29Message {
	return X29Message{Kind: x29Indicate, Params: results}
}

// NewX29ClearInvitation builds a Clear-Invitation message.
func NewX29ClearInvitation() X29Message {
	return X29Message{Kind: x29ClearInvitation}
}

// EncodeX29Message serializes m into its qualified-channel wire form.
func EncodeX29Message(m X29Message) ([]byte, error) {
	buf := []byte{m.Kind}
	switch m.Kind {
	case x29Set, x29SetRead:
		for _, p := range m.Params {
			if p.Param > 0x7F {
				return nil, &PacketMalformed{Reason: "x29: parameter out of range"}
			}
			buf = append(buf, p.Param, p.Value)
		}
	case x29Read:
		for _, p := range m.Params {
			if p.Param > 0x7F {
				return nil, &PacketMalformed{Reason: "x29: parameter out of range"}
			}
			buf = append(buf, p.Param, 0)
		}
	case x29Indicate:
		for _, p := range m.Params {
			if p.Param > 0x7F {
				return nil, &PacketMalformed{Reason: "x29: parameter out of range"}
			}
			if p.Err == nil {
				buf = append(buf, p.Param, p.Value)
			} else {
				buf = append(buf, p.Param|0x80, x3ErrorCode(p.Err))
			}
		}
	case x29ClearInvitation:
		// no payload
	default:
		return nil, &PacketMalformed{Reason: "x29: unknown message kind"}
	}
	return buf, nil
}

// DecodeX29Message parses the qualified-channel wire form of an X.29
// message.
func DecodeX29Message(buf []byte) (X29Message, error) {
	if len(buf) < 1 {
		return X29Message{}, &PacketMalformed{Reason: "x29: message too short"}
	}
	code, rest := buf[0], buf[1:]

	switch code {
	case x29Set:
		pairs, err := decodeParamPairs(rest)
		if err != nil {
			return X29Message{}, err
		}
		return X29Message{Kind: x29Set, Params: pairs}, nil

	case x29Read:
		pairs, err := decodeParamPairs(rest)
		if err != nil {
			return X29Message{}, err
		}
		for _, p := range pairs {
			if p.Value != 0 {
				return X29Message{}, &PacketMalformed{Reason: "x29: invalid request in read message"}
			}
		}
		return X29Message{Kind: x29Read, Params: pairs}, nil

	case x29SetRead:
		pairs, err := decodeParamPairs(rest)
		if err != nil {
			return X29Message{}, err
		}
		return X29Message{Kind: x29SetRead, Params: pairs}, nil

	case x29Indicate:
		results, err := decodeParamResults(rest)
		if err != nil {
			return X29Message{}, err
		}
		return X29Message{Kind: x29Indicate, Params: results}, nil

	case x29ClearInvitation:
		if len(rest) > 0 {
			return X29Message{}, &PacketMalformed{Reason: "x29: clear-invitation body must be empty"}
		}
		return X29Message{Kind: x29ClearInvitation}, nil

	default:
		return X29Message{}, &PacketUnsupported{Type: code}
	}
}

func decodeParamPairs(buf []byte) ([]X29ParamResult, error) {
	if len(buf)%2 != 0 {
		return nil, &PacketMalformed{Reason: "x29: expected even number of bytes"}
	}
	pairs := make([]X29ParamResult, 0, len(buf)/2)
	for i := 0; i < len(buf); i += 2 {
		pairs = append(pairs, X29ParamResult{Param: buf[i], Value: buf[i+1]})
	}
	return pairs, nil
}

func decodeParamResults(buf []byte) ([]X29ParamResult, error) {
	if len(buf)%2 != 0 {
		return nil, &PacketMalformed{Reason: "x29: expected even number of bytes"}
	}
	results := make([]X29ParamResult, 0, len(buf)/2)
	for i := 0; i < len(buf); i += 2 {
		param, value := buf[i], buf[i+1]
		if param&0x80 == 0 {
			results = append(results, X29ParamResult{Param: param, Value: value})
		} else {
			results = append(results, X29ParamResult{Param: param & 0x7F, Err: x3ErrorFromCode(value)})
		}
	}
	return results, nil
}

const x29MaxCallData = 12

// X29CallUserData is the call-user-data carried on Call Request/Accept
// for PAD sessions: a fixed 4-byte protocol identifier followed by up to
// 12 bytes of call data.
type X29CallUserData struct {
	Protocol [4]byte
	CallData []byte
}

var x29PadProtocol = [4]byte{0x01, 0x00, 0x00, 0x00}

// NewX29CallUserData builds call-user-data tagged with the PAD protocol
// identifier.
func NewX29CallUserData(callData []byte) (X29CallUserData, error) {
	if len(callData) > x29MaxCallData {
		return X29CallUserData{}, &PacketMalformed{Reason: "x29: call data too long"}
	}
	return X29CallUserData{Protocol: x29PadProtocol, CallData: callData}, nil
}

// IsPadProtocol reports whether the protocol identifier matches the PAD
// convention (01 00 00 00).
func (c X29CallUserData) IsPadProtocol() bool {
	return c.Protocol == x29PadProtocol
}

func (c X29CallUserData) Encode() []byte {
	buf := append([]byte(nil), c.Protocol[:]...)
	return append(buf, c.CallData...)
}

func DecodeX29CallUserData(buf []byte) (X29CallUserData, error) {
	if len(buf) < 4 {
		return X29CallUserData{}, &PacketMalformed{Reason: "x29: call user data too short"}
	}
	var c X29CallUserData
	copy(c.Protocol[:], buf[:4])
	c.CallData = append([]byte(nil), buf[4:]...)
	return c, nil
}

package sim

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Response is the handshake a function gives to one transaction.
type Response uint8

// Handshakes.
const (
	ACK        Response = iota // data accepted or delivered
	NAK                        // endpoint busy
	Stall                      // request not supported or endpoint halted
	XactErr                    // no handshake, CRC or bit-stuff error
	Babble                     // device talked past the end of the packet
	NoResponse                 // channel never halts
)

// String returns the handshake name.
func (r Response) String() string {
	switch r {
	case ACK:
		return "ACK"
	case NAK:
		return "NAK"
	case Stall:
		return "STALL"
	case XactErr:
		return "XACTERR"
	case Babble:
		return "BABBLE"
	case NoResponse:
		return "NONE"
	default:
		return "?"
	}
}

// Token is the kind of transaction the host started.
type Token uint8

// Tokens. TokenAny only appears in a Fault.
const (
	TokenAny Token = iota
	TokenSetup
	TokenIn
	TokenOut
)

// String returns the token name.
func (t Token) String() string {
	switch t {
	case TokenSetup:
		return "SETUP"
	case TokenIn:
		return "IN"
	case TokenOut:
		return "OUT"
	default:
		return "ANY"
	}
}

// AnyEndpoint makes a Fault match every endpoint.
const AnyEndpoint uint8 = 0xFF

// Fault overrides the function's handshake for matching transactions.
//
// Endpoint is an endpoint number for control traffic (0) or a full endpoint
// address for data endpoints (0x81, 0x02). Count limits how many
// transactions are affected; zero or less means every one.
type Fault struct {
	Token    Token
	Endpoint uint8
	Response Response
	Count    int
}

func (f *Fault) matches(tok Token, endpoint uint8) bool {
	if f.Token != TokenAny && f.Token != tok {
		return false
	}
	if f.Endpoint == AnyEndpoint {
		return true
	}
	if endpoint&0x0F == 0 {
		return f.Endpoint&0x0F == 0
	}
	return f.Endpoint == endpoint
}

// ErrBadFault is returned by ParseFault for a malformed description.
var ErrBadFault = errors.New("bad fault")

// ParseFault parses "token:endpoint:response[:count]", for example
// "in:0:nak:3" or "out:0x02:stall". token is any, setup, in or out; endpoint
// is a number or "*" for every endpoint.
func ParseFault(s string) (Fault, error) {
	parts := strings.Split(strings.ToLower(s), ":")
	if len(parts) < 3 || len(parts) > 4 {
		return Fault{}, fmt.Errorf("%w: %q: want token:endpoint:response[:count]", ErrBadFault, s)
	}

	var f Fault
	switch parts[0] {
	case "any", "*":
		f.Token = TokenAny
	case "setup":
		f.Token = TokenSetup
	case "in":
		f.Token = TokenIn
	case "out":
		f.Token = TokenOut
	default:
		return Fault{}, fmt.Errorf("%w: token %q", ErrBadFault, parts[0])
	}

	if parts[1] == "*" {
		f.Endpoint = AnyEndpoint
	} else {
		ep, err := strconv.ParseUint(parts[1], 0, 8)
		if err != nil {
			return Fault{}, fmt.Errorf("%w: endpoint %q", ErrBadFault, parts[1])
		}
		f.Endpoint = uint8(ep)
	}

	switch parts[2] {
	case "ack":
		f.Response = ACK
	case "nak":
		f.Response = NAK
	case "stall":
		f.Response = Stall
	case "xacterr", "xact":
		f.Response = XactErr
	case "babble":
		f.Response = Babble
	case "none":
		f.Response = NoResponse
	default:
		return Fault{}, fmt.Errorf("%w: response %q", ErrBadFault, parts[2])
	}

	if len(parts) == 4 {
		n, err := strconv.Atoi(parts[3])
		if err != nil {
			return Fault{}, fmt.Errorf("%w: count %q", ErrBadFault, parts[3])
		}
		f.Count = n
	}
	return f, nil
}

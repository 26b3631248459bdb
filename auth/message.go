package auth

import "bytes"

// MessageType classifies a Negotiate token by its leading bytes.
type MessageType string

const (
	MessageUnknown            MessageType = "Unknown"
	MessageNTLMNegotiate      MessageType = "NTLM_NEGOTIATE_01"
	MessageNTLMChallenge      MessageType = "NTLM_CHALLENGE_02"
	MessageNTLMAuthenticate   MessageType = "NTLM_AUTHENTICATE_03"
	MessageKerberosInitial    MessageType = "Kerberos_1"
	MessageKerberosContinuing MessageType = "Kerberos_N"
)

// Method is the mechanism that Negotiate settled on.
type Method string

const (
	MethodUnknown  Method = ""
	MethodNTLM     Method = "NTLM"
	MethodKerberos Method = "Kerberos"
)

var ntlmSignature = []byte("NTLMSSP\x00")

const (
	gssInitialTokenTag = 0x60 // [APPLICATION 0] InitialContextToken
	spnegoNegTokenResp = 0xa1 // [1] NegTokenResp
)

// DetectMessageType sniffs a decoded token. NTLMSSP messages wrapped inside
// SPNEGO are reported as their NTLM type.
func DetectMessageType(token []byte) MessageType {
	if len(token) == 0 {
		return MessageUnknown
	}
	if i := bytes.Index(token, ntlmSignature); i >= 0 {
		typeOffset := i + len(ntlmSignature)
		if typeOffset < len(token) {
			switch token[typeOffset] {
			case 1:
				return MessageNTLMNegotiate
			case 2:
				return MessageNTLMChallenge
			case 3:
				return MessageNTLMAuthenticate
			}
		}
		return MessageUnknown
	}
	switch token[0] {
	case gssInitialTokenTag:
		return MessageKerberosInitial
	case spnegoNegTokenResp:
		return MessageKerberosContinuing
	}
	return MessageUnknown
}

// MethodOf maps a message type to its mechanism.
func MethodOf(t MessageType) Method {
	switch t {
	case MessageNTLMNegotiate, MessageNTLMChallenge, MessageNTLMAuthenticate:
		return MethodNTLM
	case MessageKerberosInitial, MessageKerberosContinuing:
		return MethodKerberos
	}
	return MethodUnknown
}

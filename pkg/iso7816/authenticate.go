package iso7816

// AUTHENTICATION COMMANDS (ISO 7816-4 / 7816-8):
//
// GET CHALLENGE (INS '84') asks the card for a random number. The length of
// the challenge is set by Le; ICAO access control uses 8 bytes.
//
// EXTERNAL AUTHENTICATE (INS '82') sends host authentication data computed
// over a previously obtained challenge and expects the card's counterpart.
//
// MANAGE SECURITY ENVIRONMENT (INS '22') configures the security context.
// Two templates matter here:
//   - Set AT (P1='C1'/'41', P2='A4'): select an authentication protocol by
//     OID and reference the key/domain parameters to use.
//   - Key Agreement Template, KAT (P1='41', P2='A6'): submit key-agreement
//     data (an ephemeral public key) in one shot.
//
// GENERAL AUTHENTICATE (INS '86') carries the rounds of a multi-step
// authentication protocol. Each round's payload is a Dynamic Authentication
// Data object '7C'; all rounds but the last set the chaining bit in CLA.

// MSE P1-P2 templates used by the ICAO access-control protocols.
const (
	MSESetATMutualAuth byte = 0xC1 // P1 for Set AT, mutual authentication
	MSESetATIntAuth    byte = 0x41 // P1 for Set AT, internal authentication
	MSEP2AT            byte = 0xA4 // P2 selecting the AT template
	MSEP2KAT           byte = 0xA6 // P2 selecting the KAT template
)

// GetChallenge creates a GET CHALLENGE command requesting ne random bytes.
func GetChallenge(cla Class, ne int) *CommandAPDU {
	ins, _ := NewInstruction(INS_GET_CHALLENGE)
	return NewCommandAPDU(cla, ins, 0x00, 0x00, nil, ne)
}

// ExternalAuthenticate creates an EXTERNAL AUTHENTICATE command carrying
// host cryptogram data and expecting ne bytes back.
func ExternalAuthenticate(cla Class, data []byte, ne int) *CommandAPDU {
	ins, _ := NewInstruction(INS_EXTERNAL_AUTHENTICATE)
	return NewCommandAPDU(cla, ins, 0x00, 0x00, data, ne)
}

// ManageSecurityEnvironment creates an MSE command for the given template.
func ManageSecurityEnvironment(cla Class, p1, p2 byte, data []byte) *CommandAPDU {
	ins, _ := NewInstruction(INS_MANAGE_SECURITY_ENVIRONMENT)
	return NewCommandAPDU(cla, ins, p1, p2, data, 0)
}

// GeneralAuthenticate creates one round of a GENERAL AUTHENTICATE exchange.
// The caller passes the encoded '7C' dynamic authentication data object.
// When more rounds follow, chained must be set so the card keeps the
// protocol state open.
func GeneralAuthenticate(cla Class, data []byte, ne int, chained bool) *CommandAPDU {
	cla.IsChained = chained
	if raw, err := cla.Encode(); err == nil {
		cla.Raw = raw
	}

	ins, _ := NewInstruction(INS_GENERAL_AUTHENTICATE)
	return NewCommandAPDU(cla, ins, 0x00, 0x00, data, ne)
}

package mrtd

import (
	"bytes"
	"errors"
	"testing"

	"github.com/gregLibert/mrtd/pkg/iso7816"
)

func newBACWrapper(t *testing.T) *smWrapper {
	t.Helper()
	// Session keys and counter from the Doc 9303 BAC worked example.
	w, err := NewDESedeWrapper(
		mustHex(t, "979EC13B1CBFE9DCD01AB0FED307EAE5"),
		mustHex(t, "F1CB1F1FB5ADF208806B89DC579DC1F8"),
		0x887022120C06C226,
		iso7816.MaxShortLe)
	if err != nil {
		t.Fatalf("NewDESedeWrapper failed: %v", err)
	}
	return w.(*smWrapper)
}

func newTestAESWrapper(t *testing.T) *smWrapper {
	t.Helper()
	w, err := NewAESWrapper(
		mustHex(t, "000102030405060708090A0B0C0D0E0F"),
		mustHex(t, "F0E0D0C0B0A090807060504030201000"),
		iso7816.MaxExtendedLe)
	if err != nil {
		t.Fatalf("NewAESWrapper failed: %v", err)
	}
	return w.(*smWrapper)
}

func selectCommand(t *testing.T, data []byte) *iso7816.CommandAPDU {
	t.Helper()
	cls, err := iso7816.NewClass(0x00)
	if err != nil {
		t.Fatalf("NewClass failed: %v", err)
	}
	ins, err := iso7816.NewInstruction(iso7816.INS_SELECT)
	if err != nil {
		t.Fatalf("NewInstruction failed: %v", err)
	}
	return iso7816.NewCommandAPDU(cls, ins, 0x02, 0x0C, data, 0)
}

func TestWrap_SelectVector(t *testing.T) {
	// Doc 9303 part 11, appendix D: protected SELECT EF.COM.
	w := newBACWrapper(t)

	wrapped, err := w.Wrap(selectCommand(t, mustHex(t, "011E")))
	if err != nil {
		t.Fatalf("Wrap failed: %v", err)
	}
	raw, err := wrapped.Bytes()
	if err != nil {
		t.Fatalf("Encoding failed: %v", err)
	}

	expected := "0CA4020C158709016375432908C044F68E08BF8B92D635FF24F800"
	if got := hexUpper(raw); got != expected {
		t.Errorf("Got %s\nwant %s", got, expected)
	}
}

// cardRespond plays the chip's half of the channel: it protects response
// data and a status word under the counter value the wrapper verifies with.
func cardRespond(t *testing.T, suite smCipher, plain []byte, sw1, sw2 byte) *iso7816.ResponseAPDU {
	t.Helper()
	var body []byte
	if len(plain) > 0 {
		ct, err := suite.encrypt(plain)
		if err != nil {
			t.Fatalf("Response encryption failed: %v", err)
		}
		body = appendDO(body, 0x87, append([]byte{0x01}, ct...))
	}
	body = appendDO(body, 0x99, []byte{sw1, sw2})

	mac, err := suite.mac(body)
	if err != nil {
		t.Fatalf("Response MAC failed: %v", err)
	}
	body = appendDO(body, 0x8E, mac)

	return &iso7816.ResponseAPDU{Data: body, Status: iso7816.NewStatusWord(sw1, sw2)}
}

func TestUnwrap_RoundTrip(t *testing.T) {
	suites := []struct {
		name string
		make func(t *testing.T) *smWrapper
	}{
		{"DESede", newBACWrapper},
		{"AES", newTestAESWrapper},
	}

	for _, s := range suites {
		t.Run(s.name, func(t *testing.T) {
			w := s.make(t)
			if _, err := w.Wrap(selectCommand(t, mustHex(t, "011E"))); err != nil {
				t.Fatalf("Wrap failed: %v", err)
			}

			// The chip answers under the same counter value.
			card := w.suite.clone()
			plain := mustHex(t, "60145F0104303130375F36063034303030305C026175")
			resp, err := w.Unwrap(cardRespond(t, card, plain, 0x90, 0x00))
			if err != nil {
				t.Fatalf("Unwrap failed: %v", err)
			}
			if !bytes.Equal(resp.Data, plain) {
				t.Errorf("Data: got %s, want %s", hexUpper(resp.Data), hexUpper(plain))
			}
			if !resp.Status.IsSuccess() {
				t.Errorf("Status: got %v", resp.Status)
			}
		})
	}
}

func TestUnwrap_StatusOnly(t *testing.T) {
	w := newBACWrapper(t)
	if _, err := w.Wrap(selectCommand(t, mustHex(t, "011E"))); err != nil {
		t.Fatalf("Wrap failed: %v", err)
	}

	card := w.suite.clone()
	resp, err := w.Unwrap(cardRespond(t, card, nil, 0x6A, 0x82))
	if err != nil {
		t.Fatalf("Unwrap failed: %v", err)
	}
	if resp.Status != iso7816.NewStatusWord(0x6A, 0x82) {
		t.Errorf("Status: got %v, want 6A82", resp.Status)
	}
	if len(resp.Data) != 0 {
		t.Error("Expected no data")
	}
}

func TestUnwrap_BareStatusPassesThrough(t *testing.T) {
	w := newBACWrapper(t)
	resp, err := w.Unwrap(&iso7816.ResponseAPDU{Status: iso7816.NewStatusWord(0x69, 0x82)})
	if err != nil {
		t.Fatalf("Unwrap failed: %v", err)
	}
	if resp.Status != iso7816.NewStatusWord(0x69, 0x82) {
		t.Errorf("Status: got %v, want 6982", resp.Status)
	}
}

func TestUnwrap_MACMismatch(t *testing.T) {
	w := newBACWrapper(t)
	if _, err := w.Wrap(selectCommand(t, mustHex(t, "011E"))); err != nil {
		t.Fatalf("Wrap failed: %v", err)
	}

	card := w.suite.clone()
	resp := cardRespond(t, card, mustHex(t, "AABB"), 0x90, 0x00)
	resp.Data[len(resp.Data)-1] ^= 0xFF

	_, err := w.Unwrap(resp)
	var secErr *SecurityError
	if !errors.As(err, &secErr) || secErr.Check != "sm-mac" {
		t.Fatalf("Expected an sm-mac security error, got %v", err)
	}
}

func TestUnwrap_MissingMAC(t *testing.T) {
	w := newBACWrapper(t)
	resp := &iso7816.ResponseAPDU{
		Data:   appendDO(nil, 0x99, []byte{0x90, 0x00}),
		Status: iso7816.NewStatusWord(0x90, 0x00),
	}

	_, err := w.Unwrap(resp)
	var secErr *SecurityError
	if !errors.As(err, &secErr) || secErr.Check != "sm-mac" {
		t.Fatalf("Expected an sm-mac security error, got %v", err)
	}
}

func TestUnwrap_MissingPaddingIndicator(t *testing.T) {
	w := newBACWrapper(t)
	if _, err := w.Wrap(selectCommand(t, mustHex(t, "011E"))); err != nil {
		t.Fatalf("Wrap failed: %v", err)
	}

	card := w.suite.clone()
	ct, err := card.encrypt(mustHex(t, "AABB"))
	if err != nil {
		t.Fatalf("encrypt failed: %v", err)
	}
	body := appendDO(nil, 0x87, ct) // indicator byte deliberately absent
	mac, err := card.mac(body)
	if err != nil {
		t.Fatalf("mac failed: %v", err)
	}
	body = appendDO(body, 0x8E, mac)

	_, err = w.Unwrap(&iso7816.ResponseAPDU{Data: body, Status: iso7816.NewStatusWord(0x90, 0x00)})
	var protoErr *ProtocolError
	if !errors.As(err, &protoErr) {
		t.Fatalf("Expected a protocol error, got %v", err)
	}
}

func TestWrap_CounterDiscipline(t *testing.T) {
	w := newBACWrapper(t)
	before := w.suite.(*desedeSuite).ssc

	if _, err := w.Wrap(selectCommand(t, mustHex(t, "011E"))); err != nil {
		t.Fatalf("Wrap failed: %v", err)
	}
	if got := w.suite.(*desedeSuite).ssc; got != before+1 {
		t.Fatalf("Wrap must advance the counter exactly once: %d -> %d", before, got)
	}

	// Unwrap verifies under the same value and leaves it untouched.
	card := w.suite.clone()
	if _, err := w.Unwrap(cardRespond(t, card, nil, 0x90, 0x00)); err != nil {
		t.Fatalf("Unwrap failed: %v", err)
	}
	if got := w.suite.(*desedeSuite).ssc; got != before+1 {
		t.Errorf("Unwrap must not advance the counter: %d -> %d", before, got)
	}
}

func TestWrapper_Clone(t *testing.T) {
	w := newBACWrapper(t)
	snapshot := w.Clone()

	cmd := selectCommand(t, mustHex(t, "011E"))
	first, err := w.Wrap(cmd)
	if err != nil {
		t.Fatalf("Wrap failed: %v", err)
	}
	if _, err := w.Wrap(selectCommand(t, mustHex(t, "011D"))); err != nil {
		t.Fatalf("Wrap failed: %v", err)
	}

	// The snapshot still holds the counter value before the first command.
	replay, err := snapshot.Wrap(selectCommand(t, mustHex(t, "011E")))
	if err != nil {
		t.Fatalf("Wrap on snapshot failed: %v", err)
	}

	a, _ := first.Bytes()
	b, _ := replay.Bytes()
	if !bytes.Equal(a, b) {
		t.Error("Snapshot does not reproduce the original channel state")
	}
}

func TestWrap_ExtendedLength(t *testing.T) {
	w := newTestAESWrapper(t)
	cls, _ := iso7816.NewClass(0x00)
	ins, _ := iso7816.NewInstruction(iso7816.INS_READ_BINARY)
	cmd := iso7816.NewCommandAPDU(cls, ins, 0x00, 0x00, nil, 1024)

	wrapped, err := w.Wrap(cmd)
	if err != nil {
		t.Fatalf("Wrap failed: %v", err)
	}

	// DO'97' carries the two-byte expected length and the wrapped command
	// asks for an extended response.
	if !bytes.Contains(wrapped.Data, []byte{0x97, 0x02, 0x04, 0x00}) {
		t.Errorf("Expected a two-byte DO'97' in %s", hexUpper(wrapped.Data))
	}
	if wrapped.Ne != iso7816.MaxExtendedLe {
		t.Errorf("Ne: got %d, want %d", wrapped.Ne, iso7816.MaxExtendedLe)
	}
}

func TestWrapper_Destroy(t *testing.T) {
	w := newBACWrapper(t)
	suite := w.suite.(*desedeSuite)
	w.Destroy()

	if !bytes.Equal(suite.ksEnc, make([]byte, 16)) || !bytes.Equal(suite.ksMac, make([]byte, 16)) {
		t.Error("Session keys not zeroized")
	}
}

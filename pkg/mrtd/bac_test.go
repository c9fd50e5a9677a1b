package mrtd

import (
	"bytes"
	"errors"
	"testing"

	"github.com/gregLibert/mrtd/pkg/iso7816"
)

// scriptedCard plays a fixed exchange: each step checks the received
// command and returns the canned response.
type scriptedCard struct {
	t     *testing.T
	steps []scriptStep
	pos   int
}

type scriptStep struct {
	cmd  string // expected command hex, "" to skip the check
	resp string // response including the status word
	err  error
}

func (c *scriptedCard) Transmit(cmd []byte) ([]byte, error) {
	if c.pos >= len(c.steps) {
		c.t.Fatalf("Unexpected command %s after the script ended", hexUpper(cmd))
	}
	step := c.steps[c.pos]
	c.pos++

	if step.cmd != "" && hexUpper(cmd) != step.cmd {
		c.t.Fatalf("Step %d: got command %s, want %s", c.pos, hexUpper(cmd), step.cmd)
	}
	if step.err != nil {
		return nil, step.err
	}
	return mustHex(c.t, step.resp), nil
}

func (c *scriptedCard) done() {
	if c.pos != len(c.steps) {
		c.t.Errorf("Script ended after %d of %d steps", c.pos, len(c.steps))
	}
}

func bacTestKey(t *testing.T) *AccessKey {
	t.Helper()
	key, err := NewMRZKey("L898902C", "690806", "940623")
	if err != nil {
		t.Fatalf("NewMRZKey failed: %v", err)
	}
	return key
}

// Doc 9303 part 11, appendix D worked example.
const (
	bacChallengeCmd  = "0084000008"
	bacChallengeResp = "4608F91988702212" + "9000"
	bacMutualCmd     = "0082000028" +
		"72C29C2371CC9BDB65B779B8E8D37B29ECC154AA56A8799FAE2F498F76ED92F2" +
		"5F1448EEA8AD90A7" + "28"
	bacMutualResp = "46B9342A41396CD7386BF5803104D7CE" +
		"DC122B9132139BAF2EEDC94EE178534F" +
		"2F2D235D074D7449" + "9000"
	bacHostEntropy = "781723860C06C226" + "0B795240CB7049B01C19B33E32804F0B"
)

func TestPerformBAC_WorkedExample(t *testing.T) {
	card := &scriptedCard{t: t, steps: []scriptStep{
		{cmd: bacChallengeCmd, resp: bacChallengeResp},
		{cmd: bacMutualCmd, resp: bacMutualResp},
	}}
	rng := bytes.NewReader(mustHex(t, bacHostEntropy))

	w, err := performBAC(iso7816.NewClient(card), bacTestKey(t), rng, iso7816.MaxShortLe)
	if err != nil {
		t.Fatalf("performBAC failed: %v", err)
	}
	card.done()

	suite := w.(*smWrapper).suite.(*desedeSuite)
	if got := hexUpper(suite.ksEnc); got != "979EC13B1CBFE9DCD01AB0FED307EAE5" {
		t.Errorf("KSenc: got %s", got)
	}
	if got := hexUpper(suite.ksMac); got != "F1CB1F1FB5ADF208806B89DC579DC1F8" {
		t.Errorf("KSmac: got %s", got)
	}
	if suite.ssc != 0x887022120C06C226 {
		t.Errorf("SSC: got %016X, want 887022120C06C226", suite.ssc)
	}
}

func TestPerformBAC_ChallengeRefused(t *testing.T) {
	card := &scriptedCard{t: t, steps: []scriptStep{
		{cmd: bacChallengeCmd, resp: "6982"},
	}}

	_, err := performBAC(iso7816.NewClient(card), bacTestKey(t), bytes.NewReader(mustHex(t, bacHostEntropy)), iso7816.MaxShortLe)
	var protoErr *ProtocolError
	if !errors.As(err, &protoErr) || protoErr.Step != 2 {
		t.Fatalf("Expected a step 2 protocol error, got %v", err)
	}
}

func TestPerformBAC_WrongKeyRejected(t *testing.T) {
	card := &scriptedCard{t: t, steps: []scriptStep{
		{cmd: bacChallengeCmd, resp: bacChallengeResp},
		{cmd: bacMutualCmd, resp: "6300"},
	}}

	_, err := performBAC(iso7816.NewClient(card), bacTestKey(t), bytes.NewReader(mustHex(t, bacHostEntropy)), iso7816.MaxShortLe)
	var protoErr *ProtocolError
	if !errors.As(err, &protoErr) || protoErr.Step != 4 {
		t.Fatalf("Expected a step 4 protocol error, got %v", err)
	}
}

func TestPerformBAC_CryptogramMACMismatch(t *testing.T) {
	tampered := mustHex(t, bacMutualResp)
	tampered[35] ^= 0xFF // inside M.ICC

	card := &scriptedCard{t: t, steps: []scriptStep{
		{cmd: bacChallengeCmd, resp: bacChallengeResp},
		{cmd: bacMutualCmd, resp: hexUpper(tampered)},
	}}

	_, err := performBAC(iso7816.NewClient(card), bacTestKey(t), bytes.NewReader(mustHex(t, bacHostEntropy)), iso7816.MaxShortLe)
	var secErr *SecurityError
	if !errors.As(err, &secErr) || secErr.Check != "bac-mac" {
		t.Fatalf("Expected a bac-mac security error, got %v", err)
	}
}

func TestPerformBAC_RequiresMRZKey(t *testing.T) {
	can, err := NewCANKey("123456")
	if err != nil {
		t.Fatalf("NewCANKey failed: %v", err)
	}

	card := &scriptedCard{t: t}
	_, err = performBAC(iso7816.NewClient(card), can, nil, iso7816.MaxShortLe)
	var protoErr *ProtocolError
	if !errors.As(err, &protoErr) || protoErr.Step != 1 {
		t.Fatalf("Expected a step 1 protocol error, got %v", err)
	}
}

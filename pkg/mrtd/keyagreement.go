package mrtd

import (
	"crypto/elliptic"
	"fmt"
	"io"
	"math/big"

	"github.com/gregLibert/mrtd/pkg/icao"
)

// Ephemeral key agreement for PACE and Chip Authentication. Both protocols
// run either elliptic-curve or classic Diffie-Hellman; PACE additionally
// rebases the generator mid-protocol, so key pairs are generated against an
// explicit generator rather than whatever the curve carries.

// keyAgreement is one party's ephemeral key pair.
type keyAgreement interface {
	// publicBytes returns the wire encoding of the public value: an
	// uncompressed point for EC, the padded big-endian integer for DH.
	publicBytes() []byte
	// sharedSecret computes the agreed value with the peer's public
	// encoding: the x-coordinate for EC, the padded integer for DH.
	sharedSecret(peer []byte) ([]byte, error)
	// sharedPoint computes the full agreed element, as needed by the
	// generic mapping: both coordinates for EC, the integer (with a nil
	// second value) for DH.
	sharedPoint(peer []byte) (*big.Int, *big.Int, error)
	destroy()
}

type ecdhPair struct {
	curve elliptic.Curve
	d     []byte
	x, y  *big.Int
}

// newECDHPair generates a key pair on the given generator. Passing the
// curve's own base point gives a standard pair; PACE passes the mapped
// generator for its second round.
func newECDHPair(curve elliptic.Curve, gx, gy *big.Int, rng io.Reader) (*ecdhPair, error) {
	d, err := randomScalar(curve.Params().N, rng)
	if err != nil {
		return nil, err
	}
	x, y := curve.ScalarMult(gx, gy, d)
	if x.Sign() == 0 && y.Sign() == 0 {
		wipe(d)
		return nil, fmt.Errorf("degenerate ephemeral key")
	}
	return &ecdhPair{curve: curve, d: d, x: x, y: y}, nil
}

func (p *ecdhPair) publicBytes() []byte {
	return elliptic.Marshal(p.curve, p.x, p.y)
}

func (p *ecdhPair) sharedPoint(peer []byte) (*big.Int, *big.Int, error) {
	px, py := elliptic.Unmarshal(p.curve, peer)
	if px == nil {
		return nil, nil, fmt.Errorf("peer public key is not a point on the curve")
	}
	if px.Cmp(p.x) == 0 && py.Cmp(p.y) == 0 {
		// A card echoing our own key defeats the agreement.
		return nil, nil, fmt.Errorf("peer public key equals our own")
	}
	sx, sy := p.curve.ScalarMult(px, py, p.d)
	if sx.Sign() == 0 && sy.Sign() == 0 {
		return nil, nil, fmt.Errorf("degenerate shared point")
	}
	return sx, sy, nil
}

func (p *ecdhPair) sharedSecret(peer []byte) ([]byte, error) {
	sx, sy, err := p.sharedPoint(peer)
	if err != nil {
		return nil, err
	}
	defer sy.SetInt64(0)
	out := padToLen(sx.Bytes(), (p.curve.Params().BitSize+7)/8)
	sx.SetInt64(0)
	return out, nil
}

func (p *ecdhPair) destroy() {
	wipe(p.d)
}

type dhPair struct {
	params *icao.DHParams
	g      *big.Int // generator in use, standard or mapped
	x      *big.Int
	y      *big.Int
}

func newDHPair(params *icao.DHParams, g *big.Int, rng io.Reader) (*dhPair, error) {
	order := params.Q
	if order == nil {
		order = new(big.Int).Sub(params.P, big.NewInt(1))
	}
	xb, err := randomScalar(order, rng)
	if err != nil {
		return nil, err
	}
	x := new(big.Int).SetBytes(xb)
	wipe(xb)
	y := new(big.Int).Exp(g, x, params.P)
	return &dhPair{params: params, g: g, x: x, y: y}, nil
}

func (p *dhPair) publicBytes() []byte {
	return padToLen(p.y.Bytes(), len(p.params.P.Bytes()))
}

func (p *dhPair) sharedPoint(peer []byte) (*big.Int, *big.Int, error) {
	py := new(big.Int).SetBytes(peer)
	if py.Cmp(big.NewInt(1)) <= 0 || py.Cmp(new(big.Int).Sub(p.params.P, big.NewInt(1))) >= 0 {
		return nil, nil, fmt.Errorf("peer public value out of range")
	}
	if py.Cmp(p.y) == 0 {
		return nil, nil, fmt.Errorf("peer public value equals our own")
	}
	s := new(big.Int).Exp(py, p.x, p.params.P)
	if s.Cmp(big.NewInt(1)) <= 0 {
		return nil, nil, fmt.Errorf("degenerate shared value")
	}
	return s, nil, nil
}

func (p *dhPair) sharedSecret(peer []byte) ([]byte, error) {
	s, _, err := p.sharedPoint(peer)
	if err != nil {
		return nil, err
	}
	out := padToLen(s.Bytes(), len(p.params.P.Bytes()))
	s.SetInt64(0)
	return out, nil
}

func (p *dhPair) destroy() {
	p.x.SetInt64(0)
}

// newKeyAgreement builds a standard-generator pair for the given domain
// parameters.
func newKeyAgreement(dp *icao.DomainParams, rng io.Reader) (keyAgreement, error) {
	switch {
	case dp.Curve != nil:
		params := dp.Curve.Params()
		return newECDHPair(dp.Curve, params.Gx, params.Gy, rng)
	case dp.DH != nil:
		return newDHPair(dp.DH, dp.DH.G, rng)
	default:
		return nil, fmt.Errorf("domain parameters carry neither a curve nor a DH group")
	}
}

// randomScalar draws a uniform scalar in [1, order-1].
func randomScalar(order *big.Int, rng io.Reader) ([]byte, error) {
	max := new(big.Int).Sub(order, big.NewInt(1))
	k, err := randInt(max, rng)
	if err != nil {
		return nil, err
	}
	k.Add(k, big.NewInt(1)) // [1, order-1]
	b := padToLen(k.Bytes(), (order.BitLen()+7)/8)
	k.SetInt64(0)
	return b, nil
}

// randInt draws a uniform integer in [0, max) by rejection sampling.
func randInt(max *big.Int, rng io.Reader) (*big.Int, error) {
	bitLen := max.BitLen()
	byteLen := (bitLen + 7) / 8
	b := make([]byte, byteLen)
	for {
		if _, err := io.ReadFull(rng, b); err != nil {
			return nil, err
		}
		// Clear excess leading bits so the candidate spans exactly bitLen.
		if excess := byteLen*8 - bitLen; excess > 0 {
			b[0] &= 0xFF >> excess
		}
		k := new(big.Int).SetBytes(b)
		if k.Cmp(max) < 0 {
			wipe(b)
			return k, nil
		}
	}
}

// padToLen left-pads b with zeros to exactly n bytes.
func padToLen(b []byte, n int) []byte {
	if len(b) >= n {
		return b
	}
	out := make([]byte, n)
	copy(out[n-len(b):], b)
	return out
}

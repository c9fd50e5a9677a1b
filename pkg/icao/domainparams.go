package icao

import (
	"crypto/elliptic"
	"fmt"
	"math/big"

	"github.com/ebfe/brainpool"
)

// STANDARDIZED DOMAIN PARAMETERS (Doc 9303 part 11, table 6):
//
// PACEInfo may reference domain parameters by a small integer instead of
// carrying them explicitly. Identifiers 0-2 are the RFC 5114 MODP groups
// with prime-order subgroups; 8-18 are named elliptic curves. The tables
// are immutable and built once at init.

// DHParams is a finite-field Diffie-Hellman group with subgroup order Q.
type DHParams struct {
	P, G, Q *big.Int
}

// DomainParams holds either an elliptic curve or a DH group.
type DomainParams struct {
	ID    int
	Curve elliptic.Curve // nil for DH groups
	DH    *DHParams      // nil for curves
}

// StandardDomainParams resolves a standardized domain-parameter identifier.
func StandardDomainParams(id int) (*DomainParams, error) {
	if c, ok := standardCurves[id]; ok {
		return &DomainParams{ID: id, Curve: c}, nil
	}
	if g, ok := standardGroups[id]; ok {
		return &DomainParams{ID: id, DH: g}, nil
	}
	return nil, fmt.Errorf("standardized domain parameter id %d is unknown", id)
}

// CurveForParams matches explicitly carried EC parameters against the
// named-curve table, used when DG14 spells out a curve instead of naming it.
func CurveForParams(p, b *big.Int) (elliptic.Curve, bool) {
	for _, c := range standardCurves {
		cp := c.Params()
		if cp.P.Cmp(p) == 0 && cp.B.Cmp(b) == 0 {
			return c, true
		}
	}
	return nil, false
}

var standardCurves map[int]elliptic.Curve

var standardGroups map[int]*DHParams

func init() {
	standardCurves = map[int]elliptic.Curve{
		8:  secp192r1(),
		9:  brainpool.P192r1(),
		10: elliptic.P224(),
		11: brainpool.P224r1(),
		12: elliptic.P256(),
		13: brainpool.P256r1(),
		14: brainpool.P320r1(),
		15: elliptic.P384(),
		16: brainpool.P384r1(),
		17: brainpool.P512r1(),
		18: elliptic.P521(),
	}

	standardGroups = map[int]*DHParams{
		0: rfc5114Group(modp1024_160P, modp1024_160G, modp1024_160Q),
		1: rfc5114Group(modp2048_224P, modp2048_224G, modp2048_224Q),
		2: rfc5114Group(modp2048_256P, modp2048_256G, modp2048_256Q),
	}
}

// secp192r1 is absent from crypto/elliptic; its parameters are small enough
// to state inline. Generic CurveParams arithmetic is sufficient here since
// the curve only ever backs key agreement, never signing.
func secp192r1() elliptic.Curve {
	c := &elliptic.CurveParams{Name: "P-192"}
	c.P = hexInt("FFFFFFFFFFFFFFFFFFFFFFFFFFFFFFFEFFFFFFFFFFFFFFFF")
	c.N = hexInt("FFFFFFFFFFFFFFFFFFFFFFFF99DEF836146BC9B1B4D22831")
	c.B = hexInt("64210519E59C80E70FA7E9AB72243049FEB8DEECC146B9B1")
	c.Gx = hexInt("188DA80EB03090F67CBF20EB43A18800F4FF0AFD82FF1012")
	c.Gy = hexInt("07192B95FFC8DA78631011ED6B24CDD573F977A11E794811")
	c.BitSize = 192
	return c
}

func rfc5114Group(p, g, q string) *DHParams {
	return &DHParams{P: hexInt(p), G: hexInt(g), Q: hexInt(q)}
}

func hexInt(s string) *big.Int {
	n, ok := new(big.Int).SetString(s, 16)
	if !ok {
		panic("icao: bad hex constant")
	}
	return n
}

// RFC 5114 section 2.1: 1024-bit MODP group with 160-bit prime order subgroup.
const (
	modp1024_160P = "B10B8F96A080E01DDE92DE5EAE5D54EC52C99FBCFB06A3C6" +
		"9A6A9DCA52D23B616073E28675A23D189838EF1E2EE652C0" +
		"13ECB4AEA906112324975C3CD49B83BFACCBDD7D90C4BD70" +
		"98488E9C219A73724EFFD6FAE5644738FAA31A4FF55BCCC0" +
		"A151AF5F0DC8B4BD45BF37DF365C1A65E68CFDA76D4DA708" +
		"DF1FB2BC2E4A4371"
	modp1024_160G = "A4D1CBD5C3FD34126765A442EFB99905F8104DD258AC507F" +
		"D6406CFF14266D31266FEA1E5C41564B777E690F5504F213" +
		"160217B4B01B886A5E91547F9E2749F4D7FBD7D3B9A92EE1" +
		"909D0D2263F80A76A6A24C087A091F531DBF0A0169B6A28A" +
		"D662A4D18E73AFA32D779D5918D08BC8858F4DCEF97C2A24" +
		"855E6EEB22B3B2E5"
	modp1024_160Q = "F518AA8781A8DF278ABA4E7D64B7CB9D49462353"
)

// RFC 5114 section 2.2: 2048-bit MODP group with 224-bit prime order subgroup.
const (
	modp2048_224P = "AD107E1E9123A9D0D660FAA79559C51FA20D64E5683B9FD1" +
		"B54B1597B61D0A75E6FA141DF95A56DBAF9A3C407BA1DF15" +
		"EB3D688A309C180E1DE6B85A1274A0A66D3F8152AD6AC212" +
		"9037C9EDEFDA4DF8D91E8FEF55B7394B7AD5B7D0B6C12207" +
		"C9F98D11ED34DBF6C6BA0B2C8BBC27BE6A00E0A0B9C49708" +
		"B3BF8A317091883681286130BC8985DB1602E714415D9330" +
		"278273C7DE31EFDC7310F7121FD5A07415987D9ADC0A486D" +
		"CDF93ACC44328387315D75E198C641A480CD86A1B9E587E8" +
		"BE60E69CC928B2B9C52172E413042E9B23F10B0E16E79763" +
		"C9B53DCF4BA80A29E3FB73C16B8E75B97EF363E2FFA31F71" +
		"CF9DE5384E71B81C0AC4DFFE0C10E64F"
	modp2048_224G = "AC4032EF4F2D9AE39DF30B5C8FFDAC506CDEBE7B89998CAF" +
		"74866A08CFE4FFE3A6824A4E10B9A6F0DD921F01A70C4AFA" +
		"AB739D7700C29F52C57DB17C620A8652BE5E9001A8D66AD7" +
		"C17669101999024AF4D027275AC1348BB8A762D0521BC98A" +
		"E247150422EA1ED409939D54DA7460CDB5F6C6B250717CBE" +
		"F180EB34118E98D119529A45D6F834566E3025E316A330EF" +
		"BB77A86F0C1AB15B051AE3D428C8F8ACB70A8137150B8EEB" +
		"10E183EDD19963DDD9E263E4770589EF6AA21E7F5F2FF381" +
		"B539CCE3409D13CD566AFBB48D6C019181E1BCFE94B30269" +
		"EDFE72FE9B6AA4BD7B5A0F1C71CFFF4C19C418E1F6EC0179" +
		"81BC087F2A7065B384B890D3191F2BFA"
	modp2048_224Q = "801C0D34C58D93FE997177101F80535A4738CEBCBF389A99" +
		"B36371EB"
)

// RFC 5114 section 2.3: 2048-bit MODP group with 256-bit prime order subgroup.
const (
	modp2048_256P = "87A8E61DB4B6663CFFBBD19C651959998CEEF608660DD0F2" +
		"5D2CEED4435E3B00E00DF8F1D61957D4FAF7DF4561B2AA30" +
		"16C3D91134096FAA3BF4296D830E9A7C209E0C6497517ABD" +
		"5A8A9D306BCF67ED91F9E6725B4758C022E0B1EF4275BF7B" +
		"6C5BFC11D45F9088B941F54EB1E59BB8BC39A0BF12307F5C" +
		"4FDB70C581B23F76B63ACAE1CAA6B7902D52526735488A0E" +
		"F13C6D9A51BFA4AB3AD8347796524D8EF6A167B5A41825D9" +
		"67E144E5140564251CCACB83E6B486F6B3CA3F7971506026" +
		"C0B857F689962856DED4010ABD0BE621C3A3960A54E710C3" +
		"75F26375D7014103A4B54330C198AF126116D2276E11715F" +
		"693877FAD7EF09CADB094AE91E1A1597"
	modp2048_256G = "3FB32C9B73134D0B2E77506660EDBD484CA7B18F21EF2054" +
		"07F4793A1A0BA12510DBC15077BE463FFF4FED4AAC0BB555" +
		"BE3A6C1B0C6B47B1BC3773BF7E8C6F62901228F8C28CBB18" +
		"A55AE31341000A650196F931C77A57F2DDF463E5E9EC144B" +
		"777DE62AAAB8A8628AC376D282D6ED3864E67982428EBC83" +
		"1D14348F6F2F9193B5045AF2767164E1DFC967C1FB3F2E55" +
		"A4BD1BFFE83B9C80D052B985D182EA0ADB2A3B7313D3FE14" +
		"C8484B1E052588B9B7D2BBD2DF016199ECD06E1557CD0915" +
		"B3353BBB64E0EC377FD028370DF92B52C7891428CDC67EB6" +
		"184B523D1DB246C32F63078490F00EF8D647D148D4795451" +
		"5E2327CFEF98C582664B4C0F6CC41659"
	modp2048_256Q = "8CF83642A709A097B447997640129DA299B1A47D1EB3750B" +
		"A308B0FE64F5FBD3"
)

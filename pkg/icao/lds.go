package icao

import (
	"fmt"
	"strings"

	"github.com/gregLibert/mrtd/pkg/tlv"
)

// LOGICAL DATA STRUCTURE (Doc 9303 part 10):
//
// The eMRTD applet exposes elementary files addressed by 16-bit file
// identifiers. EF.CardAccess lives under the master file and is readable
// before any access control; everything else sits under the applet and
// requires an established secure channel.

// Elementary file identifiers.
const (
	FileCardAccess   uint16 = 0x011C
	FileCardSecurity uint16 = 0x011D // under MF; distinct from EF.SOD below
	FileCOM          uint16 = 0x011E
	FileSOD          uint16 = 0x011D
	FileDG1          uint16 = 0x0101
	FileDG2          uint16 = 0x0102
	FileDG14         uint16 = 0x010E
	FileDG15         uint16 = 0x010F
)

// AppletAID is the application identifier of the eMRTD LDS1 applet.
var AppletAID = []byte{0xA0, 0x00, 0x00, 0x02, 0x47, 0x10, 0x01}

// FileForDataGroup maps a data-group number to its file identifier.
func FileForDataGroup(dg int) (uint16, error) {
	if dg < 1 || dg > 16 {
		return 0, fmt.Errorf("data group %d out of range 1..16", dg)
	}
	return uint16(0x0100 + dg), nil
}

// dgTags maps data-group numbers to the outer tag of their encoding, as
// listed in EF.COM's tag list.
var dgTags = map[int]int{
	1: 0x61, 2: 0x75, 3: 0x63, 4: 0x76, 5: 0x65, 6: 0x66, 7: 0x67,
	8: 0x68, 9: 0x69, 10: 0x6A, 11: 0x6B, 12: 0x6C, 13: 0x6D,
	14: 0x6E, 15: 0x6F, 16: 0x70,
}

// DataGroupForTag maps an LDS outer tag back to its data-group number.
func DataGroupForTag(tag int) (int, error) {
	for dg, t := range dgTags {
		if t == tag {
			return dg, nil
		}
	}
	return 0, fmt.Errorf("tag %02X is not a data-group tag", tag)
}

// ParseCOM decodes the content of EF.COM.
func ParseCOM(data []byte) (*CommonData, error) {
	body, err := tlv.GetValue(data, 0x60)
	if err != nil {
		return nil, fmt.Errorf("EF.COM template missing: %w", err)
	}

	var com CommonData
	if err := tlv.Unmarshal(body, &com); err != nil {
		return nil, fmt.Errorf("EF.COM decode failed: %w", err)
	}
	return &com, nil
}

// CommonData is the decoded content of EF.COM (tag '60').
type CommonData struct {
	LDSVersion     []byte `tlv:"5F01" fmt:"ascii"`
	UnicodeVersion []byte `tlv:"5F36" fmt:"ascii"`
	TagList        []byte `tlv:"5C"`
}

// Describe renders the raw EF.COM fields for trace output.
func (c *CommonData) Describe() string {
	var sb strings.Builder
	tlv.WriteStructFields(&sb, "EF.COM", c)
	return sb.String()
}

// DataGroups returns the data-group numbers present according to the tag
// list. Unknown tags are skipped.
func (c *CommonData) DataGroups() []int {
	var dgs []int
	for _, t := range c.TagList {
		if dg, err := DataGroupForTag(int(t)); err == nil {
			dgs = append(dgs, dg)
		}
	}
	return dgs
}

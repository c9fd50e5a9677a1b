package icao

import (
	"encoding/hex"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func fromHex(t *testing.T, s string) []byte {
	t.Helper()
	b, err := hex.DecodeString(s)
	if err != nil {
		t.Fatalf("Bad hex fixture %q: %v", s, err)
	}
	return b
}

func TestFileForDataGroup(t *testing.T) {
	tests := []struct {
		dg      int
		fid     uint16
		wantErr bool
	}{
		{dg: 1, fid: FileDG1},
		{dg: 2, fid: FileDG2},
		{dg: 14, fid: FileDG14},
		{dg: 16, fid: 0x0110},
		{dg: 0, wantErr: true},
		{dg: 17, wantErr: true},
	}

	for _, tt := range tests {
		fid, err := FileForDataGroup(tt.dg)
		if tt.wantErr {
			if err == nil {
				t.Errorf("DG%d: expected an error", tt.dg)
			}
			continue
		}
		if err != nil {
			t.Errorf("DG%d: %v", tt.dg, err)
			continue
		}
		if fid != tt.fid {
			t.Errorf("DG%d: got %04X, want %04X", tt.dg, fid, tt.fid)
		}
	}
}

func TestDataGroupForTag(t *testing.T) {
	if dg, err := DataGroupForTag(0x6E); err != nil || dg != 14 {
		t.Errorf("Tag 6E: got %d, %v; want 14", dg, err)
	}
	if _, err := DataGroupForTag(0x77); err == nil {
		t.Error("EF.SOD tag should not resolve to a data group")
	}
}

func TestParseCOM(t *testing.T) {
	// LDS 1.7, Unicode 4.0.0, data groups 1, 2 and 14.
	data := fromHex(t, "6015"+
		"5F010430313037"+
		"5F3606303430303030"+
		"5C0361756E")

	com, err := ParseCOM(data)
	if err != nil {
		t.Fatalf("ParseCOM failed: %v", err)
	}

	if got := string(com.LDSVersion); got != "0107" {
		t.Errorf("LDS version: got %q, want 0107", got)
	}
	if got := string(com.UnicodeVersion); got != "040000" {
		t.Errorf("Unicode version: got %q, want 040000", got)
	}
	if diff := cmp.Diff([]int{1, 2, 14}, com.DataGroups()); diff != "" {
		t.Errorf("Data groups mismatch (-want +got):\n%s", diff)
	}
}

func TestCommonData_Describe(t *testing.T) {
	com, err := ParseCOM(fromHex(t, "6015"+
		"5F010430313037"+
		"5F3606303430303030"+
		"5C0361756E"))
	if err != nil {
		t.Fatalf("ParseCOM failed: %v", err)
	}

	expected := []string{
		`EF.COM.LDSVersion (5F01): 30313037 ("0107")`,
		`EF.COM.UnicodeVersion (5F36): 303430303030 ("040000")`,
		`EF.COM.TagList (5C): 61756E`,
	}
	got := com.Describe()
	for _, line := range expected {
		if !strings.Contains(got, line) {
			t.Errorf("Describe output missing %q:\n%s", line, got)
		}
	}
}

func TestParseCOM_Malformed(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"Empty", nil},
		{"Wrong template tag", fromHex(t, "61025C00")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseCOM(tt.data); err == nil {
				t.Error("Expected an error")
			}
		})
	}
}

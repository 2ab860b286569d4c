package protocol

import (
	"errors"
	"fmt"
	"strings"
)

// CraftType tags the editor a craft was built in.
type CraftType byte

const (
	CraftVAB CraftType = 0
	CraftSPH CraftType = 1
)

func (t CraftType) String() string {
	switch t {
	case CraftVAB:
		return "VAB"
	case CraftSPH:
		return "SPH"
	default:
		return "unknown"
	}
}

// ParseCraftType maps "vab"/"sph" (any case) to a CraftType.
func ParseCraftType(s string) (CraftType, bool) {
	switch strings.ToUpper(s) {
	case "VAB":
		return CraftVAB, true
	case "SPH":
		return CraftSPH, true
	default:
		return 0, false
	}
}

// MaxCraftSize bounds encoded name bytes plus craft bytes.
const MaxCraftSize = 1024 * 1024

// craftHeaderSize is the type byte plus the name length prefix.
const craftHeaderSize = 5

var (
	ErrCraftTooLarge  = errors.New("craft file too large")
	ErrMalformedCraft = errors.New("malformed craft payload")
)

// Craft is a named vessel design blob.
type Craft struct {
	Type CraftType
	Name string
	Data []byte
}

// EncodeCraft builds a ShareCraftFile/CraftFile payload. Crafts over MaxCraftSize
// are rejected before anything is allocated for the wire.
func EncodeCraft(c Craft) ([]byte, error) {
	name := EncodeString(c.Name)
	if size := len(name) + len(c.Data); size > MaxCraftSize {
		return nil, fmt.Errorf("%w: %d bytes, limit %d", ErrCraftTooLarge, size, MaxCraftSize)
	}
	return NewBuilder(craftHeaderSize+len(name)+len(c.Data)).
		WriteUint8(byte(c.Type)).
		WriteInt32(int32(len(name))).
		WriteBytes(name).
		WriteBytes(c.Data).
		Build(), nil
}

// DecodeCraft parses a craft payload. The size ceiling is not re-checked here.
func DecodeCraft(payload []byte) (Craft, error) {
	if len(payload) <= craftHeaderSize {
		return Craft{}, fmt.Errorf("%w: %d bytes", ErrMalformedCraft, len(payload))
	}
	d := NewDecoder(payload)
	typ, _ := d.ReadByte()
	nameLen, _ := d.ReadInt32()
	if nameLen < 0 || int(nameLen) >= len(payload)-craftHeaderSize {
		return Craft{}, fmt.Errorf("%w: name length %d in %d bytes", ErrMalformedCraft, nameLen, len(payload))
	}
	name, _ := d.ReadBytes(int(nameLen))
	return Craft{
		Type: CraftType(typ),
		Name: DecodeString(name),
		Data: d.Rest(),
	}, nil
}

var craftNameReplacer = strings.NewReplacer(
	`\`, "", "/", "", ":", "", "*", "", "?", "", `"`, "", "<", "", ">", "", "|", "",
)

// SanitizeCraftName strips characters that are unsafe in file names.
func SanitizeCraftName(name string) string {
	return craftNameReplacer.Replace(name)
}

package dbpf

import "fmt"

// Known resource type IDs.
const (
	TypeCASPart        uint32 = 0x034AEECB
	TypeBodyBlendData  uint32 = 0x0355E0A6
	TypeTuning         uint32 = 0x0333406C
	TypeSimData        uint32 = 0x025ED6F4
	TypeCombinedTuning uint32 = 0x545AC67A
	TypeStringTable    uint32 = 0x220557DA
	TypeDDS            uint32 = 0x00B2D882
	TypePNG            uint32 = 0x3C1AF1F2
	TypeDST            uint32 = 0x2F7D0004
	TypeGeometry       uint32 = 0x015A1849
	TypeBone           uint32 = 0x00AE6C67
	TypeRIG            uint32 = 0x8EAF13DE
	TypeCatalogObject  uint32 = 0xC0DB5AE7
	TypeObjectDef      uint32 = 0x319E4F1D
	TypeCLIP           uint32 = 0x02D5DF13
	TypeAuditoryData   uint32 = 0x01EEF63A
	TypeThumbnail      uint32 = 0x3C2A8647
	TypeThumbnailAlt   uint32 = 0x5B282D45
)

var typeNames = map[uint32]string{
	TypeCASPart:        "CASPart",
	TypeBodyBlendData:  "BodyBlendData",
	TypeTuning:         "Tuning",
	TypeSimData:        "SimData",
	TypeCombinedTuning: "CombinedTuning",
	TypeStringTable:    "StringTable",
	TypeDDS:            "DDS",
	TypePNG:            "PNG",
	TypeDST:            "DST",
	TypeGeometry:       "Geometry",
	TypeBone:           "Bone",
	TypeRIG:            "RIG",
	TypeCatalogObject:  "CatalogObject",
	TypeObjectDef:      "ObjectDefinition",
	TypeCLIP:           "CLIP",
	TypeAuditoryData:   "AuditoryData",
	TypeThumbnail:      "Thumbnail",
	TypeThumbnailAlt:   "ThumbnailAlt",
}

// TypeName returns a human-readable name for a resource type, or "Unknown_XXXXXXXX".
func TypeName(typeID uint32) string {
	if name, ok := typeNames[typeID]; ok {
		return name
	}
	return fmt.Sprintf("Unknown_%08X", typeID)
}

// TypeByName is the inverse of TypeName for known types.
func TypeByName(name string) (uint32, bool) {
	for id, n := range typeNames {
		if n == name {
			return id, true
		}
	}
	return 0, false
}

package wire

// MessagePack-compatible leader byte tags. These values and ranges are
// pinned by the wire format forever (spec.md section 4.1/6.1) and must
// never change once two ends are interoperating.
const (
	tagPositiveFixMin byte = 0x00
	tagPositiveFixMax byte = 0x7f
	tagFixMapMin      byte = 0x80
	tagFixMapMax      byte = 0x8f
	tagFixArrayMin    byte = 0x90
	tagFixArrayMax    byte = 0x9f
	tagFixRawMin      byte = 0xa0
	tagFixRawMax      byte = 0xbf
	tagNil            byte = 0xc0
	tagFalse          byte = 0xc2
	tagTrue           byte = 0xc3
	tagFloat32        byte = 0xca
	tagFloat64        byte = 0xcb
	tagUint8          byte = 0xcc
	tagUint16         byte = 0xcd
	tagUint32         byte = 0xce
	tagUint64         byte = 0xcf
	tagInt8           byte = 0xd0
	tagInt16          byte = 0xd1
	tagInt32          byte = 0xd2
	tagInt64          byte = 0xd3
	tagRaw16          byte = 0xda
	tagRaw32          byte = 0xdb
	tagArray16        byte = 0xdc
	tagArray32        byte = 0xdd
	tagMap16          byte = 0xde
	tagMap32          byte = 0xdf
	tagNegativeFixMin byte = 0xe0
)

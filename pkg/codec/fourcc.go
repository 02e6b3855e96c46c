package codec

// FourCC packs four characters into the little-endian pixel format
// code used by the kernel device interface.
func FourCC(a, b, c, d byte) uint32 {
	return uint32(a) | uint32(b)<<8 | uint32(c)<<16 | uint32(d)<<24
}

// FourCCString renders a pixel format code for logs.
func FourCCString(f uint32) string {
	return string([]byte{byte(f), byte(f >> 8), byte(f >> 16), byte(f >> 24)})
}

// Compressed input pixel formats.
var (
	FourccH264 = FourCC('H', '2', '6', '4')
	FourccVP8  = FourCC('V', 'P', '8', '0')
	FourccVP9  = FourCC('V', 'P', '9', '0')
	FourccHEVC = FourCC('H', 'E', 'V', 'C')
)

// Flexible 4:2:0 output pixel formats, in negotiation order.
var (
	FourccYU12 = FourCC('Y', 'U', '1', '2')
	FourccYV12 = FourCC('Y', 'V', '1', '2')
	FourccYM12 = FourCC('Y', 'M', '1', '2')
	FourccYM21 = FourCC('Y', 'M', '2', '1')
	FourccNV12 = FourCC('N', 'V', '1', '2')
	FourccNV21 = FourCC('N', 'V', '2', '1')
	FourccNM12 = FourCC('N', 'M', '1', '2')
	FourccNM21 = FourCC('N', 'M', '2', '1')
)

// Flex420Fourccs lists every output pixel format the driver accepts.
// Frames reported to the client are dressed as the flexible 4:2:0
// equivalent regardless of which entry the device picked.
var Flex420Fourccs = []uint32{
	FourccYU12, FourccYV12, FourccYM12, FourccYM21,
	FourccNV12, FourccNV21, FourccNM12, FourccNM21,
}

// PixFmtForCodec maps a stream codec to its compressed fourcc.
func PixFmtForCodec(c Codec) uint32 {
	switch c {
	case CodecH264:
		return FourccH264
	case CodecVP8:
		return FourccVP8
	case CodecVP9:
		return FourccVP9
	case CodecHEVC:
		return FourccHEVC
	default:
		return 0
	}
}

// IsFlex420 reports whether the fourcc is in the flexible 4:2:0 set.
func IsFlex420(f uint32) bool {
	for _, s := range Flex420Fourccs {
		if s == f {
			return true
		}
	}
	return false
}

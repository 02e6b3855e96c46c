// Package h264 extracts color aspects from H.264 bitstreams. It
// locates the SPS NAL in a compressed block and reads the VUI color
// description fields.
package h264

import (
	"github.com/user/videodec/pkg/codec"
)

const nalTypeSPS = 7

// profiles that carry the extended chroma/bit-depth fields before
// log2_max_frame_num_minus4.
var highProfiles = map[uint]bool{
	100: true, 110: true, 122: true, 244: true, 44: true, 83: true,
	86: true, 118: true, 128: true, 138: true, 139: true, 134: true,
	135: true,
}

// ParseColorAspects scans an annex-B block for an SPS NAL and returns
// the color aspects described in its VUI parameters. It returns false
// when no SPS is present or the SPS carries no colour description.
func ParseColorAspects(data []byte) (codec.ColorAspects, bool) {
	sps, ok := locateSPS(data)
	if !ok {
		return codec.ColorAspects{}, false
	}
	return parseSPSColorAspects(sps)
}

// locateSPS finds the first SPS NAL payload after an annex-B start
// code (00 00 01 or 00 00 00 01).
func locateSPS(data []byte) ([]byte, bool) {
	for i := 0; i+3 < len(data); i++ {
		if data[i] != 0 || data[i+1] != 0 {
			continue
		}
		var start int
		if data[i+2] == 1 {
			start = i + 3
		} else if data[i+2] == 0 && i+4 < len(data) && data[i+3] == 1 {
			start = i + 4
		} else {
			continue
		}
		if start >= len(data) {
			return nil, false
		}
		if data[start]&0x1F == nalTypeSPS {
			end := nextStartCode(data, start)
			return data[start+1 : end], true
		}
		i = start - 1
	}
	return nil, false
}

func nextStartCode(data []byte, from int) int {
	for i := from; i+2 < len(data); i++ {
		if data[i] == 0 && data[i+1] == 0 && (data[i+2] == 1 || data[i+2] == 0) {
			return i
		}
	}
	return len(data)
}

// parseSPSColorAspects walks the SPS RBSP up to the VUI colour
// description.
func parseSPSColorAspects(rbsp []byte) (codec.ColorAspects, bool) {
	r := newBitReader(rbsp)

	profileIdc, err := r.readBits(8)
	if err != nil {
		return codec.ColorAspects{}, false
	}
	if _, err = r.readBits(16); err != nil { // constraint flags + level_idc
		return codec.ColorAspects{}, false
	}
	if _, err = r.readUE(); err != nil { // seq_parameter_set_id
		return codec.ColorAspects{}, false
	}

	if highProfiles[profileIdc] {
		chromaFormatIdc, err := r.readUE()
		if err != nil {
			return codec.ColorAspects{}, false
		}
		if chromaFormatIdc == 3 {
			if _, err = r.readBit(); err != nil { // separate_colour_plane_flag
				return codec.ColorAspects{}, false
			}
		}
		if _, err = r.readUE(); err != nil { // bit_depth_luma_minus8
			return codec.ColorAspects{}, false
		}
		if _, err = r.readUE(); err != nil { // bit_depth_chroma_minus8
			return codec.ColorAspects{}, false
		}
		if _, err = r.readBit(); err != nil { // qpprime_y_zero_transform_bypass_flag
			return codec.ColorAspects{}, false
		}
		scalingMatrix, err := r.readBit()
		if err != nil {
			return codec.ColorAspects{}, false
		}
		if scalingMatrix != 0 {
			lists := 8
			if chromaFormatIdc == 3 {
				lists = 12
			}
			for i := 0; i < lists; i++ {
				present, err := r.readBit()
				if err != nil {
					return codec.ColorAspects{}, false
				}
				if present == 0 {
					continue
				}
				size := 16
				if i >= 6 {
					size = 64
				}
				if err := skipScalingList(r, size); err != nil {
					return codec.ColorAspects{}, false
				}
			}
		}
	}

	if _, err = r.readUE(); err != nil { // log2_max_frame_num_minus4
		return codec.ColorAspects{}, false
	}
	picOrderCntType, err := r.readUE()
	if err != nil {
		return codec.ColorAspects{}, false
	}
	switch picOrderCntType {
	case 0:
		if _, err = r.readUE(); err != nil { // log2_max_pic_order_cnt_lsb_minus4
			return codec.ColorAspects{}, false
		}
	case 1:
		if _, err = r.readBit(); err != nil { // delta_pic_order_always_zero_flag
			return codec.ColorAspects{}, false
		}
		if _, err = r.readSE(); err != nil { // offset_for_non_ref_pic
			return codec.ColorAspects{}, false
		}
		if _, err = r.readSE(); err != nil { // offset_for_top_to_bottom_field
			return codec.ColorAspects{}, false
		}
		cycles, err := r.readUE()
		if err != nil {
			return codec.ColorAspects{}, false
		}
		for i := uint(0); i < cycles; i++ {
			if _, err = r.readSE(); err != nil { // offset_for_ref_frame
				return codec.ColorAspects{}, false
			}
		}
	}
	if _, err = r.readUE(); err != nil { // max_num_ref_frames
		return codec.ColorAspects{}, false
	}
	if _, err = r.readBit(); err != nil { // gaps_in_frame_num_value_allowed_flag
		return codec.ColorAspects{}, false
	}
	if _, err = r.readUE(); err != nil { // pic_width_in_mbs_minus1
		return codec.ColorAspects{}, false
	}
	if _, err = r.readUE(); err != nil { // pic_height_in_map_units_minus1
		return codec.ColorAspects{}, false
	}
	frameMbsOnly, err := r.readBit()
	if err != nil {
		return codec.ColorAspects{}, false
	}
	if frameMbsOnly == 0 {
		if _, err = r.readBit(); err != nil { // mb_adaptive_frame_field_flag
			return codec.ColorAspects{}, false
		}
	}
	if _, err = r.readBit(); err != nil { // direct_8x8_inference_flag
		return codec.ColorAspects{}, false
	}
	cropping, err := r.readBit()
	if err != nil {
		return codec.ColorAspects{}, false
	}
	if cropping != 0 {
		for i := 0; i < 4; i++ {
			if _, err = r.readUE(); err != nil {
				return codec.ColorAspects{}, false
			}
		}
	}
	vuiPresent, err := r.readBit()
	if err != nil || vuiPresent == 0 {
		return codec.ColorAspects{}, false
	}

	// VUI parameters up to the colour description.
	aspectPresent, err := r.readBit()
	if err != nil {
		return codec.ColorAspects{}, false
	}
	if aspectPresent != 0 {
		idc, err := r.readBits(8)
		if err != nil {
			return codec.ColorAspects{}, false
		}
		if idc == 255 { // Extended_SAR
			if _, err = r.readBits(32); err != nil {
				return codec.ColorAspects{}, false
			}
		}
	}
	overscanPresent, err := r.readBit()
	if err != nil {
		return codec.ColorAspects{}, false
	}
	if overscanPresent != 0 {
		if _, err = r.readBit(); err != nil { // overscan_appropriate_flag
			return codec.ColorAspects{}, false
		}
	}
	videoSignalPresent, err := r.readBit()
	if err != nil || videoSignalPresent == 0 {
		return codec.ColorAspects{}, false
	}
	if _, err = r.readBits(3); err != nil { // video_format
		return codec.ColorAspects{}, false
	}
	fullRange, err := r.readBit()
	if err != nil {
		return codec.ColorAspects{}, false
	}
	colourPresent, err := r.readBit()
	if err != nil || colourPresent == 0 {
		return codec.ColorAspects{}, false
	}
	primaries, err := r.readBits(8)
	if err != nil {
		return codec.ColorAspects{}, false
	}
	transfer, err := r.readBits(8)
	if err != nil {
		return codec.ColorAspects{}, false
	}
	matrix, err := r.readBits(8)
	if err != nil {
		return codec.ColorAspects{}, false
	}

	return mapISOAspects(primaries, transfer, matrix, fullRange != 0), true
}

func skipScalingList(r *bitReader, size int) error {
	lastScale, nextScale := 8, 8
	for j := 0; j < size; j++ {
		if nextScale != 0 {
			delta, err := r.readSE()
			if err != nil {
				return err
			}
			nextScale = (lastScale + delta + 256) % 256
		}
		if nextScale != 0 {
			lastScale = nextScale
		}
	}
	return nil
}

// mapISOAspects maps ISO 23001-8 color description codes to the
// framework enumerations. Unmapped codes become UNSPECIFIED in their
// slot.
func mapISOAspects(primaries, transfer, matrix uint, fullRange bool) codec.ColorAspects {
	var a codec.ColorAspects

	switch primaries {
	case 1:
		a.Primaries = codec.PrimariesBT709
	case 4:
		a.Primaries = codec.PrimariesBT470M
	case 5:
		a.Primaries = codec.PrimariesBT601_625
	case 6, 7:
		a.Primaries = codec.PrimariesBT601_525
	case 8:
		a.Primaries = codec.PrimariesGenericFilm
	case 9:
		a.Primaries = codec.PrimariesBT2020
	default:
		a.Primaries = codec.PrimariesUnspecified
	}

	switch transfer {
	case 1, 6, 14, 15:
		a.Transfer = codec.TransferSMPTE170M
	case 4:
		a.Transfer = codec.TransferGamma22
	case 5:
		a.Transfer = codec.TransferGamma28
	case 8:
		a.Transfer = codec.TransferLinear
	case 13:
		a.Transfer = codec.TransferSRGB
	case 16:
		a.Transfer = codec.TransferST2084
	case 18:
		a.Transfer = codec.TransferHLG
	default:
		a.Transfer = codec.TransferUnspecified
	}

	switch matrix {
	case 1:
		a.Matrix = codec.MatrixBT709
	case 4:
		a.Matrix = codec.MatrixFCC47_73_682
	case 5, 6:
		a.Matrix = codec.MatrixBT601
	case 7:
		a.Matrix = codec.MatrixSMPTE240M
	case 9, 10:
		a.Matrix = codec.MatrixBT2020
	default:
		a.Matrix = codec.MatrixUnspecified
	}

	if fullRange {
		a.Range = codec.RangeFull
	} else {
		a.Range = codec.RangeLimited
	}

	return a
}

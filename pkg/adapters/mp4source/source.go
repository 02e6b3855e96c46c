// Package mp4source extracts compressed video samples from an MP4
// file and prepares them as annex-B work input for the decode
// component.
package mp4source

import (
	"fmt"
	"io"
	"os"

	"github.com/Eyevinn/mp4ff/mp4"

	"github.com/user/videodec/pkg/codec"
)

// Sample is one compressed access unit in annex-B format.
type Sample struct {
	Data        []byte
	TimestampUs uint64
	IsKeyframe  bool
}

// Stream is the extracted bitstream of the video track.
type Stream struct {
	// Codec is the track codec.
	Codec codec.Codec
	// Init is the SPS/PPS configuration in annex-B format, submitted
	// as a CSD work item before the first sample.
	Init []byte
	// Samples are the access units in decode order.
	Samples []Sample
}

// ReadFile extracts the video track of an MP4 file.
func ReadFile(path string) (*Stream, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}
	defer f.Close()

	return Read(f)
}

// Read extracts the video track from an io.ReadSeeker.
func Read(reader io.ReadSeeker) (*Stream, error) {
	mp4File, err := mp4.DecodeFile(reader)
	if err != nil {
		return nil, fmt.Errorf("decode mp4: %w", err)
	}

	if mp4File.IsFragmented() {
		return readFragmented(mp4File, reader)
	}
	return readProgressive(mp4File, reader)
}

// videoTrack finds the video trak and its sample description.
func videoTrack(moov *mp4.MoovBox) (*mp4.TrakBox, *mp4.AvcCBox, error) {
	if moov == nil {
		return nil, nil, fmt.Errorf("no moov box found")
	}
	for _, trak := range moov.Traks {
		if trak.Mdia == nil || trak.Mdia.Hdlr == nil || trak.Mdia.Hdlr.HandlerType != "vide" {
			continue
		}
		var avcC *mp4.AvcCBox
		if trak.Mdia.Minf != nil && trak.Mdia.Minf.Stbl != nil && trak.Mdia.Minf.Stbl.Stsd != nil {
			for _, child := range trak.Mdia.Minf.Stbl.Stsd.Children {
				if avc1, ok := child.(*mp4.VisualSampleEntryBox); ok {
					avcC = avc1.AvcC
				}
			}
		}
		return trak, avcC, nil
	}
	return nil, nil, fmt.Errorf("no video track found")
}

// initFromAvcC renders SPS/PPS as annex-B.
func initFromAvcC(avcC *mp4.AvcCBox) []byte {
	if avcC == nil {
		return nil
	}
	var init []byte
	for _, sps := range avcC.SPSnalus {
		init = append(init, 0, 0, 0, 1)
		init = append(init, sps...)
	}
	for _, pps := range avcC.PPSnalus {
		init = append(init, 0, 0, 0, 1)
		init = append(init, pps...)
	}
	return init
}

func readProgressive(mp4File *mp4.File, reader io.ReadSeeker) (*Stream, error) {
	trak, avcC, err := videoTrack(mp4File.Moov)
	if err != nil {
		return nil, err
	}

	var timescale uint32 = 1000
	if trak.Mdia.Mdhd != nil {
		timescale = trak.Mdia.Mdhd.Timescale
	}

	if trak.Mdia.Minf == nil || trak.Mdia.Minf.Stbl == nil {
		return nil, fmt.Errorf("no sample table found")
	}
	stbl := trak.Mdia.Minf.Stbl
	if stbl.Stsz == nil {
		return nil, fmt.Errorf("no stsz box found")
	}
	sampleCount := stbl.Stsz.SampleNumber

	syncSamples := make(map[uint32]bool)
	if stbl.Stss != nil {
		for _, nr := range stbl.Stss.SampleNumber {
			syncSamples[nr] = true
		}
	}

	stream := &Stream{Codec: codec.CodecH264, Init: initFromAvcC(avcC)}
	for sampleNr := uint32(1); sampleNr <= sampleCount; sampleNr++ {
		data, err := sampleData(stbl, reader, sampleNr)
		if err != nil {
			continue
		}

		var decodeTime uint64
		if stbl.Stts != nil {
			decodeTime, _ = stbl.Stts.GetDecodeTime(sampleNr)
		}

		stream.Samples = append(stream.Samples, Sample{
			Data:        avccToAnnexB(data),
			TimestampUs: decodeTime * 1000000 / uint64(timescale),
			IsKeyframe:  syncSamples[sampleNr] || len(syncSamples) == 0,
		})
	}
	return stream, nil
}

func readFragmented(mp4File *mp4.File, reader io.ReadSeeker) (*Stream, error) {
	if mp4File.Init == nil {
		return nil, fmt.Errorf("no init segment found")
	}
	trak, avcC, err := videoTrack(mp4File.Init.Moov)
	if err != nil {
		return nil, err
	}
	trackID := trak.Tkhd.TrackID

	var timescale uint32 = 1000
	if trak.Mdia.Mdhd != nil {
		timescale = trak.Mdia.Mdhd.Timescale
	}

	var trex *mp4.TrexBox
	if mp4File.Init.Moov.Mvex != nil {
		for _, t := range mp4File.Init.Moov.Mvex.Trexs {
			if t.TrackID == trackID {
				trex = t
				break
			}
		}
	}

	stream := &Stream{Codec: codec.CodecH264, Init: initFromAvcC(avcC)}
	for _, seg := range mp4File.Segments {
		for _, frag := range seg.Fragments {
			if frag.Moof == nil {
				continue
			}
			for _, traf := range frag.Moof.Trafs {
				if traf.Tfhd.TrackID != trackID {
					continue
				}

				var baseDecodeTime uint64
				if traf.Tfdt != nil {
					baseDecodeTime = traf.Tfdt.BaseMediaDecodeTime()
				}

				samples, err := frag.GetFullSamples(trex)
				if err != nil {
					return nil, fmt.Errorf("get samples: %w", err)
				}

				currentTime := baseDecodeTime
				for i, sample := range samples {
					stream.Samples = append(stream.Samples, Sample{
						Data:        avccToAnnexB(sample.Data),
						TimestampUs: currentTime * 1000000 / uint64(timescale),
						IsKeyframe:  sample.Flags == mp4.SyncSampleFlags || i == 0,
					})
					currentTime += uint64(sample.Dur)
				}
			}
		}
	}
	return stream, nil
}

// sampleData reads one sample from a progressive MP4.
func sampleData(stbl *mp4.StblBox, reader io.ReadSeeker, sampleNr uint32) ([]byte, error) {
	if stbl.Stsc == nil || stbl.Stsz == nil {
		return nil, fmt.Errorf("missing stsc or stsz box")
	}

	chunkNr, firstSampleInChunk, err := stbl.Stsc.ChunkNrFromSampleNr(int(sampleNr))
	if err != nil {
		return nil, fmt.Errorf("get chunk nr: %w", err)
	}

	var chunkOffset uint64
	if stbl.Stco != nil {
		chunkOffset, err = stbl.Stco.GetOffset(chunkNr)
		if err != nil {
			return nil, fmt.Errorf("get chunk offset: %w", err)
		}
	} else if stbl.Co64 != nil {
		if chunkNr < 1 || chunkNr > len(stbl.Co64.ChunkOffset) {
			return nil, fmt.Errorf("chunk nr out of range")
		}
		chunkOffset = stbl.Co64.ChunkOffset[chunkNr-1]
	} else {
		return nil, fmt.Errorf("no stco or co64 box")
	}

	offset := chunkOffset
	for s := uint32(firstSampleInChunk); s < sampleNr; s++ {
		offset += uint64(stbl.Stsz.GetSampleSize(int(s)))
	}
	sampleSize := stbl.Stsz.GetSampleSize(int(sampleNr))

	if _, err := reader.Seek(int64(offset), io.SeekStart); err != nil {
		return nil, fmt.Errorf("seek to sample: %w", err)
	}
	data := make([]byte, sampleSize)
	if _, err := io.ReadFull(reader, data); err != nil {
		return nil, fmt.Errorf("read sample: %w", err)
	}
	return data, nil
}

// avccToAnnexB converts length-prefixed NALUs to start-code prefixed
// annex-B.
func avccToAnnexB(data []byte) []byte {
	var result []byte
	offset := 0

	for offset+4 <= len(data) {
		naluLen := int(data[offset])<<24 | int(data[offset+1])<<16 |
			int(data[offset+2])<<8 | int(data[offset+3])
		offset += 4

		if naluLen < 0 || offset+naluLen > len(data) {
			break
		}

		result = append(result, 0, 0, 0, 1)
		result = append(result, data[offset:offset+naluLen]...)
		offset += naluLen
	}

	return result
}

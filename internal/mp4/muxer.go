package mp4

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
)

// Timescale is the track/movie timescale in ticks per second.
const Timescale = 90000

var (
	// ErrMuxerClosed is returned when writing to a finalized muxer.
	ErrMuxerClosed = errors.New("mp4: muxer closed")
	// ErrNoSamples is returned when finalizing a muxer that never
	// received a sample.
	ErrNoSamples = errors.New("mp4: no samples written")
)

// Muxer writes a single H.264 video track progressively: ftyp, then a
// growing mdat, then moov on finalize. Samples are AVCC-framed (length
// prefixed) and timed against the 90 kHz timescale.
type Muxer struct {
	file   *os.File
	path   string
	sps    []byte
	pps    []byte
	width  uint16
	height uint16

	mdatPos      int64
	mdatSize     uint64
	sampleCount  uint32
	durations    []uint32
	sizes        []uint32
	chunkOffsets []uint32
	syncSamples  []uint32
}

// NewMuxer creates the output file and writes the leading ftyp and the
// mdat placeholder. sps and pps are start-code-free NAL units used as the
// track's codec configuration.
func NewMuxer(path string, sps, pps []byte, width, height int) (*Muxer, error) {
	if len(sps) < 4 || len(pps) == 0 {
		return nil, fmt.Errorf("mp4: missing SPS/PPS configuration")
	}
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("mp4: create %s: %w", path, err)
	}
	ftyp := Box("ftyp", []byte{
		'i', 's', 'o', 'm',
		0x00, 0x00, 0x02, 0x00,
		'i', 's', 'o', 'm',
		'i', 's', 'o', '2',
		'a', 'v', 'c', '1',
		'm', 'p', '4', '1',
	})
	if _, err := file.Write(ftyp); err != nil {
		file.Close()
		return nil, fmt.Errorf("mp4: write ftyp: %w", err)
	}
	pos, err := file.Seek(0, io.SeekCurrent)
	if err != nil {
		file.Close()
		return nil, err
	}
	// mdat length is back-patched on finalize.
	if _, err := file.Write(Box("mdat", nil)); err != nil {
		file.Close()
		return nil, fmt.Errorf("mp4: write mdat header: %w", err)
	}
	return &Muxer{
		file:    file,
		path:    path,
		sps:     append([]byte(nil), sps...),
		pps:     append([]byte(nil), pps...),
		width:   uint16(width),
		height:  uint16(height),
		mdatPos: pos,
	}, nil
}

// Path returns the output file path.
func (m *Muxer) Path() string {
	return m.path
}

// SampleCount returns the number of samples written so far.
func (m *Muxer) SampleCount() uint32 {
	return m.sampleCount
}

// Bytes returns the media payload size written so far.
func (m *Muxer) Bytes() uint64 {
	return m.mdatSize
}

// WriteSample appends one AVCC-framed sample with the given duration in
// timescale ticks. sync marks the sample as independently decodable.
func (m *Muxer) WriteSample(avcc []byte, duration uint32, sync bool) error {
	if m.file == nil {
		return ErrMuxerClosed
	}
	if duration == 0 {
		duration = Timescale / 30
	}
	offset, err := m.file.Seek(0, io.SeekCurrent)
	if err != nil {
		return err
	}
	if _, err := m.file.Write(avcc); err != nil {
		return fmt.Errorf("mp4: write sample: %w", err)
	}
	m.mdatSize += uint64(len(avcc))
	m.sampleCount++
	m.durations = append(m.durations, duration)
	m.sizes = append(m.sizes, uint32(len(avcc)))
	m.chunkOffsets = append(m.chunkOffsets, uint32(offset))
	if sync {
		m.syncSamples = append(m.syncSamples, m.sampleCount)
	}
	return nil
}

// Duration returns the accumulated track duration in ticks.
func (m *Muxer) Duration() uint32 {
	var d uint32
	for _, t := range m.durations {
		d += t
	}
	return d
}

// Finalize back-patches the mdat length, appends moov, and closes the
// file. The muxer is unusable afterwards.
func (m *Muxer) Finalize() error {
	if m.file == nil {
		return ErrMuxerClosed
	}
	defer func() {
		m.file.Close()
		m.file = nil
	}()
	if m.sampleCount == 0 {
		return ErrNoSamples
	}
	if _, err := m.file.Seek(m.mdatPos, io.SeekStart); err != nil {
		return err
	}
	total := uint64(8) + m.mdatSize
	if total > math.MaxUint32 {
		return fmt.Errorf("mp4: mdat exceeds 32-bit box size")
	}
	var hdr [8]byte
	hdr[0] = byte(total >> 24)
	hdr[1] = byte(total >> 16)
	hdr[2] = byte(total >> 8)
	hdr[3] = byte(total)
	copy(hdr[4:], "mdat")
	if _, err := m.file.Write(hdr[:]); err != nil {
		return fmt.Errorf("mp4: patch mdat: %w", err)
	}
	if _, err := m.file.Seek(0, io.SeekEnd); err != nil {
		return err
	}
	if _, err := m.file.Write(m.buildMoov()); err != nil {
		return fmt.Errorf("mp4: write moov: %w", err)
	}
	if err := m.file.Sync(); err != nil {
		return fmt.Errorf("mp4: sync: %w", err)
	}
	return nil
}

// Abort closes and removes the partial output.
func (m *Muxer) Abort() {
	if m.file != nil {
		m.file.Close()
		m.file = nil
	}
	os.Remove(m.path)
}

func (m *Muxer) buildMoov() []byte {
	duration := m.Duration()
	stbl := Box("stbl", Concat(
		m.buildSTSD(),
		buildSTTS(m.durations),
		buildSTSC(),
		buildSTSZ(m.sizes),
		buildSTCO(m.chunkOffsets),
		buildSTSS(m.syncSamples),
	))
	minf := Box("minf", Concat(buildVMHD(), buildDINF(), stbl))
	mdia := Box("mdia", Concat(buildMDHD(duration), buildHDLR(), minf))
	trak := Box("trak", Concat(buildTKHD(duration, m.width, m.height), mdia))
	return Box("moov", Concat(buildMVHD(duration), trak))
}

var identityMatrix = []byte{
	0x00, 0x01, 0x00, 0x00,
	0x00, 0x00, 0x00, 0x00,
	0x00, 0x00, 0x00, 0x00,
	0x00, 0x00, 0x01, 0x00,
	0x00, 0x00, 0x00, 0x00,
	0x00, 0x00, 0x00, 0x00,
	0x00, 0x00, 0x00, 0x00,
	0x40, 0x00, 0x00, 0x00,
}

func buildMVHD(duration uint32) []byte {
	buf := &bytes.Buffer{}
	putU32(buf, 0) // creation_time
	putU32(buf, 0) // modification_time
	putU32(buf, Timescale)
	putU32(buf, duration)
	putU32(buf, 0x00010000) // rate 1.0
	putU16(buf, 0x0100)     // volume 1.0
	putU16(buf, 0)
	putU32(buf, 0)
	putU32(buf, 0)
	buf.Write(identityMatrix)
	for i := 0; i < 6; i++ {
		putU32(buf, 0) // pre_defined
	}
	putU32(buf, 2) // next_track_ID
	return FullBox("mvhd", 0, 0, buf.Bytes())
}

func buildTKHD(duration uint32, width, height uint16) []byte {
	buf := &bytes.Buffer{}
	putU32(buf, 0) // creation_time
	putU32(buf, 0) // modification_time
	putU32(buf, 1) // track_ID
	putU32(buf, 0)
	putU32(buf, duration)
	putU32(buf, 0)
	putU32(buf, 0)
	putU16(buf, 0) // layer
	putU16(buf, 0) // alternate_group
	putU16(buf, 0) // volume, video track
	putU16(buf, 0)
	buf.Write(identityMatrix)
	putU32(buf, uint32(width)<<16)
	putU32(buf, uint32(height)<<16)
	return FullBox("tkhd", 0, 0x7, buf.Bytes())
}

func buildMDHD(duration uint32) []byte {
	buf := &bytes.Buffer{}
	putU32(buf, 0)
	putU32(buf, 0)
	putU32(buf, Timescale)
	putU32(buf, duration)
	putU16(buf, 0x55c4) // language: und
	putU16(buf, 0)
	return FullBox("mdhd", 0, 0, buf.Bytes())
}

func buildHDLR() []byte {
	buf := &bytes.Buffer{}
	putU32(buf, 0)
	buf.WriteString("vide")
	putU32(buf, 0)
	putU32(buf, 0)
	putU32(buf, 0)
	buf.WriteString("VideoHandler")
	buf.WriteByte(0)
	return FullBox("hdlr", 0, 0, buf.Bytes())
}

func buildVMHD() []byte {
	buf := &bytes.Buffer{}
	putU16(buf, 0) // graphicsmode
	putU16(buf, 0)
	putU16(buf, 0)
	putU16(buf, 0)
	return FullBox("vmhd", 0, 1, buf.Bytes())
}

func buildDINF() []byte {
	urlBox := FullBox("url ", 0, 1, nil) // self-contained
	dref := &bytes.Buffer{}
	putU32(dref, 1)
	dref.Write(urlBox)
	return Box("dinf", FullBox("dref", 0, 0, dref.Bytes()))
}

func (m *Muxer) buildSTSD() []byte {
	avcC := m.buildAVCC()
	avc1 := &bytes.Buffer{}
	avc1.Write(make([]byte, 6)) // reserved
	putU16(avc1, 1)             // data_reference_index
	avc1.Write(make([]byte, 16))
	putU16(avc1, m.width)
	putU16(avc1, m.height)
	putU32(avc1, 0x00480000) // horizresolution 72dpi
	putU32(avc1, 0x00480000) // vertresolution
	putU32(avc1, 0)
	putU16(avc1, 1)              // frame_count
	avc1.Write(make([]byte, 32)) // compressorname
	putU16(avc1, 0x18)           // depth
	putU16(avc1, 0xffff)         // pre_defined
	avc1.Write(avcC)

	payload := &bytes.Buffer{}
	putU32(payload, 1)
	payload.Write(Box("avc1", avc1.Bytes()))
	return FullBox("stsd", 0, 0, payload.Bytes())
}

func (m *Muxer) buildAVCC() []byte {
	buf := &bytes.Buffer{}
	buf.WriteByte(1)        // configurationVersion
	buf.WriteByte(m.sps[1]) // AVCProfileIndication
	buf.WriteByte(m.sps[2]) // profile_compatibility
	buf.WriteByte(m.sps[3]) // AVCLevelIndication
	buf.WriteByte(0xFF)     // lengthSizeMinusOne 3
	buf.WriteByte(0xE1)     // one SPS
	putU16(buf, uint16(len(m.sps)))
	buf.Write(m.sps)
	buf.WriteByte(1) // one PPS
	putU16(buf, uint16(len(m.pps)))
	buf.Write(m.pps)
	return Box("avcC", buf.Bytes())
}

func buildSTTS(durations []uint32) []byte {
	type entry struct {
		count uint32
		delta uint32
	}
	var entries []entry
	for _, d := range durations {
		if n := len(entries); n > 0 && entries[n-1].delta == d {
			entries[n-1].count++
			continue
		}
		entries = append(entries, entry{count: 1, delta: d})
	}
	buf := &bytes.Buffer{}
	putU32(buf, uint32(len(entries)))
	for _, e := range entries {
		putU32(buf, e.count)
		putU32(buf, e.delta)
	}
	return FullBox("stts", 0, 0, buf.Bytes())
}

// One sample per chunk.
func buildSTSC() []byte {
	buf := &bytes.Buffer{}
	putU32(buf, 1)
	putU32(buf, 1)
	putU32(buf, 1)
	putU32(buf, 1)
	return FullBox("stsc", 0, 0, buf.Bytes())
}

func buildSTSZ(sizes []uint32) []byte {
	buf := &bytes.Buffer{}
	putU32(buf, 0) // sample_size: per-sample table follows
	putU32(buf, uint32(len(sizes)))
	for _, s := range sizes {
		putU32(buf, s)
	}
	return FullBox("stsz", 0, 0, buf.Bytes())
}

func buildSTCO(offsets []uint32) []byte {
	buf := &bytes.Buffer{}
	putU32(buf, uint32(len(offsets)))
	for _, o := range offsets {
		putU32(buf, o)
	}
	return FullBox("stco", 0, 0, buf.Bytes())
}

func buildSTSS(syncSamples []uint32) []byte {
	buf := &bytes.Buffer{}
	putU32(buf, uint32(len(syncSamples)))
	for _, s := range syncSamples {
		putU32(buf, s)
	}
	return FullBox("stss", 0, 0, buf.Bytes())
}

// AVCCSample length-prefixes NAL units into one AVCC-framed sample.
func AVCCSample(nalus [][]byte) []byte {
	n := 0
	for _, nalu := range nalus {
		n += 4 + len(nalu)
	}
	out := make([]byte, 0, n)
	for _, nalu := range nalus {
		out = append(out,
			byte(len(nalu)>>24), byte(len(nalu)>>16),
			byte(len(nalu)>>8), byte(len(nalu)))
		out = append(out, nalu...)
	}
	return out
}

package wire

import (
	"encoding/binary"
	"fmt"

	"github.com/overlaynet/overlaynet/internal/errs"
)

// VideoIDSize is the fixed, space-padded ASCII video identifier width
// that prefixes every frame datagram.
const VideoIDSize = 16

// subHeaderSize is the (packet_id uint16, frame_size uint32) sub-header
// that follows the video ID, both big-endian.
const subHeaderSize = 2 + 4

// HeaderSize is the total fixed header size of a frame datagram:
// VideoIDSize + subHeaderSize.
const HeaderSize = VideoIDSize + subHeaderSize

// MaxDatagram is the MTU budget for a single frame datagram, per spec.
const MaxDatagram = 60000

// MaxChunkPayload is the largest JPEG chunk payload that fits within
// MaxDatagram once the fixed header is subtracted.
const MaxChunkPayload = MaxDatagram - HeaderSize

// FramePacket is one chunk of one JPEG frame, self-describing via an
// embedded video ID so a relay can demultiplex purely on datagram
// contents without any side-channel routing state.
type FramePacket struct {
	VideoID   string // trimmed; re-padded to VideoIDSize on encode
	PacketID  uint16
	FrameSize uint32 // total size of the frame this chunk belongs to
	Payload   []byte // this chunk's JPEG bytes
}

// EncodeVideoID pads or truncates id to VideoIDSize ASCII bytes.
func EncodeVideoID(id string) [VideoIDSize]byte {
	var out [VideoIDSize]byte
	for i := range out {
		out[i] = ' '
	}
	copy(out[:], id)
	return out
}

// DecodeVideoID trims the trailing padding from a fixed-width video ID.
func DecodeVideoID(raw []byte) string {
	end := len(raw)
	for end > 0 && raw[end-1] == ' ' {
		end--
	}
	return string(raw[:end])
}

// EncodeFrame serializes a FramePacket to its wire form: 16-byte padded
// video ID, then (packet_id, frame_size) big-endian, then the payload.
func EncodeFrame(p FramePacket) []byte {
	buf := make([]byte, HeaderSize+len(p.Payload))
	idBytes := EncodeVideoID(p.VideoID)
	copy(buf[:VideoIDSize], idBytes[:])
	binary.BigEndian.PutUint16(buf[VideoIDSize:VideoIDSize+2], p.PacketID)
	binary.BigEndian.PutUint32(buf[VideoIDSize+2:HeaderSize], p.FrameSize)
	copy(buf[HeaderSize:], p.Payload)
	return buf
}

// DecodeFrame parses a raw datagram into a FramePacket. The Payload
// field aliases the input slice; callers that retain it across
// datagram reuse must copy.
func DecodeFrame(raw []byte) (FramePacket, error) {
	if len(raw) < HeaderSize {
		return FramePacket{}, &errs.ParseError{Field: "header", Err: fmt.Errorf("datagram too short: %d bytes", len(raw))}
	}
	videoID := DecodeVideoID(raw[:VideoIDSize])
	packetID := binary.BigEndian.Uint16(raw[VideoIDSize : VideoIDSize+2])
	frameSize := binary.BigEndian.Uint32(raw[VideoIDSize+2 : HeaderSize])
	return FramePacket{
		VideoID:   videoID,
		PacketID:  packetID,
		FrameSize: frameSize,
		Payload:   raw[HeaderSize:],
	}, nil
}

// ChunkCount returns the number of chunks a frame of frameSize bytes
// splits into, given MaxChunkPayload per chunk.
func ChunkCount(frameSize int) int {
	if frameSize <= 0 {
		return 0
	}
	return (frameSize + MaxChunkPayload - 1) / MaxChunkPayload
}

// SplitFrame splits a full JPEG frame into dense, monotonically
// numbered FramePackets starting at packet_id 0.
func SplitFrame(videoID string, data []byte) []FramePacket {
	n := ChunkCount(len(data))
	packets := make([]FramePacket, 0, n)
	frameSize := uint32(len(data))
	for i := 0; i < n; i++ {
		start := i * MaxChunkPayload
		end := start + MaxChunkPayload
		if end > len(data) {
			end = len(data)
		}
		packets = append(packets, FramePacket{
			VideoID:   videoID,
			PacketID:  uint16(i),
			FrameSize: frameSize,
			Payload:   data[start:end],
		})
	}
	return packets
}

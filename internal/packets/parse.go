package packets

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/andrewauclair/Task-Glacier-sub000/internal/domain"
	"github.com/andrewauclair/Task-Glacier-sub000/internal/wire"
)

// MaxPacketSize bounds the declared length of a single packet.
const MaxPacketSize = 16 << 20

var (
	ErrNotEnoughBytes    = wire.ErrNotEnoughBytes
	ErrMalformedLength   = errors.New("malformed packet length")
	ErrUnknownPacketType = errors.New("unknown packet type")
	ErrTrailingBytes     = errors.New("trailing bytes after packet payload")
)

type unpackFunc func(PacketType, *wire.Parser) (Message, error)

var unpackers = map[PacketType]unpackFunc{
	CreateTask:                   unpackCreateTask,
	StartTask:                    unpackTaskMessage,
	StopTask:                     unpackTaskMessage,
	FinishTask:                   unpackTaskMessage,
	RequestTask:                  unpackTaskMessage,
	UpdateTask:                   unpackUpdateTask,
	TaskInfo:                     unpackTaskInfo,
	SuccessResponseType:          unpackSuccess,
	FailureResponseType:          unpackFailure,
	RequestConfiguration:         unpackBasic,
	RequestConfigurationComplete: unpackBasic,
	BugzillaInfo:                 unpackBugzillaInfo,
	BugzillaRefresh:              unpackBugzillaRefresh,
	RequestDailyReport:           unpackRequestDailyReport,
	DailyReport:                  unpackDailyReport,
	RequestWeeklyReport:          unpackRequestWeeklyReport,
	WeeklyReport:                 unpackWeeklyReport,
	TimeEntryData:                unpackTimeEntryData,
	TimeEntryModify:              unpackTimeEntryModify,
	BulkTaskUpdateStart:          unpackBasic,
	BulkTaskUpdateFinish:         unpackBasic,
}

// Parse decodes the packet at the start of buf. It returns the message and
// the number of bytes the packet occupies.
//
// A zero length with ErrNotEnoughBytes means buf holds less than one
// whole packet and the caller should wait for more input. When the length
// is non-zero the error concerns that packet alone: the caller can skip
// those bytes and continue with the next packet. ErrMalformedLength leaves
// no safe way to resynchronize.
func Parse(buf []byte) (Message, int, error) {
	if len(buf) < 4 {
		return nil, 0, ErrNotEnoughBytes
	}
	length := int(binary.BigEndian.Uint32(buf[:4]))
	if length < wire.HeaderSize || length > MaxPacketSize {
		return nil, 0, fmt.Errorf("%w: %d", ErrMalformedLength, length)
	}
	if len(buf) < length {
		return nil, 0, ErrNotEnoughBytes
	}
	packetType := PacketType(int32(binary.BigEndian.Uint32(buf[4:8])))
	unpack, ok := unpackers[packetType]
	if !ok {
		return nil, length, fmt.Errorf("%w: %d", ErrUnknownPacketType, int32(packetType))
	}

	p := wire.NewParser(buf[wire.HeaderSize:length])
	msg, err := unpack(packetType, p)
	if p.Err() != nil {
		return nil, length, fmt.Errorf("decode %s: %w", packetType, p.Err())
	}
	if err != nil {
		return nil, length, fmt.Errorf("decode %s: %w", packetType, err)
	}
	if p.Remaining() != 0 {
		return nil, length, fmt.Errorf("decode %s: %w (%d)", packetType, ErrTrailingBytes, p.Remaining())
	}
	return msg, length, nil
}

var requestTypes = map[PacketType]bool{
	CreateTask:          true,
	StartTask:           true,
	StopTask:            true,
	FinishTask:          true,
	RequestTask:         true,
	UpdateTask:          true,
	BugzillaInfo:        true,
	BugzillaRefresh:     true,
	RequestDailyReport:  true,
	RequestWeeklyReport: true,
	TimeEntryModify:     true,
}

// RequestIDOf reads the request ID of a request frame that may not decode.
// Every request carries its ID as the first payload field.
func RequestIDOf(frame []byte) (domain.RequestID, bool) {
	if len(frame) < wire.HeaderSize+4 {
		return 0, false
	}
	if !requestTypes[PacketType(int32(binary.BigEndian.Uint32(frame[4:8])))] {
		return 0, false
	}
	return domain.RequestID(int32(binary.BigEndian.Uint32(frame[8:12]))), true
}

// ReadFrame reads one whole packet from r without decoding its payload.
func ReadFrame(r io.Reader) ([]byte, error) {
	var header [4]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}
	length := int(binary.BigEndian.Uint32(header[:]))
	if length < wire.HeaderSize || length > MaxPacketSize {
		return nil, fmt.Errorf("%w: %d", ErrMalformedLength, length)
	}
	frame := make([]byte, length)
	copy(frame, header[:])
	if _, err := io.ReadFull(r, frame[4:]); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}
	return frame, nil
}

// Write sends msg to w as one packet.
func Write(w io.Writer, msg Message) error {
	_, err := w.Write(msg.Pack())
	return err
}

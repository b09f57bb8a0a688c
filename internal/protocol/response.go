package protocol

import "fmt"

// ResponsePayloadSize is the exact payload length of a response frame
const ResponsePayloadSize = 5

// Status is the outcome carried in a response frame
type Status uint8

const (
	StatusSuccess    Status = 0x00
	StatusInProgress Status = 0x01
	StatusFailed     Status = 0x02
	StatusCRCError   Status = 0x03
)

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusInProgress:
		return "inProgress"
	case StatusFailed:
		return "failed"
	case StatusCRCError:
		return "crcError"
	default:
		return fmt.Sprintf("Status(0x%02x)", uint8(s))
	}
}

// Response is the acknowledgement of a previously issued command
type Response struct {
	Serial          uint32 // Serial of the response frame itself
	Command         Command
	RespondedSerial uint32
	Status          Status
}

func (r Response) String() string {
	return fmt.Sprintf("Response{command=%s, responded=%d, status=%s}", r.Command, r.RespondedSerial, r.Status)
}

// AsResponse interprets the frame as a response. It succeeds for any frame
// with a 5-byte payload; whether that interpretation is correct is up to
// the caller, since a 5-byte application payload is equally legal.
func (f *Frame) AsResponse() (Response, bool) {
	if len(f.Payload) != ResponsePayloadSize {
		return Response{}, false
	}
	r := NewReader(f.Payload)
	return Response{
		Serial:          f.Serial,
		Command:         f.Command,
		RespondedSerial: r.U32(),
		Status:          Status(r.U8()),
	}, true
}

// EncodeResponse builds the wire bytes of a response frame acknowledging
// respondedSerial.
func EncodeResponse(serial uint32, command Command, respondedSerial uint32, status Status) ([]byte, error) {
	payload := NewWriter(ResponsePayloadSize).PutU32(respondedSerial).PutU8(uint8(status)).Bytes()
	f, err := BuildFrame(serial, command, payload)
	if err != nil {
		return nil, err
	}
	return f.Bytes(), nil
}

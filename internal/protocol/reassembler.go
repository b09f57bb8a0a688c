package protocol

// MaxAssembledSize bounds the bytes buffered for one fragmented frame
const MaxAssembledSize = MaxPayloadSize + FrameOverhead

// Reassembler rebuilds frames from sub-packets received in order.
// Only one reassembly is in flight at a time. It is not safe for
// concurrent use; the link dispatcher owns one per connection.
type Reassembler struct {
	assembling bool
	baseline   uint32
	chunks     [][]byte
	size       int
}

// NewReassembler returns an idle Reassembler
func NewReassembler() *Reassembler {
	return &Reassembler{}
}

// InProgress reports whether a fragmented frame is partially received
func (r *Reassembler) InProgress() bool {
	return r.assembling
}

// Reset discards any buffered fragments
func (r *Reassembler) Reset() {
	r.assembling = false
	r.baseline = 0
	r.chunks = nil
	r.size = 0
}

// Feed consumes one sub-packet. It returns the complete frame bytes when a
// none or end packet completes one, nil while more fragments are expected,
// and ErrReassemblyAborted when the sequence is broken. After an abort the
// state is idle and the next start packet begins cleanly.
//
// A none packet arriving mid-assembly discards the partial frame and is
// still returned, since it is complete on its own.
func (r *Reassembler) Feed(sp SubPacket) ([]byte, error) {
	switch sp.Status {
	case PacketNone:
		r.Reset()
		return sp.Data, nil

	case PacketStart:
		r.Reset()
		r.assembling = true
		r.baseline = sp.PacketID
		return nil, r.buffer(sp)

	case PacketMiddle, PacketEnd:
		if !r.assembling {
			return nil, newError(KindReassemblyAborted, "%s packet %d without start", sp.Status, sp.PacketID)
		}
		want := r.baseline + uint32(len(r.chunks))
		if sp.PacketID != want {
			r.Reset()
			return nil, newError(KindReassemblyAborted, "%s packet id %d, expected %d", sp.Status, sp.PacketID, want)
		}
		if err := r.buffer(sp); err != nil {
			return nil, err
		}
		if sp.Status == PacketMiddle {
			return nil, nil
		}

		out := make([]byte, 0, r.size)
		for _, c := range r.chunks {
			out = append(out, c...)
		}
		r.Reset()
		return out, nil

	default:
		r.Reset()
		return nil, newError(KindReassemblyAborted, "unknown packet status %s", sp.Status)
	}
}

func (r *Reassembler) buffer(sp SubPacket) error {
	if r.size+len(sp.Data) > MaxAssembledSize {
		size := r.size + len(sp.Data)
		r.Reset()
		return newError(KindReassemblyAborted, "assembled size %d exceeds %d", size, MaxAssembledSize)
	}
	r.chunks = append(r.chunks, sp.Data)
	r.size += len(sp.Data)
	return nil
}

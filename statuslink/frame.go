package statuslink

import (
	"encoding/binary"
	"io"

	"github.com/pkg/errors"

	"github.com/ardnew/softcam/device"
	"github.com/ardnew/softcam/pkg"
)

// Commands.
const (
	CmdGetStatus   byte = 0x01 // payload: device id (u16 LE)
	CmdListDevices byte = 0x02 // no payload
)

// Frame limits, inherited from the companion's I2C transfers.
const (
	MaxRequestPayload  = 16
	MaxResponseFrame   = 31
	MaxResponsePayload = MaxResponseFrame - 2
)

// statusPayloadSize is the encoded size of a Status.
const statusPayloadSize = 2 + 1 + 2 + 1 + 1 + 8 + 8

// maxListed is the number of device IDs that fit in one response.
const maxListed = (MaxResponsePayload - 1) / 2

// MaxID is the largest device ID the link can address. IDs are never
// reused, so a long-lived registry eventually creates devices beyond it;
// those are left out of LIST_DEVICES.
const MaxID = device.ID(0xFFFF)

// listPayload encodes the count and the first maxListed addressable IDs.
func listPayload(ids []device.ID) []byte {
	buf := make([]byte, 1, 1+2*maxListed)
	for _, id := range ids {
		if buf[0] == maxListed {
			break
		}
		if id > MaxID {
			continue
		}
		buf = binary.LittleEndian.AppendUint16(buf, uint16(id))
		buf[0]++
	}
	return buf
}

// writeFrame writes [head][len][payload].
func writeFrame(w io.Writer, head byte, payload []byte, limit int) error {
	if len(payload) > limit {
		return errors.Wrapf(pkg.ErrInvalidParameter, "payload %d bytes exceeds %d", len(payload), limit)
	}
	buf := make([]byte, 2+len(payload))
	buf[0] = head
	buf[1] = byte(len(payload))
	copy(buf[2:], payload)
	_, err := w.Write(buf)
	return err
}

// readFrame reads [head][len][payload]. A length above limit fails with
// ErrInvalidParameter after the header is consumed.
func readFrame(r io.Reader, limit int) (byte, []byte, error) {
	var hdr [2]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return 0, nil, err
	}
	n := int(hdr[1])
	if n > limit {
		return hdr[0], nil, errors.Wrapf(pkg.ErrInvalidParameter, "payload %d bytes exceeds %d", n, limit)
	}
	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return 0, nil, errors.Wrap(err, "payload")
	}
	return hdr[0], payload, nil
}

// Status is the GET_STATUS result.
type Status struct {
	ID         device.ID    `json:"id"`
	State      device.State `json:"state"`
	StatusCode int          `json:"status_code"`
	Queued     int          `json:"queued"`
	Held       int          `json:"held"`
	Sequence   uint64       `json:"sequence"`
	Dropped    uint64       `json:"dropped"`
}

func statusOf(d *device.Device) Status {
	code, s := d.StatusSnapshot()
	return Status{
		ID:         s.ID,
		State:      s.State,
		StatusCode: code,
		Queued:     s.Queue.Queued,
		Held:       s.Queue.Held,
		Sequence:   s.Queue.Sequence,
		Dropped:    s.Queue.Dropped,
	}
}

func (s *Status) marshal() []byte {
	buf := make([]byte, statusPayloadSize)
	binary.LittleEndian.PutUint16(buf[0:], uint16(s.ID))
	buf[2] = byte(s.State)
	binary.LittleEndian.PutUint16(buf[3:], uint16(s.StatusCode))
	buf[5] = byte(s.Queued)
	buf[6] = byte(s.Held)
	binary.LittleEndian.PutUint64(buf[7:], s.Sequence)
	binary.LittleEndian.PutUint64(buf[15:], s.Dropped)
	return buf
}

func (s *Status) unmarshal(buf []byte) error {
	if len(buf) != statusPayloadSize {
		return errors.Wrapf(pkg.ErrInvalidParameter, "status payload %d bytes", len(buf))
	}
	s.ID = device.ID(binary.LittleEndian.Uint16(buf[0:]))
	s.State = device.State(buf[2])
	s.StatusCode = int(binary.LittleEndian.Uint16(buf[3:]))
	s.Queued = int(buf[5])
	s.Held = int(buf[6])
	s.Sequence = binary.LittleEndian.Uint64(buf[7:])
	s.Dropped = binary.LittleEndian.Uint64(buf[15:])
	return nil
}

package statuslink

import (
	"context"
	"encoding/binary"
	"io"
	"net"
	"sync"

	"github.com/pkg/errors"

	"github.com/ardnew/softcam/device"
	"github.com/ardnew/softcam/pkg"
)

// Client issues status requests over one connection.
type Client struct {
	mutex sync.Mutex
	rw    io.ReadWriter
	conn  net.Conn
}

// NewClient wraps an established connection.
func NewClient(rw io.ReadWriter) *Client {
	c := &Client{rw: rw}
	if conn, ok := rw.(net.Conn); ok {
		c.conn = conn
	}
	return c
}

// Dial connects to a status link server.
func Dial(ctx context.Context, addr string) (*Client, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, errors.Wrapf(err, "dial %s", addr)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	return NewClient(conn), nil
}

// Close closes the underlying connection, if any.
func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

// Do sends one command and returns the response payload. A non-OK response
// code is returned as its sentinel error.
func (c *Client) Do(cmd byte, payload []byte) ([]byte, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if err := writeFrame(c.rw, cmd, payload, MaxRequestPayload); err != nil {
		return nil, err
	}
	code, resp, err := readFrame(c.rw, MaxResponsePayload)
	if err != nil {
		return nil, errors.Wrap(err, "read response")
	}
	if err := pkg.Code(code).Error(); err != nil {
		return nil, errors.Wrapf(err, "command 0x%02x", cmd)
	}
	return resp, nil
}

// Status returns the status of one device.
func (c *Client) Status(id device.ID) (Status, error) {
	var req [2]byte
	binary.LittleEndian.PutUint16(req[:], uint16(id))
	resp, err := c.Do(CmdGetStatus, req[:])
	if err != nil {
		return Status{}, err
	}
	var s Status
	if err := s.unmarshal(resp); err != nil {
		return Status{}, err
	}
	return s, nil
}

// List returns the IDs of the live devices.
func (c *Client) List() ([]device.ID, error) {
	resp, err := c.Do(CmdListDevices, nil)
	if err != nil {
		return nil, err
	}
	if len(resp) < 1 || len(resp) != 1+2*int(resp[0]) {
		return nil, errors.Wrapf(pkg.ErrInvalidParameter, "list payload %d bytes", len(resp))
	}
	ids := make([]device.ID, resp[0])
	for i := range ids {
		ids[i] = device.ID(binary.LittleEndian.Uint16(resp[1+2*i:]))
	}
	return ids, nil
}

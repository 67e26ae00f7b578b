package gateway

import (
	"time"

	"github.com/ardnew/softcam/device"
	"github.com/ardnew/softcam/pkg"
)

// Message is one control request received on a websocket session.
type Message struct {
	Seq       uint64         `json:"seq"`
	Device    device.ID      `json:"device"`
	Op        string         `json:"op"`
	Format    *device.Format `json:"format,omitempty"`
	Index     int            `json:"index,omitempty"`
	TimeoutMS int64          `json:"timeout_ms,omitempty"`
	Mode      int            `json:"mode,omitempty"`
}

// request converts the message to a dispatcher request.
func (m *Message) request(op device.Op) *device.Request {
	req := &device.Request{
		Op:      op,
		Index:   m.Index,
		Timeout: time.Duration(m.TimeoutMS) * time.Millisecond,
		Mode:    m.Mode,
	}
	if m.Format != nil {
		req.Format = *m.Format
	}
	return req
}

// Reply answers one Message. The embedded response carries the operation
// payload; buffer replies carry metadata only.
type Reply struct {
	Seq   uint64     `json:"seq"`
	OK    bool       `json:"ok"`
	Error *ErrorBody `json:"error,omitempty"`
	*device.Response
}

// ErrorBody describes a failed request.
type ErrorBody struct {
	Code    pkg.Code `json:"code"`
	Name    string   `json:"name"`
	Message string   `json:"message"`
}

func errorBody(err error) *ErrorBody {
	code := pkg.CodeOf(err)
	return &ErrorBody{
		Code:    code,
		Name:    code.String(),
		Message: err.Error(),
	}
}

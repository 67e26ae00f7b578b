// Package fifo feeds devices from named pipes.
//
// Each Feeder owns one FIFO, named after its device, inside a shared
// directory. A producer process opens the FIFO for writing and writes raw
// frames back to back. The feeder reads exactly one negotiated frame size
// at a time and injects it:
//
//	$ softcam serve --fifo $XDG_RUNTIME_DIR/softcam
//	$ ffmpeg -i in.mp4 -f rawvideo -pix_fmt yuyv422 -s 640x480 - > $XDG_RUNTIME_DIR/softcam/softcam0.fifo
//
// Data written while the device has no format stays in the pipe until one
// is negotiated. A frame rejected by the queue is counted and dropped.
//
// The FIFO is opened read-write and non-blocking, so the feeder never
// blocks waiting for a writer and survives writers coming and going.
package fifo

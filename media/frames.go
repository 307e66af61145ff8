package media

import (
	"fmt"
	"os"

	"gocv.io/x/gocv"
)

// frameSeekMs is how far into a recording the representative frame is taken.
// The first moments of doorbell clips are often still mid-exposure.
const frameSeekMs = 1000

// ExtractFrame pulls a single JPEG frame out of an MP4 recording. The video
// bytes are staged in a temp file because the OpenCV capture API reads from
// paths, not memory.
func ExtractFrame(video []byte) ([]byte, error) {
	if len(video) == 0 {
		return nil, fmt.Errorf("empty recording")
	}

	tmp, err := os.CreateTemp("", "recording-*.mp4")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp file for recording: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(video); err != nil {
		tmp.Close()
		return nil, fmt.Errorf("failed to stage recording: %w", err)
	}
	tmp.Close()

	capture, err := gocv.VideoCaptureFile(tmp.Name())
	if err != nil {
		return nil, fmt.Errorf("failed to open recording: %w", err)
	}
	defer capture.Close()

	capture.Set(gocv.VideoCapturePosMsec, frameSeekMs)

	frame := gocv.NewMat()
	defer frame.Close()

	if ok := capture.Read(&frame); !ok || frame.Empty() {
		// fall back to the first frame when the clip is shorter than the seek
		capture.Set(gocv.VideoCapturePosMsec, 0)
		if ok := capture.Read(&frame); !ok || frame.Empty() {
			return nil, fmt.Errorf("no decodable frame in recording")
		}
	}

	buf, err := gocv.IMEncode(gocv.JPEGFileExt, frame)
	if err != nil {
		return nil, fmt.Errorf("failed to encode frame: %w", err)
	}
	defer buf.Close()

	out := make([]byte, len(buf.GetBytes()))
	copy(out, buf.GetBytes())
	return out, nil
}

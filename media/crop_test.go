package media

import (
	"bytes"
	"image"
	"image/color"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testFrame(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, imaging.Encode(&buf, img, imaging.JPEG))
	return buf.Bytes()
}

func TestCropDetection(t *testing.T) {
	frame := testFrame(t, 200, 150)
	det := &Detection{
		Label:      "person",
		Confidence: 0.9,
		BBox:       &BBox{X1: 20, Y1: 10, X2: 120, Y2: 110},
	}

	crop := CropDetection(frame, det)
	require.NotNil(t, crop)

	img, err := imaging.Decode(bytes.NewReader(crop))
	require.NoError(t, err)
	assert.Equal(t, 100, img.Bounds().Dx())
	assert.Equal(t, 100, img.Bounds().Dy())
}

func TestCropDetectionClampsToFrame(t *testing.T) {
	frame := testFrame(t, 100, 80)
	det := &Detection{
		Label:      "person",
		Confidence: 0.9,
		BBox:       &BBox{X1: -50, Y1: -20, X2: 500, Y2: 400},
	}

	crop := CropDetection(frame, det)
	require.NotNil(t, crop)

	img, err := imaging.Decode(bytes.NewReader(crop))
	require.NoError(t, err)
	assert.Equal(t, 100, img.Bounds().Dx())
	assert.Equal(t, 80, img.Bounds().Dy())
}

func TestCropDetectionDegenerateBox(t *testing.T) {
	frame := testFrame(t, 100, 80)

	// zero-area and inverted boxes both yield nil
	assert.Nil(t, CropDetection(frame, &Detection{BBox: &BBox{X1: 50, Y1: 40, X2: 50, Y2: 40}}))
	assert.Nil(t, CropDetection(frame, &Detection{BBox: &BBox{X1: 90, Y1: 70, X2: 10, Y2: 5}}))

	// a box entirely outside the frame clamps to nothing
	assert.Nil(t, CropDetection(frame, &Detection{BBox: &BBox{X1: 200, Y1: 200, X2: 300, Y2: 300}}))
}

func TestCropDetectionNilInputs(t *testing.T) {
	frame := testFrame(t, 100, 80)
	assert.Nil(t, CropDetection(frame, nil))
	assert.Nil(t, CropDetection(frame, &Detection{Label: "person"}), "detection without a bbox")
	assert.Nil(t, CropDetection([]byte("garbage"), &Detection{BBox: &BBox{X1: 0, Y1: 0, X2: 10, Y2: 10}}))
}

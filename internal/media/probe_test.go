package media

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const probeFixture = `{
  "streams": [
    {"index": 0, "codec_name": "mjpeg", "codec_type": "video", "width": 300, "height": 300,
     "disposition": {"attached_pic": 1}},
    {"index": 1, "codec_name": "h264", "codec_type": "video", "width": 1920, "height": 1080,
     "avg_frame_rate": "30000/1001", "duration": "12.000000", "disposition": {"attached_pic": 0}},
    {"index": 2, "codec_name": "aac", "codec_type": "audio"}
  ],
  "format": {"format_name": "mov,mp4,m4a,3gp,3g2,mj2", "duration": "12.345000"}
}`

func TestParseJSON(t *testing.T) {
	res, err := ParseJSON([]byte(probeFixture))
	require.NoError(t, err)

	assert.Equal(t, 1920, res.Width)
	assert.Equal(t, 1080, res.Height)
	assert.Equal(t, 12.345, res.Duration)
	assert.True(t, res.HasAudio)
	assert.Equal(t, "h264", res.VideoCodec)
	assert.Equal(t, "30000/1001", res.FrameRate)
}

func TestParseJSON_StillImage(t *testing.T) {
	res, err := ParseJSON([]byte(`{
	  "streams": [{"codec_name": "png", "codec_type": "video", "width": 500, "height": 200}],
	  "format": {"format_name": "png_pipe", "duration": "N/A"}
	}`))
	require.NoError(t, err)

	assert.Equal(t, 500, res.Width)
	assert.Equal(t, 200, res.Height)
	assert.Zero(t, res.Duration)
	assert.False(t, res.HasAudio)
}

func TestParseJSON_Rotation(t *testing.T) {
	tests := []struct {
		name         string
		stream       string
		wantW, wantH int
		wantRotation int
	}{
		{"display matrix -90", `"side_data_list": [{"side_data_type": "Display Matrix", "displaymatrix": "...", "rotation": -90}]`, 1080, 1920, 270},
		{"display matrix 90", `"side_data_list": [{"side_data_type": "Display Matrix", "rotation": 90}]`, 1080, 1920, 90},
		{"legacy rotate tag", `"tags": {"rotate": "270", "language": "und"}`, 1080, 1920, 270},
		{"upside down", `"side_data_list": [{"side_data_type": "Display Matrix", "rotation": 180}]`, 1920, 1080, 180},
		{"unrotated", `"tags": {"language": "und"}`, 1920, 1080, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := ParseJSON([]byte(`{
			  "streams": [{"codec_type": "video", "width": 1920, "height": 1080, ` + tt.stream + `}],
			  "format": {"duration": "4"}
			}`))
			require.NoError(t, err)
			assert.Equal(t, tt.wantW, res.Width)
			assert.Equal(t, tt.wantH, res.Height)
			assert.Equal(t, tt.wantRotation, res.Rotation)
		})
	}
}

func TestParseJSON_StreamDurationFallback(t *testing.T) {
	res, err := ParseJSON([]byte(`{
	  "streams": [{"codec_type": "video", "width": 64, "height": 64, "duration": "3.5"}],
	  "format": {}
	}`))
	require.NoError(t, err)
	assert.Equal(t, 3.5, res.Duration)
}

func TestParseJSON_Errors(t *testing.T) {
	_, err := ParseJSON([]byte(`not json`))
	assert.ErrorIs(t, err, ErrProbeFailed)

	_, err = ParseJSON([]byte(`{"streams": [{"codec_type": "audio"}], "format": {"duration": "3"}}`))
	assert.ErrorIs(t, err, ErrNoVideoStream)

	_, err = ParseJSON([]byte(`{"streams": [{"codec_type": "video", "width": 0, "height": 0}]}`))
	assert.ErrorIs(t, err, ErrNoVideoStream)
}

func TestProber_MissingBinary(t *testing.T) {
	_, err := NewProber("/nonexistent/ffprobe").Probe(context.Background(), "x.mp4")
	assert.ErrorIs(t, err, ErrProbeFailed)
}

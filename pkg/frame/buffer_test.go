package frame

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/png"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	t.Run("valid rgba", func(t *testing.T) {
		buf, err := New(2, 3, RGBA, make([]uint8, 2*3*4))
		require.NoError(t, err)
		assert.Equal(t, 6, buf.Pixels())
	})

	t.Run("valid luma", func(t *testing.T) {
		_, err := New(4, 4, Luma, make([]uint8, 16))
		require.NoError(t, err)
	})

	tests := []struct {
		name     string
		w, h, c  int
		n        int
		wantErr  error
	}{
		{"zero width", 0, 10, RGBA, 0, ErrInvalidDimensions},
		{"zero height", 10, 0, RGBA, 0, ErrInvalidDimensions},
		{"negative", -1, 10, RGBA, 0, ErrInvalidDimensions},
		{"three channels", 2, 2, 3, 12, ErrChannels},
		{"short data", 2, 2, RGBA, 15, ErrShortData},
		{"long data", 2, 2, Luma, 5, ErrShortData},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			buf, err := New(tc.w, tc.h, tc.c, make([]uint8, tc.n))
			assert.Nil(t, buf)
			assert.ErrorIs(t, err, tc.wantErr)
		})
	}
}

func TestCheckDimensions(t *testing.T) {
	assert.NoError(t, CheckDimensions(16384, 16384, 0))
	assert.ErrorIs(t, CheckDimensions(16385, 16384, 0), ErrTooLarge)
	assert.ErrorIs(t, CheckDimensions(math.MaxInt/2, 3, 0), ErrTooLarge)
	assert.ErrorIs(t, CheckDimensions(101, 100, 10_000), ErrTooLarge)
	assert.NoError(t, CheckDimensions(100, 100, 10_000))
}

func TestDimensionsFromFloat(t *testing.T) {
	w, h, err := DimensionsFromFloat(1280, 720, 0)
	require.NoError(t, err)
	assert.Equal(t, 1280, w)
	assert.Equal(t, 720, h)

	bad := [][2]float64{
		{math.NaN(), 720},
		{1280, math.Inf(1)},
		{math.Inf(-1), 720},
		{0, 720},
		{-640, 480},
		{640.5, 480},
		{1e12, 1e12},
	}
	for _, v := range bad {
		_, _, err := DimensionsFromFloat(v[0], v[1], 0)
		assert.Error(t, err, "dims %v", v)
	}
}

func TestFromImage(t *testing.T) {
	img := image.NewGray(image.Rect(10, 10, 14, 12))
	img.SetGray(10, 10, color.Gray{Y: 200})

	buf, err := FromImage(img, 0)
	require.NoError(t, err)
	assert.Equal(t, 4, buf.Width)
	assert.Equal(t, 2, buf.Height)
	assert.Equal(t, RGBA, buf.Channels)
	assert.Equal(t, []uint8{200, 200, 200, 255}, buf.Pix[:4])

	_, err = FromImage(image.NewRGBA(image.Rect(0, 0, 0, 5)), 0)
	assert.ErrorIs(t, err, ErrInvalidDimensions)
}

func TestDecode(t *testing.T) {
	src, err := Checkerboard(32, 16, 4)
	require.NoError(t, err)

	var png1 bytes.Buffer
	require.NoError(t, png.Encode(&png1, src.Image()))

	t.Run("png round trip", func(t *testing.T) {
		buf, format, err := DecodeBytes(png1.Bytes(), 0)
		require.NoError(t, err)
		assert.Equal(t, "png", format)
		assert.Equal(t, src.Pix, buf.Pix)
	})

	t.Run("ceiling checked from header", func(t *testing.T) {
		_, _, err := DecodeBytes(png1.Bytes(), 100)
		assert.ErrorIs(t, err, ErrTooLarge)
	})

	t.Run("garbage", func(t *testing.T) {
		_, _, err := DecodeBytes([]byte("not an image"), 0)
		assert.Error(t, err)
	})

	t.Run("jpeg", func(t *testing.T) {
		data, err := JPEG(src, 0)
		require.NoError(t, err)
		buf, format, err := Decode(bytes.NewReader(data), 0)
		require.NoError(t, err)
		assert.Equal(t, "jpeg", format)
		assert.Equal(t, 32, buf.Width)
		assert.Equal(t, 16, buf.Height)
	})
}

func TestEncodeJPEG_InvalidBuffer(t *testing.T) {
	err := EncodeJPEG(&bytes.Buffer{}, &Buffer{Width: 2, Height: 2, Channels: RGBA}, 90)
	if !errors.Is(err, ErrShortData) {
		t.Errorf("expected ErrShortData, got %v", err)
	}
}

func TestPatterns(t *testing.T) {
	u, err := Uniform(3, 3, 10, 20, 30)
	require.NoError(t, err)
	assert.Equal(t, []uint8{10, 20, 30, 255}, u.Pix[32:36])

	cb, err := Checkerboard(4, 4, 2)
	require.NoError(t, err)
	assert.Equal(t, uint8(0xff), cb.Pix[0])
	assert.Equal(t, uint8(0), cb.Pix[2*4])

	// A blurred uniform image stays uniform.
	blurred := BoxBlur(u, 1)
	assert.Equal(t, u.Pix, blurred.Pix)

	// Blurring a checkerboard pulls samples toward the mean.
	bc := BoxBlur(cb, 1)
	assert.NotEqual(t, cb.Pix, bc.Pix)
}

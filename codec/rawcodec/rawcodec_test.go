package rawcodec

import (
	"bytes"
	"image"
	"testing"

	"github.com/ooopus/libheif/codec"
	"github.com/ooopus/libheif/errdefs"
	"github.com/ooopus/libheif/pixel"
)

func testRaster(w, h int) *pixel.Image {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = uint8(i * 7)
	}
	return &pixel.Image{
		Img:           img,
		Colorspace:    pixel.ColorspaceRGB,
		Chroma:        pixel.ChromaInterleavedRGBA,
		BitsPerSample: 8,
	}
}

func TestRegistersWithDefaultRegistry(t *testing.T) {
	if _, err := codec.Default.Decoder(codec.FormatUncompressed, PluginID); err != nil {
		t.Fatalf("decoder not registered: %v", err)
	}
	if _, err := codec.Default.Encoder(codec.FormatUncompressed, PluginID); err != nil {
		t.Fatalf("encoder not registered: %v", err)
	}
}

func TestRoundTripRGBA(t *testing.T) {
	src := testRaster(5, 3)
	res, err := rawEncoder{}.Encode(src, nil)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if len(res.Config) != configSize {
		t.Fatalf("config = %d bytes, want %d", len(res.Config), configSize)
	}

	out, err := rawDecoder{}.Decode(res.Coded, res.Config, codec.DecodeParams{})
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	got := out.Img.(*image.NRGBA)
	want := src.Img.(*image.NRGBA)
	if !bytes.Equal(got.Pix, want.Pix) {
		t.Error("decoded pixels differ from the encoded raster")
	}
}

func TestRoundTripDropAlpha(t *testing.T) {
	src := testRaster(4, 4)
	res, err := rawEncoder{}.Encode(src, codec.Params{"alpha": false})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	out, err := rawDecoder{}.Decode(res.Coded, res.Config, codec.DecodeParams{})
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if out.Chroma != pixel.ChromaInterleavedRGB {
		t.Errorf("chroma = %s, want interleaved RGB", out.Chroma)
	}
	_, _, _, a := out.Img.At(0, 0).RGBA()
	if a != 0xffff {
		t.Errorf("alpha = %d, want opaque", a)
	}
}

func TestRoundTripGray(t *testing.T) {
	gray := image.NewGray(image.Rect(0, 0, 6, 2))
	for i := range gray.Pix {
		gray.Pix[i] = uint8(i * 11)
	}
	src := &pixel.Image{Img: gray, Colorspace: pixel.ColorspaceMonochrome, Chroma: pixel.ChromaMonochrome, BitsPerSample: 8}

	res, err := rawEncoder{}.Encode(src, nil)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	out, err := rawDecoder{}.Decode(res.Coded, res.Config, codec.DecodeParams{})
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !bytes.Equal(out.Img.(*image.Gray).Pix, gray.Pix) {
		t.Error("gray round trip is not bit-exact")
	}
}

func TestDecodeRejectsBadConfig(t *testing.T) {
	tests := []struct {
		name   string
		coded  []byte
		config []byte
	}{
		{"short config", nil, []byte{1, 2}},
		{"bad version", nil, []byte{9, 0, 0, 8, 0, 0, 0, 1, 0, 0, 0, 1}},
		{"zero dimensions", nil, []byte{1, 2, 6, 8, 0, 0, 0, 0, 0, 0, 0, 1}},
		{"truncated samples", []byte{1, 2, 3}, []byte{1, 2, 6, 8, 0, 0, 0, 2, 0, 0, 0, 2}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := rawDecoder{}.Decode(tt.coded, tt.config, codec.DecodeParams{})
			if !errdefs.IsCodecFailure(err) {
				t.Errorf("Decode: %v, want codec failure", err)
			}
		})
	}
}

func TestEncodeValidatesParams(t *testing.T) {
	if _, err := (rawEncoder{}).Encode(testRaster(1, 1), codec.Params{"bogus": 1}); err == nil {
		t.Error("unknown parameter accepted")
	}
}

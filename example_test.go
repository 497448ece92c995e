package heif_test

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"

	heif "github.com/ooopus/libheif"
	"github.com/ooopus/libheif/pixel"
)

func gradient(w, h int) *pixel.Image {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, color.NRGBA{R: uint8(x * 8), G: uint8(y * 8), B: 128, A: 255})
		}
	}
	return &pixel.Image{
		Img:           img,
		Colorspace:    pixel.ColorspaceRGB,
		Chroma:        pixel.ChromaInterleavedRGBA,
		BitsPerSample: 8,
	}
}

func ExampleContext_WriteTo() {
	ctx := heif.NewContext()
	id, err := ctx.AddImage(gradient(32, 32), nil)
	if err != nil {
		fmt.Println(err)
		return
	}
	if err := ctx.SetPrimaryImage(id); err != nil {
		fmt.Println(err)
		return
	}

	var buf bytes.Buffer
	if _, err := ctx.WriteTo(&buf); err != nil {
		fmt.Println(err)
		return
	}
	fmt.Printf("mime: %s\n", heif.MimeType(buf.Bytes()))
	// Output:
	// mime: image/heif
}

func ExampleDecode() {
	ctx := heif.NewContext()
	id, _ := ctx.AddImage(gradient(16, 16), nil)
	ctx.SetPrimaryImage(id)
	var buf bytes.Buffer
	ctx.WriteTo(&buf)

	img, err := heif.Decode(&buf)
	if err != nil {
		fmt.Println(err)
		return
	}
	fmt.Printf("bounds: %v\n", img.Bounds())
	// Output:
	// bounds: (0,0)-(16,16)
}

func ExampleContext_ReadFromMemory() {
	enc := heif.NewContext()
	id, _ := enc.AddImage(gradient(24, 12), nil)
	enc.SetPrimaryImage(id)
	var buf bytes.Buffer
	enc.WriteTo(&buf)

	dec := heif.NewContext()
	if err := dec.ReadFromMemory(buf.Bytes()); err != nil {
		fmt.Println(err)
		return
	}
	primary, err := dec.PrimaryImage()
	if err != nil {
		fmt.Println(err)
		return
	}
	w, h, _ := primary.Dimensions()
	fmt.Printf("primary: %dx%d\n", w, h)

	out, err := primary.Decode(context.Background(), nil)
	if err != nil {
		fmt.Println(err)
		return
	}
	fmt.Printf("layout: %s/%s\n", out.Colorspace, out.Chroma)
	// Output:
	// primary: 24x12
	// layout: RGB/interleaved RGBA
}

func ExampleContext_AddGrid() {
	ctx := heif.NewContext()
	var tiles []heif.ItemID
	for i := 0; i < 4; i++ {
		id, err := ctx.AddImage(gradient(16, 16), &heif.EncodeOptions{Hidden: true})
		if err != nil {
			fmt.Println(err)
			return
		}
		tiles = append(tiles, id)
	}
	gridID, err := ctx.AddGrid(tiles, 2, 2, 30, 30)
	if err != nil {
		fmt.Println(err)
		return
	}
	ctx.SetPrimaryImage(gridID)
	var buf bytes.Buffer
	ctx.WriteTo(&buf)

	dec := heif.NewContext()
	if err := dec.ReadFromMemory(buf.Bytes()); err != nil {
		fmt.Println(err)
		return
	}
	primary, _ := dec.PrimaryImage()
	tiling, err := primary.Tiling()
	if err != nil {
		fmt.Println(err)
		return
	}
	fmt.Printf("grid: %dx%d tiles of %dx%d, canvas %dx%d\n",
		tiling.Columns, tiling.Rows, tiling.TileWidth, tiling.TileHeight,
		tiling.ImageWidth, tiling.ImageHeight)
	// Output:
	// grid: 2x2 tiles of 16x16, canvas 30x30
}

// Command gheif reads and writes HEIF/AVIF container files from the command
// line.
//
// Usage:
//
//	gheif enc [options] <input>        PNG/JPEG → HEIF (use "-" for stdin)
//	gheif dec [options] <input.heif>   HEIF → PNG/JPEG (use "-" for stdin, -o - for stdout)
//	gheif info <input.heif>            Display container structure
package main

import (
	"context"
	"flag"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"strings"

	heif "github.com/ooopus/libheif"
	"github.com/ooopus/libheif/pixel"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "enc":
		err = runEnc(os.Args[2:])
	case "dec":
		err = runDec(os.Args[2:])
	case "info":
		err = runInfo(os.Args[2:])
	case "-h", "-help", "--help", "help":
		printUsage()
		return
	default:
		fmt.Fprintf(os.Stderr, "gheif: unknown command %q\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "gheif: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `Usage:
  gheif enc [options] <input>        Encode PNG/JPEG to HEIF
  gheif dec [options] <input.heif>   Decode HEIF to PNG or JPEG
  gheif info <input.heif>            Display container structure

Use "-" as input to read from stdin, "-o -" to write to stdout.

Run "gheif <command> -h" for command-specific options.
`)
}

// openInput returns an io.ReadCloser for the given path.
// If path is "-", stdin is returned (caller should not close).
func openInput(path string) (io.ReadCloser, error) {
	if path == "-" {
		return io.NopCloser(os.Stdin), nil
	}
	return os.Open(path)
}

// --- enc ---

func runEnc(args []string) error {
	fs := flag.NewFlagSet("enc", flag.ContinueOnError)
	tile := fs.Int("tile", 0, "split into tiles of this edge length and store a grid (0=single item)")
	noAlpha := fs.Bool("noalpha", false, "drop the alpha channel")
	output := fs.String("o", "", `output path (default: <input>.heif, "-" for stdout)`)

	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() < 1 {
		return fmt.Errorf("enc: missing input file\nUsage: gheif enc [options] <input>")
	}
	inputPath := fs.Arg(0)

	in, err := openInput(inputPath)
	if err != nil {
		return err
	}
	src, _, err := image.Decode(in)
	in.Close()
	if err != nil {
		return fmt.Errorf("enc: decoding input: %w", err)
	}

	c := heif.NewContext()
	params := map[string]any{"alpha": !*noAlpha}
	opts := &heif.EncodeOptions{Params: params}

	var primary heif.ItemID
	if *tile > 0 {
		primary, err = addGrid(c, src, *tile, opts)
	} else {
		primary, err = c.AddImage(wrapImage(src), opts)
	}
	if err != nil {
		return fmt.Errorf("enc: %w", err)
	}
	if err := c.SetPrimaryImage(primary); err != nil {
		return fmt.Errorf("enc: %w", err)
	}

	if *output == "-" {
		_, err := c.WriteTo(os.Stdout)
		return err
	}
	outputPath := *output
	if outputPath == "" {
		if inputPath == "-" {
			outputPath = "output.heif"
		} else {
			base := strings.TrimSuffix(filepath.Base(inputPath), filepath.Ext(inputPath))
			outputPath = base + ".heif"
		}
	}
	if err := c.WriteToFile(outputPath); err != nil {
		return fmt.Errorf("enc: %w", err)
	}

	fi, _ := os.Stat(outputPath)
	fmt.Fprintf(os.Stderr, "Encoded %s → %s (%d bytes)\n", inputPath, outputPath, fi.Size())
	return nil
}

func wrapImage(src image.Image) *pixel.Image {
	b := src.Bounds()
	nrgba, ok := src.(*image.NRGBA)
	if !ok || b.Min != (image.Point{}) {
		nrgba = image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
		for y := 0; y < b.Dy(); y++ {
			for x := 0; x < b.Dx(); x++ {
				nrgba.Set(x, y, src.At(b.Min.X+x, b.Min.Y+y))
			}
		}
	}
	return &pixel.Image{
		Img:           nrgba,
		Colorspace:    pixel.ColorspaceRGB,
		Chroma:        pixel.ChromaInterleavedRGBA,
		BitsPerSample: 8,
	}
}

// addGrid splits src into square tiles and stores them as a grid item.
func addGrid(c *heif.Context, src image.Image, edge int, opts *heif.EncodeOptions) (heif.ItemID, error) {
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	cols := (w + edge - 1) / edge
	rows := (h + edge - 1) / edge

	tileOpts := *opts
	tileOpts.Hidden = true
	tiles := make([]heif.ItemID, 0, cols*rows)
	for row := 0; row < rows; row++ {
		for col := 0; col < cols; col++ {
			tile := image.NewNRGBA(image.Rect(0, 0, edge, edge))
			for y := 0; y < edge; y++ {
				for x := 0; x < edge; x++ {
					sx, sy := b.Min.X+col*edge+x, b.Min.Y+row*edge+y
					if sx < b.Max.X && sy < b.Max.Y {
						tile.Set(x, y, src.At(sx, sy))
					}
				}
			}
			id, err := c.AddImage(&pixel.Image{
				Img:           tile,
				Colorspace:    pixel.ColorspaceRGB,
				Chroma:        pixel.ChromaInterleavedRGBA,
				BitsPerSample: 8,
			}, &tileOpts)
			if err != nil {
				return 0, err
			}
			tiles = append(tiles, id)
		}
	}
	return c.AddGrid(tiles, cols, rows, uint32(w), uint32(h))
}

// --- dec ---

func runDec(args []string) error {
	fs := flag.NewFlagSet("dec", flag.ContinueOnError)
	output := fs.String("o", "", `output path (default: .png, "-" for stdout)`)
	fmtFlag := fs.String("fmt", "", "output format: png, jpeg (auto-detect from extension if omitted)")
	item := fs.Uint("item", 0, "item id to decode (0=primary image)")
	raw := fs.Bool("raw", false, "skip crop/rotation/mirror transforms")

	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() < 1 {
		return fmt.Errorf("dec: missing input file\nUsage: gheif dec [options] <input.heif>")
	}
	inputPath := fs.Arg(0)

	in, err := openInput(inputPath)
	if err != nil {
		return err
	}
	data, err := io.ReadAll(in)
	in.Close()
	if err != nil {
		return fmt.Errorf("dec: reading input: %w", err)
	}

	c := heif.NewContext()
	if err := c.ReadFromMemory(data); err != nil {
		return fmt.Errorf("dec: %w", err)
	}

	var handle *heif.ImageHandle
	if *item != 0 {
		handle, err = c.Image(heif.ItemID(*item))
	} else {
		handle, err = c.PrimaryImage()
	}
	if err != nil {
		return fmt.Errorf("dec: %w", err)
	}

	img, err := handle.Decode(context.Background(), &heif.DecodeOptions{
		IgnoreTransformations: *raw,
	})
	if err != nil {
		return fmt.Errorf("dec: %w", err)
	}
	for _, warn := range img.Warnings {
		fmt.Fprintf(os.Stderr, "gheif: warning: %s\n", warn)
	}

	outFmt := detectOutputFormat(*fmtFlag, *output)
	if *output == "-" {
		return encodeImage(os.Stdout, img.Img, outFmt)
	}
	outputPath := *output
	if outputPath == "" {
		ext := ".png"
		if outFmt == "jpeg" {
			ext = ".jpg"
		}
		if inputPath == "-" {
			outputPath = "output" + ext
		} else {
			base := strings.TrimSuffix(filepath.Base(inputPath), filepath.Ext(inputPath))
			outputPath = base + ext
		}
	}

	out, err := os.Create(outputPath)
	if err != nil {
		return err
	}
	if err := encodeImage(out, img.Img, outFmt); err != nil {
		out.Close()
		os.Remove(outputPath)
		return fmt.Errorf("dec: %w", err)
	}
	if err := out.Close(); err != nil {
		os.Remove(outputPath)
		return err
	}

	fmt.Fprintf(os.Stderr, "Decoded %s → %s\n", inputPath, outputPath)
	return nil
}

// detectOutputFormat returns "png" or "jpeg" based on flag/extension.
func detectOutputFormat(fmtFlag, outputPath string) string {
	if fmtFlag != "" {
		return strings.ToLower(fmtFlag)
	}
	if outputPath != "" && outputPath != "-" {
		switch strings.ToLower(filepath.Ext(outputPath)) {
		case ".jpg", ".jpeg":
			return "jpeg"
		}
	}
	return "png"
}

// encodeImage writes img in the specified format to w.
func encodeImage(w io.Writer, img image.Image, format string) error {
	switch format {
	case "jpeg", "jpg":
		return jpeg.Encode(w, img, &jpeg.Options{Quality: 90})
	default:
		return png.Encode(w, img)
	}
}

// --- info ---

func runInfo(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("info: missing input file\nUsage: gheif info <input.heif>")
	}
	inputPath := args[0]

	in, err := openInput(inputPath)
	if err != nil {
		return err
	}
	data, err := io.ReadAll(in)
	in.Close()
	if err != nil {
		return fmt.Errorf("info: reading input: %w", err)
	}

	name := inputPath
	if inputPath == "-" {
		name = "<stdin>"
	}

	c := heif.NewContext()
	if err := c.ReadFromMemory(data); err != nil {
		return fmt.Errorf("info: %w", err)
	}

	fmt.Printf("File:       %s\n", name)
	fmt.Printf("Brand:      %s\n", c.MainBrand())
	if mime := heif.MimeType(data); mime != "" {
		fmt.Printf("MIME type:  %s\n", mime)
	}
	compat := c.CompatibleBrands()
	if len(compat) > 0 {
		strs := make([]string, len(compat))
		for i, b := range compat {
			strs[i] = b.String()
		}
		fmt.Printf("Compatible: %s\n", strings.Join(strs, ", "))
	}

	for _, handle := range c.TopLevelImages() {
		role := "image"
		if handle.IsPrimary() {
			role = "primary image"
		}
		fmt.Printf("\nItem %d (%s, %s)\n", handle.ID(), handle.ItemType(), role)
		if w, h, ok := handle.Dimensions(); ok {
			fmt.Printf("  Dimensions: %d x %d\n", w, h)
		}
		if t, err := handle.Tiling(); err == nil && t.Columns*t.Rows > 1 {
			fmt.Printf("  Tiling:     %d x %d tiles of %d x %d\n", t.Columns, t.Rows, t.TileWidth, t.TileHeight)
		}
		fmt.Printf("  Alpha:      %v\n", handle.HasAlpha())
		fmt.Printf("  Depth:      %v\n", handle.HasDepth())
		if thumbs := handle.Thumbnails(); len(thumbs) > 0 {
			fmt.Printf("  Thumbnails: %d\n", len(thumbs))
		}
		for _, m := range handle.Metadata() {
			fmt.Printf("  Metadata:   item %d (%s)\n", m.ItemID, m.ItemType)
		}
	}

	var zero [4]byte
	if groups := c.EntityGroups(zero, 0); len(groups) > 0 {
		fmt.Println()
		for _, g := range groups {
			fmt.Printf("Group %d (%s): %d members\n", g.GroupID, g.Type, len(g.Members))
		}
	}

	if inputPath != "-" {
		if fi, err := os.Stat(inputPath); err == nil {
			fmt.Printf("\nFile size:  %d bytes\n", fi.Size())
		}
	}
	return nil
}

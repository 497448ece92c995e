package heif

import (
	"fmt"

	"github.com/ooopus/libheif/bmff"
	"github.com/ooopus/libheif/codec"
	"github.com/ooopus/libheif/errdefs"
	"github.com/ooopus/libheif/internal/compose"
	"github.com/ooopus/libheif/internal/meta"
	"github.com/ooopus/libheif/pixel"
	"github.com/ooopus/libheif/security"
	"github.com/ooopus/libheif/stream"
)

// ItemID identifies an item within one file.
type ItemID = meta.ItemID

// Context is one decoding or encoding session. Its security limits can be
// adjusted until the first Read call; after that the session is immutable
// and its queries are safe for concurrent use.
//
// A Context is not reusable: create one per file.
type Context struct {
	limits   security.Limits
	registry *codec.Registry

	maxThreads int

	src    stream.Reader
	reader *bmff.Reader
	graph  *meta.Graph
	engine *compose.Engine

	majorBrand bmff.FourCC
	brands     []bmff.FourCC

	parsed bool

	// encode-side state, see encode.go
	writeItems  []*writeItem
	writeRefs   []writeRef
	writeGroups []writeGroup
	nextID      ItemID
	primaryID   ItemID
	hasPrimary  bool
}

// NewContext returns a session with a private copy of the global security
// limits and the default codec registry.
func NewContext() *Context {
	return &Context{
		limits:   security.Global(),
		registry: codec.Default,
		nextID:   1,
	}
}

// SecurityLimits returns the session's limits for inspection or, before the
// first Read call, adjustment.
func (c *Context) SecurityLimits() *security.Limits { return &c.limits }

// SetSecurityLimits replaces the session's limits wholesale. It fails once a
// file has been read.
func (c *Context) SetSecurityLimits(l *security.Limits) error {
	if c.parsed {
		return fmt.Errorf("heif: limits are frozen after reading a file")
	}
	c.limits = *l
	return nil
}

// SetMaximumImageSizeLimit caps decoded images at roughly width squared
// pixels, a convenience over setting MaxImageSizePixels directly.
func (c *Context) SetMaximumImageSizeLimit(width int) {
	c.limits.MaxImageSizePixels = uint64(width) * uint64(width)
}

// SetMaxDecodingThreads bounds the goroutines decoding tiles in parallel.
// Zero or negative decodes on the calling goroutine's GOMAXPROCS default.
func (c *Context) SetMaxDecodingThreads(n int) { c.maxThreads = n }

// SetRegistry selects the codec registry for this session; the default is
// the package-global one that plugins register into.
func (c *Context) SetRegistry(r *codec.Registry) { c.registry = r }

// ReadFromMemory parses a file held in memory. The buffer is not copied and
// must stay alive and unmodified for the lifetime of the session.
func (c *Context) ReadFromMemory(data []byte) error {
	return c.ReadFromReader(stream.NewMemoryReader(data))
}

// ReadFromFile opens and parses the named file. The file stays open for the
// lifetime of the session; Close releases it.
func (c *Context) ReadFromFile(path string) error {
	f, err := stream.Open(path)
	if err != nil {
		return fmt.Errorf("heif: %w: %w", errdefs.ErrIOFailure, err)
	}
	if err := c.ReadFromReader(f); err != nil {
		f.Close()
		return err
	}
	return nil
}

// ReadFromReader parses a file from an arbitrary stream source, including
// one that is still growing. Parsing blocks until the boxes it needs are
// available.
func (c *Context) ReadFromReader(src stream.Reader) error {
	if c.parsed {
		return fmt.Errorf("heif: session has already read a file")
	}
	c.src = src
	c.reader = bmff.NewReader(src, &c.limits)

	var metaBox *bmff.Box
	sawFtyp := false
	err := c.reader.TopLevel(-1, func(b *bmff.Box) error {
		switch b.Type {
		case bmff.TypeFtyp:
			if err := c.parseFtyp(b); err != nil {
				return err
			}
			sawFtyp = true
		case bmff.TypeMeta:
			metaBox = b
			// mdat is only touched through item extents; everything
			// needed up front has been seen.
			return bmff.ErrStop
		}
		return nil
	})
	if err != nil {
		return err
	}
	if !sawFtyp {
		return errdefs.Malformed("heif: no file-type box")
	}
	if metaBox == nil {
		return errdefs.Malformed("heif: no meta box")
	}

	graph, err := meta.Parse(c.reader, metaBox)
	if err != nil {
		return err
	}
	if graph.HandlerType != handlerPict {
		return fmt.Errorf("heif: handler %q is not an image collection: %w", graph.HandlerType, errdefs.ErrUnsupportedFormat)
	}
	c.graph = graph
	c.engine = &compose.Engine{Graph: graph, Registry: c.registry, Limits: &c.limits}
	c.parsed = true
	return nil
}

var handlerPict = bmff.FCC("pict")

func (c *Context) parseFtyp(b *bmff.Box) error {
	payload, err := c.reader.Payload(b)
	if err != nil {
		return err
	}
	cur := bmff.NewCursor(payload)
	c.majorBrand = cur.FourCC()
	cur.Skip(4) // minor version
	if err := cur.Err(); err != nil {
		return err
	}
	for cur.Remaining() >= 4 {
		c.brands = append(c.brands, cur.FourCC())
	}
	if !brandSupported(c.majorBrand, c.brands) {
		return fmt.Errorf("heif: brand %q: %w", c.majorBrand, errdefs.ErrUnsupportedFormat)
	}
	return nil
}

// Close releases the underlying file, if the session owns one.
func (c *Context) Close() error {
	if f, ok := c.src.(*stream.FileReader); ok {
		return f.Close()
	}
	return nil
}

// MainBrand returns the file's major brand.
func (c *Context) MainBrand() bmff.FourCC { return c.majorBrand }

// CompatibleBrands returns the file's compatible-brand list.
func (c *Context) CompatibleBrands() []bmff.FourCC {
	out := make([]bmff.FourCC, len(c.brands))
	copy(out, c.brands)
	return out
}

func (c *Context) requireParsed() error {
	if !c.parsed {
		return fmt.Errorf("heif: no file has been read")
	}
	return nil
}

// TopLevelImageIDs lists the images meant to be shown on their own: not
// hidden, and not a tile, thumbnail, or auxiliary of another image.
func (c *Context) TopLevelImageIDs() []ItemID {
	if c.graph == nil {
		return nil
	}
	return c.graph.TopLevelImageIDs()
}

// TopLevelImages returns handles for TopLevelImageIDs.
func (c *Context) TopLevelImages() []*ImageHandle {
	ids := c.TopLevelImageIDs()
	out := make([]*ImageHandle, 0, len(ids))
	for _, id := range ids {
		if h, err := c.Image(id); err == nil {
			out = append(out, h)
		}
	}
	return out
}

// PrimaryImage returns the handle of the file's primary image.
func (c *Context) PrimaryImage() (*ImageHandle, error) {
	if err := c.requireParsed(); err != nil {
		return nil, err
	}
	it, err := c.graph.Primary()
	if err != nil {
		return nil, err
	}
	return &ImageHandle{ctx: c, item: it}, nil
}

// Image returns a handle for the image item with the given id.
func (c *Context) Image(id ItemID) (*ImageHandle, error) {
	if err := c.requireParsed(); err != nil {
		return nil, err
	}
	it, err := c.graph.ItemByID(id)
	if err != nil {
		return nil, err
	}
	if !meta.IsImageItem(it) {
		return nil, fmt.Errorf("heif: item %d of type %q is not an image: %w", id, it.Type, errdefs.ErrUnsupportedFormat)
	}
	return &ImageHandle{ctx: c, item: it}, nil
}

// EntityGroup is a named set of items, such as an alternatives group.
type EntityGroup struct {
	GroupID uint32
	Type    bmff.FourCC
	Members []ItemID
}

// EntityGroups lists the file's entity groups, optionally filtered by group
// type (zero FourCC matches all) and by member item (zero id matches all).
func (c *Context) EntityGroups(typeFilter bmff.FourCC, member ItemID) []EntityGroup {
	if c.graph == nil {
		return nil
	}
	groups := c.graph.EntityGroups(typeFilter, member)
	out := make([]EntityGroup, len(groups))
	for i, g := range groups {
		out[i] = EntityGroup{GroupID: g.GroupID, Type: g.Type, Members: append([]ItemID(nil), g.Members...)}
	}
	return out
}

func (c *Context) composeOptions(opts *DecodeOptions) compose.Options {
	if opts == nil {
		opts = &DecodeOptions{}
	}
	co := compose.Options{
		TargetColorspace: opts.TargetColorspace,
		TargetChroma:     opts.TargetChroma,
		Conversion:       opts.ColorConversion,
		IgnoreTransforms: opts.IgnoreTransformations,
		DecoderID:        opts.DecoderID,
		Strict:           opts.StrictDecoding,
		BestEffort:       opts.BestEffortTiles,
		MaxThreads:       c.maxThreads,
		Progress:         opts.OnProgress,
	}
	if opts.PlaceholderColor != nil {
		pc := *opts.PlaceholderColor
		co.PlaceholderColor = &pc
	}
	return co
}

// finishDecode applies the post-conversion steps of the decode options:
// bit-depth reduction and alpha flattening.
func finishDecode(img *pixel.Image, opts *DecodeOptions) *pixel.Image {
	if opts == nil {
		return img
	}
	if opts.ConvertHDRTo8Bit && img.BitsPerSample > 8 {
		reduced := *img
		reduced.Img = reduceTo8Bit(img.Img)
		reduced.BitsPerSample = 8
		img = &reduced
	}
	if opts.Background.Mode != pixel.AlphaCompositionNone && img.Chroma.HasAlpha() {
		flattened := *img
		flattened.Img = pixel.FlattenAlpha(img.Img, opts.Background)
		return &flattened
	}
	return img
}

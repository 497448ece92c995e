// Package codec defines the decoder/encoder plugin boundary and the
// priority-ordered registry the composition engine selects plugins from.
//
// The container core never touches bitstream syntax: it hands a plugin the
// raw coded bytes of an item (plus the item's codec configuration property)
// and receives a decoded raster, or the reverse for encoding. Plugins
// register themselves, usually from an init function, the same way image
// codecs register with the standard library's image package.
package codec

import (
	"fmt"
	"sort"
	"sync"

	"github.com/ooopus/libheif/errdefs"
	"github.com/ooopus/libheif/pixel"
)

// Format identifies a compression format.
type Format int

const (
	FormatUndefined Format = iota
	FormatHEVC
	FormatAVC
	FormatAV1
	FormatVVC
	FormatEVC
	FormatJPEG
	FormatJPEG2000
	FormatUncompressed
)

func (f Format) String() string {
	switch f {
	case FormatHEVC:
		return "HEVC"
	case FormatAVC:
		return "AVC"
	case FormatAV1:
		return "AV1"
	case FormatVVC:
		return "VVC"
	case FormatEVC:
		return "EVC"
	case FormatJPEG:
		return "JPEG"
	case FormatJPEG2000:
		return "JPEG 2000"
	case FormatUncompressed:
		return "uncompressed"
	default:
		return "undefined"
	}
}

// DecodeParams carries per-call decoding preferences into a plugin.
type DecodeParams struct {
	// TargetColorspace and TargetChroma are hints; a decoder may return
	// its native layout and leave conversion to the caller.
	TargetColorspace pixel.Colorspace
	TargetChroma     pixel.Chroma

	// Strict makes the decoder fail on recoverable bitstream
	// non-conformance instead of attaching warnings.
	Strict bool
}

// Decoder decodes one compression format.
type Decoder interface {
	// Format returns the compression format this decoder handles.
	Format() Format

	// ID is a unique plugin identifier, used to pin a specific plugin.
	ID() string

	// Priority orders plugins for the same format; higher wins.
	Priority() int

	// Decode turns an item's coded bytes into a raster. config is the
	// item's codec configuration property payload (hvcC, av1C, ...) and
	// may be nil for formats that need none.
	Decode(coded, config []byte, params DecodeParams) (*pixel.Image, error)
}

// ParamType is the value type of an encoder parameter.
type ParamType int

const (
	ParamTypeInteger ParamType = iota
	ParamTypeBoolean
	ParamTypeString
)

// ParamSpec describes one named encoder parameter and its constraints.
type ParamSpec struct {
	Name string
	Type ParamType

	// HasRange constrains integer parameters to [Min, Max].
	HasRange bool
	Min, Max int

	// Enum constrains string parameters to a fixed value set.
	Enum []string
}

// Params holds encoder parameter values keyed by name. Values must be int,
// bool, or string according to the parameter's spec.
type Params map[string]any

// Validate checks values against the given specs.
func (p Params) Validate(specs []ParamSpec) error {
	byName := make(map[string]ParamSpec, len(specs))
	for _, s := range specs {
		byName[s.Name] = s
	}
	for name, v := range p {
		spec, ok := byName[name]
		if !ok {
			return fmt.Errorf("codec: unknown parameter %q", name)
		}
		switch spec.Type {
		case ParamTypeInteger:
			iv, ok := v.(int)
			if !ok {
				return fmt.Errorf("codec: parameter %q wants an integer, got %T", name, v)
			}
			if spec.HasRange && (iv < spec.Min || iv > spec.Max) {
				return fmt.Errorf("codec: parameter %q value %d outside [%d, %d]", name, iv, spec.Min, spec.Max)
			}
		case ParamTypeBoolean:
			if _, ok := v.(bool); !ok {
				return fmt.Errorf("codec: parameter %q wants a boolean, got %T", name, v)
			}
		case ParamTypeString:
			sv, ok := v.(string)
			if !ok {
				return fmt.Errorf("codec: parameter %q wants a string, got %T", name, v)
			}
			if len(spec.Enum) > 0 {
				found := false
				for _, e := range spec.Enum {
					if e == sv {
						found = true
						break
					}
				}
				if !found {
					return fmt.Errorf("codec: parameter %q value %q not in %v", name, sv, spec.Enum)
				}
			}
		}
	}
	return nil
}

// EncodeResult is a plugin's output: the coded bytes and the codec
// configuration property payload to store alongside the item.
type EncodeResult struct {
	Coded  []byte
	Config []byte
}

// Encoder encodes rasters into one compression format.
type Encoder interface {
	Format() Format
	ID() string
	Priority() int

	// ParamSpecs describes the parameters Encode accepts.
	ParamSpecs() []ParamSpec

	// Encode turns a raster into coded bytes.
	Encode(img *pixel.Image, params Params) (EncodeResult, error)
}

// Registry holds registered plugins, ordered by priority. Selection reads a
// snapshot under a read lock, so registration never mutates the view of an
// in-flight decode.
type Registry struct {
	mu       sync.RWMutex
	decoders []Decoder
	encoders []Encoder
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry { return &Registry{} }

// Default is the registry used when no explicit one is supplied.
var Default = NewRegistry()

// RegisterDecoder adds a decoder plugin.
func (r *Registry) RegisterDecoder(d Decoder) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.decoders = append(r.decoders, d)
	sort.SliceStable(r.decoders, func(i, j int) bool {
		return r.decoders[i].Priority() > r.decoders[j].Priority()
	})
}

// RegisterEncoder adds an encoder plugin.
func (r *Registry) RegisterEncoder(e Encoder) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.encoders = append(r.encoders, e)
	sort.SliceStable(r.encoders, func(i, j int) bool {
		return r.encoders[i].Priority() > r.encoders[j].Priority()
	})
}

// Decoder returns the highest-priority decoder for format, or the plugin
// with the given id when id is non-empty.
func (r *Registry) Decoder(format Format, id string) (Decoder, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, d := range r.decoders {
		if d.Format() != format {
			continue
		}
		if id == "" || d.ID() == id {
			return d, nil
		}
	}
	return nil, fmt.Errorf("codec: no decoder for %s: %w", format, errdefs.ErrUnsupportedFormat)
}

// Encoder returns the highest-priority encoder for format, or the plugin
// with the given id when id is non-empty.
func (r *Registry) Encoder(format Format, id string) (Encoder, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, e := range r.encoders {
		if e.Format() != format {
			continue
		}
		if id == "" || e.ID() == id {
			return e, nil
		}
	}
	return nil, fmt.Errorf("codec: no encoder for %s: %w", format, errdefs.ErrUnsupportedFormat)
}

// Decoders lists the registered decoders in priority order.
func (r *Registry) Decoders() []Decoder {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Decoder, len(r.decoders))
	copy(out, r.decoders)
	return out
}

// Encoders lists the registered encoders in priority order.
func (r *Registry) Encoders() []Encoder {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Encoder, len(r.encoders))
	copy(out, r.encoders)
	return out
}

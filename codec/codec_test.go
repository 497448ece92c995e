package codec

import (
	"testing"

	"github.com/ooopus/libheif/errdefs"
	"github.com/ooopus/libheif/pixel"
)

type stubDecoder struct {
	format   Format
	id       string
	priority int
}

func (d stubDecoder) Format() Format { return d.format }
func (d stubDecoder) ID() string     { return d.id }
func (d stubDecoder) Priority() int  { return d.priority }
func (d stubDecoder) Decode(coded, config []byte, params DecodeParams) (*pixel.Image, error) {
	return nil, nil
}

func TestRegistrySelectsByPriority(t *testing.T) {
	r := NewRegistry()
	r.RegisterDecoder(stubDecoder{format: FormatAV1, id: "low", priority: 10})
	r.RegisterDecoder(stubDecoder{format: FormatAV1, id: "high", priority: 90})
	r.RegisterDecoder(stubDecoder{format: FormatHEVC, id: "other", priority: 100})

	d, err := r.Decoder(FormatAV1, "")
	if err != nil {
		t.Fatalf("Decoder: %v", err)
	}
	if d.ID() != "high" {
		t.Errorf("selected %q, want high", d.ID())
	}
}

func TestRegistryPinsByID(t *testing.T) {
	r := NewRegistry()
	r.RegisterDecoder(stubDecoder{format: FormatAV1, id: "low", priority: 10})
	r.RegisterDecoder(stubDecoder{format: FormatAV1, id: "high", priority: 90})

	d, err := r.Decoder(FormatAV1, "low")
	if err != nil {
		t.Fatalf("Decoder: %v", err)
	}
	if d.ID() != "low" {
		t.Errorf("selected %q, want the pinned plugin", d.ID())
	}

	if _, err := r.Decoder(FormatAV1, "missing"); !errdefs.IsUnsupportedFormat(err) {
		t.Errorf("pin to unknown id: %v, want unsupported format", err)
	}
}

func TestRegistryUnknownFormat(t *testing.T) {
	r := NewRegistry()
	if _, err := r.Decoder(FormatVVC, ""); !errdefs.IsUnsupportedFormat(err) {
		t.Errorf("empty registry: %v, want unsupported format", err)
	}
}

func TestRegistryStableOrderForEqualPriority(t *testing.T) {
	r := NewRegistry()
	r.RegisterDecoder(stubDecoder{format: FormatAV1, id: "first", priority: 50})
	r.RegisterDecoder(stubDecoder{format: FormatAV1, id: "second", priority: 50})

	d, err := r.Decoder(FormatAV1, "")
	if err != nil {
		t.Fatalf("Decoder: %v", err)
	}
	if d.ID() != "first" {
		t.Errorf("equal priority selected %q, want registration order", d.ID())
	}
}

func TestParamsValidate(t *testing.T) {
	specs := []ParamSpec{
		{Name: "quality", Type: ParamTypeInteger, HasRange: true, Min: 0, Max: 100},
		{Name: "lossless", Type: ParamTypeBoolean},
		{Name: "tuning", Type: ParamTypeString, Enum: []string{"fast", "best"}},
	}
	tests := []struct {
		name    string
		params  Params
		wantErr bool
	}{
		{"valid", Params{"quality": 80, "lossless": true, "tuning": "fast"}, false},
		{"empty", Params{}, false},
		{"unknown name", Params{"speed": 1}, true},
		{"out of range", Params{"quality": 101}, true},
		{"wrong type", Params{"lossless": 1}, true},
		{"bad enum", Params{"tuning": "slow"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.params.Validate(specs)
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate: %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

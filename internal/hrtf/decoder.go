// Package hrtf decodes the `.amir` HRIR asset format and implements the
// triangulated-sphere binaural lookup the Pipeline Graph's Ambisonic
// Binaural Decoder node consumes (spec.md §4.4, §6). Building the asset
// itself (the offline `amir` tool) is out of scope; this package is
// strictly a reader.
package hrtf

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/amplitude-audio/amplitude-go/internal/geom"
)

var magic = [4]byte{'A', 'M', 'I', 'R'}

// Vertex is one measured HRIR sample location on the sphere.
type Vertex struct {
	Position              geom.Vec3
	LeftIR, RightIR       []float32
	LeftDelay, RightDelay float32
}

// Dataset is a fully decoded `.amir` asset: a triangulated sphere of
// measured HRIR vertices, per spec.md §6's literal layout.
type Dataset struct {
	Version    uint16
	SampleRate uint32
	IRLength   uint32
	Vertices   []Vertex
	Triangles  [][3]uint32
}

// Decode reads one `.amir` asset from r.
//
// Layout (spec.md §6, little-endian): magic "AMIR", u16 version,
// u32 sample_rate, u32 ir_length, u32 vertex_count, u32 index_count,
// index_count × u32 triangle indices, vertex_count × { vec3 position,
// ir_length × f32 left_ir, ir_length × f32 right_ir, f32 left_delay,
// f32 right_delay }.
func Decode(r io.Reader) (*Dataset, error) {
	var gotMagic [4]byte
	if _, err := io.ReadFull(r, gotMagic[:]); err != nil {
		return nil, fmt.Errorf("hrtf: reading magic: %w", err)
	}
	if gotMagic != magic {
		return nil, fmt.Errorf("hrtf: bad magic %q, want %q", gotMagic, magic)
	}

	var d Dataset
	var vertexCount, indexCount uint32
	for _, field := range []any{&d.Version, &d.SampleRate, &d.IRLength, &vertexCount, &indexCount} {
		if err := binary.Read(r, binary.LittleEndian, field); err != nil {
			return nil, fmt.Errorf("hrtf: reading header: %w", err)
		}
	}
	if indexCount%3 != 0 {
		return nil, fmt.Errorf("hrtf: index_count %d is not a multiple of 3", indexCount)
	}

	indices := make([]uint32, indexCount)
	if err := binary.Read(r, binary.LittleEndian, indices); err != nil {
		return nil, fmt.Errorf("hrtf: reading triangle indices: %w", err)
	}
	d.Triangles = make([][3]uint32, indexCount/3)
	for i := range d.Triangles {
		d.Triangles[i] = [3]uint32{indices[3*i], indices[3*i+1], indices[3*i+2]}
	}

	d.Vertices = make([]Vertex, vertexCount)
	for i := range d.Vertices {
		v := &d.Vertices[i]
		var pos [3]float32
		if err := binary.Read(r, binary.LittleEndian, &pos); err != nil {
			return nil, fmt.Errorf("hrtf: reading vertex %d position: %w", i, err)
		}
		v.Position = geom.Vec3{X: float64(pos[0]), Y: float64(pos[1]), Z: float64(pos[2])}

		v.LeftIR = make([]float32, d.IRLength)
		if err := binary.Read(r, binary.LittleEndian, v.LeftIR); err != nil {
			return nil, fmt.Errorf("hrtf: reading vertex %d left_ir: %w", i, err)
		}
		v.RightIR = make([]float32, d.IRLength)
		if err := binary.Read(r, binary.LittleEndian, v.RightIR); err != nil {
			return nil, fmt.Errorf("hrtf: reading vertex %d right_ir: %w", i, err)
		}
		if err := binary.Read(r, binary.LittleEndian, &v.LeftDelay); err != nil {
			return nil, fmt.Errorf("hrtf: reading vertex %d left_delay: %w", i, err)
		}
		if err := binary.Read(r, binary.LittleEndian, &v.RightDelay); err != nil {
			return nil, fmt.Errorf("hrtf: reading vertex %d right_delay: %w", i, err)
		}
	}

	for _, tri := range d.Triangles {
		for _, idx := range tri {
			if int(idx) >= len(d.Vertices) {
				return nil, fmt.Errorf("hrtf: triangle references vertex %d, have %d vertices", idx, len(d.Vertices))
			}
		}
	}

	return &d, nil
}

package loaders

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"

	"github.com/spaghettifunk/meshbuf/engine/core"
	"github.com/spaghettifunk/meshbuf/engine/math"
	"github.com/spaghettifunk/meshbuf/engine/renderer/metadata"
)

// ModelIndex references one corner of a face. Indices are zero based and -1
// marks an absent component.
type ModelIndex struct {
	Vertex   int32
	Texcoord int32
	Normal   int32
}

type ModelShape struct {
	Name string
	// Triangulated corners, three per triangle.
	Indices []ModelIndex
}

// ModelDescription is the raw triangle soup of a Wavefront OBJ file.
type ModelDescription struct {
	// Flat xyz positions.
	Vertices []float32
	// Flat uv texture coordinates.
	Texcoords []float32
	// Flat xyz normals. Parsed but not used by ingestion.
	Normals  []float32
	Shapes   []ModelShape
	Warnings []string
}

func (md *ModelDescription) warn(line uint, format string, args ...interface{}) {
	md.Warnings = append(md.Warnings, fmt.Sprintf("line %d: ", line)+fmt.Sprintf(format, args...))
}

type objDecoder struct {
	desc *ModelDescription
	line uint
	// Index of the shape faces are added to, -1 before the first one.
	current int
}

// DecodeObj parses OBJ text. Faces with more than three corners are split
// into a triangle fan. Any failure is reported as core.ErrModelParse
// carrying the collected warnings and the error text.
func DecodeObj(r io.Reader) (*ModelDescription, error) {
	dec := &objDecoder{desc: &ModelDescription{}, current: -1}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		dec.line++
		if err := dec.parseLine(scanner.Text()); err != nil {
			return nil, dec.parseError(err)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, dec.parseError(err)
	}
	if err := dec.validate(); err != nil {
		return nil, dec.parseError(err)
	}
	return dec.desc, nil
}

func (dec *objDecoder) parseError(err error) error {
	msg := err.Error()
	if len(dec.desc.Warnings) > 0 {
		msg = strings.Join(dec.desc.Warnings, "\n") + "\n" + msg
	}
	wrapped := errors.Wrap(core.ErrModelParse, msg)
	core.LogError(wrapped.Error())
	return wrapped
}

func (dec *objDecoder) formatError(msg string) error {
	return errors.Newf("line %d: %s", dec.line, msg)
}

func (dec *objDecoder) parseLine(line string) error {
	if i := strings.IndexByte(line, '#'); i >= 0 {
		line = line[:i]
	}
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}

	switch fields[0] {
	case "v":
		return dec.parseFloats(fields[1:], 3, 3, &dec.desc.Vertices, "vertex")
	case "vt":
		return dec.parseFloats(fields[1:], 1, 2, &dec.desc.Texcoords, "texture coordinate")
	case "vn":
		return dec.parseFloats(fields[1:], 3, 3, &dec.desc.Normals, "normal")
	case "f":
		return dec.parseFace(fields[1:])
	case "o", "g":
		name := ""
		if len(fields) > 1 {
			name = strings.Join(fields[1:], " ")
		}
		dec.startShape(name)
		return nil
	case "s", "usemtl":
		return nil
	case "mtllib":
		dec.desc.warn(dec.line, "material library %q ignored", strings.Join(fields[1:], " "))
		return nil
	default:
		dec.desc.warn(dec.line, "unsupported statement %q ignored", fields[0])
		return nil
	}
}

// parseFloats appends want values, padding with zeros when at least
// minCount were given. Extra values (w components, vertex colors) are dropped.
func (dec *objDecoder) parseFloats(fields []string, minCount, want int, out *[]float32, what string) error {
	if len(fields) < minCount {
		return dec.formatError(what + " with too few components")
	}
	for i := 0; i < want; i++ {
		if i >= len(fields) {
			*out = append(*out, 0)
			continue
		}
		val, err := strconv.ParseFloat(fields[i], 32)
		if err != nil {
			return dec.formatError("invalid " + what + " value " + strconv.Quote(fields[i]))
		}
		*out = append(*out, float32(val))
	}
	return nil
}

func (dec *objDecoder) startShape(name string) {
	// An empty shape is renamed instead of kept.
	if dec.current >= 0 && len(dec.desc.Shapes[dec.current].Indices) == 0 {
		dec.desc.Shapes[dec.current].Name = name
		return
	}
	dec.desc.Shapes = append(dec.desc.Shapes, ModelShape{Name: name})
	dec.current = len(dec.desc.Shapes) - 1
}

func (dec *objDecoder) parseFace(fields []string) error {
	if len(fields) < 3 {
		return dec.formatError("face with less than 3 vertices")
	}
	if dec.current < 0 {
		dec.startShape("")
	}

	corners := make([]ModelIndex, len(fields))
	for pos, f := range fields {
		// Separate the current field in its components: v vt vn
		parts := strings.Split(f, "/")
		if len(parts) > 3 {
			return dec.formatError("face corner " + strconv.Quote(f) + " has too many components")
		}

		vertex, err := dec.resolveIndex(parts[0], len(dec.desc.Vertices)/3, "vertex")
		if err != nil {
			return err
		}
		corner := ModelIndex{Vertex: vertex, Texcoord: -1, Normal: -1}

		if len(parts) > 1 && parts[1] != "" {
			if corner.Texcoord, err = dec.resolveIndex(parts[1], len(dec.desc.Texcoords)/2, "texture coordinate"); err != nil {
				return err
			}
		}
		if len(parts) > 2 && parts[2] != "" {
			if corner.Normal, err = dec.resolveIndex(parts[2], len(dec.desc.Normals)/3, "normal"); err != nil {
				return err
			}
		}
		corners[pos] = corner
	}

	// Triangle fan around the first corner.
	shape := &dec.desc.Shapes[dec.current]
	for i := 2; i < len(corners); i++ {
		shape.Indices = append(shape.Indices, corners[0], corners[i-1], corners[i])
	}
	return nil
}

// resolveIndex turns a one based (or negative, relative) OBJ index into a
// zero based one. Positive indices are range checked after the whole file
// is read since elements may follow the faces that use them.
func (dec *objDecoder) resolveIndex(field string, count int, what string) (int32, error) {
	val, err := strconv.ParseInt(field, 10, 32)
	if err != nil {
		return 0, dec.formatError("invalid " + what + " index " + strconv.Quote(field))
	}
	switch {
	case val > 0:
		return int32(val - 1), nil
	case val < 0:
		resolved := int64(count) + val
		if resolved < 0 {
			return 0, dec.formatError(what + " index " + field + " out of range")
		}
		return int32(resolved), nil
	default:
		return 0, dec.formatError(what + " index equal to 0")
	}
}

func (dec *objDecoder) validate() error {
	vertices := int32(len(dec.desc.Vertices) / 3)
	texcoords := int32(len(dec.desc.Texcoords) / 2)
	normals := int32(len(dec.desc.Normals) / 3)
	for _, shape := range dec.desc.Shapes {
		for _, idx := range shape.Indices {
			if idx.Vertex >= vertices {
				return errors.Newf("shape %q: vertex index %d out of range (%d vertices)", shape.Name, idx.Vertex+1, vertices)
			}
			if idx.Texcoord >= texcoords {
				return errors.Newf("shape %q: texture coordinate index %d out of range (%d texture coordinates)", shape.Name, idx.Texcoord+1, texcoords)
			}
			if idx.Normal >= normals {
				return errors.Newf("shape %q: normal index %d out of range (%d normals)", shape.Name, idx.Normal+1, normals)
			}
		}
	}
	return nil
}

// IngestModel flattens every shape of the description into one mesh with
// unique vertices. Texture coordinates are flipped to v' = 1 - v and every
// vertex is white.
func IngestModel(name string, desc *ModelDescription) (*metadata.MeshData, error) {
	mesh := &metadata.MeshData{Name: name}
	unique := make(map[uint64][]uint32)
	white := math.NewVec3One()

	for _, shape := range desc.Shapes {
		for _, idx := range shape.Indices {
			if idx.Texcoord < 0 {
				err := errors.Wrapf(core.ErrModelParse, "shape %q: vertex %d has no texture coordinate", shape.Name, idx.Vertex+1)
				core.LogError(err.Error())
				return nil, err
			}
			if idx.Vertex < 0 || int(idx.Vertex)*3+2 >= len(desc.Vertices) || int(idx.Texcoord)*2+1 >= len(desc.Texcoords) {
				err := errors.Wrapf(core.ErrModelParse, "shape %q: index out of range", shape.Name)
				core.LogError(err.Error())
				return nil, err
			}

			vertex := metadata.Vertex{
				Position: math.NewVec3(
					desc.Vertices[3*idx.Vertex+0],
					desc.Vertices[3*idx.Vertex+1],
					desc.Vertices[3*idx.Vertex+2],
				),
				Texcoord: math.NewVec2(
					desc.Texcoords[2*idx.Texcoord+0],
					1.0-desc.Texcoords[2*idx.Texcoord+1],
				),
				Color: white,
			}

			mesh.Indices = append(mesh.Indices, uniqueIndex(mesh, unique, vertex))
		}
	}

	if len(mesh.Indices) == 0 {
		err := errors.Wrapf(core.ErrModelParse, "model '%s' has no faces", name)
		core.LogError(err.Error())
		return nil, err
	}

	positions := make([]math.Vec3, len(mesh.Vertices))
	for i, v := range mesh.Vertices {
		positions[i] = v.Position
	}
	mesh.Extents, mesh.Center = math.GeometryCalculateExtents(positions)
	return mesh, nil
}

// uniqueIndex returns the index of vertex in the mesh, appending it when no
// bit-identical vertex has been seen yet.
func uniqueIndex(mesh *metadata.MeshData, unique map[uint64][]uint32, vertex metadata.Vertex) uint32 {
	hash := vertex.Hash()
	for _, candidate := range unique[hash] {
		if mesh.Vertices[candidate].Equal(vertex) {
			return candidate
		}
	}
	index := uint32(len(mesh.Vertices))
	mesh.Vertices = append(mesh.Vertices, vertex)
	unique[hash] = append(unique[hash], index)
	return index
}

// ModelLoader reads Wavefront OBJ files into MeshData resources.
type ModelLoader struct{}

func (ml *ModelLoader) Load(path string, assetType metadata.ResourceType, params interface{}) (*metadata.Resource, error) {
	file, err := os.Open(path)
	if err != nil {
		err = errors.Wrapf(core.ErrModelParse, "cannot open '%s': %v", path, err)
		core.LogError(err.Error())
		return nil, err
	}
	defer file.Close()

	desc, err := DecodeObj(file)
	if err != nil {
		return nil, err
	}
	for _, w := range desc.Warnings {
		core.LogWarn("%s: %s", path, w)
	}

	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	mesh, err := IngestModel(name, desc)
	if err != nil {
		return nil, err
	}

	return &metadata.Resource{
		Type:     metadata.ResourceTypeModel,
		Name:     name,
		FullPath: path,
		DataSize: uint64(len(mesh.Vertices))*uint64(metadata.VertexSize) + uint64(len(mesh.Indices))*4,
		Data:     mesh,
	}, nil
}

func (ml *ModelLoader) Unload(resource *metadata.Resource) error {
	if resource == nil {
		return errors.New("model loader: cannot unload a nil resource")
	}
	resource.Data = nil
	resource.DataSize = 0
	return nil
}

package bridge

import (
	"encoding/json"
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/Mattboss10/ProjectCleanFlow/module/core/domain"
)

const (
	TypeMapReady        = "mapReady"
	TypeRequestLocation = "requestLocation"
	TypePolygon         = "polygon"
	TypeUpdateArea      = "updateArea"
	TypeAreaDeleted     = "areaDeleted"
	TypeDeleteArea      = "deleteArea"

	TypeAreasSnapshot = "areasSnapshot"
	TypeViewTo        = "viewTo"
)

// SurfaceMessage is a postback from the map surface. It is one of MapReady,
// RequestLocation, Polygon, UpdateArea or AreaDeleted.
type SurfaceMessage interface {
	surfaceMessage()
	Type() string
}

type MapReady struct{}

type RequestLocation struct{}

type Polygon struct {
	Ring orb.Ring
}

// UpdateArea carries an edited ring. Center is what the surface computed
// and is never persisted.
type UpdateArea struct {
	Ring   orb.Ring
	Center *orb.Point
}

// AreaDeleted names the removed area by ID, by Ring, or by neither when the
// surface could not tell which layer went away.
type AreaDeleted struct {
	ID   string
	Ring orb.Ring
}

func (MapReady) surfaceMessage()        {}
func (RequestLocation) surfaceMessage() {}
func (Polygon) surfaceMessage()         {}
func (UpdateArea) surfaceMessage()      {}
func (AreaDeleted) surfaceMessage()     {}

func (MapReady) Type() string        { return TypeMapReady }
func (RequestLocation) Type() string { return TypeRequestLocation }
func (Polygon) Type() string         { return TypePolygon }
func (UpdateArea) Type() string      { return TypeUpdateArea }
func (AreaDeleted) Type() string     { return TypeAreaDeleted }

type envelope struct {
	Type        string          `json:"type"`
	Geometry    json.RawMessage `json:"geometry,omitempty"`
	Coordinates json.RawMessage `json:"coordinates,omitempty"`
	Center      *orb.Point      `json:"center,omitempty"`
	ID          string          `json:"id,omitempty"`
}

// DecodeSurfaceMessage parses one postback. Every failure wraps
// domain.ErrMalformedMessage.
func DecodeSurfaceMessage(data []byte) (SurfaceMessage, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, malformed("decode envelope: %v", err)
	}

	switch env.Type {
	case TypeMapReady:
		return MapReady{}, nil
	case TypeRequestLocation:
		return RequestLocation{}, nil
	case TypePolygon:
		if len(env.Geometry) == 0 {
			return nil, malformed("polygon: geometry required")
		}
		ring, err := decodePolygonRing(env.Geometry)
		if err != nil {
			return nil, err
		}
		return Polygon{Ring: ring}, nil
	case TypeUpdateArea:
		ring, err := decodeRing(env.Coordinates)
		if err != nil {
			return nil, err
		}
		return UpdateArea{Ring: ring, Center: env.Center}, nil
	case TypeAreaDeleted, TypeDeleteArea:
		msg := AreaDeleted{ID: env.ID}
		if len(env.Geometry) > 0 && string(env.Geometry) != "null" {
			ring, err := decodePolygonRing(env.Geometry)
			if err != nil {
				return nil, err
			}
			msg.Ring = ring
		}
		return msg, nil
	case "":
		return nil, malformed("missing type")
	default:
		return nil, malformed("unknown type %q", env.Type)
	}
}

func decodePolygonRing(raw json.RawMessage) (orb.Ring, error) {
	g, err := geojson.UnmarshalGeometry(raw)
	if err != nil {
		return nil, malformed("geometry: %v", err)
	}
	poly, ok := g.Geometry().(orb.Polygon)
	if !ok {
		return nil, malformed("geometry: expected Polygon, got %s", g.Type)
	}
	if len(poly) == 0 {
		return nil, malformed("geometry: polygon has no rings")
	}
	return checkRing(poly[0])
}

func decodeRing(raw json.RawMessage) (orb.Ring, error) {
	if len(raw) == 0 {
		return nil, malformed("coordinates required")
	}
	var ring orb.Ring
	if err := json.Unmarshal(raw, &ring); err != nil {
		return nil, malformed("coordinates: %v", err)
	}
	return checkRing(ring)
}

func checkRing(ring orb.Ring) (orb.Ring, error) {
	if len(ring) < 3 {
		return nil, malformed("ring has %d vertices, need at least 3", len(ring))
	}
	return ring, nil
}

func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", domain.ErrMalformedMessage, fmt.Sprintf(format, args...))
}

// Command is an instruction injected into the surface. It is one of
// AreasSnapshot or ViewTo.
type Command interface {
	command()
	Type() string
}

// AreasSnapshot replaces every area the surface has drawn.
type AreasSnapshot struct {
	Areas domain.AreaSet
}

type ViewTo struct {
	Lat  float64
	Lng  float64
	Zoom int
}

func (AreasSnapshot) command() {}
func (ViewTo) command()        {}

func (AreasSnapshot) Type() string { return TypeAreasSnapshot }
func (ViewTo) Type() string        { return TypeViewTo }

type snapshotArea struct {
	Coordinates orb.Ring              `json:"coordinates"`
	Properties  domain.AreaProperties `json:"properties"`
}

type snapshotCommand struct {
	Type  string                  `json:"type"`
	Areas map[string]snapshotArea `json:"areas"`
}

type viewToCommand struct {
	Type string  `json:"type"`
	Lat  float64 `json:"lat"`
	Lng  float64 `json:"lng"`
	Zoom int     `json:"zoom"`
}

func EncodeCommand(cmd Command) ([]byte, error) {
	switch c := cmd.(type) {
	case AreasSnapshot:
		areas := make(map[string]snapshotArea, len(c.Areas))
		for id, a := range c.Areas {
			areas[id] = snapshotArea{
				Coordinates: a.Ring,
				Properties:  domain.AreaProperties{ID: id},
			}
		}
		return json.Marshal(snapshotCommand{Type: TypeAreasSnapshot, Areas: areas})
	case ViewTo:
		return json.Marshal(viewToCommand{Type: TypeViewTo, Lat: c.Lat, Lng: c.Lng, Zoom: c.Zoom})
	default:
		return nil, fmt.Errorf("encode command: unsupported type %T", cmd)
	}
}

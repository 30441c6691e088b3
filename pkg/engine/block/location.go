// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package block

import (
	"context"
	"math"

	"github.com/vsync-io/workflow-engine/pkg/engine/model"
	"github.com/vsync-io/workflow-engine/pkg/engine/resolve"
)

// earthRadiusMeters is used by the "distance" operation.
const earthRadiusMeters = 6371000.0

// LocationHandler is a platform-bound handler exposing geolocation math
// that doesn't depend on a device GPS: distance between two coordinates,
// and a radius containment check. Hosts that run on a device with a
// location provider wire a richer Handler instead.
type LocationHandler struct{}

// NewLocationHandler builds a LocationHandler.
func NewLocationHandler() *LocationHandler { return &LocationHandler{} }

// Handle implements block.Handler.
func (h *LocationHandler) Handle(ctx context.Context, b *model.Block, rc *resolve.Context) (Result, error) {
	op, _ := logicString(b, rc, "location_operation")

	switch op {
	case "distance":
		fromLat, fromLng, ok := latLng(b, rc, "location_from")
		if !ok {
			return nil, validationErr("location_from", "required lat/lng")
		}
		toLat, toLng, ok := latLng(b, rc, "location_to")
		if !ok {
			return nil, validationErr("location_to", "required lat/lng")
		}
		meters := haversineMeters(fromLat, fromLng, toLat, toLng)
		return Completed{StateDelta: Bind(b, meters)}, nil

	case "within_radius":
		centerLat, centerLng, ok := latLng(b, rc, "location_center")
		if !ok {
			return nil, validationErr("location_center", "required lat/lng")
		}
		pointLat, pointLng, ok := latLng(b, rc, "location_point")
		if !ok {
			return nil, validationErr("location_point", "required lat/lng")
		}
		radius, _ := logicAny(b, rc, "location_radius_meters")
		radiusM, _ := toFloatAny(radius)
		within := haversineMeters(centerLat, centerLng, pointLat, pointLng) <= radiusM
		return Completed{StateDelta: Bind(b, within)}, nil

	default:
		return nil, validationErr("location_operation", "unknown operation "+op)
	}
}

func latLng(b *model.Block, rc *resolve.Context, field string) (float64, float64, bool) {
	raw, ok := logicAny(b, rc, field)
	if !ok {
		return 0, 0, false
	}
	m, ok := raw.(map[string]any)
	if !ok {
		return 0, 0, false
	}
	lat, ok1 := toFloatAny(m["lat"])
	lng, ok2 := toFloatAny(m["lng"])
	return lat, lng, ok1 && ok2
}

func haversineMeters(lat1, lng1, lat2, lng2 float64) float64 {
	toRad := func(d float64) float64 { return d * math.Pi / 180 }
	dLat := toRad(lat2 - lat1)
	dLng := toRad(lng2 - lng1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(lat1))*math.Cos(toRad(lat2))*math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return earthRadiusMeters * c
}

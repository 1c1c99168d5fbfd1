// Package registration aligns a subject scan onto a reference atlas with a
// rigid transform found by a derivative-free optimizer, and resamples
// volumes onto the atlas grid.
package registration

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
)

// RigidTransform is a rotation about a fixed center followed by a
// translation. Angles are radians; distances use the physical units of the
// volumes (millimeters for the supported formats). A point p maps to
// R*(p-c) + c + t.
type RigidTransform struct {
	Rotation    [3]float64 `json:"rotation_rad"`
	Translation [3]float64 `json:"translation"`
	Center      [3]float64 `json:"center"`
}

// Identity returns the transform that leaves every point in place.
func Identity() RigidTransform {
	return RigidTransform{}
}

// Matrix returns the combined rotation matrix Rz*Ry*Rx.
func (t RigidTransform) Matrix() [3][3]float64 {
	sx, cx := math.Sincos(t.Rotation[0])
	sy, cy := math.Sincos(t.Rotation[1])
	sz, cz := math.Sincos(t.Rotation[2])
	return [3][3]float64{
		{cz * cy, cz*sy*sx - sz*cx, cz*sy*cx + sz*sx},
		{sz * cy, sz*sy*sx + cz*cx, sz*sy*cx - cz*sx},
		{-sy, cy * sx, cy * cx},
	}
}

// Apply maps one physical point. Resampling precomputes the matrix instead
// of calling this per voxel.
func (t RigidTransform) Apply(p [3]float64) [3]float64 {
	return applyMatrix(t.Matrix(), t, p)
}

func applyMatrix(m [3][3]float64, t RigidTransform, p [3]float64) [3]float64 {
	v := [3]float64{p[0] - t.Center[0], p[1] - t.Center[1], p[2] - t.Center[2]}
	return [3]float64{
		m[0][0]*v[0] + m[0][1]*v[1] + m[0][2]*v[2] + t.Center[0] + t.Translation[0],
		m[1][0]*v[0] + m[1][1]*v[1] + m[1][2]*v[2] + t.Center[1] + t.Translation[1],
		m[2][0]*v[0] + m[2][1]*v[1] + m[2][2]*v[2] + t.Center[2] + t.Translation[2],
	}
}

// Save writes the transform as an indented JSON sidecar.
func (t RigidTransform) Save(path string) error {
	data, err := json.MarshalIndent(t, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal transform: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0644); err != nil {
		return fmt.Errorf("failed to write transform file: %w", err)
	}
	return nil
}

// LoadTransform reads a transform sidecar written by Save.
func LoadTransform(path string) (RigidTransform, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return RigidTransform{}, fmt.Errorf("failed to read transform file: %w", err)
	}
	var t RigidTransform
	if err := json.Unmarshal(data, &t); err != nil {
		return RigidTransform{}, fmt.Errorf("failed to parse transform file: %w", err)
	}
	return t, nil
}

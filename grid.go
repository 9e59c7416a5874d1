/*
Copyright © 2026 the TEMDiag authors.
This file is part of TEMDiag.

TEMDiag is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

TEMDiag is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with TEMDiag.  If not, see <http://www.gnu.org/licenses/>.
*/

package temdiag

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
)

// Grid holds the coordinates shared by all of the input variables,
// converted from the file conventions (pressure in hPa, latitude in
// degrees north) to the working conventions used by the diagnostic
// equations.
type Grid struct {
	// P is pressure at each level [Pa], in file order.
	P []float64

	// PSurf is the reference surface pressure [Pa]; it is the
	// largest of the pressure levels.
	PSurf float64

	// Z is log-pressure height at each level [m],
	// z = -H ln(p/pSurf).
	Z []float64

	// Rho is the basic-state density at each level relative to
	// its surface value [-], exp(-z/H).
	Rho []float64

	// Lat is latitude [radians].
	Lat []float64

	// LatDeg is latitude [degrees north], as read from the input.
	LatDeg []float64

	// Lon is longitude [degrees east], as read from the input.
	Lon []float64
}

// NewGrid creates a grid from the level [hPa], latitude
// [degrees north], and longitude [degrees east] coordinate
// variables of an input file.
func NewGrid(level, latitude, longitude []float64) (*Grid, error) {
	if len(level) < 2 {
		return nil, fmt.Errorf("temdiag: grid needs at least 2 pressure levels but has %d", len(level))
	}
	if len(latitude) < 2 {
		return nil, fmt.Errorf("temdiag: grid needs at least 2 latitudes but has %d", len(latitude))
	}
	if len(longitude) < 1 {
		return nil, fmt.Errorf("temdiag: grid needs at least 1 longitude but has %d", len(longitude))
	}
	gd := &Grid{
		P:      make([]float64, len(level)),
		Z:      make([]float64, len(level)),
		Rho:    make([]float64, len(level)),
		Lat:    make([]float64, len(latitude)),
		LatDeg: latitude,
		Lon:    longitude,
	}
	for k, p := range level {
		gd.P[k] = p * hPaToPa
	}
	gd.PSurf = floats.Max(gd.P)
	for k, p := range gd.P {
		gd.Z[k] = -scaleHeight * math.Log(p/gd.PSurf)
		gd.Rho[k] = math.Exp(-gd.Z[k] / scaleHeight)
	}
	for j, lat := range latitude {
		gd.Lat[j] = lat * math.Pi / 180
	}
	return gd, nil
}

// PressureHPa returns the pressure levels converted back to the
// file convention [hPa].
func (gd *Grid) PressureHPa() []float64 {
	o := make([]float64, len(gd.P))
	for k, p := range gd.P {
		o[k] = p / hPaToPa
	}
	return o
}

// HeightToPressure is the inverse of the log-pressure height
// transform, p = pSurf exp(-z/H) [Pa].
func (gd *Grid) HeightToPressure(z float64) float64 {
	return gd.PSurf * math.Exp(-z/scaleHeight)
}

// matches reports whether the given file coordinates are equal,
// within floating-point tolerance, to the ones this grid was
// created from.
func (gd *Grid) matches(level, latitude, longitude []float64) bool {
	const tol = 1.e-6
	p := make([]float64, len(level))
	for k, l := range level {
		p[k] = l * hPaToPa
	}
	return len(level) == len(gd.P) && floats.EqualApprox(p, gd.P, tol) &&
		len(latitude) == len(gd.LatDeg) && floats.EqualApprox(latitude, gd.LatDeg, tol) &&
		len(longitude) == len(gd.Lon) && floats.EqualApprox(longitude, gd.Lon, tol)
}

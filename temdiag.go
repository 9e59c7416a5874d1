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

// Package temdiag calculates transformed Eulerian-mean (TEM) diagnostics
// of the Brewer-Dobson circulation (the residual meridional circulation
// v* and w*, the Eliassen-Palm flux, and its divergence) from monthly
// gridded reanalysis output, following the method of Seviour, Butchart,
// and Hardiman (2012), "The Brewer-Dobson circulation inferred from
// ERA-Interim", Q. J. R. Meteorol. Soc. 138: 878-888.
package temdiag

import (
	"github.com/ctessum/sparse"
)

// Version gives the version number.
const Version = "1.0.0"

const (
	// g is the acceleration due to gravity [m s-2].
	g = 9.8

	// scaleHeight is the log-pressure scale height [m].
	scaleHeight = 6800.

	// earthRadius is the mean radius of the Earth [m].
	earthRadius = 6.37e6

	// earthOmega is the rotation rate of the Earth [s-1].
	earthOmega = 7.292e-5

	// kappa is the ratio of the gas constant for dry air to the
	// specific heat at constant pressure [-].
	kappa = 0.286

	// hPaToPa converts pressure from hectopascals to pascals.
	hPaToPa = 100.
)

// NextData is a type of function that returns data for the next
// monthly time step and returns the io.EOF error after the last
// time step.
type NextData func() (*sparse.DenseArray, error)

// Source supplies the monthly-mean reanalysis fields that the
// diagnostics are calculated from. Each NextData function must
// return one (level, latitude, longitude) array per time step,
// and all of the functions must agree on the coordinates held
// by Grid.
type Source interface {
	// Grid returns the coordinate grid shared by all variables.
	Grid() *Grid

	// U returns an eastward wind [m s-1] reader.
	U() NextData

	// V returns a northward wind [m s-1] reader.
	V() NextData

	// W returns a log-pressure vertical velocity [m s-1] reader.
	W() NextData

	// T returns an air temperature [K] reader.
	T() NextData

	// Height returns a geopotential height [m] reader.
	Height() NextData
}

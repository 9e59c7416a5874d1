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
	"io"
	"math"

	"github.com/ctessum/sparse"
)

// Diagnose calculates the TEM diagnostics from the fields supplied
// by src. The returned data holds, for every monthly time step, the
// zonal-mean state (u, v, w, T, theta, height), the buoyancy
// frequency squared, the eddy fluxes, the residual circulation
// (v*, w*), and the Eliassen-Palm flux and its divergence, all on
// the (time, pressure, latitude) grid.
//
// Undefined values, such as those caused by a non-positive static
// stability or by the vanishing of the cosine of latitude at the
// poles, are carried through as NaN or Inf rather than being
// clamped or filled.
func Diagnose(src Source) (*DiagData, error) {
	grid := src.Grid()

	var hMean *sparse.DenseArray
	var ms *meanState
	errChan := make(chan error)
	go func() {
		var err error
		hMean, err = zonalMeanSeries(src.Height())
		errChan <- err
	}()
	go func() {
		var err error
		ms, err = meanAndEddyFluxes(src.U(), src.V(), src.W(),
			src.T(), potentialTemperature(src.T(), grid))
		errChan <- err
	}()
	for i := 0; i < 2; i++ {
		if err := <-errChan; err != nil {
			return nil, err
		}
	}
	if hMean.Shape[0] != ms.u.Shape[0] {
		return nil, fmt.Errorf("temdiag: height has %d time steps but wind has %d",
			hMean.Shape[0], ms.u.Shape[0])
	}

	n2 := staticStability(ms.theta, grid)
	vStar, wStar := residualCirculation(ms.v, ms.w, ms.heatFlux, n2, grid)
	fLat, fZ, epfd := epFlux(ms.u, ms.heatFlux, ms.uvFlux, ms.uwFlux, n2, grid)

	d := newDiagData(ms.u.Shape[0], grid)
	d.AddVariable("u", "zonal-mean eastward wind", "m s-1", ms.u)
	d.AddVariable("v", "zonal-mean northward wind", "m s-1", ms.v)
	d.AddVariable("w", "zonal-mean log-pressure vertical velocity", "m s-1", ms.w)
	d.AddVariable("T", "zonal-mean air temperature", "K", ms.t)
	d.AddVariable("theta", "zonal-mean potential temperature", "K", ms.theta)
	d.AddVariable("h", "zonal-mean geopotential height", "m", hMean)
	d.AddVariable("N2", "buoyancy frequency squared", "s-2", n2)
	d.AddVariable("heat_flux", "northward eddy heat flux", "K m s-1", ms.heatFlux)
	d.AddVariable("momentum_flux", "northward eddy momentum flux", "m2 s-2", ms.uvFlux)
	d.AddVariable("vertical_momentum_flux", "vertical eddy momentum flux", "m2 s-2", ms.uwFlux)
	d.AddVariable("v_star", "residual-mean northward wind", "m s-1", vStar)
	d.AddVariable("w_star", "residual-mean vertical wind", "m s-1", wStar)
	d.AddVariable("F_lat", "northward component of the Eliassen-Palm flux", "m2 s-2", fLat)
	d.AddVariable("F_z", "vertical component of the Eliassen-Palm flux", "m2 s-2", fZ)
	d.AddVariable("EPFD", "Eliassen-Palm flux divergence", "m s-2", epfd)
	return d, nil
}

// meanState holds the zonal means and eddy covariances accumulated
// from one pass through the input, stacked along a leading time
// dimension.
type meanState struct {
	u, v, w, t, theta        *sparse.DenseArray
	heatFlux, uvFlux, uwFlux *sparse.DenseArray
}

// meanAndEddyFluxes reads the wind, temperature, and potential
// temperature fields in lockstep, one time step at a time, and
// calculates their zonal means along with the zonal-mean eddy
// covariances v'theta', u'v', and u'w'.
func meanAndEddyFluxes(uFunc, vFunc, wFunc, tFunc, thetaFunc NextData) (*meanState, error) {
	var us, vs, ws, ts, thetas, vths, uvs, uws []*sparse.DenseArray
	for {
		u, err := uFunc()
		if err != nil {
			if err == io.EOF {
				break
			}
			return nil, err
		}
		v, err := vFunc()
		if err != nil {
			return nil, err
		}
		w, err := wFunc()
		if err != nil {
			return nil, err
		}
		t, err := tFunc()
		if err != nil {
			return nil, err
		}
		theta, err := thetaFunc()
		if err != nil {
			return nil, err
		}
		for _, d := range []*sparse.DenseArray{v, w, t, theta} {
			if len(d.Shape) != len(u.Shape) || d.Shape[0] != u.Shape[0] ||
				d.Shape[1] != u.Shape[1] || d.Shape[2] != u.Shape[2] {
				return nil, fmt.Errorf("temdiag: variable shapes %v and %v do not match",
					u.Shape, d.Shape)
			}
		}
		us = append(us, zonalMean(u))
		vs = append(vs, zonalMean(v))
		ws = append(ws, zonalMean(w))
		ts = append(ts, zonalMean(t))
		thetas = append(thetas, zonalMean(theta))
		vths = append(vths, zonalCovariance(v, theta))
		uvs = append(uvs, zonalCovariance(u, v))
		uws = append(uws, zonalCovariance(u, w))
	}
	if len(us) == 0 {
		return nil, fmt.Errorf("temdiag: input has no time steps")
	}
	return &meanState{
		u:        stackTime(us),
		v:        stackTime(vs),
		w:        stackTime(ws),
		t:        stackTime(ts),
		theta:    stackTime(thetas),
		heatFlux: stackTime(vths),
		uvFlux:   stackTime(uvs),
		uwFlux:   stackTime(uws),
	}, nil
}

// zonalMeanSeries steps through the time steps of f and returns
// their zonal means stacked along a leading time dimension. Each
// slab is reduced as soon as it is read, so only the reduced
// (time, level, latitude) results accumulate in memory.
func zonalMeanSeries(f NextData) (*sparse.DenseArray, error) {
	var means []*sparse.DenseArray
	for {
		d, err := f()
		if err != nil {
			if err == io.EOF {
				break
			}
			return nil, err
		}
		means = append(means, zonalMean(d))
	}
	if len(means) == 0 {
		return nil, fmt.Errorf("temdiag: input has no time steps")
	}
	return stackTime(means), nil
}

// zonalMean averages a (level, latitude, longitude) array along
// longitude, returning a (level, latitude) array.
func zonalMean(d *sparse.DenseArray) *sparse.DenseArray {
	nk, nj, ni := d.Shape[0], d.Shape[1], d.Shape[2]
	o := sparse.ZerosDense(nk, nj)
	for k := 0; k < nk; k++ {
		for j := 0; j < nj; j++ {
			sum := 0.
			for i := 0; i < ni; i++ {
				sum += d.Get(k, j, i)
			}
			o.Set(sum/float64(ni), k, j)
		}
	}
	return o
}

// zonalCovariance returns the zonal mean of the product of the
// eddy (deviation from zonal mean) parts of a and b,
// i.e. mean(a'b') on the (level, latitude) grid.
func zonalCovariance(a, b *sparse.DenseArray) *sparse.DenseArray {
	nk, nj, ni := a.Shape[0], a.Shape[1], a.Shape[2]
	aMean, bMean := zonalMean(a), zonalMean(b)
	o := sparse.ZerosDense(nk, nj)
	for k := 0; k < nk; k++ {
		for j := 0; j < nj; j++ {
			sum := 0.
			for i := 0; i < ni; i++ {
				sum += (a.Get(k, j, i) - aMean.Get(k, j)) *
					(b.Get(k, j, i) - bMean.Get(k, j))
			}
			o.Set(sum/float64(ni), k, j)
		}
	}
	return o
}

// potentialTemperature converts temperature to potential temperature,
// theta = T (pSurf/p)^kappa.
func potentialTemperature(tFunc NextData, grid *Grid) NextData {
	return func() (*sparse.DenseArray, error) {
		t, err := tFunc()
		if err != nil {
			return nil, err
		}
		o := sparse.ZerosDense(t.Shape...)
		nk, nj, ni := t.Shape[0], t.Shape[1], t.Shape[2]
		for k := 0; k < nk; k++ {
			factor := math.Pow(grid.PSurf/grid.P[k], kappa)
			for j := 0; j < nj; j++ {
				for i := 0; i < ni; i++ {
					o.Set(t.Get(k, j, i)*factor, k, j, i)
				}
			}
		}
		return o, nil
	}
}

// staticStability calculates the buoyancy frequency squared,
// N2 = d(theta)/dz, from zonal-mean potential temperature on the
// (time, level, latitude) grid. Where the stratification is
// neutral or unstable the value is non-positive and the diagnostics
// that divide by it become Inf or NaN.
func staticStability(thetaMean *sparse.DenseArray, grid *Grid) *sparse.DenseArray {
	return diffLev(thetaMean, grid.Z)
}

// residualCirculation calculates the TEM residual-mean meridional
// circulation:
//
//	v* = v - (1/rho) d/dz [rho v'theta'/N2]
//	w* = w + 1/(a cos(phi)) d/dphi [cos(phi) v'theta'/N2]
func residualCirculation(vMean, wMean, heatFlux, n2 *sparse.DenseArray, grid *Grid) (vStar, wStar *sparse.DenseArray) {
	nt, nk, nj := vMean.Shape[0], vMean.Shape[1], vMean.Shape[2]

	// psi is the eddy streamfunction term v'theta'/N2.
	rhoPsi := sparse.ZerosDense(nt, nk, nj)
	cosPsi := sparse.ZerosDense(nt, nk, nj)
	for t := 0; t < nt; t++ {
		for k := 0; k < nk; k++ {
			for j := 0; j < nj; j++ {
				psi := heatFlux.Get(t, k, j) / n2.Get(t, k, j)
				rhoPsi.Set(grid.Rho[k]*psi, t, k, j)
				cosPsi.Set(math.Cos(grid.Lat[j])*psi, t, k, j)
			}
		}
	}
	dRhoPsi := diffLev(rhoPsi, grid.Z)
	dCosPsi := diffLat(cosPsi, grid.Lat)

	vStar = sparse.ZerosDense(nt, nk, nj)
	wStar = sparse.ZerosDense(nt, nk, nj)
	for t := 0; t < nt; t++ {
		for k := 0; k < nk; k++ {
			for j := 0; j < nj; j++ {
				vStar.Set(vMean.Get(t, k, j)-dRhoPsi.Get(t, k, j)/grid.Rho[k], t, k, j)
				wStar.Set(wMean.Get(t, k, j)+
					dCosPsi.Get(t, k, j)/(earthRadius*math.Cos(grid.Lat[j])), t, k, j)
			}
		}
	}
	return vStar, wStar
}

// epFlux calculates the latitudinal and vertical components of the
// Eliassen-Palm flux and its divergence:
//
//	F_lat = rho cos(phi) [du/dz v'theta'/N2 - u'v']
//	F_z   = rho a cos(phi) [(f - (u cos(phi))_phi/(a cos(phi))) v'theta'/N2 - u'w']
//	EPFD  = [dF_lat/dphi + dF_z/dz] / (rho a cos(phi))
//
// Following Seviour et al. (2012), F_lat omits the factor of the
// Earth radius that appears in the standard spherical form; the
// fluxes here reproduce their published calculation.
func epFlux(uMean, heatFlux, uvFlux, uwFlux, n2 *sparse.DenseArray, grid *Grid) (fLat, fZ, epfd *sparse.DenseArray) {
	nt, nk, nj := uMean.Shape[0], uMean.Shape[1], uMean.Shape[2]

	uz := diffLev(uMean, grid.Z)
	uCos := sparse.ZerosDense(nt, nk, nj)
	for t := 0; t < nt; t++ {
		for k := 0; k < nk; k++ {
			for j := 0; j < nj; j++ {
				uCos.Set(uMean.Get(t, k, j)*math.Cos(grid.Lat[j]), t, k, j)
			}
		}
	}
	dUCos := diffLat(uCos, grid.Lat)

	fLat = sparse.ZerosDense(nt, nk, nj)
	fZ = sparse.ZerosDense(nt, nk, nj)
	for t := 0; t < nt; t++ {
		for k := 0; k < nk; k++ {
			for j := 0; j < nj; j++ {
				cosLat := math.Cos(grid.Lat[j])
				f := 2 * earthOmega * math.Sin(grid.Lat[j])
				psi := heatFlux.Get(t, k, j) / n2.Get(t, k, j)
				fLat.Set(grid.Rho[k]*cosLat*
					(uz.Get(t, k, j)*psi-uvFlux.Get(t, k, j)), t, k, j)
				fZ.Set(grid.Rho[k]*earthRadius*cosLat*
					((f-dUCos.Get(t, k, j)/(earthRadius*cosLat))*psi-
						uwFlux.Get(t, k, j)), t, k, j)
			}
		}
	}

	dFLat := diffLat(fLat, grid.Lat)
	dFZ := diffLev(fZ, grid.Z)
	epfd = sparse.ZerosDense(nt, nk, nj)
	for t := 0; t < nt; t++ {
		for k := 0; k < nk; k++ {
			for j := 0; j < nj; j++ {
				epfd.Set((dFLat.Get(t, k, j)+dFZ.Get(t, k, j))/
					(grid.Rho[k]*earthRadius*math.Cos(grid.Lat[j])), t, k, j)
			}
		}
	}
	return fLat, fZ, epfd
}

// diffLev differentiates a (time, level, latitude) array along the
// level dimension with respect to coordinate x, using centered
// differences in the interior and one-sided differences at the
// boundaries. The coordinate need not be uniformly spaced.
func diffLev(a *sparse.DenseArray, x []float64) *sparse.DenseArray {
	o := sparse.ZerosDense(a.Shape...)
	nt, nk, nj := a.Shape[0], a.Shape[1], a.Shape[2]
	for t := 0; t < nt; t++ {
		for k := 0; k < nk; k++ {
			kLo, kHi := k-1, k+1
			if kLo < 0 {
				kLo = 0
			}
			if kHi > nk-1 {
				kHi = nk - 1
			}
			dx := x[kHi] - x[kLo]
			for j := 0; j < nj; j++ {
				o.Set((a.Get(t, kHi, j)-a.Get(t, kLo, j))/dx, t, k, j)
			}
		}
	}
	return o
}

// diffLat differentiates a (time, level, latitude) array along the
// latitude dimension with respect to coordinate x, using centered
// differences in the interior and one-sided differences at the
// boundaries.
func diffLat(a *sparse.DenseArray, x []float64) *sparse.DenseArray {
	o := sparse.ZerosDense(a.Shape...)
	nt, nk, nj := a.Shape[0], a.Shape[1], a.Shape[2]
	for t := 0; t < nt; t++ {
		for k := 0; k < nk; k++ {
			for j := 0; j < nj; j++ {
				jLo, jHi := j-1, j+1
				if jLo < 0 {
					jLo = 0
				}
				if jHi > nj-1 {
					jHi = nj - 1
				}
				o.Set((a.Get(t, k, jHi)-a.Get(t, k, jLo))/(x[jHi]-x[jLo]), t, k, j)
			}
		}
	}
	return o
}

// stackTime stacks equally shaped 2-d arrays into one array with a
// leading time dimension.
func stackTime(slabs []*sparse.DenseArray) *sparse.DenseArray {
	nk, nj := slabs[0].Shape[0], slabs[0].Shape[1]
	o := sparse.ZerosDense(len(slabs), nk, nj)
	for t, s := range slabs {
		copy(o.Elements[t*nk*nj:(t+1)*nk*nj], s.Elements)
	}
	return o
}

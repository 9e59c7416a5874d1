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
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/ctessum/sparse"
)

func TestDiagDataWriteLoad(t *testing.T) {
	const tolerance = 1.0e-6
	gd := testGrid(t)
	nt := 2
	d := newDiagData(nt, gd)

	data := sparse.ZerosDense(nt, len(gd.P), len(gd.Lat))
	for i := range data.Elements {
		data.Elements[i] = float64(i) * 0.25
	}
	d.AddVariable("v_star", "residual-mean northward wind", "m s-1", data)

	fname := filepath.Join(t.TempDir(), "out.nc")
	f, err := os.Create(fname)
	if err != nil {
		t.Fatal(err)
	}
	if err := d.Write(f); err != nil {
		t.Fatal(err)
	}
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}

	f2, err := os.Open(fname)
	if err != nil {
		t.Fatal(err)
	}
	defer f2.Close()
	d2, err := LoadDiagData(f2)
	if err != nil {
		t.Fatal(err)
	}

	if len(d2.Time) != nt || d2.Time[0] != 0 || d2.Time[1] != 1 {
		t.Errorf("time coordinate is %v", d2.Time)
	}
	for k, p := range gd.PressureHPa() {
		if d2.Pressure[k] != p {
			t.Errorf("pressure level %d: want %g but have %g", k, p, d2.Pressure[k])
		}
	}
	for j, lat := range gd.LatDeg {
		if d2.Latitude[j] != lat {
			t.Errorf("latitude %d: want %g but have %g", j, lat, d2.Latitude[j])
		}
	}

	dd, ok := d2.Data["v_star"]
	if !ok {
		t.Fatal("loaded data is missing v_star")
	}
	if dd.Units != "m s-1" {
		t.Errorf("units: want \"m s-1\" but have %q", dd.Units)
	}
	if dd.Description != "residual-mean northward wind" {
		t.Errorf("description is %q", dd.Description)
	}
	arrayCompare(dd.Data, data, tolerance, "v_star", t)
}

// TestDiagDataNaN checks that undefined values survive the float32
// round trip through a file.
func TestDiagDataNaN(t *testing.T) {
	gd := testGrid(t)
	d := newDiagData(1, gd)
	data := sparse.ZerosDense(1, len(gd.P), len(gd.Lat))
	data.Elements[0] = math.NaN()
	data.Elements[1] = math.Inf(1)
	d.AddVariable("EPFD", "Eliassen-Palm flux divergence", "m s-2", data)

	fname := filepath.Join(t.TempDir(), "out.nc")
	f, err := os.Create(fname)
	if err != nil {
		t.Fatal(err)
	}
	if err := d.Write(f); err != nil {
		t.Fatal(err)
	}
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}

	f2, err := os.Open(fname)
	if err != nil {
		t.Fatal(err)
	}
	defer f2.Close()
	d2, err := LoadDiagData(f2)
	if err != nil {
		t.Fatal(err)
	}
	e := d2.Data["EPFD"].Data.Elements
	if !math.IsNaN(e[0]) {
		t.Errorf("element 0: want NaN but have %g", e[0])
	}
	if !math.IsInf(e[1], 1) {
		t.Errorf("element 1: want +Inf but have %g", e[1])
	}
	if e[2] != 0 {
		t.Errorf("element 2: want 0 but have %g", e[2])
	}
}

func TestCheckComplete(t *testing.T) {
	gd := testGrid(t)
	if err := newDiagData(24, gd).CheckComplete(2); err != nil {
		t.Errorf("24 time steps should cover 2 years: %v", err)
	}
	if err := newDiagData(23, gd).CheckComplete(2); err == nil {
		t.Error("want error for truncated record but have nil")
	}
}

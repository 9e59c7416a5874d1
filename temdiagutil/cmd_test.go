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

package temdiagutil

import (
	"math"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/ctessum/cdf"
	"github.com/stratmodel/temdiag"
)

func TestGetInt(t *testing.T) {
	Cfg.Set("StartYear", "1984")
	defer Cfg.Set("StartYear", 1979)
	y, err := GetInt("StartYear", Cfg)
	if err != nil {
		t.Fatal(err)
	}
	if y != 1984 {
		t.Errorf("want 1984 but have %d", y)
	}
}

func TestRunMissingInput(t *testing.T) {
	out := filepath.Join(t.TempDir(), "out.nc")
	err := Run(t.TempDir(), 2000, 2000, out)
	if err == nil {
		t.Fatal("want error for empty input directory but have nil")
	}
	// A failure before the diagnosis must not leave an output file.
	if _, err := os.Stat(out); !os.IsNotExist(err) {
		t.Errorf("output file exists after failed run: %v", err)
	}
}

func TestVersionCmd(t *testing.T) {
	Root.SetArgs([]string{"version"})
	if err := Root.Execute(); err != nil {
		t.Fatal(err)
	}
}

// writeInputFile writes one synthetic monthly-mean input file.
func writeInputFile(t *testing.T, fname, varName string, level, latitude, longitude []float64, fn func(k int) float64) {
	t.Helper()
	const months = 12
	dims := []string{"time", "level", "latitude", "longitude"}
	h := cdf.NewHeader(dims, []int{months, len(level), len(latitude), len(longitude)})
	h.AddVariable(varName, dims, []float32{0})
	h.AddVariable("level", []string{"level"}, []float64{0})
	h.AddVariable("latitude", []string{"latitude"}, []float64{0})
	h.AddVariable("longitude", []string{"longitude"}, []float64{0})
	h.Define()

	w, err := os.Create(fname)
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()
	f, err := cdf.Create(w, h)
	if err != nil {
		t.Fatal(err)
	}
	data := make([]float32, months*len(level)*len(latitude)*len(longitude))
	n := 0
	for m := 0; m < months; m++ {
		for k := range level {
			for j := 0; j < len(latitude)*len(longitude); j++ {
				data[n] = float32(fn(k))
				n++
			}
		}
	}
	end := f.Header.Lengths(varName)
	if _, err := f.Writer(varName, make([]int, len(end)), end).Write(data); err != nil {
		t.Fatal(err)
	}
	for name, coord := range map[string][]float64{
		"level": level, "latitude": latitude, "longitude": longitude,
	} {
		end := f.Header.Lengths(name)
		if _, err := f.Writer(name, make([]int, len(end)), end).Write(coord); err != nil {
			t.Fatal(err)
		}
	}
	if err := cdf.UpdateNumRecs(w); err != nil {
		t.Fatal(err)
	}
}

func TestRunCmd(t *testing.T) {
	level := []float64{1000, 500, 250, 100}
	latitude := []float64{-60, -30, 0, 30, 60}
	longitude := []float64{0, 90, 180, 270}
	const pSurf = 1000.
	height := func(k int) float64 { return -6800 * math.Log(level[k]/pSurf) }

	root := t.TempDir()
	dir := filepath.Join(root, "2000")
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}
	fields := map[string]func(k int) float64{
		"u": func(k int) float64 { return 10 },
		"v": func(k int) float64 { return 2 },
		"w": func(k int) float64 { return 0 },
		"T": func(k int) float64 { return 280 - 10*float64(k) },
		"Z": func(k int) float64 { return 9.8 * height(k) },
	}
	for v, fn := range fields {
		writeInputFile(t, filepath.Join(dir, v+"_era.nc"), v, level, latitude, longitude, fn)
	}

	out := filepath.Join(t.TempDir(), "out.nc")
	Root.SetArgs([]string{"run",
		"--InputDir", root,
		"--StartYear", strconv.Itoa(2000),
		"--EndYear", strconv.Itoa(2000),
		"-o", out,
	})
	if err := Root.Execute(); err != nil {
		t.Fatal(err)
	}

	f, err := os.Open(out)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	d, err := temdiag.LoadDiagData(f)
	if err != nil {
		t.Fatal(err)
	}
	if err := d.CheckComplete(1); err != nil {
		t.Error(err)
	}
	for _, v := range d.Data["v_star"].Data.Elements {
		if math.Abs(v-2) > 1.0e-5 {
			t.Fatalf("v*: want 2 but have %g", v)
		}
	}
}

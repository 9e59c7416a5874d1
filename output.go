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
	"os"
	"sort"

	"github.com/ctessum/cdf"
	"github.com/ctessum/sparse"
)

// dataVersion is checked when loading diagnostic files to make sure
// the file layout matches what this version of the code writes.
const dataVersion = "1.0"

// diagDims are the netcdf dimensions of every diagnostic variable.
var diagDims = []string{"time", "pressure", "latitude"}

// DiagData holds the calculated diagnostics on the
// (time, pressure, latitude) grid, along with the coordinate
// variables that describe it.
type DiagData struct {
	// Time is months since the start of the record.
	Time []float64

	// Pressure is the pressure levels [hPa].
	Pressure []float64

	// Latitude is latitude [degrees north].
	Latitude []float64

	Data map[string]struct {
		Description string             // variable description
		Units       string             // variable units
		Data        *sparse.DenseArray // variable data
	}
}

// newDiagData creates a holder for nt monthly time steps of
// diagnostics on grid.
func newDiagData(nt int, grid *Grid) *DiagData {
	d := &DiagData{
		Time:     make([]float64, nt),
		Pressure: grid.PressureHPa(),
		Latitude: grid.LatDeg,
	}
	for t := 0; t < nt; t++ {
		d.Time[t] = float64(t)
	}
	return d
}

// AddVariable adds data for a new variable to d.
func (d *DiagData) AddVariable(name, description, units string, data *sparse.DenseArray) {
	if d.Data == nil {
		d.Data = make(map[string]struct {
			Description string
			Units       string
			Data        *sparse.DenseArray
		})
	}
	d.Data[name] = struct {
		Description string             // variable description
		Units       string             // variable units
		Data        *sparse.DenseArray // variable data
	}{
		Description: description,
		Units:       units,
		Data:        data,
	}
}

// CheckComplete returns an error if d does not hold 12 monthly time
// steps for each of the given number of years. It can be used to
// detect truncated output files.
func (d *DiagData) CheckComplete(years int) error {
	if want := years * monthsPerFile; len(d.Time) != want {
		return fmt.Errorf("temdiag: output has %d time steps but %d years need %d",
			len(d.Time), years, want)
	}
	return nil
}

// Write writes d to netcdf file w.
func (d *DiagData) Write(w *os.File) error {
	h := cdf.NewHeader(diagDims,
		[]int{len(d.Time), len(d.Pressure), len(d.Latitude)})
	h.AddAttribute("", "comment", "TEMDiag Brewer-Dobson circulation diagnostics file")
	h.AddAttribute("", "data_version", dataVersion)

	h.AddVariable("time", []string{"time"}, []float64{0})
	h.AddAttribute("time", "units", "months since start of record")
	h.AddVariable("pressure", []string{"pressure"}, []float64{0})
	h.AddAttribute("pressure", "units", "hPa")
	h.AddVariable("latitude", []string{"latitude"}, []float64{0})
	h.AddAttribute("latitude", "units", "degrees_north")

	// Sort the names so they write in the same order every time.
	names := make([]string, 0, len(d.Data))
	for n := range d.Data {
		names = append(names, n)
	}
	sort.Strings(names)

	for _, name := range names {
		dd := d.Data[name]
		h.AddVariable(name, diagDims, []float32{0})
		h.AddAttribute(name, "description", dd.Description)
		h.AddAttribute(name, "units", dd.Units)
	}
	h.Define()

	f, err := cdf.Create(w, h) // writes the header to w
	if err != nil {
		return err
	}

	for name, coord := range map[string][]float64{
		"time": d.Time, "pressure": d.Pressure, "latitude": d.Latitude,
	} {
		if err = writeCoordNCF(f, name, coord); err != nil {
			return fmt.Errorf("temdiag: writing coordinate %s to netcdf file: %v", name, err)
		}
	}
	for _, name := range names {
		dd := d.Data[name]
		if err = writeNCF(f, name, dd.Data); err != nil {
			return fmt.Errorf("temdiag: writing variable %s to netcdf file: %v", name, err)
		}
	}
	return cdf.UpdateNumRecs(w)
}

// LoadDiagData loads diagnostics from a netcdf file that was created
// by DiagData.Write.
func LoadDiagData(rw cdf.ReaderWriterAt) (*DiagData, error) {
	f, err := cdf.Open(rw)
	if err != nil {
		return nil, fmt.Errorf("temdiag.LoadDiagData: %v", err)
	}

	v, ok := f.Header.GetAttribute("", "data_version").(string)
	if !ok || v != dataVersion {
		return nil, fmt.Errorf("temdiag.LoadDiagData: data version %v is incompatible "+
			"with the required version %s", f.Header.GetAttribute("", "data_version"), dataVersion)
	}

	o := new(DiagData)
	for _, name := range f.Header.Variables() {
		switch name {
		case "time", "pressure", "latitude":
			coord, err := readCoordNCF(f, name)
			if err != nil {
				return nil, fmt.Errorf("temdiag.LoadDiagData: %v", err)
			}
			switch name {
			case "time":
				o.Time = coord
			case "pressure":
				o.Pressure = coord
			case "latitude":
				o.Latitude = coord
			}
		default:
			dims := f.Header.Lengths(name)
			data := sparse.ZerosDense(dims...)
			tmp := make([]float32, len(data.Elements))
			r := f.Reader(name, nil, nil)
			if _, err := r.Read(tmp); err != nil {
				return nil, fmt.Errorf("temdiag.LoadDiagData: reading %s: %v", name, err)
			}
			for i, val := range tmp {
				data.Elements[i] = float64(val)
			}
			description, _ := f.Header.GetAttribute(name, "description").(string)
			units, _ := f.Header.GetAttribute(name, "units").(string)
			o.AddVariable(name, description, units, data)
		}
	}
	if o.Time == nil || o.Pressure == nil || o.Latitude == nil {
		return nil, fmt.Errorf("temdiag.LoadDiagData: file is missing coordinate variables")
	}
	return o, nil
}

func writeNCF(f *cdf.File, name string, data *sparse.DenseArray) error {
	// Check that data matches dimensions.
	n := 1
	for _, v := range data.Shape {
		n *= v
	}
	if len(data.Elements) != n {
		return fmt.Errorf("dims are %d but array length is %d", n, len(data.Elements))
	}

	data32 := make([]float32, len(data.Elements))
	for i, e := range data.Elements {
		data32[i] = float32(e)
	}
	end := f.Header.Lengths(name)
	start := make([]int, len(end))
	w := f.Writer(name, start, end)
	_, err := w.Write(data32)
	return err
}

func writeCoordNCF(f *cdf.File, name string, coord []float64) error {
	end := f.Header.Lengths(name)
	start := make([]int, len(end))
	w := f.Writer(name, start, end)
	_, err := w.Write(coord)
	return err
}

func readCoordNCF(f *cdf.File, name string) ([]float64, error) {
	dims := f.Header.Lengths(name)
	o := make([]float64, dims[0])
	r := f.Reader(name, nil, nil)
	if _, err := r.Read(o); err != nil {
		return nil, fmt.Errorf("reading coordinate %s: %v", name, err)
	}
	return o, nil
}

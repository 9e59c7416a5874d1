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
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/ctessum/cdf"
	"github.com/ctessum/sparse"
)

// monthsPerFile is the number of monthly records each input file
// must hold.
const monthsPerFile = 12

// inputVars are the reanalysis variables read from the archive:
// eastward wind, northward wind, pressure vertical velocity,
// temperature, and geopotential. Each lives in its own file.
var inputVars = []string{"u", "v", "w", "T", "Z"}

// Reanalysis reads monthly-mean reanalysis output from an archive
// laid out as one directory per year, each holding one NetCDF file
// per variable, named <var>_*.nc, with dimensions
// [time, level, latitude, longitude] and 12 monthly records.
// It implements the Source interface.
type Reanalysis struct {
	startYear, endYear int

	// files holds, for each variable, the file for each year in
	// chronological order.
	files map[string][]string

	grid *Grid

	msgChan chan string
}

// NewReanalysis discovers the input files for the years
// [startYear, endYear] under directory root and verifies that the
// archive is complete and that every file shares the same
// coordinates. Any missing file, extra matching file, or coordinate
// disagreement is an error; nothing is processed until the whole
// archive checks out. If msgChan is not nil, status messages will
// be sent to it.
func NewReanalysis(root string, startYear, endYear int, msgChan chan string) (*Reanalysis, error) {
	if endYear < startYear {
		return nil, fmt.Errorf("temdiag: end year %d is before start year %d", endYear, startYear)
	}
	r := &Reanalysis{
		startYear: startYear,
		endYear:   endYear,
		files:     make(map[string][]string),
		msgChan:   msgChan,
	}
	nFound := 0
	var bad []string
	for _, v := range inputVars {
		for y := startYear; y <= endYear; y++ {
			pattern := filepath.Join(root, strconv.Itoa(y), v+"_*.nc")
			matches, err := filepath.Glob(pattern)
			if err != nil {
				return nil, fmt.Errorf("temdiag: searching for input files: %v", err)
			}
			if len(matches) != 1 {
				bad = append(bad, fmt.Sprintf("%d files match %s", len(matches), pattern))
				continue
			}
			r.files[v] = append(r.files[v], matches[0])
			nFound++
		}
	}
	if want := len(inputVars) * r.years(); nFound != want {
		return nil, fmt.Errorf("temdiag: missing input: found %d of %d archive files; need exactly 1 each (%s)",
			nFound, want, strings.Join(bad, "; "))
	}
	if err := r.readGrid(); err != nil {
		return nil, err
	}
	if err := r.checkFiles(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Reanalysis) years() int { return r.endYear - r.startYear + 1 }

// NT returns the total number of monthly time steps.
func (r *Reanalysis) NT() int { return r.years() * monthsPerFile }

// Grid returns the coordinate grid shared by all input files.
func (r *Reanalysis) Grid() *Grid { return r.grid }

// U returns an eastward wind [m s-1] reader.
func (r *Reanalysis) U() NextData { return r.read("u") }

// V returns a northward wind [m s-1] reader.
func (r *Reanalysis) V() NextData { return r.read("v") }

// T returns an air temperature [K] reader.
func (r *Reanalysis) T() NextData { return r.read("T") }

// Height returns a geopotential height [m] reader, converting the
// stored geopotential [m2 s-2] by dividing by gravity.
func (r *Reanalysis) Height() NextData {
	return geopotentialToHeight(r.read("Z"))
}

// W returns a log-pressure vertical velocity [m s-1] reader. The
// archive stores vertical velocity with respect to geometric height,
// so each profile is rescaled by the local derivative of log-pressure
// height with respect to geopotential height.
func (r *Reanalysis) W() NextData {
	return r.logPressureVerticalVelocity(r.read("w"), r.Height())
}

// readGrid reads the coordinate variables from the first file of the
// archive.
func (r *Reanalysis) readGrid() error {
	fname := r.files[inputVars[0]][0]
	f, ff, err := openNCF(fname)
	if err != nil {
		return err
	}
	defer f.Close()
	level, latitude, longitude, err := readCoords(ff, fname)
	if err != nil {
		return err
	}
	r.grid, err = NewGrid(level, latitude, longitude)
	return err
}

// checkFiles verifies that every file in the archive holds its
// variable with 12 monthly records on the same coordinates as the
// rest of the archive.
func (r *Reanalysis) checkFiles() error {
	for _, v := range inputVars {
		for _, fname := range r.files[v] {
			if err := r.checkFile(v, fname); err != nil {
				return err
			}
		}
	}
	return nil
}

func (r *Reanalysis) checkFile(varName, fname string) error {
	f, ff, err := openNCF(fname)
	if err != nil {
		return err
	}
	defer f.Close()
	dims := ff.Header.Lengths(varName)
	if len(dims) != 4 {
		return fmt.Errorf("temdiag: %s: variable %s has %d dimensions but needs 4",
			fname, varName, len(dims))
	}
	if dims[0] != monthsPerFile {
		return fmt.Errorf("temdiag: %s: variable %s has %d time records but needs %d",
			fname, varName, dims[0], monthsPerFile)
	}
	level, latitude, longitude, err := readCoords(ff, fname)
	if err != nil {
		return err
	}
	if !r.grid.matches(level, latitude, longitude) {
		return fmt.Errorf("temdiag: %s: coordinates do not match the rest of the archive", fname)
	}
	return nil
}

// read returns a NextData function that steps through the monthly
// records of varName, one file per year in chronological order.
func (r *Reanalysis) read(varName string) NextData {
	fileIndex, month := 0, 0
	var f *os.File
	var ff *cdf.File
	return func() (*sparse.DenseArray, error) {
		if ff == nil {
			if fileIndex >= len(r.files[varName]) {
				return nil, io.EOF
			}
			fname := r.files[varName][fileIndex]
			var err error
			f, ff, err = openNCF(fname)
			if err != nil {
				return nil, err
			}
			if r.msgChan != nil {
				r.msgChan <- fmt.Sprintf("Reading %s", fname)
			}
		}
		data, err := readNCF(varName, ff, month)
		if err != nil {
			f.Close()
			return nil, err
		}
		month++
		if month == monthsPerFile {
			f.Close()
			ff = nil
			fileIndex++
			month = 0
		}
		return data, nil
	}
}

// logPressureVerticalVelocity converts a geometric-height vertical
// velocity to a log-pressure vertical velocity using the chain rule:
// w_z = (dz/dh) w_h, where z is log-pressure height and h is
// geopotential height. The derivative is calculated with centered
// differences in each column; where a column's heights are not
// monotonic the result is left as the NaN or Inf the arithmetic
// produces.
func (r *Reanalysis) logPressureVerticalVelocity(wFunc, heightFunc NextData) NextData {
	return func() (*sparse.DenseArray, error) {
		w, err := wFunc()
		if err != nil {
			return nil, err
		}
		h, err := heightFunc()
		if err != nil {
			return nil, err
		}
		o := sparse.ZerosDense(w.Shape...)
		nk, nj, ni := w.Shape[0], w.Shape[1], w.Shape[2]
		badColumns := 0
		for j := 0; j < nj; j++ {
			for i := 0; i < ni; i++ {
				bad := false
				for k := 0; k < nk; k++ {
					kLo, kHi := k-1, k+1
					if kLo < 0 {
						kLo = 0
					}
					if kHi > nk-1 {
						kHi = nk - 1
					}
					dh := h.Get(kHi, j, i) - h.Get(kLo, j, i)
					dz := r.grid.Z[kHi] - r.grid.Z[kLo]
					if dh*dz <= 0 {
						bad = true
					}
					o.Set(w.Get(k, j, i)*dz/dh, k, j, i)
				}
				if bad {
					badColumns++
				}
			}
		}
		if badColumns > 0 && r.msgChan != nil {
			r.msgChan <- fmt.Sprintf("%d columns have non-monotonic heights", badColumns)
		}
		return o, nil
	}
}

// geopotentialToHeight divides geopotential [m2 s-2] by gravity to
// get geopotential height [m].
func geopotentialToHeight(f NextData) NextData {
	return func() (*sparse.DenseArray, error) {
		d, err := f()
		if err != nil {
			return nil, err
		}
		return d.ScaleCopy(1 / g), nil
	}
}

// openNCF opens the named NetCDF file.
func openNCF(fname string) (*os.File, *cdf.File, error) {
	f, err := os.Open(fname)
	if err != nil {
		return nil, nil, fmt.Errorf("temdiag: opening input file: %v", err)
	}
	ff, err := cdf.Open(f)
	if err != nil {
		f.Close()
		return nil, nil, fmt.Errorf("temdiag: %s: %v", fname, err)
	}
	return f, ff, nil
}

// readCoords reads the level, latitude, and longitude coordinate
// variables from an open file.
func readCoords(ff *cdf.File, fname string) (level, latitude, longitude []float64, err error) {
	if level, err = readCoord(ff, fname, "level"); err != nil {
		return
	}
	if latitude, err = readCoord(ff, fname, "latitude"); err != nil {
		return
	}
	longitude, err = readCoord(ff, fname, "longitude")
	return
}

func readCoord(ff *cdf.File, fname, name string) ([]float64, error) {
	dims := ff.Header.Lengths(name)
	if len(dims) != 1 {
		return nil, fmt.Errorf("temdiag: %s: coordinate variable %s is missing or not one-dimensional", fname, name)
	}
	rdr := ff.Reader(name, nil, nil)
	buf := rdr.Zero(dims[0])
	if _, err := rdr.Read(buf); err != nil {
		return nil, fmt.Errorf("temdiag: %s: reading coordinate %s: %v", fname, name, err)
	}
	o := make([]float64, dims[0])
	switch v := buf.(type) {
	case []float64:
		copy(o, v)
	case []float32:
		for i, val := range v {
			o[i] = float64(val)
		}
	case []int32:
		for i, val := range v {
			o[i] = float64(val)
		}
	default:
		return nil, fmt.Errorf("temdiag: %s: unsupported data type %T for coordinate %s", fname, buf, name)
	}
	return o, nil
}

// readNCF reads one monthly record of varName.
func readNCF(varName string, ff *cdf.File, month int) (*sparse.DenseArray, error) {
	dims := ff.Header.Lengths(varName)
	if len(dims) == 0 {
		return nil, fmt.Errorf("temdiag: variable %s is not in the file", varName)
	}
	dims = dims[1:]
	nread := 1
	for _, dim := range dims {
		nread *= dim
	}
	start, end := make([]int, len(dims)+1), make([]int, len(dims)+1)
	start[0], end[0] = month, month+1
	rdr := ff.Reader(varName, start, end)
	buf := rdr.Zero(nread)
	if _, err := rdr.Read(buf); err != nil {
		return nil, fmt.Errorf("temdiag: reading variable %s: %v", varName, err)
	}
	data := sparse.ZerosDense(dims...)
	switch v := buf.(type) {
	case []float32:
		for i, val := range v {
			data.Elements[i] = float64(val)
		}
	case []float64:
		copy(data.Elements, v)
	default:
		return nil, fmt.Errorf("temdiag: unsupported data type %T for variable %s", buf, varName)
	}
	return data, nil
}

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

// Command temdiag is a command-line interface for calculating
// Brewer-Dobson circulation diagnostics from reanalysis output.
package main

import (
	"fmt"
	"os"

	"github.com/stratmodel/temdiag/temdiagutil"
)

func main() {
	if err := temdiagutil.Root.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(-1)
	}
}

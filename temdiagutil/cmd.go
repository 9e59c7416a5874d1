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

// Package temdiagutil holds the configuration and command-line
// interface for the TEMDiag Brewer-Dobson circulation diagnostics.
package temdiagutil

import (
	"fmt"
	"os"

	"github.com/lnashier/viper"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cast"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stratmodel/temdiag"
)

// Cfg holds configuration information.
var Cfg *viper.Viper

var options []struct {
	name, usage, shorthand string
	defaultVal             interface{}
	flagsets               []*pflag.FlagSet
}

func init() {
	// Options are the configuration options available to TEMDiag.
	options = []struct {
		name, usage, shorthand string
		defaultVal             interface{}
		flagsets               []*pflag.FlagSet
	}{
		{
			name: "config",
			usage: `
              config specifies the configuration file location.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{Root.PersistentFlags()},
		},
		{
			name: "InputDir",
			usage: `
              InputDir is the root directory of the reanalysis archive. It must
              hold one directory per year, each containing one file per variable
              (u, v, w, T, Z) named <var>_*.nc with 12 monthly records.`,
			defaultVal: "data",
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name: "StartYear",
			usage: `
              StartYear is the first year of reanalysis output to process.`,
			defaultVal: 1979,
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name: "EndYear",
			usage: `
              EndYear is the last year (inclusive) of reanalysis output to
              process.`,
			defaultVal: 1979,
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name: "OutputFile",
			usage: `
              OutputFile is the path of the netcdf file the diagnostics will be
              written to.`,
			shorthand:  "o",
			defaultVal: "temdiag.nc",
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
	}

	Cfg = viper.New()

	// Set the prefix for configuration environment variables.
	Cfg.SetEnvPrefix("TEMDIAG")

	for _, option := range options {
		for i, set := range option.flagsets {
			if i != 0 { // We don't want to create the same flag twice.
				set.AddFlag(option.flagsets[0].Lookup(option.name))
				continue
			}
			switch option.defaultVal.(type) {
			case string:
				if option.shorthand == "" {
					set.String(option.name, option.defaultVal.(string), option.usage)
				} else {
					set.StringP(option.name, option.shorthand, option.defaultVal.(string), option.usage)
				}
			case int:
				if option.shorthand == "" {
					set.Int(option.name, option.defaultVal.(int), option.usage)
				} else {
					set.IntP(option.name, option.shorthand, option.defaultVal.(int), option.usage)
				}
			default:
				panic("invalid argument type")
			}
			Cfg.BindPFlag(option.name, set.Lookup(option.name))
		}
	}
}

func init() {
	// Link the commands together.
	Root.AddCommand(versionCmd)
	Root.AddCommand(runCmd)
}

// outChan returns a channel printing to standard output.
func outChan() chan string {
	outChan := make(chan string)
	go func() {
		for {
			msg := <-outChan
			fmt.Println(msg)
		}
	}()
	return outChan
}

// setConfig finds and reads in the configuration file, if there is one.
func setConfig() error {
	if cfgpath := Cfg.GetString("config"); cfgpath != "" {
		Cfg.SetConfigFile(cfgpath)
		if err := Cfg.ReadInConfig(); err != nil {
			return fmt.Errorf("temdiag: problem reading configuration file: %v", err)
		}
	}
	return nil
}

// GetInt returns the named integer option from cfg, whether it came
// from a flag, an environment variable, or a configuration file.
func GetInt(varName string, cfg *viper.Viper) (int, error) {
	i, err := cast.ToIntE(cfg.Get(varName))
	if err != nil {
		return 0, fmt.Errorf("temdiag: parsing option %s: %v", varName, err)
	}
	return i, nil
}

// Root is the main command.
var Root = &cobra.Command{
	Use:   "temdiag",
	Short: "Brewer-Dobson circulation diagnostics from reanalysis output.",
	Long: `TEMDiag calculates transformed Eulerian-mean diagnostics of the
Brewer-Dobson circulation (the residual circulation, the Eliassen-Palm
flux, and its divergence) from monthly-mean reanalysis output, following
Seviour et al. (2012).

Configuration can be changed by using a configuration file (and providing the
path to the file using the --config flag), by using command-line arguments,
or by setting environment variables in the format 'TEMDIAG_var' where 'var'
is the name of the variable to be set.`,
	DisableAutoGenTag: true,
	PersistentPreRunE: func(*cobra.Command, []string) error { return setConfig() },
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Long:  "version prints the version number of this version of TEMDiag.",
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Printf("TEMDiag v%s\n", temdiag.Version)
	},
	DisableAutoGenTag: true,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Calculate the diagnostics.",
	Long: `run reads the reanalysis archive for the configured years, calculates
the diagnostics, and writes them to the output file. If any input file is
missing or the files disagree about their coordinates, nothing is
calculated and no output is written.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		startYear, err := GetInt("StartYear", Cfg)
		if err != nil {
			return err
		}
		endYear, err := GetInt("EndYear", Cfg)
		if err != nil {
			return err
		}
		return Run(os.ExpandEnv(Cfg.GetString("InputDir")), startYear, endYear,
			os.ExpandEnv(Cfg.GetString("OutputFile")))
	},
	DisableAutoGenTag: true,
}

// Run calculates the diagnostics for the years
// [startYear, endYear] of the archive under inputDir and writes
// them to outputFile.
func Run(inputDir string, startYear, endYear int, outputFile string) error {
	log := logrus.WithFields(logrus.Fields{
		"InputDir":  inputDir,
		"StartYear": startYear,
		"EndYear":   endYear,
	})
	log.Info("reading reanalysis archive")

	src, err := temdiag.NewReanalysis(inputDir, startYear, endYear, outChan())
	if err != nil {
		return err
	}
	d, err := temdiag.Diagnose(src)
	if err != nil {
		return err
	}
	if err := d.CheckComplete(endYear - startYear + 1); err != nil {
		return err
	}

	f, err := os.Create(outputFile)
	if err != nil {
		return fmt.Errorf("temdiag: creating output file: %v", err)
	}
	if err := d.Write(f); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	log.WithField("OutputFile", outputFile).Info("finished writing diagnostics")
	return nil
}

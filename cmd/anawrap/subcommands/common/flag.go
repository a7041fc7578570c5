package common

import (
	"os"

	"github.com/opst/anawrap/pkg/settings"
)

type CommonFlags struct {
	Settings string `flag:"settings" metavar:"path/to/anawrap.yaml" help:"Path to the settings file. By default, anawrap.yaml is searched from the working directory upwards."`
}

// DefaultCommonFlags finds the settings file for a working directory.
func DefaultCommonFlags(from string) (CommonFlags, error) {
	if from == "" {
		wd, err := os.Getwd()
		if err != nil {
			return CommonFlags{}, err
		}
		from = wd
	}
	return CommonFlags{Settings: settings.Find(from)}, nil
}

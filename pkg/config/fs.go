package config

import (
	"os"

	"github.com/spf13/afero"
)

// Variables mocked out for unit tests.
var (
	fs     = afero.NewOsFs()
	getenv = os.Getenv
	getwd  = os.Getwd
)

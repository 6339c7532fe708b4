package env

import (
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

var (
	loadOnce   sync.Once
	loadedPath string
	loadErr    error
)

// Ensure loads the nearest .env walking up from the working directory. Only
// the first call does any work. Variables already set in the process win.
func Ensure() error {
	// Tests stay hermetic unless GOTEST_LOAD_DOTENV=1.
	if underGoTest() && os.Getenv("GOTEST_LOAD_DOTENV") != "1" {
		return nil
	}
	loadOnce.Do(func() {
		path, err := findDotEnv()
		if err != nil {
			loadErr = err
			log.Debug().Err(err).Msg("fpattend: search .env failed")
			return
		}
		if path == "" {
			return
		}
		loadErr = Load(path)
	})
	return loadErr
}

// Load reads one dotenv file without overriding existing variables.
func Load(path string) error {
	if err := godotenv.Load(path); err != nil {
		log.Warn().Err(err).Str("dotenv", path).Msg("fpattend: load .env failed")
		return errors.Wrapf(err, "load %s", path)
	}
	loadedPath = path
	log.Debug().Str("dotenv", path).Msg("fpattend: loaded .env")
	return nil
}

// LoadedPath returns the .env file that was loaded, or "".
func LoadedPath() string {
	return loadedPath
}

func underGoTest() bool {
	if strings.HasSuffix(os.Args[0], ".test") {
		return true
	}
	for _, arg := range os.Args[1:] {
		if strings.HasPrefix(arg, "-test.") {
			return true
		}
	}
	return false
}

func findDotEnv() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", errors.Wrap(err, "resolve working directory")
	}
	for {
		candidate := filepath.Join(dir, ".env")
		info, err := os.Stat(candidate)
		switch {
		case err == nil && !info.IsDir():
			return candidate, nil
		case err != nil && !os.IsNotExist(err):
			return "", errors.Wrapf(err, "stat %s", candidate)
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", nil
		}
		dir = parent
	}
}

package config

import (
	"errors"
	"io/fs"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

const (
	EnvOpenAIKey       = "OPENAI_API_KEY"
	EnvFCMCredentials  = "FCM_CREDENTIALS_FILE"
	EnvGoogleAppCreds  = "GOOGLE_APPLICATION_CREDENTIALS"
	defaultDotEnvFile  = ".env"
	defaultCredentials = "serviceAccount.json"
)

// Getenv looks up an environment variable. os.Getenv satisfies it.
type Getenv func(key string) string

// LoadDotEnv loads KEY=VALUE pairs from the given files (default ".env")
// into the process environment. Variables already set win, and missing
// files are skipped.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{defaultDotEnvFile}
	}
	for _, p := range paths {
		if strings.TrimSpace(p) == "" {
			continue
		}
		if _, err := os.Stat(p); errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return Wrap("dotenv", err)
		}
	}
	return nil
}

// credentialsPath picks the service-account file: explicit config first,
// then FCM_CREDENTIALS_FILE, then GOOGLE_APPLICATION_CREDENTIALS, then
// ./serviceAccount.json.
func credentialsPath(cfgPath string, getenv Getenv) string {
	for _, p := range []string{cfgPath, getenv(EnvFCMCredentials), getenv(EnvGoogleAppCreds)} {
		if p = strings.TrimSpace(p); p != "" {
			return p
		}
	}
	return defaultCredentials
}

func checkReadable(field, path string) error {
	st, err := os.Stat(path)
	if err != nil {
		return &ConfigurationError{Field: field, Reason: "credentials file " + path, Err: errors.Join(ErrMissingCredentials, err)}
	}
	if st.IsDir() {
		return &ConfigurationError{Field: field, Reason: "credentials path " + path + " is a directory", Err: ErrMissingCredentials}
	}
	return nil
}

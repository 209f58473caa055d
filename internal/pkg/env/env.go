package env

import (
	"os"

	"github.com/joho/godotenv"
)

var Env map[string]string

func GetEnv(key, def string) string {
	// First check our loaded Env map
	if val, ok := Env[key]; ok {
		return val
	}
	// Fallback to OS environment variables (for Docker/tests)
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

var envFiles = []string{
	".env",          // Current directory
	"../../.env",    // From cmd/<binary> to project root
	"../../../.env", // Fallback for deeper nesting
}

func SetupEnvFile() {
	if !TryLoadEnvFile() {
		panic("No .env file found in any of the expected locations")
	}
}

// TryLoadEnvFile loads the first .env file found and reports whether one was
// found. Without a file GetEnv still falls back to the process environment.
func TryLoadEnvFile() bool {
	for _, envFile := range envFiles {
		loaded, err := godotenv.Read(envFile)
		if err == nil {
			Env = loaded
			return true
		}
	}
	return false
}

func IsDev() bool {
	return GetEnv("APP_ENV", "prod") == "dev"
}

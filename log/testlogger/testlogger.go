package testlogger

import (
	"os"
	"testing"

	"github.com/giuliop/ceremony/log"
)

// Level returns DebugLevel when CEREMONY_LOGS=DEBUG, InfoLevel otherwise.
func Level(t testing.TB) int {
	if v, ok := os.LookupEnv("CEREMONY_LOGS"); ok && v == "DEBUG" {
		t.Log("Enabling DebugLevel logs")
		return log.DebugLevel
	}
	return log.InfoLevel
}

// New returns a logger tagged with the test name.
func New(t testing.TB) log.Logger {
	return log.New(nil, Level(t), true).With("testName", t.Name())
}

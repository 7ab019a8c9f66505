package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"
)

// Loader reads environment variables and collects every problem so that
// they can be reported at once.
type Loader struct {
	errs []error
}

func NewLoader() *Loader {
	return &Loader{}
}

// Err joins the collected problems, or returns nil.
func (l *Loader) Err() error {
	return errors.Join(l.errs...)
}

func (l *Loader) fail(err error) {
	l.errs = append(l.errs, err)
}

func (l *Loader) str(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func (l *Loader) require(key string) string {
	v := os.Getenv(key)
	if v == "" {
		l.fail(errors.New("missing env: " + key))
	}
	return v
}

// parsed reads key with fn, keeping def when the variable is unset or
// malformed. kind names the expected format in the error.
func parsed[T any](l *Loader, key, kind string, def T, fn func(string) (T, error)) T {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	out, err := fn(v)
	if err != nil {
		l.fail(fmt.Errorf("invalid %s for %s: %s", kind, key, v))
		return def
	}
	return out
}

func parseUint(v string) (uint, error) {
	n, err := strconv.ParseUint(v, 10, 0)
	return uint(n), err
}

// parseMinutes reads a whole, non-negative number of minutes.
func parseMinutes(v string) (time.Duration, error) {
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, errors.New("negative")
	}
	return time.Duration(n) * time.Minute, nil
}

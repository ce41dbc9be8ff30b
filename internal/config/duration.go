package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Duration parses a delay/timeout config field. Accepted forms are Go
// duration strings ("1500ms", "2s") and bare integers, which are taken
// as milliseconds. Empty means unset and yields zero. Negatives are
// rejected; every duration in this engine is a wait.
func Duration(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	var d time.Duration
	if n, err := strconv.Atoi(s); err == nil {
		d = time.Duration(n) * time.Millisecond
	} else if d, err = time.ParseDuration(s); err != nil {
		return 0, fmt.Errorf("%s: %q is not a duration (use \"1500ms\" or a millisecond count)", path, raw)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: negative duration %q", path, raw)
	}
	return d, nil
}

// DurationOr is Duration for fields where zero is not usable: unset or
// zero values fall back to def.
func DurationOr(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := Duration(path, raw)
	if err != nil {
		return 0, err
	}
	if d == 0 {
		return def, nil
	}
	return d, nil
}

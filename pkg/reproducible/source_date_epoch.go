// Package reproducible supports byte-reproducible output generation, following the
// SOURCE_DATE_EPOCH convention from https://reproducible-builds.org/specs/source-date-epoch/ .
package reproducible

import (
	"os"
	"strconv"
	"time"
)

var fallback = time.Now()

// Now returns the time that generated output should be stamped with: the value of the
// SOURCE_DATE_EPOCH environment variable if it is set, or else the wall-clock time at process
// start.
func Now() time.Time {
	if secs, err := strconv.ParseInt(os.Getenv("SOURCE_DATE_EPOCH"), 10, 64); err == nil {
		return time.Unix(secs, 0)
	}
	return fallback
}

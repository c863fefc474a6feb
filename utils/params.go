package utils

import (
	"net/http"
	"strconv"
)

// QueryInt reads an integer query parameter, falling back to def when it is
// missing or malformed and clamping the result into [min, max].
func QueryInt(r *http.Request, key string, def, min, max int) int {
	v, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil {
		v = def
	}
	if v < min {
		v = min
	}
	if v > max {
		v = max
	}
	return v
}

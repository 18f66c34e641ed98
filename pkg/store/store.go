// Package store persists compression job and batch records in Redis hashes.
package store

import (
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"time"
)

var ErrNotFound = errors.New("record not found")

// Fields is a partial record update keyed by the record's JSON field names.
type Fields map[string]interface{}

func jobKey(id string) string {
	return fmt.Sprintf("job:%s", id)
}

func batchKey(id string) string {
	return fmt.Sprintf("batch:%s", id)
}

func batchFilesKey(id string) string {
	return fmt.Sprintf("batch:%s:files", id)
}

// flatten turns fields into an HSET argument list, normalising values the
// Redis client cannot marshal on its own.
func flatten(fields Fields) []interface{} {
	args := make([]interface{}, 0, len(fields)*2)
	for k, v := range fields {
		args = append(args, k, encodeValue(v))
	}
	return args
}

func encodeValue(v interface{}) interface{} {
	switch val := v.(type) {
	case nil:
		return ""
	case time.Time:
		return formatTime(val)
	case *time.Time:
		if val == nil {
			return ""
		}
		return formatTime(*val)
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.String {
		return rv.String()
	}
	return v
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func parseInt(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}

func parseInt64(s string) int64 {
	n, _ := strconv.ParseInt(s, 10, 64)
	return n
}

func parseFloat(s string) float64 {
	f, _ := strconv.ParseFloat(s, 64)
	return f
}

package cache

import (
	"bytes"
	"io"
	"testing"

	"github.com/go-logfmt/logfmt"
	"github.com/siriushex/astral/log"
)

func toMap(r io.Reader) []map[string]string {
	d := logfmt.NewDecoder(r)
	out := []map[string]string{}
	for d.ScanRecord() {
		m := map[string]string{}
		for d.ScanKeyval() {
			m[string(d.Key())] = string(d.Value())
		}
		out = append(out, m)
	}
	return out
}

func captureLogs(t *testing.T) *bytes.Buffer {
	var b bytes.Buffer
	original := log.SetDestination(&b)
	originalSeverity := log.CurrentSeverity()
	t.Cleanup(func() {
		log.SetDestination(original)
		log.SetSeverity(originalSeverity)
	})
	return &b
}

func findLog(records []map[string]string, msg string) map[string]string {
	for _, r := range records {
		if r["msg"] == msg {
			return r
		}
	}
	return nil
}

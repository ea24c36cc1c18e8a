package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/sirupsen/logrus"
)

func TestNewLogger_JSONWithLevel(t *testing.T) {
	l := NewLogger(logrus.WarnLevel)
	var buf bytes.Buffer
	l.SetOutput(&buf)

	l.Info("dropped")
	l.WithField("payment_id", 7).Warn("kept")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("expected one JSON line, got %q: %v", buf.String(), err)
	}
	if entry["msg"] != "kept" || entry["payment_id"] != float64(7) {
		t.Errorf("unexpected entry: %v", entry)
	}
}

func TestNewLoggerWithService(t *testing.T) {
	entry, ok := NewLoggerWithService("ledger", logrus.InfoLevel).(*logrus.Entry)
	if !ok {
		t.Fatalf("expected *logrus.Entry")
	}
	if entry.Data["service"] != "ledger" {
		t.Errorf("expected service field, got %v", entry.Data)
	}
}

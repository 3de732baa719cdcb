package logger

import (
	"bytes"
	"strings"
	"testing"
)

func TestConfigureRejectsInvalidLevel(t *testing.T) {
	t.Setenv("LOG_LEVEL", "")

	log := Logger()
	if err := log.Configure("verbose", "json", "stdout", 0); err == nil {
		t.Fatal("expected error for invalid level")
	}
}

func TestConfigureRejectsInvalidFormat(t *testing.T) {
	t.Setenv("LOG_LEVEL", "")

	log := Logger()
	if err := log.Configure("info", "xml", "stdout", 0); err == nil {
		t.Fatal("expected error for invalid format")
	}
}

func TestConfigureFormats(t *testing.T) {
	t.Setenv("LOG_LEVEL", "")

	for _, format := range []string{"json", "text"} {
		log := Logger()
		if err := log.Configure("debug", format, "stdout", 0); err != nil {
			t.Errorf("Configure(%q) failed: %v", format, err)
		}
	}
}

func TestEntryFieldsPropagate(t *testing.T) {
	t.Setenv("LOG_LEVEL", "")

	log := Logger()
	var buf bytes.Buffer
	log.SetOutput(&buf)

	log.WithComponent("session").WithFields(Fields{"dataset": "OPRA.PILLAR"}).Info("connected")

	out := buf.String()
	if !strings.Contains(out, `"component":"session"`) {
		t.Errorf("missing component field: %s", out)
	}
	if !strings.Contains(out, `"dataset":"OPRA.PILLAR"`) {
		t.Errorf("missing dataset field: %s", out)
	}
}

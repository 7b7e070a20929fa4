package logging

import (
	"errors"
	"path/filepath"
	"testing"

	log "github.com/sirupsen/logrus"
)

func TestSetup_UnknownLevelFallsBackToInfo(t *testing.T) {
	c := Setup(Options{Level: "loud"})
	defer c.Close()
	if log.GetLevel() != log.InfoLevel {
		t.Errorf("level: got %v, want info", log.GetLevel())
	}
}

func TestSetup_FileCreatesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "scanner.log")
	c := Setup(Options{Level: "debug", File: path})
	defer func() {
		c.Close()
		Setup(Options{Level: "info"})
	}()
	if log.GetLevel() != log.DebugLevel {
		t.Errorf("level: got %v, want debug", log.GetLevel())
	}
	log.Info("hello")
}

func TestFields_OddPairsIgnored(t *testing.T) {
	f := fields([]interface{}{"entry", 3, "now", "t", "dangling"})
	if len(f) != 2 {
		t.Fatalf("expected 2 fields, got %v", f)
	}
	if f["entry"] != 3 {
		t.Errorf("entry: got %v", f["entry"])
	}
	CronLogger{Entry: log.NewEntry(log.StandardLogger())}.Error(errors.New("boom"), "job failed", "entry", 1)
}

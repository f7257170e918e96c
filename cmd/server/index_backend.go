package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"terraflow.ai/internal/persistence/indexdb"
	"terraflow.ai/internal/stream"
	"terraflow.ai/internal/transport/viewer"
)

type runtimeIndex interface {
	stream.Recorder
	viewer.SessionHook
	Close() error
	Flush(ctx context.Context) error
	Stats() indexdb.Stats
	Session(ctx context.Context, id string) (indexdb.SessionSummary, bool, error)
}

func openRuntimeIndex(dataDir string, disableDB bool) (runtimeIndex, error) {
	if disableDB {
		return nil, nil
	}

	backend := strings.ToLower(strings.TrimSpace(os.Getenv("TF_INDEX_BACKEND")))
	if backend == "" {
		backend = "sqlite"
	}

	switch backend {
	case "none", "off", "disabled":
		return nil, nil
	case "sqlite":
		return indexdb.OpenSQLite(filepath.Join(dataDir, "index", "terraflow.sqlite"))
	default:
		return nil, fmt.Errorf("unsupported TF_INDEX_BACKEND: %s", backend)
	}
}

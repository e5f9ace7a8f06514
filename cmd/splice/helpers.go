package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/png"
	"io"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
	"github.com/mattn/go-isatty"

	"github.com/eleven-am/splice"
	"github.com/eleven-am/splice/internal/store"
)

// timelineDocument accepts either a bare layer array or {"layers": [...]}.
type timelineDocument struct {
	Layers []splice.Layer `json:"layers"`
}

func readLayersFile(path string) ([]splice.Layer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read timeline: %w", err)
	}
	data = bytes.TrimSpace(data)

	if len(data) > 0 && data[0] == '[' {
		var layers []splice.Layer
		if err := json.Unmarshal(data, &layers); err != nil {
			return nil, fmt.Errorf("parse timeline %s: %w", path, err)
		}
		return layers, nil
	}

	var doc timelineDocument
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("parse timeline %s: %w", path, err)
	}
	return doc.Layers, nil
}

// resolveLayers returns the layers from file when set, otherwise the stored
// timeline for scenarioID.
func resolveLayers(ctx context.Context, st *store.Store, scenarioID, file string) ([]splice.Layer, error) {
	if file != "" {
		return readLayersFile(file)
	}
	if scenarioID == "" {
		return nil, fmt.Errorf("a scenario id or --timeline file is required")
	}
	layers, err := st.LoadTimeline(ctx, scenarioID)
	if err != nil {
		return nil, wrapStoreError(err, scenarioID)
	}
	return layers, nil
}

// writeOutput replaces path with data while holding an exclusive lock on
// path+".lock", so two exports never interleave writes to the same file.
func writeOutput(path string, write func(io.Writer) error) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create output directory: %w", err)
		}
	}

	lockPath := path + ".lock"
	lock := flock.New(lockPath)
	ok, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire output lock: %w", err)
	}
	if !ok {
		return fmt.Errorf("%s is being written by another splice process", path)
	}
	defer func() {
		_ = lock.Unlock()
		_ = os.Remove(lockPath)
	}()

	tmp := path + ".partial"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create output: %w", err)
	}
	if err := write(f); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("close output: %w", err)
	}
	return os.Rename(tmp, path)
}

func writePNG(path string, img image.Image) error {
	return writeOutput(path, func(w io.Writer) error {
		if err := png.Encode(w, img); err != nil {
			return fmt.Errorf("encode png: %w", err)
		}
		return nil
	})
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	fd := f.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

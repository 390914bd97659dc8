// Package seed registers a fixed fleet from a YAML file at startup.
package seed

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"bustrack/internal/apperr"
	"bustrack/internal/fleet"
)

// File is the top-level seed document.
//
//	buses:
//	  - id: B1
//	    bus_number: DL-1S-0001
//	    route_name: North Loop
//	    capacity: 40
//	    driver_id: d-17
type File struct {
	Buses []Bus `yaml:"buses"`
}

// Bus is one fleet entry.
type Bus struct {
	ID        string `yaml:"id"`
	Number    string `yaml:"bus_number"`
	RouteName string `yaml:"route_name"`
	Capacity  int    `yaml:"capacity"`
	DriverID  string `yaml:"driver_id"`
}

// Parse decodes a seed document. Unknown keys are rejected.
func Parse(r io.Reader) (File, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var file File
	if err := dec.Decode(&file); err != nil {
		if errors.Is(err, io.EOF) {
			return File{}, nil
		}
		return File{}, fmt.Errorf("decode seed: %w", err)
	}
	seen := make(map[string]bool, len(file.Buses))
	for i, bus := range file.Buses {
		id := strings.TrimSpace(bus.ID)
		if id == "" {
			return File{}, fmt.Errorf("buses[%d]: id is required", i)
		}
		if seen[id] {
			return File{}, fmt.Errorf("buses[%d]: duplicate id %q", i, id)
		}
		seen[id] = true
	}
	return file, nil
}

// LoadFile reads and parses the seed file at path.
func LoadFile(path string) (File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return File{}, fmt.Errorf("read seed file: %w", err)
	}
	return Parse(bytes.NewReader(data))
}

// Apply creates every bus that the store does not know yet and returns how
// many were created. Existing buses are left untouched.
func Apply(ctx context.Context, store *fleet.Store, file File) (int, error) {
	created := 0
	for _, bus := range file.Buses {
		_, err := store.CreateBus(ctx, fleet.NewBus{
			ID:        bus.ID,
			Number:    bus.Number,
			Capacity:  bus.Capacity,
			RouteName: bus.RouteName,
			DriverID:  bus.DriverID,
		})
		switch {
		case err == nil:
			created++
		case apperr.CodeOf(err) == apperr.CodeConflict:
		default:
			return created, fmt.Errorf("seed bus %s: %w", bus.ID, err)
		}
	}
	return created, nil
}

package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// InstanceType identifies a long-running timegrid process.
type InstanceType string

const (
	InstanceServer InstanceType = "serve"
	InstanceWatch  InstanceType = "index-watch"
)

// Instance is one entry of instances.json.
type Instance struct {
	Type      InstanceType `json:"type"`
	PID       int          `json:"pid"`
	Port      int          `json:"port,omitempty"`
	Host      string       `json:"host,omitempty"`
	Library   string       `json:"library,omitempty"`
	StartedAt time.Time    `json:"started_at"`
}

func instancesPath() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "instances.json"), nil
}

// RegisterInstance records inst, replacing an earlier entry with the same
// PID and type. Entries of dead processes are dropped on the way.
func RegisterInstance(inst Instance) error {
	return updateInstances(func(list []Instance) []Instance {
		out := list[:0]
		for _, e := range list {
			if e.PID == inst.PID && e.Type == inst.Type {
				continue
			}
			out = append(out, e)
		}
		return append(out, inst)
	})
}

// UnregisterInstance removes every entry for pid.
func UnregisterInstance(pid int) error {
	return updateInstances(func(list []Instance) []Instance {
		out := list[:0]
		for _, e := range list {
			if e.PID != pid {
				out = append(out, e)
			}
		}
		return out
	})
}

// ListInstances returns the entries whose process is still alive.
func ListInstances() ([]Instance, error) {
	path, err := instancesPath()
	if err != nil {
		return nil, err
	}
	list, err := readInstances(path)
	if err != nil {
		return nil, err
	}
	live := cleanStale(list)
	if len(live) != len(list) {
		_ = writeInstances(path, live)
	}
	return live, nil
}

func findInstance(match func(Instance) bool) *Instance {
	list, err := ListInstances()
	if err != nil {
		return nil
	}
	for i := range list {
		if match(list[i]) {
			return &list[i]
		}
	}
	return nil
}

// FindInstanceByPort returns the live instance bound to port, or nil.
func FindInstanceByPort(port int) *Instance {
	return findInstance(func(i Instance) bool { return i.Port == port })
}

// FindInstanceByType returns the first live instance of type t, or nil.
func FindInstanceByType(t InstanceType) *Instance {
	return findInstance(func(i Instance) bool { return i.Type == t })
}

// FindWatcher returns the live index watcher for the library at path.
func FindWatcher(library string) *Instance {
	return findInstance(func(i Instance) bool { return i.Type == InstanceWatch && i.Library == library })
}

func updateInstances(fn func([]Instance) []Instance) error {
	path, err := instancesPath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config dir: %w", err)
	}
	list, _ := readInstances(path)
	return writeInstances(path, fn(cleanStale(list)))
}

func readInstances(path string) ([]Instance, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var list []Instance
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return list, nil
}

// writeInstances replaces the file through a rename so concurrent readers
// never see a partial list.
func writeInstances(path string, list []Instance) error {
	if list == nil {
		list = []Instance{}
	}
	data, err := json.MarshalIndent(list, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func cleanStale(list []Instance) []Instance {
	live := make([]Instance, 0, len(list))
	for _, inst := range list {
		if isProcessAlive(inst.PID) {
			live = append(live, inst)
		}
	}
	return live
}

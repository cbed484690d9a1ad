package disk

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/natefinch/atomic"
	"gopkg.in/yaml.v3"
)

const DescriptorFile = "queue.yaml"

// Descriptor records the parameters a queue was created with. The data page
// size must never change for an existing queue.
type Descriptor struct {
	Name         string    `yaml:"name"`
	DataPageSize int       `yaml:"data_page_size"`
	CreatedAt    time.Time `yaml:"created_at"`
}

func DescriptorPath(queueDir string) string {
	return filepath.Join(queueDir, DescriptorFile)
}

// ReadDescriptor returns the descriptor in queueDir and false when there is
// none yet.
func ReadDescriptor(queueDir string) (Descriptor, bool, error) {
	var d Descriptor
	data, err := os.ReadFile(DescriptorPath(queueDir))
	if errors.Is(err, os.ErrNotExist) {
		return d, false, nil
	}
	if err != nil {
		return d, false, err
	}
	if err := yaml.Unmarshal(data, &d); err != nil {
		return d, false, fmt.Errorf("parse %s: %w", DescriptorPath(queueDir), err)
	}
	return d, true, nil
}

// WriteDescriptor replaces the descriptor atomically.
func WriteDescriptor(queueDir string, d Descriptor) error {
	if err := os.MkdirAll(queueDir, 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(d)
	if err != nil {
		return err
	}
	return atomic.WriteFile(DescriptorPath(queueDir), bytes.NewReader(data))
}

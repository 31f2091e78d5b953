package nn

import (
	"encoding/gob"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"

	. "github.com/golangast/egodepth/neural/tensor"
)

// ErrCheckpointMismatch reports a checkpoint whose entries do not fit a module.
var ErrCheckpointMismatch = errors.New("checkpoint does not match module")

// Checkpoint is the on-disk form of a module's persistent tensors.
type Checkpoint struct {
	ID      string
	Kind    string
	Created time.Time
	Params  map[string]*Tensor
}

// NewCheckpoint snapshots every named parameter of m.
func NewCheckpoint(kind string, m Stateful) *Checkpoint {
	c := &Checkpoint{
		ID:      uuid.NewString(),
		Kind:    kind,
		Created: time.Now().UTC(),
		Params:  make(map[string]*Tensor),
	}
	for _, np := range m.NamedParameters("") {
		c.Params[np.Name] = np.Tensor.Detach().Clone()
	}
	return c
}

// SaveCheckpoint writes c to filePath in Gob format.
func SaveCheckpoint(c *Checkpoint, filePath string) error {
	file, err := os.Create(filePath)
	if err != nil {
		return fmt.Errorf("failed to create checkpoint file: %w", err)
	}
	defer file.Close()

	encoder := gob.NewEncoder(file)
	if err := encoder.Encode(c); err != nil {
		return fmt.Errorf("failed to encode checkpoint %s: %w", c.ID, err)
	}
	return nil
}

// LoadCheckpoint reads a checkpoint written by SaveCheckpoint.
func LoadCheckpoint(filePath string) (*Checkpoint, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("error opening checkpoint file: %w", err)
	}
	defer file.Close()

	var c Checkpoint
	if err := gob.NewDecoder(file).Decode(&c); err != nil {
		return nil, fmt.Errorf("error decoding checkpoint %s: %w", filePath, err)
	}
	if _, err := uuid.Parse(c.ID); err != nil {
		return nil, fmt.Errorf("checkpoint %s has an invalid id %q: %w", filePath, c.ID, err)
	}
	return &c, nil
}

// Apply copies the checkpoint values into m. Every named parameter of m must
// be present with an identical shape; extra entries are ignored.
func (c *Checkpoint) Apply(m Stateful) error {
	params := m.NamedParameters("")
	for _, np := range params {
		src, ok := c.Params[np.Name]
		if !ok {
			return fmt.Errorf("%w: missing %q", ErrCheckpointMismatch, np.Name)
		}
		if !sameShape(src.Shape, np.Tensor.Shape) {
			return fmt.Errorf("%w: %q has shape %v, module expects %v", ErrCheckpointMismatch, np.Name, src.Shape, np.Tensor.Shape)
		}
	}
	for _, np := range params {
		copy(np.Tensor.Data, c.Params[np.Name].Data)
	}
	return nil
}

func sameShape(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

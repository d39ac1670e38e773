package fleet

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

const jsonTeachersPath = "teachers.json"

// Teacher is a seed node: a network address to learn from, and optionally the
// address the node is expected to have.
type Teacher struct {
	NetAddr string
	Address string `json:",omitempty"`
}

// JSONTeachers is used to provide seed node persistence on disk in the form
// of a JSON file.
type JSONTeachers struct {
	l    sync.Mutex
	path string
}

// NewJSONTeachers creates a new JSONTeachers with reference to a base
// directory where the JSON file resides.
func NewJSONTeachers(base string) *JSONTeachers {
	return &JSONTeachers{
		path: filepath.Join(base, jsonTeachersPath),
	}
}

// Teachers parses the underlying JSON file.
func (j *JSONTeachers) Teachers() ([]Teacher, error) {
	j.l.Lock()
	defer j.l.Unlock()

	buf, err := os.ReadFile(j.path)
	if err != nil {
		return nil, err
	}

	if len(bytes.TrimSpace(buf)) == 0 {
		return nil, nil
	}

	var teachers []Teacher
	dec := json.NewDecoder(bytes.NewReader(buf))
	if err := dec.Decode(&teachers); err != nil {
		return nil, err
	}

	cleanseTeachers(teachers)

	return teachers, nil
}

// cleanseTeachers standardises address strings to the format produced by
// crypto.Address.Hex.
func cleanseTeachers(teachers []Teacher) {
	for i := range teachers {
		if teachers[i].Address == "" {
			continue
		}
		teachers[i].Address = "0X" + strings.TrimPrefix(strings.ToUpper(teachers[i].Address), "0X")
	}
}

// Write persists a list of teachers.
func (j *JSONTeachers) Write(teachers []Teacher) error {
	j.l.Lock()
	defer j.l.Unlock()

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	if err := enc.Encode(teachers); err != nil {
		return err
	}

	return os.WriteFile(j.path, buf.Bytes(), 0644)
}

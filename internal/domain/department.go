package domain

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Department is a service desk citizens queue for.
//
// Room is the visible counter a department is called at. Several departments
// may share one room and therefore one ticket sequence.
type Department struct {
	Code string `yaml:"code" json:"code"`
	Name string `yaml:"name" json:"name"`
	Room string `yaml:"room" json:"room"`
}

// Registry is an ordered, immutable set of departments.
type Registry struct {
	ordered []Department
	byCode  map[string]Department
}

type registryFile struct {
	Departments []Department `yaml:"departments"`
}

// DefaultDepartments is the built-in registry of the secretariat's rooms.
func DefaultDepartments() []Department {
	return []Department{
		{Code: "1", Name: "Sala 1", Room: "1"},
		{Code: "2", Name: "Sala 2", Room: "2"},
		{Code: "3", Name: "Sala 3", Room: "3"},
		{Code: "4", Name: "Sala 4", Room: "4"},
		{Code: "5", Name: "Sala 5", Room: "5"},
		{Code: "6", Name: "Sala 6", Room: "6"},
		{Code: "60", Name: "Sala 6 - Seguro Desemprego", Room: "6"},
		{Code: "7", Name: "Sala 7", Room: "7"},
		{Code: "8", Name: "Sala 8", Room: "8"},
		{Code: "9", Name: "Sala 9", Room: "9"},
	}
}

// NewRegistry validates departments and builds a registry. A department with
// no room is called at a room named after its own code.
func NewRegistry(departments []Department) (*Registry, error) {
	if len(departments) == 0 {
		return nil, errors.New("department registry is empty")
	}
	r := &Registry{byCode: make(map[string]Department, len(departments))}
	for _, d := range departments {
		d.Code = strings.TrimSpace(d.Code)
		d.Room = strings.TrimSpace(d.Room)
		if d.Code == "" {
			return nil, errors.New("department code is required")
		}
		if d.Room == "" {
			d.Room = d.Code
		}
		if d.Name == "" {
			d.Name = "Sala " + d.Code
		}
		if _, dup := r.byCode[d.Code]; dup {
			return nil, fmt.Errorf("duplicate department %q", d.Code)
		}
		r.byCode[d.Code] = d
		r.ordered = append(r.ordered, d)
	}
	return r, nil
}

// DefaultRegistry returns the built-in registry.
func DefaultRegistry() *Registry {
	r, err := NewRegistry(DefaultDepartments())
	if err != nil {
		panic(err)
	}
	return r
}

// LoadRegistry reads a YAML department file. An empty path yields the
// built-in registry.
func LoadRegistry(path string) (*Registry, error) {
	if path == "" {
		return DefaultRegistry(), nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read departments: %w", err)
	}
	var file registryFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parse departments %s: %w", path, err)
	}
	return NewRegistry(file.Departments)
}

// Resolve looks a department up by code.
func (r *Registry) Resolve(code string) (Department, bool) {
	d, ok := r.byCode[strings.TrimSpace(code)]
	return d, ok
}

// All returns the departments in registry order.
func (r *Registry) All() []Department {
	out := make([]Department, len(r.ordered))
	copy(out, r.ordered)
	return out
}

// Codes returns the department codes in registry order.
func (r *Registry) Codes() []string {
	out := make([]string, 0, len(r.ordered))
	for _, d := range r.ordered {
		out = append(out, d.Code)
	}
	return out
}

// SharingRoom returns every department called at room.
func (r *Registry) SharingRoom(room string) []Department {
	var out []Department
	for _, d := range r.ordered {
		if d.Room == room {
			out = append(out, d)
		}
	}
	return out
}

// RoomPrefix is the code prefix of tickets issued for room, e.g. "S06".
func RoomPrefix(room string) string {
	if n, err := strconv.Atoi(room); err == nil {
		return fmt.Sprintf("S%02d", n)
	}
	return "S" + strings.ToUpper(room)
}

// FormatTicketCode renders the visible ticket code for room and sequence n.
func FormatTicketCode(room string, n int) string {
	return fmt.Sprintf("%s-%03d", RoomPrefix(room), n)
}

// ParseTicketSequence extracts the sequence number from a code carrying prefix.
func ParseTicketSequence(code, prefix string) (int, bool) {
	rest, ok := strings.CutPrefix(strings.ToUpper(code), strings.ToUpper(prefix)+"-")
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(rest)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

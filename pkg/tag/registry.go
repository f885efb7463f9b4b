package tag

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	s7runtime "s7panel/pkg/protocol/s7/runtime"
	"s7panel/pkg/runtime/constant"
)

var (
	ErrDuplicateName    = errors.New("duplicate tag name")
	ErrEmptyName        = errors.New("empty tag name")
	ErrDataTypeMismatch = errors.New("data type does not match address")
)

type RegistryError struct {
	Kind error
	Name string
}

func (e *RegistryError) Error() string {
	return fmt.Sprintf("tag %q: %v", e.Name, e.Kind)
}

func (e *RegistryError) Is(target error) bool { return target == e.Kind }

// Tag is a named binding of an address. LastValue is nil until the first
// successful read or write.
type Tag struct {
	Name      string
	Address   s7runtime.AddressDescriptor
	LastValue *s7runtime.Value
	UpdatedAt time.Time
}

func (t *Tag) DataType() constant.DataType {
	return t.Address.DataType
}

func (t *Tag) MarshalJSON() ([]byte, error) {
	out := struct {
		Name      string            `json:"name"`
		Address   string            `json:"address"`
		DataType  constant.DataType `json:"dataType"`
		Value     *s7runtime.Value  `json:"value"`
		UpdatedAt *time.Time        `json:"updatedAt,omitempty"`
	}{
		Name:     t.Name,
		Address:  t.Address.String(),
		DataType: t.Address.DataType,
		Value:    t.LastValue,
	}
	if !t.UpdatedAt.IsZero() {
		out.UpdatedAt = &t.UpdatedAt
	}
	return json.Marshal(out)
}

func (t *Tag) DeepCopy() *Tag {
	if t == nil {
		return nil
	}
	out := *t
	if t.LastValue != nil {
		v := *t.LastValue
		out.LastValue = &v
	}
	return &out
}

// Registry holds tags in insertion order. Every accessor returns copies.
type Registry struct {
	mu    sync.RWMutex
	tags  map[string]*Tag
	order []string
}

func NewRegistry() *Registry {
	return &Registry{tags: make(map[string]*Tag)}
}

func (r *Registry) Add(name string, address s7runtime.AddressDescriptor, dataType constant.DataType) (*Tag, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, &RegistryError{Kind: ErrEmptyName}
	}
	if dataType != address.DataType {
		return nil, &RegistryError{Kind: ErrDataTypeMismatch, Name: name}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tags[name]; ok {
		return nil, &RegistryError{Kind: ErrDuplicateName, Name: name}
	}
	t := &Tag{Name: name, Address: address}
	r.tags[name] = t
	r.order = append(r.order, name)
	return t.DeepCopy(), nil
}

func (r *Registry) Remove(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tags[name]; !ok {
		return false
	}
	delete(r.tags, name)
	for i, n := range r.order {
		if n == name {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return true
}

func (r *Registry) Get(name string) (*Tag, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tags[name]
	if !ok {
		return nil, false
	}
	return t.DeepCopy(), true
}

// List returns a snapshot, safe to iterate while the registry changes.
func (r *Registry) List() []*Tag {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Tag, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.tags[name].DeepCopy())
	}
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// SetValue stores v as the last value of the named tag. changed is true
// when the tag had no value or a different one.
func (r *Registry) SetValue(name string, v s7runtime.Value, at time.Time) (changed bool, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tags[name]
	if !ok || v.Type != t.Address.DataType {
		return false, false
	}
	changed = t.LastValue == nil || !t.LastValue.Equal(v)
	t.LastValue = &v
	t.UpdatedAt = at
	return changed, true
}

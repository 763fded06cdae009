// Package recipient holds a recipient's address and the per-placeholder
// values it supplies for the current template.
package recipient

import (
	"encoding/binary"
	"errors"
	"fmt"
	"slices"

	"github.com/cespare/xxhash/v2"

	"github.com/shineum/mailmerge-lite/internal/placeholder"
)

var (
	// ErrUnknownPlaceholder is returned when a value is set for a placeholder
	// that is not part of the recipient's current template.
	ErrUnknownPlaceholder = errors.New("placeholder not in current template")

	// ErrValueCount is returned when a flat placeholder is given anything but
	// one value, or a list placeholder is given none.
	ErrValueCount = errors.New("wrong number of placeholder values")

	// ErrIndexOutOfRange is returned by positional list operations.
	ErrIndexOutOfRange = errors.New("value index out of range")
)

// Fingerprint is the grouping key derived from a recipient's values.
type Fingerprint uint64

func (f Fingerprint) String() string {
	return fmt.Sprintf("%016x", uint64(f))
}

// slot is one template placeholder with the recipient's values for it.
type slot struct {
	placeholder placeholder.Placeholder
	values      []string
}

// Recipient is an addressee plus its values for every placeholder of the
// current template. A Recipient is not safe for concurrent mutation; use
// Clone to hand a stable snapshot to another goroutine.
type Recipient struct {
	address  string
	nickname string

	// slots is kept in template order; index maps a placeholder key to its
	// position in slots.
	slots []slot
	index map[string]int
}

// New validates address and creates a recipient with no template assigned.
func New(address, nickname string) (*Recipient, error) {
	normalized, err := NormalizeAddress(address)
	if err != nil {
		return nil, err
	}
	return &Recipient{
		address:  normalized,
		nickname: nickname,
		index:    make(map[string]int),
	}, nil
}

// Address returns the normalized address.
func (r *Recipient) Address() string {
	return r.address
}

// Nickname returns the optional display name.
func (r *Recipient) Nickname() string {
	return r.nickname
}

// SetNickname replaces the display name.
func (r *Recipient) SetNickname(nickname string) {
	r.nickname = nickname
}

// Format returns "Nickname <address>" or the bare address.
func (r *Recipient) Format() string {
	if r.nickname == "" {
		return r.address
	}
	return fmt.Sprintf("%s <%s>", r.nickname, r.address)
}

// Equal reports whether r and other share a normalized address. Nicknames and
// values are not part of a recipient's identity.
func (r *Recipient) Equal(other *Recipient) bool {
	if r == nil || other == nil {
		return r == other
	}
	return r.address == other.address
}

// AssignTemplate rebuilds the value map for placeholders, in their order.
// Values of placeholders that persist are kept; new ones start as [""].
// Duplicate identities in placeholders are collapsed to the first.
func (r *Recipient) AssignTemplate(placeholders []placeholder.Placeholder) {
	slots := make([]slot, 0, len(placeholders))
	index := make(map[string]int, len(placeholders))

	for _, p := range placeholders {
		if _, dup := index[p.Key()]; dup {
			continue
		}

		values := []string{""}
		if i, ok := r.index[p.Key()]; ok {
			values = slices.Clone(r.slots[i].values)
			if !p.IsList() && len(values) > 1 {
				values = values[:1]
			}
		}

		index[p.Key()] = len(slots)
		slots = append(slots, slot{placeholder: p, values: values})
	}

	r.slots = slots
	r.index = index
}

// Placeholders returns the current template catalog in order.
func (r *Recipient) Placeholders() []placeholder.Placeholder {
	out := make([]placeholder.Placeholder, len(r.slots))
	for i, s := range r.slots {
		out[i] = s.placeholder
	}
	return out
}

// HasPlaceholder reports whether p is part of the current template.
func (r *Recipient) HasPlaceholder(p placeholder.Placeholder) bool {
	_, ok := r.index[p.Key()]
	return ok
}

// SetValue replaces the values for p.
func (r *Recipient) SetValue(p placeholder.Placeholder, values []string) error {
	s, err := r.slot(p)
	if err != nil {
		return err
	}
	if err := checkCount(s.placeholder, len(values)); err != nil {
		return err
	}
	s.values = slices.Clone(values)
	return nil
}

// SetValueAt replaces a single position of p's values.
func (r *Recipient) SetValueAt(p placeholder.Placeholder, i int, value string) error {
	s, err := r.slot(p)
	if err != nil {
		return err
	}
	if i < 0 || i >= len(s.values) {
		return fmt.Errorf("%w: %d of %d for %s", ErrIndexOutOfRange, i, len(s.values), s.placeholder)
	}
	s.values[i] = value
	return nil
}

// AppendValue adds a value to the end of a list placeholder.
func (r *Recipient) AppendValue(p placeholder.Placeholder, value string) error {
	s, err := r.slot(p)
	if err != nil {
		return err
	}
	if err := checkCount(s.placeholder, len(s.values)+1); err != nil {
		return err
	}
	s.values = append(s.values, value)
	return nil
}

// RemoveValueAt deletes one position of a list placeholder. A list always
// keeps at least one entry.
func (r *Recipient) RemoveValueAt(p placeholder.Placeholder, i int) error {
	s, err := r.slot(p)
	if err != nil {
		return err
	}
	if i < 0 || i >= len(s.values) {
		return fmt.Errorf("%w: %d of %d for %s", ErrIndexOutOfRange, i, len(s.values), s.placeholder)
	}
	if err := checkCount(s.placeholder, len(s.values)-1); err != nil {
		return err
	}
	s.values = slices.Delete(s.values, i, i+1)
	return nil
}

// Value returns a copy of the values for p.
func (r *Recipient) Value(p placeholder.Placeholder) ([]string, bool) {
	i, ok := r.index[p.Key()]
	if !ok {
		return nil, false
	}
	return slices.Clone(r.slots[i].values), true
}

// Values returns a copy of every value array in template order.
func (r *Recipient) Values() [][]string {
	out := make([][]string, len(r.slots))
	for i, s := range r.slots {
		out[i] = slices.Clone(s.values)
	}
	return out
}

// ClearValues resets every placeholder to [""].
func (r *Recipient) ClearValues() {
	for i := range r.slots {
		r.slots[i].values = []string{""}
	}
}

// Fingerprint hashes the ordered (base name, values...) sequence. Recipients
// with the same template and identical values in identical order share a
// fingerprint. It is an equivalence key, not a cryptographic digest.
func (r *Recipient) Fingerprint() Fingerprint {
	d := xxhash.New()
	buf := make([]byte, 0, 64)

	writeField := func(s string) {
		buf = binary.LittleEndian.AppendUint64(buf[:0], uint64(len(s)))
		buf = append(buf, s...)
		_, _ = d.Write(buf)
	}

	for _, s := range r.slots {
		writeField(s.placeholder.Key())
		buf = binary.LittleEndian.AppendUint64(buf[:0], uint64(len(s.values)))
		_, _ = d.Write(buf)
		for _, v := range s.values {
			writeField(v)
		}
	}

	return Fingerprint(d.Sum64())
}

// SameValues reports whether r and other carry identical placeholder keys
// and values in identical order.
func (r *Recipient) SameValues(other *Recipient) bool {
	if len(r.slots) != len(other.slots) {
		return false
	}
	for i := range r.slots {
		if !r.slots[i].placeholder.Equal(other.slots[i].placeholder) {
			return false
		}
		if !slices.Equal(r.slots[i].values, other.slots[i].values) {
			return false
		}
	}
	return true
}

// Clone returns a deep copy of r.
func (r *Recipient) Clone() *Recipient {
	c := &Recipient{
		address:  r.address,
		nickname: r.nickname,
		slots:    make([]slot, len(r.slots)),
		index:    make(map[string]int, len(r.index)),
	}
	for i, s := range r.slots {
		c.slots[i] = slot{placeholder: s.placeholder, values: slices.Clone(s.values)}
	}
	for k, v := range r.index {
		c.index[k] = v
	}
	return c
}

func (r *Recipient) slot(p placeholder.Placeholder) (*slot, error) {
	i, ok := r.index[p.Key()]
	if !ok {
		return nil, fmt.Errorf("%w: %s for %s", ErrUnknownPlaceholder, p, r.address)
	}
	return &r.slots[i], nil
}

func checkCount(p placeholder.Placeholder, n int) error {
	if p.IsList() {
		if n < 1 {
			return fmt.Errorf("%w: list %s needs at least one value", ErrValueCount, p)
		}
		return nil
	}
	if n != 1 {
		return fmt.Errorf("%w: %s takes exactly one value, got %d", ErrValueCount, p, n)
	}
	return nil
}

package directory

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
)

// Directory maps group names to ordered member ID lists.
//
// The zero value is an empty directory ready for use. Directory is not safe for
// concurrent mutation; Service hands out clones.
type Directory struct {
	groups map[string][]string
}

// New builds a directory from groups. Member slices are copied.
func New(groups map[string][]string) Directory {
	directory := Directory{groups: make(map[string][]string, len(groups))}
	for name, members := range groups {
		directory.groups[name] = cloneMembers(members)
	}

	return directory
}

// Lookup returns a copy of the members of name.
func (d Directory) Lookup(name string) ([]string, bool) {
	members, exists := d.groups[name]
	if !exists {
		return nil, false
	}

	return cloneMembers(members), true
}

// Put replaces the member list of name, creating the group when absent.
func (d *Directory) Put(name string, members []string) {
	if d.groups == nil {
		d.groups = make(map[string][]string)
	}
	d.groups[name] = cloneMembers(members)
}

// Delete removes name and reports whether it existed.
func (d *Directory) Delete(name string) bool {
	if _, exists := d.groups[name]; !exists {
		return false
	}
	delete(d.groups, name)

	return true
}

// Names returns all group names in ascending order.
func (d Directory) Names() []string {
	names := make([]string, 0, len(d.groups))
	for name := range d.groups {
		names = append(names, name)
	}
	sort.Strings(names)

	return names
}

// Len returns the number of groups.
func (d Directory) Len() int {
	return len(d.groups)
}

// Clone returns a deep copy.
func (d Directory) Clone() Directory {
	return New(d.groups)
}

// MarshalJSON encodes the directory as an object keyed by group name. Empty
// member lists encode as [] rather than null. HTML characters in IDs are
// written verbatim.
func (d Directory) MarshalJSON() ([]byte, error) {
	return encodeJSON(d.plain(), "")
}

func (d Directory) plain() map[string][]string {
	encoded := make(map[string][]string, len(d.groups))
	for name, members := range d.groups {
		if members == nil {
			members = []string{}
		}
		encoded[name] = members
	}

	return encoded
}

// encodeJSON marshals value without HTML escaping and without the trailing
// newline json.Encoder appends.
func encodeJSON(value any, indent string) ([]byte, error) {
	var buffer bytes.Buffer
	encoder := json.NewEncoder(&buffer)
	encoder.SetEscapeHTML(false)
	if indent != "" {
		encoder.SetIndent("", indent)
	}
	if err := encoder.Encode(value); err != nil {
		return nil, err
	}

	return bytes.TrimSuffix(buffer.Bytes(), []byte("\n")), nil
}

// UnmarshalJSON decodes a JSON object whose values are arrays of strings.
//
// null at the top level, null member lists, and null or non-string members are
// rejected so a damaged file is never mistaken for an empty directory.
func (d *Directory) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		return fmt.Errorf("directory must be a JSON object, got null")
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decode directory object: %w", err)
	}

	groups := make(map[string][]string, len(raw))
	for name, value := range raw {
		if bytes.Equal(bytes.TrimSpace(value), []byte("null")) {
			return fmt.Errorf("group %q: members must be an array, got null", name)
		}
		var entries []*string
		if err := json.Unmarshal(value, &entries); err != nil {
			return fmt.Errorf("group %q: %w", name, err)
		}
		members := make([]string, 0, len(entries))
		for index, entry := range entries {
			if entry == nil {
				return fmt.Errorf("group %q: member %d is null", name, index)
			}
			members = append(members, *entry)
		}
		groups[name] = members
	}
	d.groups = groups

	return nil
}

func cloneMembers(members []string) []string {
	if members == nil {
		return []string{}
	}

	return append(make([]string, 0, len(members)), members...)
}

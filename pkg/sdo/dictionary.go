package sdo

import (
	"fmt"
	"time"

	ethercat "github.com/samsamfire/goethercat"
)

// Dictionary is the ordered list of the object dictionary sub-entries
// of a slave. (index, subindex) pairs are unique.
type Dictionary struct {
	entries []*Entry
}

func NewDictionary() *Dictionary {
	return &Dictionary{entries: make([]*Entry, 0)}
}

// Add an entry at the end of the dictionary
func (d *Dictionary) Add(entry *Entry) error {
	if _, err := d.Lookup(entry.Index, entry.Subindex); err == nil {
		return fmt.Errorf("%w : duplicate entry x%x|x%x", ethercat.ErrIllegalArgument, entry.Index, entry.Subindex)
	}
	d.entries = append(d.entries, entry)
	return nil
}

// Lookup an entry by index & subindex
func (d *Dictionary) Lookup(index uint16, subindex uint8) (*Entry, error) {
	for _, entry := range d.entries {
		if entry.Index == index && entry.Subindex == subindex {
			return entry, nil
		}
	}
	return nil, fmt.Errorf("%w : x%x|x%x", ethercat.ErrNotFound, index, subindex)
}

func (d *Dictionary) Len() int {
	return len(d.entries)
}

// At returns the entry at position i of the dictionary
func (d *Dictionary) At(i int) (*Entry, error) {
	if i < 0 || i >= len(d.entries) {
		return nil, fmt.Errorf("%w : dictionary position %v", ethercat.ErrNotFound, i)
	}
	return d.entries[i], nil
}

// Entries returns all the entries in dictionary order
func (d *Dictionary) Entries() []*Entry {
	return d.entries
}

// SetupRequests creates one scheduled request per entry, these are used
// once the bus is operational. Requests are only valid until the master
// is deactivated.
func (d *Dictionary) SetupRequests(config ethercat.SlaveConfig, timeout time.Duration) error {
	for _, entry := range d.entries {
		request, err := config.CreateSdoRequest(entry.Index, entry.Subindex, entry.Size())
		if err != nil || request == nil {
			return fmt.Errorf("%w : %v (%v)", ethercat.ErrSdoRequest, entry, err)
		}
		request.SetTimeout(timeout)
		entry.setRequest(request)
	}
	return nil
}

// ReleaseRequests drops all the scheduled requests
func (d *Dictionary) ReleaseRequests() {
	for _, entry := range d.entries {
		entry.setRequest(nil)
	}
}

// Poll all the scheduled requests
func (d *Dictionary) Poll() {
	for _, entry := range d.entries {
		entry.Poll()
	}
}

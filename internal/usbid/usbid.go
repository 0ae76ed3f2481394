// Package usbid looks up vendor and product names in a usb.ids database.
//
// The database is the plain text file shipped by usbutils and hwdata. Load
// searches DefaultPaths; Parse reads any io.Reader. Lookups on an unloaded
// database fall back to a small built-in table covering the adapters this
// host stack targets.
package usbid

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/samber/lo"
)

// DefaultPaths lists the standard locations for the USB ID database.
var DefaultPaths = []string{
	"/usr/share/hwdata/usb.ids",
	"/var/lib/usbutils/usb.ids",
	"/usr/share/misc/usb.ids",
}

type productKey struct{ vid, pid uint16 }

var builtinVendors = map[uint16]string{
	0x1D50: "OpenMoko, Inc.",
}

var builtinProducts = map[productKey]string{
	{0x1D50, 0x606F}: "Geschwister Schneider CAN adapter",
}

// Database caches vendor and product names.
type Database struct {
	mu       sync.RWMutex
	paths    []string
	vendors  map[uint16]string
	products map[productKey]string
	loaded   bool
	source   string
}

// New creates a database searching paths, or DefaultPaths if none are given.
// Duplicate paths are searched once.
func New(paths ...string) *Database {
	if len(paths) == 0 {
		paths = DefaultPaths
	}
	return &Database{
		paths:    lo.Uniq(paths),
		vendors:  make(map[uint16]string),
		products: make(map[productKey]string),
	}
}

// Load parses the first readable file in the search list. Later calls do
// nothing. It reports whether a file was parsed.
func (db *Database) Load() bool {
	db.mu.Lock()
	defer db.mu.Unlock()

	if db.loaded {
		return db.source != ""
	}
	db.loaded = true

	for _, path := range db.paths {
		f, err := os.Open(path)
		if err != nil {
			continue
		}
		err = db.parse(f)
		_ = f.Close()
		if err == nil {
			db.source = path
			return true
		}
	}
	return false
}

// Parse adds the entries read from r.
func (db *Database) Parse(r io.Reader) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.loaded = true
	return db.parse(r)
}

// parse reads vendor lines ("vvvv  name") and the product lines below them
// ("\tpppp  name"). Any other section ends the current vendor.
func (db *Database) parse(r io.Reader) error {
	scanner := bufio.NewScanner(r)
	var (
		vid    uint16
		inside bool
	)

	for scanner.Scan() {
		line := scanner.Text()
		if len(line) == 0 || line[0] == '#' {
			continue
		}

		if line[0] == '\t' {
			if !inside || strings.HasPrefix(line, "\t\t") {
				continue
			}
			if id, name, ok := splitEntry(line[1:]); ok {
				db.products[productKey{vid, id}] = name
			}
			continue
		}

		id, name, ok := splitEntry(line)
		inside = ok
		if ok {
			vid = id
			db.vendors[vid] = name
		}
	}
	return scanner.Err()
}

// splitEntry parses "xxxx  name".
func splitEntry(s string) (uint16, string, bool) {
	if len(s) < 6 || s[4] != ' ' {
		return 0, "", false
	}
	id, err := strconv.ParseUint(s[:4], 16, 16)
	if err != nil {
		return 0, "", false
	}
	name := strings.TrimLeft(s[5:], " ")
	if name == "" {
		return 0, "", false
	}
	return uint16(id), name, true
}

// LookupVendor returns the vendor name for vid, or "".
func (db *Database) LookupVendor(vid uint16) string {
	db.mu.RLock()
	defer db.mu.RUnlock()
	if name, ok := db.vendors[vid]; ok {
		return name
	}
	return builtinVendors[vid]
}

// LookupProduct returns the product name for vid:pid, or "".
func (db *Database) LookupProduct(vid, pid uint16) string {
	db.mu.RLock()
	defer db.mu.RUnlock()
	key := productKey{vid, pid}
	if name, ok := db.products[key]; ok {
		return name
	}
	return builtinProducts[key]
}

// Describe formats vid:pid with whatever names are known.
func (db *Database) Describe(vid, pid uint16) string {
	id := fmt.Sprintf("%04x:%04x", vid, pid)
	vendor, product := db.LookupVendor(vid), db.LookupProduct(vid, pid)
	switch {
	case vendor != "" && product != "":
		return id + " " + vendor + " " + product
	case vendor != "":
		return id + " " + vendor
	default:
		return id
	}
}

// Source returns the file Load parsed, or "".
func (db *Database) Source() string {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.source
}

// VendorCount returns the number of vendors read from files.
func (db *Database) VendorCount() int {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return len(db.vendors)
}

// ProductCount returns the number of products read from files.
func (db *Database) ProductCount() int {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return len(db.products)
}

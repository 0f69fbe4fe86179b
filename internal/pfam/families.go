// Package pfam assigns PFam domains to proteins. Family metadata (short id
// and class) is kept in a local Badger store loaded from the PFam family
// listing; domain locations come from the InterPro API.
package pfam

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/dgraph-io/badger/v4"
)

// ErrUnknownFamily is returned for a family missing from the store.
var ErrUnknownFamily = errors.New("unknown pfam family")

// Family is the stored metadata of one PFam family.
type Family struct {
	Accession string `json:"accession"`
	ID        string `json:"id"`
	Class     string `json:"class"`
}

// Families is the Badger backed family store.
type Families struct {
	db *badger.DB
}

// OpenFamilies opens the store at path. An empty path opens an in-memory
// store.
func OpenFamilies(path string) (*Families, error) {
	opts := badger.DefaultOptions(path).WithLogger(nil)
	if path == "" {
		opts = badger.DefaultOptions("").WithInMemory(true).WithLogger(nil)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open pfam store: %w", err)
	}
	return &Families{db: db}, nil
}

// Close releases the store.
func (f *Families) Close() error {
	return f.db.Close()
}

func familyKey(acc string) []byte {
	return []byte("family:" + strings.ToUpper(acc))
}

// Load reads a tab separated family listing (accession, id, class per line,
// '#' starts a comment) and stores every family. It returns the number of
// families stored.
func (f *Families) Load(r io.Reader) (int, error) {
	sc := bufio.NewScanner(r)
	wb := f.db.NewWriteBatch()
	defer wb.Cancel()

	n := 0
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		cells := strings.Split(line, "\t")
		if len(cells) < 3 {
			return n, fmt.Errorf("pfam family line %q: expected accession, id and class", line)
		}
		fam := Family{
			Accession: strings.TrimSpace(cells[0]),
			ID:        strings.TrimSpace(cells[1]),
			Class:     strings.TrimSpace(cells[2]),
		}
		data, err := json.Marshal(fam)
		if err != nil {
			return n, err
		}
		if err := wb.Set(familyKey(fam.Accession), data); err != nil {
			return n, fmt.Errorf("store pfam family: %w", err)
		}
		n++
	}
	if err := sc.Err(); err != nil {
		return n, fmt.Errorf("read pfam families: %w", err)
	}
	if err := wb.Flush(); err != nil {
		return n, fmt.Errorf("flush pfam families: %w", err)
	}
	return n, nil
}

// Get returns the family with accession acc.
func (f *Families) Get(acc string) (Family, error) {
	var fam Family
	err := f.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(familyKey(acc))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return fmt.Errorf("%w: %s", ErrUnknownFamily, acc)
			}
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &fam)
		})
	})
	return fam, err
}

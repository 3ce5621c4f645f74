// Package flatfs implements the task.ModuleStore interface
package flatfs

import (
	"errors"
	"os"
	"path/filepath"
	"pyrite/datamodel/task"
	"pyrite/oid"

	log "github.com/sirupsen/logrus"
)

var _ task.ModuleStore = (*FlatFS)(nil)

var ErrCorrupted = errors.New("flatfs: module content does not match its OID")

// FlatFS stores task modules as plain files named by their OID.
// The first 4 characters of the OID string are used as a shard subdirectory.
// Files hold the raw module bytes; the length is taken from the file size.
type FlatFS struct {
	basePath string
}

func New(basePath string) (*FlatFS, error) {
	// Sanitize the basePath
	basePath = filepath.Clean(basePath)

	// Make sure the directory exists and create if missing
	if err := ensureDir(basePath); err != nil {
		return nil, err
	}

	log.Infof("Opened FlatFS at %s", basePath)

	return &FlatFS{basePath: basePath}, nil
}

// ensureDir checks if a directory exists at the given path, and if not, creates it.
func ensureDir(path string) error {
	// Stat the path
	stat, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			// Directory does not exist, create it
			return os.MkdirAll(path, 0755)
		}
		return err
	}
	if !stat.IsDir() {
		return &os.PathError{Op: "ensureDir", Path: path, Err: os.ErrExist}
	}
	return nil
}

// Enumerate lists the OIDs of all stored modules.
// Entries that are not shard directories or valid OID file names are skipped with a warning.
func (f *FlatFS) Enumerate() ([]*oid.Oid, error) {
	var oids []*oid.Oid

	// Read the top-level directories (shards based on OID prefix)
	shardDirEntries, err := os.ReadDir(f.basePath)
	if err != nil {
		log.Errorf("Error reading base path %s for enumeration: %v", f.basePath, err)
		return nil, err
	}

	for _, shardDirEntry := range shardDirEntries {
		if !shardDirEntry.IsDir() {
			log.Warnf("Skipping non-directory entry in FlatFS base path during enumeration: %s", filepath.Join(f.basePath, shardDirEntry.Name()))
			continue
		}

		shardPath := filepath.Join(f.basePath, shardDirEntry.Name())
		moduleFileEntries, err := os.ReadDir(shardPath)
		if err != nil {
			log.Errorf("Error reading shard directory %s during enumeration: %v", shardPath, err)
			return nil, err
		}

		for _, moduleFileEntry := range moduleFileEntries {
			if moduleFileEntry.IsDir() {
				log.Warnf("Skipping unexpected subdirectory in shard %s during enumeration: %s", shardPath, moduleFileEntry.Name())
				continue
			}

			oidStr := moduleFileEntry.Name()
			o, parseErr := oid.FromString(oidStr)
			if parseErr != nil {
				log.Warnf("Skipping file %s in shard %s during enumeration, not a valid OID: %v", oidStr, shardPath, parseErr)
				continue
			}
			oids = append(oids, o)
		}
	}

	return oids, nil
}

func (f *FlatFS) Close() error {
	return nil
}

func (f *FlatFS) Get(o *oid.Oid) (*task.Module, error) {
	_, filePath := f.oidToPath(o)

	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, err
	}

	// Modules are content addressed, a mismatch means the file was modified on disk
	if !oid.ForModule(data).Equal(o) {
		log.Errorf("Module %s does not match its content", o.String())
		return nil, ErrCorrupted
	}

	m := &task.Module{
		Oid:    *o,
		Length: uint64(len(data)),
		Data:   data,
	}

	return m, nil
}

// oidToPath converts an OID to its corresponding file path within the FlatFS structure.
// It also returns the directory path.
func (f *FlatFS) oidToPath(oid *oid.Oid) (dirPath string, filePath string) {
	oidStr := oid.String()

	dirPath = filepath.Join(f.basePath, oidStr[:4])
	filePath = filepath.Join(dirPath, oidStr)

	return dirPath, filePath
}

func (f *FlatFS) Has(oid *oid.Oid) (bool, error) {
	_, filePath := f.oidToPath(oid)
	stat, err := os.Stat(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return !stat.IsDir(), nil
}

func (f *FlatFS) Put(m *task.Module) (*oid.Oid, error) {
	if m == nil {
		return nil, os.ErrInvalid
	}

	if !oid.ForModule(m.Data).Equal(&m.Oid) {
		return nil, ErrCorrupted
	}

	dirPath, filePath := f.oidToPath(&m.Oid)

	// Ensure the subdirectory exists
	if err := ensureDir(dirPath); err != nil {
		return nil, err
	}

	// Write via a temporary file and rename into place
	tmp := filePath + ".tmp"
	if err := os.WriteFile(tmp, m.Data, 0644); err != nil {
		return nil, err
	}
	if err := os.Rename(tmp, filePath); err != nil {
		return nil, err
	}
	return &m.Oid, nil
}

func (f *FlatFS) Delete(oid *oid.Oid) error {
	_, filePath := f.oidToPath(oid)

	err := os.Remove(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return nil
}

package commands

import (
	"pyrite/config"
	"pyrite/datastore/flatfs"
	"pyrite/datastore/leveldb"
)

func openStores(cfg *config.Config) (*flatfs.FlatFS, *leveldb.TaskIndex, error) {
	fs, err := flatfs.New(cfg.DataStore.TaskStorePath)
	if err != nil {
		return nil, nil, err
	}

	idx, err := leveldb.NewTaskIndex(cfg.DataStore.TaskIndexPath)
	if err != nil {
		fs.Close()
		return nil, nil, err
	}

	return fs, idx, nil
}

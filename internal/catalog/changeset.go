package catalog

import "skycat/internal/model"

// ChangeSet is the difference between one storage root on disk and its
// persisted file records.
type ChangeSet struct {
	RootID int64
	// New files have no record yet.
	New []*model.FileRecord
	// Changed holds fresh records, with new ids, for files whose size or
	// mtime differ; ChangedIDs holds the ids of the records they replace.
	Changed    []*model.FileRecord
	ChangedIDs []string
	// Removed records are gone from disk.
	Removed []*model.FileRecord
}

// Empty reports whether applying the change set would do nothing.
func (c *ChangeSet) Empty() bool {
	return len(c.New) == 0 && len(c.Changed) == 0 && len(c.ChangedIDs) == 0 && len(c.Removed) == 0
}

// Inserted returns the records the change set adds, new first.
func (c *ChangeSet) Inserted() []*model.FileRecord {
	out := make([]*model.FileRecord, 0, len(c.New)+len(c.Changed))
	out = append(out, c.New...)
	return append(out, c.Changed...)
}

package archive

// ArchiveInterface stores engine snapshots (stats JSON) and serves
// them back for inspection and retention pruning. Not part of
// committed sync state.
type ArchiveInterface interface {
	Store(name string, data []byte) error
	Retrieve(name string) ([]byte, error)
	List(prefix string) ([]string, error)
	Delete(name string) error
}

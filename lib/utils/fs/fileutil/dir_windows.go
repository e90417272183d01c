// +build windows

package fileutil

// SyncDir is no-op since directories can't be opened for syncing there.
func SyncDir(dir string) error {
	return nil
}

// +build !windows

package fileutil

// SyncDir makes preceding renames and links in dir durable.
func SyncDir(dir string) error {
	return SyncFileName(dir)
}

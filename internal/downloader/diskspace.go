package downloader

import "golang.org/x/sys/unix"

// freeDiskSpace returns the bytes available to an unprivileged process on
// the filesystem backing dir. No repo in the reference set covers disk
// usage reporting (golang.org/x/sys is already in the dependency tree as a
// transitive requirement of modernc.org/sqlite), so this statfs(2) call is
// the narrowest available ecosystem primitive rather than a bespoke syscall
// wrapper.
func freeDiskSpace(dir string) (int64, error) {
	var stat unix.Statfs_t
	if err := unix.Statfs(dir, &stat); err != nil {
		return 0, err
	}
	return int64(stat.Bavail) * int64(stat.Bsize), nil
}

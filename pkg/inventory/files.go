package inventory

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
)

var (
	plotExtensions = mapset.NewThreadUnsafeSet(".pdf", ".svg", ".eps", ".ps")
	logExtensions  = mapset.NewThreadUnsafeSet(".log", ".txt", ".out", ".err")
	rawExtensions  = mapset.NewThreadUnsafeSet(".csv", ".tsv", ".dat", ".root", ".json", ".h5", ".hdf5", ".bin", ".npz", ".xlsx")
)

// ClassifyFile picks a test file type from the file extension.
func ClassifyFile(name string) FileType {
	ext := lowerExt(name)
	switch {
	case imageExtensions.Contains(ext):
		return FileImage
	case plotExtensions.Contains(ext):
		return FilePlot
	case logExtensions.Contains(ext):
		return FileLog
	case rawExtensions.Contains(ext):
		return FileRawData
	}
	return FileOther
}

func lowerExt(name string) string {
	return strings.ToLower(filepath.Ext(name))
}

var unsafeSegment = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// safeSegment turns free text into a single path element.
func safeSegment(s string) string {
	s = unsafeSegment.ReplaceAllString(strings.TrimSpace(s), "_")
	s = strings.Trim(s, ".")
	if s == "" {
		return "_"
	}
	return s
}

// testDir is the directory, relative to the data root, holding the files of
// one test: <year>/<component>/<YYYYmmdd_HHMMSS>_<test_type>.
func testDir(componentID, testType string, at time.Time) string {
	return filepath.Join(
		at.Format("2006"),
		safeSegment(componentID),
		at.Format("20060102_150405")+"_"+safeSegment(testType),
	)
}

// uniqueName returns dir/name, or dir/stem_N.ext when name is taken.
func uniqueName(dir, name string) string {
	candidate := filepath.Join(dir, name)
	if _, err := os.Lstat(candidate); os.IsNotExist(err) {
		return candidate
	}
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	for i := 1; ; i++ {
		candidate = filepath.Join(dir, fmt.Sprintf("%s_%d%s", stem, i, ext))
		if _, err := os.Lstat(candidate); os.IsNotExist(err) {
			return candidate
		}
	}
}

// copyInto copies src into the data directory under relDir and returns the
// path relative to the data root plus the number of bytes written.
func (s *Store) copyInto(src, relDir, name string) (string, int64, error) {
	in, err := os.Open(src)
	if err != nil {
		return "", 0, invalid("cannot read %s: %v", src, err)
	}
	defer in.Close()
	info, err := in.Stat()
	if err != nil {
		return "", 0, fmt.Errorf("stat %s: %w", src, err)
	}
	if !info.Mode().IsRegular() {
		return "", 0, invalid("%s is not a regular file", src)
	}

	dir := filepath.Join(s.dataDir, relDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", 0, fmt.Errorf("create %s: %w", dir, err)
	}
	dest := uniqueName(dir, name)
	out, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return "", 0, fmt.Errorf("create %s: %w", dest, err)
	}
	n, err := io.Copy(out, in)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(dest)
		return "", 0, fmt.Errorf("copy %s: %w", src, err)
	}
	_ = os.Chtimes(dest, info.ModTime(), info.ModTime())

	rel, err := filepath.Rel(s.dataDir, dest)
	if err != nil {
		return "", 0, fmt.Errorf("relative path for %s: %w", dest, err)
	}
	return filepath.ToSlash(rel), n, nil
}

func (s *Store) removeCopies(rels []string) {
	for _, rel := range rels {
		if err := os.Remove(filepath.Join(s.dataDir, filepath.FromSlash(rel))); err != nil && !os.IsNotExist(err) {
			s.logger.Sugar().Warnw("failed to remove copied file after rollback", "path", rel, "error", err)
		}
	}
}

// ResolvePath maps a path relative to the data directory onto the file
// system. Absolute paths, parent references and symlinks leading outside
// the data directory are rejected with ErrPathEscape.
func (s *Store) ResolvePath(rel string) (string, error) {
	return ResolveUnder(s.dataDir, rel)
}

// ResolveUnder is ResolvePath for an arbitrary root.
func ResolveUnder(root, rel string) (string, error) {
	if rel == "" {
		return "", newError(ErrPathEscape, "empty path")
	}
	if strings.ContainsRune(rel, 0) {
		return "", newError(ErrPathEscape, "invalid path")
	}
	slashed := filepath.ToSlash(rel)
	if filepath.IsAbs(rel) || strings.HasPrefix(slashed, "/") || filepath.VolumeName(rel) != "" {
		return "", newError(ErrPathEscape, "absolute paths are not served")
	}
	for _, part := range strings.Split(slashed, "/") {
		if part == ".." {
			return "", newError(ErrPathEscape, "parent references are not served")
		}
	}

	rootAbs, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("resolve data directory: %w", err)
	}
	if real, err := filepath.EvalSymlinks(rootAbs); err == nil {
		rootAbs = real
	}
	full := filepath.Join(rootAbs, filepath.FromSlash(filepath.Clean(slashed)))
	if !within(rootAbs, full) {
		return "", newError(ErrPathEscape, "path escapes data directory")
	}

	real, err := filepath.EvalSymlinks(full)
	switch {
	case err == nil:
		if !within(rootAbs, real) {
			return "", newError(ErrPathEscape, "path escapes data directory")
		}
		return real, nil
	case os.IsNotExist(err):
		return "", notFound("file", rel)
	default:
		return "", fmt.Errorf("resolve %s: %w", rel, err)
	}
}

func within(root, p string) bool {
	r, err := filepath.Rel(root, p)
	if err != nil {
		return false
	}
	return r != ".." && !strings.HasPrefix(r, ".."+string(filepath.Separator))
}

// Package archive unpacks source archives and produces binary
// packages.
package archive

import (
	"archive/tar"
	"compress/bzip2"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zip"
	"github.com/klauspost/compress/zstd"
	"github.com/ulikunitz/xz"
)

// Format names a supported archive layout.
type Format string

// Recognized formats.  Plain files are copied verbatim.
const (
	FormatTar     Format = "tar"
	FormatTarGz   Format = "tar.gz"
	FormatTarBz2  Format = "tar.bz2"
	FormatTarXz   Format = "tar.xz"
	FormatTarZstd Format = "tar.zst"
	FormatZip     Format = "zip"
	FormatPlain   Format = ""
)

var suffixes = []struct {
	ext string
	f   Format
}{
	{".tar.gz", FormatTarGz},
	{".tgz", FormatTarGz},
	{".tar.bz2", FormatTarBz2},
	{".tbz2", FormatTarBz2},
	{".tar.xz", FormatTarXz},
	{".txz", FormatTarXz},
	{".tar.zst", FormatTarZstd},
	{".tzst", FormatTarZstd},
	{".tar", FormatTar},
	{".zip", FormatZip},
}

// Detect returns the format implied by a file name.
func Detect(name string) Format {
	name = strings.ToLower(name)
	for _, s := range suffixes {
		if strings.HasSuffix(name, s.ext) {
			return s.f
		}
	}
	return FormatPlain
}

// Extract unpacks the archive at path into dest.  Files in no known
// archive format are copied into dest unchanged.
func Extract(path, dest string) error {
	if err := os.MkdirAll(dest, 0755); err != nil {
		return err
	}
	format := Detect(path)
	switch format {
	case FormatPlain:
		return copyFile(path, filepath.Join(dest, filepath.Base(path)), 0644)
	case FormatZip:
		return extractZip(path, dest)
	}

	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	var r io.Reader = f
	switch format {
	case FormatTarGz:
		gz, err := gzip.NewReader(f)
		if err != nil {
			return err
		}
		defer gz.Close()
		r = gz
	case FormatTarBz2:
		r = bzip2.NewReader(f)
	case FormatTarXz:
		if r, err = xz.NewReader(f); err != nil {
			return err
		}
	case FormatTarZstd:
		d, err := zstd.NewReader(f)
		if err != nil {
			return err
		}
		defer d.Close()
		r = d
	}
	return extractTar(path, tar.NewReader(r), dest)
}

func extractTar(name string, tr *tar.Reader, dest string) error {
	var links []*tar.Header
	for {
		hdr, err := tr.Next()
		switch err {
		case nil:
		case io.EOF:
			return hardlinks(name, links, dest)
		default:
			return err
		}

		target, err := within(name, dest, hdr.Name)
		if err != nil {
			return err
		}
		mode := os.FileMode(hdr.Mode).Perm()
		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, mode|0700); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := writeFile(target, tr, mode); err != nil {
				return err
			}
		case tar.TypeSymlink:
			if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
				return err
			}
			if err := linkWithin(name, dest, target, hdr); err != nil {
				return err
			}
			os.Remove(target)
			if err := os.Symlink(hdr.Linkname, target); err != nil {
				return err
			}
		case tar.TypeLink:
			links = append(links, hdr)
		default:
			// Devices and fifos have no place in a source tree.
		}
	}
}

func hardlinks(name string, links []*tar.Header, dest string) error {
	for _, hdr := range links {
		target, err := within(name, dest, hdr.Name)
		if err != nil {
			return err
		}
		src, err := within(name, dest, hdr.Linkname)
		if err != nil {
			return err
		}
		os.Remove(target)
		if err := os.Link(src, target); err != nil {
			return err
		}
	}
	return nil
}

func extractZip(path, dest string) error {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return err
	}
	defer zr.Close()

	for _, zf := range zr.File {
		target, err := within(path, dest, zf.Name)
		if err != nil {
			return err
		}
		if zf.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0755); err != nil {
				return err
			}
			continue
		}
		rc, err := zf.Open()
		if err != nil {
			return err
		}
		mode := zf.Mode().Perm()
		if mode == 0 {
			mode = 0644
		}
		err = writeFile(target, rc, mode)
		rc.Close()
		if err != nil {
			return err
		}
	}
	return nil
}

// within resolves member below dest and rejects anything that would
// escape it, either by its name or by passing through a symlink
// extracted earlier.
func within(archive, dest, member string) (string, error) {
	unsafe := ErrUnsafePath{Archive: archive, Member: member}
	if filepath.IsAbs(member) {
		return "", unsafe
	}
	target := filepath.Join(dest, member)
	rel, err := filepath.Rel(dest, target)
	if err != nil || escapes(rel) {
		return "", unsafe
	}

	dir := dest
	for _, part := range strings.Split(filepath.Dir(rel), string(filepath.Separator)) {
		if part == "." {
			continue
		}
		dir = filepath.Join(dir, part)
		fi, err := os.Lstat(dir)
		if errors.Is(err, fs.ErrNotExist) {
			break
		}
		if err != nil {
			return "", err
		}
		if fi.Mode()&os.ModeSymlink != 0 {
			return "", unsafe
		}
	}
	return target, nil
}

// linkWithin rejects symlinks that are absolute or point above dest.
func linkWithin(archive, dest, target string, hdr *tar.Header) error {
	unsafe := ErrUnsafePath{Archive: archive, Member: hdr.Name}
	if filepath.IsAbs(hdr.Linkname) {
		return unsafe
	}
	rel, err := filepath.Rel(dest, filepath.Join(filepath.Dir(target), hdr.Linkname))
	if err != nil || escapes(rel) {
		return unsafe
	}
	return nil
}

func escapes(rel string) bool {
	return rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

func writeFile(target string, r io.Reader, mode os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return err
	}
	os.Remove(target)
	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, r); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

func copyFile(src, dst string, mode os.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	return writeFile(dst, in, mode)
}

// CopyTree copies the directory src into dst, skipping version
// control metadata.  Symlinks are recreated, not followed.
func CopyTree(src, dst string) error {
	return filepath.WalkDir(src, func(p string, de os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if de.IsDir() && de.Name() == ".git" {
			return filepath.SkipDir
		}
		rel, err := filepath.Rel(src, p)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)

		fi, err := de.Info()
		if err != nil {
			return err
		}
		switch {
		case fi.IsDir():
			return os.MkdirAll(target, fi.Mode().Perm()|0700)
		case fi.Mode()&os.ModeSymlink != 0:
			link, err := os.Readlink(p)
			if err != nil {
				return err
			}
			os.Remove(target)
			return os.Symlink(link, target)
		case fi.Mode().IsRegular():
			return copyFile(p, target, fi.Mode().Perm())
		}
		return nil
	})
}

// SourceRoot picks the directory a build should run in.  Archives
// usually unpack into a single top level directory; when that is the
// case it is returned, otherwise dir itself.
func SourceRoot(dir string) (string, error) {
	ents, err := os.ReadDir(dir)
	if err != nil {
		return "", err
	}
	var dirs []os.DirEntry
	for _, e := range ents {
		if strings.HasPrefix(e.Name(), ".") {
			continue
		}
		if !e.IsDir() {
			return dir, nil
		}
		dirs = append(dirs, e)
	}
	if len(dirs) != 1 {
		return dir, nil
	}
	return filepath.Join(dir, dirs[0].Name()), nil
}

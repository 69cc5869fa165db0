package archive

import (
	"archive/tar"
	"bytes"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/hashicorp/go-hclog"
	"github.com/klauspost/compress/zstd"
	"howett.net/plist"

	"github.com/the-maldridge/nport/pkg/types"
)

// PackageName is the file name of a binary package.
func PackageName(name, version string) string {
	return name + "-" + version + ".tar.zst"
}

// Package writes the entries of files, read from below root, into a
// zstd compressed tarball at out with props as its first member.
// Paths in files are relative to root with a leading slash.
func Package(root string, files []types.FileRecord, props Props, out string) error {
	if err := os.MkdirAll(filepath.Dir(out), 0755); err != nil {
		return err
	}
	props.Files = nil
	props.InstalledSize = 0
	for _, f := range files {
		props.Files = append(props.Files, f.Path)
		props.InstalledSize += f.Size
	}

	tmp := out + ".tmp"
	fd, err := os.Create(tmp)
	if err != nil {
		return err
	}
	defer os.Remove(tmp)

	if err := writePackage(fd, root, files, props); err != nil {
		fd.Close()
		return err
	}
	if err := fd.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, out)
}

func writePackage(w io.Writer, root string, files []types.FileRecord, props Props) error {
	zw, err := zstd.NewWriter(w)
	if err != nil {
		return err
	}
	tw := tar.NewWriter(zw)

	buf := &bytes.Buffer{}
	enc := plist.NewEncoderForFormat(buf, plist.XMLFormat)
	enc.Indent("\t")
	if err := enc.Encode(props); err != nil {
		return err
	}
	err = tw.WriteHeader(&tar.Header{
		Name:     PropsFile,
		Mode:     0644,
		Size:     int64(buf.Len()),
		ModTime:  props.BuildDate,
		Typeflag: tar.TypeReg,
	})
	if err != nil {
		return err
	}
	if _, err := tw.Write(buf.Bytes()); err != nil {
		return err
	}

	for _, f := range files {
		if err := addMember(tw, root, f); err != nil {
			return err
		}
	}
	if err := tw.Close(); err != nil {
		return err
	}
	return zw.Close()
}

func addMember(tw *tar.Writer, root string, f types.FileRecord) error {
	hdr := &tar.Header{
		Name:    "." + f.Path,
		Mode:    int64(f.Mode.Perm()),
		Uid:     f.UID,
		Gid:     f.GID,
		ModTime: f.ModTime,
	}
	switch f.Kind {
	case types.KindDir:
		hdr.Typeflag = tar.TypeDir
		hdr.Name += "/"
		return tw.WriteHeader(hdr)
	case types.KindSymlink:
		hdr.Typeflag = tar.TypeSymlink
		hdr.Linkname = f.LinkTarget
		return tw.WriteHeader(hdr)
	}

	hdr.Typeflag = tar.TypeReg
	hdr.Size = f.Size
	if err := tw.WriteHeader(hdr); err != nil {
		return err
	}
	in, err := os.Open(filepath.Join(root, filepath.FromSlash(f.Path)))
	if err != nil {
		return err
	}
	defer in.Close()
	_, err = io.CopyN(tw, in, f.Size)
	return err
}

// ReadProps returns the metadata of the package at path.
func ReadProps(path string) (Props, error) {
	var props Props
	f, err := os.Open(path)
	if err != nil {
		return props, err
	}
	defer f.Close()

	d, err := zstd.NewReader(f)
	if err != nil {
		return props, err
	}
	defer d.Close()

	tarchive := tar.NewReader(d)
	for {
		header, err := tarchive.Next()
		switch err {
		case nil:
		case io.EOF:
			return props, ErrNoProps{Path: path}
		default:
			return props, err
		}

		if header.Name != PropsFile {
			continue
		}
		buf := &bytes.Buffer{}
		if _, err := buf.ReadFrom(tarchive); err != nil {
			return props, err
		}
		dec := plist.NewDecoder(bytes.NewReader(buf.Bytes()))
		err = dec.Decode(&props)
		return props, err
	}
}

// NewIndex creates an empty Index.
func NewIndex(l hclog.Logger) *Index {
	return &Index{
		l:        l.Named("index"),
		packages: make(map[string]*Entry),
	}
}

// Load reads the metadata of every package in dir.  Packages that
// can't be read are logged and skipped.
func (idx *Index) Load(dir string) error {
	ents, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	for _, e := range ents {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".tar.zst") {
			continue
		}
		p := filepath.Join(dir, e.Name())
		props, err := ReadProps(p)
		if err != nil {
			idx.l.Warn("Skipping unreadable package", "path", p, "error", err)
			continue
		}
		if cur, ok := idx.packages[props.Name]; ok && cur.BuildDate.After(props.BuildDate) {
			continue
		}
		idx.packages[props.Name] = &Entry{Props: props, Path: p}
	}
	return nil
}

// Count is how many distinct packages the index knows about.
func (idx *Index) Count() int {
	return len(idx.packages)
}

// Get returns the newest package named name.
func (idx *Index) Get(name string) (*Entry, bool) {
	e, ok := idx.packages[name]
	return e, ok
}

// Names lists the indexed packages in sorted order.
func (idx *Index) Names() []string {
	out := make([]string, 0, len(idx.packages))
	for n := range idx.packages {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

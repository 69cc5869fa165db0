package archive

import (
	"time"

	"github.com/hashicorp/go-hclog"
)

// PropsFile is the metadata member of a binary package.
const PropsFile = "props.plist"

// Props describes a binary package.
type Props struct {
	Name          string    `plist:"pkgname"`
	Version       string    `plist:"version"`
	Description   string    `plist:"short_desc,omitempty"`
	Requires      []string  `plist:"run_depends,omitempty"`
	Provides      []string  `plist:"provides,omitempty"`
	Files         []string  `plist:"files"`
	InstalledSize int64     `plist:"installed_size"`
	BuildDate     time.Time `plist:"build_date"`
	Degraded      bool      `plist:"degraded,omitempty"`
}

// Index is a listing of the binary packages in a directory.
type Index struct {
	l hclog.Logger

	packages map[string]*Entry
}

// Entry is one package of an Index.
type Entry struct {
	Props
	Path string
}

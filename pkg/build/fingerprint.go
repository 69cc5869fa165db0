package build

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"

	"github.com/the-maldridge/nport/pkg/types"
)

// record is what is kept for a stage that completed.
type record struct {
	Fingerprint string
	Artifact    json.RawMessage `json:",omitempty"`
}

func cacheKey(desc *types.PackageDescriptor, s types.Stage) []byte {
	return []byte("fp/" + desc.Name + "/" + desc.Version + "/" + string(s))
}

func (p *Pipeline) upToDate(t *Transaction, st stage, fp string) bool {
	raw, err := p.cache.Get(cacheKey(t.Desc, st.name))
	if err != nil || raw == nil {
		return false
	}
	var rec record
	if err := json.Unmarshal(raw, &rec); err != nil || rec.Fingerprint != fp {
		return false
	}
	if st.restore == nil {
		return true
	}
	if err := st.restore(t, rec.Artifact); err != nil {
		p.l.Debug("Cached stage result unusable", "package", t.Desc.Name, "stage", st.name, "error", err)
		return false
	}
	return true
}

func (p *Pipeline) remember(t *Transaction, st stage, fp string) {
	rec := record{Fingerprint: fp}
	if st.save != nil {
		b, err := json.Marshal(st.save(t))
		if err != nil {
			p.l.Warn("Stage result not cacheable", "stage", st.name, "error", err)
			return
		}
		rec.Artifact = b
	}
	b, err := json.Marshal(rec)
	if err != nil {
		return
	}
	if err := p.cache.Put(cacheKey(t.Desc, st.name), b); err != nil {
		p.l.Warn("Could not store fingerprint", "stage", st.name, "error", err)
	}
}

func (p *Pipeline) forget(desc *types.PackageDescriptor, stages []stage) {
	for _, st := range stages {
		if err := p.cache.Del(cacheKey(desc, st.name)); err != nil {
			p.l.Warn("Could not drop fingerprint", "stage", st.name, "error", err)
		}
	}
}

func (p *Pipeline) purge(desc *types.PackageDescriptor) {
	p.forget(desc, p.stages())
}

func digest(parts ...string) string {
	h := sha256.New()
	for _, s := range parts {
		fmt.Fprintf(h, "%d:%s\n", len(s), s)
	}
	return hex.EncodeToString(h.Sum(nil))
}

func sortedEnv(env map[string]string) []string {
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}

// treeDigest lists every entry below dir with its size and mtime.
func treeDigest(dir string) (string, error) {
	var parts []string
	err := filepath.WalkDir(dir, func(p string, de fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		fi, err := de.Info()
		if err != nil {
			return err
		}
		rel, _ := filepath.Rel(dir, p)
		parts = append(parts, fmt.Sprintf("%s %o %d %d", rel, fi.Mode(), fi.Size(), fi.ModTime().UnixNano()))
		return nil
	})
	if err != nil {
		return "", err
	}
	return digest(parts...), nil
}

package install

// WithRoot sets the directory packages are installed below.
func WithRoot(root string) Option {
	return func(i *Installer) {
		i.root = root
	}
}

// WithJournal sets the directory journals and backups are kept in.
func WithJournal(dir string) Option {
	return func(i *Installer) {
		i.journal = dir
	}
}

// WithSpaceFactor sets how many times the package size must be free
// before installing.
func WithSpaceFactor(f float64) Option {
	return func(i *Installer) {
		i.spaceFactor = f
	}
}

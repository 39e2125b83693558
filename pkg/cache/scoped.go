package cache

// ScopedKeyer prefixes every key of an inner [Keyer]. The CLI scopes keys by
// index URL so that two indexes serving the same project name never share
// entries.
//
//	pypi := NewScopedKeyer(nil, "https://pypi.org/simple|")
type ScopedKeyer struct {
	inner  Keyer
	prefix string
}

// NewScopedKeyer creates a keyer with a prefix. A nil inner keyer means
// [DefaultKeyer].
func NewScopedKeyer(inner Keyer, prefix string) Keyer {
	if inner == nil {
		inner = NewDefaultKeyer()
	}
	return &ScopedKeyer{inner: inner, prefix: prefix}
}

func (k *ScopedKeyer) HTTPKey(namespace, key string) string {
	return k.prefix + k.inner.HTTPKey(namespace, key)
}

func (k *ScopedKeyer) MetadataKey(project, filename string) string {
	return k.prefix + k.inner.MetadataKey(project, filename)
}

func (k *ScopedKeyer) RevisionKey(repo, ref string) string {
	return k.prefix + k.inner.RevisionKey(repo, ref)
}

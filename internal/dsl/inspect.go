package dsl

// PageInspector is the page-side collaborator the atoms query. The real
// implementation drives a browser; tests use fakes. Every failure it
// returns is treated as "assertion false" by the atoms, never as a
// crash.
type PageInspector interface {
	// LocatorCount returns how many elements match selector.
	LocatorCount(selector string) (int, error)
	// InnerText returns the text of the first match; it fails when the
	// element is missing.
	InnerText(selector string) (string, error)
	// GetAttribute returns an attribute value; ok is false when the
	// attribute is absent.
	GetAttribute(selector, name string) (value string, ok bool, err error)
	// CurrentURL returns the page URL.
	CurrentURL() (string, error)
}

// MemoryReader resolves mem() atoms against the benchmark memory.
type MemoryReader interface {
	GetMemory(key string, def interface{}) interface{}
}

// EnvQuerier resolves json() atoms. The channel selects a logical data
// source; path uses the store's dot/bracket addressing.
type EnvQuerier interface {
	Query(channel, path string) (interface{}, error)
}

// nullPage backs the restricted precondition sandbox: no page is
// attached, so page atoms see an empty document.
type nullPage struct{}

func (nullPage) LocatorCount(string) (int, error)                  { return 0, nil }
func (nullPage) InnerText(string) (string, error)                  { return "", nil }
func (nullPage) GetAttribute(string, string) (string, bool, error) { return "", false, nil }
func (nullPage) CurrentURL() (string, error)                       { return "", nil }

// NullPage returns a PageInspector for contexts with no live page.
func NullPage() PageInspector {
	return nullPage{}
}

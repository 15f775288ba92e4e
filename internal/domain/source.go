package domain

// Source identifies where a blacklist entry was collected from.
type Source string

const (
	SourceREGTECH  Source = "REGTECH"
	SourceSECUDIUM Source = "SECUDIUM"
	SourceSYSTEM   Source = "SYSTEM"
)

func (s Source) Valid() bool {
	switch s {
	case SourceREGTECH, SourceSECUDIUM, SourceSYSTEM:
		return true
	}
	return false
}

// CollectableSources lists the sources with a collector implementation.
// SYSTEM entries are operator-seeded and never collected.
func CollectableSources() []Source {
	return []Source{SourceREGTECH, SourceSECUDIUM}
}

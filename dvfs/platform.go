package dvfs

// Platform describes one DVFS domain: its candidate operating frequencies and
// the fixed frequencies its clock topology requires.
type Platform struct {
	Name string
	// Candidates are the platform's operating frequencies in kHz, highest
	// first. The hardware reference table must match them index for index.
	Candidates []uint32
	MinFreq    uint32
	MaxFreq    uint32
	// SwitchFreq is the intermediate rate transitions route through when
	// they cross it.
	SwitchFreq uint32
	// RebootFreq is the ceiling applied while shutting down.
	RebootFreq  uint32
	MainClock   string
	SwitchClock string
}

// MIF is the memory interface domain.
var MIF = Platform{
	Name: "mif",
	Candidates: []uint32{
		1794000, 1539000, 1352000, 1014000, 845000,
		676000, 546000, 451000, 338000, 273000,
	},
	MinFreq:     273000,
	MaxFreq:     1794000,
	SwitchFreq:  667000,
	RebootFreq:  900000,
	MainClock:   "dvfs_mif",
	SwitchClock: "dvfs_mif_sw",
}

// normalize fills in the bounds and clock names a Platform left empty.
func normalize(p Platform) Platform {
	n := p
	n.Candidates = append([]uint32{}, p.Candidates...)
	if len(n.Candidates) > 0 {
		if n.MaxFreq == 0 {
			n.MaxFreq = n.Candidates[0]
		}
		if n.MinFreq == 0 {
			n.MinFreq = n.Candidates[len(n.Candidates)-1]
		}
	}
	if n.RebootFreq == 0 {
		n.RebootFreq = n.MaxFreq
	}
	if n.MainClock == "" {
		n.MainClock = "dvfs_" + n.Name
	}
	if n.SwitchClock == "" {
		n.SwitchClock = n.MainClock + "_sw"
	}
	return n
}

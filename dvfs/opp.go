package dvfs

import (
	"fmt"

	"github.com/platinasystems/log"
)

// OperatingPoint is a frequency in kHz and the voltage in uV that's safe to
// run it at.
type OperatingPoint struct {
	Freq uint32
	Volt uint32
}

// Table is the validated set of operating points for a domain, highest
// frequency first. Entries outside [Min, Max] stay in the table, disabled,
// so indices are stable. A Table is never changed after Build.
type Table struct {
	opps       []OperatingPoint
	disabled   []bool
	min, max   uint32
	switchFreq uint32
	switchVolt uint32
}

// Build checks the hardware reference table against the platform's
// candidates and clamps the platform bounds to what the hardware allows.
func Build(plat Platform, ref Reference) (*Table, error) {
	plat = normalize(plat)
	cand := plat.Candidates
	if len(cand) == 0 {
		return nil, fmt.Errorf("%w: no candidate frequencies", ErrTableMismatch)
	}
	for i := 1; i < len(cand); i++ {
		if cand[i] >= cand[i-1] {
			return nil, fmt.Errorf("%w: candidate %d (%dkHz) not below %dkHz", ErrTableMismatch, i, cand[i], cand[i-1])
		}
	}

	asv, err := ref.ASVTable()
	if err != nil {
		return nil, fmt.Errorf("%w: couldn't get ASV table: %v", ErrHardwareQuery, err)
	}
	if len(asv) == 0 {
		return nil, fmt.Errorf("%w: empty ASV table", ErrHardwareQuery)
	}
	if len(asv) != len(cand) {
		return nil, fmt.Errorf("%w: ASV table has %d entries, want %d", ErrTableMismatch, len(asv), len(cand))
	}
	t := &Table{
		opps:       make([]OperatingPoint, len(cand)),
		disabled:   make([]bool, len(cand)),
		switchFreq: plat.SwitchFreq,
	}
	for i, f := range cand {
		if asv[i].Freq != f {
			return nil, fmt.Errorf("%w: index %d is %dkHz, want %dkHz", ErrTableMismatch, i, asv[i].Freq, f)
		}
		t.opps[i] = asv[i]
	}

	t.switchVolt, err = switchVoltFloor(t.opps, plat.SwitchFreq)
	if err != nil {
		return nil, err
	}
	log.Printf("info", "%s: switch voltage %duV at %dkHz", plat.Name, t.switchVolt, plat.SwitchFreq)

	t.min, t.max, err = t.clamp(plat, ref)
	if err != nil {
		return nil, err
	}
	for i, o := range t.opps {
		t.disabled[i] = o.Freq > t.max || o.Freq < t.min
	}
	log.Printf("info", "%s: min %dkHz, max %dkHz", plat.Name, t.min, t.max)
	return t, nil
}

// switchVoltFloor finds the voltage of the lowest entry at or above the
// switch frequency. opps must be in descending order.
func switchVoltFloor(opps []OperatingPoint, switchFreq uint32) (uint32, error) {
	for i, o := range opps {
		if o.Freq >= switchFreq {
			continue
		}
		if i == 0 {
			return 0, fmt.Errorf("%w: highest entry %dkHz is below switch frequency %dkHz", ErrNoSwitchVoltage, o.Freq, switchFreq)
		}
		return opps[i-1].Volt, nil
	}
	// Nothing below the switch frequency, so no target ever needs the floor.
	return opps[len(opps)-1].Volt, nil
}

// clamp intersects the platform bounds with the hardware's, snapping
// hardware limits to the nearest entry inside them.
func (t *Table) clamp(plat Platform, ref Reference) (min, max uint32, err error) {
	min, max = plat.MinFreq, plat.MaxFreq

	hwMax, err := ref.MaxFreq()
	if err != nil {
		return 0, 0, fmt.Errorf("%w: couldn't get max frequency: %v", ErrHardwareQuery, err)
	}
	if hwMax == 0 {
		return 0, 0, fmt.Errorf("%w: max frequency is 0", ErrHardwareQuery)
	}
	log.Printf("info", "%s: max %dkHz, hardware max %dkHz", plat.Name, max, hwMax)
	if hwMax < max {
		i := t.floor(hwMax, false)
		if i < 0 {
			return 0, 0, fmt.Errorf("%w: nothing at or below hardware max %dkHz", ErrNoSuchOperatingPoint, hwMax)
		}
		max = t.opps[i].Freq
	}

	hwMin, err := ref.MinFreq()
	if err != nil {
		return 0, 0, fmt.Errorf("%w: couldn't get min frequency: %v", ErrHardwareQuery, err)
	}
	if hwMin == 0 {
		return 0, 0, fmt.Errorf("%w: min frequency is 0", ErrHardwareQuery)
	}
	log.Printf("info", "%s: min %dkHz, hardware min %dkHz", plat.Name, min, hwMin)
	if hwMin > min {
		i := t.ceil(hwMin, false)
		if i < 0 {
			return 0, 0, fmt.Errorf("%w: nothing at or above hardware min %dkHz", ErrNoSuchOperatingPoint, hwMin)
		}
		min = t.opps[i].Freq
	}

	if min > max {
		return 0, 0, fmt.Errorf("%w: min %dkHz above max %dkHz", ErrNoSuchOperatingPoint, min, max)
	}
	return min, max, nil
}

// floor returns the index of the highest entry at or below freq, or -1.
func (t *Table) floor(freq uint32, enabledOnly bool) int {
	for i, o := range t.opps {
		if o.Freq <= freq && (!enabledOnly || !t.disabled[i]) {
			return i
		}
	}
	return -1
}

// ceil returns the index of the lowest entry at or above freq, or -1.
func (t *Table) ceil(freq uint32, enabledOnly bool) int {
	for i := len(t.opps) - 1; i >= 0; i-- {
		if t.opps[i].Freq >= freq && (!enabledOnly || !t.disabled[i]) {
			return i
		}
	}
	return -1
}

func (t *Table) Len() int { return len(t.opps) }

func (t *Table) At(i int) OperatingPoint { return t.opps[i] }

func (t *Table) Enabled(i int) bool { return i >= 0 && i < len(t.opps) && !t.disabled[i] }

func (t *Table) Min() uint32 { return t.min }

func (t *Table) Max() uint32 { return t.max }

func (t *Table) SwitchFreq() uint32 { return t.switchFreq }

// SwitchVolt is the fallback voltage for the switch step when the target
// is below the switch frequency.
func (t *Table) SwitchVolt() uint32 { return t.switchVolt }

// Index returns the index of freq, enabled or not.
func (t *Table) Index(freq uint32) (int, bool) {
	for i, o := range t.opps {
		if o.Freq == freq {
			return i, true
		}
	}
	return -1, false
}

// Floor returns the index of the highest enabled entry at or below freq.
func (t *Table) Floor(freq uint32) (int, bool) {
	i := t.floor(freq, true)
	return i, i >= 0
}

// Ceil returns the index of the lowest enabled entry at or above freq.
func (t *Table) Ceil(freq uint32) (int, bool) {
	i := t.ceil(freq, true)
	return i, i >= 0
}

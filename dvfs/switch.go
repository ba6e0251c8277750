package dvfs

// NeedsSwitch reports whether moving from one frequency to another crosses
// the switch frequency. Moves that start or end exactly on it go direct.
func (t *Table) NeedsSwitch(from, to uint32) bool {
	sw := t.switchFreq
	return (from < sw && to > sw) || (from > sw && to < sw)
}

// PlanSwitch picks the operating point for the intermediate switch step of a
// move from one point to another. The frequency is always the switch
// frequency; the voltage is the lowest one that still covers every rate
// the move visits.
func (t *Table) PlanSwitch(from, to OperatingPoint) OperatingPoint {
	sw := OperatingPoint{Freq: t.switchFreq}
	if t.switchFreq >= from.Freq {
		if to.Freq >= t.switchFreq {
			sw.Volt = to.Volt
		} else {
			sw.Volt = t.switchVolt
		}
	} else {
		if from.Freq >= to.Freq {
			sw.Volt = from.Volt
		} else {
			sw.Volt = to.Volt
		}
	}
	return sw
}

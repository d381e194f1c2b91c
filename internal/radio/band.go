package radio

// bandEdge is one amateur allocation. Edges are inclusive.
type bandEdge struct {
	name string
	low  int64
	high int64
}

// bandPlan covers the allocations a logging station works; frequencies
// outside every range derive an empty band label rather than guessing.
var bandPlan = []bandEdge{
	{"2200m", 135_700, 137_800},
	{"630m", 472_000, 479_000},
	{"160m", 1_800_000, 2_000_000},
	{"80m", 3_500_000, 4_000_000},
	{"60m", 5_250_000, 5_450_000},
	{"40m", 7_000_000, 7_300_000},
	{"30m", 10_100_000, 10_150_000},
	{"20m", 14_000_000, 14_350_000},
	{"17m", 18_068_000, 18_168_000},
	{"15m", 21_000_000, 21_450_000},
	{"12m", 24_890_000, 24_990_000},
	{"10m", 28_000_000, 29_700_000},
	{"6m", 50_000_000, 54_000_000},
	{"4m", 70_000_000, 70_500_000},
	{"2m", 144_000_000, 148_000_000},
	{"70cm", 420_000_000, 450_000_000},
	{"23cm", 1_240_000_000, 1_300_000_000},
}

// BandFor derives the band label for a frequency, or "" when the
// frequency falls outside every known allocation.
func BandFor(hz int64) string {
	for _, b := range bandPlan {
		if hz >= b.low && hz <= b.high {
			return b.name
		}
	}
	return ""
}

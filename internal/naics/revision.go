package naics

// Revision names the NAICS vintage a Census dataset is coded against. The value doubles
// as the API variable name for the industry code column.
type Revision string

const (
	NAICS1997 Revision = "NAICS1997"
	NAICS2002 Revision = "NAICS2002"
	NAICS2007 Revision = "NAICS2007"
	NAICS2012 Revision = "NAICS2012"
	NAICS2017 Revision = "NAICS2017"
)

// RevisionForYear maps a data year to the NAICS revision its datasets use.
func RevisionForYear(year int) Revision {
	switch {
	case year >= 2000 && year <= 2002:
		return NAICS1997
	case year >= 2003 && year <= 2007:
		return NAICS2002
	case year >= 2008 && year <= 2011:
		return NAICS2007
	case year >= 2012 && year <= 2016:
		return NAICS2012
	}
	return NAICS2017
}

// YearRevision is one row of the year dimension.
type YearRevision struct {
	Year     int
	Revision Revision
}

// YearRange lists the revision for every year in [start, end].
func YearRange(start, end int) []YearRevision {
	if end < start {
		return nil
	}
	out := make([]YearRevision, 0, end-start+1)
	for y := start; y <= end; y++ {
		out = append(out, YearRevision{Year: y, Revision: RevisionForYear(y)})
	}
	return out
}

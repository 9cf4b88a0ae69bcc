package member

import (
	"regexp"
	"strings"
)

var subscriberPrefix = regexp.MustCompile(`^(R\d{8})`)

// stateIDs maps a HIOS state code to its plan dimension key.
var stateIDs = map[string]int{
	"AR": 54, "AZ": 101, "CA": 104, "FL": 55, "GA": 56, "IL": 76,
	"IN": 57, "KS": 74, "KY": 221, "LA": 70, "MA": 58, "MI": 184,
	"MO": 75, "MS": 59, "NC": 136, "NE": 223, "NH": 69, "NJ": 222,
	"NM": 213, "NV": 124, "OH": 60, "OK": 224, "PA": 138, "SC": 71,
	"TN": 137, "TX": 61, "WA": 62, "WI": 72, "WC": 220,
}

// HIOS is the decoded form of a plan HIOS id.
type HIOS struct {
	StateCode string `json:"stateCode"`
	PlanDimCK int    `json:"planDimCK,omitempty"` // zero when the state has no key
}

// DecodeHIOS reads the state code from characters 5-6 of a HIOS id.
func DecodeHIOS(hios string) HIOS {
	if len(hios) < 7 {
		return HIOS{}
	}
	state := hios[5:7]
	return HIOS{StateCode: state, PlanDimCK: stateIDs[state]}
}

// RefID returns the first ref id from source, or "".
func RefID(refs []Ref, source string) string {
	for _, r := range refs {
		if r.Source == source {
			return r.RefID
		}
	}
	return ""
}

// IssuerSubscriberID derives the payment-side subscriber id for an enriched member.
// Explicit subscriber refs win; otherwise the R######## prefix of the abs or
// amisys id is used.
func IssuerSubscriberID(m *Member) (string, error) {
	if id := RefID(m.Refs, SourceIssuerSubscriberID); id != "" {
		return id, nil
	}
	if id := RefID(m.Refs, SourcePOSubscriberID); id != "" {
		return id, nil
	}
	for _, src := range []string{SourceABS, SourceAmisys} {
		if match := subscriberPrefix.FindStringSubmatch(RefID(m.Refs, src)); match != nil {
			return match[1], nil
		}
	}
	return "", &NotFoundError{Identifier: m.ID, Reason: "cannot derive issuer subscriber id"}
}

// ResourceURL joins directory URL parts. A version without a leading "v" gets
// one; an empty version is left out.
func ResourceURL(host, basePath, version, endpoint string) string {
	if version == "" {
		return strings.Join([]string{host, basePath, endpoint}, "/")
	}
	if !strings.HasPrefix(version, "v") {
		version = "v" + version
	}
	return strings.Join([]string{host, basePath, version, endpoint}, "/")
}

func normalizeAmisys(id string) string {
	return strings.ReplaceAll(id, "-", "")
}

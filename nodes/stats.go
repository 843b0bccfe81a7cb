package nodes

import "math"

// NodeStats aggregate figures for the nodes page
type NodeStats struct {
	TotalNodes    int `json:"totalNodes"`
	OnlineNodes   int `json:"onlineNodes"`
	RepeaterNodes int `json:"repeaterNodes"`
}

// CalculateNodeStats compute aggregate node figures
func CalculateNodeStats(records []NodeRecord) NodeStats {
	stats := NodeStats{TotalNodes: len(records)}
	for _, record := range records {
		if record.IsOnline {
			stats.OnlineNodes++
		}
		if record.MeshRole == "repeater" {
			stats.RepeaterNodes++
		}
	}
	return stats
}

// CoverageArea approximate the network coverage area in km².
//
// Bounding box over all located nodes; one degree of latitude is ~111 km,
// one degree of longitude shrinks with cos(latitude).
func CoverageArea(records []NodeRecord) int {
	minLat, maxLat := math.Inf(1), math.Inf(-1)
	minLng, maxLng := math.Inf(1), math.Inf(-1)
	located := 0
	for _, record := range records {
		if record.Location.Lat == nil || record.Location.Lng == nil {
			continue
		}
		located++
		minLat = math.Min(minLat, *record.Location.Lat)
		maxLat = math.Max(maxLat, *record.Location.Lat)
		minLng = math.Min(minLng, *record.Location.Lng)
		maxLng = math.Max(maxLng, *record.Location.Lng)
	}
	if located == 0 {
		return 0
	}

	latDiffKM := (maxLat - minLat) * 111
	avgLat := (minLat + maxLat) / 2
	lngDiffKM := (maxLng - minLng) * 111 * math.Abs(math.Cos(avgLat*math.Pi/180))

	area := int(math.Round(latDiffKM * lngDiffKM))
	if area < 1 {
		area = 1
	}
	return area
}

package nodes

import "fmt"

// NodeLocation geographic placement of a node
type NodeLocation struct {
	Lat         *float64 `json:"lat"`
	Lng         *float64 `json:"lng"`
	Description string   `json:"description"`
}

// NodeRecord one node of the mesh network, in the shape the page renderers
// and the data API consume
type NodeRecord struct {
	ID        string       `json:"id" validate:"required"`
	PublicKey string       `json:"publicKey"`
	Name      string       `json:"name"`
	MemberID  string       `json:"memberId"`
	Area      string       `json:"area"`
	Location  NodeLocation `json:"location"`
	Hardware  string       `json:"hardware"`
	Antenna   string       `json:"antenna"`
	Elevation float64      `json:"elevation"`
	ShowOnMap bool         `json:"showOnMap"`
	IsPublic  bool         `json:"isPublic"`
	IsOnline  bool         `json:"isOnline"`
	IsTesting bool         `json:"isTesting"`
	MeshRole  string       `json:"meshRole"`
	LastSeen  string       `json:"lastSeen,omitempty"`
	FirstSeen string       `json:"firstSeen,omitempty"`
	Channels  []string     `json:"channels"`
}

// upstreamNodeLocation location block within the upstream tag set
type upstreamNodeLocation struct {
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
}

// upstreamNodeTags node metadata attached by operators in the upstream inventory
type upstreamNodeTags struct {
	NodeID              string                `json:"node_id"`
	FriendlyName        string                `json:"friendly_name"`
	MemberID            string                `json:"member_id"`
	Area                string                `json:"area"`
	Location            *upstreamNodeLocation `json:"location"`
	LocationDescription string                `json:"location_description"`
	Hardware            string                `json:"hardware"`
	Antenna             string                `json:"antenna"`
	Elevation           float64               `json:"elevation"`
	ShowOnMap           bool                  `json:"show_on_map"`
	IsPublic            bool                  `json:"is_public"`
	IsOnline            bool                  `json:"is_online"`
	IsTesting           bool                  `json:"is_testing"`
	MeshRole            string                `json:"mesh_role"`
}

// upstreamNode one record of the upstream inventory API response
type upstreamNode struct {
	Name      string            `json:"name"`
	PublicKey string            `json:"public_key"`
	FirstSeen string            `json:"first_seen"`
	LastSeen  string            `json:"last_seen"`
	Tags      *upstreamNodeTags `json:"tags"`
}

// upstreamNodeList the upstream inventory API response envelope
type upstreamNodeList struct {
	Nodes  []upstreamNode `json:"nodes"`
	Error  string         `json:"error,omitempty"`
	Detail string         `json:"detail,omitempty"`
}

// transformUpstreamNode convert one upstream record into a NodeRecord.
//
// Records carrying no tag metadata, or no usable identity, yield nil. This is
// a data-quality filter, not an error.
func transformUpstreamNode(apiNode upstreamNode) *NodeRecord {
	tags := apiNode.Tags
	if tags == nil {
		return nil
	}

	nodeID := tags.NodeID
	if nodeID == "" {
		nodeID = apiNode.Name
	}
	if nodeID == "" {
		return nil
	}

	name := tags.FriendlyName
	if name == "" {
		name = apiNode.Name
	}
	if name == "" {
		name = nodeID
	}

	hardware := tags.Hardware
	if hardware == "" {
		hardware = "Unknown"
	}
	meshRole := tags.MeshRole
	if meshRole == "" {
		meshRole = "unknown"
	}

	location := NodeLocation{Description: tags.LocationDescription}
	if tags.Location != nil {
		location.Lat = tags.Location.Latitude
		location.Lng = tags.Location.Longitude
	}

	return &NodeRecord{
		ID:        nodeID,
		PublicKey: apiNode.PublicKey,
		Name:      name,
		MemberID:  tags.MemberID,
		Area:      tags.Area,
		Location:  location,
		Hardware:  hardware,
		Antenna:   tags.Antenna,
		Elevation: tags.Elevation,
		ShowOnMap: tags.ShowOnMap,
		IsPublic:  tags.IsPublic,
		IsOnline:  tags.IsOnline,
		IsTesting: tags.IsTesting,
		MeshRole:  meshRole,
		LastSeen:  apiNode.LastSeen,
		FirstSeen: apiNode.FirstSeen,
		Channels:  []string{},
	}
}

// FindNode locate a node by area and short node ID. Both the fully qualified
// form "<id>.<area>.<domain>" and the bare ID are accepted.
func FindNode(records []NodeRecord, area, nodeID, domain string) *NodeRecord {
	fullNodeID := fmt.Sprintf("%s.%s.%s", nodeID, area, domain)
	for idx, record := range records {
		if record.ID == fullNodeID || record.ID == nodeID {
			return &records[idx]
		}
	}
	return nil
}

// PublicOnly filter the collection down to publicly listed nodes
func PublicOnly(records []NodeRecord) []NodeRecord {
	result := make([]NodeRecord, 0, len(records))
	for _, record := range records {
		if record.IsPublic {
			result = append(result, record)
		}
	}
	return result
}

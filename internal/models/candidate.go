package models

// EntityTypeID is the closed set of entity type tags the extractor may
// assign. Keeping it an enum makes exhaustive handling a compile-time
// property instead of an open-ended string comparison.
type EntityTypeID int

const (
	EntityTypeConcept EntityTypeID = iota
	EntityTypePerson
	EntityTypeOrganization
	EntityTypeTechnology
	EntityTypeLocation
	EntityTypeEvent
)

var entityTypeNames = map[EntityTypeID]string{
	EntityTypeConcept:      "Concept",
	EntityTypePerson:       "Person",
	EntityTypeOrganization: "Organization",
	EntityTypeTechnology:   "Technology",
	EntityTypeLocation:     "Location",
	EntityTypeEvent:        "Event",
}

// String returns the label form used on graph nodes.
func (t EntityTypeID) String() string {
	if name, ok := entityTypeNames[t]; ok {
		return name
	}
	return entityTypeNames[EntityTypeConcept]
}

// ParseEntityType maps an extraction-supplied type string onto the enum.
// Unknown types fall back to Concept rather than failing the candidate.
func ParseEntityType(s string) EntityTypeID {
	for id, name := range entityTypeNames {
		if name == s {
			return id
		}
	}
	return EntityTypeConcept
}

// CandidateEntity is an extraction-only (name, type) pair. Candidates are
// resolved into MemoryObjects by deduplication before anything is persisted.
type CandidateEntity struct {
	Name   string
	TypeID EntityTypeID
}

// CandidateRelation is an extraction-only edge proposal. SourceID and
// TargetID are 1-based positions into the resolved entity batch.
type CandidateRelation struct {
	SourceID     int
	TargetID     int
	RelationType string
	Fact         string
	ValidAt      string
	InvalidAt    string
}

// ResolvedEntity pairs a candidate with the graph identity it resolved to.
type ResolvedEntity struct {
	UUID   string
	Name   string
	TypeID EntityTypeID
	IsNew  bool
}

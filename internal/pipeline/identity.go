package pipeline

import (
	"layerlex/internal/domain"
)

// IdentityFromExtraction builds an identity from the canonical components of
// an extraction. A field counts as a component when its rule declared a kind
// or its name is one. Other fields become ordered attributes, sorted by field
// name. ok is false when the extraction carries
// no canonical component at all.
func IdentityFromExtraction(res *domain.ExtractionResult) (id domain.CanonicalIdentity, ok bool) {
	if res == nil {
		return id, false
	}
	for _, field := range res.FieldNames() {
		value := res.Fields[field]
		switch res.KindOf(field) {
		case domain.ComponentDiscipline:
			id.Discipline = value
		case domain.ComponentCategory:
			id.Category = value
		case domain.ComponentType:
			id.Type = value
		case domain.ComponentPhase:
			id.Phase = value
		case domain.ComponentGeometry:
			id.Geometry = value
		default:
			id.Attributes = append(id.Attributes, value)
		}
	}
	hasComponent := id.Discipline != "" || id.Category != "" || id.Type != "" || id.Phase != "" || id.Geometry != ""
	if !hasComponent {
		return domain.CanonicalIdentity{}, false
	}
	return id, true
}

package fhir

// Summary modes accepted by _summary.
const (
	SummaryTrue  = "true"
	SummaryText  = "text"
	SummaryData  = "data"
	SummaryCount = "count"
	SummaryFalse = "false"
)

// TagSubsetted marks resources returned with only part of their content.
const TagSubsetted = "SUBSETTED"

// MandatoryElements are always included regardless of _summary filters.
var MandatoryElements = map[string]bool{
	"resourceType": true,
	"id":           true,
	"meta":         true,
}

// SummaryElements defines which elements to include for _summary=true per resource type.
// If a resource type is not listed, a default set is used.
var SummaryElements = map[string][]string{
	"Patient": {"identifier", "active", "name", "gender", "birthDate", "address",
		"managingOrganization", "link"},
	"Observation": {"status", "category", "code", "subject", "encounter",
		"effectiveDateTime", "effectivePeriod", "issued", "valueQuantity",
		"valueCodeableConcept", "valueString", "dataAbsentReason", "interpretation"},
	"Condition": {"clinicalStatus", "verificationStatus", "category", "severity",
		"code", "subject", "encounter", "onsetDateTime", "abatementDateTime", "recordedDate"},
	"Encounter": {"identifier", "status", "class", "type", "subject", "participant",
		"period", "reasonCode", "serviceProvider"},
	"MedicationRequest": {"status", "intent", "medicationCodeableConcept",
		"medicationReference", "subject", "encounter", "authoredOn", "requester"},
	"AllergyIntolerance": {"clinicalStatus", "verificationStatus", "type", "category",
		"criticality", "code", "patient", "onsetDateTime", "recordedDate"},
	"Procedure": {"status", "code", "subject", "encounter", "performedDateTime",
		"performedPeriod"},
}

// DefaultSummaryElements is used when a resource type doesn't have specific summary definitions.
var DefaultSummaryElements = []string{
	"identifier", "status", "code", "subject", "patient", "date", "category",
}

// ApplySummary applies _summary=true filtering to a fetched resource. The
// other modes are handled by the storage projection and pass through.
func ApplySummary(resource map[string]interface{}, summaryMode string) map[string]interface{} {
	if summaryMode != SummaryTrue || resource == nil {
		return resource
	}

	resourceType, _ := resource["resourceType"].(string)
	summaryFields := SummaryElements[resourceType]
	if summaryFields == nil {
		summaryFields = DefaultSummaryElements
	}
	allowed := make(map[string]bool)
	for k := range MandatoryElements {
		allowed[k] = true
	}
	for _, f := range summaryFields {
		allowed[f] = true
	}
	result := make(map[string]interface{})
	for k, v := range resource {
		if allowed[k] {
			result[k] = v
		}
	}
	addSubsettedTag(result)
	return result
}

// addSubsettedTag adds the SUBSETTED meta tag to indicate partial content.
// The meta map is copied so the stored document is never mutated.
func addSubsettedTag(resource map[string]interface{}) {
	meta := make(map[string]interface{})
	if existing, ok := resource["meta"].(map[string]interface{}); ok {
		for k, v := range existing {
			meta[k] = v
		}
	}

	var tags []interface{}
	if existing, ok := meta["tag"].([]interface{}); ok {
		tags = append(tags, existing...)
	}
	tags = append(tags, TagSubsetted)
	meta["tag"] = tags
	resource["meta"] = meta
}

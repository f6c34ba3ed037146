package intake

import (
	"encoding/json"

	"github.com/AltairaLabs/IntakeKit/types"
)

// Tool names, one per intake step.
const (
	ToolVerifyIdentity   = "verify_identity"
	ToolListPrescription = "list_prescriptions"
	ToolListAllergies    = "list_allergies"
	ToolListConditions   = "list_conditions"
	ToolListVisitReasons = "list_visit_reasons"
)

// DefaultReferenceDate is the identity value matched by verify_identity
// when no patient record is configured.
const DefaultReferenceDate = "1983-01-01"

// DefaultOpeningInstruction seeds the conversation before the first turn.
const DefaultOpeningInstruction = "You are Jessica, a professional medical intake assistant. " +
	"Your role is to collect essential patient information before their doctor visit. " +
	"Address the patient by their first name and maintain a polite, professional demeanor. " +
	"You're not a medical professional, so avoid providing medical advice. " +
	"Keep responses concise and focused on information collection. " +
	"Don't make assumptions about patient data - ask for clarification if responses are unclear. " +
	"Start by introducing yourself, then ask the patient to confirm their identity by providing " +
	"their birthday including the year. When they respond, call the verify_identity function."

// Per-step system instructions appended when the machine transitions.
const (
	instructionIdentityVerified = "Thank the patient for confirming their identity, then ask them to " +
		"list their current prescriptions. Each prescription should include both the medication name " +
		"and dosage. Only call the list_prescriptions function when you have complete information."

	instructionIdentityRetry = "The provided birthday is incorrect. Please ask the patient for their " +
		"birthday again and call the verify_identity function when they respond."

	instructionAskAllergies = "Next, ask the patient about their allergies. Once they've provided " +
		"their allergy information or confirmed they have none, call the list_allergies function."

	instructionAskConditions = "Now ask the patient about any medical conditions the doctor should " +
		"be aware of. Once they've answered, call the list_conditions function."

	instructionAskVisitReasons = "Finally, ask the patient the reason for their doctor visit today. " +
		"Once they answer, call the list_visit_reasons function."

	instructionConclude = "Thank the patient for completing their intake and conclude the " +
		"conversation professionally."
)

// VerifyIdentityTool returns the identity verification tool definition.
func VerifyIdentityTool() *types.ToolDef {
	return &types.ToolDef{
		Name:        ToolVerifyIdentity,
		Description: "Verify the patient's birthday to confirm their identity.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"date": {
					"type": "string",
					"description": "The patient's birthdate in YYYY-MM-DD format. Convert any provided format to this standard."
				}
			},
			"required": ["date"]
		}`),
	}
}

// ListPrescriptionsTool returns the prescription collection tool definition.
func ListPrescriptionsTool() *types.ToolDef {
	return &types.ToolDef{
		Name:        ToolListPrescription,
		Description: "Collect the patient's current prescription medications.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"items": {
					"type": "array",
					"items": {
						"type": "object",
						"properties": {
							"medication": {"type": "string", "description": "The medication name"},
							"dosage": {"type": "string", "description": "The prescription dosage"}
						},
						"required": ["medication", "dosage"]
					}
				}
			},
			"required": ["items"]
		}`),
	}
}

// ListAllergiesTool returns the allergy collection tool definition.
func ListAllergiesTool() *types.ToolDef {
	return &types.ToolDef{
		Name:        ToolListAllergies,
		Description: "Collect the patient's allergy information.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"items": {
					"type": "array",
					"items": {
						"type": "object",
						"properties": {
							"name": {"type": "string", "description": "What the patient is allergic to"}
						},
						"required": ["name"]
					}
				}
			},
			"required": ["items"]
		}`),
	}
}

// ListConditionsTool returns the medical condition collection tool definition.
func ListConditionsTool() *types.ToolDef {
	return &types.ToolDef{
		Name:        ToolListConditions,
		Description: "Collect the patient's medical conditions.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"items": {
					"type": "array",
					"items": {
						"type": "object",
						"properties": {
							"name": {"type": "string", "description": "The patient's medical condition"}
						},
						"required": ["name"]
					}
				}
			},
			"required": ["items"]
		}`),
	}
}

// ListVisitReasonsTool returns the visit reason collection tool definition.
func ListVisitReasonsTool() *types.ToolDef {
	return &types.ToolDef{
		Name:        ToolListVisitReasons,
		Description: "Collect the reason for the patient's doctor visit.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"items": {
					"type": "array",
					"items": {
						"type": "object",
						"properties": {
							"name": {"type": "string", "description": "The patient's reason for visiting the doctor"}
						},
						"required": ["name"]
					}
				}
			},
			"required": ["items"]
		}`),
	}
}

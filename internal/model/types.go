package model

// Severity classifies how dangerous a threat is considered at ingestion.
type Severity string

const (
	SeverityCritical Severity = "CRITICAL"
	SeverityHigh     Severity = "HIGH"
	SeverityMedium   Severity = "MEDIUM"
	SeverityLow      Severity = "LOW"
)

// ValidSeverities enumerates the accepted severity labels.
var ValidSeverities = map[Severity]bool{
	SeverityCritical: true,
	SeverityHigh:     true,
	SeverityMedium:   true,
	SeverityLow:      true,
}

// Tier identifies one of the three retention levels a record can occupy.
type Tier string

const (
	TierWorking   Tier = "WORKING"
	TierShortTerm Tier = "SHORT_TERM"
	TierLongTerm  Tier = "LONG_TERM"
)

// ActionType enumerates analyst actions recorded against a threat.
type ActionType string

const (
	ActionView     ActionType = "VIEW"
	ActionEscalate ActionType = "ESCALATE"
	ActionDismiss  ActionType = "DISMISS"
)

// ValidActions enumerates the accepted interaction actions.
var ValidActions = map[ActionType]bool{
	ActionView:     true,
	ActionEscalate: true,
	ActionDismiss:  true,
}

// MemoryType categorizes a consolidated long-term memory.
type MemoryType string

const (
	MemoryCampaign      MemoryType = "CAMPAIGN"
	MemoryEvolution     MemoryType = "EVOLUTION"
	MemoryPattern       MemoryType = "PATTERN"
	MemoryFalsePositive MemoryType = "FALSE_POSITIVE"
	MemoryValidated     MemoryType = "VALIDATED"
)

// ValidMemoryTypes enumerates the accepted memory types.
var ValidMemoryTypes = map[MemoryType]bool{
	MemoryCampaign:      true,
	MemoryEvolution:     true,
	MemoryPattern:       true,
	MemoryFalsePositive: true,
	MemoryValidated:     true,
}

// Recommendation is the discrete routing decision for a prediction.
type Recommendation string

const (
	RecommendImmediateAlert Recommendation = "IMMEDIATE_ALERT"
	RecommendPriorityReview Recommendation = "PRIORITY_REVIEW"
	RecommendStandardQueue  Recommendation = "STANDARD_QUEUE"
)

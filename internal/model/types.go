package model

import (
	"strings"
	"time"
)

// InteractionKind is the closed set of interaction record kinds. interface_call is
// never emitted by the extractor but is accepted in hand-edited rule stores.
type InteractionKind string

const (
	KindHighLevel         InteractionKind = "high_level"
	KindLowLevel          InteractionKind = "low_level"
	KindDelegateCall      InteractionKind = "delegate_call"
	KindFactoryDeployment InteractionKind = "factory_deployment"
	KindProxy             InteractionKind = "proxy"
	KindInterfaceCall     InteractionKind = "interface_call"
)

func ParseKind(s string) InteractionKind {
	return InteractionKind(strings.ToLower(strings.TrimSpace(s)))
}

// Role is the per-unit structural classification copied onto every record.
type Role string

const (
	RoleInitiator  Role = "initiator"
	RoleMiddleware Role = "middleware"
	RoleExecutor   Role = "executor"
	RoleUnknown    Role = "unknown"
)

func ParseRole(s string) Role {
	switch r := Role(strings.ToLower(strings.TrimSpace(s))); r {
	case RoleInitiator, RoleMiddleware, RoleExecutor:
		return r
	default:
		return RoleUnknown
	}
}

// ZeroAddress is the contract_address placeholder for high-level records.
const ZeroAddress = "0x0000000000000000000000000000000000000000"

// Interaction is one detected call-site or pattern hit in a source unit.
type Interaction struct {
	Caller            string          `json:"caller"`
	Callee            string          `json:"callee,omitempty"`
	Function          string          `json:"function,omitempty"`
	Kind              InteractionKind `json:"interaction_type"`
	Role              Role            `json:"interaction_role"`
	FunctionSignature string          `json:"function_signature,omitempty"`
	ContractAddress   string          `json:"contract_address,omitempty"`
	Details           string          `json:"details,omitempty"`
	Line              int             `json:"line,omitempty"`
}

// Unit is one source file flowing through the pipeline. Name is the stable
// identifier (file base name) used as the record caller.
type Unit struct {
	Name    string
	Path    string
	Content string
}

type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

func ParseSeverity(s string) Severity {
	switch s {
	case string(SeverityError):
		return SeverityError
	case string(SeverityWarning):
		return SeverityWarning
	default:
		return SeverityInfo
	}
}

func SeverityGTE(a, b Severity) bool {
	order := map[Severity]int{SeverityInfo: 1, SeverityWarning: 2, SeverityError: 3}
	return order[a] >= order[b]
}

// StageMeta describes a transform stage.
type StageMeta struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Order int    `json:"order"`
}

// Diagnostic records a skip, warning or failure for one unit.
type Diagnostic struct {
	Stage       string   `json:"stage"`
	Unit        string   `json:"unit"`
	Class       string   `json:"class"`
	Severity    Severity `json:"severity"`
	Line        int      `json:"line,omitempty"`
	Message     string   `json:"message"`
	Fingerprint string   `json:"fingerprint"`
}

type AnalysisResult struct {
	Interactions  []Interaction `json:"interactions"`
	RuleStorePath string        `json:"ruleStorePath"`
	Units         int           `json:"units"`
	Diagnostics   []Diagnostic  `json:"diagnostics"`
	Elapsed       time.Duration `json:"elapsed"`
}

// StageSummary counts per-stage outcomes.
type StageSummary struct {
	Stage     string `json:"stage"`
	Units     int    `json:"units"`
	Changed   int    `json:"changed"`
	Failed    int    `json:"failed"`
	OutputDir string `json:"outputDir"`
}

type ObfuscationResult struct {
	RuleStorePath string         `json:"ruleStorePath"`
	OutputDir     string         `json:"outputDir"`
	RegistryPath  string         `json:"registryPath"`
	Selectors     int            `json:"selectors"`
	Stages        []StageSummary `json:"stages"`
	Diagnostics   []Diagnostic   `json:"diagnostics"`
	Elapsed       time.Duration  `json:"elapsed"`
}

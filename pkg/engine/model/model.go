// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package model holds the data-model types shared by every engine
// component: Workflow, WorkflowVersion, Block, Run, Step, Artifact, Key,
// KeyAuditEntry, RateLimitEntry and Subscriber. Types here are plain data;
// behaviour lives in the packages that operate on them.
package model

import "time"

// Static ceilings shared across the engine.
const (
	MaxWorkflowNameLength = 100
	MaxBlockCount         = 200
	MaxRunDurationMS      = 600_000
	MaxSleepDurationMS    = 300_000
	MaxFetchTimeoutMS     = 60_000
	MaxConcurrentDeferred = 10
	MaxGotoDepth          = 50
	PaginationMaxSize     = 250
)

// PublicAccessMode controls whether a public workflow slug may only be
// viewed or may also be run.
type PublicAccessMode string

const (
	PublicAccessView PublicAccessMode = "view"
	PublicAccessRun  PublicAccessMode = "run"
)

// PublicRateLimit is the per-workflow override of the public rate limiter's
// default cap.
type PublicRateLimit struct {
	MaxPerMinute int `json:"maxPerMinute"`
}

// Workflow has immutable identity and mutable metadata.
type Workflow struct {
	ID               string           `json:"id"`
	OrgID            string           `json:"orgId"`
	Name             string           `json:"name"`
	Description      string           `json:"description"`
	ActiveVersion    int              `json:"activeVersion"`
	IsLocked         bool             `json:"isLocked"`
	LockedBy         string           `json:"lockedBy,omitempty"`
	IsDisabled       bool             `json:"isDisabled"`
	IsPublic         bool             `json:"isPublic"`
	PublicSlug       string           `json:"publicSlug,omitempty"`
	PublicAccessMode PublicAccessMode `json:"publicAccessMode,omitempty"`
	PublicBranding   map[string]any   `json:"publicBranding,omitempty"`
	PublicRateLimit  *PublicRateLimit `json:"publicRateLimit,omitempty"`
}

// VersionStatus is the publication state of a WorkflowVersion.
type VersionStatus string

const (
	VersionDraft     VersionStatus = "draft"
	VersionPublished VersionStatus = "published"
)

// WorkflowVersion has composite identity (workflowId, version). A published
// version, and its Block rows, are immutable.
type WorkflowVersion struct {
	WorkflowID            string         `json:"workflowId"`
	Version               int            `json:"version"`
	Status                VersionStatus  `json:"status"`
	TriggerType           TriggerType    `json:"triggerType"`
	TriggerConfig         map[string]any `json:"triggerConfig,omitempty"`
	ExecutionEnvironments []string       `json:"executionEnvironments,omitempty"`
	Changelog             string         `json:"changelog,omitempty"`
	Blocks                []*Block       `json:"blocks"`
}

// TriggerType enumerates how a Run was started.
type TriggerType string

const (
	TriggerInteractive TriggerType = "interactive"
	TriggerAPI         TriggerType = "api"
	TriggerSchedule    TriggerType = "schedule"
	TriggerHook        TriggerType = "hook"
	TriggerVision      TriggerType = "vision"
)

// BlockType is the closed set of block types the interpreter dispatches on.
type BlockType string

const (
	BlockObject     BlockType = "object"
	BlockString     BlockType = "string"
	BlockArray      BlockType = "array"
	BlockMath       BlockType = "math"
	BlockDate       BlockType = "date"
	BlockNormalize  BlockType = "normalize"
	BlockLocation   BlockType = "location"
	BlockFetch      BlockType = "fetch"
	BlockAgent      BlockType = "agent"
	BlockGoto       BlockType = "goto"
	BlockSleep      BlockType = "sleep"
	BlockUICamera   BlockType = "ui_camera"
	BlockUIForm     BlockType = "ui_form"
	BlockUITable    BlockType = "ui_table"
	BlockUIDetails  BlockType = "ui_details"
	BlockImage      BlockType = "image"
	BlockFilesystem BlockType = "filesystem"
	BlockFTP        BlockType = "ftp"
	BlockCode       BlockType = "code"
	BlockVideo      BlockType = "video"
	BlockValidation BlockType = "validation"
)

// Predicate is one AND-gated guard condition evaluated by the condition
// evaluator. Left/Right are resolved through the reference resolver before
// the operator is applied.
type Predicate struct {
	Left     any    `json:"left"`
	Operator string `json:"operator"`
	Right    any    `json:"right,omitempty"`
}

// Block is one ordered, typed unit of work inside a workflow version.
type Block struct {
	ID              string         `json:"id"`
	WorkflowID      string         `json:"workflowId"`
	WorkflowVersion int            `json:"workflowVersion"`
	Name            string         `json:"name"`
	Type            BlockType      `json:"type"`
	Logic           map[string]any `json:"logic"`
	Conditions      []Predicate    `json:"conditions,omitempty"`
	Order           int            `json:"order"`
	Notes           string         `json:"notes,omitempty"`
}

// RunStatus is the lifecycle state of a Run.
type RunStatus string

const (
	RunPending        RunStatus = "pending"
	RunRunning        RunStatus = "running"
	RunCompleted      RunStatus = "completed"
	RunFailed         RunStatus = "failed"
	RunCancelled      RunStatus = "cancelled"
	RunAwaitingAction RunStatus = "awaiting_action"
)

// ResumeMarker is the serialized continuation persisted when a run pauses,
// per the "pause/resume as serialized continuations" design note.
type ResumeMarker struct {
	Token          string                  `json:"token"`
	BlockID        string                  `json:"blockId"`
	BindValue      string                  `json:"bindValue"`
	StepIndex      int                     `json:"stepIndex"`
	State          map[string]any          `json:"state"`
	Cache          map[string]any          `json:"cache"`
	Artifacts      []Artifact              `json:"artifacts"`
	Loops          map[string]*LoopState   `json:"loops"`
	GotoDepth      int                     `json:"gotoDepth"`
	PauseKind      string                  `json:"pauseKind"`
	PausePayload   any                     `json:"pausePayload,omitempty"`
	Consumed       bool                    `json:"consumed"`
}

// Run is one execution instance of a specific workflow version.
type Run struct {
	ID            string         `json:"id"`
	WorkflowID    string         `json:"workflowId"`
	Version       int            `json:"version"`
	OrgID         string         `json:"orgId"`
	Status        RunStatus      `json:"status"`
	TriggerType   TriggerType    `json:"triggerType"`
	StartedAt     time.Time      `json:"startedAt"`
	CompletedAt   *time.Time     `json:"completedAt,omitempty"`
	DurationMS    int64          `json:"durationMs,omitempty"`
	ErrorMessage  string         `json:"errorMessage,omitempty"`
	Steps         []Step         `json:"stepsJson"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	ResumeMarker  *ResumeMarker  `json:"resumeMarker,omitempty"`
}

// StepStatus is the execution state of a single Step.
type StepStatus string

const (
	StepPending   StepStatus = "pending"
	StepRunning   StepStatus = "running"
	StepCompleted StepStatus = "completed"
	StepFailed    StepStatus = "failed"
	StepSkipped   StepStatus = "skipped"
)

// StepError is the normalized error recorded on a failed Step.
type StepError struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// Step is the record of executing, or skipping, one block within a run.
type Step struct {
	StepID        string     `json:"stepId"`
	BlockID       string     `json:"blockId"`
	Status        StepStatus `json:"status"`
	StartedAt     time.Time  `json:"startedAt"`
	EndedAt       *time.Time `json:"endedAt,omitempty"`
	Error         *StepError `json:"error,omitempty"`
	OutputSummary string     `json:"outputSummary,omitempty"`
}

// ArtifactType is the closed set of artifact kinds.
type ArtifactType string

const (
	ArtifactImage    ArtifactType = "image"
	ArtifactVideo    ArtifactType = "video"
	ArtifactDocument ArtifactType = "document"
	ArtifactData     ArtifactType = "data"
	ArtifactAudio    ArtifactType = "audio"
)

// Overlay is a normalized-coordinate polygon drawn over an artifact.
type Overlay struct {
	Kind   string    `json:"kind"` // barcode | text | ui_marker
	Points [][2]float64 `json:"points"`
	Label  string    `json:"label,omitempty"`
}

// Artifact is a binary asset produced or consumed during a run.
type Artifact struct {
	ID            string       `json:"id"`
	RunID         string       `json:"runId"`
	WorkflowID    string       `json:"workflowId"`
	Type          ArtifactType `json:"type"`
	Name          string       `json:"name"`
	FilePath      string       `json:"filePath,omitempty"`
	FileURL       string       `json:"fileUrl,omitempty"`
	FileSize      int64        `json:"fileSize,omitempty"`
	MimeType      string       `json:"mimeType,omitempty"`
	Width         int          `json:"width,omitempty"`
	Height        int          `json:"height,omitempty"`
	Overlays      []Overlay    `json:"overlays,omitempty"`
	ThumbnailPath string       `json:"thumbnailPath,omitempty"`
	Source        string       `json:"source,omitempty"`
	BlockID       string       `json:"blockId,omitempty"`
	CreatedAt     time.Time    `json:"createdAt"`
}

// LoopState is the per-goto-loop entry in WorkflowContext.loops.
type LoopState struct {
	Index    int       `json:"index"`
	Artifact *Artifact `json:"artifact,omitempty"`
}

// RunInfo is the $run scope exposed to handlers and the resolver. It is
// updated by the interpreter before each dispatch.
type RunInfo struct {
	ID          string `json:"id"`
	WorkflowID  string `json:"workflowId"`
	VersionID   int    `json:"versionId"`
	Status      string `json:"status"`
	TriggerType string `json:"triggerType"`
	StartedAt   string `json:"startedAt"`
	Platform    string `json:"platform,omitempty"`
	DeviceID    string `json:"deviceId,omitempty"`
	StepID      string `json:"stepId,omitempty"`
	StepIndex   int    `json:"stepIndex"`
	BlockID     string `json:"blockId,omitempty"`
	BlockName   string `json:"blockName,omitempty"`
	BlockType   string `json:"blockType,omitempty"`
}

// StorageMode is where a Key's ciphertext material effectively lives.
type StorageMode string

const (
	StorageCloud StorageMode = "cloud"
	StorageLocal StorageMode = "local"
)

// Key is an encrypted-at-rest credential record.
type Key struct {
	ID             string      `json:"id"`
	OrgID          string      `json:"orgId"`
	WorkflowID     string      `json:"workflowId,omitempty"`
	Name           string      `json:"name"`
	Provider       string      `json:"provider,omitempty"`
	KeyType        string      `json:"keyType,omitempty"`
	EncryptedValue string      `json:"encryptedValue"`
	IV             string      `json:"iv"`
	Algorithm      string      `json:"algorithm"`
	StorageMode    StorageMode `json:"storageMode"`
	ExpiresAt      *time.Time  `json:"expiresAt,omitempty"`
	IsRevoked      bool        `json:"isRevoked"`
	LastUsedAt     *time.Time  `json:"lastUsedAt,omitempty"`
	LastRotatedAt  *time.Time  `json:"lastRotatedAt,omitempty"`
}

// KeyAuditAction is the closed set of audit actions against a Key.
type KeyAuditAction string

const (
	AuditCreated KeyAuditAction = "created"
	AuditRotated KeyAuditAction = "rotated"
	AuditRevoked KeyAuditAction = "revoked"
	AuditAccessed KeyAuditAction = "accessed"
)

// KeyAuditEntry is one append-only audit record against a Key.
type KeyAuditEntry struct {
	ID          string         `json:"id"`
	KeyID       string         `json:"keyId"`
	Action      KeyAuditAction `json:"action"`
	PerformedBy string         `json:"performedBy,omitempty"`
	IPAddress   string         `json:"ipAddress,omitempty"`
	UserAgent   string         `json:"userAgent,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	CreatedAt   time.Time      `json:"createdAt"`
}

// PublicRun is the audit record written by the public-run gate for every
// attempt, accepted or rejected, against a public slug.
type PublicRun struct {
	ID          string    `json:"id"`
	WorkflowID  string    `json:"workflowId"`
	IPHash      string    `json:"ipHash"`
	UserAgent   string    `json:"userAgent,omitempty"`
	Anonymous   bool      `json:"anonymous"`
	RunID       string    `json:"runId,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

package protocol

import (
	"encoding/json"
	"fmt"
)

// OpType is the "type" discriminator on the wire for a Submission's Op.
type OpType string

const (
	OpConfigureSession      OpType = "configure_session"
	OpInterrupt             OpType = "interrupt"
	OpUserInput             OpType = "user_input"
	OpExecApproval          OpType = "exec_approval"
	OpPatchApproval         OpType = "patch_approval"
	OpAddToHistory          OpType = "add_to_history"
	OpGetHistoryEntryReq    OpType = "get_history_entry_request"
	OpShutdown              OpType = "shutdown"
)

// InputItemKind discriminates InputItem.
type InputItemKind string

const (
	InputItemText       InputItemKind = "text"
	InputItemImage      InputItemKind = "image"
	InputItemLocalImage InputItemKind = "local_image"
)

// InputItem is one element of a UserInput submission: text, a pre-encoded
// image data URL, or a local image path. The session adds only text items
// to the conversation history: image and local_image items are not sent
// upstream, and no local image is converted to a data URL.
type InputItem struct {
	Kind     InputItemKind `json:"type"`
	Text     string        `json:"text,omitempty"`
	ImageURL string        `json:"image_url,omitempty"`
	Path     string        `json:"path,omitempty"`
}

// ConfigureSessionOp establishes (or reconfigures in place) a session.
type ConfigureSessionOp struct {
	Provider           string         `json:"provider"`
	Model              string         `json:"model"`
	ApprovalPolicy     ApprovalPolicy `json:"approval_policy"`
	SandboxPolicy      SandboxPolicy  `json:"sandbox_policy"`
	Cwd                string         `json:"cwd"`
	BaseInstructions   string         `json:"base_instructions,omitempty"`
	UserInstructions   string         `json:"user_instructions,omitempty"`
	ResumeRolloutPath  string         `json:"resume_rollout_path,omitempty"`
}

// UserInputOp carries the items for a new turn.
type UserInputOp struct {
	Items []InputItem `json:"items"`
}

// ExecApprovalOp resolves a pending ExecApprovalRequest.
type ExecApprovalOp struct {
	TargetID string         `json:"target_id"`
	Decision ReviewDecision `json:"decision"`
}

// PatchApprovalOp resolves a pending ApplyPatchApprovalRequest.
type PatchApprovalOp struct {
	TargetID string         `json:"target_id"`
	Decision ReviewDecision `json:"decision"`
}

// AddToHistoryOp appends a line of text to the persistent history store.
type AddToHistoryOp struct {
	Text string `json:"text"`
}

// GetHistoryEntryOp requests one entry from the history store.
type GetHistoryEntryOp struct {
	LogID  uint64 `json:"log_id"`
	Offset int    `json:"offset"`
}

// Op is the tagged union of all submission payloads. Exactly one of the
// typed fields is populated, matching Type.
type Op struct {
	Type OpType

	ConfigureSession *ConfigureSessionOp
	UserInput        *UserInputOp
	ExecApproval     *ExecApprovalOp
	PatchApproval    *PatchApprovalOp
	AddToHistory     *AddToHistoryOp
	GetHistoryEntry  *GetHistoryEntryOp
	// Interrupt and Shutdown carry no payload.
}

// Submission is one entry enqueued on the SQ.
type Submission struct {
	ID string `json:"id"`
	Op Op     `json:"op"`
}

// opWire is the flattened wire shape: {"type": "...", ...payload fields}.
type opWire struct {
	Type OpType `json:"type"`
	*ConfigureSessionOp
	*UserInputOp
	*ExecApprovalOp
	*PatchApprovalOp
	*AddToHistoryOp
	*GetHistoryEntryOp
}

func (o Op) MarshalJSON() ([]byte, error) {
	w := opWire{Type: o.Type}
	switch o.Type {
	case OpConfigureSession:
		w.ConfigureSessionOp = o.ConfigureSession
	case OpUserInput:
		w.UserInputOp = o.UserInput
	case OpExecApproval:
		w.ExecApprovalOp = o.ExecApproval
	case OpPatchApproval:
		w.PatchApprovalOp = o.PatchApproval
	case OpAddToHistory:
		w.AddToHistoryOp = o.AddToHistory
	case OpGetHistoryEntryReq:
		w.GetHistoryEntryOp = o.GetHistoryEntry
	case OpInterrupt, OpShutdown:
		// no payload
	default:
		return nil, fmt.Errorf("protocol: unknown op type %q", o.Type)
	}
	return json.Marshal(w)
}

func (o *Op) UnmarshalJSON(data []byte) error {
	var head struct {
		Type OpType `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return err
	}
	o.Type = head.Type

	switch head.Type {
	case OpConfigureSession:
		var v ConfigureSessionOp
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		o.ConfigureSession = &v
	case OpUserInput:
		var v UserInputOp
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		o.UserInput = &v
	case OpExecApproval:
		var v ExecApprovalOp
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		o.ExecApproval = &v
	case OpPatchApproval:
		var v PatchApprovalOp
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		o.PatchApproval = &v
	case OpAddToHistory:
		var v AddToHistoryOp
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		o.AddToHistory = &v
	case OpGetHistoryEntryReq:
		var v GetHistoryEntryOp
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		o.GetHistoryEntry = &v
	case OpInterrupt, OpShutdown:
		// no payload
	default:
		return fmt.Errorf("protocol: unknown op type %q", head.Type)
	}
	return nil
}

package comfy

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/bytedance/sonic"
)

// Node ids of the default text-to-image workflow.
const (
	NodeSampler    = "3"
	NodeCheckpoint = "4"
	NodeLatent     = "5"
	NodePositive   = "6"
	NodeNegative   = "7"
	NodeDecode     = "8"
	NodeSave       = "9"
)

// Node class types used by the default workflow.
const (
	ClassKSampler       = "KSampler"
	ClassCheckpoint     = "CheckpointLoaderSimple"
	ClassEmptyLatent    = "EmptyLatentImage"
	ClassCLIPTextEncode = "CLIPTextEncode"
	ClassVAEDecode      = "VAEDecode"
	ClassSaveImage      = "SaveImage"
)

const (
	DefaultCheckpoint     = "Realistic_Vision_V6.0_NV_B1.safetensors"
	DefaultFilenamePrefix = "DGX_Agent_Gen"

	// NegativePrompt lists the qualities the sampler is steered away from.
	NegativePrompt = "text, watermark, blurry, low quality, deformed"

	SamplerName = "euler"
	Scheduler   = "normal"
	Steps       = 20
	CFG         = 8
	Denoise     = 1
	ImageWidth  = 512
	ImageHeight = 512
	BatchSize   = 1
)

// Workflow is a ComfyUI API-format graph keyed by node id.
type Workflow map[string]Node

// Node is one operation in a Workflow. Input values are literals or Refs.
type Node struct {
	ClassType string         `json:"class_type"`
	Inputs    map[string]any `json:"inputs"`
}

// Ref points at output slot Slot of node NodeID. It is encoded as ["<id>", <slot>].
type Ref struct {
	NodeID string
	Slot   int
}

func (r Ref) MarshalJSON() ([]byte, error) {
	return sonic.ConfigStd.Marshal([]any{r.NodeID, r.Slot})
}

func (r Ref) String() string {
	return "[" + strconv.Quote(r.NodeID) + ", " + strconv.Itoa(r.Slot) + "]"
}

// WorkflowParams are the variable parts of the default workflow.
type WorkflowParams struct {
	PositivePrompt string
	Seed           int64
	Checkpoint     string
	FilenamePrefix string
}

// BuildWorkflow returns the default seven-node text-to-image workflow:
// checkpoint load, empty latent, positive/negative encode, sample, decode, save.
// Empty Checkpoint and FilenamePrefix fall back to the defaults.
func BuildWorkflow(p WorkflowParams) Workflow {
	checkpoint := p.Checkpoint
	if checkpoint == "" {
		checkpoint = DefaultCheckpoint
	}
	prefix := p.FilenamePrefix
	if prefix == "" {
		prefix = DefaultFilenamePrefix
	}

	return Workflow{
		NodeSampler: {
			ClassType: ClassKSampler,
			Inputs: map[string]any{
				"cfg":          CFG,
				"denoise":      Denoise,
				"latent_image": Ref{NodeLatent, 0},
				"model":        Ref{NodeCheckpoint, 0},
				"negative":     Ref{NodeNegative, 0},
				"positive":     Ref{NodePositive, 0},
				"sampler_name": SamplerName,
				"scheduler":    Scheduler,
				"seed":         p.Seed,
				"steps":        Steps,
			},
		},
		NodeCheckpoint: {
			ClassType: ClassCheckpoint,
			Inputs:    map[string]any{"ckpt_name": checkpoint},
		},
		NodeLatent: {
			ClassType: ClassEmptyLatent,
			Inputs: map[string]any{
				"batch_size": BatchSize,
				"height":     ImageHeight,
				"width":      ImageWidth,
			},
		},
		NodePositive: {
			ClassType: ClassCLIPTextEncode,
			Inputs: map[string]any{
				"clip": Ref{NodeCheckpoint, 1},
				"text": p.PositivePrompt,
			},
		},
		NodeNegative: {
			ClassType: ClassCLIPTextEncode,
			Inputs: map[string]any{
				"clip": Ref{NodeCheckpoint, 1},
				"text": NegativePrompt,
			},
		},
		NodeDecode: {
			ClassType: ClassVAEDecode,
			Inputs: map[string]any{
				"samples": Ref{NodeSampler, 0},
				"vae":     Ref{NodeCheckpoint, 2},
			},
		},
		NodeSave: {
			ClassType: ClassSaveImage,
			Inputs: map[string]any{
				"filename_prefix": prefix,
				"images":          Ref{NodeDecode, 0},
			},
		},
	}
}

// Validate reports every input Ref that names a node missing from w.
func (w Workflow) Validate() error {
	var dangling []string
	for id, node := range w {
		if node.ClassType == "" {
			dangling = append(dangling, fmt.Sprintf("node %s has no class_type", id))
		}
		for name, v := range node.Inputs {
			ref, ok := v.(Ref)
			if !ok {
				continue
			}
			if _, exists := w[ref.NodeID]; !exists {
				dangling = append(dangling, fmt.Sprintf("node %s input %q references missing node %s", id, name, ref))
			}
		}
	}
	if len(dangling) == 0 {
		return nil
	}
	sort.Strings(dangling)
	return fmt.Errorf("invalid workflow: %s", strings.Join(dangling, "; "))
}

// Text returns the text input of a CLIPTextEncode node, or "" if absent.
func (w Workflow) Text(nodeID string) string {
	s, _ := w[nodeID].Inputs["text"].(string)
	return s
}

// Seed returns the sampler seed, or 0 if absent.
func (w Workflow) Seed() int64 {
	s, _ := w[NodeSampler].Inputs["seed"].(int64)
	return s
}

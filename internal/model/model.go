// Package model enumerates the supported network architectures and their
// hyperparameters. The networks themselves live in the external trainer;
// this package only names them and carries their settings.
package model

import (
	"encoding/json"
	"fmt"
	"log"
	"sort"

	"gopkg.in/yaml.v3"
)

type Kind string

const (
	S2P       Kind = "S2P"
	WGRU      Kind = "WGRU"
	SAED      Kind = "SAED"
	SimpleGRU Kind = "SimpleGru"
	FNET      Kind = "FNET"
	VAE       Kind = "VAE"
	DAE       Kind = "DAE"
)

var kinds = map[Kind]func() Hparams{
	S2P:       func() Hparams { return &S2PParams{} },
	WGRU:      func() Hparams { return &WGRUParams{} },
	SAED:      func() Hparams { return &SAEDParams{Mode: "dot", HiddenDim: 16, NumHeads: 1} },
	SimpleGRU: func() Hparams { return &SimpleGRUParams{HiddenDim: 16} },
	FNET:      func() Hparams { return &FNETParams{Depth: 1, KernelSize: 5, CNNDim: 128, HiddenDim: 256} },
	VAE:       func() Hparams { return &VAEParams{} },
	DAE:       func() Hparams { return &DAEParams{} },
}

// Kinds returns every supported kind, sorted by name.
func Kinds() []Kind {
	out := make([]Kind, 0, len(kinds))
	for k := range kinds {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func ParseKind(s string) (Kind, error) {
	k := Kind(s)
	if _, ok := kinds[k]; !ok {
		return "", fmt.Errorf("unknown model kind %q", s)
	}
	return k, nil
}

// Windowing adjusts window and batch size for the kind. Autoencoders work on
// non-overlapping windows whose length is a multiple of 8, and need a batch
// at least as large as the window.
func (k Kind) Windowing(window, batch int) (w, b int, rolling bool) {
	switch k {
	case VAE, DAE:
		w = window - window%8
		b = batch
		if w > b {
			b = w
		}
		return w, b, false
	default:
		return window, batch, true
	}
}

// Hparams is the typed hyperparameter set of one model kind.
type Hparams interface {
	Kind() Kind
	// ForWindow returns the set to use for the given input window.
	ForWindow(window int) Hparams
	Validate() error
}

// Marshal renders hyperparameters as the JSON object stored in reports and
// handed to the trainer.
func Marshal(h Hparams) (string, error) {
	data, err := json.Marshal(h)
	if err != nil {
		return "", fmt.Errorf("marshaling %s hparams: %w", h.Kind(), err)
	}
	return string(data), nil
}

// Spec names a kind and the hyperparameter sets to sweep for it.
type Spec struct {
	Kind    Kind
	Hparams []Hparams
}

type rawSpec struct {
	Kind    string      `yaml:"kind"`
	Hparams []yaml.Node `yaml:"hparams"`
}

// UnmarshalYAML decodes each hparams entry into the struct of its kind,
// starting from the kind's defaults. A spec without hparams sweeps the
// defaults only.
func (s *Spec) UnmarshalYAML(value *yaml.Node) error {
	var raw rawSpec
	if err := value.Decode(&raw); err != nil {
		return err
	}
	kind, err := ParseKind(raw.Kind)
	if err != nil {
		return err
	}
	s.Kind = kind
	s.Hparams = nil
	if len(raw.Hparams) == 0 {
		s.Hparams = append(s.Hparams, kinds[kind]())
		return nil
	}
	for i := range raw.Hparams {
		h := kinds[kind]()
		if err := raw.Hparams[i].Decode(h); err != nil {
			return fmt.Errorf("%s hparams %d: %w", kind, i, err)
		}
		s.Hparams = append(s.Hparams, h)
	}
	return nil
}

func (s Spec) Validate() error {
	if _, ok := kinds[s.Kind]; !ok {
		return fmt.Errorf("unknown model kind %q", s.Kind)
	}
	for i, h := range s.Hparams {
		if h.Kind() != s.Kind {
			return fmt.Errorf("%s hparams %d: belongs to %s", s.Kind, i, h.Kind())
		}
		if err := h.Validate(); err != nil {
			return fmt.Errorf("%s hparams %d: %w", s.Kind, i, err)
		}
	}
	return nil
}

func checkDropout(d float64) error {
	if d < 0 || d >= 1 {
		return fmt.Errorf("dropout %v out of [0, 1)", d)
	}
	return nil
}

func checkLR(lr *float64) error {
	if lr != nil && *lr <= 0 {
		return fmt.Errorf("learning rate %v must be positive", *lr)
	}
	return nil
}

type S2PParams struct {
	Dropout float64  `yaml:"dropout" json:"dropout"`
	LR      *float64 `yaml:"lr" json:"lr,omitempty"`
}

func (p *S2PParams) Kind() Kind                   { return S2P }
func (p *S2PParams) ForWindow(window int) Hparams { c := *p; return &c }
func (p *S2PParams) Validate() error {
	if err := checkDropout(p.Dropout); err != nil {
		return err
	}
	return checkLR(p.LR)
}

type WGRUParams struct {
	Dropout float64  `yaml:"dropout" json:"dropout"`
	LR      *float64 `yaml:"lr" json:"lr,omitempty"`
}

func (p *WGRUParams) Kind() Kind                   { return WGRU }
func (p *WGRUParams) ForWindow(window int) Hparams { c := *p; return &c }
func (p *WGRUParams) Validate() error {
	if err := checkDropout(p.Dropout); err != nil {
		return err
	}
	return checkLR(p.LR)
}

// SAEDParams configures the self-attentive encoder-decoder. Only dot-product
// attention is supported.
type SAEDParams struct {
	Mode      string   `yaml:"mode" json:"mode"`
	HiddenDim int      `yaml:"hidden_dim" json:"hidden_dim"`
	NumHeads  int      `yaml:"num_heads" json:"num_heads"`
	Dropout   float64  `yaml:"dropout" json:"dropout"`
	LR        *float64 `yaml:"lr" json:"lr,omitempty"`
}

func (p *SAEDParams) Kind() Kind { return SAED }

// ForWindow also normalizes the head count so that it divides HiddenDim.
func (p *SAEDParams) ForWindow(window int) Hparams {
	c := *p
	c.NumHeads = normalizeHeads(c.HiddenDim, c.NumHeads)
	return &c
}

func (p *SAEDParams) Validate() error {
	if p.Mode != "" && p.Mode != "dot" {
		return fmt.Errorf("attention mode %q not supported, only \"dot\"", p.Mode)
	}
	if p.HiddenDim < 1 {
		return fmt.Errorf("hidden_dim must be positive")
	}
	if p.NumHeads < 1 {
		return fmt.Errorf("num_heads must be positive")
	}
	if err := checkDropout(p.Dropout); err != nil {
		return err
	}
	return checkLR(p.LR)
}

func normalizeHeads(hidden, heads int) int {
	if heads > hidden {
		log.Printf("warning: num_heads %d > hidden_dim %d, using 1", heads, hidden)
		return 1
	}
	for heads > 1 && hidden%heads != 0 {
		heads--
	}
	if heads < 1 {
		heads = 1
	}
	return heads
}

type SimpleGRUParams struct {
	HiddenDim int      `yaml:"hidden_dim" json:"hidden_dim"`
	Dropout   float64  `yaml:"dropout" json:"dropout"`
	LR        *float64 `yaml:"lr" json:"lr,omitempty"`
}

func (p *SimpleGRUParams) Kind() Kind                   { return SimpleGRU }
func (p *SimpleGRUParams) ForWindow(window int) Hparams { c := *p; return &c }
func (p *SimpleGRUParams) Validate() error {
	if p.HiddenDim < 1 {
		return fmt.Errorf("hidden_dim must be positive")
	}
	if err := checkDropout(p.Dropout); err != nil {
		return err
	}
	return checkLR(p.LR)
}

// FNETParams configures the Fourier-mixing network. InputDim always equals
// the window length and is filled in by ForWindow.
type FNETParams struct {
	Depth      int     `yaml:"depth" json:"depth"`
	KernelSize int     `yaml:"kernel_size" json:"kernel_size"`
	CNNDim     int     `yaml:"cnn_dim" json:"cnn_dim"`
	InputDim   int     `yaml:"input_dim" json:"input_dim"`
	HiddenDim  int     `yaml:"hidden_dim" json:"hidden_dim"`
	Dropout    float64 `yaml:"dropout" json:"dropout"`
}

func (p *FNETParams) Kind() Kind { return FNET }

func (p *FNETParams) ForWindow(window int) Hparams {
	c := *p
	c.InputDim = window
	return &c
}

func (p *FNETParams) Validate() error {
	if p.Depth < 1 || p.KernelSize < 1 || p.CNNDim < 1 || p.HiddenDim < 1 {
		return fmt.Errorf("depth, kernel_size, cnn_dim and hidden_dim must be positive")
	}
	return checkDropout(p.Dropout)
}

type VAEParams struct {
	Dropout float64  `yaml:"dropout" json:"dropout"`
	LR      *float64 `yaml:"lr" json:"lr,omitempty"`
}

func (p *VAEParams) Kind() Kind                   { return VAE }
func (p *VAEParams) ForWindow(window int) Hparams { c := *p; return &c }
func (p *VAEParams) Validate() error {
	if err := checkDropout(p.Dropout); err != nil {
		return err
	}
	return checkLR(p.LR)
}

type DAEParams struct {
	Dropout float64  `yaml:"dropout" json:"dropout"`
	LR      *float64 `yaml:"lr" json:"lr,omitempty"`
}

func (p *DAEParams) Kind() Kind                   { return DAE }
func (p *DAEParams) ForWindow(window int) Hparams { c := *p; return &c }
func (p *DAEParams) Validate() error {
	if err := checkDropout(p.Dropout); err != nil {
		return err
	}
	return checkLR(p.LR)
}

package model_test

import (
	"testing"

	"github.com/signalnine/nilmbench/internal/model"
	"gopkg.in/yaml.v3"
)

func TestSpecUnmarshalTyped(t *testing.T) {
	src := `
- kind: FNET
  hparams:
    - {depth: 2, kernel_size: 3, cnn_dim: 64, hidden_dim: 128, dropout: 0.1}
    - {depth: 1}
- kind: SAED
  hparams:
    - {hidden_dim: 12, num_heads: 5}
- kind: S2P
`
	var specs []model.Spec
	if err := yaml.Unmarshal([]byte(src), &specs); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if len(specs) != 3 {
		t.Fatalf("expected 3 specs, got %d", len(specs))
	}

	fnet := specs[0]
	if fnet.Kind != model.FNET || len(fnet.Hparams) != 2 {
		t.Fatalf("fnet spec: %+v", fnet)
	}
	first := fnet.Hparams[0].(*model.FNETParams)
	if first.Depth != 2 || first.CNNDim != 64 || first.Dropout != 0.1 {
		t.Errorf("fnet hparams 0: %+v", first)
	}
	second := fnet.Hparams[1].(*model.FNETParams)
	if second.CNNDim != 128 || second.HiddenDim != 256 {
		t.Errorf("fnet hparams 1 should keep defaults, got %+v", second)
	}

	if len(specs[2].Hparams) != 1 {
		t.Errorf("spec without hparams should sweep defaults once, got %d", len(specs[2].Hparams))
	}
	for _, s := range specs {
		if err := s.Validate(); err != nil {
			t.Errorf("%s: Validate: %v", s.Kind, err)
		}
	}
}

func TestSpecUnmarshalUnknownKind(t *testing.T) {
	var specs []model.Spec
	if err := yaml.Unmarshal([]byte("- kind: LSTM\n"), &specs); err == nil {
		t.Error("expected error for unknown kind")
	}
}

func TestForWindow(t *testing.T) {
	fnet := &model.FNETParams{Depth: 1, KernelSize: 5, CNNDim: 128, HiddenDim: 256}
	got := fnet.ForWindow(350).(*model.FNETParams)
	if got.InputDim != 350 {
		t.Errorf("input_dim: got %d, want 350", got.InputDim)
	}
	if fnet.InputDim != 0 {
		t.Error("ForWindow must not modify the receiver")
	}

	tests := []struct {
		hidden, heads, want int
	}{
		{16, 1, 1},
		{16, 4, 4},
		{12, 5, 4},
		{16, 32, 1},
		{7, 3, 1},
	}
	for _, tt := range tests {
		saed := &model.SAEDParams{Mode: "dot", HiddenDim: tt.hidden, NumHeads: tt.heads}
		got := saed.ForWindow(50).(*model.SAEDParams)
		if got.NumHeads != tt.want {
			t.Errorf("hidden %d heads %d: got %d heads, want %d", tt.hidden, tt.heads, got.NumHeads, tt.want)
		}
	}
}

func TestWindowing(t *testing.T) {
	tests := []struct {
		kind        model.Kind
		window      int
		batch       int
		wantWindow  int
		wantBatch   int
		wantRolling bool
	}{
		{model.FNET, 350, 512, 350, 512, true},
		{model.S2P, 99, 512, 99, 512, true},
		{model.DAE, 350, 512, 344, 512, false},
		{model.VAE, 600, 512, 600, 600, false},
		{model.VAE, 64, 512, 64, 512, false},
	}
	for _, tt := range tests {
		w, b, rolling := tt.kind.Windowing(tt.window, tt.batch)
		if w != tt.wantWindow || b != tt.wantBatch || rolling != tt.wantRolling {
			t.Errorf("%s.Windowing(%d, %d) = (%d, %d, %v), want (%d, %d, %v)",
				tt.kind, tt.window, tt.batch, w, b, rolling, tt.wantWindow, tt.wantBatch, tt.wantRolling)
		}
	}
}

func TestValidateRejects(t *testing.T) {
	lr := -0.1
	bad := []model.Spec{
		{Kind: model.S2P, Hparams: []model.Hparams{&model.S2PParams{Dropout: 1.5}}},
		{Kind: model.WGRU, Hparams: []model.Hparams{&model.WGRUParams{LR: &lr}}},
		{Kind: model.SAED, Hparams: []model.Hparams{&model.SAEDParams{Mode: "add", HiddenDim: 16, NumHeads: 1}}},
		{Kind: model.FNET, Hparams: []model.Hparams{&model.FNETParams{}}},
		{Kind: model.FNET, Hparams: []model.Hparams{&model.S2PParams{}}},
	}
	for i, s := range bad {
		if err := s.Validate(); err == nil {
			t.Errorf("case %d: expected validation error for %+v", i, s)
		}
	}
}

func TestMarshal(t *testing.T) {
	got, err := model.Marshal(&model.FNETParams{Depth: 1, KernelSize: 5, CNNDim: 128, InputDim: 50, HiddenDim: 256})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	want := `{"depth":1,"kernel_size":5,"cnn_dim":128,"input_dim":50,"hidden_dim":256,"dropout":0}`
	if got != want {
		t.Errorf("got %s, want %s", got, want)
	}
}

func TestParseKind(t *testing.T) {
	for _, k := range model.Kinds() {
		got, err := model.ParseKind(string(k))
		if err != nil || got != k {
			t.Errorf("ParseKind(%q) = %q, %v", k, got, err)
		}
	}
	if _, err := model.ParseKind("fnet"); err == nil {
		t.Error("kind names are case sensitive")
	}
}

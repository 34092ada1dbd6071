package cmd

import (
	"testing"

	"github.com/signalnine/nilmbench/internal/model"
)

func TestFilterDevices(t *testing.T) {
	devices := []string{"kettle", "fridge", "washing machine"}

	tests := []struct {
		name   string
		filter string
		want   int
	}{
		{"empty filter returns all", "", 3},
		{"exact match", "fridge", 1},
		{"list with spaces", "kettle, washing machine", 2},
		{"no match", "dishwasher", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := filterDevices(devices, tt.filter)
			if len(got) != tt.want {
				t.Errorf("filterDevices(%q) returned %d, want %d", tt.filter, len(got), tt.want)
			}
		})
	}
}

func TestFilterModels(t *testing.T) {
	specs := []model.Spec{{Kind: model.FNET}, {Kind: model.SAED}, {Kind: model.VAE}}

	tests := []struct {
		name   string
		filter string
		want   int
	}{
		{"empty filter returns all", "", 3},
		{"exact kind", "SAED", 1},
		{"case-insensitive", "fnet,vae", 2},
		{"no match", "S2P", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := filterModels(specs, tt.filter)
			if len(got) != tt.want {
				t.Errorf("filterModels(%q) returned %d, want %d", tt.filter, len(got), tt.want)
			}
		})
	}
}

func TestFilterWindows(t *testing.T) {
	windows := []int{50, 100, 150}

	tests := []struct {
		name    string
		filter  string
		want    int
		wantErr bool
	}{
		{"empty filter returns all", "", 3, false},
		{"subset", "50,150", 2, false},
		{"not configured", "75", 0, true},
		{"not a number", "abc", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := filterWindows(windows, tt.filter)
			if (err != nil) != tt.wantErr {
				t.Fatalf("filterWindows(%q) err = %v, wantErr %v", tt.filter, err, tt.wantErr)
			}
			if len(got) != tt.want {
				t.Errorf("filterWindows(%q) returned %d, want %d", tt.filter, len(got), tt.want)
			}
		})
	}
}

func TestRootCommands(t *testing.T) {
	root := NewRootCmd()
	for _, name := range []string{"run", "list", "folds", "validate", "report", "show", "serve", "runs"} {
		if c, _, err := root.Find([]string{name}); err != nil || c.Name() != name {
			t.Errorf("subcommand %q not registered", name)
		}
	}
}

package main

import (
	"slices"
	"strings"
	"testing"

	"github.com/baalimago/go_away_boilerplate/pkg/testboil"
)

func TestRun(t *testing.T) {
	tests := []struct {
		name         string
		args         []string
		wantContains []string
		wantExitCode int
	}{
		{
			name:         "version",
			args:         []string{"nexusrelay", "version"},
			wantContains: []string{"version:"},
			wantExitCode: 0,
		},
		{
			name:         "help",
			args:         []string{"nexusrelay", "--help"},
			wantContains: []string{"== NexusRelay ==", "Commands:"},
			wantExitCode: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gotCode := -1
			gotOut := testboil.CaptureStdout(t, func(t *testing.T) {
				gotCode = run(tt.args)
			})
			for _, w := range tt.wantContains {
				if !strings.Contains(gotOut, w) {
					t.Fatalf("wanted output to contain: '%v', output: %v", w, gotOut)
				}
			}
			testboil.FailTestIfDiff(t, gotCode, tt.wantExitCode)
		})
	}
}

func TestCommands(t *testing.T) {
	var names []string
	for k := range commands {
		names = append(names, k)
	}
	slices.Sort(names)
	testboil.FailTestIfDiff(t, strings.Join(names, ","), "d|debug,p|probe,r|relay,u|upstream,v|version,w|watch")
}

package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZeroxCorbin/ARCLStream/arcl"
)

func TestHelpOverview(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, printHelp(&buf, ""))
	out := buf.String()

	for _, section := range []string{"Shell Commands:", "Shorthands:", "ARCL Commands"} {
		assert.Contains(t, out, section)
	}
	for name := range dotHelp {
		assert.Contains(t, out, "."+name, "overview should list .%s", name)
	}
	for _, usage := range aliasUsage {
		assert.Contains(t, out, usage)
	}
	for _, info := range arcl.Verbs {
		assert.Contains(t, out, info.Usage)
	}
}

func TestHelpOverviewIsSorted(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, printHelp(&buf, ""))
	out := buf.String()

	dropoff := strings.Index(out, aliasUsage["dropoff"])
	pickup := strings.Index(out, aliasUsage["pickup"])
	assert.Less(t, dropoff, pickup)

	extIOAdd := strings.Index(out, arcl.Verbs["extioadd"].Usage)
	queueShow := strings.Index(out, arcl.Verbs["queueshow"].Usage)
	assert.Less(t, extIOAdd, queueShow)
}

func TestHelpTopics(t *testing.T) {
	tests := []struct {
		topic string
		want  string
	}{
		{"jobs", ".jobs"},
		{".jobs", "queueShow dump"},
		{"CONFIG", ".config <section>"},
		{"quit", "Ctrl-D"},
		{"pickup", "pickup <goal> [priority] [jobID]"},
		{"Dropoff", "Queue a pickup then dropoff job"},
		{"queueMulti", "queueMulti <n> 2"},
		{"extioinputupdate", "Write a set's inputs"},
		{"getConfigSectionValues", "Read a config section"},
	}

	for _, tt := range tests {
		t.Run(tt.topic, func(t *testing.T) {
			var buf bytes.Buffer
			require.NoError(t, printHelp(&buf, tt.topic))
			assert.Contains(t, buf.String(), tt.want)
		})
	}
}

func TestHelpUnknownTopic(t *testing.T) {
	var buf bytes.Buffer
	err := printHelp(&buf, "teleport")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no help for 'teleport'")
	assert.Empty(t, buf.String())
}

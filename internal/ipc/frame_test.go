package ipc

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommand_SimpleRoundTrips(t *testing.T) {
	data, err := json.Marshal(Shutdown())
	require.NoError(t, err)
	assert.Equal(t, `"Shutdown"`, string(data))

	var c Command
	require.NoError(t, json.Unmarshal(data, &c))
	assert.Equal(t, CmdShutdown, c.Simple)
}

func TestCommand_ObjectShapedRoundTrips(t *testing.T) {
	data, err := json.Marshal(StartService("sshd"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"StartService":"sshd"}`, string(data))

	var c Command
	require.NoError(t, json.Unmarshal(data, &c))
	assert.Equal(t, "sshd", c.StartService)
}

func TestRequest_MatchesWireShape(t *testing.T) {
	req := Request{Target: TargetVerdantd, Command: ServiceStatus("sshd")}
	data, err := json.Marshal(req)
	require.NoError(t, err)
	assert.JSONEq(t, `{"target":"Verdantd","command":{"GetServiceStatus":"sshd"}}`, string(data))
}

func TestCommand_UnmarshalRejectsUnknownKey(t *testing.T) {
	var c Command
	err := json.Unmarshal([]byte(`{"RestartService":"sshd"}`), &c)
	assert.Error(t, err)
}

func TestCommand_UnmarshalRejectsMultiKeyObject(t *testing.T) {
	var c Command
	err := json.Unmarshal([]byte(`{"StartService":"a","StopService":"b"}`), &c)
	assert.Error(t, err)
}
